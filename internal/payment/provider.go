package payment

import (
	"fmt"

	"labreserve/internal/config"
	"labreserve/internal/domain"

	"github.com/rs/zerolog"
)

// NewProvider builds the configured payment provider.
func NewProvider(cfg config.PaymentConfig, currency string, logger *zerolog.Logger) (domain.PaymentProvider, error) {
	switch cfg.Provider {
	case "", "local":
		return NewLocalProvider(logger), nil
	case "razorpay":
		return NewRazorpayProvider(cfg.Razorpay, currency, logger), nil
	default:
		return nil, fmt.Errorf("unknown payment provider %q", cfg.Provider)
	}
}
