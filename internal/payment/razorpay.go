package payment

import (
	"context"
	"errors"
	"fmt"

	"labreserve/internal/config"
	"labreserve/internal/models"

	"github.com/razorpay/razorpay-go"
	"github.com/rs/zerolog"
)

// razorpayAPI is the part of the Razorpay SDK the provider calls.
type razorpayAPI interface {
	CreateOrder(data map[string]interface{}) (map[string]interface{}, error)
	Refund(paymentID string, amount int, data map[string]interface{}) (map[string]interface{}, error)
}

type sdkClient struct {
	client *razorpay.Client
}

func (c sdkClient) CreateOrder(data map[string]interface{}) (map[string]interface{}, error) {
	return c.client.Order.Create(data, nil)
}

func (c sdkClient) Refund(paymentID string, amount int, data map[string]interface{}) (map[string]interface{}, error) {
	return c.client.Payment.Refund(paymentID, amount, data, nil)
}

// RazorpayProvider maps intents to Razorpay orders. The payment reference
// reported on confirmation is the Razorpay payment id used for refunds.
type RazorpayProvider struct {
	api      razorpayAPI
	currency string
	logger   *zerolog.Logger
}

func NewRazorpayProvider(cfg config.RazorpayConfig, currency string, logger *zerolog.Logger) *RazorpayProvider {
	return newRazorpayProvider(sdkClient{client: razorpay.NewClient(cfg.KeyID, cfg.KeySecret)}, currency, logger)
}

func newRazorpayProvider(api razorpayAPI, currency string, logger *zerolog.Logger) *RazorpayProvider {
	if currency == "" {
		currency = models.DefaultCurrency
	}
	return &RazorpayProvider{api: api, currency: currency, logger: logger}
}

func (p *RazorpayProvider) Name() string { return "razorpay" }

func (p *RazorpayProvider) CreateIntent(ctx context.Context, b *models.Booking) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	order, err := p.api.CreateOrder(map[string]interface{}{
		"amount":   b.PaymentAmount,
		"currency": p.currency,
		"receipt":  b.ID,
		"notes": map[string]interface{}{
			"booking_id": b.ID,
			"lab_id":     b.LabID,
		},
	})
	if err != nil {
		return "", fmt.Errorf("create razorpay order: %w", err)
	}

	id, ok := order["id"].(string)
	if !ok || id == "" {
		return "", errors.New("razorpay order response has no id")
	}
	p.logger.Info().Str("order_id", id).Str("booking_id", b.ID).Msg("Razorpay order created")
	return id, nil
}

func (p *RazorpayProvider) Refund(ctx context.Context, b *models.Booking) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.PaymentReference == "" {
		return fmt.Errorf("booking %s has no razorpay payment id", b.ID)
	}
	refund, err := p.api.Refund(b.PaymentReference, int(b.PaymentAmount), map[string]interface{}{
		"receipt": b.ID,
	})
	if err != nil {
		return fmt.Errorf("refund razorpay payment %s: %w", b.PaymentReference, err)
	}
	p.logger.Info().Interface("refund_id", refund["id"]).Str("booking_id", b.ID).Msg("Razorpay refund created")
	return nil
}
