package service

import (
	"context"
	"fmt"
	"time"

	"labreserve/internal/config"
	"labreserve/internal/models"
)

// HourlyPricing charges billable users per started minute at an hourly
// rate. The lab's own rate wins over configured per-lab rates, which win
// over the default.
type HourlyPricing struct {
	defaultRate int64
	labRates    map[string]int64
}

func NewHourlyPricing(cfg config.PricingConfig) *HourlyPricing {
	rate := cfg.DefaultHourlyRate
	if rate <= 0 {
		rate = models.DefaultHourlyRate
	}
	rates := make(map[string]int64, len(cfg.LabRates))
	for id, r := range cfg.LabRates {
		rates[id] = r
	}
	return &HourlyPricing{defaultRate: rate, labRates: rates}
}

func (p *HourlyPricing) Quote(_ context.Context, lab *models.Lab, user *models.User, _ time.Time, start, end models.TimeOfDay) (int64, error) {
	if !user.IsBillable() {
		return 0, nil
	}
	if start >= end {
		return 0, fmt.Errorf("cannot price empty range %s-%s", start, end)
	}

	rate := p.defaultRate
	if r, ok := p.labRates[lab.ID]; ok {
		rate = r
	}
	if lab.HourlyRate > 0 {
		rate = lab.HourlyRate
	}

	minutes := int64(end - start)
	return (rate*minutes + 59) / 60, nil
}

// FormatAmount renders minor units as "150.00 USD".
func FormatAmount(amount int64, currency string) string {
	return fmt.Sprintf("%d.%02d %s", amount/100, amount%100, currency)
}
