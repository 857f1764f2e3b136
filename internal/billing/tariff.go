// Package billing maps a parked duration to the amount due on exit.
package billing

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

const (
	// DefaultGracePeriodMinutes is the free parking window.
	DefaultGracePeriodMinutes = 10

	// minutesPerBillableHour is the size of one billable unit.
	minutesPerBillableHour = 60
)

var (
	// DefaultUnitRate is charged per started billable hour.
	DefaultUnitRate = decimal.RequireFromString("2.00")

	// DefaultDailyCap is the most a single session is charged.
	DefaultDailyCap = decimal.RequireFromString("10.00")
)

// Tariff holds the pricing constants. The zero value is not usable; see
// DefaultTariff or NewTariff.
type Tariff struct {
	GracePeriodMinutes float64
	UnitRate           decimal.Decimal
	DailyCap           decimal.Decimal
}

// DefaultTariff returns the standard 10 minute grace, 2.00 per hour, 10.00 cap tariff.
func DefaultTariff() Tariff {
	return Tariff{
		GracePeriodMinutes: DefaultGracePeriodMinutes,
		UnitRate:           DefaultUnitRate,
		DailyCap:           DefaultDailyCap,
	}
}

// NewTariff builds a tariff from configuration values.
func NewTariff(graceMinutes, unitRate, dailyCap float64) (Tariff, error) {
	if graceMinutes < 0 {
		return Tariff{}, fmt.Errorf("grace period cannot be negative: %v", graceMinutes)
	}
	if unitRate <= 0 {
		return Tariff{}, fmt.Errorf("unit rate must be positive: %v", unitRate)
	}
	if dailyCap < unitRate {
		return Tariff{}, fmt.Errorf("daily cap %v is below the unit rate %v", dailyCap, unitRate)
	}

	return Tariff{
		GracePeriodMinutes: graceMinutes,
		UnitRate:           decimal.NewFromFloat(unitRate),
		DailyCap:           decimal.NewFromFloat(dailyCap),
	}, nil
}

// Fee returns the amount due for a stay of durationMinutes, rounded to two
// decimal places. Stays inside the grace period are free; after that every
// started hour is charged at UnitRate, up to DailyCap. Negative durations can
// only come from clock skew and are billed as zero.
func (t Tariff) Fee(durationMinutes float64) decimal.Decimal {
	if durationMinutes <= t.GracePeriodMinutes || math.IsNaN(durationMinutes) {
		return decimal.Zero.Round(2)
	}

	billableHours := math.Ceil(durationMinutes / minutesPerBillableHour)
	amount := t.UnitRate.Mul(decimal.NewFromFloat(billableHours))
	if amount.GreaterThan(t.DailyCap) {
		amount = t.DailyCap
	}

	return amount.Round(2)
}

// FeeFloat is Fee converted for persistence.
func (t Tariff) FeeFloat(durationMinutes float64) float64 {
	return t.Fee(durationMinutes).InexactFloat64()
}

// String renders the tariff for logs.
func (t Tariff) String() string {
	return fmt.Sprintf("grace=%gm rate=%s/h cap=%s", t.GracePeriodMinutes, t.UnitRate.StringFixed(2), t.DailyCap.StringFixed(2))
}
