// Package responsibility turns coverage cost-sharing into a patient
// responsibility amount and the memo text posted with it.
package responsibility

import (
	"errors"
	"math"
)

// DefaultReferenceChargeCents is the charge coinsurance is applied to ($400).
const DefaultReferenceChargeCents int64 = 40000

// ErrUnresolved means neither copay nor coinsurance data was available.
// The amount in that case is not a real $0 and must not be posted as one.
var ErrUnresolved = errors.New("responsibility: no copay or coinsurance data")

// Basis names the rule that produced an amount.
type Basis string

const (
	BasisMedicaid    Basis = "medicaid"
	BasisCopay       Basis = "copay"
	BasisCoinsurance Basis = "coinsurance"
	BasisUnresolved  Basis = "unresolved"
)

// Input is the cost-sharing data for one insurance record.
type Input struct {
	Medicaid        bool
	CopayCents      *int64
	CoinsuranceRate *float64 // fraction, 0.20 for 20%
}

// Result is the computed responsibility.
type Result struct {
	AmountCents     int64
	Basis           Basis
	CoinsuranceRate float64 // Set when Basis is coinsurance
}

// Calculator applies the Medicaid, copay, coinsurance precedence.
type Calculator struct {
	referenceChargeCents int64
}

// NewCalculator returns a calculator using the given reference charge.
// A negative charge falls back to the default.
func NewCalculator(referenceChargeCents int64) Calculator {
	if referenceChargeCents < 0 {
		referenceChargeCents = DefaultReferenceChargeCents
	}
	return Calculator{referenceChargeCents: referenceChargeCents}
}

// ReferenceChargeCents returns the charge coinsurance is applied to.
func (c Calculator) ReferenceChargeCents() int64 {
	return c.referenceChargeCents
}

// Calculate is pure: identical input always yields identical output.
func (c Calculator) Calculate(in Input) (Result, error) {
	if in.Medicaid {
		return Result{AmountCents: 0, Basis: BasisMedicaid}, nil
	}
	if in.CopayCents != nil && *in.CopayCents > 0 {
		return Result{AmountCents: *in.CopayCents, Basis: BasisCopay}, nil
	}
	if in.CoinsuranceRate != nil && *in.CoinsuranceRate >= 0 && !math.IsNaN(*in.CoinsuranceRate) {
		rate := *in.CoinsuranceRate
		amount := int64(math.Round(rate * float64(c.referenceChargeCents)))
		return Result{AmountCents: amount, Basis: BasisCoinsurance, CoinsuranceRate: rate}, nil
	}
	return Result{AmountCents: 0, Basis: BasisUnresolved}, ErrUnresolved
}
