// Package pricing computes booking amounts from a trip's deposit policy.
// All amounts are minor currency units.
package pricing

import (
	"fmt"

	"roadbook/internal/domain"
	"roadbook/internal/models"
)

type Quote struct {
	Total     int64 `json:"total_amount"`
	Deposit   int64 `json:"deposit_amount"`
	Remaining int64 `json:"remaining_amount"`
}

// Compute returns total, deposit and remaining for a party.
// Percentage deposits round half up to the nearest minor unit.
func Compute(pricePerPerson int64, partySize int, policy models.DepositPolicy) (Quote, error) {
	if pricePerPerson < 0 {
		return Quote{}, fmt.Errorf("%w: negative price %d", domain.ErrInvalidPricingPolicy, pricePerPerson)
	}
	if partySize < 1 {
		return Quote{}, fmt.Errorf("%w: party size must be at least 1", domain.ErrInvalidRequest)
	}
	if policy.Value < 0 {
		return Quote{}, fmt.Errorf("%w: negative deposit value %d", domain.ErrInvalidPricingPolicy, policy.Value)
	}

	total := pricePerPerson * int64(partySize)

	var deposit int64
	switch policy.Type {
	case models.DepositFixedTotal:
		deposit = policy.Value
	case models.DepositFixedPerPerson:
		deposit = policy.Value * int64(partySize)
	case models.DepositPercentage:
		if policy.Value > 100 {
			return Quote{}, fmt.Errorf("%w: percentage %d above 100", domain.ErrInvalidPricingPolicy, policy.Value)
		}
		deposit = (total*policy.Value + 50) / 100
	default:
		return Quote{}, fmt.Errorf("%w: unknown deposit type %q", domain.ErrInvalidPricingPolicy, policy.Type)
	}

	if deposit > total {
		return Quote{}, fmt.Errorf("%w: deposit %d exceeds total %d", domain.ErrInvalidPricingPolicy, deposit, total)
	}

	return Quote{Total: total, Deposit: deposit, Remaining: total - deposit}, nil
}

// QuantityToPay is the number of seats charged at checkout time.
// A group leader paying only for themselves is charged one seat; the booking total is unaffected.
func QuantityToPay(bookingType, paymentMode string, partySize int) int {
	switch bookingType {
	case models.BookingTypeJoinGroup:
		return 1
	case models.BookingTypeGroupLeader:
		if paymentMode == models.PaymentModeAll {
			return partySize
		}
		return 1
	default:
		return partySize
	}
}
