// Package progress derives order completion percentages and the refund
// amounts that depend on them.
package progress

import (
	"math"

	"scribeworks/pkg/domain"
)

// CancelCutoffPercent is the completion level at or beyond which an order can
// no longer be cancelled or refunded.
const CancelCutoffPercent = 60

// statusPercent maps each pipeline state to its completion share. The values
// are chosen so that the submitted-for-approval boundary sits exactly on the
// cancellation cutoff.
var statusPercent = map[domain.OrderStatus]int{
	domain.OrderProcessing:           10,
	domain.OrderTranscribed:          25,
	domain.OrderFormatted:            25,
	domain.OrderQCAssigned:           40,
	domain.OrderReviewerAssigned:     40,
	domain.OrderBlocked:              40,
	domain.OrderSubmittedForApproval: 60,
	domain.OrderCompleted:            75,
	domain.OrderPreDelivered:         85,
	domain.OrderFinalizerAssigned:    90,
	domain.OrderDelivered:            100,
}

// Percent returns the 0..100 completion percentage for an order. For
// cancelled and refunded orders progress is indeterminate and the operation
// fails closed.
func Percent(order domain.Order) (int, error) {
	p, ok := statusPercent[order.Status]
	if !ok {
		return 0, domain.ErrInvalidTransition
	}
	return p, nil
}

// Cancellable reports whether the order may still be cancelled or refunded.
func Cancellable(order domain.Order) (bool, error) {
	p, err := Percent(order)
	if err != nil {
		return false, err
	}
	return p < CancelCutoffPercent, nil
}

// RefundAmount computes the payout for a cancellation at the given progress:
// the unearned share of the total paid, rounded to cents.
func RefundAmount(totalPaid float64, percent int) float64 {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	amount := totalPaid * (1 - float64(percent)/100)
	return math.Round(amount*100) / 100
}
