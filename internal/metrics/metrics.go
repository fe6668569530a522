// Package metrics holds the Prometheus collectors of the marketplace.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rl1809/escrow-market/internal/core/domain"
)

const namespace = "escrow_market"

var (
	Listings = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "listings_total",
		Help:      "Listing attempts by result.",
	}, []string{"result"})

	Purchases = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "purchases_total",
		Help:      "Purchase attempts by result.",
	}, []string{"result"})

	Withdrawals = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "withdrawals_total",
		Help:      "Withdrawal attempts by result.",
	}, []string{"result"})

	WithdrawnAmount = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "withdrawn_amount_total",
		Help:      "Sum of proceeds paid out, in the smallest currency unit.",
	})

	EventDeliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "event_deliveries_total",
		Help:      "Notification deliveries by sink and result.",
	}, []string{"sink", "result"})

	EventDeliveryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "event_delivery_seconds",
		Help:      "Time spent delivering a notification to a sink.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"sink"})
)

// Register adds every collector to reg. Collectors already registered are skipped.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		Listings, Purchases, Withdrawals, WithdrawnAmount, EventDeliveries, EventDeliveryDuration,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}

var resultLabels = []struct {
	err   error
	label string
}{
	{domain.ErrInvalidPrice, "invalid_price"},
	{domain.ErrInvalidName, "invalid_name"},
	{domain.ErrInvalidAddress, "invalid_address"},
	{domain.ErrNotFound, "not_found"},
	{domain.ErrNotSold, "not_sold"},
	{domain.ErrAlreadySold, "already_sold"},
	{domain.ErrSelfPurchase, "self_purchase"},
	{domain.ErrPaymentMismatch, "payment_mismatch"},
	{domain.ErrNothingToWithdraw, "nothing_to_withdraw"},
	{domain.ErrReentrant, "reentrant"},
	{domain.ErrWithdrawFailed, "withdraw_failed"},
	{domain.ErrDuplicateRequest, "duplicate_request"},
	{domain.ErrBalanceOverflow, "balance_overflow"},
}

// Result maps an operation outcome to a low-cardinality label value.
func Result(err error) string {
	if err == nil {
		return "ok"
	}
	for _, r := range resultLabels {
		if errors.Is(err, r.err) {
			return r.label
		}
	}
	return "error"
}
