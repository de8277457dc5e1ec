package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransitionTo(t *testing.T) {
	cases := []struct {
		from    string
		to      string
		allowed bool
	}{
		{OrderStatusNotStart, OrderStatusPending, true},
		{OrderStatusNotStart, OrderStatusSkipped, true},
		{OrderStatusPending, OrderStatusCompleted, true},
		{OrderStatusPending, OrderStatusSkipped, true},

		// 不允许跨级和回退
		{OrderStatusNotStart, OrderStatusCompleted, false},
		{OrderStatusPending, OrderStatusNotStart, false},
		{OrderStatusCompleted, OrderStatusPending, false},
		{OrderStatusCompleted, OrderStatusSkipped, false},
		{OrderStatusSkipped, OrderStatusPending, false},
		{OrderStatusSkipped, OrderStatusCompleted, false},
		{"UNKNOWN", OrderStatusPending, false},
	}

	for _, c := range cases {
		assert.Equal(t, c.allowed, CanTransitionTo(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

func TestCommissionAmount(t *testing.T) {
	order := &Order{Amount: 50, Commission: 10}
	assert.InDelta(t, 5.0, order.CommissionAmount(), 0.0001)

	zero := &Order{Amount: 100, Commission: 0}
	assert.Zero(t, zero.CommissionAmount())
}
