package orders

import (
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewReference(t *testing.T) {
	now := time.Unix(1735689600, 0)
	ref := newReference(now)
	assert.Equal(t, "ORD-1735689600", ref)

	t.Run("parses_back_to_epoch_seconds", func(t *testing.T) {
		raw := strings.TrimPrefix(ref, "ORD-")
		secs, err := strconv.ParseInt(raw, 10, 64)
		require.NoError(t, err)
		assert.Equal(t, now.Unix(), secs)
	})
}

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		name        string
		from        string
		to          string
		expectError bool
	}{
		{name: "received_to_confirmed", from: StatusReceived, to: StatusConfirmed},
		{name: "received_to_cancelled", from: StatusReceived, to: StatusCancelled},
		{name: "confirmed_to_fulfilled", from: StatusConfirmed, to: StatusFulfilled},
		{name: "confirmed_to_cancelled", from: StatusConfirmed, to: StatusCancelled},
		{name: "received_to_fulfilled_skips_confirmation", from: StatusReceived, to: StatusFulfilled, expectError: true},
		{name: "fulfilled_is_terminal", from: StatusFulfilled, to: StatusCancelled, expectError: true},
		{name: "cancelled_is_terminal", from: StatusCancelled, to: StatusConfirmed, expectError: true},
		{name: "unknown_current_status", from: "shipped", to: StatusFulfilled, expectError: true},
		{name: "no_self_transition", from: StatusReceived, to: StatusReceived, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateTransition(tt.from, tt.to)
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestOrderItemSubtotals(t *testing.T) {
	items := []Item{
		{ItemID: "itm-pb", Name: "Peanut Butter", PriceCents: 499, Quantity: 1},
		{ItemID: "itm-bread", Name: "Whole Wheat Bread", PriceCents: 329, Quantity: 2},
	}

	var total int64
	for i := range items {
		items[i].SubtotalCents = items[i].PriceCents * int64(items[i].Quantity)
		total += items[i].SubtotalCents
	}

	assert.Equal(t, int64(499), items[0].SubtotalCents)
	assert.Equal(t, int64(658), items[1].SubtotalCents)
	assert.Equal(t, int64(1157), total)
}
