package types

import "testing"

func TestTickSizeDecimals(t *testing.T) {
	t.Parallel()

	tests := []struct {
		tick TickSize
		want int
	}{
		{Tick01, 1},
		{Tick001, 2},
		{Tick0001, 3},
		{Tick00001, 4},
		{TickSize("unknown"), 2}, // default
	}

	for _, tt := range tests {
		if got := tt.tick.Decimals(); got != tt.want {
			t.Errorf("TickSize(%q).Decimals() = %d, want %d", tt.tick, got, tt.want)
		}
	}
}

func TestTickSizeAmountDecimals(t *testing.T) {
	t.Parallel()

	tests := []struct {
		tick TickSize
		want int
	}{
		{Tick01, 3},
		{Tick001, 4},
		{Tick0001, 5},
		{Tick00001, 6},
		{TickSize("unknown"), 4}, // default
	}

	for _, tt := range tests {
		if got := tt.tick.AmountDecimals(); got != tt.want {
			t.Errorf("TickSize(%q).AmountDecimals() = %d, want %d", tt.tick, got, tt.want)
		}
	}
}

func TestOrderStatusIsTerminal(t *testing.T) {
	t.Parallel()

	terminal := []OrderStatus{StatusFilled, StatusCancelled, StatusRejected}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%q should be terminal", s)
		}
	}

	nonTerminal := []OrderStatus{StatusPending, StatusOpen, StatusPartial}
	for _, s := range nonTerminal {
		if s.IsTerminal() {
			t.Errorf("%q should not be terminal", s)
		}
	}
}

func TestLiveOrderKey(t *testing.T) {
	t.Parallel()

	o := &LiveOrder{ConditionID: "c1", TokenID: "t1", Side: BUY}
	want := LiveOrderKey{ConditionID: "c1", TokenID: "t1", Side: BUY}
	if got := o.Key(); got != want {
		t.Errorf("Key() = %+v, want %+v", got, want)
	}
}
