package stakemail

import (
	"context"
	"testing"
)

func TestStaticHost(t *testing.T) {
	h := NewStaticHost(bal(2))

	cost, err := h.StorageByteCost(context.Background())
	if err != nil || cost != bal(2) {
		t.Errorf("expected cost 2, got %s, %v", cost, err)
	}
	h.SetByteCost(bal(9))
	if cost, _ := h.StorageByteCost(context.Background()); cost != bal(9) {
		t.Errorf("expected cost 9, got %s", cost)
	}

	if h.Now() == 0 {
		t.Error("expected wall-clock time")
	}
	h.SetClock(func() uint64 { return 5 })
	if h.Now() != 5 {
		t.Errorf("expected 5, got %d", h.Now())
	}
	h.SetClock(nil)
	if h.Now() == 5 {
		t.Error("expected wall-clock time after reset")
	}
}
