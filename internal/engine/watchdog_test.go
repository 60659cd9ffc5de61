package engine

import (
	"context"
	"testing"
	"time"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
)

func TestWatchdogTakeProfitThreshold(t *testing.T) {
	tests := []struct {
		name     string
		entry    float64
		current  float64
		wantExit bool
	}{
		{"well past threshold", 0.40, 0.45, true},
		{"below threshold", 0.40, 0.43, false},
		{"exactly at threshold", 0.50, 0.55, true},
		{"price dropped", 0.40, 0.30, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter := newFakeAdapter()
			adapter.setPrice(tt.current)
			w := NewWatchdog(adapter, nil, discardLogger())

			pos := mkPos("m1", "Yes", tt.entry, 100, time.Now())
			exits, resolved := w.Inspect(context.Background(), []domain.Position{pos}, 0.10)

			if len(resolved) != 0 {
				t.Fatalf("unexpected resolved positions: %d", len(resolved))
			}
			if got := len(exits) == 1; got != tt.wantExit {
				t.Fatalf("exit = %v, want %v", got, tt.wantExit)
			}
			if tt.wantExit && exits[0].Price != tt.current {
				t.Errorf("exit price = %v, want %v", exits[0].Price, tt.current)
			}
		})
	}
}

func TestWatchdogDisabledThresholdStillDetectsResolution(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.setPrice(0.99)
	w := NewWatchdog(adapter, nil, discardLogger())

	open := mkPos("m1", "Yes", 0.40, 100, time.Now())
	done := mkPos("m2", "Yes", 0.40, 100, time.Now())
	done.Meta.Resolved = true

	exits, resolved := w.Inspect(context.Background(), []domain.Position{open, done}, 0)

	if len(exits) != 0 {
		t.Errorf("threshold 0 must not produce exits, got %d", len(exits))
	}
	if len(resolved) != 1 || resolved[0].MarketID != "m2" {
		t.Fatalf("resolved = %v, want just m2", resolved)
	}
}

func TestWatchdogSkipsBrokenPriceFeed(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.setPrice(0) // treated as no usable price
	w := NewWatchdog(adapter, nil, discardLogger())

	pos := mkPos("m1", "Yes", 0.40, 100, time.Now())
	exits, resolved := w.Inspect(context.Background(), []domain.Position{pos}, 0.10)

	if len(exits) != 0 || len(resolved) != 0 {
		t.Errorf("unusable price must not trigger anything, exits=%d resolved=%d", len(exits), len(resolved))
	}
}
