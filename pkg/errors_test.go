package pkg

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"wrapped unavailable", fmt.Errorf("acquire: %w", ErrLocationUnavailable), "Could not get your location. Check that location access is enabled and try again"},
		{"deadline", context.DeadlineExceeded, "Could not get your location. Check that location access is enabled and try again"},
		{"calibrating", ErrCalibrationInProgress, "Calibrating, try again in a moment"},
		{"insufficient", fmt.Errorf("got 3 of 5: %w", ErrInsufficientSamples), "Not enough GPS fixes to calibrate. Move closer to a window and try again"},
		{"other", errors.New("boom"), "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := UserMessage(tt.err); got != tt.want {
				t.Errorf("UserMessage() = %q; want %q", got, tt.want)
			}
		})
	}
}

func TestQualityTierString(t *testing.T) {
	tiers := map[QualityTier]string{
		TierExcellent: "EXCELLENT",
		TierGood:      "GOOD",
		TierFair:      "FAIR",
		TierPoor:      "POOR",
	}
	for tier, want := range tiers {
		if tier.String() != want {
			t.Errorf("%d.String() = %q; want %q", tier, tier.String(), want)
		}
	}
}
