package pkg

import (
	"context"
	"errors"
)

var (
	ErrLocationUnavailable = errors.New("location unavailable")
	ErrNoAuthorizedSites   = errors.New("no authorized sites configured")
	ErrInsufficientSamples = errors.New("insufficient calibration samples")
	ErrInvalidAccuracy     = errors.New("invalid accuracy")

	ErrCalibrationInProgress = errors.New("calibration in progress")
	ErrSuperseded            = errors.New("request superseded by a newer one")
	ErrClosed                = errors.New("session closed")
	ErrOffsetTooLarge        = errors.New("calibration offset too large")
	ErrSiteNotFound          = errors.New("site not found")
)

// UserMessage maps an engine error to the text shown in SessionState.Error
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCalibrationInProgress):
		return "Calibrating, try again in a moment"
	case errors.Is(err, ErrLocationUnavailable), errors.Is(err, context.DeadlineExceeded):
		return "Could not get your location. Check that location access is enabled and try again"
	case errors.Is(err, ErrNoAuthorizedSites):
		return "No authorized work sites are configured"
	case errors.Is(err, ErrInsufficientSamples):
		return "Not enough GPS fixes to calibrate. Move closer to a window and try again"
	case errors.Is(err, ErrOffsetTooLarge):
		return "You are too far from any work site to calibrate"
	case errors.Is(err, ErrClosed):
		return "Session closed"
	default:
		return err.Error()
	}
}
