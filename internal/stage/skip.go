package stage

import "errors"

// skipError signals that a stage was intentionally bypassed by the
// item's effective configuration. The manager records the stage as
// skipped and advances the item normally.
type skipError struct {
	reason string
}

func (s *skipError) Error() string { return "stage skipped: " + s.reason }

// Skip builds the bypass signal with a human-readable reason.
func Skip(reason string) error {
	return &skipError{reason: reason}
}

// IsSkip reports whether err is a bypass signal and returns its reason.
func IsSkip(err error) (string, bool) {
	var skip *skipError
	if errors.As(err, &skip) {
		return skip.reason, true
	}
	return "", false
}
