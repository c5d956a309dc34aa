package services

import (
	"errors"
	"testing"
)

func TestWrapClassification(t *testing.T) {
	cases := []struct {
		name      string
		marker    error
		wantKind  ErrorKind
		retriable bool
	}{
		{"transient", ErrTransient, ErrorKindTransient, true},
		{"timeout", ErrTimeout, ErrorKindTimeout, true},
		{"external", ErrExternalTool, ErrorKindExternal, true},
		{"validation", ErrValidation, ErrorKindValidation, false},
		{"configuration", ErrConfiguration, ErrorKindConfiguration, false},
		{"auth expired", ErrAuthExpired, ErrorKindAuthExpired, false},
		{"fatal auth", ErrFatalAuth, ErrorKindFatalAuth, false},
		{"nil marker defaults transient", nil, ErrorKindTransient, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Wrap(tc.marker, "trim", "execute", "boom", errors.New("cause"))
			if got := Kind(err); got != tc.wantKind {
				t.Fatalf("Kind = %q, want %q", got, tc.wantKind)
			}
			if got := IsRetriable(err); got != tc.retriable {
				t.Fatalf("IsRetriable = %v, want %v", got, tc.retriable)
			}
		})
	}
}

func TestDetailsPreservesStageAndCause(t *testing.T) {
	cause := errors.New("socket closed")
	err := Wrap(ErrTransient, "publish", "upload", "connection reset", cause)

	details := Details(err)
	if details.Stage != "publish" {
		t.Fatalf("Stage = %q", details.Stage)
	}
	if details.Operation != "upload" {
		t.Fatalf("Operation = %q", details.Operation)
	}
	if !errors.Is(details.Cause, cause) {
		t.Fatalf("Cause not preserved: %v", details.Cause)
	}
	if details.Message == "" {
		t.Fatal("expected composed message")
	}
}

func TestDetailsPlainError(t *testing.T) {
	details := Details(errors.New("plain"))
	if details.Kind != ErrorKindUnknown {
		t.Fatalf("Kind = %q", details.Kind)
	}
	if details.Message != "plain" {
		t.Fatalf("Message = %q", details.Message)
	}
}

func TestWrapHint(t *testing.T) {
	err := WrapHint(ErrFatalAuth, "publish", "upload", "token rejected", "re-authorize the platform connection", nil)
	if got := Details(err).Hint; got != "re-authorize the platform connection" {
		t.Fatalf("Hint = %q", got)
	}
	if !errors.Is(err, ErrFatalAuth) {
		t.Fatal("marker lost")
	}
}
