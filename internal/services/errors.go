package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConnection marks remote-signer handshake failures (malformed ack,
	// signaling channel errors).
	ErrConnection = errors.New("connection error")
	// ErrSigning marks remote signing requests that timed out or were
	// rejected after retries were exhausted.
	ErrSigning = errors.New("signing failed")
	// ErrUpload marks media fetch or storage-host failures.
	ErrUpload = errors.New("upload failed")
	// ErrPublish marks relay publishes that reached no quorum.
	ErrPublish = errors.New("publish quorum failed")
	// ErrChannelClosed marks operations against a torn-down session.
	ErrChannelClosed = errors.New("channel closed")
	ErrConfiguration = errors.New("configuration error")
	ErrValidation    = errors.New("validation error")
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrValidation
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsRunFatal reports whether an error should abort the whole migration run
// rather than fail a single item. Only a broken signing identity qualifies:
// without it no item can make progress.
func IsRunFatal(err error) bool {
	return errors.Is(err, ErrConnection) || errors.Is(err, ErrChannelClosed)
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
