// Package location acquires validated position fixes from an injected
// device-location capability. Platform adapters (web, mobile, desktop)
// implement Provider; the workflow only depends on the interface.
package location

import (
	"context"
	"errors"
	"time"
)

// Options control a single position acquisition.
type Options struct {
	// HighAccuracy requests the most precise fix the platform can produce.
	HighAccuracy bool

	// Timeout is the maximum time to wait for a fix.
	Timeout time.Duration

	// MaxAge is the oldest cached platform fix the provider may return.
	// Zero means only a fresh fix is acceptable.
	MaxAge time.Duration
}

// DefaultOptions returns the acquisition options used when none are configured.
func DefaultOptions() Options {
	return Options{
		HighAccuracy: true,
		Timeout:      15 * time.Second,
		MaxAge:       0,
	}
}

// Fix is a single validated position fix. A Fix is immutable once captured;
// every check-in/out attempt acquires a fresh one.
type Fix struct {
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	AccuracyMeters float64   `json:"accuracy_meters"`
	CapturedAt     time.Time `json:"captured_at"`
}

// Provider is the device-location capability. Acquire produces exactly one
// fix per call (no streaming) or a coded *Error. Implementations must not
// return a fix with negative accuracy.
type Provider interface {
	Acquire(ctx context.Context, opts Options) (*Fix, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context, opts Options) (*Fix, error)

// Acquire calls f.
func (f ProviderFunc) Acquire(ctx context.Context, opts Options) (*Fix, error) {
	return f(ctx, opts)
}

// Code identifies why a position acquisition failed. Callers branch on the
// code to decide whether to offer a retry affordance.
type Code string

// Acquisition failure codes, mapped from the platform's error codes.
const (
	CodeUnsupported      Code = "unsupported"
	CodePermissionDenied Code = "permission_denied"
	CodeUnavailable      Code = "unavailable"
	CodeTimeout          Code = "timeout"
)

// userMessages maps each code to a distinct user-facing message. This mapping
// is part of the contract: the UI shows these verbatim.
var userMessages = map[Code]string{
	CodeUnsupported:      "Location is not supported on this device.",
	CodePermissionDenied: "Location permission was denied. Enable location access and try again.",
	CodeUnavailable:      "Your position could not be determined. Move to an open area and try again.",
	CodeTimeout:          "Timed out waiting for a position fix. Try again.",
}

// Error is a coded location acquisition failure.
type Error struct {
	Code Code
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Code) + ": " + e.Err.Error()
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// UserMessage returns the user-facing message for the error's code.
func (e *Error) UserMessage() string {
	if msg, ok := userMessages[e.Code]; ok {
		return msg
	}
	return userMessages[CodeUnavailable]
}

// NewError wraps err with a location failure code.
func NewError(code Code, err error) error {
	return &Error{Code: code, Err: err}
}

// CodeOf extracts the failure code from err, or "" if err is not a
// location error.
func CodeOf(err error) Code {
	var le *Error
	if errors.As(err, &le) {
		return le.Code
	}
	return ""
}

// IsPermissionDenied reports whether err is a permission failure.
func IsPermissionDenied(err error) bool {
	return CodeOf(err) == CodePermissionDenied
}

// IsTimeout reports whether err is an acquisition timeout.
func IsTimeout(err error) bool {
	return CodeOf(err) == CodeTimeout
}

// Retryable reports whether a retry affordance should be offered for err.
// Everything except a missing platform capability is worth retrying.
func Retryable(err error) bool {
	code := CodeOf(err)
	return code != "" && code != CodeUnsupported
}

// Class grades a fix's accuracy for UI warnings. A poor fix is still valid
// to submit; classification never blocks the workflow.
type Class string

// Accuracy classes.
const (
	ClassGood Class = "good"
	ClassFair Class = "fair"
	ClassPoor Class = "poor"
)

// ClassifyAccuracy grades an accuracy radius in meters.
func ClassifyAccuracy(accuracyMeters float64) Class {
	switch {
	case accuracyMeters <= 10:
		return ClassGood
	case accuracyMeters <= 50:
		return ClassFair
	default:
		return ClassPoor
	}
}
