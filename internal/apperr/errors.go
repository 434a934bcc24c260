// Package apperr defines the error kinds surfaced by the audio core and maps
// them to messages the presentation layer can show to a user.
package apperr

import (
	"errors"
	"fmt"
)

// Code identifies an error kind.
type Code string

const (
	// CodeNetworkFailure is a transient failure talking to the backend.
	CodeNetworkFailure Code = "NETWORK_FAILURE"
	// CodeVoiceNotFound means a voice id is not in the catalog.
	CodeVoiceNotFound Code = "VOICE_NOT_FOUND"
	// CodeBuildFailed means the backend could not render the audio.
	CodeBuildFailed Code = "BUILD_FAILED"
	// CodeDecodeFailure means the backend answered with something malformed.
	CodeDecodeFailure Code = "DECODE_FAILURE"
	// CodePlaybackFailure means the audio device or the audio data failed.
	CodePlaybackFailure Code = "PLAYBACK_FAILURE"
)

// Sentinels for errors.Is. Any *Error with the same Code matches.
var (
	ErrNetworkFailure  = &Error{Code: CodeNetworkFailure, Message: "network failure"}
	ErrVoiceNotFound   = &Error{Code: CodeVoiceNotFound, Message: "voice not found"}
	ErrBuildFailed     = &Error{Code: CodeBuildFailed, Message: "audio generation failed"}
	ErrDecodeFailure   = &Error{Code: CodeDecodeFailure, Message: "malformed server response"}
	ErrPlaybackFailure = &Error{Code: CodePlaybackFailure, Message: "playback failed"}
)

// Error is an audio core error with a kind and optional cause.
type Error struct {
	Code    Code
	Message string
	Cause   error
	Context map[string]interface{}
}

// New creates an error of the given kind.
func New(code Code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// Newf is New with a formatted message and no cause.
func Newf(code Code, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// WithContext adds context to the error.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// IsRetryable returns true if the caller may retry the operation.
// Decode failures are retried like network failures.
func (e *Error) IsRetryable() bool {
	switch e.Code {
	case CodeNetworkFailure, CodeDecodeFailure:
		return true
	default:
		return false
	}
}

// CodeOf returns the kind of err, or "" when err is not an audio core error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsRetryable reports whether err is a retryable audio core error.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.IsRetryable()
	}
	return false
}

// UserMessage turns any error into a sentence fit for the presentation layer.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	switch CodeOf(err) {
	case CodeNetworkFailure, CodeDecodeFailure:
		return "Couldn't reach the prayer server. Please try again."
	case CodeVoiceNotFound:
		return "That voice is no longer available. Please pick another one."
	case CodeBuildFailed:
		return "We couldn't create audio for this prayer. Please try again later."
	case CodePlaybackFailure:
		return "Audio playback failed."
	default:
		return "Something went wrong."
	}
}
