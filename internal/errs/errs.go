// Package errs defines the error-kind taxonomy every forumcast subsystem
// classifies upstream and store failures into, per the kinds a caller must
// branch on rather than merely log.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is one of the closed set of error categories the orchestration core
// reacts to differently. It is a classification, not a Go error type -
// several underlying error values can map to the same Kind.
type Kind string

const (
	// InvalidInput marks malformed refs, empty fields, bad enum values.
	// Never retried; surfaced to the caller as-is.
	InvalidInput Kind = "INVALID_INPUT"
	// Precondition marks a referenced row missing, a job in the wrong
	// status for the requested transition, or no standby available.
	Precondition Kind = "PRECONDITION"
	// ChannelUnavailable marks upstream signalling inaccessible, forbidden,
	// private, admin-required, or invalid for a target channel.
	ChannelUnavailable Kind = "CHANNEL_UNAVAILABLE"
	// FloodWait marks a retry-after-N signal. The gateway absorbs the first
	// one by sleeping and retrying; a second in a row reaches the caller.
	FloodWait Kind = "FLOOD_WAIT"
	// UpstreamFailure marks any other upstream error.
	UpstreamFailure Kind = "UPSTREAM_FAILURE"
	// Stopped marks the cooperative-cancel marker; not an operator-facing
	// error, it ends a job in the stopped state.
	Stopped Kind = "STOPPED"
	// SessionCorrupt marks a detected corrupt session store, triggering an
	// automatic rebuild and a re-login notification.
	SessionCorrupt Kind = "SESSION_CORRUPT"
)

// Error wraps an underlying error with a classification and the operation
// that produced it, so call sites can both log with context and branch on
// Kind without re-parsing error text more than once.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error for the given operation.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err carries the given Kind, anywhere in its chain.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, or "" if err is not a classified *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// channelUnavailableMarkers are substrings of upstream error text that
// identify a dead target channel even when the SDK surfaces a generic error
// type instead of a typed one (§7: "substring matching on the error text for
// SDK variants that raise generic errors with typed names embedded").
var channelUnavailableMarkers = []string{
	"CHANNEL_PRIVATE",
	"CHANNEL_INVALID",
	"CHAT_ADMIN_REQUIRED",
	"USER_NOT_PARTICIPANT",
	"CHANNEL_BANNED",
	"CHAT_WRITE_FORBIDDEN",
}

// sessionCorruptMarkers are substrings identifying a corrupt local session
// store, regardless of which sql driver raised it.
var sessionCorruptMarkers = []string{
	"no such table",
	"file is not a database",
	"malformed",
}

// ClassifyText maps raw upstream error text to a Kind using the
// substring-matching half of §7's detection contract. It never returns
// FloodWait; flood-wait is a typed condition the gateway absorbs before this
// point ever needs consulting, see the gateway's asFloodWait.
func ClassifyText(msg string) Kind {
	upper := strings.ToUpper(msg)
	for _, marker := range channelUnavailableMarkers {
		if strings.Contains(upper, marker) {
			return ChannelUnavailable
		}
	}
	lower := strings.ToLower(msg)
	for _, marker := range sessionCorruptMarkers {
		if strings.Contains(lower, marker) {
			return SessionCorrupt
		}
	}
	return UpstreamFailure
}

// ReasonFor maps a channel-unavailable marker to the user-legible access
// check reason from §4.4.
func ReasonFor(msg string) string {
	upper := strings.ToUpper(msg)
	switch {
	case strings.Contains(upper, "USER_NOT_PARTICIPANT"):
		return "not in channel"
	case strings.Contains(upper, "CHAT_ADMIN_REQUIRED"):
		return "not admin"
	case strings.Contains(upper, "CHANNEL_PRIVATE"):
		return "inaccessible"
	case strings.Contains(upper, "CHANNEL_INVALID"):
		return "ref invalid"
	case strings.Contains(upper, "AUTH_KEY_UNREGISTERED"), strings.Contains(upper, "UNAUTHORIZED"):
		return "actor not logged in"
	default:
		return "unknown error"
	}
}
