// Package ingesterr defines the error taxonomy shared by the ingestion
// pipeline: validation, decode, broker, database, and channel failures,
// plus the retry classification that the consumer uses to decide
// whether a failure is worth another attempt. The batch writer does not
// consult it: its outer budget retries every insert error.
package ingesterr

import (
	"errors"
	"fmt"
)

// Kind identifies which branch of the taxonomy an error belongs to.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindJSON
	KindMqtt
	KindDatabaseTransient
	KindDatabasePermanent
	KindIO
	KindMigration
	KindChannelSend
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindJSON:
		return "json"
	case KindMqtt:
		return "mqtt"
	case KindDatabaseTransient:
		return "database_transient"
	case KindDatabasePermanent:
		return "database_permanent"
	case KindIO:
		return "io"
	case KindMigration:
		return "migration"
	case KindChannelSend:
		return "channel_send"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with its taxonomy Kind.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// ErrChannelClosed is returned by the handoff channel when the sender
// side has already been torn down.
var ErrChannelClosed = errors.New("handoff channel closed")

// ErrChannelFull is returned by a non-blocking send when the channel
// has no spare capacity.
var ErrChannelFull = errors.New("handoff channel full")

// IsRetryable implements spec's retryable set: exactly {ChannelSend,
// transient storage error}. Everything else — validation, JSON, MQTT
// protocol, IO, migration, permanent database errors — is terminal for
// the caller's own retry loop.
func IsRetryable(err error) bool {
	var te *Error
	if !errors.As(err, &te) {
		return false
	}
	switch te.Kind {
	case KindChannelSend, KindDatabaseTransient:
		return true
	default:
		return false
	}
}

// KindOf extracts the taxonomy Kind from err, or KindUnknown if err was
// not produced by this package.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindUnknown
}
