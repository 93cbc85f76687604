package models

import "errors"

// ErrorKind is the closed taxonomy surfaced on the wire and on failed job
// records. Kinds map to HTTP statuses at the request surface only.
type ErrorKind string

const (
	ErrKindNotFound         ErrorKind = "not_found"
	ErrKindInvalidConfig    ErrorKind = "invalid_config"
	ErrKindUnknownTrainer   ErrorKind = "unknown_trainer"
	ErrKindCapacity         ErrorKind = "capacity"
	ErrKindTerminal         ErrorKind = "terminal"
	ErrKindAuthInsufficient ErrorKind = "auth_insufficient"
	ErrKindUnauthenticated  ErrorKind = "unauthenticated"
	ErrKindCancelTimeout    ErrorKind = "cancel_timeout"
	ErrKindTimeout          ErrorKind = "timeout"
	ErrKindSlowConsumer     ErrorKind = "slow_consumer"
	ErrKindInternal         ErrorKind = "internal"
)

// Sentinel errors for the taxonomy. Wrap with fmt.Errorf("...: %w", ...) and
// classify with KindOf at the boundary.
var (
	ErrNotFound         = errors.New("job not found")
	ErrInvalidConfig    = errors.New("invalid trainer configuration")
	ErrUnknownTrainer   = errors.New("unknown trainer kind")
	ErrCapacity         = errors.New("capacity limit reached")
	ErrTerminal         = errors.New("job is already terminal")
	ErrAuthInsufficient = errors.New("principal lacks required role")
	ErrUnauthenticated  = errors.New("missing or invalid credential")
	ErrCancelTimeout    = errors.New("trainer did not honour cancellation within grace window")
	ErrTimeout          = errors.New("job run timeout exceeded")
	ErrSlowConsumer     = errors.New("subscriber fell behind and was dropped")
	ErrInternal         = errors.New("internal error")
)

// KindOf classifies an error chain into its taxonomy tag. Unrecognised
// errors are internal.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return ErrKindNotFound
	case errors.Is(err, ErrInvalidConfig):
		return ErrKindInvalidConfig
	case errors.Is(err, ErrUnknownTrainer):
		return ErrKindUnknownTrainer
	case errors.Is(err, ErrCapacity):
		return ErrKindCapacity
	case errors.Is(err, ErrTerminal):
		return ErrKindTerminal
	case errors.Is(err, ErrAuthInsufficient):
		return ErrKindAuthInsufficient
	case errors.Is(err, ErrUnauthenticated):
		return ErrKindUnauthenticated
	case errors.Is(err, ErrCancelTimeout):
		return ErrKindCancelTimeout
	case errors.Is(err, ErrTimeout):
		return ErrKindTimeout
	case errors.Is(err, ErrSlowConsumer):
		return ErrKindSlowConsumer
	default:
		return ErrKindInternal
	}
}
