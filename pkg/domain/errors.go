package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Every failure returned by a core operation wraps one of these
// so callers can branch with errors.Is.
var (
	ErrNotAuthorized          = errors.New("not authorized")
	ErrInvalidParameter       = errors.New("invalid parameter")
	ErrAlreadyExists          = errors.New("already exists")
	ErrDoesNotExist           = errors.New("does not exist")
	ErrSafetyViolation        = errors.New("safety violation")
	ErrContractNotWhitelisted = errors.New("contract not whitelisted")
	ErrChainBroken            = errors.New("event chain broken")
)

// Error describes a failed operation. Op names the operation, Key the record
// or actor involved, Detail an optional human readable reason.
type Error struct {
	Op     string
	Key    string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Key != "" {
		msg += " " + e.Key
	}
	msg += ": " + e.Err.Error()
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// NotAuthorized reports that actor failed the predicate guarding op.
func NotAuthorized(op string, actor ActorID) error {
	return &Error{Op: op, Key: string(actor), Err: ErrNotAuthorized}
}

// InvalidParameter reports malformed input for field.
func InvalidParameter(op, field, detail string) error {
	return &Error{Op: op, Key: field, Detail: detail, Err: ErrInvalidParameter}
}

// AlreadyExists reports a create against a key already present.
func AlreadyExists(op, key string) error {
	return &Error{Op: op, Key: key, Err: ErrAlreadyExists}
}

// DoesNotExist reports a mutation against an absent key.
func DoesNotExist(op, key string) error {
	return &Error{Op: op, Key: key, Err: ErrDoesNotExist}
}

// ChainBroken reports the first event whose hash or link does not verify.
func ChainBroken(id uint64, detail string) error {
	return &Error{Op: "verify_chain", Key: fmt.Sprintf("%d", id), Detail: detail, Err: ErrChainBroken}
}

var errorCodes = []struct {
	err  error
	code uint32
}{
	{ErrNotAuthorized, 100},
	{ErrInvalidParameter, 101},
	{ErrAlreadyExists, 102},
	{ErrDoesNotExist, 103},
	{ErrSafetyViolation, 104},
	{ErrContractNotWhitelisted, 105},
	{ErrChainBroken, 106},
}

// Code returns the stable numeric code of err's kind, or 0 when err does not
// wrap a known kind.
func Code(err error) uint32 {
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return 0
}
