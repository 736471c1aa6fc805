// Package xerrors implements the closed error taxonomy of spec.md §7,
// adapted from the teacher's consensus/errors.go ErrorCode+TxError
// shape. Unlike the teacher's bespoke Error() method, this wraps
// github.com/pkg/errors so causes survive (samkenxstream-nitro's
// arbnode/sequencer.go idiom of errors.Wrap/errors.Is), which the core
// needs: a ReplayProtectionFailure or BatchRejected often originates
// from a lower-level parse/validate error a caller should still be
// able to unwrap.
package xerrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is one row of spec.md §7's error taxonomy table.
type Kind string

const (
	InvalidNonce             Kind = "InvalidNonce"
	InvalidSignature         Kind = "InvalidSignature"
	ReplayProtectionFailure  Kind = "ReplayProtectionFailure"
	InvalidFrame             Kind = "InvalidFrame"
	CapacityExceeded         Kind = "CapacityExceeded"
	CreditLimitExceeded      Kind = "CreditLimitExceeded"
	InsufficientCapacity     Kind = "InsufficientCapacity"
	OverflowWouldOccur       Kind = "OverflowWouldOccur"
	HtlcHashMismatch         Kind = "HtlcHashMismatch"
	HtlcExpired              Kind = "HtlcExpired"
	ConsensusDivergence      Kind = "ConsensusDivergence"
	JBlockForkDetected       Kind = "JBlockForkDetected"
	BatchRejected            Kind = "BatchRejected"
	QueuePressure            Kind = "QueuePressure"
	DeadlineExpired          Kind = "DeadlineExpired"
)

// fatalKinds halt the affected subsystem (account, entity's J-view)
// rather than just rejecting a single tx/input, per spec.md §7.
var fatalKinds = map[Kind]bool{
	ConsensusDivergence: true,
	JBlockForkDetected:  true,
}

// XErr is the concrete error type carrying a Kind plus a message, with
// an optional wrapped cause.
type XErr struct {
	Kind Kind
	Msg  string
	Data map[string]any
	Err  error
}

func (e *XErr) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *XErr) Unwrap() error { return e.Err }

// New builds a fresh XErr of the given kind.
func New(kind Kind, msg string) error {
	return &XErr{Kind: kind, Msg: msg}
}

// Newf builds a fresh XErr with a formatted message.
func Newf(kind Kind, format string, args ...any) error {
	return &XErr{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind+msg to an existing error as its cause, mirroring
// pkg/errors.Wrap but tagging the outer error with a taxonomy Kind so
// callers can still switch on it via KindOf.
func Wrap(err error, kind Kind, msg string) error {
	if err == nil {
		return nil
	}
	return &XErr{Kind: kind, Msg: msg, Err: errors.WithStack(err)}
}

// WithData attaches structured data to an XErr (surfaced verbatim in
// the log entry's "data" field per spec.md §7).
func WithData(err error, data map[string]any) error {
	var xe *XErr
	if errors.As(err, &xe) {
		cp := *xe
		cp.Data = data
		return &cp
	}
	return err
}

// KindOf extracts the Kind from err, walking the cause chain, and
// reports whether one was found.
func KindOf(err error) (Kind, bool) {
	var xe *XErr
	if errors.As(err, &xe) {
		return xe.Kind, true
	}
	return "", false
}

// IsFatal reports whether err's Kind halts the affected subsystem
// rather than just rejecting a single tx/input (spec.md §7).
func IsFatal(err error) bool {
	k, ok := KindOf(err)
	if !ok {
		return false
	}
	return fatalKinds[k]
}
