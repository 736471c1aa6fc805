package account

import "github.com/xlnfinance/xln-core/xhash"

// AccountEventKind is the sealed tagged union of spec.md §9
// "AccountEvent" (replacing duck-typed event objects), surfaced from
// applyAccountTx up to the owning entity so HTLC secret/timeout
// propagation (spec.md §4.3) can cross account boundaries.
type AccountEventKind string

const (
	EventHtlcRevealed AccountEventKind = "htlc_revealed"
	EventHtlcTimedOut AccountEventKind = "htlc_timed_out"
)

type AccountEvent struct {
	Kind     AccountEventKind
	Hashlock xhash.Hash
	LockID   string
	Secret   []byte
}
