package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// DepositStatus is the custody state of a LockedDeposit. Transitions are
// monotonic: pending → confirmed → {released | refunded}. A deposit past its
// expiry with no action taken is implicitly expired; only Refund makes that
// observable.
type DepositStatus string

const (
	DepositStatusPending   DepositStatus = "pending"
	DepositStatusConfirmed DepositStatus = "confirmed"
	DepositStatusReleased  DepositStatus = "released"
	DepositStatusRefunded  DepositStatus = "refunded"
	DepositStatusExpired   DepositStatus = "expired"
)

// IsTerminal reports whether no further transition is permitted.
func (s DepositStatus) IsTerminal() bool {
	return s == DepositStatusReleased || s == DepositStatusRefunded || s == DepositStatusExpired
}

// TransactionStatus is the end-to-end lifecycle state of a BridgeTransaction.
type TransactionStatus string

const (
	TxStatusPending          TransactionStatus = "pending"
	TxStatusSourceConfirming TransactionStatus = "source_confirming"
	TxStatusSourceConfirmed  TransactionStatus = "source_confirmed"
	TxStatusRelaying         TransactionStatus = "relaying"
	TxStatusDestConfirming   TransactionStatus = "dest_confirming"
	TxStatusDestConfirmed    TransactionStatus = "dest_confirmed"
	TxStatusCompleted        TransactionStatus = "completed"
	TxStatusFailed           TransactionStatus = "failed"
	TxStatusRefunded         TransactionStatus = "refunded"
)

// txStatusRank orders the happy path so transitions can be checked as
// monotonic. Terminal states are handled separately.
var txStatusRank = map[TransactionStatus]int{
	TxStatusPending:          0,
	TxStatusSourceConfirming: 1,
	TxStatusSourceConfirmed:  2,
	TxStatusRelaying:         3,
	TxStatusDestConfirming:   4,
	TxStatusDestConfirmed:    5,
	TxStatusCompleted:        6,
}

// IsTerminal reports whether the transaction reached a final state.
func (s TransactionStatus) IsTerminal() bool {
	return s == TxStatusCompleted || s == TxStatusFailed || s == TxStatusRefunded
}

// CanTransition reports whether moving from s to next is legal:
// the happy path only moves forward, `failed` is reachable from any
// non-terminal state, and `refunded` only before dest_confirmed.
func (s TransactionStatus) CanTransition(next TransactionStatus) bool {
	if s.IsTerminal() {
		return false
	}
	switch next {
	case TxStatusFailed:
		return true
	case TxStatusRefunded:
		return txStatusRank[s] < txStatusRank[TxStatusDestConfirmed]
	default:
		from, okFrom := txStatusRank[s]
		to, okTo := txStatusRank[next]
		return okFrom && okTo && to > from
	}
}

// RelayPriority orders relay dispatch: urgent > high > normal > low.
type RelayPriority string

const (
	RelayPriorityLow    RelayPriority = "low"
	RelayPriorityNormal RelayPriority = "normal"
	RelayPriorityHigh   RelayPriority = "high"
	RelayPriorityUrgent RelayPriority = "urgent"
)

// Weight returns the numeric dispatch weight; larger dispatches first.
func (p RelayPriority) Weight() int {
	switch p {
	case RelayPriorityUrgent:
		return 3
	case RelayPriorityHigh:
		return 2
	case RelayPriorityNormal:
		return 1
	default:
		return 0
	}
}

// Valid reports whether p is a known priority.
func (p RelayPriority) Valid() bool {
	switch p {
	case RelayPriorityLow, RelayPriorityNormal, RelayPriorityHigh, RelayPriorityUrgent:
		return true
	}
	return false
}

// RelayStatus is the relayer-side state of a relay request.
type RelayStatus string

const (
	RelayStatusQueued     RelayStatus = "queued"
	RelayStatusDispatched RelayStatus = "dispatched"
	RelayStatusSubmitted  RelayStatus = "submitted"
	RelayStatusConfirmed  RelayStatus = "confirmed"
	RelayStatusFailed     RelayStatus = "failed"
	RelayStatusCancelled  RelayStatus = "cancelled"
	RelayStatusExpired    RelayStatus = "expired"
)

// ByteArray is a byte buffer that serializes as a JSON array of integers,
// matching the relayer network wire format (not base64).
type ByteArray []byte

// MarshalJSON emits [1,2,3] instead of a base64 string.
func (b ByteArray) MarshalJSON() ([]byte, error) {
	ints := make([]int, len(b))
	for i, v := range b {
		ints[i] = int(v)
	}
	return json.Marshal(ints)
}

// UnmarshalJSON accepts an array of integers in [0,255].
func (b *ByteArray) UnmarshalJSON(data []byte) error {
	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return err
	}
	out := make([]byte, len(ints))
	for i, v := range ints {
		if v < 0 || v > 255 {
			return fmt.Errorf("byte array element out of range: %d", v)
		}
		out[i] = byte(v)
	}
	*b = out
	return nil
}

// ISO8601 is the timestamp layout for the relayer network API.
const ISO8601 = time.RFC3339
