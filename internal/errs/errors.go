package errs

import (
	"errors"
	"fmt"
)

// Kind groups bridge errors by the subsystem that produced them. The kind
// decides who may retry: configuration errors are fatal at startup, proof
// errors must never be retried with the same proof, and so on.
type Kind string

const (
	KindConfiguration Kind = "configuration"
	KindChain         Kind = "chain"
	KindTransaction   Kind = "transaction"
	KindProof         Kind = "proof"
	KindRelayer       Kind = "relayer"
	KindLockbox       Kind = "lockbox"
	KindAmount        Kind = "amount"
)

// Stable error codes, also used as the `code` field of HTTP error payloads.
const (
	CodeInvalidChain       = "INVALID_CHAIN"
	CodeInvalidConfig      = "INVALID_CONFIG"
	CodeUnsupportedChain   = "UNSUPPORTED_CHAIN"
	CodeChainUnavailable   = "CHAIN_UNAVAILABLE"
	CodeRPCError           = "RPC_ERROR"
	CodeInsufficientFunds  = "INSUFFICIENT_FUNDS"
	CodeTxFailed           = "TX_FAILED"
	CodeTxTimeout          = "TX_TIMEOUT"
	CodeTxReverted         = "TX_REVERTED"
	CodeProofGeneration    = "PROOF_GENERATION_FAILED"
	CodeProofVerification  = "PROOF_VERIFICATION_FAILED"
	CodeInvalidProof       = "INVALID_PROOF"
	CodeStaleRoot          = "STALE_MERKLE_ROOT"
	CodeRelayerUnavailable = "RELAYER_UNAVAILABLE"
	CodeRelayerRejected    = "RELAYER_REJECTED"
	CodeRelayerTimeout     = "RELAYER_TIMEOUT"
	CodeRequestExpired     = "REQUEST_EXPIRED"
	CodeLockboxFull        = "LOCKBOX_FULL"
	CodeLockboxEmpty       = "LOCKBOX_EMPTY"
	CodeInvalidCommitment  = "INVALID_COMMITMENT"
	CodeNullifierUsed      = "NULLIFIER_USED"
	CodeDepositNotFound    = "DEPOSIT_NOT_FOUND"
	CodeNotYetExpired      = "NOT_YET_EXPIRED"
	CodeInvalidState       = "INVALID_STATE"
	CodeInvalidDuration    = "INVALID_DURATION"
	CodeAmountTooLow       = "AMOUNT_TOO_LOW"
	CodeAmountTooHigh      = "AMOUNT_TOO_HIGH"
)

// Error is the structured error carried across the core. Orchestration code
// branches on Kind/Code instead of parsing messages.
type Error struct {
	Kind    Kind           `json:"kind"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches on code so callers can compare against sentinel errors built
// with the same constructor.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// New creates a structured bridge error.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Newf creates a structured bridge error with a formatted message.
func Newf(kind Kind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a structured error.
func Wrap(kind Kind, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, cause: cause}
}

// WithDetails returns a copy carrying extra key/value context for the HTTP
// error payload.
func (e *Error) WithDetails(details map[string]any) *Error {
	clone := *e
	clone.Details = details
	return &clone
}

// CodeOf extracts the stable code from err, or "" for plain errors.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// KindOf extracts the taxonomy kind from err, or "" for plain errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// retryableCodes is the default set of codes the relayer may retry under
// backoff. Everything else propagates immediately.
var retryableCodes = map[string]bool{
	CodeRPCError:           true,
	CodeTxTimeout:          true,
	CodeRelayerUnavailable: true,
	CodeRelayerTimeout:     true,
}

// IsRetryable reports whether err carries a code in the retryable set.
// Nullifier reuse, rejections, and validation failures are always terminal.
func IsRetryable(err error) bool {
	return retryableCodes[CodeOf(err)]
}
