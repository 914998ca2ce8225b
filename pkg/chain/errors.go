package chain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// ErrUserRejected is returned by a Signer when the user declines to sign
var ErrUserRejected = errors.New("user rejected the request")

// ErrNoSigner is returned when a write is attempted without a connected account
var ErrNoSigner = errors.New("no account connected")

// RevertError is a contract revert carrying the contract's reason string
type RevertError struct {
	Reason string
}

func (e *RevertError) Error() string {
	if e.Reason == "" {
		return "execution reverted"
	}
	return "execution reverted: " + e.Reason
}

// ReadStatus classifies the outcome of a contract read
type ReadStatus int

const (
	ReadOK       ReadStatus = iota // call succeeded
	ReadReverted                   // contract reverted (no liquidity, bad path)
	ReadFailed                     // transport or node failure
)

func (s ReadStatus) String() string {
	switch s {
	case ReadOK:
		return "ok"
	case ReadReverted:
		return "reverted"
	default:
		return "failed"
	}
}

// Classify tells a contract revert apart from an RPC failure
func Classify(err error) ReadStatus {
	if err == nil {
		return ReadOK
	}
	if IsRevert(err) {
		return ReadReverted
	}
	return ReadFailed
}

// IsRevert reports whether err came from the EVM rejecting the call
func IsRevert(err error) bool {
	var revertErr *RevertError
	if errors.As(err, &revertErr) {
		return true
	}
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) && dataErr.ErrorData() != nil {
		return true
	}
	return strings.Contains(err.Error(), "execution reverted")
}

// RevertReason extracts the contract's reason string from a revert error
func RevertReason(err error) string {
	var revertErr *RevertError
	if errors.As(err, &revertErr) {
		return revertErr.Reason
	}
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if hexData, ok := dataErr.ErrorData().(string); ok {
			if raw, decErr := hexutil.Decode(hexData); decErr == nil {
				if reason, unpackErr := abi.UnpackRevert(raw); unpackErr == nil {
					return reason
				}
			}
		}
	}
	msg := err.Error()
	if idx := strings.Index(msg, "execution reverted: "); idx >= 0 {
		return msg[idx+len("execution reverted: "):]
	}
	return msg
}

// Kind is the failure class of a write
type Kind string

const (
	KindUserRejected Kind = "user_rejected"
	KindRevert       Kind = "contract_revert"
	KindFailed       Kind = "failed"
)

// TransactionError is the single terminal error of a write-path action.
// Reason is shown to the user verbatim.
type TransactionError struct {
	Kind   Kind
	Reason string
	TxHash common.Hash
	Err    error
}

func (e *TransactionError) Error() string {
	switch e.Kind {
	case KindUserRejected:
		return "transaction rejected by user"
	case KindRevert:
		return fmt.Sprintf("transaction reverted: %s", e.Reason)
	default:
		return fmt.Sprintf("transaction failed: %s", e.Reason)
	}
}

func (e *TransactionError) Unwrap() error {
	return e.Err
}

// AsTransactionError converts any write-path error into a TransactionError
func AsTransactionError(err error) *TransactionError {
	if err == nil {
		return nil
	}
	var txErr *TransactionError
	if errors.As(err, &txErr) {
		return txErr
	}
	switch {
	case errors.Is(err, ErrUserRejected):
		return &TransactionError{Kind: KindUserRejected, Reason: ErrUserRejected.Error(), Err: err}
	case IsRevert(err):
		return &TransactionError{Kind: KindRevert, Reason: RevertReason(err), Err: err}
	default:
		return &TransactionError{Kind: KindFailed, Reason: err.Error(), Err: err}
	}
}

// IsUserRejected reports whether err is a wallet-level cancellation
func IsUserRejected(err error) bool {
	txErr := AsTransactionError(err)
	return txErr != nil && txErr.Kind == KindUserRejected
}
