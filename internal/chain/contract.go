// contract.go - Contract-call abstraction over the study ledger.
//
// The protocol core never talks to a ledger node directly; it goes through
// Client, which exposes the three network primitives every state-changing
// operation needs: dry-run simulation, submission, and receipt retrieval.
// The client is explicitly constructed and injected, so tests run against a
// deterministic in-process ledger.

package chain

import (
	"context"
	"errors"
	"fmt"
)

// Method names of the study contract surface.
const (
	MethodCreateStudy        = "createStudy"
	MethodConfigureBins      = "configureBins"
	MethodRegisterCommitment = "registerCommitment"
	MethodJoinStudy          = "joinStudy"
	MethodGrantConsent       = "grantConsent"
	MethodRevokeConsent      = "revokeConsent"
	MethodCloseStudy         = "closeStudy"
)

// Call is one contract invocation: a method, the sending wallet, and the
// method arguments in contract order.
type Call struct {
	Method string
	Sender string
	Args   []interface{}
}

// TxStatus is the receipt status word. The ledger accepts a transaction and
// still reverts it at execution; a reverted receipt raises no error on its
// own and must be checked explicitly.
type TxStatus uint8

const (
	StatusReverted TxStatus = 0
	StatusSuccess  TxStatus = 1
)

// Receipt is the confirmation record for a submitted transaction.
type Receipt struct {
	TxHash       string   `json:"tx_hash"`
	Status       TxStatus `json:"status"`
	RevertReason string   `json:"revert_reason,omitempty"`
	BlockNumber  uint64   `json:"block_number"`
	GasUsed      uint64   `json:"gas_used"`
}

// RevertError reports a contract-logic rejection: a failed precondition
// during simulation or an execution revert. It is not a network failure.
type RevertError struct {
	Reason string
}

func (e *RevertError) Error() string {
	return fmt.Sprintf("execution reverted: %s", e.Reason)
}

// IsRevert reports whether err is (or wraps) a contract revert.
func IsRevert(err error) bool {
	var re *RevertError
	return errors.As(err, &re)
}

// ErrUnknownTx is returned by WaitReceipt for a hash the ledger never saw.
var ErrUnknownTx = errors.New("unknown transaction hash")

// Client is the ledger network surface consumed by the transaction
// orchestrator.
type Client interface {
	// Simulate dry-runs the call against current ledger state without
	// spending resources. A *RevertError carries the precondition failure
	// reason; any other error is infrastructure.
	Simulate(ctx context.Context, call Call) error
	// Submit sends the transaction and returns its hash. Submission success
	// does not imply execution success.
	Submit(ctx context.Context, call Call) (string, error)
	// WaitReceipt blocks until the transaction is confirmed and returns its
	// receipt, including explicit revert status.
	WaitReceipt(ctx context.Context, txHash string) (*Receipt, error)
}
