// errors.go - Uniform error taxonomy for ledger-touching operations.
//
// Every write path in the system classifies its failures here, and only
// here, so callers can branch on a stable machine-readable code instead of
// message text. Only InfrastructureError is worth retrying; the other two
// report logic-level rejections that a retry cannot fix.

package txflow

import (
	"errors"
	"fmt"
)

// Error codes surfaced to clients.
const (
	CodeSimulationFailed = "SIMULATION_FAILED"
	CodeTxReverted       = "TX_REVERTED"
	CodeInfraFailure     = "INFRA_FAILURE"
)

// SimulationError reports a ledger precondition failure caught during the
// dry run, before any resources were spent. The reason string comes straight
// from the contract and is the primary validation signal.
type SimulationError struct {
	Op     string
	Reason string
}

func (e *SimulationError) Error() string {
	return fmt.Sprintf("%s: simulation failed: %s", e.Op, e.Reason)
}

func (e *SimulationError) Code() string { return CodeSimulationFailed }

// TransactionRevertedError reports a transaction the network accepted but
// the contract logic reverted. The hash is kept for audit.
type TransactionRevertedError struct {
	Op     string
	TxHash string
	Reason string
}

func (e *TransactionRevertedError) Error() string {
	return fmt.Sprintf("%s: transaction %s reverted: %s", e.Op, e.TxHash, e.Reason)
}

func (e *TransactionRevertedError) Code() string { return CodeTxReverted }

// InfrastructureError wraps a network or RPC failure. Callers may retry.
type InfrastructureError struct {
	Op  string
	Err error
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("%s: infrastructure failure: %v", e.Op, e.Err)
}

func (e *InfrastructureError) Unwrap() error { return e.Err }

func (e *InfrastructureError) Code() string { return CodeInfraFailure }

// Coder is implemented by every classified error.
type Coder interface {
	Code() string
}

// Code extracts the stable error code from a classified error, or "" when
// the error did not pass through the orchestrator.
func Code(err error) string {
	var c Coder
	if errors.As(err, &c) {
		return c.Code()
	}
	return ""
}

// Retryable reports whether the caller may usefully retry the operation.
func Retryable(err error) bool {
	var infra *InfrastructureError
	return errors.As(err, &infra)
}
