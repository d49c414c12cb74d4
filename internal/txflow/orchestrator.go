// orchestrator.go - Simulate -> execute -> confirm pipeline for every
// state-changing ledger operation.
//
// No operation bypasses simulation, and no operation returns before its
// receipt is confirmed: the caller always learns success, explicit revert,
// or infrastructure failure, never "submitted, outcome unknown".

package txflow

import (
	"context"
	"errors"
	"time"

	"enrollment/internal/chain"
)

// Outcome labels for emitted events.
const (
	OutcomeSuccess          = "success"
	OutcomeSimulationFailed = "simulation_failed"
	OutcomeReverted         = "reverted"
	OutcomeInfraFailure     = "infrastructure_failure"
)

// Event describes one completed pipeline run. Events are handed to the
// observer after the operation's result is already decided; the pipeline
// never depends on the observer succeeding.
type Event struct {
	Op      string
	TxHash  string
	Outcome string
	Reason  string
	Elapsed time.Duration
}

// Observer receives audit events. May be nil.
type Observer func(Event)

// Orchestrator drives the uniform transaction pipeline against an injected
// ledger client.
type Orchestrator struct {
	client         chain.Client
	observer       Observer
	receiptTimeout time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithObserver attaches an audit observer.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

// WithReceiptTimeout bounds the wait for transaction confirmation.
func WithReceiptTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.receiptTimeout = d }
}

// New builds an orchestrator over the given ledger client.
func New(client chain.Client, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		client:         client,
		receiptTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Execute runs one contract call through simulate -> submit -> wait-receipt
// and classifies the outcome. Errors are always one of SimulationError,
// TransactionRevertedError, or InfrastructureError.
func (o *Orchestrator) Execute(ctx context.Context, call chain.Call) (*chain.Receipt, error) {
	start := time.Now()

	// 1. Dry run. A contract revert here means a precondition is not met;
	// surface the reason, spend nothing.
	if err := o.client.Simulate(ctx, call); err != nil {
		var revert *chain.RevertError
		if errors.As(err, &revert) {
			simErr := &SimulationError{Op: call.Method, Reason: revert.Reason}
			o.emit(Event{Op: call.Method, Outcome: OutcomeSimulationFailed, Reason: revert.Reason, Elapsed: time.Since(start)})
			return nil, simErr
		}
		infraErr := &InfrastructureError{Op: call.Method, Err: err}
		o.emit(Event{Op: call.Method, Outcome: OutcomeInfraFailure, Reason: err.Error(), Elapsed: time.Since(start)})
		return nil, infraErr
	}

	// 2. Submit.
	txHash, err := o.client.Submit(ctx, call)
	if err != nil {
		infraErr := &InfrastructureError{Op: call.Method, Err: err}
		o.emit(Event{Op: call.Method, Outcome: OutcomeInfraFailure, Reason: err.Error(), Elapsed: time.Since(start)})
		return nil, infraErr
	}

	// 3. Await confirmation.
	waitCtx := ctx
	if o.receiptTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, o.receiptTimeout)
		defer cancel()
	}
	receipt, err := o.client.WaitReceipt(waitCtx, txHash)
	if err != nil {
		infraErr := &InfrastructureError{Op: call.Method, Err: err}
		o.emit(Event{Op: call.Method, TxHash: txHash, Outcome: OutcomeInfraFailure, Reason: err.Error(), Elapsed: time.Since(start)})
		return nil, infraErr
	}

	// 4. A reverted receipt raises no error on its own; detect it and
	// convert, keeping the hash for audit.
	if receipt.Status != chain.StatusSuccess {
		revErr := &TransactionRevertedError{Op: call.Method, TxHash: txHash, Reason: receipt.RevertReason}
		o.emit(Event{Op: call.Method, TxHash: txHash, Outcome: OutcomeReverted, Reason: receipt.RevertReason, Elapsed: time.Since(start)})
		return receipt, revErr
	}

	o.emit(Event{Op: call.Method, TxHash: txHash, Outcome: OutcomeSuccess, Elapsed: time.Since(start)})
	return receipt, nil
}

func (o *Orchestrator) emit(ev Event) {
	if o.observer != nil {
		o.observer(ev)
	}
}
