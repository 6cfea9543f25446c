package service

import (
	"context"
	"time"

	"github.com/devrev/pairdb/gmu-node/internal/errors"
	"github.com/devrev/pairdb/gmu-node/internal/metrics"
	"github.com/devrev/pairdb/gmu-node/internal/model"
	"go.uber.org/zap"
)

// CommandOutcome is what a prepare, commit or rollback message achieved
type CommandOutcome int

const (
	// OutcomePrepared means the transaction is queued and awaits its decision
	OutcomePrepared CommandOutcome = iota
	// OutcomeCommitted means the final version was handed to the queue
	OutcomeCommitted
	// OutcomeRolledBack means the transaction was discarded
	OutcomeRolledBack
	// OutcomeDeferred means the decision was recorded for a later prepare
	OutcomeDeferred
	// OutcomeIgnored means the message named a finished or invalid transaction
	OutcomeIgnored
)

func (o CommandOutcome) String() string {
	switch o {
	case OutcomePrepared:
		return "PREPARED"
	case OutcomeCommitted:
		return "COMMITTED"
	case OutcomeRolledBack:
		return "ROLLED_BACK"
	case OutcomeDeferred:
		return "DEFERRED"
	default:
		return "IGNORED"
	}
}

// PrepareResult is returned to the transaction's coordinator
type PrepareResult struct {
	Outcome CommandOutcome
	// Version is the provisional version, set when Outcome is OutcomePrepared
	Version *model.Version
}

// TransactionDriver applies prepare, commit and rollback messages for
// transactions originated on other nodes, tolerating any arrival order
type TransactionDriver struct {
	table       *RemoteTransactionTable
	manager     *CommitManager
	waitTimeout time.Duration
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// NewTransactionDriver creates a driver. waitTimeout bounds how long a commit
// or rollback waits for an in-progress prepare.
func NewTransactionDriver(table *RemoteTransactionTable, manager *CommitManager, waitTimeout time.Duration, m *metrics.Metrics, logger *zap.Logger) *TransactionDriver {
	return &TransactionDriver{
		table:       table,
		manager:     manager,
		waitTimeout: waitTimeout,
		metrics:     m,
		logger:      logger,
	}
}

// HandlePrepare queues the transaction's writes and returns its provisional
// version. A decision that arrived earlier finishes the transaction at once.
func (d *TransactionDriver) HandlePrepare(ctx context.Context, txID model.GlobalTransactionID, viewID int64, writes []model.WriteOperation) (*PrepareResult, error) {
	rtx, ok := d.lookup(txID, viewID, "prepare")
	if !ok {
		return &PrepareResult{Outcome: OutcomeIgnored}, nil
	}

	rtx.SetModifications(writes)
	pending := rtx.MarkForPreparing()

	if pending == DecisionRollbackPending {
		rtx.MarkPreparedAndNotify()
		d.table.Remove(txID)
		d.logger.Debug("Prepare finished pending rollback", zap.String("tx_id", txID.String()))
		return &PrepareResult{Outcome: OutcomeRolledBack}, nil
	}

	tx := model.NewTransaction(txID, rtx.Modifications())
	entry, err := d.manager.Prepare(tx)
	if err != nil {
		rtx.MarkPreparedAndNotify()
		d.table.Invalidate(txID)
		return nil, err
	}
	rtx.MarkPreparedAndNotify()

	if pending == DecisionCommitPending {
		if _, err := d.manager.Commit(txID, rtx.CommitVersion()); err != nil {
			return nil, err
		}
		d.table.Remove(txID)
		d.logger.Debug("Prepare finished pending commit", zap.String("tx_id", txID.String()))
		return &PrepareResult{Outcome: OutcomeCommitted, Version: entry.ProvisionalVersion()}, nil
	}

	return &PrepareResult{Outcome: OutcomePrepared, Version: entry.ProvisionalVersion()}, nil
}

// HandleCommit hands the final version to the commit queue, or defers it
// until prepare arrives
func (d *TransactionDriver) HandleCommit(ctx context.Context, txID model.GlobalTransactionID, viewID int64, final *model.Version) (CommandOutcome, error) {
	if final == nil {
		return OutcomeIgnored, errors.InvalidArgument("commit version is required", nil)
	}

	rtx, ok := d.lookup(txID, viewID, "commit")
	if !ok {
		return OutcomeIgnored, nil
	}
	rtx.SetCommitVersion(final)

	outcome, err := d.waitPrepared(ctx, rtx, true)
	if err != nil {
		return OutcomeIgnored, err
	}
	if outcome == WaitDefer {
		d.metrics.RemoteTxDeferredTotal.WithLabelValues("commit").Inc()
		return OutcomeDeferred, nil
	}
	if rtx.IsMarkedForRollback() || !rtx.IsValid() {
		return OutcomeIgnored, nil
	}

	if _, err := d.manager.Commit(txID, final); err != nil {
		return OutcomeIgnored, err
	}
	d.table.Remove(txID)
	return OutcomeCommitted, nil
}

// HandleRollback discards the transaction, or defers the rollback until
// prepare arrives
func (d *TransactionDriver) HandleRollback(ctx context.Context, txID model.GlobalTransactionID, viewID int64) (CommandOutcome, error) {
	rtx, ok := d.lookup(txID, viewID, "rollback")
	if !ok {
		return OutcomeIgnored, nil
	}

	outcome, err := d.waitPrepared(ctx, rtx, false)
	if err != nil {
		return OutcomeIgnored, err
	}
	if outcome == WaitDefer {
		d.metrics.RemoteTxDeferredTotal.WithLabelValues("rollback").Inc()
		return OutcomeDeferred, nil
	}

	d.manager.Rollback(txID)
	d.table.Remove(txID)
	return OutcomeRolledBack, nil
}

// Abort forcibly discards a transaction, e.g. when its originator left the
// cluster. Later messages for it are ignored.
func (d *TransactionDriver) Abort(txID model.GlobalTransactionID) {
	d.manager.Rollback(txID)
	d.table.Invalidate(txID)
}

func (d *TransactionDriver) waitPrepared(ctx context.Context, rtx *RemoteTransaction, commit bool) (WaitOutcome, error) {
	if d.waitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.waitTimeout)
		defer cancel()
	}
	return rtx.WaitPrepared(ctx, commit)
}

func (d *TransactionDriver) lookup(txID model.GlobalTransactionID, viewID int64, command string) (*RemoteTransaction, bool) {
	rtx, err := d.table.GetOrCreate(txID, viewID)
	if err != nil {
		d.metrics.RemoteTxRejectedTotal.Inc()
		d.logger.Debug("Ignoring message for finished transaction",
			zap.String("tx_id", txID.String()),
			zap.String("command", command))
		return nil, false
	}
	return rtx, true
}
