package engine

import (
	"context"

	"github.com/dpnlabs/dpn/pkg/lock"
	"github.com/dpnlabs/dpn/pkg/wal"
)

// CorruptWAL reports one WAL file recovery could not parse. The file is
// left untouched for an operator to inspect.
type CorruptWAL struct {
	Path string `json:"path"`
	Err  error  `json:"-"`
}

// RecoveryReport summarizes one recovery pass.
type RecoveryReport struct {
	// RolledBack lists transaction ids driven to .rolled_back.
	RolledBack []string `json:"rolled_back"`

	// Failures lists per-operation rollback errors across all recovered
	// transactions; non-empty means manual inspection is needed.
	Failures []RollbackFailure `json:"failures,omitempty"`

	// Corrupt lists WAL files that were skipped as unreadable.
	Corrupt []CorruptWAL `json:"corrupt,omitempty"`
}

// Recover scans the WAL directory for transactions a crash left without a
// terminal suffix and drives each to rolled_back: replay the WAL to find
// exactly which operations committed, then run the standard reverse-order
// rollback pass over them. Unreadable WAL files are reported and skipped,
// never guessed at. Safe to run repeatedly as long as executor rollbacks
// are idempotent.
func (e *Engine) Recover(ctx context.Context) (*RecoveryReport, error) {
	lk := lock.New(e.lockPath, e.lockTimeout)
	if err := lk.Acquire(ctx); err != nil {
		return nil, NewLockContentionError("another transaction is in progress", err)
	}
	defer func() {
		if err := lk.Release(); err != nil {
			e.logger.Warn().Err(err).Msg("failed to release engine lock")
		}
	}()

	pending, err := e.wal.Pending()
	if err != nil {
		return nil, NewInternalError("scanning WAL directory", err)
	}

	report := &RecoveryReport{RolledBack: []string{}}
	for _, info := range pending {
		logger := e.logger.With().Str("tx_id", info.TxID).Logger()

		records, err := e.wal.Replay(info.Path)
		if err != nil {
			corrupt := NewCorruptWALError(info.Path, err)
			logger.Error().Err(corrupt).Msg("skipping unreadable WAL file")
			report.Corrupt = append(report.Corrupt, CorruptWAL{Path: info.Path, Err: err})
			continue
		}

		committed := committedOperations(records)
		logger.Info().Int("committed", len(committed)).Msg("recovering incomplete transaction")

		w, err := e.wal.Reopen(info.TxID)
		if err != nil {
			return nil, NewInternalError("reopening WAL file", err).WithTx(info.TxID)
		}
		if err := w.RollbackStart(); err != nil {
			logger.Error().Err(err).Msg("failed to log rollback start")
		}

		failures := e.rollbackPass(ctx, logger, w, committed)
		report.Failures = append(report.Failures, failures...)

		if err := w.RollbackComplete(); err != nil {
			logger.Error().Err(err).Msg("failed to log rollback completion")
		}
		if err := w.FinalizeRolledBack(); err != nil {
			return nil, NewInternalError("finalizing WAL file", err).WithTx(info.TxID)
		}

		e.metrics.TransactionCompleted(string(TxStateRolledBack))
		report.RolledBack = append(report.RolledBack, info.TxID)
		logger.Info().Msg("transaction rolled back by recovery")
	}

	e.metrics.RecoveryRun(len(report.RolledBack), len(report.Corrupt))
	return report, nil
}

// committedOperations rebuilds, in commit order, the operations that
// reached operation-done(committed) before the crash. The begin record
// carries the operation definitions; the operation-done records carry the
// rollback snapshots.
func committedOperations(records []wal.Record) []*Operation {
	byID := make(map[int]*Operation)
	for _, rec := range records[0].Operations {
		byID[rec.ID] = &Operation{
			ID:           rec.ID,
			Kind:         OperationKind(rec.Kind),
			ResourceType: ResourceType(rec.ResourceType),
			ResourceName: rec.ResourceName,
			Params:       rec.Params,
			DependsOn:    rec.DependsOn,
			Status:       OpStatusPending,
		}
	}

	var committed []*Operation
	for _, rec := range records {
		if rec.Type != wal.RecordOperationDone || rec.OpID == nil {
			continue
		}
		op, ok := byID[*rec.OpID]
		if !ok {
			continue
		}
		if rec.Status == string(OpStatusCommitted) {
			op.Status = OpStatusCommitted
			op.RollbackData = rec.RollbackData
			op.ProviderMeta = rec.ProviderMeta
			committed = append(committed, op)
		} else {
			op.Status = OpStatusFailed
			op.Error = rec.Error
		}
	}
	return committed
}
