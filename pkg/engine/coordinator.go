package engine

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/dpnlabs/dpn/pkg/lock"
	"github.com/dpnlabs/dpn/pkg/stores"
	"github.com/dpnlabs/dpn/pkg/telemetry"
	"github.com/dpnlabs/dpn/pkg/wal"
)

// lockFileName is the advisory lock scoped to one WAL directory.
const lockFileName = ".engine.lock"

// StateStore is the registry of committed resources. Mutated only on the
// coordinator's commit path.
type StateStore interface {
	Upsert(ctx context.Context, rec stores.ResourceRecord) error
	Get(ctx context.Context, id string) (*stores.ResourceRecord, error)
	Archive(ctx context.Context, id string) error
}

// Config assembles an Engine.
type Config struct {
	// WALDir is the write-ahead log directory. One engine owns it.
	WALDir string

	// LockTimeout bounds how long Begin blocks on a contended lock.
	LockTimeout time.Duration

	Store    StateStore
	Registry *Registry
	Logger   zerolog.Logger

	// Metrics may be nil.
	Metrics *telemetry.Metrics
}

// Engine is the transaction coordinator. It is an explicit value rather
// than process-global state, so tests can run several isolated engines in
// one process. Exactly one transaction may be executing per WAL directory;
// an exclusive advisory file lock enforces that from begin through
// commit or rollback completion.
type Engine struct {
	wal         *wal.Log
	lockPath    string
	lockTimeout time.Duration
	store       StateStore
	registry    *Registry
	logger      zerolog.Logger
	metrics     *telemetry.Metrics
}

// New creates an engine over a WAL directory.
func New(cfg Config) (*Engine, error) {
	if cfg.WALDir == "" {
		return nil, NewValidationError("WAL directory is required", nil)
	}
	if cfg.Registry == nil {
		return nil, NewValidationError("executor registry is required", nil)
	}
	if cfg.Store == nil {
		return nil, NewValidationError("state store is required", nil)
	}

	log, err := wal.Open(cfg.WALDir)
	if err != nil {
		return nil, NewInternalError("opening WAL directory", err)
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = lock.DefaultTimeout
	}

	return &Engine{
		wal:         log,
		lockPath:    filepath.Join(cfg.WALDir, lockFileName),
		lockTimeout: cfg.LockTimeout,
		store:       cfg.Store,
		registry:    cfg.Registry,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
	}, nil
}

// Preview validates the resource graph and returns the ordered operation
// list without touching the lock, the WAL, or any provider. A dry run over
// a valid graph produces exactly the order a real run would execute.
func (e *Engine) Preview(specs []ResourceSpec) ([]*Operation, error) {
	ops, err := BuildOperations(specs)
	if err != nil {
		return nil, err
	}
	if err := e.resolveExecutors(ops); err != nil {
		return nil, err
	}
	return ops, nil
}

// Run provisions the given resources as one all-or-nothing transaction:
// build the dependency order, execute sequentially under the engine lock
// with every step logged to the WAL, and either commit all operations to
// the state store or roll back whatever already took effect.
func (e *Engine) Run(ctx context.Context, specs []ResourceSpec) (*Result, error) {
	ops, err := BuildOperations(specs)
	if err != nil {
		return nil, err
	}
	if err := e.resolveExecutors(ops); err != nil {
		return nil, err
	}
	return e.runTransaction(ctx, ops)
}

// Archive soft-deletes a committed resource. It runs as a one-operation
// transaction through the normal coordinator path, so it gets the same
// lock, WAL, and durability guarantees as provisioning.
func (e *Engine) Archive(ctx context.Context, resourceID string) (*Result, error) {
	rec, err := e.store.Get(ctx, resourceID)
	if err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			return nil, &EngineError{
				Code:     ErrCodeNotFound,
				Message:  "resource not in state store",
				Resource: resourceID,
				Err:      err,
			}
		}
		return nil, NewInternalError("reading state store", err)
	}
	if rec.Archived {
		return nil, NewValidationError("resource is already archived", nil).WithResource(resourceID)
	}

	op := &Operation{
		ID:           0,
		Kind:         KindArchive,
		ResourceType: ResourceType(rec.Type),
		ResourceName: rec.Name,
		Params:       rec.ProviderMeta,
		Status:       OpStatusPending,
	}
	return e.runTransaction(ctx, []*Operation{op})
}

// resolveExecutors fails fast, before any lock or WAL write, when an
// operation has no registered executor.
func (e *Engine) resolveExecutors(ops []*Operation) error {
	for _, op := range ops {
		if op.Kind == KindArchive {
			continue
		}
		if _, err := e.registry.Get(op.ResourceType); err != nil {
			return err
		}
	}
	return nil
}

// executorFor resolves the executor driving one operation.
func (e *Engine) executorFor(op *Operation) (Executor, error) {
	if op.Kind == KindArchive {
		return archiveExecutor{}, nil
	}
	return e.registry.Get(op.ResourceType)
}

// runTransaction drives one transaction to a terminal state. The lock is
// acquired before the WAL begin record is written, so lock contention has
// no durable side effects.
func (e *Engine) runTransaction(ctx context.Context, ops []*Operation) (*Result, error) {
	lk := lock.New(e.lockPath, e.lockTimeout)
	if err := lk.Acquire(ctx); err != nil {
		return nil, NewLockContentionError("another transaction is in progress", err)
	}
	defer func() {
		if err := lk.Release(); err != nil {
			e.logger.Warn().Err(err).Msg("failed to release engine lock")
		}
	}()

	tx := NewTransaction(ops)
	logger := e.logger.With().Str("tx_id", tx.ID).Logger()
	logger.Info().Int("operations", len(ops)).Msg("transaction started")
	e.metrics.TransactionStarted()

	w, err := e.wal.Create(tx.ID)
	if err != nil {
		return nil, NewInternalError("creating WAL file", err).WithTx(tx.ID)
	}
	if err := w.Begin(operationRecords(ops)); err != nil {
		_ = w.Close()
		return nil, NewInternalError("writing WAL begin record", err).WithTx(tx.ID)
	}

	// Forward pass: strictly sequential, stop at the first failure.
	var opErr *EngineError
	executed := 0
	for _, op := range ops {
		if err := e.executeOperation(ctx, logger, w, op); err != nil {
			opErr = NewOperationError(op, err).WithTx(tx.ID)
			break
		}
		executed++
	}

	if opErr == nil {
		return e.commit(ctx, logger, w, tx, executed)
	}
	return e.rollback(ctx, logger, w, tx, executed, opErr)
}

// executeOperation runs one operation with its WAL bracket.
func (e *Engine) executeOperation(ctx context.Context, logger zerolog.Logger, w *wal.Writer, op *Operation) error {
	ex, err := e.executorFor(op)
	if err != nil {
		return err
	}

	if err := w.OperationStart(op.ID); err != nil {
		return NewInternalError("writing WAL operation-start record", err)
	}

	now := time.Now().UTC()
	op.StartedAt = &now
	op.Status = OpStatusExecuting
	logger.Info().
		Int("op_id", op.ID).
		Str("kind", string(op.Kind)).
		Str("resource_type", string(op.ResourceType)).
		Str("resource", op.ResourceName).
		Msg("executing operation")

	res, execErr := ex.Execute(ctx, op)
	done := time.Now().UTC()
	op.CompletedAt = &done
	e.metrics.OperationExecuted(string(op.ResourceType), statusLabel(execErr), done.Sub(now))

	if execErr != nil {
		op.Status = OpStatusFailed
		op.Error = execErr.Error()
		// A partial effect may still have produced an undo snapshot.
		if res != nil {
			op.RollbackData = res.RollbackData
		}
		if err := w.OperationDone(op.ID, string(OpStatusFailed), op.RollbackData, nil, op.Error); err != nil {
			logger.Error().Err(err).Int("op_id", op.ID).Msg("failed to log operation failure")
		}
		return execErr
	}

	op.Status = OpStatusCommitted
	if res != nil {
		op.RollbackData = res.RollbackData
		op.ProviderMeta = res.ProviderMeta
	}
	if err := w.OperationDone(op.ID, string(OpStatusCommitted), op.RollbackData, op.ProviderMeta, ""); err != nil {
		return NewInternalError("writing WAL operation-done record", err)
	}
	return nil
}

// commit finalizes a fully successful transaction: WAL commit record,
// terminal rename, then the state store update.
func (e *Engine) commit(ctx context.Context, logger zerolog.Logger, w *wal.Writer, tx *Transaction, executed int) (*Result, error) {
	if err := w.Commit(); err != nil {
		return nil, NewInternalError("writing WAL commit record", err).WithTx(tx.ID)
	}
	if err := w.FinalizeCommitted(); err != nil {
		return nil, NewInternalError("finalizing WAL file", err).WithTx(tx.ID)
	}

	tx.State = TxStateCommitted
	now := time.Now().UTC()
	tx.FinishedAt = &now
	e.metrics.TransactionCompleted(string(TxStateCommitted))

	if err := e.applyState(ctx, tx.Operations); err != nil {
		// The transaction is durably committed; only the registry update
		// failed. Surface it rather than pretending the store is current.
		logger.Error().Err(err).Msg("state store update failed after commit")
		return nil, NewInternalError("transaction committed but state store update failed", err).WithTx(tx.ID)
	}

	logger.Info().Int("operations", executed).Msg("transaction committed")
	return &Result{TxID: tx.ID, State: TxStateCommitted, Executed: executed}, nil
}

// rollback unwinds the committed prefix after a failure at index executed.
func (e *Engine) rollback(ctx context.Context, logger zerolog.Logger, w *wal.Writer, tx *Transaction, executed int, opErr *EngineError) (*Result, error) {
	logger.Warn().Err(opErr).Int("committed", executed).Msg("operation failed, rolling back")

	if err := w.RollbackStart(); err != nil {
		logger.Error().Err(err).Msg("failed to log rollback start")
	}

	failures := e.rollbackPass(ctx, logger, w, tx.Operations[:executed])

	if err := w.RollbackComplete(); err != nil {
		logger.Error().Err(err).Msg("failed to log rollback completion")
	}
	if err := w.FinalizeRolledBack(); err != nil {
		return nil, NewInternalError("finalizing WAL file", err).WithTx(tx.ID)
	}

	tx.State = TxStateRolledBack
	now := time.Now().UTC()
	tx.FinishedAt = &now
	e.metrics.TransactionCompleted(string(TxStateRolledBack))

	result := &Result{
		TxID:             tx.ID,
		State:            TxStateRolledBack,
		Executed:         executed,
		RollbackFailures: failures,
	}
	if len(failures) > 0 {
		logger.Error().Int("failed_undos", len(failures)).
			Msg("transaction rolled back with errors, manual inspection required")
		return result, &RollbackError{TxID: tx.ID, Cause: opErr, Failures: failures}
	}
	logger.Info().Msg("transaction rolled back cleanly")
	return result, opErr
}

// rollbackPass undoes committed operations in strict reverse order of
// their commit. A failing undo never aborts the pass: every prior
// operation gets its rollback attempt, and the failures are collected for
// the final report.
func (e *Engine) rollbackPass(ctx context.Context, logger zerolog.Logger, w *wal.Writer, committed []*Operation) []RollbackFailure {
	var failures []RollbackFailure
	for i := len(committed) - 1; i >= 0; i-- {
		op := committed[i]

		var undoErr error
		ex, err := e.executorFor(op)
		if err != nil {
			undoErr = err
		} else {
			undoErr = ex.Rollback(ctx, op)
		}
		e.metrics.RollbackAttempted(undoErr != nil)

		errMsg := ""
		if undoErr != nil {
			errMsg = undoErr.Error()
			failures = append(failures, RollbackFailure{
				OpID:         op.ID,
				ResourceType: op.ResourceType,
				ResourceName: op.ResourceName,
				Err:          undoErr,
				Message:      errMsg,
			})
			logger.Error().Err(undoErr).
				Int("op_id", op.ID).
				Str("resource", op.ResourceName).
				Msg("rollback of operation failed")
		} else {
			logger.Info().
				Int("op_id", op.ID).
				Str("resource", op.ResourceName).
				Msg("operation rolled back")
		}

		op.Status = OpStatusRolledBack
		if err := w.RollbackDone(op.ID, errMsg); err != nil {
			logger.Error().Err(err).Int("op_id", op.ID).Msg("failed to log rollback record")
		}
	}
	return failures
}

// applyState updates the resource registry for a committed transaction.
func (e *Engine) applyState(ctx context.Context, ops []*Operation) error {
	for _, op := range ops {
		id := stores.RecordID(string(op.ResourceType), op.ResourceName)
		switch op.Kind {
		case KindArchive:
			if err := e.store.Archive(ctx, id); err != nil {
				return err
			}
		default:
			rec := stores.ResourceRecord{
				ID:           id,
				Type:         string(op.ResourceType),
				Name:         op.ResourceName,
				ProviderMeta: op.ProviderMeta,
			}
			if err := e.store.Upsert(ctx, rec); err != nil {
				return err
			}
		}
	}
	return nil
}

// operationRecords converts operations into their durable WAL form.
func operationRecords(ops []*Operation) []wal.OperationRecord {
	records := make([]wal.OperationRecord, 0, len(ops))
	for _, op := range ops {
		records = append(records, wal.OperationRecord{
			ID:           op.ID,
			Kind:         string(op.Kind),
			ResourceType: string(op.ResourceType),
			ResourceName: op.ResourceName,
			Params:       op.Params,
			DependsOn:    op.DependsOn,
		})
	}
	return records
}

func statusLabel(err error) string {
	if err != nil {
		return string(OpStatusFailed)
	}
	return string(OpStatusCommitted)
}
