package engine

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ResourceType identifies which registered executor handles an operation.
type ResourceType string

const (
	ResourceS3Bucket     ResourceType = "aws_s3_bucket"
	ResourceGlueDatabase ResourceType = "aws_glue_database"
	ResourceGlueTable    ResourceType = "aws_glue_table"
	ResourceDBXCluster   ResourceType = "dbx_cluster"
	ResourceDBXJob       ResourceType = "dbx_job"
	ResourceDBXCatalog   ResourceType = "dbx_catalog"
	ResourceDBXSchema    ResourceType = "dbx_schema"
	ResourceDBXTable     ResourceType = "dbx_table"
)

// OperationKind is the action an operation performs against its resource.
type OperationKind string

const (
	KindCreate  OperationKind = "create"
	KindArchive OperationKind = "archive"
)

// OperationStatus tracks an operation through its lifecycle.
type OperationStatus string

const (
	OpStatusPending    OperationStatus = "pending"
	OpStatusExecuting  OperationStatus = "executing"
	OpStatusCommitted  OperationStatus = "committed"
	OpStatusFailed     OperationStatus = "failed"
	OpStatusRolledBack OperationStatus = "rolled_back"
)

// IsTerminal returns true if the status is a terminal operation state.
func (s OperationStatus) IsTerminal() bool {
	switch s {
	case OpStatusCommitted, OpStatusFailed, OpStatusRolledBack:
		return true
	}
	return false
}

// Operation is one atomic provisioning step within a transaction.
// IDs are monotonic indexes assigned in dependency order, so every
// entry in DependsOn is strictly smaller than the operation's own ID.
type Operation struct {
	// ID is the operation's position in the transaction's execution order.
	ID int `json:"id"`

	// Kind is the action to perform (create, archive).
	Kind OperationKind `json:"kind"`

	// ResourceType selects the executor that handles this operation.
	ResourceType ResourceType `json:"resource_type"`

	// ResourceName is the fully resolved resource name, produced upstream
	// by the naming generators.
	ResourceName string `json:"resource_name"`

	// Params is an opaque payload passed to the executor. The engine
	// never inspects it.
	Params json.RawMessage `json:"params,omitempty"`

	// DependsOn lists operation IDs that must commit before this one runs.
	DependsOn []int `json:"depends_on,omitempty"`

	// Status is the current lifecycle state.
	Status OperationStatus `json:"status"`

	// RollbackData is the opaque undo snapshot captured by the executor
	// during Execute. Nil until execution completes.
	RollbackData json.RawMessage `json:"rollback_data,omitempty"`

	// ProviderMeta is provider-assigned metadata (IDs, ARNs) returned by
	// the executor on success.
	ProviderMeta json.RawMessage `json:"provider_meta,omitempty"`

	// Error holds the failure message when Status is failed.
	Error string `json:"error,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// TransactionState is the lifecycle state of a transaction.
type TransactionState string

const (
	TxStateOpen       TransactionState = "open"
	TxStateCommitted  TransactionState = "committed"
	TxStateRolledBack TransactionState = "rolled_back"
)

// Transaction is a named, ordered batch of operations with an
// all-or-nothing outcome.
type Transaction struct {
	// ID is globally unique: a UTC timestamp plus a random suffix.
	ID string `json:"id"`

	// Operations in dependency order, leaves first.
	Operations []*Operation `json:"operations"`

	State      TransactionState `json:"state"`
	CreatedAt  time.Time        `json:"created_at"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
}

// NewTransaction creates an open transaction over the given operations.
func NewTransaction(ops []*Operation) *Transaction {
	return &Transaction{
		ID:         newTxID(),
		Operations: ops,
		State:      TxStateOpen,
		CreatedAt:  time.Now().UTC(),
	}
}

// newTxID builds a sortable transaction identifier. The timestamp prefix
// keeps WAL directory listings in rough creation order; the uuid fragment
// guarantees uniqueness within the same second.
func newTxID() string {
	ts := time.Now().UTC().Format("20060102T150405")
	frag := strings.SplitN(uuid.New().String(), "-", 2)[0]
	return fmt.Sprintf("%s-%s", ts, frag)
}

// ResourceSpec is the engine's input: one resolved resource from the
// blueprint layer, with dependencies expressed as logical resource names
// within the same request.
type ResourceSpec struct {
	// Type selects the executor.
	Type ResourceType `json:"type"`

	// Name is the fully resolved resource name.
	Name string `json:"name"`

	// Kind is the action to perform; defaults to create.
	Kind OperationKind `json:"kind,omitempty"`

	// Params is the opaque executor payload.
	Params json.RawMessage `json:"params,omitempty"`

	// DependsOn lists names of other specs in the same request that must
	// be provisioned first. References outside the request are invalid.
	DependsOn []string `json:"depends_on,omitempty"`
}

// ExecuteResult is what an executor returns on success.
type ExecuteResult struct {
	// ProviderMeta is provider-assigned metadata for the state store.
	ProviderMeta json.RawMessage `json:"provider_meta,omitempty"`

	// RollbackData must be sufficient to undo the operation's effect, or
	// nil to signal "nothing to undo".
	RollbackData json.RawMessage `json:"rollback_data,omitempty"`
}

// Result summarizes a finished transaction for callers.
type Result struct {
	TxID     string           `json:"tx_id"`
	State    TransactionState `json:"state"`
	Executed int              `json:"executed"`

	// RollbackFailures is non-empty when the unwind itself hit errors;
	// those resources need manual inspection.
	RollbackFailures []RollbackFailure `json:"rollback_failures,omitempty"`
}
