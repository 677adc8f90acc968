package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Executor is the per-resource-type capability the coordinator drives. The
// engine never branches on provider identity; everything it knows about a
// provider goes through this contract.
type Executor interface {
	// Execute performs the operation once. If the underlying provider call
	// partially succeeds and then fails, the implementation must still
	// return enough rollback data to undo whatever took effect, or return
	// a nil ExecuteResult to signal nothing happened.
	Execute(ctx context.Context, op *Operation) (*ExecuteResult, error)

	// Rollback undoes the operation using op.RollbackData. It must
	// tolerate an already-absent resource and a nil rollback snapshot:
	// rolling back something that never fully existed is a no-op, not an
	// error.
	Rollback(ctx context.Context, op *Operation) error
}

// Registry maps resource types to their executors. It is populated once at
// startup; adding a new resource type never touches the coordinator.
type Registry struct {
	mu        sync.RWMutex
	executors map[ResourceType]Executor
}

// NewRegistry creates an empty executor registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[ResourceType]Executor)}
}

// Register binds an executor to a resource type. Re-registering a type
// replaces the previous executor.
func (r *Registry) Register(rt ResourceType, ex Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[rt] = ex
}

// Get resolves the executor for a resource type.
func (r *Registry) Get(rt ResourceType) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ex, ok := r.executors[rt]
	if !ok {
		return nil, NewValidationError(
			fmt.Sprintf("no executor registered for resource type %q", rt), nil)
	}
	return ex, nil
}

// Types returns the registered resource types, sorted for stable output.
func (r *Registry) Types() []ResourceType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]ResourceType, 0, len(r.executors))
	for rt := range r.executors {
		types = append(types, rt)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// archiveExecutor backs archive operations. Archiving only flips the
// archived flag in the state store at commit time; there is no provider
// call to make or undo.
type archiveExecutor struct{}

func (archiveExecutor) Execute(_ context.Context, _ *Operation) (*ExecuteResult, error) {
	return &ExecuteResult{}, nil
}

func (archiveExecutor) Rollback(_ context.Context, _ *Operation) error {
	return nil
}
