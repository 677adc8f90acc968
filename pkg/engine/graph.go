package engine

import (
	"fmt"
	"strings"
)

// visit states for the depth-first traversal.
const (
	visitUnseen = iota
	visitInProgress
	visitDone
)

// GraphBuilder turns a flat list of resource specs into a dependency-ordered
// list of operations. Nodes are addressed by slice index with a parallel
// visit-state slice; a node encountered while still in progress signals a
// dependency cycle.
type GraphBuilder struct {
	// specs indexed by position in the request
	specs []ResourceSpec

	// byName maps resource names to spec indexes
	byName map[string]int

	// edges maps a spec index to the indexes of its dependencies
	edges [][]int

	// state is the per-node visit state, parallel to specs
	state []int

	// order collects spec indexes in post-order (dependencies first)
	order []int
}

// NewGraphBuilder creates a graph builder over the given specs.
func NewGraphBuilder(specs []ResourceSpec) *GraphBuilder {
	return &GraphBuilder{
		specs:  specs,
		byName: make(map[string]int, len(specs)),
	}
}

// BuildOperations validates the resource graph and emits operations in an
// order where every operation appears after everything it depends on. Any
// cycle or unresolved reference fails the whole request before a single
// operation executes.
func BuildOperations(specs []ResourceSpec) ([]*Operation, error) {
	return NewGraphBuilder(specs).Build()
}

// Build runs validation, cycle detection, and the ordering traversal.
func (b *GraphBuilder) Build() ([]*Operation, error) {
	if err := b.index(); err != nil {
		return nil, err
	}
	if err := b.resolveEdges(); err != nil {
		return nil, err
	}

	b.state = make([]int, len(b.specs))
	b.order = make([]int, 0, len(b.specs))
	for i := range b.specs {
		if b.state[i] == visitUnseen {
			if cycle := b.visit(i, nil); cycle != nil {
				return nil, NewValidationError(
					fmt.Sprintf("dependency cycle detected: %s", b.formatCycle(cycle)), nil)
			}
		}
	}

	return b.emit(), nil
}

// index registers every spec by name and rejects duplicates.
func (b *GraphBuilder) index() error {
	for i, spec := range b.specs {
		if spec.Name == "" {
			return NewValidationError(
				fmt.Sprintf("resource %d (%s) has an empty name", i, spec.Type), nil)
		}
		if prev, exists := b.byName[spec.Name]; exists {
			return NewValidationError(
				fmt.Sprintf("duplicate resource name %q (resources %d and %d)", spec.Name, prev, i),
				nil).WithResource(spec.Name)
		}
		b.byName[spec.Name] = i
	}
	return nil
}

// resolveEdges translates name references into index edges. A reference to
// a resource not present in the same request is a validation error; the
// engine never looks outside the current request graph.
func (b *GraphBuilder) resolveEdges() error {
	b.edges = make([][]int, len(b.specs))
	for i, spec := range b.specs {
		for _, dep := range spec.DependsOn {
			target, exists := b.byName[dep]
			if !exists {
				return NewValidationError(
					fmt.Sprintf("resource %q references %q, which is not part of this request",
						spec.Name, dep), nil).WithResource(spec.Name)
			}
			if target == i {
				return NewValidationError(
					fmt.Sprintf("resource %q depends on itself", spec.Name),
					nil).WithResource(spec.Name)
			}
			b.edges[i] = append(b.edges[i], target)
		}
	}
	return nil
}

// visit walks dependencies depth-first and appends nodes in post-order.
// A non-nil return is the cycle path, innermost node first.
func (b *GraphBuilder) visit(i int, path []int) []int {
	b.state[i] = visitInProgress
	path = append(path, i)

	for _, dep := range b.edges[i] {
		switch b.state[dep] {
		case visitUnseen:
			if cycle := b.visit(dep, path); cycle != nil {
				return cycle
			}
		case visitInProgress:
			// Trim the path down to the cycle itself.
			start := 0
			for j, n := range path {
				if n == dep {
					start = j
					break
				}
			}
			return append(path[start:], dep)
		}
	}

	b.state[i] = visitDone
	b.order = append(b.order, i)
	return nil
}

// emit assigns monotonic operation ids in traversal order and rewrites
// name references as id references.
func (b *GraphBuilder) emit() []*Operation {
	idByIndex := make(map[int]int, len(b.order))
	for id, idx := range b.order {
		idByIndex[idx] = id
	}

	ops := make([]*Operation, 0, len(b.order))
	for id, idx := range b.order {
		spec := b.specs[idx]
		kind := spec.Kind
		if kind == "" {
			kind = KindCreate
		}

		dependsOn := make([]int, 0, len(b.edges[idx]))
		for _, dep := range b.edges[idx] {
			dependsOn = append(dependsOn, idByIndex[dep])
		}

		ops = append(ops, &Operation{
			ID:           id,
			Kind:         kind,
			ResourceType: spec.Type,
			ResourceName: spec.Name,
			Params:       spec.Params,
			DependsOn:    dependsOn,
			Status:       OpStatusPending,
		})
	}
	return ops
}

// formatCycle renders a cycle path for error messages.
func (b *GraphBuilder) formatCycle(cycle []int) string {
	names := make([]string, 0, len(cycle))
	for _, idx := range cycle {
		names = append(names, b.specs[idx].Name)
	}
	return strings.Join(names, " -> ")
}
