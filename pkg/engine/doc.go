// Package engine is the transaction coordinator for resource provisioning.
//
// A run takes a flat list of resource specs, orders them by dependency,
// and executes them sequentially as one all-or-nothing transaction under
// an exclusive advisory file lock. Every step is recorded in a per
// transaction write-ahead log before it takes effect, so an interrupted
// run can be rolled back by Recover. On success the resources are
// committed to the state store; on failure every operation that already
// took effect is rolled back in reverse order.
//
// The engine never talks to a provider directly. Executors registered
// per resource type perform the provider calls, return opaque provider
// metadata for the state store, and undo their own work during rollback
// using the snapshot they produced at execute time.
package engine
