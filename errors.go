package framegraph

import "errors"

// Resource manager errors.
var (
	// ErrDuplicateResourceName is returned in logs when a create or import
	// call reuses the name of a live resource.
	ErrDuplicateResourceName = errors.New("framegraph: resource name already registered")

	// ErrAllocationFailed is returned when allocation fails after the retry
	// strategy for the resource's criticality class is exhausted.
	ErrAllocationFailed = errors.New("framegraph: allocation failed after all attempts")

	// ErrNoCompatibleMemory is returned by allocators when no memory domain
	// can satisfy a request. It is an expected, retried condition.
	ErrNoCompatibleMemory = errors.New("framegraph: no compatible memory domain")

	// ErrUnknownResource is returned when an operation references a
	// resource id that was never issued or has been removed.
	ErrUnknownResource = errors.New("framegraph: unknown resource id")

	// ErrNilAllocator is returned when a resource manager is created
	// without an allocator.
	ErrNilAllocator = errors.New("framegraph: allocator is nil")
)

// Graph lifecycle errors.
var (
	// ErrNotInitialized is returned when operating on a graph before
	// Initialize succeeded.
	ErrNotInitialized = errors.New("framegraph: graph not initialized")

	// ErrAlreadyInitialized is returned when Initialize is called twice
	// without an intervening Shutdown.
	ErrAlreadyInitialized = errors.New("framegraph: graph already initialized")

	// ErrNilDevice is returned by Initialize when no device is supplied.
	ErrNilDevice = errors.New("framegraph: device is nil")

	// ErrNilQueue is returned by Initialize when neither queue is supplied.
	ErrNilQueue = errors.New("framegraph: no queue supplied")

	// ErrNilNode is returned by AddNode when the node is nil.
	ErrNilNode = errors.New("framegraph: node is nil")

	// ErrUnknownNode is returned when an operation references a node id
	// that was never issued or has been removed.
	ErrUnknownNode = errors.New("framegraph: unknown node id")

	// ErrNotCompiled is returned when execution is requested and
	// compilation failed to produce any usable order.
	ErrNotCompiled = errors.New("framegraph: graph is not compiled")

	// ErrExecuting is returned when the graph is mutated mid-execution.
	ErrExecuting = errors.New("framegraph: graph is executing")
)

// Execution errors.
var (
	// ErrUnhealthyDevice is returned when the health monitor reports an
	// unhealthy device at a dispatch checkpoint. The frame's command
	// buffers are discarded before this error is returned.
	ErrUnhealthyDevice = errors.New("framegraph: device reported unhealthy, frame aborted")

	// ErrNodeFailed wraps a node Execute error that aborted the frame.
	ErrNodeFailed = errors.New("framegraph: node execution failed")
)
