package framegraph

// HealthMonitor observes compute dispatches and reports device health.
// When attached to a graph it is called symmetrically around the execution
// of every compute-capable node; an unhealthy report at any checkpoint
// aborts the frame after the command buffers are properly closed.
//
// Implementations typically wrap a GPU timeout detector. IsHealthy may
// block on a device query, which is a deliberate stall point and should be
// cheap in production monitors.
type HealthMonitor interface {
	// BeginDispatch marks the start of a monitored dispatch. sizeHint is a
	// rough workload measure (element count or workgroup count) used for
	// timeout scaling; 0 when unknown.
	BeginDispatch(name string, sizeHint uint64)

	// EndDispatch marks the end of the dispatch started last.
	EndDispatch()

	// IsHealthy reports whether the device is still responsive.
	IsHealthy() bool
}

// PressureSource reports external GPU memory pressure as a scalar in
// [0.0, 1.0]. The graph consults it before each frame to decide whether to
// run cleanup and eviction.
type PressureSource interface {
	MemoryPressure() float64
}

// WorkloadEstimator is an optional Node interface. Nodes that can estimate
// their dispatch size implement it so the health monitor receives a
// meaningful sizeHint.
type WorkloadEstimator interface {
	WorkloadHint() uint64
}
