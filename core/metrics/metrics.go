// Package metrics provides abstract instrumentation interfaces so the engine
// can be measured by pluggable backends (Prometheus, StatsD, ...) without
// coupling the core packages to any one of them.
package metrics

// Timer measures the duration of an operation. Call ObserveDuration when the
// operation completes to record the elapsed time:
//
//	defer m.StoreAppendDuration("account").ObserveDuration()
type Timer interface {
	ObserveDuration()
}
