// Package metrics holds the instrumentation interfaces the core packages
// depend on. Backends such as adapters/prometheus implement them; the no-op
// variants are used when no backend is configured.
package metrics

// Timer measures the duration of an operation. Call ObserveDuration when
// the operation completes:
//
//	defer m.RepoSaveDuration("inventory-item").ObserveDuration()
type Timer interface {
	ObserveDuration()
}
