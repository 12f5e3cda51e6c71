// Package metrics defines the sink port the dispatch service records its
// activity through. A sink must implement MetricsSink; the optional recorder
// interfaces are discovered with type assertions so a sink only implements
// what it can store. Sinks are built from configuration through the module
// registry and combined with NewMultiSink when several are configured.
package metrics
