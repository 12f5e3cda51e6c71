// Package factory instantiates pluggable modules from configuration. A module
// is named by a type string and carries a map of raw settings that its
// factory decodes into a typed struct.
//
// The metrics sinks are configured this way:
//
//	metrics:
//	  sinks:
//	    - type: prometheus
//	    - type: influx
//	      conf: {url: "http://influx:8086", org: ems, bucket: dispatch}
//
// and resolved through a Registry:
//
//	reg := factory.NewRegistry[metrics.MetricsSink]()
//	_ = reg.Register("influx", newInfluxSink)
//	s, err := reg.Create(cfg.Metrics.Sinks[1])
package factory
