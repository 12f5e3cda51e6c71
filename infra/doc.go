// Package infra contains the technical adapters of the dispatch service:
// stores, routing providers, upstream links, the websocket endpoint and
// metrics exporters. These packages depend only on interfaces defined in
// the core packages.
package infra
