// Package dispatch owns the incident and vehicle state machine and the
// nearest-vehicle selector.
//
// Manager is the only writer of status fields. Transitions on one entity
// are serialised with per-entity locks, taken incident first then vehicle,
// and the pair of records produced by a transition is committed under a
// lock that readers share, so no reader observes a half-applied
// transition. This holds for a single process; running several replicas
// against one store requires partitioning entities by id.
package dispatch
