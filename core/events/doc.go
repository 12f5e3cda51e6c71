// Package events defines the two message vocabularies the relay speaks and
// the boundary between them.
//
// Downstream events go to connected clients:
//   - LocationUpdated: vehicle.locationUpdated
//   - StatusChanged: vehicle.statusChanged
//   - IncidentAssigned: incident.assigned
//   - IncidentDispatch: incident.dispatch
//   - IncidentUpdated: incident.updated
//
// Upstream messages are exchanged with the tracking service:
//   - TrackingPosition: tracking.position
//   - TrackingDispatch: tracking.dispatch
//
// Each variant carries its own translation method, so a new variant on either
// side does not compile until its mapping is written.
package events
