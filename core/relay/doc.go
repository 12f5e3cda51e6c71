// Package relay implements the event relay: downstream clients joined to
// rooms, and a single supervised upstream link to the tracking service.
//
// Every delivery is fire-and-forget. A client that cannot keep up misses
// events, and messages for the upstream link are dropped while it is down.
package relay
