// Package simulation replays vehicles along their route polylines on a
// fixed tick. Each tick moves every plan's cursor by the speed factor,
// clamped to the last waypoint, and publishes the waypoint at the cursor.
// The step is a constant number of waypoints per tick whatever the
// distance between them.
//
// At most one run is active per Simulator. Starting a run replaces the
// active one.
package simulation
