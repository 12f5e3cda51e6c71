package events

import "strings"

// Room prefixes.
const (
	RolePrefix     = "role:"
	IncidentPrefix = "incident:"
	VehiclePrefix  = "vehicle:"
)

func RoleRoom(role string) string   { return RolePrefix + role }
func IncidentRoom(id string) string { return IncidentPrefix + id }
func VehicleRoom(id string) string  { return VehiclePrefix + id }

// ValidRoom reports whether name is one of the known room kinds with a
// non-empty key.
func ValidRoom(name string) bool {
	for _, p := range []string{RolePrefix, IncidentPrefix, VehiclePrefix} {
		if strings.HasPrefix(name, p) && len(name) > len(p) {
			return true
		}
	}
	return false
}
