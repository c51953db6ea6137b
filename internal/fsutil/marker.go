package fsutil

import "strings"

// ManagedMarkerPrefix tags lines tw appends to files it does not own, such as
// the include lines written to TASKRC.
const ManagedMarkerPrefix = "# tw:managed"

// ManagedMarker returns the trailing marker for lines owned by app.
func ManagedMarker(app string) string {
	return ManagedMarkerPrefix + " " + app
}

// ManagedOwner reports which app owns line, if it carries a marker.
func ManagedOwner(line string) (string, bool) {
	idx := strings.LastIndex(line, ManagedMarkerPrefix)
	if idx < 0 {
		return "", false
	}
	owner := strings.TrimSpace(line[idx+len(ManagedMarkerPrefix):])
	if owner == "" {
		return "", false
	}
	return owner, true
}

// StripMarker returns line without its trailing managed marker.
func StripMarker(line string) string {
	idx := strings.LastIndex(line, ManagedMarkerPrefix)
	if idx < 0 {
		return line
	}
	return strings.TrimRight(line[:idx], " \t")
}
