package fsutil

import "testing"

func TestManagedOwner(t *testing.T) {
	line := "include /home/u/.task/config/recurrence.rc  " + ManagedMarker("recurrence")
	owner, ok := ManagedOwner(line)
	if !ok || owner != "recurrence" {
		t.Fatalf("owner = %q, ok = %v", owner, ok)
	}
	if got := StripMarker(line); got != "include /home/u/.task/config/recurrence.rc" {
		t.Fatalf("StripMarker = %q", got)
	}
	if _, ok := ManagedOwner("include /etc/x.rc"); ok {
		t.Fatal("plain line must not be managed")
	}
	if _, ok := ManagedOwner("x " + ManagedMarkerPrefix); ok {
		t.Fatal("marker without owner must not count")
	}
}
