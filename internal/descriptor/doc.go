// Package descriptor parses registry metadata records into validated app
// descriptors and plans where each declared file lands on disk.
//
// A record is a list of key = value lines:
//
//	name = recurrence
//	version = 1.2.0
//	type = hook
//	files = on-add_recurrence.py:hook, on-modify_recurrence.py:hook, recurrence.rc:config
//	symlinks = on-modify_recurrence.py:on-add_recurrence.py
//	checksums = sha256:..., , sha256:...
//	requires = python3, taskwarrior>=2.6
//
// Parsing performs no I/O beyond reading its input.
package descriptor
