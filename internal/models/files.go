package models

import (
	"path/filepath"
	"regexp"
	"time"
)

// StatusFileLayout is the timestamp layout used in status file names.
const StatusFileLayout = "20060102150405"

var statusFilePattern = regexp.MustCompile(`^(.+)-status-(\d{14})\.json$`)

// StatusFileName returns the spool file name for a service observed at t,
// e.g. "httpd-status-20240131120000.json".
func StatusFileName(service string, t time.Time) string {
	return service + "-status-" + t.Format(StatusFileLayout) + ".json"
}

// IsStatusFileName reports whether path names a spool status file.
func IsStatusFileName(path string) bool {
	return statusFilePattern.MatchString(filepath.Base(path))
}

// ParseStatusFileName extracts the service and timestamp from a spool file name.
// The timestamp is interpreted in loc.
func ParseStatusFileName(path string, loc *time.Location) (string, time.Time, bool) {
	m := statusFilePattern.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return "", time.Time{}, false
	}
	ts, err := time.ParseInLocation(StatusFileLayout, m[2], loc)
	if err != nil {
		return "", time.Time{}, false
	}
	return m[1], ts, true
}
