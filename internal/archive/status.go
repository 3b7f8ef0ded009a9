package archive

import "strings"

// Status is the placement of an object as reported by the archive service.
type Status string

const (
	// StatusArchived is cold storage with no restore requested yet.
	StatusArchived Status = "archived"
	// StatusRestoring is a restore in progress.
	StatusRestoring Status = "restoring"
	// StatusAvailable means the object can be streamed.
	StatusAvailable Status = "available"
	// StatusError is the service's own error sentinel.
	StatusError Status = "error"
)

// ParseStatus maps the service vocabulary onto Status. Any value other than
// archived, available or error means the object is on its way out of cold
// storage.
func ParseStatus(raw string) Status {
	switch s := Status(strings.ToLower(strings.TrimSpace(raw))); s {
	case StatusArchived, StatusAvailable, StatusError:
		return s
	default:
		return StatusRestoring
	}
}
