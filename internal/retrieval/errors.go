package retrieval

import (
	"errors"
	"fmt"

	"github.com/italolelis/grfn_downloader/internal/archive"
)

// errRemoteStatusError is the cause recorded when the archive service itself
// reports the error status for an object.
var errRemoteStatusError = errors.New("archive reported error status")

// ManifestError is a failure of the manifest provider. It aborts the run.
type ManifestError struct {
	Key string // Selection key the manifest was requested for
	Err error
}

func (e *ManifestError) Error() string {
	return fmt.Sprintf("manifest error for %q: %v", e.Key, e.Err)
}

func (e *ManifestError) Unwrap() error {
	return e.Err
}

// CredentialError is a failure to obtain a credential lease. The initial
// acquisition failing aborts the run; a failed refresh only fails the object
// that needed it.
type CredentialError struct {
	Err error
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("credential error: %v", e.Err)
}

func (e *CredentialError) Unwrap() error {
	return e.Err
}

// InvalidObjectError rejects a manifest entry whose name does not look like
// an archive product. No remote call is made for it.
type InvalidObjectError struct {
	FileName string
	Prefix   string
}

func (e *InvalidObjectError) Error() string {
	return fmt.Sprintf("invalid object name %q: expected prefix %q", e.FileName, e.Prefix)
}

// StatusQueryError is a terminal failure of a status query, or the remote
// error status.
type StatusQueryError struct {
	FileName string
	Status   archive.Status // Set when the service answered with a status
	Err      error
}

func (e *StatusQueryError) Error() string {
	return fmt.Sprintf("status query error for %s: %v", e.FileName, e.Err)
}

func (e *StatusQueryError) Unwrap() error {
	return e.Err
}

// RestoreTimeoutError is returned once an object is still not available
// after the maximum number of polls.
type RestoreTimeoutError struct {
	FileName string
	Polls    int
	Err      error // Last poll result
}

func (e *RestoreTimeoutError) Error() string {
	return fmt.Sprintf("restore timeout for %s after %d polls", e.FileName, e.Polls)
}

func (e *RestoreTimeoutError) Unwrap() error {
	return e.Err
}

// DownloadError is a failure while streaming an available object. No file is
// left at the target path.
type DownloadError struct {
	FileName string
	Err      error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download error for %s: %v", e.FileName, e.Err)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err must abort the whole run. Only a manifest
// failure or the initial credential acquisition qualify; Scheduler returns
// per-object credential failures inside outcomes, never as an error.
func IsFatal(err error) bool {
	var (
		manifestErr   *ManifestError
		credentialErr *CredentialError
	)

	return errors.As(err, &manifestErr) || errors.As(err, &credentialErr)
}
