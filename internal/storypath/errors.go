package storypath

import "errors"

var (
	ErrMalformedPayload  = errors.New("malformed qr payload")
	ErrWrongProject      = errors.New("qr code belongs to another project")
	ErrUnknownLocation   = errors.New("location is not part of this project")
	ErrNotScannable      = errors.New("location is not unlocked by qr code")
	ErrAlreadyVisited    = errors.New("location already visited")
	ErrInvalidCoordinate = errors.New("invalid coordinate")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrRemoteUnavailable = errors.New("remote store unavailable")
	ErrNotFound          = errors.New("not found")
	ErrDuplicateEvent    = errors.New("tracking event already recorded")
	ErrRejected          = errors.New("store rejected the write")
	ErrCaptureDisarmed   = errors.New("qr capture is not armed")
	ErrNotTracking       = errors.New("no active project")
	ErrSessionEnded      = errors.New("session ended")
)

// Retryable reports whether err should be surfaced as a retryable alert.
func Retryable(err error) bool {
	return errors.Is(err, ErrRemoteUnavailable)
}
