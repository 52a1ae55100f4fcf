package db

import "errors"

// Sentinel errors surfaced to the request path. Callers match with
// errors.Is to translate into HTTP status codes.
var (
	ErrAlertNotFound      = errors.New("alert not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrTeamNotFound       = errors.New("team not found")
	ErrPreferenceNotFound = errors.New("preference not found")
	ErrDeliveryNotFound   = errors.New("delivery not found")
)
