package storage

import "errors"

// ErrNotFound is returned when a requested record does not exist — notably
// by UpdateInvocation when the initial Create never landed. Callers in the
// audit path log it and move on rather than failing the business call.
var ErrNotFound = errors.New("storage: not found")
