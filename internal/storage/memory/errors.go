package memory

import "errors"

// ErrAPIKeyNotFound is returned when no API key matches the id or hash.
var ErrAPIKeyNotFound = errors.New("api key not found")
