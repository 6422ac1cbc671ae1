package bridge

import "errors"

var errMissingEntry = errors.New("queue returned no result for message")
