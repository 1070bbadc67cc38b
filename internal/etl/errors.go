package etl

import "errors"

var errClosed = errors.New("etl: closed")
