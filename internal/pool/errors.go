package pool

import (
	"errors"
	"fmt"
)

// ErrPoolClosed is returned by Acquire after CloseAll.
var ErrPoolClosed = errors.New("connection pool closed")

// ConnectionError reports a failed or timed-out dial to the source database.
// It is fatal to the operation that asked for the connection.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	if e.Addr == "" {
		return fmt.Sprintf("connecting to source database: %v", e.Err)
	}
	return fmt.Sprintf("connecting to source database at %s: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }
