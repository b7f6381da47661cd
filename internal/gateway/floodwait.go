package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gotd/td/tgerr"

	"github.com/local/forumcast/internal/errs"
)

// floodWaitError is the typed shape a flood-wait signal is classified into
// before the rest of the package only ever sees errs.FloodWait.
type floodWaitError struct {
	seconds int
	err     error
}

func (e *floodWaitError) Error() string {
	return fmt.Sprintf("flood wait %ds: %v", e.seconds, e.err)
}
func (e *floodWaitError) Unwrap() error { return e.err }

// asFloodWait reports whether err is an upstream FLOOD_WAIT signal and, if
// so, how many seconds the caller was told to wait.
func asFloodWait(err error) (int, bool) {
	if err == nil {
		return 0, false
	}
	if d, ok := tgerr.FloodWait(err); ok {
		return int(d / time.Second), true
	}
	var fw *floodWaitError
	if errors.As(err, &fw) {
		return fw.seconds, true
	}
	return 0, false
}

// withFloodWaitRetry runs call once; on a FLOOD_WAIT signal it sleeps N+1
// seconds and retries exactly once more, per the rate-limit contract in
// spec §4.2. A second FLOOD_WAIT is returned wrapped as an errs.FloodWait
// error; any other error is returned classified by classifyUpstreamErr.
func withFloodWaitRetry(ctx context.Context, op string, call func() error) error {
	err := call()
	if err == nil {
		return nil
	}
	seconds, ok := asFloodWait(err)
	if !ok {
		return classifyUpstreamErr(op, err)
	}
	select {
	case <-time.After(time.Duration(seconds+1) * time.Second):
	case <-ctx.Done():
		return ctx.Err()
	}
	err = call()
	if err == nil {
		return nil
	}
	if _, ok := asFloodWait(err); ok {
		return errs.New(errs.FloodWait, op, err)
	}
	return classifyUpstreamErr(op, err)
}
