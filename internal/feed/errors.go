package feed

import (
	"errors"
	"fmt"
)

// ErrStaleCompletion marks work that resolved after its subscription was
// torn down. It is never surfaced to observers.
var ErrStaleCompletion = errors.New("stale completion")

// ErrClosed is returned when starting a synchronizer that was already closed.
var ErrClosed = errors.New("feed closed")

// FetchError reports a failed backfill request.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	default:
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

// ChannelError reports a transport failure on the live channel.
type ChannelError struct {
	Op  string // dial or read
	Err error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("live channel %s: %v", e.Op, e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }

// MalformedMessage reports a frame that could not be turned into a post.
type MalformedMessage struct {
	Reason string
	Frame  []byte
	Err    error
}

func (e *MalformedMessage) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed message: %s: %v", e.Reason, e.Err)
	}
	return "malformed message: " + e.Reason
}

func (e *MalformedMessage) Unwrap() error { return e.Err }

// IsMalformed reports whether err is a MalformedMessage.
func IsMalformed(err error) bool {
	var mm *MalformedMessage
	return errors.As(err, &mm)
}
