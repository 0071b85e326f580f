package hidio

import (
	"errors"
	"fmt"
)

var (
	// ErrBufferFull is returned when a chunk buffer has no free slot. The
	// caller decides whether to drop, block, or back-pressure the
	// transport.
	ErrBufferFull = errors.New("chunk buffer full")

	// ErrChunkSize is returned when a chunk size is outside
	// [MinChunkSize, MaxChunkSize] or a chunk is longer than the
	// configured size.
	ErrChunkSize = errors.New("invalid chunk size")

	// ErrMessageTooLarge is returned when a payload exceeds the maximum
	// message size or the 10-bit continuation budget.
	ErrMessageTooLarge = errors.New("message exceeds maximum payload size")

	// ErrResponseTooLarge is returned when an ACK or NAK payload does not
	// fit a single frame. Responses are never split.
	ErrResponseTooLarge = errors.New("response does not fit a single frame")

	// ErrUnsupportedID names the case of a Data message whose command the
	// registry does not carry. The dispatcher answers such a message with
	// an empty NAK and does not return this error.
	ErrUnsupportedID = errors.New("unsupported command id")

	// ErrPendingCollision is returned by SendMessage when a message with
	// the same command ID is already awaiting a response.
	ErrPendingCollision = errors.New("message with same id already outstanding")

	// ErrPendingTableFull is returned by SendMessage when the
	// outstanding-response table is at capacity.
	ErrPendingTableFull = errors.New("outstanding-response table full")

	// ErrPeerDesync cancels outstanding sends after the peer emits
	// repeated Sync frames, signalling it has lost request state.
	ErrPeerDesync = errors.New("peer resynchronized while awaiting response")

	// ErrClosed is returned once the dispatcher has been shut down.
	ErrClosed = errors.New("dispatcher closed")

	// ErrInvariant marks protocol invariant violations. The connection
	// stays usable; the event is logged and the offending frame dropped.
	ErrInvariant = errors.New("protocol invariant violated")
)

// FramingError describes a malformed or out-of-sequence frame. When HasID is
// set the dispatcher answers with a NAK carrying the offending ID.
type FramingError struct {
	Reason string
	ID     uint32
	WideID bool
	HasID  bool
}

func (e *FramingError) Error() string {
	if e.HasID {
		return fmt.Sprintf("framing error: %s (id 0x%04x)", e.Reason, e.ID)
	}
	return "framing error: " + e.Reason
}

// NakError is returned by command handlers to reject a request with a
// command-specific NAK payload. A handler error of any other type produces
// an empty NAK.
type NakError struct {
	Payload []byte
}

func (e *NakError) Error() string {
	return fmt.Sprintf("command rejected (%d nak payload bytes)", len(e.Payload))
}
