package hidio

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testChunk = 64

func pad(chunk []byte) []byte {
	out := make([]byte, testChunk)
	copy(out, chunk)
	return out
}

func fill(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i)
	}
	return out
}

func TestEncoder_SingleFrameData(t *testing.T) {
	enc := NewEncoder(testChunk)
	frames, err := enc.Frames(Message{Kind: PacketData, ID: 0x0001, Payload: []byte{0x02}})
	require.NoError(t, err)
	require.Len(t, frames, 1)

	// header, length (payload + 2 id bytes), id LE, payload, zero padding
	assert.Equal(t, pad([]byte{0x00, 0x03, 0x01, 0x00, 0x02}), frames[0])
}

func TestEncoder_EmptyAck(t *testing.T) {
	enc := NewEncoder(testChunk)
	frames, err := enc.Frames(Message{Kind: PacketACK, ID: 0x0001})
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, pad([]byte{0x20, 0x02, 0x01, 0x00}), frames[0])
}

func TestEncoder_TwoFrameData(t *testing.T) {
	enc := NewEncoder(testChunk)
	payload := fill(100)
	frames, err := enc.Frames(Message{Kind: PacketData, ID: 0x0017, Payload: payload})
	require.NoError(t, err)
	require.Len(t, frames, 2)

	// First frame: Data with continuation flag, length = 1 pending
	// continuation, then the full 60-byte first-frame payload.
	want := append([]byte{0x10, 0x01, 0x17, 0x00}, payload[:60]...)
	assert.Equal(t, pad(want), frames[0])

	// Final frame: Continued, W=0, 40 payload bytes.
	want = append([]byte{0x80, 0x28}, payload[60:]...)
	assert.Equal(t, pad(want), frames[1])
}

func TestEncoder_NADataContinuations(t *testing.T) {
	enc := NewEncoder(testChunk)
	frames, err := enc.Frames(Message{Kind: PacketNAData, ID: 0x0017, Payload: fill(130)})
	require.NoError(t, err)
	require.Len(t, frames, 3)

	assert.Equal(t, byte(PacketNAData)<<5|hdrBitCont, frames[0][0])
	assert.Equal(t, byte(0x02), frames[0][1]) // two continuations pending
	assert.Equal(t, byte(PacketNAContinued)<<5|hdrBitCont, frames[1][0])
	assert.Equal(t, byte(0x01), frames[1][1]) // one continuation pending
	assert.Equal(t, byte(PacketNAContinued)<<5, frames[2][0])
	assert.Equal(t, byte(130-60-62), frames[2][1])
}

func TestEncoder_WideID(t *testing.T) {
	enc := NewEncoder(testChunk)

	// Forced 32-bit framing of a small ID.
	frames, err := enc.Frames(Message{Kind: PacketData, ID: 0x0005, WideID: true, Payload: []byte{0xAB}})
	require.NoError(t, err)
	assert.Equal(t, pad([]byte{0x08, 0x05, 0x05, 0x00, 0x00, 0x00, 0xAB}), frames[0])

	// IDs above 16 bits force 32-bit framing on their own.
	frames, err = enc.Frames(Message{Kind: PacketData, ID: 0x0001_0000})
	require.NoError(t, err)
	assert.Equal(t, pad([]byte{0x08, 0x04, 0x00, 0x00, 0x01, 0x00}), frames[0])
}

func TestEncoder_ResponseNeverSplit(t *testing.T) {
	enc := NewEncoder(testChunk)

	_, err := enc.Frames(Message{Kind: PacketACK, ID: 0x02, Payload: fill(61)})
	assert.ErrorIs(t, err, ErrResponseTooLarge)

	_, err = enc.Frames(Message{Kind: PacketNAK, ID: 0x02, Payload: fill(61)})
	assert.ErrorIs(t, err, ErrResponseTooLarge)

	// The largest single-frame response still encodes.
	frames, err := enc.Frames(Message{Kind: PacketACK, ID: 0x02, Payload: fill(60)})
	require.NoError(t, err)
	assert.Len(t, frames, 1)
}

func TestEncoder_FrameCountFormula(t *testing.T) {
	enc := NewEncoder(testChunk)
	contCap := testChunk - 2

	for _, n := range []int{0, 1, 59, 60, 61, 62, 100, 122, 123, 124, 1000, 8192} {
		frames, err := enc.Frames(Message{Kind: PacketData, ID: 0x0002, Payload: fill(n)})
		require.NoError(t, err, "n=%d", n)

		want := (n + 2 + contCap - 1) / contCap
		if want == 0 {
			want = 1
		}
		assert.Len(t, frames, want, "n=%d", n)

		// All frames but the last carry the continuation flag.
		for i, f := range frames {
			if i == len(frames)-1 {
				assert.Zero(t, f[0]&hdrBitCont, "n=%d frame %d", n, i)
			} else {
				assert.NotZero(t, f[0]&hdrBitCont, "n=%d frame %d", n, i)
			}
		}
	}
}

func TestEncoder_EncodeChecksCapacityUpfront(t *testing.T) {
	enc := NewEncoder(testChunk)
	tx := NewChunkBuffer(testChunk, 2)

	// Three frames needed, two slots free: nothing may be enqueued.
	err := enc.Encode(Message{Kind: PacketData, ID: 0x02, Payload: fill(130)}, tx)
	assert.ErrorIs(t, err, ErrBufferFull)
	assert.Equal(t, 0, tx.Len())

	require.NoError(t, enc.Encode(Message{Kind: PacketData, ID: 0x02, Payload: fill(100)}, tx))
	assert.Equal(t, 2, tx.Len())
}

func decodeAll(t *testing.T, dec *Decoder, frames [][]byte) *Message {
	t.Helper()
	var msg *Message
	for _, f := range frames {
		res, err := dec.Decode(f)
		require.NoError(t, err)
		if res.Message != nil {
			require.Nil(t, msg, "more than one message decoded")
			msg = res.Message
		}
	}
	return msg
}

func TestDecoder_Roundtrip(t *testing.T) {
	enc := NewEncoder(testChunk)
	dec := NewDecoder(testChunk, 8192)

	cases := []Message{
		{Kind: PacketData, ID: 0x0002, Payload: []byte{0xAC}},
		{Kind: PacketData, ID: 0x0002, Payload: fill(60)},
		{Kind: PacketData, ID: 0x0002, Payload: fill(110)},
		{Kind: PacketData, ID: 0x0002, Payload: fill(170)},
		{Kind: PacketData, ID: 0x0017, Payload: nil},
		{Kind: PacketNAData, ID: 0x0017, Payload: fill(200)},
		{Kind: PacketACK, ID: 0x0001, Payload: []byte{0x01, 0x02}},
		{Kind: PacketNAK, ID: 0x0016, Payload: []byte{0x01}},
		{Kind: PacketData, ID: 0x0005, WideID: true, Payload: fill(99)},
		{Kind: PacketData, ID: 0x00AB_0012, Payload: fill(300)},
		{Kind: PacketData, ID: 0x0002, Payload: fill(8192)},
	}

	for _, want := range cases {
		frames, err := enc.Frames(want)
		require.NoError(t, err)

		got := decodeAll(t, dec, frames)
		require.NotNil(t, got, "id=0x%04x n=%d", want.ID, len(want.Payload))
		assert.Equal(t, want.Kind, got.Kind)
		assert.Equal(t, want.ID, got.ID)
		assert.Equal(t, want.WideID || want.ID > 0xFFFF, got.WideID)
		if len(want.Payload) == 0 {
			assert.Empty(t, got.Payload)
		} else {
			assert.True(t, bytes.Equal(want.Payload, got.Payload))
		}
	}
}

func TestDecoder_SyncOnly(t *testing.T) {
	dec := NewDecoder(testChunk, 1024)

	res, err := dec.Decode([]byte{SyncByte})
	require.NoError(t, err)
	assert.True(t, res.Sync)
	assert.Nil(t, res.Message)
}

func TestDecoder_SyncDiscardsPartialMessage(t *testing.T) {
	enc := NewEncoder(testChunk)
	dec := NewDecoder(testChunk, 1024)

	payload := fill(100)
	frames, err := enc.Frames(Message{Kind: PacketData, ID: 0x0017, Payload: payload})
	require.NoError(t, err)
	require.Len(t, frames, 2)

	// First frame, then a Sync, then the full message again: exactly one
	// message is delivered, carrying the final attempt's payload.
	res, err := dec.Decode(frames[0])
	require.NoError(t, err)
	require.Nil(t, res.Message)

	res, err = dec.Decode(pad([]byte{SyncByte}))
	require.NoError(t, err)
	assert.True(t, res.Sync)

	msg := decodeAll(t, dec, frames)
	require.NotNil(t, msg)
	assert.Equal(t, payload, msg.Payload)
}

func TestDecoder_OversizeLengthNAKsWithID(t *testing.T) {
	dec := NewDecoder(testChunk, 1024)

	// Data frame declaring 0x3FF payload bytes on a 64-byte chunk.
	chunk := pad([]byte{0x03, 0xFF, 0x23, 0x01})
	_, err := dec.Decode(chunk)

	var fe *FramingError
	require.ErrorAs(t, err, &fe)
	assert.True(t, fe.HasID)
	assert.Equal(t, uint32(0x0123), fe.ID)
}

func TestDecoder_OversizeAckIsInvariantViolation(t *testing.T) {
	dec := NewDecoder(testChunk, 1024)

	chunk := pad([]byte{0x23, 0xFF, 0x01, 0x00})
	_, err := dec.Decode(chunk)
	assert.ErrorIs(t, err, ErrInvariant)

	// Split ACK frames are equally invalid.
	chunk = pad([]byte{0x30, 0x01, 0x01, 0x00})
	_, err = dec.Decode(chunk)
	assert.ErrorIs(t, err, ErrInvariant)
}

func TestDecoder_ReservedKindDiscardedSilently(t *testing.T) {
	dec := NewDecoder(testChunk, 1024)

	res, err := dec.Decode(pad([]byte{0xE0, 0x10, 0xAA, 0xBB}))
	require.NoError(t, err)
	assert.Nil(t, res.Message)
	assert.False(t, res.Sync)
}

func TestDecoder_ContinuationWithoutMessage(t *testing.T) {
	dec := NewDecoder(testChunk, 1024)

	_, err := dec.Decode(pad([]byte{0x80, 0x05, 1, 2, 3, 4, 5}))
	assert.ErrorIs(t, err, ErrInvariant)
}

func TestDecoder_WrongContinuationKind(t *testing.T) {
	enc := NewEncoder(testChunk)
	dec := NewDecoder(testChunk, 1024)

	frames, err := enc.Frames(Message{Kind: PacketData, ID: 0x0017, Payload: fill(100)})
	require.NoError(t, err)

	_, err = dec.Decode(frames[0])
	require.NoError(t, err)

	// NAContinued may not continue a Data message.
	chunk := pad([]byte{byte(PacketNAContinued) << 5, 0x05, 1, 2, 3, 4, 5})
	_, err = dec.Decode(chunk)

	var fe *FramingError
	require.ErrorAs(t, err, &fe)
	assert.True(t, fe.HasID)
	assert.Equal(t, uint32(0x0017), fe.ID)

	// In-flight state was discarded; the full message decodes afterwards.
	msg := decodeAll(t, dec, frames)
	require.NotNil(t, msg)
}

func TestDecoder_ContinuationCountMismatch(t *testing.T) {
	enc := NewEncoder(testChunk)
	dec := NewDecoder(testChunk, 1024)

	// Three-frame message: pending counts 2, then 1, then the final frame.
	frames, err := enc.Frames(Message{Kind: PacketData, ID: 0x0017, Payload: fill(170)})
	require.NoError(t, err)
	require.Len(t, frames, 3)

	_, err = dec.Decode(frames[0])
	require.NoError(t, err)

	// Replay the first continuation with a wrong pending count.
	bad := make([]byte, testChunk)
	copy(bad, frames[1])
	bad[1] = 0x07
	_, err = dec.Decode(bad)

	var fe *FramingError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, uint32(0x0017), fe.ID)
}

func TestDecoder_DataDuringReassemblyNAKsInFlightID(t *testing.T) {
	enc := NewEncoder(testChunk)
	dec := NewDecoder(testChunk, 1024)

	frames, err := enc.Frames(Message{Kind: PacketData, ID: 0x0017, Payload: fill(100)})
	require.NoError(t, err)

	_, err = dec.Decode(frames[0])
	require.NoError(t, err)

	// A fresh Data frame mid-reassembly drops both messages.
	fresh, err := enc.Frames(Message{Kind: PacketData, ID: 0x0002, Payload: []byte{1}})
	require.NoError(t, err)
	_, err = dec.Decode(fresh[0])

	var fe *FramingError
	require.ErrorAs(t, err, &fe)
	assert.True(t, fe.HasID)
	assert.Equal(t, uint32(0x0017), fe.ID)
}

func TestDecoder_MessageExceedingBufferRejected(t *testing.T) {
	dec := NewDecoder(testChunk, 128)

	// First frame announcing 16 continuations: way past the 128-byte cap.
	chunk := pad([]byte{0x10, 0x10, 0x17, 0x00})
	_, err := dec.Decode(chunk)

	var fe *FramingError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, uint32(0x0017), fe.ID)
}

func TestDecoder_TrailingPaddingIgnored(t *testing.T) {
	dec := NewDecoder(testChunk, 1024)

	chunk := pad([]byte{0x00, 0x03, 0x01, 0x00, 0x02})
	for i := 5; i < testChunk; i++ {
		chunk[i] = 0xEE // garbage beyond the declared length
	}
	res, err := dec.Decode(chunk)
	require.NoError(t, err)
	require.NotNil(t, res.Message)
	assert.Equal(t, []byte{0x02}, res.Message.Payload)
}

func TestFrameCount(t *testing.T) {
	assert.Equal(t, 1, FrameCount(0, 64, 2))
	assert.Equal(t, 1, FrameCount(60, 64, 2))
	assert.Equal(t, 2, FrameCount(61, 64, 2))
	assert.Equal(t, 2, FrameCount(100, 64, 2))
	assert.Equal(t, 3, FrameCount(123, 64, 2))
	assert.Equal(t, 1, FrameCount(58, 64, 4))
	assert.Equal(t, 2, FrameCount(59, 64, 4))
}
