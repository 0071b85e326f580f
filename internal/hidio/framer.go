package hidio

import (
	"encoding/binary"
	"fmt"
)

// DecodeResult is the outcome of feeding one chunk to the Decoder. Message
// is non-nil once a full message has been reassembled; Sync reports that a
// Sync frame was observed (any partial message was discarded).
type DecodeResult struct {
	Message *Message
	Sync    bool
}

// Decoder reassembles messages from the fixed-size chunks read off the
// transport. It owns a single message buffer; feeding it a Sync frame
// discards any partial message. Payload slices handed out in a
// DecodeResult stay valid until the next Decode call.
type Decoder struct {
	chunkSize int
	buf       *messageBuffer

	active    bool
	kind      PacketKind
	id        uint32
	wide      bool
	remaining int
}

// NewDecoder creates a decoder for the given chunk size and maximum
// reassembled payload size.
func NewDecoder(chunkSize, maxPayload int) *Decoder {
	return &Decoder{
		chunkSize: chunkSize,
		buf:       newMessageBuffer(maxPayload),
	}
}

// Reset discards any in-flight message.
func (d *Decoder) Reset() {
	d.active = false
	d.buf.reset()
}

// Decode consumes one chunk. Errors of type *FramingError identify frames
// that must be answered with a NAK (when HasID is set); errors wrapping
// ErrInvariant are log-only. In both cases in-flight state has already
// been cleared and the decoder accepts further chunks.
func (d *Decoder) Decode(chunk []byte) (DecodeResult, error) {
	var res DecodeResult
	if len(chunk) == 0 {
		return res, &FramingError{Reason: "empty chunk"}
	}

	b0 := chunk[0]
	kind := PacketKind(b0 >> hdrKindShift)

	switch kind {
	case PacketSync:
		d.Reset()
		res.Sync = true
		return res, nil
	case packetReserved:
		// Reserved kind: discard silently.
		return res, nil
	}

	if len(chunk) < headerSize {
		return res, d.fail(&FramingError{Reason: "missing length byte"})
	}
	cont := b0&hdrBitCont != 0
	length := int(b0&hdrUpperLen)<<8 | int(chunk[1])

	switch kind {
	case PacketData, PacketNAData, PacketACK, PacketNAK:
		wide := b0&hdrBitWide != 0
		if b0&hdrBitRsvd != 0 {
			fe := &FramingError{Reason: "reserved header bit set"}
			if id, ok := peekID(chunk, wide); ok {
				fe.ID, fe.WideID, fe.HasID = id, wide, true
			}
			return res, d.fail(fe)
		}
		return d.decodeFirst(kind, cont, wide, length, chunk)
	case PacketContinued, PacketNAContinued:
		return d.decodeContinuation(kind, cont, length, chunk)
	}
	return res, nil
}

// decodeFirst handles the leading frame of a message: Data, NAData, ACK or
// NAK. The command ID appears only here; continuation frames never repeat
// it on the wire.
func (d *Decoder) decodeFirst(kind PacketKind, cont, wide bool, length int, chunk []byte) (DecodeResult, error) {
	var res DecodeResult

	if d.active {
		// A new message may not start while another is mid-reassembly;
		// NAK the in-flight ID and drop both.
		fe := &FramingError{
			Reason: fmt.Sprintf("%s frame during reassembly", kind),
			ID:     d.id, WideID: d.wide, HasID: true,
		}
		return res, d.fail(fe)
	}

	idw := 2
	if wide {
		idw = 4
	}
	id, ok := peekID(chunk, wide)
	if !ok {
		return res, d.fail(&FramingError{Reason: "truncated command id"})
	}

	if cont {
		if kind == PacketACK || kind == PacketNAK {
			// Responses are never split.
			return res, fmt.Errorf("%w: split %s frame (id 0x%04x)", ErrInvariant, kind, id)
		}
		if len(chunk) < d.chunkSize {
			return res, d.fail(&FramingError{Reason: "short chunk for continued frame", ID: id, WideID: wide, HasID: true})
		}
		if length < 1 {
			return res, d.fail(&FramingError{Reason: "continued frame with zero pending count", ID: id, WideID: wide, HasID: true})
		}
		// The final continuation may be short; reject only when even the
		// smallest possible message overflows the buffer. Appends still
		// guard the actual size.
		firstCap := d.chunkSize - headerSize - idw
		contCap := d.chunkSize - headerSize
		if firstCap+(length-1)*contCap+1 > d.buf.max {
			return res, d.fail(&FramingError{Reason: "message exceeds receive buffer", ID: id, WideID: wide, HasID: true})
		}
		d.buf.reset()
		if err := d.buf.append(chunk[headerSize+idw : d.chunkSize]); err != nil {
			return res, d.fail(&FramingError{Reason: err.Error(), ID: id, WideID: wide, HasID: true})
		}
		d.active = true
		d.kind = kind
		d.id = id
		d.wide = wide
		d.remaining = length
		return res, nil
	}

	// Single-frame message. The length field counts the ID bytes.
	if length < idw {
		return res, d.fail(&FramingError{Reason: "length shorter than command id", ID: id, WideID: wide, HasID: true})
	}
	if headerSize+length > d.chunkSize || headerSize+length > len(chunk) {
		if kind == PacketACK || kind == PacketNAK {
			return res, fmt.Errorf("%w: oversize %s frame (id 0x%04x, length %d)", ErrInvariant, kind, id, length)
		}
		return res, d.fail(&FramingError{Reason: "length exceeds chunk size", ID: id, WideID: wide, HasID: true})
	}
	d.buf.reset()
	if err := d.buf.append(chunk[headerSize+idw : headerSize+length]); err != nil {
		return res, d.fail(&FramingError{Reason: err.Error(), ID: id, WideID: wide, HasID: true})
	}
	res.Message = &Message{Kind: kind, ID: id, WideID: wide, Payload: d.buf.bytes()}
	return res, nil
}

func (d *Decoder) decodeContinuation(kind PacketKind, cont bool, length int, chunk []byte) (DecodeResult, error) {
	var res DecodeResult

	if !d.active {
		return res, fmt.Errorf("%w: %s frame without message in flight", ErrInvariant, kind)
	}

	want := PacketContinued
	if d.kind == PacketNAData {
		want = PacketNAContinued
	}
	if kind != want {
		return res, d.fail(&FramingError{
			Reason: fmt.Sprintf("%s continuation of %s message", kind, d.kind),
			ID:     d.id, WideID: d.wide, HasID: true,
		})
	}

	if cont {
		// Intermediate continuation: full payload, length counts the
		// frames still pending after this one.
		if length != d.remaining-1 {
			return res, d.fail(&FramingError{
				Reason: fmt.Sprintf("continuation count %d, expected %d", length, d.remaining-1),
				ID:     d.id, WideID: d.wide, HasID: true,
			})
		}
		if len(chunk) < d.chunkSize {
			return res, d.fail(&FramingError{Reason: "short chunk for continued frame", ID: d.id, WideID: d.wide, HasID: true})
		}
		if err := d.buf.append(chunk[headerSize:d.chunkSize]); err != nil {
			return res, d.fail(&FramingError{Reason: err.Error(), ID: d.id, WideID: d.wide, HasID: true})
		}
		d.remaining = length
		return res, nil
	}

	// Final continuation: length counts its payload bytes.
	if d.remaining != 1 {
		return res, d.fail(&FramingError{
			Reason: fmt.Sprintf("final continuation with %d frames still pending", d.remaining),
			ID:     d.id, WideID: d.wide, HasID: true,
		})
	}
	if headerSize+length > d.chunkSize || headerSize+length > len(chunk) {
		return res, d.fail(&FramingError{Reason: "length exceeds chunk size", ID: d.id, WideID: d.wide, HasID: true})
	}
	if err := d.buf.append(chunk[headerSize : headerSize+length]); err != nil {
		return res, d.fail(&FramingError{Reason: err.Error(), ID: d.id, WideID: d.wide, HasID: true})
	}
	d.active = false
	res.Message = &Message{Kind: d.kind, ID: d.id, WideID: d.wide, Payload: d.buf.bytes()}
	return res, nil
}

func (d *Decoder) fail(fe *FramingError) error {
	d.Reset()
	return fe
}

func peekID(chunk []byte, wide bool) (uint32, bool) {
	if wide {
		if len(chunk) < headerSize+4 {
			return 0, false
		}
		return binary.LittleEndian.Uint32(chunk[headerSize:]), true
	}
	if len(chunk) < headerSize+2 {
		return 0, false
	}
	return uint32(binary.LittleEndian.Uint16(chunk[headerSize:])), true
}

// Encoder serializes messages into transport chunks. A message is always
// serialized fully before the next is accepted; chunks that end short of
// the chunk size are zero-padded.
type Encoder struct {
	chunkSize int
	scratch   []byte
}

// NewEncoder creates an encoder for the given chunk size.
func NewEncoder(chunkSize int) *Encoder {
	return &Encoder{
		chunkSize: chunkSize,
		scratch:   make([]byte, chunkSize),
	}
}

// Encode serializes msg onto tx. When tx cannot hold every frame of the
// message, Encode fails with ErrBufferFull without enqueueing anything.
func (e *Encoder) Encode(msg Message, tx *ChunkBuffer) error {
	frames, err := e.frameCount(msg)
	if err != nil {
		return err
	}
	if tx.Free() < frames {
		return ErrBufferFull
	}
	return e.encode(msg, func(chunk []byte) error { return tx.Enqueue(chunk) })
}

// EncodeSync enqueues a Sync frame.
func (e *Encoder) EncodeSync(tx *ChunkBuffer) error {
	clear(e.scratch)
	e.scratch[0] = SyncByte
	return tx.Enqueue(e.scratch)
}

// Frames serializes msg into freshly allocated chunks. Intended for
// message-level integrations and tests; the byte-level path uses Encode.
func (e *Encoder) Frames(msg Message) ([][]byte, error) {
	var out [][]byte
	err := e.encode(msg, func(chunk []byte) error {
		c := make([]byte, len(chunk))
		copy(c, chunk)
		out = append(out, c)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Encoder) frameCount(msg Message) (int, error) {
	idw := msg.idWidth()
	firstCap := e.chunkSize - headerSize - idw
	contCap := e.chunkSize - headerSize

	switch msg.Kind {
	case PacketData, PacketNAData:
	case PacketACK, PacketNAK:
		if len(msg.Payload) > firstCap {
			return 0, fmt.Errorf("%w: %s with %d payload bytes", ErrResponseTooLarge, msg.Kind, len(msg.Payload))
		}
	default:
		return 0, fmt.Errorf("%w: cannot encode %s message", ErrInvariant, msg.Kind)
	}

	if len(msg.Payload) <= firstCap {
		return 1, nil
	}
	ncont := (len(msg.Payload) - firstCap + contCap - 1) / contCap
	if ncont > maxLengthField {
		return 0, ErrMessageTooLarge
	}
	return 1 + ncont, nil
}

func (e *Encoder) encode(msg Message, emit func([]byte) error) error {
	frames, err := e.frameCount(msg)
	if err != nil {
		return err
	}

	idw := msg.idWidth()
	firstCap := e.chunkSize - headerSize - idw
	contCap := e.chunkSize - headerSize
	ncont := frames - 1
	payload := msg.Payload

	// First frame. A continued first frame carries the full first-frame
	// capacity and its length field counts the pending continuations; a
	// final frame's length counts payload plus ID bytes.
	clear(e.scratch)
	var b0, b1 byte
	var take int
	if ncont > 0 {
		b0, b1 = packHeader(msg.Kind, true, idw == 4, ncont)
		take = firstCap
	} else {
		b0, b1 = packHeader(msg.Kind, false, idw == 4, len(payload)+idw)
		take = len(payload)
	}
	e.scratch[0], e.scratch[1] = b0, b1
	putID(e.scratch[headerSize:], msg.ID, idw)
	copy(e.scratch[headerSize+idw:], payload[:take])
	if err := emit(e.scratch); err != nil {
		return err
	}
	payload = payload[take:]

	contKind := PacketContinued
	if msg.Kind == PacketNAData {
		contKind = PacketNAContinued
	}
	for i := 1; i <= ncont; i++ {
		clear(e.scratch)
		if i < ncont {
			b0, b1 = packHeader(contKind, true, idw == 4, ncont-i)
			take = contCap
		} else {
			b0, b1 = packHeader(contKind, false, idw == 4, len(payload))
			take = len(payload)
		}
		e.scratch[0], e.scratch[1] = b0, b1
		copy(e.scratch[headerSize:], payload[:take])
		if err := emit(e.scratch); err != nil {
			return err
		}
		payload = payload[take:]
	}
	return nil
}

func putID(dst []byte, id uint32, idw int) {
	if idw == 4 {
		binary.LittleEndian.PutUint32(dst, id)
		return
	}
	binary.LittleEndian.PutUint16(dst, uint16(id))
}
