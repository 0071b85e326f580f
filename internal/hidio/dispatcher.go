package hidio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Config carries the construction-time sizing of a connection. All buffers
// are allocated once; nothing grows at runtime.
type Config struct {
	// ChunkSize is the transport packet size, 8..1024 bytes (64 on USB
	// 2.0 Full-Speed).
	ChunkSize int

	// MaxPayload bounds the reassembled payload of a single message.
	// Defaults to 4096.
	MaxPayload int

	// QueueDepth is the chunk capacity of each byte buffer direction.
	// Defaults to 8.
	QueueDepth int

	// PendingLimit caps the outstanding-response table. Defaults to 4.
	PendingLimit int

	// SendTimeout applies to SendMessage calls whose context carries no
	// deadline. Defaults to 5s.
	SendTimeout time.Duration

	// SyncInterval is the idle period after which SyncIfIdle emits a
	// keep-alive. Defaults to 3s.
	SyncInterval time.Duration

	// Logger receives framing and dispatch diagnostics. Silent when nil.
	Logger *zerolog.Logger
}

func (c Config) withDefaults() Config {
	if c.MaxPayload == 0 {
		c.MaxPayload = 4096
	}
	if c.QueueDepth == 0 {
		c.QueueDepth = 8
	}
	if c.PendingLimit == 0 {
		c.PendingLimit = 4
	}
	if c.SendTimeout == 0 {
		c.SendTimeout = 5 * time.Second
	}
	if c.SyncInterval == 0 {
		c.SyncInterval = 3 * time.Second
	}
	return c
}

// Response is the peer's answer to a Data message.
type Response struct {
	Acked   bool
	Payload []byte
}

type pendingResult struct {
	resp Response
	err  error
}

// Dispatcher drives one HID-IO connection: it owns the byte buffers, the
// framer state and the outstanding-response table, and routes completed
// messages to the command registry.
//
// Two modes are offered. The byte-level mode (PushChunk / ProcessRx /
// PopChunk) runs the full pipeline and suits a firmware loop. The
// message-level mode (HandleMessage / SendMessage) performs only dispatch;
// transport-side framing is the caller's concern.
//
// Handlers run synchronously under the dispatcher's lock and must not call
// back into the same dispatcher; responses travel via return values.
type Dispatcher struct {
	cfg      Config
	log      zerolog.Logger
	frameLog rate.Sometimes

	mu      sync.Mutex
	rx, tx  *ChunkBuffer
	dec     *Decoder
	enc     *Encoder
	reg     *Registry
	pending map[uint32]chan pendingResult

	// syncStrikes counts Sync frames received while a response is still
	// awaited; two in a row mean the peer has lost request state.
	syncStrikes int
	lastTx      time.Time
	closed      bool
	txKick      chan struct{}
	scratch     []byte
}

// NewDispatcher creates a dispatcher over the given registry.
func NewDispatcher(reg *Registry, cfg Config) (*Dispatcher, error) {
	if cfg.ChunkSize < MinChunkSize || cfg.ChunkSize > MaxChunkSize {
		return nil, fmt.Errorf("%w: %d", ErrChunkSize, cfg.ChunkSize)
	}
	cfg = cfg.withDefaults()
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Dispatcher{
		cfg:      cfg,
		log:      logger,
		frameLog: rate.Sometimes{First: 3, Interval: time.Second},
		rx:       NewChunkBuffer(cfg.ChunkSize, cfg.QueueDepth),
		tx:       NewChunkBuffer(cfg.ChunkSize, cfg.QueueDepth),
		dec:      NewDecoder(cfg.ChunkSize, cfg.MaxPayload),
		enc:      NewEncoder(cfg.ChunkSize),
		reg:      reg,
		pending:  make(map[uint32]chan pendingResult, cfg.PendingLimit),
		lastTx:   time.Now(),
		txKick:   make(chan struct{}, 1),
		scratch:  make([]byte, cfg.ChunkSize),
	}, nil
}

// ChunkSize returns the configured transport chunk size.
func (d *Dispatcher) ChunkSize() int { return d.cfg.ChunkSize }

// PushChunk queues one received chunk for ProcessRx.
func (d *Dispatcher) PushChunk(chunk []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	return d.rx.Enqueue(chunk)
}

// PopChunk copies the next outgoing chunk into dst and reports whether one
// was available. dst must hold at least ChunkSize bytes.
func (d *Dispatcher) PopChunk(dst []byte) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tx.Dequeue(dst)
}

// TxReady signals whenever new outgoing chunks have been queued.
func (d *Dispatcher) TxReady() <-chan struct{} { return d.txKick }

// ProcessRx drains the receive buffer, reassembles messages, dispatches
// them and queues any responses on the transmit buffer. It returns the
// number of completed messages. Framing and handler errors are answered
// with NAKs and logged; only buffer pressure aborts the drain.
func (d *Dispatcher) ProcessRx() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, ErrClosed
	}

	n := 0
	for d.rx.Dequeue(d.scratch) {
		res, err := d.dec.Decode(d.scratch)
		if err != nil {
			if err := d.decodeFailedLocked(err); err != nil {
				return n, err
			}
			continue
		}
		if res.Sync {
			d.noteSyncLocked()
			continue
		}
		if res.Message == nil {
			continue
		}
		resp, err := d.dispatchLocked(res.Message)
		if err != nil {
			d.log.Error().Err(err).Msg("dispatch failed")
		}
		n++
		if resp != nil {
			if err := d.encodeLocked(*resp); err != nil {
				return n, err
			}
		}
	}
	return n, nil
}

// HandleMessage dispatches one already-reassembled message and returns the
// response to transmit, if any. Used by integrations that do their own
// transport-side framing.
func (d *Dispatcher) HandleMessage(msg Message) (*Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}
	if msg.Kind == PacketSync {
		d.noteSyncLocked()
		return nil, nil
	}
	return d.dispatchLocked(&msg)
}

// SendMessage serializes a Data or NAData message onto the transmit buffer.
// For Data it blocks until the peer's ACK or NAK arrives (via ProcessRx or
// HandleMessage on this dispatcher) or the context expires; NAData returns
// as soon as the message is queued. Two concurrent sends of the same ID are
// rejected with ErrPendingCollision.
func (d *Dispatcher) SendMessage(ctx context.Context, msg Message) (Response, error) {
	if msg.Kind != PacketData && msg.Kind != PacketNAData {
		return Response{}, fmt.Errorf("%w: cannot originate %s message", ErrInvariant, msg.Kind)
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return Response{}, ErrClosed
	}
	if msg.Kind == PacketNAData {
		err := d.encodeLocked(msg)
		d.mu.Unlock()
		return Response{}, err
	}
	if _, ok := d.pending[msg.ID]; ok {
		d.mu.Unlock()
		return Response{}, fmt.Errorf("id 0x%04x: %w", msg.ID, ErrPendingCollision)
	}
	if len(d.pending) >= d.cfg.PendingLimit {
		d.mu.Unlock()
		return Response{}, ErrPendingTableFull
	}
	ch := make(chan pendingResult, 1)
	d.pending[msg.ID] = ch
	if err := d.encodeLocked(msg); err != nil {
		delete(d.pending, msg.ID)
		d.mu.Unlock()
		return Response{}, err
	}
	d.mu.Unlock()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.SendTimeout)
		defer cancel()
	}

	select {
	case r := <-ch:
		return r.resp, r.err
	case <-ctx.Done():
		d.mu.Lock()
		if cur, ok := d.pending[msg.ID]; ok && cur == ch {
			delete(d.pending, msg.ID)
		}
		d.mu.Unlock()
		// The response may have raced with the deadline.
		select {
		case r := <-ch:
			return r.resp, r.err
		default:
		}
		return Response{}, fmt.Errorf("awaiting response for id 0x%04x: %w", msg.ID, ctx.Err())
	}
}

// SendNoAck queues a NAData message. The peer never responds to it.
func (d *Dispatcher) SendNoAck(id uint32, payload []byte) error {
	_, err := d.SendMessage(context.Background(), Message{Kind: PacketNAData, ID: id, Payload: payload})
	return err
}

// Sync queues a keep-alive frame.
func (d *Dispatcher) Sync() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	return d.syncLocked()
}

// SyncIfIdle queues a Sync frame when nothing has been transmitted for the
// configured interval, reporting whether one was sent.
func (d *Dispatcher) SyncIfIdle() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false, ErrClosed
	}
	if time.Since(d.lastTx) < d.cfg.SyncInterval {
		return false, nil
	}
	if err := d.syncLocked(); err != nil {
		return false, err
	}
	return true, nil
}

// Close cancels all outstanding sends and discards buffered chunks. The
// dispatcher rejects further use.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.failPendingLocked(ErrClosed)
	d.rx.Clear()
	d.tx.Clear()
	d.dec.Reset()
	return nil
}

func (d *Dispatcher) dispatchLocked(msg *Message) (*Message, error) {
	switch msg.Kind {
	case PacketData:
		d.syncStrikes = 0
		h := d.reg.handler(msg.ID)
		if h == nil {
			d.log.Debug().Uint32("id", msg.ID).Msg("unsupported command")
			return &Message{Kind: PacketNAK, ID: msg.ID, WideID: msg.WideID}, nil
		}
		ack, err := h.HandleCommand(msg.Payload)
		if err != nil {
			var nak *NakError
			if errors.As(err, &nak) {
				return &Message{Kind: PacketNAK, ID: msg.ID, WideID: msg.WideID, Payload: nak.Payload}, nil
			}
			d.log.Warn().Err(err).Uint32("id", msg.ID).Msg("handler failed")
			return &Message{Kind: PacketNAK, ID: msg.ID, WideID: msg.WideID}, nil
		}
		return &Message{Kind: PacketACK, ID: msg.ID, WideID: msg.WideID, Payload: ack}, nil

	case PacketNAData:
		d.syncStrikes = 0
		if h := d.reg.handler(msg.ID); h != nil {
			h.HandleNoAck(msg.Payload)
		} else {
			d.log.Debug().Uint32("id", msg.ID).Msg("unsupported no-ack command dropped")
		}
		return nil, nil

	case PacketACK, PacketNAK:
		d.resolveLocked(msg)
		return nil, nil
	}
	return nil, fmt.Errorf("%w: %s message reached dispatcher", ErrInvariant, msg.Kind)
}

func (d *Dispatcher) resolveLocked(msg *Message) {
	if h := d.reg.handler(msg.ID); h != nil {
		var err error
		if msg.Kind == PacketACK {
			err = h.HandleAck(msg.Payload)
		} else {
			err = h.HandleNak(msg.Payload)
		}
		if err != nil {
			d.log.Debug().Err(err).Uint32("id", msg.ID).Str("kind", msg.Kind.String()).Msg("response hook failed")
		}
	}

	ch, ok := d.pending[msg.ID]
	if !ok {
		d.log.Warn().Uint32("id", msg.ID).Str("kind", msg.Kind.String()).Msg("unsolicited response dropped")
		return
	}
	delete(d.pending, msg.ID)
	d.syncStrikes = 0
	payload := make([]byte, len(msg.Payload))
	copy(payload, msg.Payload)
	ch <- pendingResult{resp: Response{Acked: msg.Kind == PacketACK, Payload: payload}}
}

func (d *Dispatcher) noteSyncLocked() {
	if len(d.pending) == 0 {
		d.syncStrikes = 0
		return
	}
	d.syncStrikes++
	if d.syncStrikes > 1 {
		d.log.Warn().Int("outstanding", len(d.pending)).Msg("repeated sync, cancelling outstanding sends")
		d.failPendingLocked(ErrPeerDesync)
		d.syncStrikes = 0
	}
}

func (d *Dispatcher) failPendingLocked(err error) {
	for id, ch := range d.pending {
		delete(d.pending, id)
		ch <- pendingResult{err: fmt.Errorf("id 0x%04x: %w", id, err)}
	}
}

func (d *Dispatcher) decodeFailedLocked(err error) error {
	var fe *FramingError
	switch {
	case errors.As(err, &fe):
		d.frameLog.Do(func() {
			d.log.Warn().Str("reason", fe.Reason).Msg("dropped malformed frame")
		})
		if fe.HasID {
			return d.encodeLocked(Message{Kind: PacketNAK, ID: fe.ID, WideID: fe.WideID})
		}
	case errors.Is(err, ErrInvariant):
		d.log.Error().Err(err).Msg("protocol invariant violated")
	default:
		d.log.Warn().Err(err).Msg("frame dropped")
	}
	return nil
}

func (d *Dispatcher) encodeLocked(msg Message) error {
	if err := d.enc.Encode(msg, d.tx); err != nil {
		return err
	}
	d.lastTx = time.Now()
	d.kickTx()
	return nil
}

func (d *Dispatcher) syncLocked() error {
	if err := d.enc.EncodeSync(d.tx); err != nil {
		return err
	}
	d.lastTx = time.Now()
	d.kickTx()
	return nil
}

func (d *Dispatcher) kickTx() {
	select {
	case d.txKick <- struct{}{}:
	default:
	}
}
