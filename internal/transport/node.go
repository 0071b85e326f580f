package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hid-io/hidio-go/internal/hidio"
	"github.com/hid-io/hidio-go/internal/hidio/commands"
)

// defaultSyncPoll is how often the writer checks whether a keep-alive
// Sync is due.
const defaultSyncPoll = time.Second

// Node pumps one endpoint against one dispatcher: a reader goroutine
// feeds received chunks through the byte-level pipeline, a writer
// goroutine drains outgoing chunks and emits keep-alive Syncs when the
// link is idle.
type Node struct {
	ep   Endpoint
	disp *hidio.Dispatcher

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewNode creates a node; Start begins the pump loops.
func NewNode(ep Endpoint, disp *hidio.Dispatcher) *Node {
	return &Node{ep: ep, disp: disp}
}

// Info returns information about the underlying device.
func (n *Node) Info() DeviceInfo { return n.ep.Info() }

// Dispatcher returns the protocol dispatcher of this connection.
func (n *Node) Dispatcher() *hidio.Dispatcher { return n.disp }

// Start launches the reader and writer goroutines. They run until the
// context is cancelled, the endpoint fails, or Close is called.
func (n *Node) Start(ctx context.Context) {
	ctx, n.cancel = context.WithCancel(ctx)
	n.wg.Add(2)
	go n.readLoop(ctx)
	go n.writeLoop(ctx)
}

// Ping round-trips a Test Packet and verifies the echo.
func (n *Node) Ping(ctx context.Context) error {
	probe := []byte{0xA5, 0x5A, 0xC3, 0x3C}
	resp, err := n.disp.SendMessage(ctx, hidio.Message{
		Kind:    hidio.PacketData,
		ID:      commands.IDTestPacket,
		Payload: probe,
	})
	if err != nil {
		return err
	}
	if !resp.Acked {
		return errors.New("ping rejected by device")
	}
	if len(resp.Payload) != len(probe) {
		return errors.New("ping echo mismatch")
	}
	for i, b := range probe {
		if resp.Payload[i] != b {
			return errors.New("ping echo mismatch")
		}
	}
	return nil
}

// Close stops the pump loops, cancels outstanding sends and closes the
// endpoint.
func (n *Node) Close() error {
	var err error
	n.closeOnce.Do(func() {
		if n.cancel != nil {
			n.cancel()
		}
		_ = n.disp.Close()
		err = n.ep.Close() // unblocks the reader
		n.wg.Wait()
	})
	return err
}

func (n *Node) readLoop(ctx context.Context) {
	defer n.wg.Done()

	serial := n.ep.Info().Serial
	chunk := make([]byte, n.disp.ChunkSize())
	for {
		read, err := n.ep.Read(chunk)
		if err != nil {
			if ctx.Err() == nil {
				log.Warn().Err(err).Str("serial", serial).Msg("endpoint read failed")
			}
			return
		}
		if read == 0 {
			continue
		}
		if err := n.disp.PushChunk(chunk[:read]); err != nil {
			if errors.Is(err, hidio.ErrClosed) {
				return
			}
			log.Warn().Err(err).Str("serial", serial).Msg("receive buffer full, chunk dropped")
			continue
		}
		if _, err := n.disp.ProcessRx(); err != nil {
			if errors.Is(err, hidio.ErrClosed) {
				return
			}
			log.Warn().Err(err).Str("serial", serial).Msg("receive processing stalled")
		}
	}
}

func (n *Node) writeLoop(ctx context.Context) {
	defer n.wg.Done()

	serial := n.ep.Info().Serial
	chunk := make([]byte, n.disp.ChunkSize())
	ticker := time.NewTicker(defaultSyncPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-n.disp.TxReady():
		case <-ticker.C:
			if _, err := n.disp.SyncIfIdle(); err != nil {
				if errors.Is(err, hidio.ErrClosed) {
					return
				}
				log.Warn().Err(err).Str("serial", serial).Msg("keep-alive failed")
			}
		}

		for n.disp.PopChunk(chunk) {
			if _, err := n.ep.Write(chunk); err != nil {
				if ctx.Err() == nil {
					log.Warn().Err(err).Str("serial", serial).Msg("endpoint write failed")
				}
				return
			}
		}
	}
}
