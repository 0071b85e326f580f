package transport_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/hid-io/hidio-go/internal/hidio"
	"github.com/hid-io/hidio-go/internal/hidio/commands"
	"github.com/hid-io/hidio-go/internal/transport"
	"github.com/hid-io/hidio-go/internal/transport/mocks"
)

func echoRegistry() *hidio.Registry {
	return commands.NewCatalog().
		Register(commands.IDTestPacket, commands.TestPacket{Cmd: commands.Echo}).
		Registry()
}

func newNodeDispatcher(t *testing.T) *hidio.Dispatcher {
	t.Helper()
	d, err := hidio.NewDispatcher(echoRegistry(), hidio.Config{ChunkSize: 64})
	require.NoError(t, err)
	return d
}

func TestNode_AnswersIncomingData(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	enc := hidio.NewEncoder(64)
	frames, err := enc.Frames(hidio.Message{
		Kind:    hidio.PacketData,
		ID:      commands.IDTestPacket,
		Payload: []byte{0xDE, 0xAD, 0xBE, 0xEF},
	})
	require.NoError(t, err)

	closed := make(chan struct{})
	written := make(chan []byte, 8)
	reads := 0

	mockEp := mocks.NewMockEndpoint(ctrl)
	mockEp.EXPECT().Info().Return(transport.DeviceInfo{Serial: "ABC123", ChunkSize: 64}).AnyTimes()
	mockEp.EXPECT().Read(gomock.Any()).DoAndReturn(func(b []byte) (int, error) {
		if reads < len(frames) {
			n := copy(b, frames[reads])
			reads++
			return n, nil
		}
		<-closed
		return 0, io.EOF
	}).AnyTimes()
	mockEp.EXPECT().Write(gomock.Any()).DoAndReturn(func(b []byte) (int, error) {
		written <- append([]byte(nil), b...)
		return len(b), nil
	}).AnyTimes()
	mockEp.EXPECT().Close().DoAndReturn(func() error {
		close(closed)
		return nil
	}).Times(1)

	node := transport.NewNode(mockEp, newNodeDispatcher(t))
	node.Start(context.Background())
	defer node.Close()

	select {
	case chunk := <-written:
		// Echoed ACK: kind ACK, length 6 (4 payload + 2 id), id 0x0002.
		want := make([]byte, 64)
		copy(want, []byte{0x20, 0x06, 0x02, 0x00, 0xDE, 0xAD, 0xBE, 0xEF})
		assert.Equal(t, want, chunk)
	case <-time.After(2 * time.Second):
		t.Fatal("node did not transmit the ACK")
	}
}

func TestNode_PingRoundTrip(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	// The mock endpoint behaves as a device running its own pipeline:
	// writes feed the device dispatcher, its responses feed reads back.
	device, err := hidio.NewDispatcher(echoRegistry(), hidio.Config{ChunkSize: 64})
	require.NoError(t, err)
	defer device.Close()

	closed := make(chan struct{})
	readCh := make(chan []byte, 8)

	mockEp := mocks.NewMockEndpoint(ctrl)
	mockEp.EXPECT().Info().Return(transport.DeviceInfo{Serial: "ABC123", ChunkSize: 64}).AnyTimes()
	mockEp.EXPECT().Write(gomock.Any()).DoAndReturn(func(b []byte) (int, error) {
		if err := device.PushChunk(b); err != nil {
			return 0, err
		}
		if _, err := device.ProcessRx(); err != nil {
			return 0, err
		}
		chunk := make([]byte, 64)
		for device.PopChunk(chunk) {
			readCh <- append([]byte(nil), chunk...)
		}
		return len(b), nil
	}).AnyTimes()
	mockEp.EXPECT().Read(gomock.Any()).DoAndReturn(func(b []byte) (int, error) {
		select {
		case chunk := <-readCh:
			return copy(b, chunk), nil
		case <-closed:
			return 0, io.EOF
		}
	}).AnyTimes()
	mockEp.EXPECT().Close().DoAndReturn(func() error {
		close(closed)
		return nil
	}).Times(1)

	node := transport.NewNode(mockEp, newNodeDispatcher(t))
	node.Start(context.Background())
	defer node.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, node.Ping(ctx))
}

func TestNode_CloseIsIdempotent(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	closed := make(chan struct{})
	mockEp := mocks.NewMockEndpoint(ctrl)
	mockEp.EXPECT().Info().Return(transport.DeviceInfo{Serial: "ABC123", ChunkSize: 64}).AnyTimes()
	mockEp.EXPECT().Read(gomock.Any()).DoAndReturn(func(b []byte) (int, error) {
		<-closed
		return 0, io.EOF
	}).AnyTimes()
	mockEp.EXPECT().Write(gomock.Any()).Return(64, nil).AnyTimes()
	mockEp.EXPECT().Close().DoAndReturn(func() error {
		close(closed)
		return nil
	}).Times(1)

	node := transport.NewNode(mockEp, newNodeDispatcher(t))
	node.Start(context.Background())

	require.NoError(t, node.Close())
	require.NoError(t, node.Close())
}
