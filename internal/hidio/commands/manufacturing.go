package commands

import (
	"encoding/binary"
	"fmt"

	"github.com/hid-io/hidio-go/internal/hidio"
)

// ManufacturingTestCmd starts a factory test on the device (ID 0x50):
// two adjacent little-endian 16-bit fields, the test command and its
// argument.
type ManufacturingTestCmd struct {
	Command uint16
	Arg     uint16
}

func (c ManufacturingTestCmd) Marshal() []byte {
	out := binary.LittleEndian.AppendUint16(nil, c.Command)
	return binary.LittleEndian.AppendUint16(out, c.Arg)
}

// ManufacturingTestAck carries test-specific result bytes.
type ManufacturingTestAck struct {
	Data []byte
}

// ManufacturingTest implements command 0x50.
type ManufacturingTest struct {
	Cmd func(ManufacturingTestCmd) (ManufacturingTestAck, error)
	Ack func(ManufacturingTestAck) error
	Nak func() error
}

var _ hidio.Handler = ManufacturingTest{}

func (h ManufacturingTest) HandleCommand(p []byte) ([]byte, error) {
	if len(p) < 4 {
		return nil, fmt.Errorf("manufacturing test: %w", ErrShortPayload)
	}
	if h.Cmd == nil {
		return nil, &hidio.NakError{}
	}
	cmd := ManufacturingTestCmd{
		Command: binary.LittleEndian.Uint16(p),
		Arg:     binary.LittleEndian.Uint16(p[2:]),
	}
	ack, err := h.Cmd(cmd)
	if err != nil {
		return nil, err
	}
	return ack.Data, nil
}

func (h ManufacturingTest) HandleNoAck(_ []byte) {}

func (h ManufacturingTest) HandleAck(p []byte) error {
	if h.Ack == nil {
		return nil
	}
	return h.Ack(ManufacturingTestAck{Data: p})
}

func (h ManufacturingTest) HandleNak(_ []byte) error {
	if h.Nak == nil {
		return nil
	}
	return h.Nak()
}

// ManufacturingResultCmd streams factory test results from the device
// (ID 0x51): the originating command and argument followed by
// test-specific payload bytes.
type ManufacturingResultCmd struct {
	Command uint16
	Arg     uint16
	Data    []byte
}

func (c ManufacturingResultCmd) Marshal() []byte {
	out := binary.LittleEndian.AppendUint16(nil, c.Command)
	out = binary.LittleEndian.AppendUint16(out, c.Arg)
	return append(out, c.Data...)
}

// ManufacturingResult implements command 0x51; the ACK is empty.
type ManufacturingResult struct {
	Cmd   func(ManufacturingResultCmd) error
	NACmd func(ManufacturingResultCmd)
	Ack   func() error
	Nak   func() error
}

var _ hidio.Handler = ManufacturingResult{}

func parseManufacturingResult(p []byte) (ManufacturingResultCmd, error) {
	if len(p) < 4 {
		return ManufacturingResultCmd{}, fmt.Errorf("manufacturing result: %w", ErrShortPayload)
	}
	return ManufacturingResultCmd{
		Command: binary.LittleEndian.Uint16(p),
		Arg:     binary.LittleEndian.Uint16(p[2:]),
		Data:    p[4:],
	}, nil
}

func (h ManufacturingResult) HandleCommand(p []byte) ([]byte, error) {
	cmd, err := parseManufacturingResult(p)
	if err != nil {
		return nil, err
	}
	if h.Cmd == nil {
		return nil, &hidio.NakError{}
	}
	if err := h.Cmd(cmd); err != nil {
		return nil, err
	}
	return nil, nil
}

func (h ManufacturingResult) HandleNoAck(p []byte) {
	if h.NACmd == nil {
		return
	}
	cmd, err := parseManufacturingResult(p)
	if err != nil {
		return
	}
	h.NACmd(cmd)
}

func (h ManufacturingResult) HandleAck(_ []byte) error {
	if h.Ack == nil {
		return nil
	}
	return h.Ack()
}

func (h ManufacturingResult) HandleNak(_ []byte) error {
	if h.Nak == nil {
		return nil
	}
	return h.Nak()
}
