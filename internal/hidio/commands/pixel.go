package commands

import (
	"encoding/binary"
	"fmt"

	"github.com/hid-io/hidio-go/internal/hidio"
)

// KLLTrigger is one (type, id, state) entry of a trigger-state report
// (ID 0x20).
type KLLTrigger struct {
	Type  uint8
	ID    uint16
	State uint8
}

const kllTriggerSize = 4

// KLLTriggerStateCmd reports scheduled trigger events from the device.
type KLLTriggerStateCmd struct {
	Triggers []KLLTrigger
}

func (c KLLTriggerStateCmd) Marshal() []byte {
	out := make([]byte, 0, len(c.Triggers)*kllTriggerSize)
	for _, t := range c.Triggers {
		out = append(out, t.Type)
		out = binary.LittleEndian.AppendUint16(out, t.ID)
		out = append(out, t.State)
	}
	return out
}

func parseKLLTriggers(p []byte) ([]KLLTrigger, error) {
	if len(p)%kllTriggerSize != 0 {
		return nil, fmt.Errorf("kll trigger state: %w", ErrBadPayload)
	}
	out := make([]KLLTrigger, 0, len(p)/kllTriggerSize)
	for ; len(p) > 0; p = p[kllTriggerSize:] {
		out = append(out, KLLTrigger{
			Type:  p[0],
			ID:    binary.LittleEndian.Uint16(p[1:]),
			State: p[3],
		})
	}
	return out, nil
}

// KLLTriggerState implements command 0x20; the ACK is empty.
type KLLTriggerState struct {
	Cmd   func(KLLTriggerStateCmd) error
	NACmd func(KLLTriggerStateCmd)
	Ack   func() error
	Nak   func() error
}

var _ hidio.Handler = KLLTriggerState{}

func (h KLLTriggerState) HandleCommand(p []byte) ([]byte, error) {
	triggers, err := parseKLLTriggers(p)
	if err != nil {
		return nil, err
	}
	if h.Cmd == nil {
		return nil, &hidio.NakError{}
	}
	if err := h.Cmd(KLLTriggerStateCmd{Triggers: triggers}); err != nil {
		return nil, err
	}
	return nil, nil
}

func (h KLLTriggerState) HandleNoAck(p []byte) {
	if h.NACmd == nil {
		return
	}
	triggers, err := parseKLLTriggers(p)
	if err != nil {
		return
	}
	h.NACmd(KLLTriggerStateCmd{Triggers: triggers})
}

func (h KLLTriggerState) HandleAck(_ []byte) error {
	if h.Ack == nil {
		return nil
	}
	return h.Ack()
}

func (h KLLTriggerState) HandleNak(_ []byte) error {
	if h.Nak == nil {
		return nil
	}
	return h.Nak()
}

// PixelSettingCmd controls the pixel processing pipeline (ID 0x21):
// a command word and its argument.
type PixelSettingCmd struct {
	Command uint16
	Arg     uint16
}

func (c PixelSettingCmd) Marshal() []byte {
	out := binary.LittleEndian.AppendUint16(nil, c.Command)
	return binary.LittleEndian.AppendUint16(out, c.Arg)
}

// PixelSetting implements command 0x21; the ACK is empty.
type PixelSetting struct {
	Cmd func(PixelSettingCmd) error
	Ack func() error
	Nak func() error
}

var _ hidio.Handler = PixelSetting{}

func (h PixelSetting) HandleCommand(p []byte) ([]byte, error) {
	if len(p) < 4 {
		return nil, fmt.Errorf("pixel setting: %w", ErrShortPayload)
	}
	if h.Cmd == nil {
		return nil, &hidio.NakError{}
	}
	cmd := PixelSettingCmd{
		Command: binary.LittleEndian.Uint16(p),
		Arg:     binary.LittleEndian.Uint16(p[2:]),
	}
	if err := h.Cmd(cmd); err != nil {
		return nil, err
	}
	return nil, nil
}

func (h PixelSetting) HandleNoAck(_ []byte) {}

func (h PixelSetting) HandleAck(_ []byte) error {
	if h.Ack == nil {
		return nil
	}
	return h.Ack()
}

func (h PixelSetting) HandleNak(_ []byte) error {
	if h.Nak == nil {
		return nil
	}
	return h.Nak()
}

// PixelSet8Cmd writes 8-bit channel data starting at a pixel address
// (IDs 0x22 and 0x23). For the 3-channel form the data is RGB triples.
type PixelSet8Cmd struct {
	Start uint16
	Data  []uint8
}

func (c PixelSet8Cmd) Marshal() []byte {
	return append(binary.LittleEndian.AppendUint16(nil, c.Start), c.Data...)
}

// PixelSet16Cmd writes 16-bit channel data starting at a pixel address
// (IDs 0x24 and 0x25).
type PixelSet16Cmd struct {
	Start uint16
	Data  []uint16
}

func (c PixelSet16Cmd) Marshal() []byte {
	return appendU16s(binary.LittleEndian.AppendUint16(nil, c.Start), c.Data)
}

// PixelSet8 implements commands 0x22 and 0x23. Channels is 1 or 3 and the
// data length must be a multiple of it.
type PixelSet8 struct {
	Channels int
	Cmd      func(PixelSet8Cmd) error
	Ack      func() error
	Nak      func() error
}

var _ hidio.Handler = PixelSet8{}

func (h PixelSet8) HandleCommand(p []byte) ([]byte, error) {
	if len(p) < 2 {
		return nil, fmt.Errorf("pixel set: %w", ErrShortPayload)
	}
	data := p[2:]
	if h.Channels > 1 && len(data)%h.Channels != 0 {
		return nil, fmt.Errorf("pixel set: %w: data not a multiple of %d channels", ErrBadPayload, h.Channels)
	}
	if h.Cmd == nil {
		return nil, &hidio.NakError{}
	}
	cmd := PixelSet8Cmd{Start: binary.LittleEndian.Uint16(p), Data: data}
	if err := h.Cmd(cmd); err != nil {
		return nil, err
	}
	return nil, nil
}

func (h PixelSet8) HandleNoAck(_ []byte) {}

func (h PixelSet8) HandleAck(_ []byte) error {
	if h.Ack == nil {
		return nil
	}
	return h.Ack()
}

func (h PixelSet8) HandleNak(_ []byte) error {
	if h.Nak == nil {
		return nil
	}
	return h.Nak()
}

// PixelSet16 implements commands 0x24 and 0x25.
type PixelSet16 struct {
	Channels int
	Cmd      func(PixelSet16Cmd) error
	Ack      func() error
	Nak      func() error
}

var _ hidio.Handler = PixelSet16{}

func (h PixelSet16) HandleCommand(p []byte) ([]byte, error) {
	if len(p) < 2 {
		return nil, fmt.Errorf("pixel set: %w", ErrShortPayload)
	}
	data, err := parseU16s(p[2:])
	if err != nil {
		return nil, fmt.Errorf("pixel set: %w", err)
	}
	if h.Channels > 1 && len(data)%h.Channels != 0 {
		return nil, fmt.Errorf("pixel set: %w: data not a multiple of %d channels", ErrBadPayload, h.Channels)
	}
	if h.Cmd == nil {
		return nil, &hidio.NakError{}
	}
	cmd := PixelSet16Cmd{Start: binary.LittleEndian.Uint16(p), Data: data}
	if err := h.Cmd(cmd); err != nil {
		return nil, err
	}
	return nil, nil
}

func (h PixelSet16) HandleNoAck(_ []byte) {}

func (h PixelSet16) HandleAck(_ []byte) error {
	if h.Ack == nil {
		return nil
	}
	return h.Ack()
}

func (h PixelSet16) HandleNak(_ []byte) error {
	if h.Nak == nil {
		return nil
	}
	return h.Nak()
}
