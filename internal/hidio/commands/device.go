package commands

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/hid-io/hidio-go/internal/hidio"
)

// PropertyCommand selects the Get Device Properties operation (ID 0x10).
type PropertyCommand uint8

const (
	// PropertyListFields asks for the IDs of every queryable field.
	PropertyListFields PropertyCommand = 0x00
	// PropertyFieldName asks for the human-readable name of one field.
	PropertyFieldName PropertyCommand = 0x01
	// PropertyFieldValue asks for the value of one field.
	PropertyFieldValue PropertyCommand = 0x02
)

// GetPropertiesCmd requests device property data. Field is meaningful for
// the field-name and field-value operations only.
type GetPropertiesCmd struct {
	Command PropertyCommand
	Field   uint8
}

func (c GetPropertiesCmd) Marshal() []byte {
	if c.Command == PropertyListFields {
		return []byte{byte(c.Command)}
	}
	return []byte{byte(c.Command), c.Field}
}

// GetPropertiesAck answers a property request. The ACK payload opens with
// the echoed command byte; Fields is set for a list answer, Text for a
// name or value answer.
type GetPropertiesAck struct {
	Command PropertyCommand
	Fields  []uint8
	Text    string
}

func (a GetPropertiesAck) marshal() []byte {
	out := []byte{byte(a.Command)}
	if a.Command == PropertyListFields {
		return append(out, a.Fields...)
	}
	return append(out, a.Text...)
}

// GetProperties implements command 0x10.
type GetProperties struct {
	Cmd func(GetPropertiesCmd) (GetPropertiesAck, error)
	Ack func(GetPropertiesAck) error
	Nak func() error
}

var _ hidio.Handler = GetProperties{}

func (h GetProperties) HandleCommand(p []byte) ([]byte, error) {
	if len(p) < 1 {
		return nil, fmt.Errorf("get properties: %w", ErrShortPayload)
	}
	cmd := GetPropertiesCmd{Command: PropertyCommand(p[0])}
	if cmd.Command != PropertyListFields {
		if len(p) < 2 {
			return nil, fmt.Errorf("get properties: %w", ErrShortPayload)
		}
		cmd.Field = p[1]
	}
	if h.Cmd == nil {
		return nil, &hidio.NakError{}
	}
	ack, err := h.Cmd(cmd)
	if err != nil {
		return nil, err
	}
	ack.Command = cmd.Command
	return ack.marshal(), nil
}

func (h GetProperties) HandleNoAck(_ []byte) {}

func (h GetProperties) HandleAck(p []byte) error {
	if h.Ack == nil {
		return nil
	}
	if len(p) < 1 {
		return fmt.Errorf("get properties ack: %w", ErrShortPayload)
	}
	ack := GetPropertiesAck{Command: PropertyCommand(p[0])}
	if ack.Command == PropertyListFields {
		ack.Fields = append([]uint8(nil), p[1:]...)
	} else {
		ack.Text = string(p[1:])
	}
	return h.Ack(ack)
}

func (h GetProperties) HandleNak(_ []byte) error {
	if h.Nak == nil {
		return nil
	}
	return h.Nak()
}

// USBKeyStateCmd applies USB keyboard codes on the device (ID 0x11). Mode
// 0 presses, mode 1 releases.
type USBKeyStateCmd struct {
	Mode  uint8
	Codes []uint8
}

func (c USBKeyStateCmd) Marshal() []byte {
	return append([]byte{c.Mode}, c.Codes...)
}

// USBKeyStateAck lists the codes the device could not apply.
type USBKeyStateAck struct {
	Failed []uint8
}

// USBKeyState implements command 0x11.
type USBKeyState struct {
	Cmd func(USBKeyStateCmd) (USBKeyStateAck, error)
	Ack func(USBKeyStateAck) error
	Nak func() error
}

var _ hidio.Handler = USBKeyState{}

func (h USBKeyState) HandleCommand(p []byte) ([]byte, error) {
	if len(p) < 1 {
		return nil, fmt.Errorf("usb key state: %w", ErrShortPayload)
	}
	if h.Cmd == nil {
		return nil, &hidio.NakError{}
	}
	ack, err := h.Cmd(USBKeyStateCmd{Mode: p[0], Codes: p[1:]})
	if err != nil {
		return nil, err
	}
	return ack.Failed, nil
}

func (h USBKeyState) HandleNoAck(_ []byte) {}

func (h USBKeyState) HandleAck(p []byte) error {
	if h.Ack == nil {
		return nil
	}
	return h.Ack(USBKeyStateAck{Failed: p})
}

func (h USBKeyState) HandleNak(_ []byte) error {
	if h.Nak == nil {
		return nil
	}
	return h.Nak()
}

// LayoutKey maps one scancode of a keyboard layer (ID 0x12).
type LayoutKey struct {
	Scancode uint16
	Type     uint8
	USBCode  uint16
}

const layoutKeySize = 5

// KeyboardLayoutCmd requests one layer of the layout.
type KeyboardLayoutCmd struct {
	Layer uint8
}

// KeyboardLayoutAck describes a layer: the matrix width followed by
// (scancode, type, usbcode) tuples.
type KeyboardLayoutAck struct {
	Width uint8
	Keys  []LayoutKey
}

func (a KeyboardLayoutAck) marshal() []byte {
	out := make([]byte, 1, 1+len(a.Keys)*layoutKeySize)
	out[0] = a.Width
	for _, k := range a.Keys {
		out = binary.LittleEndian.AppendUint16(out, k.Scancode)
		out = append(out, k.Type)
		out = binary.LittleEndian.AppendUint16(out, k.USBCode)
	}
	return out
}

func parseKeyboardLayoutAck(p []byte) (KeyboardLayoutAck, error) {
	var ack KeyboardLayoutAck
	if len(p) < 1 {
		return ack, fmt.Errorf("keyboard layout ack: %w", ErrShortPayload)
	}
	if (len(p)-1)%layoutKeySize != 0 {
		return ack, fmt.Errorf("keyboard layout ack: %w", ErrBadPayload)
	}
	ack.Width = p[0]
	for p = p[1:]; len(p) > 0; p = p[layoutKeySize:] {
		ack.Keys = append(ack.Keys, LayoutKey{
			Scancode: binary.LittleEndian.Uint16(p),
			Type:     p[2],
			USBCode:  binary.LittleEndian.Uint16(p[3:]),
		})
	}
	return ack, nil
}

// KeyboardLayout implements command 0x12.
type KeyboardLayout struct {
	Cmd func(KeyboardLayoutCmd) (KeyboardLayoutAck, error)
	Ack func(KeyboardLayoutAck) error
	Nak func() error
}

var _ hidio.Handler = KeyboardLayout{}

func (h KeyboardLayout) HandleCommand(p []byte) ([]byte, error) {
	if len(p) < 1 {
		return nil, fmt.Errorf("keyboard layout: %w", ErrShortPayload)
	}
	if h.Cmd == nil {
		return nil, &hidio.NakError{}
	}
	ack, err := h.Cmd(KeyboardLayoutCmd{Layer: p[0]})
	if err != nil {
		return nil, err
	}
	return ack.marshal(), nil
}

func (h KeyboardLayout) HandleNoAck(_ []byte) {}

func (h KeyboardLayout) HandleAck(p []byte) error {
	if h.Ack == nil {
		return nil
	}
	ack, err := parseKeyboardLayoutAck(p)
	if err != nil {
		return err
	}
	return h.Ack(ack)
}

func (h KeyboardLayout) HandleNak(_ []byte) error {
	if h.Nak == nil {
		return nil
	}
	return h.Nak()
}

// ButtonPosition places one button in device space, millimeters from the
// top-left mounting reference (ID 0x13).
type ButtonPosition struct {
	ID         uint16
	X, Y, Z    float32
	RX, RY, RZ float32
}

const buttonPositionSize = 26

// ButtonLayoutAck lists every button position.
type ButtonLayoutAck struct {
	Buttons []ButtonPosition
}

func (a ButtonLayoutAck) marshal() []byte {
	out := make([]byte, 0, len(a.Buttons)*buttonPositionSize)
	for _, b := range a.Buttons {
		out = binary.LittleEndian.AppendUint16(out, b.ID)
		for _, f := range [...]float32{b.X, b.Y, b.Z, b.RX, b.RY, b.RZ} {
			out = binary.LittleEndian.AppendUint32(out, math.Float32bits(f))
		}
	}
	return out
}

func parseButtonLayoutAck(p []byte) (ButtonLayoutAck, error) {
	var ack ButtonLayoutAck
	if len(p)%buttonPositionSize != 0 {
		return ack, fmt.Errorf("button layout ack: %w", ErrBadPayload)
	}
	for ; len(p) > 0; p = p[buttonPositionSize:] {
		b := ButtonPosition{ID: binary.LittleEndian.Uint16(p)}
		f := p[2:]
		for i, dst := range [...]*float32{&b.X, &b.Y, &b.Z, &b.RX, &b.RY, &b.RZ} {
			*dst = math.Float32frombits(binary.LittleEndian.Uint32(f[i*4:]))
		}
		ack.Buttons = append(ack.Buttons, b)
	}
	return ack, nil
}

// ButtonLayout implements command 0x13; the request is empty.
type ButtonLayout struct {
	Cmd func() (ButtonLayoutAck, error)
	Ack func(ButtonLayoutAck) error
	Nak func() error
}

var _ hidio.Handler = ButtonLayout{}

func (h ButtonLayout) HandleCommand(_ []byte) ([]byte, error) {
	if h.Cmd == nil {
		return nil, &hidio.NakError{}
	}
	ack, err := h.Cmd()
	if err != nil {
		return nil, err
	}
	return ack.marshal(), nil
}

func (h ButtonLayout) HandleNoAck(_ []byte) {}

func (h ButtonLayout) HandleAck(p []byte) error {
	if h.Ack == nil {
		return nil
	}
	ack, err := parseButtonLayoutAck(p)
	if err != nil {
		return err
	}
	return h.Ack(ack)
}

func (h ButtonLayout) HandleNak(_ []byte) error {
	if h.Nak == nil {
		return nil
	}
	return h.Nak()
}

// LEDLayoutCmd requests the LED list of one type (ID 0x15).
type LEDLayoutCmd struct {
	Type uint8
}

// LEDLayoutAck lists the LED indices of the requested type.
type LEDLayoutAck struct {
	Entries []uint16
}

// LEDLayout implements command 0x15.
type LEDLayout struct {
	Cmd func(LEDLayoutCmd) (LEDLayoutAck, error)
	Ack func(LEDLayoutAck) error
	Nak func() error
}

var _ hidio.Handler = LEDLayout{}

func (h LEDLayout) HandleCommand(p []byte) ([]byte, error) {
	if len(p) < 1 {
		return nil, fmt.Errorf("led layout: %w", ErrShortPayload)
	}
	if h.Cmd == nil {
		return nil, &hidio.NakError{}
	}
	ack, err := h.Cmd(LEDLayoutCmd{Type: p[0]})
	if err != nil {
		return nil, err
	}
	return appendU16s(nil, ack.Entries), nil
}

func (h LEDLayout) HandleNoAck(_ []byte) {}

func (h LEDLayout) HandleAck(p []byte) error {
	if h.Ack == nil {
		return nil
	}
	entries, err := parseU16s(p)
	if err != nil {
		return fmt.Errorf("led layout ack: %w", err)
	}
	return h.Ack(LEDLayoutAck{Entries: entries})
}

func (h LEDLayout) HandleNak(_ []byte) error {
	if h.Nak == nil {
		return nil
	}
	return h.Nak()
}

// FlashModeReason explains a rejected flash-mode request.
type FlashModeReason uint8

const (
	FlashModeNotSupported FlashModeReason = 0x00
	FlashModeDisabled     FlashModeReason = 0x01
)

// FlashModeAck names the scancode that must be pressed to confirm entry
// into flash mode (ID 0x16).
type FlashModeAck struct {
	Scancode uint16
}

// FlashModeNak rejects a flash-mode request.
type FlashModeNak struct {
	Reason FlashModeReason
}

// Err converts the NAK into a handler rejection error.
func (n FlashModeNak) Err() error {
	return &hidio.NakError{Payload: []byte{byte(n.Reason)}}
}

// FlashMode implements command 0x16; the request is empty.
type FlashMode struct {
	Cmd func() (FlashModeAck, error)
	Ack func(FlashModeAck) error
	Nak func(FlashModeNak) error
}

var _ hidio.Handler = FlashMode{}

func (h FlashMode) HandleCommand(_ []byte) ([]byte, error) {
	if h.Cmd == nil {
		return nil, FlashModeNak{Reason: FlashModeNotSupported}.Err()
	}
	ack, err := h.Cmd()
	if err != nil {
		return nil, err
	}
	return binary.LittleEndian.AppendUint16(nil, ack.Scancode), nil
}

func (h FlashMode) HandleNoAck(_ []byte) {}

func (h FlashMode) HandleAck(p []byte) error {
	if h.Ack == nil {
		return nil
	}
	if len(p) < 2 {
		return fmt.Errorf("flash mode ack: %w", ErrShortPayload)
	}
	return h.Ack(FlashModeAck{Scancode: binary.LittleEndian.Uint16(p)})
}

func (h FlashMode) HandleNak(p []byte) error {
	if h.Nak == nil {
		return nil
	}
	nak := FlashModeNak{Reason: FlashModeNotSupported}
	if len(p) > 0 {
		nak.Reason = FlashModeReason(p[0])
	}
	return h.Nak(nak)
}

// SleepModeReason explains a rejected sleep request.
type SleepModeReason uint8

const (
	SleepModeNotSupported SleepModeReason = 0x00
	SleepModeDisabled     SleepModeReason = 0x01
	SleepModeNotReady     SleepModeReason = 0x02
)

// SleepModeNak rejects a sleep-mode request (ID 0x1A).
type SleepModeNak struct {
	Reason SleepModeReason
}

// Err converts the NAK into a handler rejection error.
func (n SleepModeNak) Err() error {
	return &hidio.NakError{Payload: []byte{byte(n.Reason)}}
}

// SleepMode implements command 0x1A; request and ACK are empty.
type SleepMode struct {
	Cmd func() error
	Ack func() error
	Nak func(SleepModeNak) error
}

var _ hidio.Handler = SleepMode{}

func (h SleepMode) HandleCommand(_ []byte) ([]byte, error) {
	if h.Cmd == nil {
		return nil, SleepModeNak{Reason: SleepModeNotSupported}.Err()
	}
	if err := h.Cmd(); err != nil {
		return nil, err
	}
	return nil, nil
}

func (h SleepMode) HandleNoAck(_ []byte) {}

func (h SleepMode) HandleAck(_ []byte) error {
	if h.Ack == nil {
		return nil
	}
	return h.Ack()
}

func (h SleepMode) HandleNak(p []byte) error {
	if h.Nak == nil {
		return nil
	}
	nak := SleepModeNak{Reason: SleepModeNotSupported}
	if len(p) > 0 {
		nak.Reason = SleepModeReason(p[0])
	}
	return h.Nak(nak)
}
