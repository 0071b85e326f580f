package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hid-io/hidio-go/internal/hidio"
)

func TestSupportedIDs_AckEncoding(t *testing.T) {
	h := SupportedIDs{Cmd: func() (SupportedIDsAck, error) {
		return SupportedIDsAck{IDs: []uint16{0x00, 0x02, 0x17}}, nil
	}}

	ack, err := h.HandleCommand(nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x00, 0x02, 0x00, 0x17, 0x00}, ack)
}

func TestSupportedIDs_AckDecoding(t *testing.T) {
	var got []uint16
	h := SupportedIDs{Ack: func(ack SupportedIDsAck) error {
		got = ack.IDs
		return nil
	}}

	require.NoError(t, h.HandleAck([]byte{0x00, 0x00, 0x50, 0x00}))
	assert.Equal(t, []uint16{0x0000, 0x0050}, got)

	err := h.HandleAck([]byte{0x00, 0x00, 0x50})
	assert.ErrorIs(t, err, ErrBadPayload)
}

func TestGetInfo_NumberProperty(t *testing.T) {
	h := GetInfo{Cmd: func(cmd GetInfoCmd) (GetInfoAck, error) {
		return GetInfoAck{Number: 0x0105}, nil
	}}

	ack, err := h.HandleCommand([]byte{byte(InfoMajorVersion)})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x05, 0x01}, ack)
}

func TestGetInfo_StringProperty(t *testing.T) {
	h := GetInfo{Cmd: func(cmd GetInfoCmd) (GetInfoAck, error) {
		return GetInfoAck{Text: "hidiod"}, nil
	}}

	ack, err := h.HandleCommand([]byte{byte(InfoHostSoftwareName)})
	require.NoError(t, err)
	assert.Equal(t, append([]byte{0x0D}, []byte("hidiod")...), ack)
}

func TestGetInfo_OSTypeProperty(t *testing.T) {
	h := GetInfo{Cmd: func(cmd GetInfoCmd) (GetInfoAck, error) {
		return GetInfoAck{OS: OSLinux}, nil
	}}

	ack, err := h.HandleCommand([]byte{byte(InfoOSType)})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x0B, 0x02}, ack)
}

func TestGetInfo_UnknownSelectorEchoedInNak(t *testing.T) {
	h := GetInfo{Cmd: func(cmd GetInfoCmd) (GetInfoAck, error) {
		return GetInfoAck{}, nil
	}}

	_, err := h.HandleCommand([]byte{0x7F})
	var nak *hidio.NakError
	require.ErrorAs(t, err, &nak)
	assert.Equal(t, []byte{0x7F}, nak.Payload)
}

func TestGetInfo_EmptyPayloadRejected(t *testing.T) {
	h := GetInfo{}
	_, err := h.HandleCommand(nil)
	assert.ErrorIs(t, err, ErrShortPayload)
}

func TestGetInfo_AckDecoding(t *testing.T) {
	var got GetInfoAck
	h := GetInfo{Ack: func(ack GetInfoAck) error {
		got = ack
		return nil
	}}

	require.NoError(t, h.HandleAck([]byte{byte(InfoMinorVersion), 0x2A, 0x00}))
	assert.Equal(t, InfoMinorVersion, got.Property)
	assert.Equal(t, uint16(42), got.Number)

	require.NoError(t, h.HandleAck(append([]byte{byte(InfoDeviceName)}, []byte("Keystone")...)))
	assert.Equal(t, "Keystone", got.Text)

	err := h.HandleAck([]byte{byte(InfoMajorVersion)})
	assert.ErrorIs(t, err, ErrShortPayload)
}

func TestTestPacket_Echo(t *testing.T) {
	h := TestPacket{Cmd: Echo}

	ack, err := h.HandleCommand([]byte{0xDE, 0xAD, 0xBE, 0xEF})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, ack)
}

func TestGetProperties_FieldOperations(t *testing.T) {
	h := GetProperties{Cmd: func(cmd GetPropertiesCmd) (GetPropertiesAck, error) {
		switch cmd.Command {
		case PropertyListFields:
			return GetPropertiesAck{Fields: []uint8{0x01, 0x02}}, nil
		default:
			assert.Equal(t, uint8(0x02), cmd.Field)
			return GetPropertiesAck{Text: "layout"}, nil
		}
	}}

	ack, err := h.HandleCommand(GetPropertiesCmd{Command: PropertyListFields}.Marshal())
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x01, 0x02}, ack)

	ack, err = h.HandleCommand(GetPropertiesCmd{Command: PropertyFieldName, Field: 0x02}.Marshal())
	require.NoError(t, err)
	assert.Equal(t, append([]byte{0x01}, []byte("layout")...), ack)

	// A field operation without the field byte is rejected.
	_, err = h.HandleCommand([]byte{byte(PropertyFieldValue)})
	assert.ErrorIs(t, err, ErrShortPayload)
}

func TestKeyboardLayout_Roundtrip(t *testing.T) {
	want := KeyboardLayoutAck{
		Width: 14,
		Keys: []LayoutKey{
			{Scancode: 0x0001, Type: 0x00, USBCode: 0x0004},
			{Scancode: 0x0102, Type: 0x01, USBCode: 0x00E1},
		},
	}

	h := KeyboardLayout{Cmd: func(cmd KeyboardLayoutCmd) (KeyboardLayoutAck, error) {
		assert.Equal(t, uint8(3), cmd.Layer)
		return want, nil
	}}

	wire, err := h.HandleCommand([]byte{3})
	require.NoError(t, err)

	got, err := parseKeyboardLayoutAck(wire)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = parseKeyboardLayoutAck([]byte{14, 0x01})
	assert.ErrorIs(t, err, ErrBadPayload)
}

func TestButtonLayout_Roundtrip(t *testing.T) {
	want := ButtonLayoutAck{Buttons: []ButtonPosition{
		{ID: 1, X: 18.5, Y: 0, Z: -2.25},
		{ID: 2, X: 37, Y: 19.05, RZ: 90},
	}}

	h := ButtonLayout{Cmd: func() (ButtonLayoutAck, error) { return want, nil }}
	wire, err := h.HandleCommand(nil)
	require.NoError(t, err)
	assert.Len(t, wire, 2*buttonPositionSize)

	got, err := parseButtonLayoutAck(wire)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestFlashMode_NakReason(t *testing.T) {
	h := FlashMode{}

	_, err := h.HandleCommand(nil)
	var nak *hidio.NakError
	require.ErrorAs(t, err, &nak)
	assert.Equal(t, []byte{byte(FlashModeNotSupported)}, nak.Payload)

	var got FlashModeNak
	h = FlashMode{Nak: func(n FlashModeNak) error {
		got = n
		return nil
	}}
	require.NoError(t, h.HandleNak([]byte{byte(FlashModeDisabled)}))
	assert.Equal(t, FlashModeDisabled, got.Reason)
}

func TestUnicodeText_InvalidUTF8Rejected(t *testing.T) {
	h := UnicodeText{Cmd: func(cmd UnicodeTextCmd) error { return nil }}

	_, err := h.HandleCommand([]byte{0xFF, 0xFE})
	assert.ErrorIs(t, err, ErrBadPayload)

	_, err = h.HandleCommand([]byte("héllo🎉"))
	assert.NoError(t, err)
}

func TestHostMacro_NakListsFailedIDs(t *testing.T) {
	h := HostMacro{Cmd: func(cmd HostMacroCmd) error {
		assert.Equal(t, []uint16{0x0001, 0x0203}, cmd.Macros)
		return HostMacroNak{Failed: []uint16{0x0203}}.Err()
	}}

	_, err := h.HandleCommand(HostMacroCmd{Macros: []uint16{0x0001, 0x0203}}.Marshal())
	var nak *hidio.NakError
	require.ErrorAs(t, err, &nak)
	assert.Equal(t, []byte{0x03, 0x02}, nak.Payload)
}

func TestSleepMode_NakReason(t *testing.T) {
	h := SleepMode{Cmd: func() error {
		return SleepModeNak{Reason: SleepModeNotReady}.Err()
	}}

	_, err := h.HandleCommand(nil)
	var nak *hidio.NakError
	require.ErrorAs(t, err, &nak)
	assert.Equal(t, []byte{byte(SleepModeNotReady)}, nak.Payload)
}

func TestKLLTriggerState_Parsing(t *testing.T) {
	var got []KLLTrigger
	h := KLLTriggerState{Cmd: func(cmd KLLTriggerStateCmd) error {
		got = cmd.Triggers
		return nil
	}}

	wire := KLLTriggerStateCmd{Triggers: []KLLTrigger{
		{Type: 0x01, ID: 0x0010, State: 0x03},
		{Type: 0x05, ID: 0x1234, State: 0x01},
	}}.Marshal()
	assert.Equal(t, []byte{0x01, 0x10, 0x00, 0x03, 0x05, 0x34, 0x12, 0x01}, wire)

	_, err := h.HandleCommand(wire)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, KLLTrigger{Type: 0x05, ID: 0x1234, State: 0x01}, got[1])

	_, err = h.HandleCommand(wire[:7])
	assert.ErrorIs(t, err, ErrBadPayload)
}

func TestPixelCommands(t *testing.T) {
	setting := PixelSetting{Cmd: func(cmd PixelSettingCmd) error {
		assert.Equal(t, uint16(0x0003), cmd.Command)
		assert.Equal(t, uint16(0x1234), cmd.Arg)
		return nil
	}}
	_, err := setting.HandleCommand(PixelSettingCmd{Command: 0x0003, Arg: 0x1234}.Marshal())
	require.NoError(t, err)

	rgb := PixelSet8{Channels: 3, Cmd: func(cmd PixelSet8Cmd) error {
		assert.Equal(t, uint16(0x0010), cmd.Start)
		assert.Equal(t, []uint8{0xFF, 0x80, 0x00}, cmd.Data)
		return nil
	}}
	_, err = rgb.HandleCommand(PixelSet8Cmd{Start: 0x0010, Data: []uint8{0xFF, 0x80, 0x00}}.Marshal())
	require.NoError(t, err)

	// Two bytes is not a whole RGB pixel.
	_, err = rgb.HandleCommand([]byte{0x10, 0x00, 0xFF, 0x80})
	assert.ErrorIs(t, err, ErrBadPayload)

	wide := PixelSet16{Channels: 1, Cmd: func(cmd PixelSet16Cmd) error {
		assert.Equal(t, []uint16{0x0100, 0xFFFF}, cmd.Data)
		return nil
	}}
	_, err = wide.HandleCommand(PixelSet16Cmd{Start: 0, Data: []uint16{0x0100, 0xFFFF}}.Marshal())
	require.NoError(t, err)
}

func TestHIDKeyboard_BitmaskSizeEnforced(t *testing.T) {
	h := HIDKeyboard{Cmd: func(cmd HIDKeyboardCmd) error { return nil }}

	_, err := h.HandleCommand(make([]byte, NKROBitmaskSize))
	assert.NoError(t, err)

	_, err = h.HandleCommand(make([]byte, 31))
	assert.ErrorIs(t, err, ErrBadPayload)
}

func TestBitmaskCodesRoundtrip(t *testing.T) {
	codes := []uint8{1, 2, 3, 4, 5, 100, 255}

	bitmask := CodesToBitmask(codes)
	assert.Len(t, bitmask, NKROBitmaskSize)
	assert.Equal(t, codes, BitmaskToCodes(bitmask))
}

func TestManufacturing_Wire(t *testing.T) {
	cmd := ManufacturingTestCmd{Command: 0x0001, Arg: 0x0002}
	assert.Equal(t, []byte{0x01, 0x00, 0x02, 0x00}, cmd.Marshal())

	h := ManufacturingTest{Cmd: func(got ManufacturingTestCmd) (ManufacturingTestAck, error) {
		assert.Equal(t, cmd, got)
		return ManufacturingTestAck{Data: []byte{0x01}}, nil
	}}
	ack, err := h.HandleCommand(cmd.Marshal())
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01}, ack)

	var res ManufacturingResultCmd
	r := ManufacturingResult{Cmd: func(got ManufacturingResultCmd) error {
		res = got
		return nil
	}}
	wire := ManufacturingResultCmd{Command: 0x0001, Arg: 0x0003, Data: []byte{0xAA, 0xBB}}.Marshal()
	_, err = r.HandleCommand(wire)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0001), res.Command)
	assert.Equal(t, uint16(0x0003), res.Arg)
	assert.Equal(t, []byte{0xAA, 0xBB}, res.Data)

	_, err = r.HandleCommand([]byte{0x01, 0x00})
	assert.ErrorIs(t, err, ErrShortPayload)
}

func TestCatalog_SupportedIDsReflectsRegistry(t *testing.T) {
	reg := NewCatalog().
		Register(IDTestPacket, TestPacket{Cmd: Echo}).
		Register(IDUnicodeText, UnicodeText{}).
		Register(IDManufacturingResult, ManufacturingResult{}).
		Registry()

	assert.True(t, reg.Supported(IDSupportedIDs))
	assert.True(t, reg.Supported(IDTestPacket))
	assert.False(t, reg.Supported(IDFlashMode))
	assert.Equal(t, []uint32{IDSupportedIDs, IDTestPacket, IDUnicodeText, IDManufacturingResult}, reg.IDs())

	// The auto-wired 0x00 handler answers with the full sorted set.
	d, err := hidio.NewDispatcher(reg, hidio.Config{ChunkSize: 64})
	require.NoError(t, err)
	defer d.Close()

	resp, err := d.HandleMessage(hidio.Message{Kind: hidio.PacketData, ID: IDSupportedIDs})
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, hidio.PacketACK, resp.Kind)

	ids, err := parseU16s(resp.Payload)
	require.NoError(t, err)
	assert.Equal(t, []uint16{0x00, 0x02, 0x17, 0x51}, ids)
}

func TestCatalog_ExplicitSupportedIDsKept(t *testing.T) {
	custom := SupportedIDs{Cmd: func() (SupportedIDsAck, error) {
		return SupportedIDsAck{IDs: []uint16{0x42}}, nil
	}}
	reg := NewCatalog().
		Register(IDSupportedIDs, custom).
		Register(IDTestPacket, TestPacket{Cmd: Echo}).
		Registry()

	assert.True(t, reg.Supported(IDSupportedIDs))

	d, err := hidio.NewDispatcher(reg, hidio.Config{ChunkSize: 64})
	require.NoError(t, err)
	defer d.Close()

	resp, err := d.HandleMessage(hidio.Message{Kind: hidio.PacketData, ID: IDSupportedIDs})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x42, 0x00}, resp.Payload)
}
