package commands

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/hid-io/hidio-go/internal/hidio"
)

// SupportedIDsAck lists the command IDs the responding peer carries.
type SupportedIDsAck struct {
	IDs []uint16
}

// SupportedIDs implements command 0x00. A Catalog wires this in
// automatically, reflecting its own registry.
type SupportedIDs struct {
	Cmd func() (SupportedIDsAck, error)
	Ack func(SupportedIDsAck) error
	Nak func() error
}

var _ hidio.Handler = SupportedIDs{}

func (h SupportedIDs) HandleCommand(_ []byte) ([]byte, error) {
	if h.Cmd == nil {
		return nil, &hidio.NakError{}
	}
	ack, err := h.Cmd()
	if err != nil {
		return nil, err
	}
	return appendU16s(nil, ack.IDs), nil
}

func (h SupportedIDs) HandleNoAck(_ []byte) {}

func (h SupportedIDs) HandleAck(p []byte) error {
	if h.Ack == nil {
		return nil
	}
	ids, err := parseU16s(p)
	if err != nil {
		return fmt.Errorf("supported ids ack: %w", err)
	}
	return h.Ack(SupportedIDsAck{IDs: ids})
}

func (h SupportedIDs) HandleNak(_ []byte) error {
	if h.Nak == nil {
		return nil
	}
	return h.Nak()
}

// InfoProperty selects the value requested by a Get Info command.
type InfoProperty uint8

const (
	InfoUnknown          InfoProperty = 0x00
	InfoMajorVersion     InfoProperty = 0x01
	InfoMinorVersion     InfoProperty = 0x02
	InfoPatchVersion     InfoProperty = 0x03
	InfoDeviceName       InfoProperty = 0x04
	InfoDeviceSerial     InfoProperty = 0x05
	InfoDeviceVersion    InfoProperty = 0x06
	InfoDeviceMCU        InfoProperty = 0x07
	InfoFirmwareName     InfoProperty = 0x08
	InfoFirmwareVersion  InfoProperty = 0x09
	InfoDeviceVendor     InfoProperty = 0x0A
	InfoOSType           InfoProperty = 0x0B
	InfoOSVersion        InfoProperty = 0x0C
	InfoHostSoftwareName InfoProperty = 0x0D

	infoPropertyMax = InfoHostSoftwareName
)

// OSType identifies the host platform in a Get Info OS-type answer.
type OSType uint8

const (
	OSUnknown  OSType = 0x00
	OSWindows  OSType = 0x01
	OSLinux    OSType = 0x02
	OSAndroid  OSType = 0x03
	OSMacOS    OSType = 0x04
	OSIOS      OSType = 0x05
	OSChromeOS OSType = 0x06
)

// GetInfoCmd requests one property (ID 0x01).
type GetInfoCmd struct {
	Property InfoProperty
}

// GetInfoAck answers a Get Info request. Number is set for the version
// properties, OS for the OS-type property, Text for everything else.
type GetInfoAck struct {
	Property InfoProperty
	Number   uint16
	OS       OSType
	Text     string
}

func (a GetInfoAck) marshal() []byte {
	switch a.Property {
	case InfoMajorVersion, InfoMinorVersion, InfoPatchVersion:
		return binary.LittleEndian.AppendUint16(nil, a.Number)
	case InfoOSType:
		return []byte{byte(a.OS)}
	case InfoUnknown:
		return nil
	default:
		return []byte(a.Text)
	}
}

func parseGetInfoAck(prop InfoProperty, p []byte) (GetInfoAck, error) {
	ack := GetInfoAck{Property: prop}
	switch prop {
	case InfoMajorVersion, InfoMinorVersion, InfoPatchVersion:
		if len(p) < 2 {
			return ack, fmt.Errorf("get info ack: %w", ErrShortPayload)
		}
		ack.Number = binary.LittleEndian.Uint16(p)
	case InfoOSType:
		if len(p) < 1 {
			return ack, fmt.Errorf("get info ack: %w", ErrShortPayload)
		}
		ack.OS = OSType(p[0])
	case InfoUnknown:
	default:
		ack.Text = string(p)
	}
	return ack, nil
}

// GetInfoNak rejects a Get Info request, echoing the selector.
type GetInfoNak struct {
	Property InfoProperty
}

// Err converts the NAK into the error a handler returns to reject the
// request with this payload.
func (n GetInfoNak) Err() error {
	return &hidio.NakError{Payload: []byte{byte(n.Property)}}
}

// GetInfo implements command 0x01. An unknown selector is NAKed with the
// selector byte echoed; Cmd implementations get that behavior by default
// when they return any non-NakError error.
type GetInfo struct {
	Cmd func(GetInfoCmd) (GetInfoAck, error)
	Ack func(GetInfoAck) error
	Nak func(GetInfoNak) error
}

var _ hidio.Handler = GetInfo{}

func (h GetInfo) HandleCommand(p []byte) ([]byte, error) {
	if len(p) < 1 {
		return nil, fmt.Errorf("get info: %w", ErrShortPayload)
	}
	prop := InfoProperty(p[0])
	if h.Cmd == nil || prop > infoPropertyMax {
		return nil, GetInfoNak{Property: prop}.Err()
	}
	ack, err := h.Cmd(GetInfoCmd{Property: prop})
	if err != nil {
		var nak *hidio.NakError
		if errors.As(err, &nak) {
			return nil, err
		}
		return nil, GetInfoNak{Property: prop}.Err()
	}
	ack.Property = prop
	return append([]byte{byte(prop)}, ack.marshal()...), nil
}

func (h GetInfo) HandleNoAck(_ []byte) {}

func (h GetInfo) HandleAck(p []byte) error {
	if h.Ack == nil {
		return nil
	}
	if len(p) < 1 {
		return fmt.Errorf("get info ack: %w", ErrShortPayload)
	}
	ack, err := parseGetInfoAck(InfoProperty(p[0]), p[1:])
	if err != nil {
		return err
	}
	return h.Ack(ack)
}

func (h GetInfo) HandleNak(p []byte) error {
	if h.Nak == nil {
		return nil
	}
	nak := GetInfoNak{Property: InfoUnknown}
	if len(p) > 0 {
		nak.Property = InfoProperty(p[0])
	}
	return h.Nak(nak)
}

// GetInfoRequest marshals a Get Info request payload for the given
// selector.
func GetInfoRequest(prop InfoProperty) []byte {
	return []byte{byte(prop)}
}

// TestPacketCmd echoes arbitrary bytes (ID 0x02).
type TestPacketCmd struct {
	Data []byte
}

// TestPacketAck carries the echoed bytes.
type TestPacketAck struct {
	Data []byte
}

// TestPacket implements command 0x02.
type TestPacket struct {
	Cmd   func(TestPacketCmd) (TestPacketAck, error)
	NACmd func(TestPacketCmd)
	Ack   func(TestPacketAck) error
	Nak   func() error
}

var _ hidio.Handler = TestPacket{}

func (h TestPacket) HandleCommand(p []byte) ([]byte, error) {
	if h.Cmd == nil {
		return nil, &hidio.NakError{}
	}
	ack, err := h.Cmd(TestPacketCmd{Data: p})
	if err != nil {
		return nil, err
	}
	return ack.Data, nil
}

func (h TestPacket) HandleNoAck(p []byte) {
	if h.NACmd != nil {
		h.NACmd(TestPacketCmd{Data: p})
	}
}

func (h TestPacket) HandleAck(p []byte) error {
	if h.Ack == nil {
		return nil
	}
	return h.Ack(TestPacketAck{Data: p})
}

func (h TestPacket) HandleNak(_ []byte) error {
	if h.Nak == nil {
		return nil
	}
	return h.Nak()
}

// Echo is the usual Test Packet command hook: it returns the request
// payload unchanged.
func Echo(cmd TestPacketCmd) (TestPacketAck, error) {
	return TestPacketAck{Data: cmd.Data}, nil
}

// ResetHidIo implements command 0x03; both request and ACK are empty.
type ResetHidIo struct {
	Cmd func() error
	Ack func() error
	Nak func() error
}

var _ hidio.Handler = ResetHidIo{}

func (h ResetHidIo) HandleCommand(_ []byte) ([]byte, error) {
	if h.Cmd == nil {
		return nil, &hidio.NakError{}
	}
	if err := h.Cmd(); err != nil {
		return nil, err
	}
	return nil, nil
}

func (h ResetHidIo) HandleNoAck(_ []byte) {}

func (h ResetHidIo) HandleAck(_ []byte) error {
	if h.Ack == nil {
		return nil
	}
	return h.Ack()
}

func (h ResetHidIo) HandleNak(_ []byte) error {
	if h.Nak == nil {
		return nil
	}
	return h.Nak()
}
