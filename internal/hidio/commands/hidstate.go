package commands

import (
	"fmt"

	"github.com/hid-io/hidio-go/internal/hidio"
)

// NKROBitmaskSize is the fixed size of the HID keyboard state bitmask:
// one bit per USB code 0..255.
const NKROBitmaskSize = 32

// HIDKeyboardCmd carries the full NKRO keyboard state (ID 0x40). The first
// byte covers codes 0-7, the last codes 248-255.
type HIDKeyboardCmd struct {
	Bitmask []byte
}

// HIDKeyboard implements command 0x40; the ACK is empty.
type HIDKeyboard struct {
	Cmd   func(HIDKeyboardCmd) error
	NACmd func(HIDKeyboardCmd)
	Ack   func() error
	Nak   func() error
}

var _ hidio.Handler = HIDKeyboard{}

func (h HIDKeyboard) HandleCommand(p []byte) ([]byte, error) {
	if len(p) != NKROBitmaskSize {
		return nil, fmt.Errorf("hid keyboard state: %w: want %d bitmask bytes, got %d", ErrBadPayload, NKROBitmaskSize, len(p))
	}
	if h.Cmd == nil {
		return nil, &hidio.NakError{}
	}
	if err := h.Cmd(HIDKeyboardCmd{Bitmask: p}); err != nil {
		return nil, err
	}
	return nil, nil
}

func (h HIDKeyboard) HandleNoAck(p []byte) {
	if h.NACmd == nil || len(p) != NKROBitmaskSize {
		return
	}
	h.NACmd(HIDKeyboardCmd{Bitmask: p})
}

func (h HIDKeyboard) HandleAck(_ []byte) error {
	if h.Ack == nil {
		return nil
	}
	return h.Ack()
}

func (h HIDKeyboard) HandleNak(_ []byte) error {
	if h.Nak == nil {
		return nil
	}
	return h.Nak()
}

// HIDKeyboardLEDCmd carries the keyboard LED bitmask (ID 0x41): NumLock
// bit 0 through Kana bit 4.
type HIDKeyboardLEDCmd struct {
	LEDs uint8
}

// HIDKeyboardLED implements command 0x41; the ACK is empty.
type HIDKeyboardLED struct {
	Cmd   func(HIDKeyboardLEDCmd) error
	NACmd func(HIDKeyboardLEDCmd)
	Ack   func() error
	Nak   func() error
}

var _ hidio.Handler = HIDKeyboardLED{}

func (h HIDKeyboardLED) HandleCommand(p []byte) ([]byte, error) {
	if len(p) < 1 {
		return nil, fmt.Errorf("hid keyboard led state: %w", ErrShortPayload)
	}
	if h.Cmd == nil {
		return nil, &hidio.NakError{}
	}
	if err := h.Cmd(HIDKeyboardLEDCmd{LEDs: p[0]}); err != nil {
		return nil, err
	}
	return nil, nil
}

func (h HIDKeyboardLED) HandleNoAck(p []byte) {
	if h.NACmd == nil || len(p) < 1 {
		return
	}
	h.NACmd(HIDKeyboardLEDCmd{LEDs: p[0]})
}

func (h HIDKeyboardLED) HandleAck(_ []byte) error {
	if h.Ack == nil {
		return nil
	}
	return h.Ack()
}

func (h HIDKeyboardLED) HandleNak(_ []byte) error {
	if h.Nak == nil {
		return nil
	}
	return h.Nak()
}

// BitmaskToCodes expands a HID bitmask into the list of active byte codes.
// Bit 0 of the first byte is code 0.
func BitmaskToCodes(bitmask []byte) []uint8 {
	var codes []uint8
	for pos, b := range bitmask {
		for bit := 0; bit < 8; bit++ {
			if b>>bit&0x01 == 0x01 {
				codes = append(codes, uint8(pos*8+bit))
			}
		}
	}
	return codes
}

// CodesToBitmask packs byte codes into a fixed NKRO bitmask. Inverse of
// BitmaskToCodes.
func CodesToBitmask(codes []uint8) []byte {
	bitmask := make([]byte, NKROBitmaskSize)
	for _, code := range codes {
		bitmask[code/8] |= 1 << (code % 8)
	}
	return bitmask
}
