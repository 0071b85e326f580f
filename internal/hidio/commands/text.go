package commands

import (
	"fmt"
	"unicode/utf8"

	"github.com/hid-io/hidio-go/internal/hidio"
)

// UnicodeTextCmd streams UTF-8 text from the device to the host (ID 0x17).
type UnicodeTextCmd struct {
	Text string
}

// UnicodeText implements command 0x17; the ACK is empty.
type UnicodeText struct {
	Cmd   func(UnicodeTextCmd) error
	NACmd func(UnicodeTextCmd)
	Ack   func() error
	Nak   func() error
}

var _ hidio.Handler = UnicodeText{}

func (h UnicodeText) HandleCommand(p []byte) ([]byte, error) {
	if !utf8.Valid(p) {
		return nil, fmt.Errorf("unicode text: %w: invalid utf-8", ErrBadPayload)
	}
	if h.Cmd == nil {
		return nil, &hidio.NakError{}
	}
	if err := h.Cmd(UnicodeTextCmd{Text: string(p)}); err != nil {
		return nil, err
	}
	return nil, nil
}

func (h UnicodeText) HandleNoAck(p []byte) {
	if h.NACmd == nil || !utf8.Valid(p) {
		return
	}
	h.NACmd(UnicodeTextCmd{Text: string(p)})
}

func (h UnicodeText) HandleAck(_ []byte) error {
	if h.Ack == nil {
		return nil
	}
	return h.Ack()
}

func (h UnicodeText) HandleNak(_ []byte) error {
	if h.Nak == nil {
		return nil
	}
	return h.Nak()
}

// UnicodeStateCmd reports the set of UTF-8 symbols currently held on the
// device (ID 0x18). An empty set releases everything.
type UnicodeStateCmd struct {
	Held string
}

// UnicodeState implements command 0x18; the ACK is empty.
type UnicodeState struct {
	Cmd   func(UnicodeStateCmd) error
	NACmd func(UnicodeStateCmd)
	Ack   func() error
	Nak   func() error
}

var _ hidio.Handler = UnicodeState{}

func (h UnicodeState) HandleCommand(p []byte) ([]byte, error) {
	if !utf8.Valid(p) {
		return nil, fmt.Errorf("unicode state: %w: invalid utf-8", ErrBadPayload)
	}
	if h.Cmd == nil {
		return nil, &hidio.NakError{}
	}
	if err := h.Cmd(UnicodeStateCmd{Held: string(p)}); err != nil {
		return nil, err
	}
	return nil, nil
}

func (h UnicodeState) HandleNoAck(p []byte) {
	if h.NACmd == nil || !utf8.Valid(p) {
		return
	}
	h.NACmd(UnicodeStateCmd{Held: string(p)})
}

func (h UnicodeState) HandleAck(_ []byte) error {
	if h.Ack == nil {
		return nil
	}
	return h.Ack()
}

func (h UnicodeState) HandleNak(_ []byte) error {
	if h.Nak == nil {
		return nil
	}
	return h.Nak()
}

// HostMacroCmd triggers host-side macros by ID (ID 0x19).
type HostMacroCmd struct {
	Macros []uint16
}

func (c HostMacroCmd) Marshal() []byte {
	return appendU16s(nil, c.Macros)
}

// HostMacroNak lists the macro IDs that failed to trigger.
type HostMacroNak struct {
	Failed []uint16
}

// Err converts the NAK into a handler rejection error.
func (n HostMacroNak) Err() error {
	return &hidio.NakError{Payload: appendU16s(nil, n.Failed)}
}

// HostMacro implements command 0x19; the ACK is empty.
type HostMacro struct {
	Cmd func(HostMacroCmd) error
	Ack func() error
	Nak func(HostMacroNak) error
}

var _ hidio.Handler = HostMacro{}

func (h HostMacro) HandleCommand(p []byte) ([]byte, error) {
	macros, err := parseU16s(p)
	if err != nil {
		return nil, fmt.Errorf("host macro: %w", err)
	}
	if h.Cmd == nil {
		return nil, &hidio.NakError{}
	}
	if err := h.Cmd(HostMacroCmd{Macros: macros}); err != nil {
		return nil, err
	}
	return nil, nil
}

func (h HostMacro) HandleNoAck(_ []byte) {}

func (h HostMacro) HandleAck(_ []byte) error {
	if h.Ack == nil {
		return nil
	}
	return h.Ack()
}

func (h HostMacro) HandleNak(p []byte) error {
	if h.Nak == nil {
		return nil
	}
	failed, err := parseU16s(p)
	if err != nil {
		return fmt.Errorf("host macro nak: %w", err)
	}
	return h.Nak(HostMacroNak{Failed: failed})
}

// stringCommand adapts the UTF-8 string commands that share one shape:
// a validated string request and an empty ACK.
type stringCommand struct {
	name  string
	cmd   func(string) error
	nacmd func(string)
	ack   func() error
	nak   func() error
}

func (h stringCommand) HandleCommand(p []byte) ([]byte, error) {
	if !utf8.Valid(p) {
		return nil, fmt.Errorf("%s: %w: invalid utf-8", h.name, ErrBadPayload)
	}
	if h.cmd == nil {
		return nil, &hidio.NakError{}
	}
	if err := h.cmd(string(p)); err != nil {
		return nil, err
	}
	return nil, nil
}

func (h stringCommand) HandleNoAck(p []byte) {
	if h.nacmd == nil || !utf8.Valid(p) {
		return
	}
	h.nacmd(string(p))
}

func (h stringCommand) HandleAck(_ []byte) error {
	if h.ack == nil {
		return nil
	}
	return h.ack()
}

func (h stringCommand) HandleNak(_ []byte) error {
	if h.nak == nil {
		return nil
	}
	return h.nak()
}

// OpenURL implements command 0x30: the host opens the given URL.
type OpenURL struct {
	Cmd func(url string) error
	Ack func() error
	Nak func() error
}

var _ hidio.Handler = OpenURL{}

func (h OpenURL) HandleCommand(p []byte) ([]byte, error) {
	return stringCommand{name: "open url", cmd: h.Cmd}.HandleCommand(p)
}
func (h OpenURL) HandleNoAck(_ []byte) {}
func (h OpenURL) HandleAck(p []byte) error {
	return stringCommand{ack: h.Ack}.HandleAck(p)
}
func (h OpenURL) HandleNak(p []byte) error {
	return stringCommand{nak: h.Nak}.HandleNak(p)
}

// TerminalCommand implements command 0x31: run a command in the host
// terminal session.
type TerminalCommand struct {
	Cmd   func(command string) error
	NACmd func(command string)
	Ack   func() error
	Nak   func() error
}

var _ hidio.Handler = TerminalCommand{}

func (h TerminalCommand) HandleCommand(p []byte) ([]byte, error) {
	return stringCommand{name: "terminal command", cmd: h.Cmd}.HandleCommand(p)
}
func (h TerminalCommand) HandleNoAck(p []byte) {
	stringCommand{nacmd: h.NACmd}.HandleNoAck(p)
}
func (h TerminalCommand) HandleAck(p []byte) error {
	return stringCommand{ack: h.Ack}.HandleAck(p)
}
func (h TerminalCommand) HandleNak(p []byte) error {
	return stringCommand{nak: h.Nak}.HandleNak(p)
}

// TerminalOutput implements command 0x34: terminal output sent by the
// device to the host.
type TerminalOutput struct {
	Cmd   func(output string) error
	NACmd func(output string)
	Ack   func() error
	Nak   func() error
}

var _ hidio.Handler = TerminalOutput{}

func (h TerminalOutput) HandleCommand(p []byte) ([]byte, error) {
	return stringCommand{name: "terminal output", cmd: h.Cmd}.HandleCommand(p)
}
func (h TerminalOutput) HandleNoAck(p []byte) {
	stringCommand{nacmd: h.NACmd}.HandleNoAck(p)
}
func (h TerminalOutput) HandleAck(p []byte) error {
	return stringCommand{ack: h.Ack}.HandleAck(p)
}
func (h TerminalOutput) HandleNak(p []byte) error {
	return stringCommand{nak: h.Nak}.HandleNak(p)
}

// GetInputLayoutAck names the active host input layout (ID 0x32).
type GetInputLayoutAck struct {
	Layout string
}

// GetInputLayout implements command 0x32; the request is empty.
type GetInputLayout struct {
	Cmd func() (GetInputLayoutAck, error)
	Ack func(GetInputLayoutAck) error
	Nak func() error
}

var _ hidio.Handler = GetInputLayout{}

func (h GetInputLayout) HandleCommand(_ []byte) ([]byte, error) {
	if h.Cmd == nil {
		return nil, &hidio.NakError{}
	}
	ack, err := h.Cmd()
	if err != nil {
		return nil, err
	}
	return []byte(ack.Layout), nil
}

func (h GetInputLayout) HandleNoAck(_ []byte) {}

func (h GetInputLayout) HandleAck(p []byte) error {
	if h.Ack == nil {
		return nil
	}
	if !utf8.Valid(p) {
		return fmt.Errorf("get input layout ack: %w: invalid utf-8", ErrBadPayload)
	}
	return h.Ack(GetInputLayoutAck{Layout: string(p)})
}

func (h GetInputLayout) HandleNak(_ []byte) error {
	if h.Nak == nil {
		return nil
	}
	return h.Nak()
}

// SetInputLayout implements command 0x33: select a host input layout.
type SetInputLayout struct {
	Cmd func(layout string) error
	Ack func() error
	Nak func() error
}

var _ hidio.Handler = SetInputLayout{}

func (h SetInputLayout) HandleCommand(p []byte) ([]byte, error) {
	return stringCommand{name: "set input layout", cmd: h.Cmd}.HandleCommand(p)
}
func (h SetInputLayout) HandleNoAck(_ []byte) {}
func (h SetInputLayout) HandleAck(p []byte) error {
	return stringCommand{ack: h.Ack}.HandleAck(p)
}
func (h SetInputLayout) HandleNak(p []byte) error {
	return stringCommand{nak: h.Nak}.HandleNak(p)
}
