package commands

// Standard HID-IO command IDs. 0x04-0x0F are reserved. All IDs fit 16-bit
// framing; the core also accepts them in 32-bit framing.
const (
	IDSupportedIDs        uint32 = 0x00
	IDGetInfo             uint32 = 0x01
	IDTestPacket          uint32 = 0x02
	IDResetHidIo          uint32 = 0x03
	IDGetProperties       uint32 = 0x10
	IDUSBKeyState         uint32 = 0x11
	IDKeyboardLayout      uint32 = 0x12
	IDButtonLayout        uint32 = 0x13
	IDLEDLayout           uint32 = 0x15
	IDFlashMode           uint32 = 0x16
	IDUnicodeText         uint32 = 0x17
	IDUnicodeState        uint32 = 0x18
	IDHostMacro           uint32 = 0x19
	IDSleepMode           uint32 = 0x1A
	IDKLLTriggerState     uint32 = 0x20
	IDPixelSetting        uint32 = 0x21
	IDPixelSet1c8b        uint32 = 0x22
	IDPixelSet3c8b        uint32 = 0x23
	IDPixelSet1c16b       uint32 = 0x24
	IDPixelSet3c16b       uint32 = 0x25
	IDOpenURL             uint32 = 0x30
	IDTerminalCommand     uint32 = 0x31
	IDGetInputLayout      uint32 = 0x32
	IDSetInputLayout      uint32 = 0x33
	IDTerminalOutput      uint32 = 0x34
	IDHIDKeyboard         uint32 = 0x40
	IDHIDKeyboardLED      uint32 = 0x41
	IDManufacturingTest   uint32 = 0x50
	IDManufacturingResult uint32 = 0x51
)
