package transport

import (
	"fmt"

	karalabehid "github.com/karalabe/hid"
)

const (
	// UsagePage is the HID-IO vendor usage page.
	UsagePage uint16 = 0xFF1C

	// UsageID is the HID-IO usage within the vendor page.
	UsageID uint16 = 0x1100

	// DefaultChunkSize is the interrupt packet size of a USB 2.0
	// Full-Speed interface.
	DefaultChunkSize = 64
)

// HIDAPIEndpoint wraps a karalabe/hid device to implement the Endpoint
// interface.
type HIDAPIEndpoint struct {
	device karalabehid.Device // karalabe/hid.Device is an interface
	info   DeviceInfo
}

// Verify HIDAPIEndpoint implements Endpoint interface.
var _ Endpoint = (*HIDAPIEndpoint)(nil)

// NewHIDAPIEndpoint creates a new HIDAPIEndpoint from an open hid.Device.
func NewHIDAPIEndpoint(device karalabehid.Device, info DeviceInfo) *HIDAPIEndpoint {
	return &HIDAPIEndpoint{
		device: device,
		info:   info,
	}
}

// Read blocks until one interrupt report arrives.
func (e *HIDAPIEndpoint) Read(chunk []byte) (int, error) {
	return e.device.Read(chunk)
}

// Write sends one interrupt report.
func (e *HIDAPIEndpoint) Write(chunk []byte) (int, error) {
	return e.device.Write(chunk)
}

// Close closes the device handle.
func (e *HIDAPIEndpoint) Close() error {
	return e.device.Close()
}

// Info returns information about the device.
func (e *HIDAPIEndpoint) Info() DeviceInfo {
	return e.info
}

// Enumerate returns every connected interface carrying the HID-IO vendor
// usage. Returns an error if device enumeration fails.
func Enumerate() ([]DeviceInfo, error) {
	var endpoints []DeviceInfo

	devices, err := karalabehid.Enumerate(0, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate HID devices: %w", err)
	}

	for _, device := range devices {
		if device.UsagePage == UsagePage && device.Usage == UsageID {
			endpoints = append(endpoints, deviceInfo(device))
		}
	}

	return endpoints, nil
}

// Open opens a HID-IO endpoint by serial number. If serial is empty, the
// first available interface is opened.
func Open(serial string) (*HIDAPIEndpoint, error) {
	devices, err := karalabehid.Enumerate(0, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}

	for _, info := range devices {
		if info.UsagePage != UsagePage || info.Usage != UsageID {
			continue
		}

		if serial != "" && info.Serial != serial {
			continue
		}

		device, err := info.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open device %s: %w", info.Serial, err)
		}

		return NewHIDAPIEndpoint(device, deviceInfo(info)), nil
	}

	if serial != "" {
		return nil, fmt.Errorf("hid-io device with serial %s not found", serial)
	}
	return nil, fmt.Errorf("no hid-io device found")
}

func deviceInfo(info karalabehid.DeviceInfo) DeviceInfo {
	return DeviceInfo{
		Path:         info.Path,
		VendorID:     info.VendorID,
		ProductID:    info.ProductID,
		Serial:       info.Serial,
		Manufacturer: info.Manufacturer,
		Product:      info.Product,
		UsagePage:    info.UsagePage,
		Usage:        info.Usage,
		ChunkSize:    DefaultChunkSize,
	}
}
