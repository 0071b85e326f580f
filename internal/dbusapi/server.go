// Package dbusapi exposes the daemon's hot-plug notification surface on
// the session bus: device listing, a Test Packet ping, and connect /
// disconnect signals for desktop integration. The capability RPC layer of
// HID-IO and its authentication are intentionally not part of this
// service.
package dbusapi

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/hid-io/hidio-go/internal/transport"
)

// ErrEmptySerial is returned when an empty serial number is provided.
var ErrEmptySerial = errors.New("serial cannot be empty")

// ErrRateLimitExceeded is returned when ping requests exceed the rate limit.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

const (
	// rateLimitPerSecond is the maximum number of pings per second.
	rateLimitPerSecond = 10

	// rateLimitBurst is the maximum burst size for pings.
	rateLimitBurst = 3

	// pingTimeout bounds one Test Packet round-trip.
	pingTimeout = 2 * time.Second
)

const (
	// ServiceName is the D-Bus service name.
	ServiceName = "io.hidio.HidIoCore"

	// ObjectPath is the D-Bus object path.
	ObjectPath = "/io/hidio/HidIoCore"

	// InterfaceName is the D-Bus interface name.
	InterfaceName = "io.hidio.HidIoCore"
)

// IntrospectXML is the D-Bus introspection XML for the service.
const IntrospectXML = `
<node name="` + ObjectPath + `">
  <interface name="` + InterfaceName + `">
    <method name="ListDevices">
      <arg name="devices" type="a(ssss)" direction="out"/>
    </method>
    <method name="Ping">
      <arg name="serial" type="s" direction="in"/>
    </method>
    <signal name="DeviceAdded">
      <arg name="serial" type="s"/>
      <arg name="productName" type="s"/>
    </signal>
    <signal name="DeviceRemoved">
      <arg name="serial" type="s"/>
    </signal>
  </interface>
  ` + introspect.IntrospectDataString + `
</node>
`

// DeviceManager is an interface for the device manager.
// This allows for mocking in tests.
type DeviceManager interface {
	// ListDevices returns information about all connected devices.
	ListDevices() []transport.DeviceInfo

	// GetNode returns a device connection by serial number.
	GetNode(serial string) (*transport.Node, error)

	// RefreshDevices re-enumerates connected devices.
	RefreshDevices() error
}

// DeviceSummary represents device information returned via D-Bus.
// Serializes to D-Bus type (ssss): serial, product, manufacturer, path.
type DeviceSummary struct {
	Serial       string
	Product      string
	Manufacturer string
	Path         string
}

// Server implements the D-Bus notification service.
type Server struct {
	conn        *dbus.Conn
	connMu      sync.RWMutex // Protects conn field only
	manager     DeviceManager
	rateLimiter *rate.Limiter
}

// NewServer creates a new D-Bus server with the given device manager.
func NewServer(manager DeviceManager) *Server {
	return &Server{
		manager:     manager,
		rateLimiter: rate.NewLimiter(rateLimitPerSecond, rateLimitBurst),
	}
}

// Start connects to the session bus and exports the service.
func (s *Server) Start() error {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return fmt.Errorf("failed to connect to session bus: %w", err)
	}

	// Ensure connection is closed if setup fails
	success := false
	defer func() {
		if !success {
			if closeErr := conn.Close(); closeErr != nil {
				log.Error().Err(closeErr).Msg("Failed to close D-Bus connection during cleanup")
			}
		}
	}()

	// Export the server object
	err = conn.Export(s, ObjectPath, InterfaceName)
	if err != nil {
		return fmt.Errorf("failed to export server: %w", err)
	}

	// Export introspectable interface
	err = conn.Export(introspect.Introspectable(IntrospectXML), ObjectPath, "org.freedesktop.DBus.Introspectable")
	if err != nil {
		return fmt.Errorf("failed to export introspectable: %w", err)
	}

	// Request the service name
	reply, err := conn.RequestName(ServiceName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("failed to request name: %w", err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("name %s already taken", ServiceName)
	}

	// Store connection with mutex protection
	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	success = true
	log.Info().Str("service", ServiceName).Msg("D-Bus service started")
	return nil
}

// Stop disconnects from the session bus.
func (s *Server) Stop() error {
	s.connMu.Lock()
	conn := s.conn
	s.conn = nil
	s.connMu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// ListDevices returns information about all connected HID-IO devices.
func (s *Server) ListDevices() ([]DeviceSummary, *dbus.Error) {
	infos := s.manager.ListDevices()
	devices := make([]DeviceSummary, 0, len(infos))
	for _, info := range infos {
		devices = append(devices, DeviceSummary{
			Serial:       info.Serial,
			Product:      info.Product,
			Manufacturer: info.Manufacturer,
			Path:         info.Path,
		})
	}
	return devices, nil
}

// Ping round-trips a Test Packet through the device identified by serial.
func (s *Server) Ping(serial string) *dbus.Error {
	if serial == "" {
		return dbus.MakeFailedError(ErrEmptySerial)
	}
	if !s.rateLimiter.Allow() {
		return dbus.MakeFailedError(ErrRateLimitExceeded)
	}

	node, err := s.manager.GetNode(serial)
	if err != nil {
		return dbus.MakeFailedError(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := node.Ping(ctx); err != nil {
		log.Warn().Err(err).Str("serial", serial).Msg("Ping failed")
		return dbus.MakeFailedError(err)
	}
	return nil
}

// EmitDeviceAdded emits a DeviceAdded signal.
func (s *Server) EmitDeviceAdded(serial, productName string) {
	s.emit("DeviceAdded", serial, productName)
}

// EmitDeviceRemoved emits a DeviceRemoved signal.
func (s *Server) EmitDeviceRemoved(serial string) {
	s.emit("DeviceRemoved", serial)
}

func (s *Server) emit(member string, values ...interface{}) {
	s.connMu.RLock()
	conn := s.conn
	s.connMu.RUnlock()

	if conn == nil {
		return
	}
	if err := conn.Emit(ObjectPath, InterfaceName+"."+member, values...); err != nil {
		log.Error().Err(err).Str("signal", member).Msg("Failed to emit D-Bus signal")
	}
}
