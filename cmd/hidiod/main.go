// Package main provides the entry point for the HID-IO host daemon.
package main

import (
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/hid-io/hidio-go/internal/dbusapi"
	"github.com/hid-io/hidio-go/internal/hidio"
	"github.com/hid-io/hidio-go/internal/hidio/commands"
	"github.com/hid-io/hidio-go/internal/transport"
	"github.com/hid-io/hidio-go/internal/udev"
)

// Protocol version answered to Get Info queries.
const (
	protocolVersionMajor = 0
	protocolVersionMinor = 1
	protocolVersionPatch = 5
)

const hostSoftwareName = "hidiod"

var (
	verbose      bool
	syncInterval time.Duration
	sendTimeout  time.Duration

	rootCmd = &cobra.Command{
		Use:   "hidiod",
		Short: "Host daemon for the HID-IO sideband protocol",
		Long: `hidiod drives the HID-IO sideband channel of connected input devices
(keyboards, mice, joysticks) over their raw HID vendor interface.

It maintains one protocol pipeline per device, services device-initiated
commands such as UTF-8 text streams, host macros and manufacturing test
results, and emits D-Bus signals when devices are connected or
disconnected.`,
		Run: func(cmd *cobra.Command, args []string) {
			run()
		},
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().DurationVar(&syncInterval, "sync-interval", 3*time.Second, "Idle period before a keep-alive Sync is sent")
	rootCmd.PersistentFlags().DurationVar(&sendTimeout, "send-timeout", 5*time.Second, "Default timeout awaiting a device ACK")
}

func run() {
	// Configure logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Info().Msg("Starting hidiod")

	// Initialize device manager
	manager := transport.NewManager(hostDispatcherFactory())
	if err := manager.RefreshDevices(); err != nil {
		log.Error().Err(err).Msg("Failed to enumerate devices")
	}

	deviceCount := manager.Count()
	if deviceCount == 0 {
		log.Warn().Msg("No HID-IO devices found")
	} else {
		log.Info().Int("count", deviceCount).Msg("Found HID-IO devices")
	}

	// Initialize D-Bus server
	server := dbusapi.NewServer(manager)
	if err := server.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start D-Bus server")
	}

	// Initialize udev monitor for hot-plug detection
	monitor := udev.NewMonitor(createHotplugHandler(manager, server))
	monitor.SetRecoveryHandler(createRecoveryHandler(manager, server))
	if err := monitor.Start(); err != nil {
		log.Error().Err(err).Msg("Failed to start udev monitor (hot-plug detection disabled)")
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	log.Info().Msg("Daemon running, press Ctrl+C to stop")
	<-sigChan

	// Cleanup
	log.Info().Msg("Shutting down...")
	if err := monitor.Stop(); err != nil {
		log.Error().Err(err).Msg("Failed to stop udev monitor")
	}
	if err := server.Stop(); err != nil {
		log.Error().Err(err).Msg("Failed to stop D-Bus server")
	}
	if err := manager.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close device manager")
	}

	log.Info().Msg("Daemon stopped")
}

// hostDispatcherFactory builds the host-side protocol pipeline for one
// device: the command catalog a daemon answers with, sized to the
// device's negotiated chunk size.
func hostDispatcherFactory() transport.DispatcherFactory {
	return func(info transport.DeviceInfo) (*hidio.Dispatcher, error) {
		serial := info.Serial
		registry := commands.NewCatalog().
			Register(commands.IDGetInfo, commands.GetInfo{Cmd: hostInfo}).
			Register(commands.IDTestPacket, commands.TestPacket{Cmd: commands.Echo}).
			Register(commands.IDResetHidIo, commands.ResetHidIo{Cmd: func() error {
				log.Info().Str("serial", serial).Msg("Device requested protocol reset")
				return nil
			}}).
			Register(commands.IDUnicodeText, commands.UnicodeText{Cmd: func(cmd commands.UnicodeTextCmd) error {
				log.Info().Str("serial", serial).Str("text", cmd.Text).Msg("UTF-8 stream from device")
				return nil
			}}).
			Register(commands.IDUnicodeState, commands.UnicodeState{Cmd: func(cmd commands.UnicodeStateCmd) error {
				log.Debug().Str("serial", serial).Str("held", cmd.Held).Msg("UTF-8 state from device")
				return nil
			}}).
			Register(commands.IDHostMacro, commands.HostMacro{Cmd: func(cmd commands.HostMacroCmd) error {
				log.Info().Str("serial", serial).Uints16("macros", cmd.Macros).Msg("Host macro triggered")
				return nil
			}}).
			Register(commands.IDKLLTriggerState, commands.KLLTriggerState{Cmd: func(cmd commands.KLLTriggerStateCmd) error {
				log.Debug().Str("serial", serial).Int("triggers", len(cmd.Triggers)).Msg("KLL trigger state from device")
				return nil
			}}).
			Register(commands.IDTerminalOutput, commands.TerminalOutput{Cmd: func(output string) error {
				log.Info().Str("serial", serial).Str("output", output).Msg("Terminal output from device")
				return nil
			}}).
			Register(commands.IDManufacturingResult, commands.ManufacturingResult{Cmd: func(cmd commands.ManufacturingResultCmd) error {
				log.Info().
					Str("serial", serial).
					Uint16("command", cmd.Command).
					Uint16("arg", cmd.Arg).
					Int("bytes", len(cmd.Data)).
					Msg("Manufacturing test result")
				return nil
			}}).
			Registry()

		logger := log.With().Str("serial", serial).Logger()
		return hidio.NewDispatcher(registry, hidio.Config{
			ChunkSize:    info.ChunkSize,
			SendTimeout:  sendTimeout,
			SyncInterval: syncInterval,
			Logger:       &logger,
		})
	}
}

// hostInfo answers Get Info queries with host-side properties. Device-side
// selectors fall through to the default selector-echo NAK.
func hostInfo(cmd commands.GetInfoCmd) (commands.GetInfoAck, error) {
	ack := commands.GetInfoAck{Property: cmd.Property}
	switch cmd.Property {
	case commands.InfoMajorVersion:
		ack.Number = protocolVersionMajor
	case commands.InfoMinorVersion:
		ack.Number = protocolVersionMinor
	case commands.InfoPatchVersion:
		ack.Number = protocolVersionPatch
	case commands.InfoOSType:
		ack.OS = hostOSType()
	case commands.InfoOSVersion:
		ack.Text = runtime.GOOS + "/" + runtime.GOARCH
	case commands.InfoHostSoftwareName:
		ack.Text = hostSoftwareName
	default:
		return ack, commands.GetInfoNak{Property: cmd.Property}.Err()
	}
	return ack, nil
}

func hostOSType() commands.OSType {
	switch runtime.GOOS {
	case "windows":
		return commands.OSWindows
	case "linux":
		return commands.OSLinux
	case "android":
		return commands.OSAndroid
	case "darwin":
		return commands.OSMacOS
	case "ios":
		return commands.OSIOS
	default:
		return commands.OSUnknown
	}
}

// refreshMu serializes device refresh operations to prevent race conditions
// between hotplug handlers and recovery handlers.
var refreshMu sync.Mutex

// refreshDevicesWithRetry attempts to refresh devices with linear backoff.
// It retries up to maxRetries times with increasing delays between attempts.
func refreshDevicesWithRetry(manager *transport.Manager, maxRetries int) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			// Linear backoff: 500ms, 1000ms, 1500ms, ...
			backoff := time.Duration(attempt) * 500 * time.Millisecond
			log.Debug().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Msg("Retrying device refresh")
			time.Sleep(backoff)
		}

		if err := manager.RefreshDevices(); err != nil {
			lastErr = err
			log.Warn().
				Err(err).
				Int("attempt", attempt+1).
				Int("maxRetries", maxRetries+1).
				Msg("Device refresh failed")
			continue
		}

		// Success
		if attempt > 0 {
			log.Info().Int("attempts", attempt+1).Msg("Device refresh succeeded after retry")
		}
		return nil
	}
	return lastErr
}

// createHotplugHandler returns an event handler that refreshes devices and emits D-Bus signals.
// The handler uses the shared refreshMu to prevent race conditions with recovery handlers.
func createHotplugHandler(manager *transport.Manager, server *dbusapi.Server) udev.EventHandler {
	return func(event udev.Event) {
		// Use shared mutex to serialize with recovery handler
		refreshMu.Lock()
		defer refreshMu.Unlock()

		// Get the list of devices before refresh to detect changes
		oldDevices := make(map[string]transport.DeviceInfo)
		for _, d := range manager.ListDevices() {
			oldDevices[d.Serial] = d
		}

		// For add events, wait for the device to fully initialize.
		// USB devices need time to enumerate all interfaces before HID is accessible.
		// Remove events don't need this delay as the device is already gone.
		if event.Type == udev.EventAdd {
			time.Sleep(500 * time.Millisecond)
		}

		// Refresh devices with retry logic for resilience
		if err := refreshDevicesWithRetry(manager, 3); err != nil {
			log.Error().Err(err).Msg("Failed to refresh devices after hot-plug event (all retries exhausted)")
			return
		}

		// Get the list of devices after refresh
		newDevices := make(map[string]transport.DeviceInfo)
		for _, d := range manager.ListDevices() {
			newDevices[d.Serial] = d
		}

		// Emit signals for added devices
		for serial, info := range newDevices {
			if _, exists := oldDevices[serial]; !exists {
				server.EmitDeviceAdded(serial, info.Product)
			}
		}

		// Emit signals for removed devices
		for serial := range oldDevices {
			if _, exists := newDevices[serial]; !exists {
				server.EmitDeviceRemoved(serial)
			}
		}
	}
}

// createRecoveryHandler returns a handler for netlink buffer overflow recovery.
// It triggers a device refresh to recover from potentially missed udev events.
// The handler uses the shared refreshMu to prevent race conditions with hotplug handlers.
func createRecoveryHandler(manager *transport.Manager, server *dbusapi.Server) udev.RecoveryHandler {
	return func() {
		// Use shared mutex to serialize with hotplug handler
		refreshMu.Lock()
		defer refreshMu.Unlock()

		log.Info().Msg("Performing recovery refresh after netlink buffer overflow")

		// Get current devices before refresh
		oldDevices := make(map[string]transport.DeviceInfo)
		for _, d := range manager.ListDevices() {
			oldDevices[d.Serial] = d
		}

		// Wait a moment for any pending USB operations to settle
		time.Sleep(500 * time.Millisecond)

		// Refresh with retry
		if err := refreshDevicesWithRetry(manager, 3); err != nil {
			log.Error().Err(err).Msg("Recovery refresh failed (all retries exhausted)")
			return
		}

		// Get devices after refresh
		newDevices := make(map[string]transport.DeviceInfo)
		for _, d := range manager.ListDevices() {
			newDevices[d.Serial] = d
		}

		// Emit signals for any changes detected
		for serial, info := range newDevices {
			if _, exists := oldDevices[serial]; !exists {
				log.Info().Str("serial", serial).Msg("Device found during recovery")
				server.EmitDeviceAdded(serial, info.Product)
			}
		}

		for serial := range oldDevices {
			if _, exists := newDevices[serial]; !exists {
				log.Info().Str("serial", serial).Msg("Device lost during recovery")
				server.EmitDeviceRemoved(serial)
			}
		}

		log.Info().Int("devices", len(newDevices)).Msg("Recovery refresh completed")
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("Failed to execute command")
	}
}
