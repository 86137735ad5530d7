// Package main provides the entry point for the DP100 power supply daemon.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/shini4i/dp100-daemon/internal/config"
	dbusx "github.com/shini4i/dp100-daemon/internal/dbus"
	"github.com/shini4i/dp100-daemon/internal/hid"
	"github.com/shini4i/dp100-daemon/internal/psu"
	"github.com/shini4i/dp100-daemon/internal/udev"
)

var (
	verbose    bool
	configPath string

	rootCmd = &cobra.Command{
		Use:   "dp100-daemon",
		Short: "D-Bus daemon for controlling the AlienTek DP100 power supply",
		Long: `dp100-daemon owns the USB HID connection to an AlienTek DP100 bench
power supply and exposes it over D-Bus: live telemetry (voltage, current,
power, temperature), output on/off, and voltage/current setpoints.

The daemon continuously polls the device, verifies every setpoint write with
a read-back, and reconnects automatically when the supply is re-plugged.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the YAML configuration file")
}

func run() error {
	// Configure logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log.Info().
		Str("device", deviceID(cfg)).
		Dur("poll_interval", cfg.PollInterval()).
		Msg("Starting dp100-daemon")

	controller := psu.NewController(cfg)
	server := dbusx.NewServer(controller)

	controller.SetSampleHandler(server.EmitTelemetry)
	controller.SetStatusHandler(server.EmitConnectionChanged)

	if err := server.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start D-Bus server")
	}

	// Initial connection attempt; not fatal when the supply is unplugged,
	// the udev monitor connects once it appears.
	if err := connectWithRetry(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return controller.Connect(ctx)
	}, 0); err != nil {
		if errors.Is(err, hid.ErrDeviceNotFound) {
			log.Warn().Msg("No DP100 attached, waiting for hot-plug")
		} else {
			log.Error().Err(err).Msg("Failed to connect to DP100")
		}
	}

	monitor := udev.NewMonitor(createHotplugHandler(controller))
	monitor.SetRecoveryHandler(createRecoveryHandler(controller, cfg))
	if err := monitor.Start(); err != nil {
		log.Error().Err(err).Msg("Failed to start udev monitor (hot-plug detection disabled)")
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	log.Info().Msg("Daemon running, press Ctrl+C to stop")
	<-sigChan

	log.Info().Msg("Shutting down...")
	if err := monitor.Stop(); err != nil {
		log.Error().Err(err).Msg("Failed to stop udev monitor")
	}
	if err := server.Stop(); err != nil {
		log.Error().Err(err).Msg("Failed to stop D-Bus server")
	}
	if err := controller.Disconnect(); err != nil {
		log.Error().Err(err).Msg("Failed to close device session")
	}

	log.Info().Msg("Daemon stopped")
	return nil
}

func deviceID(cfg config.Config) string {
	return fmt.Sprintf("%04x:%04x", cfg.VendorID, cfg.ProductID)
}

// connectWithRetry attempts to connect with linear backoff.
// It retries up to maxRetries times with increasing delays between attempts.
func connectWithRetry(connect func() error, maxRetries int) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			// Linear backoff: 500ms, 1000ms, 1500ms, ...
			backoff := time.Duration(attempt) * 500 * time.Millisecond
			log.Debug().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Msg("Retrying device connect")
			time.Sleep(backoff)
		}

		if err := connect(); err != nil {
			if errors.Is(err, psu.ErrAlreadyConnected) {
				return nil
			}
			lastErr = err
			log.Warn().
				Err(err).
				Int("attempt", attempt+1).
				Int("maxRetries", maxRetries+1).
				Msg("Device connect failed")
			continue
		}

		if attempt > 0 {
			log.Info().Int("attempts", attempt+1).Msg("Device connect succeeded after retry")
		}
		return nil
	}
	return lastErr
}

// createHotplugHandler returns an event handler that reacts to DP100
// plug/unplug events.
func createHotplugHandler(controller *psu.Controller) udev.EventHandler {
	return func(event udev.Event) {
		switch event.Type {
		case udev.EventAdd:
			// USB devices need time to enumerate all interfaces before the
			// HID node is accessible.
			time.Sleep(500 * time.Millisecond)

			err := connectWithRetry(func() error {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return controller.Connect(ctx)
			}, 3)
			if err != nil {
				log.Error().Err(err).Msg("Failed to connect after hot-plug event (all retries exhausted)")
			}

		case udev.EventRemove:
			// The poller detects the dead transport on its own; closing the
			// session here just releases the handle promptly.
			if err := controller.Disconnect(); err != nil {
				log.Warn().Err(err).Msg("Failed to close session after unplug")
			}
		}
	}
}

// enumerateFunc lists attached devices matching a vendor/product id pair.
type enumerateFunc func(vendorID, productID uint16) ([]hid.DeviceInfo, error)

// deviceAttached reports whether the configured supply is currently
// enumerable on the bus.
func deviceAttached(enumerate enumerateFunc, cfg config.Config) bool {
	devices, err := enumerate(cfg.VendorID, cfg.ProductID)
	if err != nil {
		log.Error().Err(err).Msg("HID enumeration failed")
		return false
	}
	return len(devices) > 0
}

// createRecoveryHandler returns a handler for netlink buffer overflow
// recovery. Events may have been missed, so it reconciles the session state
// with what is actually attached.
func createRecoveryHandler(controller *psu.Controller, cfg config.Config) udev.RecoveryHandler {
	return func() {
		log.Info().Msg("Performing recovery check after netlink buffer overflow")

		// Wait a moment for any pending USB operations to settle
		time.Sleep(500 * time.Millisecond)

		if !deviceAttached(hid.Enumerate, cfg) {
			log.Info().Msg("No DP100 attached after recovery check")
			return
		}

		if err := connectWithRetry(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return controller.Connect(ctx)
		}, 3); err != nil {
			log.Error().Err(err).Msg("Recovery connect failed (all retries exhausted)")
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("Failed to execute command")
	}
}
