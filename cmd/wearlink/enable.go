package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/srg/wearlink/internal/dispatch"
	"github.com/srg/wearlink/internal/protocol"
)

// enableCmd represents the enable command
var enableCmd = &cobra.Command{
	Use:   "enable <address> <sensor> <period>",
	Short: "Enable a sensor at a sample period",
	Long: `Connect to a wearable device and rewrite its sensor configuration so the
named sensor streams at the given period (e.g. 20ms). A period of 0 or "off"
disables the sensor instead.

All enabled sensors share one hardware sample timer: enabling a sensor also
moves every other enabled sensor to the same period.`,
	Args: cobra.ExactArgs(3),
	RunE: runEnable,
}

var (
	enableTimeout time.Duration
	enableVerbose bool
)

func init() {
	enableCmd.Flags().DurationVar(&enableTimeout, "timeout", 30*time.Second, "Time to wait for connect, startup reads, and the write acknowledgement")
	enableCmd.Flags().BoolVar(&enableVerbose, "verbose", false, "Enable debug logging")
}

func runEnable(cmd *cobra.Command, args []string) error {
	address := args[0]
	sensorID, err := parseSensor(args[1])
	if err != nil {
		return err
	}
	period, disable, err := parsePeriod(args[2])
	if err != nil {
		return err
	}

	logger, err := configureLogger(cmd, "verbose")
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	s, err := newStack(cmd, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	baseCtx, cancel := context.WithTimeout(context.Background(), enableTimeout)
	defer cancel()
	ctx, stop := signalContext(baseCtx)
	defer stop()

	dev, id, err := s.openWearable(ctx, address)
	if err != nil {
		return err
	}
	defer s.mgr.CloseSession(id)

	// Surface firmware rejections of the configuration write.
	writeErr := make(chan error, 1)
	sub := dev.Subscribe(dispatch.Listener{
		OnError: func(err error) {
			select {
			case writeErr <- err:
			default:
			}
		},
	})
	defer sub.Cancel()

	err = dev.ChangeSensorConfiguration(func(cfg *protocol.SensorConfiguration) error {
		if disable {
			cfg.Disable(sensorID)
			return nil
		}
		return cfg.Enable(sensorID, period)
	})
	if err != nil {
		return err
	}

	if err := waitForPeriod(ctx, dev, sensorID, period, writeErr); err != nil {
		return err
	}

	if disable {
		color.Green("Disabled %s", sensorID)
	} else {
		color.Green("Enabled %s at %d ms", sensorID, period)
	}
	if cfg, ok := dev.SensorConfiguration(); ok {
		for _, e := range cfg.Entries() {
			state := "off"
			if e.Enabled() {
				state = fmt.Sprintf("%d ms", e.SamplePeriod)
			}
			fmt.Printf("  %-26s %s\n", e.ID, state)
		}
	}
	return nil
}

// waitForPeriod polls until the committed configuration reflects the write.
// The device only commits the in-flight configuration when the firmware
// acknowledges it, so observing the new period means the write landed.
func waitForPeriod(ctx context.Context, dev interface {
	SensorConfiguration() (*protocol.SensorConfiguration, bool)
}, id protocol.SensorID, period uint16, writeErr <-chan error) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("configuration write was not acknowledged: %w", ctx.Err())
		case err := <-writeErr:
			return err
		case <-ticker.C:
			if cfg, ok := dev.SensorConfiguration(); ok {
				if p, _ := cfg.Period(id); p == period {
					return nil
				}
			}
		}
	}
}

// parseSensor accepts a sensor name as printed by the stack (accelerometer,
// gyroscope, ...) or a numeric sensor ID.
func parseSensor(s string) (protocol.SensorID, error) {
	known := []protocol.SensorID{
		protocol.SensorAccelerometer,
		protocol.SensorMagnetometer,
		protocol.SensorGyroscope,
		protocol.SensorOrientation,
		protocol.SensorRotation,
		protocol.SensorGameRotation,
		protocol.SensorUncalibratedMagnetometer,
	}
	for _, id := range known {
		if id.String() == s {
			return id, nil
		}
	}
	if n, err := strconv.ParseUint(s, 10, 8); err == nil && n > 0 {
		return protocol.SensorID(n), nil
	}
	return 0, fmt.Errorf("unknown sensor %q (use a name like accelerometer or a numeric ID)", s)
}

// parsePeriod accepts a duration ("20ms"), a bare millisecond count ("20"),
// or "0"/"off" to disable.
func parsePeriod(s string) (uint16, bool, error) {
	if s == "off" || s == "0" {
		return 0, true, nil
	}
	if n, err := strconv.ParseUint(s, 10, 16); err == nil {
		return uint16(n), false, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, false, fmt.Errorf("invalid period %q: %w", s, err)
	}
	p, err := periodMillis(d)
	if err != nil {
		return 0, false, err
	}
	return p, false, nil
}

// periodMillis converts a duration to the wire's millisecond period.
func periodMillis(d time.Duration) (uint16, error) {
	ms := d.Milliseconds()
	if ms <= 0 || ms > 0xffff {
		return 0, fmt.Errorf("period %s out of range (1ms-65535ms)", d)
	}
	return uint16(ms), nil
}
