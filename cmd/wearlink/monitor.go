package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/srg/wearlink/internal/dispatch"
	"github.com/srg/wearlink/internal/protocol"
)

// monitorCmd represents the monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor <address>",
	Short: "Stream decoded sensor samples from a wearable",
	Long: `Connect to a wearable device, wait until it is ready, and print every
decoded sensor sample and gesture event until interrupted.

Use --enable to switch a sensor on for the duration of the run; the device
keeps whatever configuration it had otherwise.`,
	Args: cobra.ExactArgs(1),
	RunE: runMonitor,
}

var (
	monitorDuration time.Duration
	monitorEnable   string
	monitorPeriod   time.Duration
	monitorVerbose  bool
)

func init() {
	monitorCmd.Flags().DurationVarP(&monitorDuration, "duration", "d", 0, "Monitoring duration (0 until interrupted)")
	monitorCmd.Flags().StringVar(&monitorEnable, "enable", "", "Sensor to enable before streaming (name or numeric ID)")
	monitorCmd.Flags().DurationVar(&monitorPeriod, "period", 40*time.Millisecond, "Sample period for --enable")
	monitorCmd.Flags().BoolVar(&monitorVerbose, "verbose", false, "Enable debug logging")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	var sensorID protocol.SensorID
	if monitorEnable != "" {
		var err error
		sensorID, err = parseSensor(monitorEnable)
		if err != nil {
			return err
		}
	}
	period, err := periodMillis(monitorPeriod)
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

	baseCtx := context.Background()
	if monitorDuration > 0 {
		var cancel context.CancelFunc
		baseCtx, cancel = context.WithTimeout(baseCtx, monitorDuration)
		defer cancel()
	}
	ctx, stop := signalContext(baseCtx)
	defer stop()

	dev, id, err := s.openWearable(ctx, args[0])
	if err != nil {
		return err
	}
	defer s.mgr.CloseSession(id)

	if monitorEnable != "" {
		err := dev.ChangeSensorConfiguration(func(cfg *protocol.SensorConfiguration) error {
			return cfg.Enable(sensorID, period)
		})
		if err != nil {
			return err
		}
	}

	sensorColor := color.New(color.FgGreen)
	gestureColor := color.New(color.FgYellow)
	errColor := color.New(color.FgRed)

	sub := dev.Subscribe(dispatch.Listener{
		OnVector: func(id protocol.SensorID, ts protocol.SensorTimestamp, v protocol.Vector) {
			sensorColor.Printf("%-14s", id)
			fmt.Printf(" t=%5dms  x=%+8.4f  y=%+8.4f  z=%+8.4f\n", ts.Millis(), v.X, v.Y, v.Z)
		},
		OnQuaternion: func(id protocol.SensorID, ts protocol.SensorTimestamp, q protocol.Quaternion) {
			sensorColor.Printf("%-14s", id)
			fmt.Printf(" t=%5dms  w=%+7.4f  x=%+7.4f  y=%+7.4f  z=%+7.4f\n", ts.Millis(), q.W, q.X, q.Y, q.Z)
		},
		OnRaw: func(id protocol.SensorID, ts protocol.SensorTimestamp, payload []byte) {
			sensorColor.Printf("%-14s", id)
			fmt.Printf(" t=%5dms  raw=%s\n", ts.Millis(), hex.EncodeToString(payload))
		},
		OnGesture: func(ev protocol.GestureEvent) {
			gestureColor.Printf("%-14s", ev.ID)
			fmt.Printf(" t=%5dms\n", ev.Timestamp.Millis())
		},
		OnError: func(err error) {
			errColor.Printf("error: %s\n", FormatUserError(err))
		},
	})
	defer sub.Cancel()

	fmt.Println("Streaming, Ctrl+C to stop...")
	<-ctx.Done()
	return nil
}
