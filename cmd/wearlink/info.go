package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/srg/wearlink/internal/protocol"
	"github.com/srg/wearlink/pkg/wearable"
)

// infoCmd represents the info command
var infoCmd = &cobra.Command{
	Use:   "info <address>",
	Short: "Show a wearable device's information",
	Long: `Connect to a wearable device, wait until its startup values are read,
and print its identity, sensor metadata, and gesture configuration.`,
	Args: cobra.ExactArgs(1),
	RunE: runInfo,
}

var (
	infoTimeout time.Duration
	infoVerbose bool
)

func init() {
	infoCmd.Flags().DurationVar(&infoTimeout, "timeout", 30*time.Second, "Time to wait for connect and startup reads")
	infoCmd.Flags().BoolVar(&infoVerbose, "verbose", false, "Enable debug logging")
}

func runInfo(cmd *cobra.Command, args []string) error {
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

	baseCtx, cancel := context.WithTimeout(context.Background(), infoTimeout)
	defer cancel()
	ctx, stop := signalContext(baseCtx)
	defer stop()

	dev, id, err := s.openWearable(ctx, args[0])
	if err != nil {
		return err
	}
	defer s.mgr.CloseSession(id)

	printDeviceInfo(args[0], dev)
	return nil
}

func printDeviceInfo(address string, dev *wearable.Device) {
	section := color.New(color.FgCyan, color.Bold)

	section.Println("Device")
	info := dev.DeviceInformation()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "  Address:\t%s\n", address)
	if info.ManufacturerName != "" {
		fmt.Fprintf(w, "  Manufacturer:\t%s\n", info.ManufacturerName)
	}
	if info.FirmwareRevision != "" {
		fmt.Fprintf(w, "  Firmware:\t%s\n", info.FirmwareRevision)
	}
	if info.HardwareRevision != "" {
		fmt.Fprintf(w, "  Hardware:\t%s\n", info.HardwareRevision)
	}
	w.Flush()

	if wi, ok := dev.WearableDeviceInformation(); ok {
		section.Println("\nWearable")
		w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "  Protocol version:\t%d\n", wi.Version)
		fmt.Fprintf(w, "  Product:\t%#04x (variant %d)\n", wi.ProductID, wi.Variant)
		fmt.Fprintf(w, "  Transmission period:\t%d-%d ms (buffer %d)\n",
			wi.MinTransmissionPeriod, wi.MaxTransmissionPeriod, wi.TransmissionBufferSize)
		fmt.Fprintf(w, "  Status:\t%s\n", formatStatus(wi.Status))
		w.Flush()
	}

	si, haveSI := dev.SensorInformation()
	cfg, haveCfg := dev.SensorConfiguration()
	if haveSI {
		section.Println("\nSensors")
		w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "  SENSOR\tRAW RANGE\tSCALED RANGE\tPERIODS (ms)\tCONFIGURED")
		for _, sid := range si.Sensors() {
			e := si.Entry(sid)
			periods := make([]string, 0, len(e.AvailablePeriods))
			for _, p := range e.AvailablePeriods {
				periods = append(periods, fmt.Sprintf("%d", p))
			}
			configured := "-"
			if haveCfg {
				if p, ok := cfg.Period(sid); ok {
					if p == 0 {
						configured = "off"
					} else {
						configured = fmt.Sprintf("%d ms", p)
					}
				}
			}
			fmt.Fprintf(w, "  %s\t[%d, %d)\t[%d, %d)\t%s\t%s\n",
				sid, e.RawMin, e.RawMax, e.ScaledMin, e.ScaledMax,
				strings.Join(periods, " "), configured)
		}
		w.Flush()
	}

	gi, haveGI := dev.GestureInformation()
	gc, haveGC := dev.GestureConfiguration()
	if haveGI {
		section.Println("\nGestures")
		w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "  GESTURE\tENABLED\tSENSITIVITY")
		for _, gid := range gi.Gestures() {
			enabled, sensitivity := "-", "-"
			if haveGC {
				if e := gc.Entry(gid); e != nil {
					if e.Enabled() {
						enabled = "yes"
					} else {
						enabled = "no"
					}
					if lvl, ok := e.Sensitivity(); ok {
						sensitivity = fmt.Sprintf("%d", lvl)
					}
				}
			}
			fmt.Fprintf(w, "  %s\t%s\t%s\n", gid, enabled, sensitivity)
		}
		w.Flush()
	}
}

func formatStatus(s protocol.DeviceStatus) string {
	var flags []string
	if s.PairingMode() {
		flags = append(flags, "pairing-mode")
	}
	if s.SecurePairingRequired() {
		flags = append(flags, "secure-pairing-required")
	}
	if s.AlreadyPaired() {
		flags = append(flags, "already-paired")
	}
	if s.ServiceSuspended() {
		flags = append(flags, "service-suspended")
	}
	if len(flags) == 0 {
		return "none"
	}
	return strings.Join(flags, ", ")
}
