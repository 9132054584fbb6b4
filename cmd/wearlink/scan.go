package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/srg/wearlink/scanner"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for wearable devices",
	Long: `Scan for nearby wearable sensor devices and display them.

Devices are matched against the registered device types; only peripherals
advertising a known service appear. A device that stops advertising for
longer than the removal timeout drops off the list.`,
	RunE: runScan,
}

var (
	scanDuration       time.Duration
	scanFormat         string
	scanRSSICutoff     int
	scanRemovalTimeout time.Duration
	scanWatch          bool
	scanVerbose        bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "Scan duration (0 for indefinite)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
	scanCmd.Flags().IntVar(&scanRSSICutoff, "rssi-cutoff", 0, "Ignore advertisements at or below this RSSI (0 uses config default)")
	scanCmd.Flags().DurationVar(&scanRemovalTimeout, "removal-timeout", 0, "Drop devices silent for this long (0 uses config default)")
	scanCmd.Flags().BoolVarP(&scanWatch, "watch", "w", false, "Continuously redraw the device table")
	scanCmd.Flags().BoolVar(&scanVerbose, "verbose", false, "Enable debug logging")
}

func runScan(cmd *cobra.Command, args []string) error {
	if scanFormat != "table" && scanFormat != "json" {
		return fmt.Errorf("invalid format %q: must be table or json", scanFormat)
	}

	logger, err := configureLogger(cmd, "verbose")
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	s, err := newStack(cmd, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	if scanRSSICutoff != 0 {
		s.cfg.RSSICutoff = scanRSSICutoff
	}
	if scanRemovalTimeout != 0 {
		s.cfg.RemovalTimeout = scanRemovalTimeout
	}

	if err := s.mgr.StartDiscovery(); err != nil {
		return err
	}
	defer func() { _ = s.mgr.StopDiscovery() }()

	baseCtx := context.Background()
	if scanDuration > 0 {
		var cancel context.CancelFunc
		baseCtx, cancel = context.WithTimeout(baseCtx, scanDuration)
		defer cancel()
	}
	ctx, stop := signalContext(baseCtx)
	defer stop()

	if scanWatch {
		return watchDevices(ctx, s)
	}
	return collectDevices(ctx, s)
}

// collectDevices prints add/remove events as they happen and a summary at the
// end of the run.
func collectDevices(ctx context.Context, s *stack) error {
	added := color.New(color.FgGreen)
	removed := color.New(color.FgRed)
	live := scanFormat == "table"

	events := s.mgr.DiscoveryEvents()
	for {
		select {
		case <-ctx.Done():
			return displayDevices(os.Stdout, s.mgr.DiscoveredDevices())
		case ev, ok := <-events:
			if !ok {
				return displayDevices(os.Stdout, s.mgr.DiscoveredDevices())
			}
			if !live {
				continue
			}
			switch ev.Type {
			case scanner.EventAdded:
				added.Printf("+ %s", ev.Device.ID)
				fmt.Printf("  %s  %d dBm\n", deviceName(ev.Device), ev.Device.RSSI)
			case scanner.EventRemoved:
				removed.Printf("- %s", ev.Device.ID)
				fmt.Printf("  %s\n", deviceName(ev.Device))
			case scanner.EventUpdated:
				// Too chatty for a one-shot scan; the final table has the
				// latest reading.
			}
		}
	}
}

// watchDevices redraws the full table once a second until interrupted.
func watchDevices(ctx context.Context, s *stack) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	events := s.mgr.DiscoveryEvents()
	for {
		select {
		case <-ctx.Done():
			clearScreen()
			return displayDevices(os.Stdout, s.mgr.DiscoveredDevices())
		case <-ticker.C:
			clearScreen()
			if err := displayDevices(os.Stdout, s.mgr.DiscoveredDevices()); err != nil {
				return err
			}
		case <-events:
			// The table is rebuilt from the registry snapshot; events only
			// matter as a liveness signal here.
		}
	}
}

func deviceName(d scanner.DiscoveredDevice) string {
	if name := d.Advertisement.LocalName; name != "" {
		return name
	}
	return "(unnamed)"
}

func displayDevices(w io.Writer, devices []scanner.DiscoveredDevice) error {
	sort.Slice(devices, func(i, j int) bool {
		return devices[i].ID < devices[j].ID
	})
	if scanFormat == "json" {
		return displayDevicesJSON(w, devices)
	}
	return displayDeviceTable(w, devices)
}

func displayDeviceTable(out io.Writer, devices []scanner.DiscoveredDevice) error {
	if len(devices) == 0 {
		fmt.Fprintln(out, "No devices discovered")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	header := color.New(color.FgCyan, color.Bold)
	fmt.Fprintln(w, header.Sprint("NAME\tADDRESS\tRSSI\tKINDS\tLAST SEEN"))
	fmt.Fprintln(w, strings.Repeat("-", 72))

	for _, d := range devices {
		name := deviceName(d)
		if len(name) > 20 {
			name = name[:17] + "..."
		}

		kinds := make([]string, 0, len(d.MatchedKinds))
		for _, k := range d.MatchedKinds {
			kinds = append(kinds, string(k))
		}

		lastSeen := time.Since(d.LastSeen).Truncate(time.Second)
		fmt.Fprintf(w, "%s\t%s\t%d dBm\t%s\t%s ago\n",
			name, d.ID, d.RSSI, strings.Join(kinds, ","), lastSeen)
	}

	return w.Flush()
}

// deviceJSON is the stable JSON shape of one discovered device.
type deviceJSON struct {
	Address  string    `json:"address"`
	Name     string    `json:"name,omitempty"`
	RSSI     int       `json:"rssi"`
	Kinds    []string  `json:"kinds"`
	Services []string  `json:"services,omitempty"`
	LastSeen time.Time `json:"last_seen"`
}

func displayDevicesJSON(w io.Writer, devices []scanner.DiscoveredDevice) error {
	out := make([]deviceJSON, 0, len(devices))
	for _, d := range devices {
		kinds := make([]string, 0, len(d.MatchedKinds))
		for _, k := range d.MatchedKinds {
			kinds = append(kinds, string(k))
		}
		out = append(out, deviceJSON{
			Address:  string(d.ID),
			Name:     d.Advertisement.LocalName,
			RSSI:     d.RSSI,
			Kinds:    kinds,
			Services: d.Advertisement.ServiceUUIDs,
			LastSeen: d.LastSeen,
		})
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}

func clearScreen() {
	fmt.Print("\033[2J\033[H")
}
