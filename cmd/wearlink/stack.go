package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/wearlink/internal/registry"
	"github.com/srg/wearlink/internal/session"
	"github.com/srg/wearlink/internal/transport"
	"github.com/srg/wearlink/internal/transport/goble"
	"github.com/srg/wearlink/pkg/config"
	"github.com/srg/wearlink/pkg/wearable"
)

// stack bundles what every command needs: the loaded config, the go-ble
// transport, and the manager wired on top of it.
type stack struct {
	cfg *config.Config
	tr  *goble.Transport
	mgr *wearable.Manager
}

// newStack loads the config (from --config when given), opens the transport,
// and registers the wearable device type.
func newStack(cmd *cobra.Command, logger *logrus.Logger) (*stack, error) {
	cfg := config.DefaultConfig()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		var err error
		cfg, err = config.LoadFile(path)
		if err != nil {
			return nil, err
		}
	}

	queue := transport.NewSerialQueue(logger)
	tr := goble.New(queue, logger)
	mgr := wearable.NewManager(cfg, tr, queue, logger)
	if err := mgr.RegisterWearableType(); err != nil {
		mgr.Close()
		return nil, fmt.Errorf("register wearable device type: %w", err)
	}
	return &stack{cfg: cfg, tr: tr, mgr: mgr}, nil
}

func (s *stack) Close() {
	s.mgr.Close()
	_ = s.tr.Close()
}

// openWearable connects to the peripheral, waits for the session to open and
// the device to finish its startup reads, and returns the typed device.
func (s *stack) openWearable(ctx context.Context, address string) (*wearable.Device, session.ID, error) {
	opened := make(chan registry.Device, 1)
	terminated := make(chan error, 1)

	id, err := s.mgr.OpenSession(transport.PeripheralID(address), session.Listener{
		OnOpen: func(_ *session.Session, dev registry.Device) { opened <- dev },
		OnTerminated: func(_ *session.Session, err error) {
			select {
			case terminated <- err:
			default:
			}
		},
	})
	if err != nil {
		return nil, 0, err
	}

	var dev registry.Device
	select {
	case <-ctx.Done():
		s.mgr.CloseSession(id)
		return nil, 0, ctx.Err()
	case err := <-terminated:
		return nil, 0, err
	case dev = <-opened:
	}

	w, ok := dev.(*wearable.Device)
	if !ok {
		s.mgr.CloseSession(id)
		return nil, 0, fmt.Errorf("peripheral %s identified as %q, not a wearable", address, dev.Kind())
	}

	select {
	case <-ctx.Done():
		pending := w.PendingStartupValues()
		s.mgr.CloseSession(id)
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, 0, ctx.Err()
		}
		return nil, 0, fmt.Errorf("%w: still pending %v", ErrDeviceNotReady, pending)
	case err := <-terminated:
		return nil, 0, err
	case <-w.Ready():
		return w, id, nil
	}
}

// signalContext derives a context cancelled by Ctrl+C / SIGTERM. The returned
// stop function releases the signal handler.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			fmt.Println("\nInterrupted, shutting down...")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
	}
}
