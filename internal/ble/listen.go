package ble

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"mi-sensor-bridge/internal/utils"

	"tinygo.org/x/bluetooth"
)

// EventKind separates advertisements that carry service data from everything else.
type EventKind int

const (
	EventOther EventKind = iota
	EventServiceData
)

func (k EventKind) String() string {
	switch k {
	case EventServiceData:
		return "service_data"
	default:
		return "other"
	}
}

// ServiceData is one service-data chunk of an advertisement.
type ServiceData struct {
	UUID bluetooth.UUID
	Data []byte
}

// Advertisement is a single observation handed from the scanner to the pipeline.
type Advertisement struct {
	Kind        EventKind
	Address     string
	RSSI        int16
	ServiceData []ServiceData
	SeenAt      time.Time
}

// Lookup returns the service data chunk tagged with uuid.
func (a Advertisement) Lookup(uuid bluetooth.UUID) ([]byte, bool) {
	for _, sd := range a.ServiceData {
		if sd.UUID == uuid {
			return sd.Data, true
		}
	}
	return nil, false
}

type Options struct {
	Adapter string // "hci0" by default
}

// Listener wraps BlueZ scanning with context cancellation.
type Listener struct {
	adapter *bluetooth.Adapter
	opts    Options
	logger  *slog.Logger
}

func NewListener(opts Options, logger *slog.Logger) *Listener {
	if opts.Adapter == "" {
		opts.Adapter = "hci0"
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Listener{
		adapter: bluetooth.NewAdapter(opts.Adapter),
		opts:    opts,
		logger:  logger,
	}
}

// Enable powers up the adapter. Failing here means there is nothing to scan with.
func (l *Listener) Enable() error {
	l.logger.Info("ble: enabling adapter", "adapter", l.opts.Adapter)
	if err := l.adapter.Enable(); err != nil {
		return fmt.Errorf("ble enable (%s): %w", l.opts.Adapter, err)
	}
	l.logger.Info("ble: adapter enabled", "adapter", l.opts.Adapter)
	return nil
}

// Run scans until ctx is canceled or the scan fails, sending every
// advertisement to out. Sends block until the receiver takes the event.
func (l *Listener) Run(ctx context.Context, out chan<- Advertisement) error {
	go func() {
		<-ctx.Done()
		_ = l.adapter.StopScan()
	}()

	l.logger.Info("ble: scanning started",
		"adapter", l.opts.Adapter,
		"service_uuid", "0x"+utils.Hex4(0x181a),
	)

	// adapter.Scan blocks until StopScan() or error.
	err := l.adapter.Scan(func(_ *bluetooth.Adapter, r bluetooth.ScanResult) {
		ev := fromScanResult(r)
		select {
		case out <- ev:
		case <-ctx.Done():
		}
	})

	// If ctx canceled, treat as clean shutdown.
	if ctx.Err() != nil {
		l.logger.Info("ble: scanning stopped (context canceled)")
		return nil
	}

	if err != nil {
		return fmt.Errorf("ble scan: %w", err)
	}

	l.logger.Info("ble: scanning stopped")
	return nil
}

func fromScanResult(r bluetooth.ScanResult) Advertisement {
	ev := Advertisement{
		Kind:    EventOther,
		Address: r.Address.String(),
		RSSI:    r.RSSI,
		SeenAt:  time.Now(),
	}
	for _, sd := range r.ServiceData() {
		// The scan buffer is reused by the stack; keep our own copy.
		ev.ServiceData = append(ev.ServiceData, ServiceData{
			UUID: sd.UUID,
			Data: append([]byte(nil), sd.Data...),
		})
	}
	if len(ev.ServiceData) > 0 {
		ev.Kind = EventServiceData
	}
	return ev
}
