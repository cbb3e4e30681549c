package ble

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"tinygo.org/x/bluetooth"
)

// Match is one advertisement that passed the filter.
type Match struct {
	Address   string
	RSSI      int16
	CompanyID uint16
	Data      []byte
	SeenAt    time.Time
}

type Filter struct {
	Address   string // empty matches any sender
	CompanyID uint16 // 0 matches any company
	Prefix    []byte
}

func (f Filter) accepts(addr string, companyID uint16, data []byte) bool {
	if f.Address != "" && addr != f.Address {
		return false
	}
	if f.CompanyID != 0 && companyID != f.CompanyID {
		return false
	}
	return bytes.HasPrefix(data, f.Prefix)
}

// Listener wraps BlueZ scanning with context cancellation.
type Listener struct {
	adapter     *bluetooth.Adapter
	adapterName string
	filter      Filter
	logger      *slog.Logger
}

func NewListener(adapterName string, filter Filter, logger *slog.Logger) *Listener {
	if adapterName == "" {
		adapterName = "hci0"
	}
	return &Listener{
		adapter:     bluetooth.NewAdapter(adapterName),
		adapterName: adapterName,
		filter:      filter,
		logger:      logger,
	}
}

// Run scans until ctx is done, calling onMatch for each accepted
// advertisement. Cancellation is a clean stop and returns nil.
func (l *Listener) Run(ctx context.Context, onMatch func(Match)) error {
	if err := l.adapter.Enable(); err != nil {
		return fmt.Errorf("ble enable (%s): %w", l.adapterName, err)
	}

	go func() {
		<-ctx.Done()
		_ = l.adapter.StopScan()
	}()

	l.logger.Info("ble scanning started",
		"adapter", l.adapterName,
		"filter_address", l.filter.Address,
		"filter_company", fmt.Sprintf("0x%04X", l.filter.CompanyID),
		"filter_prefix", fmt.Sprintf("% X", l.filter.Prefix),
	)

	// adapter.Scan blocks until StopScan() or error.
	err := l.adapter.Scan(func(_ *bluetooth.Adapter, r bluetooth.ScanResult) {
		addr := r.Address.String()
		for _, md := range r.ManufacturerData() {
			if !l.filter.accepts(addr, md.CompanyID, md.Data) {
				continue
			}
			onMatch(Match{
				Address:   addr,
				RSSI:      r.RSSI,
				CompanyID: md.CompanyID,
				Data:      append([]byte(nil), md.Data...),
				SeenAt:    time.Now(),
			})
			return
		}
	})

	if ctx.Err() != nil {
		l.logger.Info("ble scanning stopped")
		return nil
	}
	if err != nil {
		return fmt.Errorf("ble scan: %w", err)
	}
	return nil
}
