// Package journal keeps an append-only SQLite record of forwarded readings.
// It is write-only from the bridge's point of view; dedup state is never
// restored from it.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"mi-sensor-bridge/internal/ble"
	"mi-sensor-bridge/internal/journal/migrate"
	"mi-sensor-bridge/internal/utils"

	_ "github.com/mattn/go-sqlite3"
)

type Journal struct {
	db     *sql.DB
	logger *slog.Logger
}

// Entry is one journaled reading.
type Entry struct {
	MAC          string
	Topic        string
	Temperature  int16
	Humidity     uint16
	BatteryMV    uint16
	BatteryLevel uint8
	Counter      uint8
	Flags        uint8
	RSSI         int16
	RawHex       string
	Payload      string
	ForwardedAt  time.Time
}

func Open(ctx context.Context, path string, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn, err := buildDSN(path)
	if err != nil {
		return nil, err
	}

	var db *sql.DB
	if logger.Enabled(ctx, slog.LevelDebug) {
		db = sql.OpenDB(newTraceConnector(dsn, logger))
	} else {
		db, err = sql.Open("sqlite3", dsn)
		if err != nil {
			return nil, fmt.Errorf("journal open: %w", err)
		}
	}
	// Single writer; SQLite is happiest without a pool.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal ping: %w", err)
	}

	if err := migrate.Run(ctx, db, logger); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal migrate: %w", err)
	}

	return &Journal{db: db, logger: logger}, nil
}

// Append records a forwarded reading.
func (j *Journal) Append(ctx context.Context, f ble.Forwarded) error {
	at := f.Event.SeenAt
	if at.IsZero() {
		at = time.Now()
	}
	raw, _ := f.Event.Lookup(ble.EnvironmentalSensingUUID)

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO forwarded_readings
			(mac, topic, temperature, humidity, battery_mv, battery_level, counter, flags, rssi, raw_hex, payload, forwarded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.Reading.MAC.String(),
		f.Topic,
		f.Reading.Temperature,
		f.Reading.Humidity,
		f.Reading.BatteryMV,
		f.Reading.BatteryLevel,
		f.Reading.Counter,
		f.Reading.Flags,
		f.Event.RSSI,
		utils.BytesToHex(raw),
		string(f.Body),
		at.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("journal append: %w", err)
	}
	j.logger.Debug("journal: reading stored", "mac", f.Reading.MAC.String(), "counter", f.Reading.Counter)
	return nil
}

// Recent returns up to limit entries for mac, newest first.
func (j *Journal) Recent(ctx context.Context, mac string, limit int) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT mac, topic, temperature, humidity, battery_mv, battery_level, counter, flags,
		       COALESCE(rssi, 0), COALESCE(raw_hex, ''), payload, forwarded_at
		FROM forwarded_readings
		WHERE mac = ?
		ORDER BY id DESC
		LIMIT ?`, mac, limit)
	if err != nil {
		return nil, fmt.Errorf("journal query: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var at string
		if err := rows.Scan(&e.MAC, &e.Topic, &e.Temperature, &e.Humidity, &e.BatteryMV,
			&e.BatteryLevel, &e.Counter, &e.Flags, &e.RSSI, &e.RawHex, &e.Payload, &at); err != nil {
			return nil, fmt.Errorf("journal scan: %w", err)
		}
		e.ForwardedAt, err = time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, fmt.Errorf("journal forwarded_at %q: %w", at, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

func buildDSN(path string) (string, error) {
	// Ensure directory exists for file-backed sqlite db
	if !strings.HasPrefix(path, "file:") && path != ":memory:" {
		dir := filepath.Dir(path)
		if dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return "", fmt.Errorf("mkdir %s: %w", dir, err)
			}
		}
	}

	// - busy_timeout: tolerate external readers holding a lock
	// - journal_mode=WAL: readers do not block the bridge's writes
	params := []string{
		"_busy_timeout=5000",
		"_journal_mode=WAL",
	}

	if strings.HasPrefix(path, "file:") {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		return path + sep + strings.Join(params, "&"), nil
	}
	return fmt.Sprintf("file:%s?%s", path, strings.Join(params, "&")), nil
}
