package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"mi-sensor-bridge/internal/ble"
	"mi-sensor-bridge/internal/journal"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 500
)

// History reads journaled readings for one sensor, newest first.
type History interface {
	Recent(ctx context.Context, mac string, limit int) ([]journal.Entry, error)
}

type readingView struct {
	MAC          string    `json:"mac"`
	Topic        string    `json:"topic"`
	Temperature  int16     `json:"temperature"`
	Humidity     uint16    `json:"humidity"`
	BatteryMV    uint16    `json:"battery_mv"`
	BatteryLevel uint8     `json:"battery_level"`
	Counter      uint8     `json:"counter"`
	Flags        uint8     `json:"flags"`
	RSSI         int16     `json:"rssi"`
	Raw          string    `json:"raw"`
	ForwardedAt  time.Time `json:"forwarded_at"`
}

type historyHandler struct {
	history History
}

// GET /sensors/{mac}/readings?limit=N
func (h *historyHandler) handleReadings(w http.ResponseWriter, r *http.Request) {
	mac, err := ble.ParseMAC(r.PathValue("mac"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxHistoryLimit {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and "+strconv.Itoa(maxHistoryLimit))
			return
		}
		limit = n
	}

	entries, err := h.history.Recent(r.Context(), mac.String(), limit)
	if err != nil {
		slog.Error("httpapi: read journal", "mac", mac.String(), "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read journal")
		return
	}

	out := make([]readingView, 0, len(entries))
	for _, e := range entries {
		out = append(out, readingView{
			MAC:          e.MAC,
			Topic:        e.Topic,
			Temperature:  e.Temperature,
			Humidity:     e.Humidity,
			BatteryMV:    e.BatteryMV,
			BatteryLevel: e.BatteryLevel,
			Counter:      e.Counter,
			Flags:        e.Flags,
			RSSI:         e.RSSI,
			Raw:          e.RawHex,
			ForwardedAt:  e.ForwardedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func registerHistory(mux *http.ServeMux, history History) {
	h := &historyHandler{history: history}
	mux.HandleFunc("GET /sensors/{mac}/readings", h.handleReadings)
}
