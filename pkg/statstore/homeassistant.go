package statstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/wattsync/wattsync/pkg/log"
	"github.com/wattsync/wattsync/pkg/types"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// HomeAssistantStore implements the Store interface against the Home
// Assistant recorder over its websocket API. Statistic series map onto
// external statistics owned by the "wattsync" source.
type HomeAssistantStore struct {
	host  string
	token string

	// lastPointWindow bounds how far back LastPoint searches; the recorder
	// has no direct "latest point" call so we query a trailing window.
	lastPointWindow time.Duration
}

// configuredHomeAssistant sets up the Home Assistant store.
// It registers flags for configuration.
func configuredHomeAssistant() *HomeAssistantStore {
	host := lflag.String("ha-host", "", "Home Assistant host (name:port, no protocol)")
	token := lflag.String("ha-token", "", "Home Assistant long-lived access token")
	window := lflag.Duration("ha-lastpoint-window", 366*24*time.Hour, "How far back to search for a series' last point")

	h := &HomeAssistantStore{}

	lflag.Do(func() {
		h.host = *host
		h.token = *token
		h.lastPointWindow = *window
	})

	return h
}

// Validate checks if the store is properly configured.
func (h *HomeAssistantStore) Validate() error {
	if h.host == "" {
		return fmt.Errorf("ha-host is required")
	}
	if h.token == "" {
		return fmt.Errorf("ha-token is required")
	}
	return nil
}

// Close implements Store. Connections are per-operation so there is
// nothing to tear down.
func (h *HomeAssistantStore) Close() error {
	return nil
}

// haConn is a single authenticated websocket session. The recorder
// protocol matches commands to results by an incrementing message ID.
type haConn struct {
	conn  *websocket.Conn
	msgID int
}

type haResponse struct {
	ID          int    `json:"id"`
	MessageType string `json:"type"`
	Success     bool   `json:"success"`
	Error       struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (h *HomeAssistantStore) dial(ctx context.Context) (*haConn, error) {
	url := "ws://" + h.host + "/api/websocket"
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial home assistant (%s): %w", url, err)
	}

	c := &haConn{conn: ws, msgID: 1}
	if err := c.login(ctx, h.token); err != nil {
		c.close()
		return nil, err
	}
	return c, nil
}

func (c *haConn) close() {
	_ = c.conn.Close(websocket.StatusGoingAway, "bye")
}

// login performs the auth handshake the server starts with auth_required.
func (c *haConn) login(ctx context.Context, token string) error {
	var hello struct {
		MessageType string `json:"type"`
		HAVersion   string `json:"ha_version"`
	}
	if err := wsjson.Read(ctx, c.conn, &hello); err != nil {
		return err
	}
	if hello.MessageType != "auth_required" {
		return fmt.Errorf("expected auth_required, got %q", hello.MessageType)
	}

	auth := map[string]string{
		"type":         "auth",
		"access_token": token,
	}
	if err := wsjson.Write(ctx, c.conn, auth); err != nil {
		return err
	}

	hello = struct {
		MessageType string `json:"type"`
		HAVersion   string `json:"ha_version"`
	}{}
	if err := wsjson.Read(ctx, c.conn, &hello); err != nil {
		return err
	}
	if hello.MessageType != "auth_ok" {
		return fmt.Errorf("invalid auth: %s", hello.MessageType)
	}
	return nil
}

// command sends one command and decodes the matching result into result
// (which may be nil when only success matters).
func (c *haConn) command(ctx context.Context, msg map[string]interface{}, result interface{}) error {
	c.msgID++
	id := c.msgID
	msg["id"] = id

	if err := wsjson.Write(ctx, c.conn, msg); err != nil {
		return err
	}

	var raw struct {
		haResponse
		Result jsonRaw `json:"result"`
	}
	if err := wsjson.Read(ctx, c.conn, &raw); err != nil {
		return err
	}
	if raw.ID != id {
		return fmt.Errorf("protocol out of sync: got ack for %d, want %d", raw.ID, id)
	}
	if raw.MessageType != "result" || !raw.Success {
		return fmt.Errorf("recorder error %s: %s", raw.Error.Code, raw.Error.Message)
	}
	if result != nil && len(raw.Result) > 0 {
		if err := decodeResult(raw.Result, result); err != nil {
			return fmt.Errorf("failed to decode recorder result: %w", err)
		}
	}
	return nil
}

// haSource is the source field required for external statistics; the
// recorder requires it to equal the statistic ID's namespace.
var haSource = strings.TrimSuffix(types.StatisticPrefix, ":")

type haStatValue struct {
	Start time.Time `json:"start"`
	State float64   `json:"state"`
	Sum   float64   `json:"sum"`
}

// UpsertSeries imports points as external statistics; the recorder
// overwrites points sharing the same start time.
func (h *HomeAssistantStore) UpsertSeries(ctx context.Context, meta types.SeriesMeta, points []types.StatPoint) error {
	if len(points) == 0 {
		return nil
	}
	c, err := h.dial(ctx)
	if err != nil {
		return err
	}
	defer c.close()

	stats := make([]haStatValue, 0, len(points))
	for _, p := range points {
		stats = append(stats, haStatValue{Start: p.Start, State: p.State, Sum: p.Sum})
	}

	msg := map[string]interface{}{
		"type": "recorder/import_statistics",
		"metadata": map[string]interface{}{
			"source":              haSource,
			"statistic_id":        meta.StatisticID,
			"name":                meta.Name,
			"unit_of_measurement": meta.Unit,
			"has_mean":            false,
			"has_sum":             true,
		},
		"stats": stats,
	}
	if err := c.command(ctx, msg, nil); err != nil {
		return fmt.Errorf("failed to import statistics for %s: %w", meta.StatisticID, err)
	}
	log.Ctx(ctx).DebugContext(ctx, "imported statistics",
		slog.String("statisticID", meta.StatisticID), slog.Int("points", len(stats)))
	return nil
}

// statsDuringPeriod queries hourly statistics for the series since start.
func (h *HomeAssistantStore) statsDuringPeriod(ctx context.Context, statisticID string, start time.Time) ([]types.StatPoint, error) {
	c, err := h.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer c.close()

	msg := map[string]interface{}{
		"type":          "recorder/statistics_during_period",
		"start_time":    start.UTC().Format(time.RFC3339),
		"statistic_ids": []string{statisticID},
		"period":        "hour",
		"types":         []string{"state", "sum"},
	}

	result := map[string][]struct {
		Start int64   `json:"start"`
		State float64 `json:"state"`
		Sum   float64 `json:"sum"`
	}{}
	if err := c.command(ctx, msg, &result); err != nil {
		return nil, fmt.Errorf("failed to query statistics for %s: %w", statisticID, err)
	}

	rows := result[statisticID]
	points := make([]types.StatPoint, 0, len(rows))
	for _, row := range rows {
		points = append(points, types.StatPoint{
			// the recorder reports period starts as epoch milliseconds
			Start: time.UnixMilli(row.Start).UTC(),
			State: row.State,
			Sum:   row.Sum,
		})
	}
	return points, nil
}

// LastPoint returns the most recent point inside the configured search
// window.
func (h *HomeAssistantStore) LastPoint(ctx context.Context, statisticID string) (types.StatPoint, bool, error) {
	window := h.lastPointWindow
	if window <= 0 {
		window = 366 * 24 * time.Hour
	}
	points, err := h.statsDuringPeriod(ctx, statisticID, time.Now().Add(-window))
	if err != nil {
		return types.StatPoint{}, false, err
	}
	if len(points) == 0 {
		return types.StatPoint{}, false, nil
	}
	return points[len(points)-1], true, nil
}

// Points returns the series' full history.
func (h *HomeAssistantStore) Points(ctx context.Context, statisticID string) ([]types.StatPoint, error) {
	return h.statsDuringPeriod(ctx, statisticID, time.Unix(0, 0))
}

// Clear deletes the series from the recorder. Only series under this
// service's namespace can be cleared.
func (h *HomeAssistantStore) Clear(ctx context.Context, statisticID string) error {
	if err := CheckNamespace(statisticID); err != nil {
		return err
	}
	c, err := h.dial(ctx)
	if err != nil {
		return err
	}
	defer c.close()

	msg := map[string]interface{}{
		"type":          "recorder/clear_statistics",
		"statistic_ids": []string{statisticID},
	}
	if err := c.command(ctx, msg, nil); err != nil {
		return fmt.Errorf("failed to clear statistics for %s: %w", statisticID, err)
	}
	log.Ctx(ctx).InfoContext(ctx, "cleared series", slog.String("statisticID", statisticID))
	return nil
}

var errNoResult = errors.New("no result payload")

// jsonRaw delays decoding the result payload until the expected shape is
// known.
type jsonRaw = json.RawMessage

func decodeResult(r jsonRaw, dest interface{}) error {
	if len(r) == 0 {
		return errNoResult
	}
	return json.Unmarshal(r, dest)
}
