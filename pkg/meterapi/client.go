// Package meterapi implements the MyElectricalData gateway client used to
// pull Linky meter data from Enedis.
package meterapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/wattsync/wattsync/pkg/common"
	"github.com/wattsync/wattsync/pkg/log"
	"github.com/wattsync/wattsync/pkg/types"
)

// ErrLimitReached is returned when the gateway's daily call quota for the
// meter is exhausted. It is recoverable: the next scheduled cycle retries.
var ErrLimitReached = errors.New("meterapi: call quota reached")

// APIError is a non-quota error response from the gateway.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("meterapi: status %d: %s", e.Status, e.Detail)
}

const dateFormat = "2006-01-02"

// Factory creates per-meter clients sharing the flag-configured base URL
// and HTTP client.
type Factory struct {
	baseURL string
	client  *http.Client
}

// Configured sets up the factory based on flags.
func Configured() *Factory {
	baseURL := lflag.String("meterapi-url", "https://myelectricaldata.fr", "Base URL for the MyElectricalData gateway")
	timeout := lflag.Duration("meterapi-timeout", 30*time.Second, "HTTP timeout for gateway requests")

	f := &Factory{}

	lflag.Do(func() {
		f.baseURL = *baseURL
		f.client = common.HTTPClient(*timeout)
	})

	return f
}

// Validate ensures the configuration is valid.
func (f *Factory) Validate() error {
	if f.baseURL == "" {
		return fmt.Errorf("meterapi-url is required")
	}
	if _, err := url.Parse(f.baseURL); err != nil {
		return fmt.Errorf("failed to parse meterapi url (%s): %w", f.baseURL, err)
	}
	return nil
}

// Client returns a client bound to one meter's PDL and consent token.
func (f *Factory) Client(pdl, token string) *Client {
	return &Client{baseURL: f.baseURL, client: f.client, pdl: pdl, token: token}
}

// Client talks to the gateway for a single meter.
type Client struct {
	baseURL string
	client  *http.Client
	pdl     string
	token   string
}

var _ API = (*Client)(nil)

func (c *Client) get(ctx context.Context, path string, dest interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %s", ErrLimitReached, path)
	}
	if resp.StatusCode != http.StatusOK {
		// the gateway reports quota exhaustion inside a JSON error payload
		var apiErr struct {
			Detail string `json:"detail"`
		}
		_ = json.Unmarshal(body, &apiErr)
		if apiErr.Detail == "quota reached" {
			return fmt.Errorf("%w: %s", ErrLimitReached, path)
		}
		return &APIError{Status: resp.StatusCode, Detail: apiErr.Detail}
	}

	if err := json.Unmarshal(body, dest); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to decode gateway response",
			slog.Any("error", err), slog.String("path", path))
		return fmt.Errorf("failed to decode gateway response: %w", err)
	}
	return nil
}

// meterReadingResponse mirrors the Enedis metering payload. Values are in
// Wh as strings.
type meterReadingResponse struct {
	MeterReading struct {
		UsagePointID    string `json:"usage_point_id"`
		IntervalReading []struct {
			Value string `json:"value"`
			Date  string `json:"date"`
		} `json:"interval_reading"`
	} `json:"meter_reading"`
}

// FetchReadings returns interval readings for [start, end). Daily services
// yield one reading per day, the load curve one per 30 minutes.
func (c *Client) FetchReadings(ctx context.Context, service types.Service, start, end time.Time) ([]types.Reading, error) {
	if err := service.Validate(); err != nil {
		return nil, err
	}
	path := fmt.Sprintf("/%s/%s/start/%s/end/%s",
		service, c.pdl, start.Format(dateFormat), end.Format(dateFormat))

	var resp meterReadingResponse
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}

	readings := make([]types.Reading, 0, len(resp.MeterReading.IntervalReading))
	for _, ir := range resp.MeterReading.IntervalReading {
		ts, err := parseReadingDate(ir.Date)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "skipping reading with invalid date",
				slog.String("date", ir.Date), slog.Any("error", err))
			continue
		}
		wh, err := strconv.ParseFloat(ir.Value, 64)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "skipping reading with invalid value",
				slog.String("value", ir.Value), slog.Any("error", err))
			continue
		}
		readings = append(readings, types.Reading{
			Timestamp: ts,
			ValueKWH:  wh / 1000,
		})
	}

	log.Ctx(ctx).DebugContext(ctx, "fetched readings",
		slog.String("service", string(service)),
		slog.Time("start", start),
		slog.Time("end", end),
		slog.Int("count", len(readings)),
	)
	return readings, nil
}

// parseReadingDate accepts both the daily ("2006-01-02") and load curve
// ("2006-01-02 15:04:05") date formats.
func parseReadingDate(s string) (time.Time, error) {
	if t, err := time.ParseInLocation("2006-01-02 15:04:05", s, time.Local); err == nil {
		return t, nil
	}
	return time.ParseInLocation(dateFormat, s, time.Local)
}

// TempoDays returns the RTE tempo day colors for [start, end).
func (c *Client) TempoDays(ctx context.Context, start, end time.Time) (map[string]types.TempoColor, error) {
	path := fmt.Sprintf("/rte/tempo/%s/%s", start.Format(dateFormat), end.Format(dateFormat))

	raw := map[string]string{}
	if err := c.get(ctx, path, &raw); err != nil {
		return nil, err
	}

	days := make(map[string]types.TempoColor, len(raw))
	for day, color := range raw {
		tc := types.TempoColor(color)
		if !tc.Valid() {
			log.Ctx(ctx).WarnContext(ctx, "unknown tempo color in feed",
				slog.String("day", day), slog.String("color", color))
			continue
		}
		days[day] = tc
	}
	return days, nil
}

// EcowattDay returns the grid strain signal for the given day.
func (c *Client) EcowattDay(ctx context.Context, day time.Time) (*types.EcowattSignal, error) {
	path := fmt.Sprintf("/rte/ecowatt/%s/%s",
		day.Format(dateFormat), day.AddDate(0, 0, 1).Format(dateFormat))

	raw := map[string]struct {
		Value   int    `json:"value"`
		Message string `json:"message"`
	}{}
	if err := c.get(ctx, path, &raw); err != nil {
		return nil, err
	}

	entry, ok := raw[day.Format(dateFormat)]
	if !ok {
		return nil, nil
	}
	return &types.EcowattSignal{Value: entry.Value, Message: entry.Message}, nil
}

// Contract returns the meter contract details.
func (c *Client) Contract(ctx context.Context) (types.ContractInfo, error) {
	var resp struct {
		Customer struct {
			UsagePoints []struct {
				Contracts struct {
					SubscribedPower      string `json:"subscribed_power"`
					OffpeakHours         string `json:"offpeak_hours"`
					LastActivationDate   string `json:"last_activation_date"`
					LastTariffChangeDate string `json:"last_distribution_tariff_change_date"`
				} `json:"contracts"`
			} `json:"usage_points"`
		} `json:"customer"`
	}
	if err := c.get(ctx, "/contracts/"+c.pdl, &resp); err != nil {
		return types.ContractInfo{}, err
	}
	if len(resp.Customer.UsagePoints) == 0 {
		return types.ContractInfo{}, fmt.Errorf("no usage points in contract response for %s", c.pdl)
	}
	contracts := resp.Customer.UsagePoints[0].Contracts
	return types.ContractInfo{
		SubscribedPower:      contracts.SubscribedPower,
		OffpeakHours:         contracts.OffpeakHours,
		LastActivationDate:   contracts.LastActivationDate,
		LastTariffChangeDate: contracts.LastTariffChangeDate,
	}, nil
}

// Access returns the consent and quota state of the meter's token.
func (c *Client) Access(ctx context.Context) (types.AccessInfo, error) {
	var resp struct {
		Valid             bool   `json:"valid"`
		Ban               bool   `json:"ban"`
		QuotaLimit        int    `json:"quota_limit"`
		QuotaReached      bool   `json:"quota_reached"`
		CallNumber        int    `json:"call_number"`
		LastCall          string `json:"last_call"`
		ConsentExpiration string `json:"consent_expiration_date"`
	}
	if err := c.get(ctx, "/valid_access/"+c.pdl, &resp); err != nil {
		return types.AccessInfo{}, err
	}

	info := types.AccessInfo{
		Valid:        resp.Valid,
		Banned:       resp.Ban,
		QuotaLimit:   resp.QuotaLimit,
		QuotaReached: resp.QuotaReached,
		CallCount:    resp.CallNumber,
	}
	if t, err := time.Parse(time.RFC3339, resp.LastCall); err == nil {
		info.LastCall = t
	}
	if t, err := time.Parse(time.RFC3339, resp.ConsentExpiration); err == nil {
		info.ConsentExpiration = t
	}
	return info, nil
}
