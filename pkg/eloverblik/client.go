package eloverblik

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/simpleelforbrug/elforbrug/pkg/common"
	"github.com/simpleelforbrug/elforbrug/pkg/log"
)

// DefaultAPIURL is the production customer API.
const DefaultAPIURL = "https://api.eloverblik.dk/customerapi"

// tokens are valid for 24 hours but we refresh them well before that
const accessTokenTTL = time.Hour

// Client talks to the Eloverblik customer API on behalf of a single refresh
// token. It is safe for concurrent use.
type Client struct {
	client       *http.Client
	baseURL      string
	refreshToken string
	now          func() time.Time

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewClient returns a client for baseURL using refreshToken. A nil httpClient
// uses common.HTTPClient.
func NewClient(baseURL, refreshToken string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = common.HTTPClient(time.Minute)
	}
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}
	return &Client{
		client:       httpClient,
		baseURL:      baseURL,
		refreshToken: refreshToken,
		now:          time.Now,
	}
}

type tokenResponse struct {
	Result string `json:"result"`
}

// GetToken exchanges the refresh token for a data access token. The access
// token is cached until it expires.
func (c *Client) GetToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.accessToken != "" && c.now().Before(c.tokenExpiry) {
		token := c.accessToken
		c.mu.Unlock()
		return token, nil
	}
	c.mu.Unlock()

	req, err := c.newRequest(ctx, "GET", "api/token", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.refreshToken)

	var res tokenResponse
	if err := c.do(req, &res); err != nil {
		return "", fmt.Errorf("failed to get access token: %w", err)
	}
	if res.Result == "" {
		return "", errors.New("eloverblik returned an empty access token")
	}
	log.Ctx(ctx).DebugContext(ctx, "got eloverblik access token")

	c.mu.Lock()
	c.accessToken = res.Result
	c.tokenExpiry = c.now().Add(accessTokenTTL)
	c.mu.Unlock()
	return res.Result, nil
}

func (c *Client) clearToken() {
	c.mu.Lock()
	c.accessToken = ""
	c.tokenExpiry = time.Time{}
	c.mu.Unlock()
}

type meteringPointsBody struct {
	MeteringPoints struct {
		MeteringPoint []string `json:"meteringPoint"`
	} `json:"meteringPoints"`
}

func newMeteringPointsBody(mp string) meteringPointsBody {
	var b meteringPointsBody
	b.MeteringPoints.MeteringPoint = []string{mp}
	return b
}

type timeSeriesResponse struct {
	Result []struct {
		MarketDocument struct {
			TimeSeries []struct {
				MRID   string `json:"mRID"`
				Period []struct {
					Resolution   string `json:"resolution"`
					TimeInterval struct {
						Start string `json:"start"`
						End   string `json:"end"`
					} `json:"timeInterval"`
					Point []struct {
						Position string `json:"position"`
						Quantity string `json:"out_Quantity.quantity"`
						Quality  string `json:"out_Quantity.quality"`
					} `json:"Point"`
				} `json:"Period"`
			} `json:"TimeSeries"`
		} `json:"MyEnergyData_MarketDocument"`
		resultStatus
	} `json:"result"`
}

type resultStatus struct {
	Success   bool   `json:"success"`
	ErrorCode int    `json:"errorCode"`
	ErrorText string `json:"errorText"`
	ID        string `json:"id"`
}

func (r resultStatus) err() error {
	if r.Success {
		return nil
	}
	return &APIError{Code: r.ErrorCode, Text: r.ErrorText}
}

// hourResolutions are the sub-day resolutions whose readings are summed per
// local hour of the day.
var hourResolutions = map[string]time.Duration{
	"PT15M": 15 * time.Minute,
	"PT1H":  time.Hour,
}

// GetTimeSeries returns one TimeSeries per period between the from and to
// dates (inclusive from, exclusive to) sorted by date.
func (c *Client) GetTimeSeries(ctx context.Context, mp string, from, to time.Time, agg Aggregation) ([]TimeSeries, error) {
	endpoint := fmt.Sprintf(
		"api/meterdata/gettimeseries/%s/%s/%s",
		from.In(Location).Format(dateFormat),
		to.In(Location).Format(dateFormat),
		agg,
	)
	log.Ctx(ctx).DebugContext(
		ctx,
		"getting eloverblik time series",
		slog.String("meteringPoint", mp),
		slog.Time("from", from),
		slog.Time("to", to),
		slog.String("aggregation", string(agg)),
	)

	var res timeSeriesResponse
	if err := c.doAuthorized(ctx, "POST", endpoint, newMeteringPointsBody(mp), &res); err != nil {
		return nil, err
	}

	var series []TimeSeries
	for _, r := range res.Result {
		if err := r.err(); err != nil {
			return nil, err
		}
		for _, ts := range r.MarketDocument.TimeSeries {
			for _, p := range ts.Period {
				start, err := time.Parse(time.RFC3339, p.TimeInterval.Start)
				if err != nil {
					log.Ctx(ctx).WarnContext(ctx, "failed to parse period start", slog.String("value", p.TimeInterval.Start), slog.Any("error", err))
					continue
				}
				step, byHour := hourResolutions[p.Resolution]
				var values []float64
				if !byHour {
					values = make([]float64, len(p.Point))
				}
				for _, pt := range p.Point {
					pos, err := strconv.Atoi(pt.Position)
					if err != nil || pos < 1 || pos > len(p.Point) {
						log.Ctx(ctx).WarnContext(ctx, "invalid point position", slog.String("value", pt.Position))
						continue
					}
					q, err := strconv.ParseFloat(pt.Quantity, 64)
					if err != nil {
						log.Ctx(ctx).WarnContext(ctx, "failed to parse quantity", slog.String("value", pt.Quantity), slog.Any("error", err))
						continue
					}
					if !byHour {
						values[pos-1] = q
						continue
					}
					// DST days have 23 or 25 hourly points so place each one by
					// its local hour rather than its position
					hour := start.Add(time.Duration(pos-1) * step).In(Location).Hour()
					for len(values) <= hour {
						values = append(values, 0)
					}
					values[hour] += q
				}
				s := NewTimeSeries(ts.MRID, start.In(Location), values)
				s.Resolution = p.Resolution
				series = append(series, s)
			}
		}
	}
	sortSeries(series)

	log.Ctx(ctx).DebugContext(ctx, "got eloverblik time series", slog.Int("count", len(series)))
	return series, nil
}

// GetPerMonth returns the month aggregated consumption for the current year.
func (c *Client) GetPerMonth(ctx context.Context, mp string) (YearData, error) {
	now := c.now().In(Location)
	from := time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, Location)
	to := Date(now).AddDate(0, 0, 1)
	series, err := c.GetTimeSeries(ctx, mp, from, to, AggregationMonth)
	if err != nil {
		return YearData{}, err
	}
	return yearDataFromSeries(mp, now.Year(), series), nil
}

type chargesResponse struct {
	Result []struct {
		Result struct {
			MeteringPointID string   `json:"meteringPointId"`
			Tariffs         []charge `json:"tariffs"`
			Fees            []charge `json:"fees"`
			Subscriptions   []charge `json:"subscriptions"`
		} `json:"result"`
		resultStatus
	} `json:"result"`
}

type charge struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Owner       string  `json:"owner"`
	PeriodType  string  `json:"periodType"`
	Price       float64 `json:"price"`
	Prices      []struct {
		Position string  `json:"position"`
		Price    float64 `json:"price"`
	} `json:"prices"`
}

// Charges are the tariffs for a metering point keyed by normalized name.
// Prices are DKK per kWh.
type Charges map[string]float64

// GetTariffs returns the tariffs currently in effect for mp. Tariffs with
// hourly prices resolve to the price for the current hour.
func (c *Client) GetTariffs(ctx context.Context, mp string) (Charges, error) {
	var res chargesResponse
	if err := c.doAuthorized(ctx, "POST", "api/meteringpoints/meteringpoint/getcharges", newMeteringPointsBody(mp), &res); err != nil {
		return nil, err
	}

	hour := c.now().In(Location).Hour()
	charges := make(Charges)
	for _, r := range res.Result {
		if err := r.err(); err != nil {
			return nil, err
		}
		for _, t := range r.Result.Tariffs {
			charges[NormalizeChargeName(t.Name)] = tariffPrice(t, hour)
		}
	}
	log.Ctx(ctx).DebugContext(ctx, "got eloverblik tariffs", slog.Int("count", len(charges)))
	return charges, nil
}

func tariffPrice(t charge, hour int) float64 {
	switch {
	case len(t.Prices) == 24:
		want := strconv.Itoa(hour + 1)
		for _, p := range t.Prices {
			if p.Position == want {
				return p.Price
			}
		}
		return t.Prices[hour].Price
	case len(t.Prices) > 0:
		return t.Prices[0].Price
	default:
		return t.Price
	}
}

// NormalizeChargeName turns "Nettarif C" into "nettarif_c".
func NormalizeChargeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.Join(strings.Fields(name), "_")
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body any) (*http.Request, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid api url: %w", err)
	}
	u.Path, err = url.JoinPath(u.Path, endpoint)
	if err != nil {
		return nil, err
	}

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), r)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// doAuthorized sends the request with an access token, retrying once with a
// fresh token when the cached one is rejected.
func (c *Client) doAuthorized(ctx context.Context, method, endpoint string, body, dest any) error {
	for i := 0; i < 2; i++ {
		token, err := c.GetToken(ctx)
		if err != nil {
			return err
		}
		req, err := c.newRequest(ctx, method, endpoint, body)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)

		err = c.do(req, dest)
		if i == 0 && IsUnauthorized(err) {
			log.Ctx(ctx).DebugContext(ctx, "eloverblik access token expired")
			c.clearToken()
			continue
		}
		return err
	}
	return nil
}

func (c *Client) do(req *http.Request, dest any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call eloverblik: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &HTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(body)),
		}
	}
	if err := json.Unmarshal(body, dest); err != nil {
		log.Ctx(req.Context()).ErrorContext(req.Context(), "failed to decode eloverblik response", slog.Any("error", err))
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
