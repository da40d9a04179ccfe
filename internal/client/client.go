package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/kjstillabower/weather-lookup/internal/circuitbreaker"
	"github.com/kjstillabower/weather-lookup/internal/models"
	"github.com/kjstillabower/weather-lookup/internal/observability"
)

// kelvinOffset converts the provider's default (standard) units to Celsius.
const kelvinOffset = 273.15

// maxBodyBytes caps how much of a provider response is read.
const maxBodyBytes = 1 << 20

// WeatherClient fetches current conditions for a city.
type WeatherClient interface {
	GetCurrentWeather(ctx context.Context, city string) (models.Snapshot, error)
	ValidateAPIKey(ctx context.Context) error
}

// OpenWeatherClient talks to the OpenWeatherMap current-weather endpoint.
// It issues exactly one request per call; there is no retry.
type OpenWeatherClient struct {
	apiKey  string
	apiURL  string
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
	now     func() time.Time
}

// NewOpenWeatherClient builds a client. The API key is injected here and nowhere else.
// timeout bounds each provider request end to end.
func NewOpenWeatherClient(apiKey, apiURL string, timeout time.Duration) (*OpenWeatherClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	if len(apiKey) < 10 {
		return nil, fmt.Errorf("%w: API key appears invalid (too short)", ErrInvalidAPIKey)
	}
	if _, err := url.Parse(apiURL); err != nil || apiURL == "" {
		return nil, fmt.Errorf("invalid API URL %q", apiURL)
	}

	return &OpenWeatherClient{
		apiKey: apiKey,
		apiURL: apiURL,
		client: &http.Client{Timeout: timeout},
		now:    time.Now,
	}, nil
}

// SetCircuitBreaker guards provider calls with cb. Pass nil to disable.
func (c *OpenWeatherClient) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	c.breaker = cb
}

// openWeatherResponse uses pointers so absent fields can be told apart from zero values.
type openWeatherResponse struct {
	Main *struct {
		Temp     *float64 `json:"temp"`
		Humidity *float64 `json:"humidity"`
	} `json:"main"`
	Wind *struct {
		Speed *float64 `json:"speed"`
	} `json:"wind"`
	Weather []struct {
		Description *string `json:"description"`
		Icon        string  `json:"icon"`
	} `json:"weather"`
	Name string `json:"name"`
}

type openWeatherErrorBody struct {
	Message string `json:"message"`
}

// GetCurrentWeather fetches and maps current conditions for city.
func (c *OpenWeatherClient) GetCurrentWeather(ctx context.Context, city string) (models.Snapshot, error) {
	if c.breaker == nil {
		return c.callAPI(ctx, city)
	}
	var snap models.Snapshot
	err := c.breaker.Call(ctx, func() error {
		var callErr error
		snap, callErr = c.callAPI(ctx, city)
		return callErr
	})
	if err != nil {
		return models.Snapshot{}, err
	}
	return snap, nil
}

func (c *OpenWeatherClient) callAPI(ctx context.Context, city string) (models.Snapshot, error) {
	start := time.Now()

	req, err := c.buildRequest(ctx, city)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		return models.Snapshot{}, fmt.Errorf("build request: %w", err)
	}
	if corrID := observability.CorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		observability.WeatherAPIDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		return models.Snapshot{}, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.WeatherAPICallsTotal.WithLabelValues(status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		perr := &ProviderError{StatusCode: resp.StatusCode}
		var eb openWeatherErrorBody
		if json.Unmarshal(body, &eb) == nil {
			perr.Message = eb.Message
		}
		return models.Snapshot{}, perr
	}

	var apiResp openWeatherResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return models.Snapshot{}, &ParseError{Err: err}
	}
	return c.mapResponse(apiResp)
}

func (c *OpenWeatherClient) buildRequest(ctx context.Context, city string) (*http.Request, error) {
	baseURL, err := url.Parse(c.apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	params := baseURL.Query()
	params.Set("q", city)
	params.Set("appid", c.apiKey)
	baseURL.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// mapResponse turns a decoded body into a Snapshot, or a ParseError naming the first missing field.
// Temperature arrives in Kelvin; everything else is copied as-is.
func (c *OpenWeatherClient) mapResponse(r openWeatherResponse) (models.Snapshot, error) {
	switch {
	case r.Main == nil:
		return models.Snapshot{}, &ParseError{Field: "main"}
	case r.Main.Temp == nil:
		return models.Snapshot{}, &ParseError{Field: "main.temp"}
	case r.Main.Humidity == nil:
		return models.Snapshot{}, &ParseError{Field: "main.humidity"}
	case r.Wind == nil || r.Wind.Speed == nil:
		return models.Snapshot{}, &ParseError{Field: "wind.speed"}
	case len(r.Weather) == 0:
		return models.Snapshot{}, &ParseError{Field: "weather[0]"}
	case r.Weather[0].Description == nil:
		return models.Snapshot{}, &ParseError{Field: "weather[0].description"}
	}

	return models.Snapshot{
		TemperatureCelsius:       *r.Main.Temp - kelvinOffset,
		HumidityPercent:          *r.Main.Humidity,
		WindSpeedMetersPerSecond: *r.Wind.Speed,
		Description:              *r.Weather[0].Description,
		IconID:                   r.Weather[0].Icon,
		CityName:                 r.Name,
		FetchedAt:                c.now(),
	}, nil
}

func statusLabel(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "success"
	case statusCode == http.StatusTooManyRequests:
		return "rate_limited"
	case statusCode >= 400 && statusCode < 500:
		return "client_error"
	case statusCode >= 500:
		return "server_error"
	default:
		return "error"
	}
}

// ValidateAPIKey probes the provider once. Only a 401 is reported as ErrInvalidAPIKey;
// other failures are returned as-is so callers can tell "bad key" from "provider down".
func (c *OpenWeatherClient) ValidateAPIKey(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := c.buildRequest(ctx, "London")
	if err != nil {
		return fmt.Errorf("build validation request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("validation request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: API key is invalid or not activated", ErrInvalidAPIKey)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("validation failed: %w", &ProviderError{StatusCode: resp.StatusCode})
	}
	return nil
}
