package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-lookup/internal/client"
	"github.com/kjstillabower/weather-lookup/internal/display"
	"github.com/kjstillabower/weather-lookup/internal/models"
	"github.com/kjstillabower/weather-lookup/internal/observability"
	"github.com/kjstillabower/weather-lookup/internal/traffic"
	"github.com/kjstillabower/weather-lookup/internal/validation"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("weather service closed")

// Config holds the service's tunables.
type Config struct {
	// DefaultCity is fetched once by Start. Blank disables the startup fetch.
	DefaultCity string
	Rules       validation.CityRules
}

// WeatherService drives the display state from city searches. Each accepted search
// moves the holder to Loading and runs one provider fetch in the background; a newer
// search cancels the older fetch, and the holder drops whatever the older one returns.
type WeatherService struct {
	client client.WeatherClient
	holder *display.Holder
	cfg    Config
	logger *zap.Logger

	baseCtx context.Context
	stop    context.CancelFunc

	mu             sync.Mutex
	closed         bool
	inFlightGen    uint64
	cancelInFlight context.CancelFunc

	wg        sync.WaitGroup
	startOnce sync.Once
}

// NewWeatherService wires client and holder. logger may be nil.
func NewWeatherService(client client.WeatherClient, holder *display.Holder, cfg Config, logger *zap.Logger) *WeatherService {
	if logger == nil {
		logger = zap.NewNop()
	}
	baseCtx, stop := context.WithCancel(context.Background())
	s := &WeatherService{
		client:  client,
		holder:  holder,
		cfg:     cfg,
		logger:  logger,
		baseCtx: baseCtx,
		stop:    stop,
	}
	holder.OnChange(func(st display.State) {
		observability.DisplayTransitionsTotal.WithLabelValues(st.Phase.String()).Inc()
	})
	return s
}

// State returns the current display state.
func (s *WeatherService) State() display.State {
	return s.holder.State()
}

// Start issues the startup fetch for the default city. Only the first call does anything.
func (s *WeatherService) Start(ctx context.Context) (display.Ticket, bool, error) {
	var (
		ticket display.Ticket
		ok     bool
		err    error
	)
	s.startOnce.Do(func() {
		if validation.IsBlank(s.cfg.DefaultCity) {
			s.logger.Info("no default city configured, skipping startup fetch")
			return
		}
		ticket, ok, err = s.Submit(ctx, s.cfg.DefaultCity)
		if ok {
			s.logger.Info("startup fetch issued", zap.String("city", ticket.City))
		}
	})
	return ticket, ok, err
}

// Submit validates city and, when accepted, moves the display to Loading and starts the fetch.
// Blank input returns ok=false with a nil error and changes nothing. Invalid input returns
// a validation error and changes nothing. The fetch outlives ctx's cancellation but keeps its values.
func (s *WeatherService) Submit(ctx context.Context, city string) (display.Ticket, bool, error) {
	cleaned, err := s.cfg.Rules.Validate(city)
	if errors.Is(err, validation.ErrCityEmpty) {
		return display.Ticket{}, false, nil
	}
	if err != nil {
		return display.Ticket{}, false, fmt.Errorf("submit %q: %w", city, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return display.Ticket{}, false, ErrClosed
	}
	ticket, ok := s.holder.Submit(cleaned)
	if !ok {
		s.mu.Unlock()
		return display.Ticket{}, false, nil
	}
	if s.cancelInFlight != nil {
		s.cancelInFlight()
	}
	fetchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stopAfter := context.AfterFunc(s.baseCtx, cancel)
	s.inFlightGen = ticket.Generation
	s.cancelInFlight = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	observability.RecordSearch(cleaned)
	go func() {
		defer s.wg.Done()
		defer stopAfter()
		defer cancel()
		s.fetch(fetchCtx, ticket)
	}()
	return ticket, true, nil
}

func (s *WeatherService) fetch(ctx context.Context, ticket display.Ticket) {
	defer s.clearInFlight(ticket.Generation)

	logger := s.loggerFor(ctx).With(zap.String("city", ticket.City), zap.Uint64("generation", ticket.Generation))
	start := time.Now()

	snap, err := s.client.GetCurrentWeather(ctx, ticket.City)
	if err != nil {
		recordFailure(err)
		if !s.holder.Reject(ticket, client.UserMessage(err)) {
			observability.StaleResultsDiscardedTotal.Inc()
			logger.Debug("discarded superseded fetch failure", zap.Error(err))
			return
		}
		logger.Warn("weather fetch failed",
			zap.Error(err),
			zap.String("category", string(client.CategorizeError(err))),
			zap.Duration("duration", time.Since(start)))
		return
	}

	traffic.Record(traffic.Success)
	if !s.holder.Resolve(ticket, snap) {
		observability.StaleResultsDiscardedTotal.Inc()
		logger.Debug("discarded superseded fetch result")
		return
	}
	logger.Debug("weather displayed",
		zap.Float64("temperature_celsius", snap.TemperatureCelsius),
		zap.Duration("duration", time.Since(start)))
}

// Lookup fetches city synchronously without touching the display state.
func (s *WeatherService) Lookup(ctx context.Context, city string) (models.Snapshot, error) {
	cleaned, err := s.cfg.Rules.Validate(city)
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("lookup %q: %w", city, err)
	}
	observability.RecordSearch(cleaned)

	snap, err := s.client.GetCurrentWeather(ctx, cleaned)
	if err != nil {
		recordFailure(err)
		return models.Snapshot{}, fmt.Errorf("lookup %s: %w", cleaned, err)
	}
	traffic.Record(traffic.Success)
	return snap, nil
}

// Wait blocks until every background fetch has finished.
func (s *WeatherService) Wait() {
	s.wg.Wait()
}

// Close rejects new searches, cancels running fetches and waits for them until ctx is done.
func (s *WeatherService) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for background fetches: %w", ctx.Err())
	}
}

func (s *WeatherService) clearInFlight(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlightGen == gen {
		s.cancelInFlight = nil
	}
}

func (s *WeatherService) loggerFor(ctx context.Context) *zap.Logger {
	if l := observability.LoggerFromContext(ctx); l != nil {
		return l
	}
	return s.logger
}

// recordFailure feeds metrics and, for provider-side failures, the degraded-health window.
func recordFailure(err error) {
	observability.WeatherAPIErrorsTotal.WithLabelValues(string(client.CategorizeError(err))).Inc()
	if client.CountsAgainstProvider(err) {
		traffic.Record(traffic.Failure)
	}
}
