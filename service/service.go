// Package service wires the pulse model, the sampler, persistence, recipes
// and telemetry into the operations exposed by the command line.
package service

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/timzifer/pulsed/config"
	"github.com/timzifer/pulsed/hardware"
	"github.com/timzifer/pulsed/recipe"
	"github.com/timzifer/pulsed/store"
	"github.com/timzifer/pulsed/telemetry"
)

// Option customises a Service.
type Option func(*settings) error

type settings struct {
	store     store.Store
	telemetry telemetry.Collector
	now       func() time.Time
}

// WithStore injects a store instead of opening the configured one. The
// service does not close injected stores.
func WithStore(st store.Store) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		if st == nil {
			return errors.New("store must not be nil")
		}
		cfg.store = st
		return nil
	}
}

// WithTelemetry injects a collector overriding the configuration-based one.
func WithTelemetry(collector telemetry.Collector) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		if collector == nil {
			collector = telemetry.Noop()
		}
		cfg.telemetry = collector
		return nil
	}
}

// WithClock replaces time.Now for sampling timestamps.
func WithClock(now func() time.Time) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		if now != nil {
			cfg.now = now
		}
		return nil
	}
}

// Service owns the store and the loaded recipes.
type Service struct {
	cfg       *config.Config
	logger    zerolog.Logger
	telemetry telemetry.Collector
	store     store.Store
	hardware  *hardware.Descriptor
	closer    func() error
	now       func() time.Time
	workers   int

	mu       sync.RWMutex
	recipes  map[string]*recipe.Recipe
	imported map[string]map[string]float64
}

// New builds a service from cfg. Recipes are not loaded until LoadRecipes.
func New(cfg *config.Config, logger zerolog.Logger, opts ...Option) (*Service, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	st := &settings{now: time.Now}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.telemetry == nil {
		collector, err := NewTelemetryCollector(cfg.Telemetry)
		if err != nil {
			return nil, err
		}
		st.telemetry = collector
	}

	s := &Service{
		cfg:       cfg,
		logger:    logger.With().Str("component", "service").Logger(),
		telemetry: st.telemetry,
		hardware:  cfg.Hardware,
		now:       st.now,
		workers:   cfg.Sampling.Workers,
		recipes:   make(map[string]*recipe.Recipe),
		imported:  make(map[string]map[string]float64),
		closer:    func() error { return nil },
	}
	if s.workers <= 0 {
		s.workers = runtime.NumCPU()
	}

	if st.store != nil {
		s.store = st.store
	} else {
		switch cfg.Store.Driver {
		case "", config.StoreMemory:
			s.store = store.NewMemory()
		case config.StoreSQLite:
			db, err := store.OpenSQLite(cfg.StorePath())
			if err != nil {
				return nil, err
			}
			s.store = db
			s.closer = db.Close
			s.logger.Info().Str("path", db.Path()).Msg("opened sqlite store")
		default:
			return nil, fmt.Errorf("store: unknown driver %q", cfg.Store.Driver)
		}
	}
	return s, nil
}

// NewTelemetryCollector builds the collector selected by cfg.
func NewTelemetryCollector(cfg config.TelemetryConfig) (telemetry.Collector, error) {
	if !cfg.Enabled {
		return telemetry.Noop(), nil
	}
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	switch provider {
	case "", "prometheus":
		collector, err := telemetry.NewPrometheusCollector(nil)
		if err != nil {
			return nil, err
		}
		return collector, nil
	default:
		return telemetry.Noop(), fmt.Errorf("unsupported telemetry provider %q", cfg.Provider)
	}
}

// Store exposes the underlying store for editing operations.
func (s *Service) Store() store.Store { return s.store }

// Hardware returns the configured hardware descriptor, or nil.
func (s *Service) Hardware() *hardware.Descriptor { return s.hardware }

// Config returns the configuration the service was built with.
func (s *Service) Config() *config.Config { return s.cfg }

// Close releases the store if the service opened it.
func (s *Service) Close() error {
	if s == nil || s.closer == nil {
		return nil
	}
	return s.closer()
}
