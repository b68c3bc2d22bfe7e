// Package coordinator polls one Pulse endpoint on a fixed interval,
// normalizes the payload into a Reading and notifies listeners.
//
// Cycles are serialized: a tick that arrives while a cycle is in flight is
// dropped by the ticker, and Refresh callers queue behind the running
// cycle. Readers always see the last successful Reading, even after a
// failed cycle.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nimdanitro/pulse-scraper-go/pkg/pulse"
	"go.uber.org/zap"
)

// Store persists the last good reading across restarts.
type Store interface {
	Save(ctx context.Context, r *Reading) error
	// Load returns nil and no error when nothing is stored.
	Load(ctx context.Context, endpointID string) (*Reading, error)
}

type Coordinator struct {
	api        pulse.Fetcher
	endpointID string
	interval   time.Duration
	log        *zap.Logger
	store      Store
	metrics    *Metrics
	now        func() time.Time

	refreshMu sync.Mutex
	current   atomic.Pointer[Reading]

	mu          sync.Mutex
	listeners   map[uint64]func()
	nextID      uint64
	lastErr     error
	lastSuccess bool
}

type Option func(c *Coordinator) error

func New(api pulse.Fetcher, endpointID string, interval time.Duration, opts ...Option) (*Coordinator, error) {
	if endpointID == "" {
		return nil, errors.New("coordinator: endpoint id is required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("coordinator: interval must be positive, got %s", interval)
	}

	c := &Coordinator{
		api:        api,
		endpointID: endpointID,
		interval:   interval,
		log:        zap.L(),
		now:        time.Now,
		listeners:  make(map[uint64]func()),
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	c.log = c.log.With(zap.String("endpointId", endpointID))
	return c, nil
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) error {
		c.log = l
		return nil
	}
}

func WithStore(s Store) Option {
	return func(c *Coordinator) error {
		c.store = s
		return nil
	}
}

func WithMetrics(m *Metrics) Option {
	return func(c *Coordinator) error {
		c.metrics = m
		return nil
	}
}

func (c *Coordinator) EndpointID() string { return c.endpointID }

func (c *Coordinator) Interval() time.Duration { return c.interval }

// Data returns the current reading, or nil before the first successful
// cycle. Callers must not modify it.
func (c *Coordinator) Data() *Reading {
	return c.current.Load()
}

// LastUpdateSuccess reports whether the most recent cycle succeeded.
func (c *Coordinator) LastUpdateSuccess() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSuccess
}

// LastError returns the error of the most recent cycle, if it failed.
func (c *Coordinator) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// AddListener registers fn to run after every cycle. The returned function
// removes it again.
func (c *Coordinator) AddListener(fn func()) (remove func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

func (c *Coordinator) notify() {
	c.mu.Lock()
	fns := make([]func(), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Refresh runs one fetch cycle and notifies listeners. On failure the
// previous reading is kept and an *UpdateFailedError is returned.
func (c *Coordinator) Refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	start := c.now()
	r, err := c.fetch(ctx)
	c.metrics.observe(c.endpointID, c.now().Sub(start), err)

	c.mu.Lock()
	if err != nil {
		c.lastErr = &UpdateFailedError{EndpointID: c.endpointID, Err: err}
		c.lastSuccess = false
	} else {
		c.current.Store(r)
		c.lastErr = nil
		c.lastSuccess = true
	}
	updateErr := c.lastErr
	c.mu.Unlock()

	if updateErr != nil {
		var authErr *pulse.AuthenticationError
		var apiErr *pulse.APIError
		if errors.As(err, &authErr) || errors.As(err, &apiErr) || errors.Is(err, ErrNoData) {
			c.log.Error("update failed", zap.Error(updateErr))
		} else {
			c.log.Error("unexpected error during update", zap.Error(updateErr), zap.Stack("stack"))
		}
	} else if c.store != nil {
		if err := c.store.Save(ctx, r); err != nil {
			c.log.Warn("cannot persist reading", zap.Error(err))
		}
	}

	c.notify()
	return updateErr
}

// FirstRefresh performs the setup refresh. Authentication failures are
// always returned. Other failures are tolerated when a stored reading can
// stand in until the next cycle.
func (c *Coordinator) FirstRefresh(ctx context.Context) error {
	err := c.Refresh(ctx)
	if err == nil {
		return nil
	}
	if pulse.IsAuthentication(err) {
		return err
	}

	if c.store != nil && c.Data() == nil {
		r, loadErr := c.store.Load(ctx, c.endpointID)
		if loadErr != nil {
			c.log.Warn("cannot load stored reading", zap.Error(loadErr))
		} else if r != nil {
			c.current.Store(r)
			c.notify()
		}
	}

	if c.Data() != nil {
		c.log.Warn("first refresh failed, serving stored reading", zap.Error(err))
		return nil
	}
	return err
}

// Run refreshes on every interval tick until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = c.Refresh(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (c *Coordinator) fetch(ctx context.Context) (*Reading, error) {
	data, err := c.api.SensorData(ctx, c.endpointID)
	if err != nil {
		return nil, fmt.Errorf("fetch sensor data: %w", err)
	}
	latest := data.Latest()
	if latest == nil {
		return nil, ErrNoData
	}
	c.log.Debug("latest data point", zap.Any("dataPoint", latest))

	fields, ts := normalize(latest, c.log)

	details, err := c.api.EndpointDetails(ctx, c.endpointID)
	if err != nil {
		return nil, fmt.Errorf("fetch endpoint details: %w", err)
	}

	room := details.String("roomName")
	if room == "" {
		room = details.String("name")
	}
	if room == "" {
		room = "Endpoint " + c.endpointID
	}
	c.log.Debug("using room name", zap.String("roomName", room))

	return &Reading{
		EndpointID: c.endpointID,
		RoomName:   room,
		Fields:     fields,
		Timestamp:  ts,
		Details:    details,
		FetchedAt:  c.now().UTC(),
	}, nil
}
