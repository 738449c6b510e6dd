// Package polling is the Polling Engine (C9): one goroutine per device,
// each on its own ticker, periodically reading that device's tracked
// attributes, comparing them against the registry's last known values, and
// notifying on change. It cooperates with the Command Gateway so that no
// poll is ever in flight while a command is being dispatched to the same
// device (invariant I4).
package polling

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bdobrica/matterbridge/internal/matterbridge/registry"
	"github.com/bdobrica/matterbridge/internal/matterbridge/types"
)

// Config controls the engine's cadence and failure tolerance. Field names
// and defaults mirror the environment variables in spec §6.
type Config struct {
	PollingInterval       time.Duration // default 5s
	MaxConcurrentDevices  int           // default 5
	DeviceErrorStop       bool          // disable a device's polling after too many errors
	MaxErrorsBeforeStop   int           // default 5
	AutoDiscoveryInterval time.Duration // default 300s
}

// Reader issues read commands for a device without going through the
// Command Gateway (which would try to pause the very poll calling it). The
// Engine owns its own executor access for this reason.
type Reader interface {
	// ReadAttributes round-robins poll_single over every (cluster,attribute)
	// the Registry tracks for (node,endpoint), per the per-device loop in
	// §4.8.
	ReadAttributes(ctx context.Context, node types.NodeID, endpoint types.Endpoint) ([]types.Attribute, error)
	// ReadAttribute issues a single poll_single read outside the regular
	// sweep, for callers (the Command Gateway's on/off follow-up) that need
	// one attribute refreshed immediately.
	ReadAttribute(ctx context.Context, node types.NodeID, endpoint types.Endpoint, cluster, attribute string) (types.Attribute, error)
}

// NotifyFunc is called whenever a polled attribute's value changes.
type NotifyFunc func(d types.Device, changed []types.Attribute)

// Engine runs the per-device polling loops.
type Engine struct {
	cfg    Config
	reg    *registry.Registry
	reader Reader
	notify NotifyFunc

	mu                sync.Mutex
	deviceLocks       map[types.DeviceKey]*sync.Mutex
	pollingEnabled    map[types.DeviceKey]bool
	pausedForCommand  map[types.DeviceKey]bool
	errorCounts       map[types.DeviceKey]int
	stopPerDevice     map[types.DeviceKey]context.CancelFunc
	sem               chan struct{}
	running           bool
}

// New returns an Engine that reads attributes via reader and records/reads
// state through reg.
func New(cfg Config, reg *registry.Registry, reader Reader, notify NotifyFunc) *Engine {
	if cfg.PollingInterval <= 0 {
		cfg.PollingInterval = 5 * time.Second
	}
	if cfg.MaxConcurrentDevices <= 0 {
		cfg.MaxConcurrentDevices = 5
	}
	if cfg.MaxErrorsBeforeStop <= 0 {
		cfg.MaxErrorsBeforeStop = 5
	}
	if cfg.AutoDiscoveryInterval <= 0 {
		cfg.AutoDiscoveryInterval = 300 * time.Second
	}
	return &Engine{
		cfg:              cfg,
		reg:              reg,
		reader:           reader,
		notify:           notify,
		deviceLocks:      make(map[types.DeviceKey]*sync.Mutex),
		pollingEnabled:   make(map[types.DeviceKey]bool),
		pausedForCommand: make(map[types.DeviceKey]bool),
		errorCounts:      make(map[types.DeviceKey]int),
		stopPerDevice:    make(map[types.DeviceKey]context.CancelFunc),
		sem:              make(chan struct{}, cfg.MaxConcurrentDevices),
	}
}

// Run starts the auto-discovery sweep and blocks until ctx is cancelled.
// Each discovered device gets its own polling goroutine, started when the
// device first appears in the registry and run until ctx is cancelled;
// removing a device from the registry does not stop its goroutine.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	e.running = true
	e.mu.Unlock()

	if err := e.discover(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(e.cfg.AutoDiscoveryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.stopAll()
			return ctx.Err()
		case <-ticker.C:
			if err := e.discover(ctx); err != nil {
				slog.Warn("polling: auto-discovery sweep failed", "err", err)
			}
		}
	}
}

// discover lists the registry's devices and starts a polling goroutine for
// any that don't already have one.
func (e *Engine) discover(ctx context.Context) error {
	devices, err := e.reg.ListDevices(ctx)
	if err != nil {
		return err
	}
	for _, d := range devices {
		key := d.Key()
		e.mu.Lock()
		_, started := e.stopPerDevice[key]
		var devCtx context.Context
		if !started {
			e.deviceLocks[key] = &sync.Mutex{}
			e.pollingEnabled[key] = true
			var cancel context.CancelFunc
			devCtx, cancel = context.WithCancel(ctx)
			e.stopPerDevice[key] = cancel
		}
		e.mu.Unlock()
		if !started {
			go e.pollLoop(devCtx, d)
		}
	}
	return nil
}

func (e *Engine) stopAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, cancel := range e.stopPerDevice {
		cancel()
	}
	e.running = false
}

func (e *Engine) pollLoop(ctx context.Context, d types.Device) {
	ticker := time.NewTicker(e.cfg.PollingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.pollOnce(ctx, d)
		}
	}
}

// pollOnce runs one sweep of device d's attributes, checking
// pausedForCommand both before acquiring the concurrency semaphore and
// again immediately before issuing the read, so a command that arrives
// between those two checks still wins (I4).
func (e *Engine) pollOnce(ctx context.Context, d types.Device) {
	key := d.Key()
	if !e.isEnabled(key) || e.isPaused(key) {
		return
	}

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer func() { <-e.sem }()

	lock := e.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	if e.isPaused(key) {
		return
	}

	attrs, err := e.reader.ReadAttributes(ctx, d.NodeID, d.Endpoint)
	if err != nil {
		e.recordError(key, d)
		return
	}
	e.resetErrors(key)

	known := map[string]string{}
	if tracked, err := e.reg.ListAttributes(ctx, d.NodeID, d.Endpoint); err == nil {
		for _, t := range tracked {
			known[t.Key()] = t.Value
		}
	}

	var changed []types.Attribute
	for _, a := range attrs {
		old, seen := known[a.Key()]
		if err := e.reg.UpsertAttribute(ctx, a); err != nil {
			slog.Warn("polling: failed to record attribute", "device", key, "attribute", a.Attribute, "err", err)
			continue
		}
		if !seen || old != a.Value {
			changed = append(changed, a)
		}
	}
	if len(changed) > 0 && e.notify != nil {
		e.notify(d, changed)
	}
}

func (e *Engine) recordError(key types.DeviceKey, d types.Device) {
	e.mu.Lock()
	e.errorCounts[key]++
	count := e.errorCounts[key]
	e.mu.Unlock()

	if e.cfg.DeviceErrorStop && count >= e.cfg.MaxErrorsBeforeStop {
		e.mu.Lock()
		e.pollingEnabled[key] = false
		e.mu.Unlock()
		slog.Warn("polling: disabling device after repeated errors", "device", key, "errors", count)
	}
}

func (e *Engine) resetErrors(key types.DeviceKey) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errorCounts[key] = 0
}

func (e *Engine) isEnabled(key types.DeviceKey) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	enabled, ok := e.pollingEnabled[key]
	return !ok || enabled
}

func (e *Engine) isPaused(key types.DeviceKey) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pausedForCommand[key]
}

func (e *Engine) lockFor(key types.DeviceKey) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	if l, ok := e.deviceLocks[key]; ok {
		return l
	}
	l := &sync.Mutex{}
	e.deviceLocks[key] = l
	return l
}

// PauseDevice implements gateway.PollPauser: it marks a device as paused so
// any concurrent or subsequent poll sweep for it is skipped until resumed,
// and waits for a sweep already holding the device lock to finish.
func (e *Engine) PauseDevice(key types.DeviceKey) {
	e.mu.Lock()
	e.pausedForCommand[key] = true
	e.mu.Unlock()

	l := e.lockFor(key)
	l.Lock()
	l.Unlock()
}

// ResumeDevice implements gateway.PollPauser.
func (e *Engine) ResumeDevice(key types.DeviceKey) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.pausedForCommand, key)
}

// EnableDevice re-enables polling for a device previously disabled by
// DeviceErrorStop, resetting its error count.
func (e *Engine) EnableDevice(key types.DeviceKey) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pollingEnabled[key] = true
	e.errorCounts[key] = 0
}

// PollAttributeNow reads one (cluster,attribute) pair immediately, records
// it, and notifies on change - bypassing the regular per-device cadence.
// This is the Command Gateway's hook (gateway.AttributePoller) for the
// on/off follow-up poll in §4.5 step 5: a write's effect must land in the
// cache without waiting for the next sweep.
func (e *Engine) PollAttributeNow(ctx context.Context, node types.NodeID, endpoint types.Endpoint, cluster, attribute string) error {
	a, err := e.reader.ReadAttribute(ctx, node, endpoint, cluster, attribute)
	if err != nil {
		return err
	}

	old, seen := "", false
	if tracked, err := e.reg.ListAttributes(ctx, node, endpoint); err == nil {
		for _, t := range tracked {
			if t.Key() == a.Key() {
				old, seen = t.Value, true
			}
		}
	}
	if err := e.reg.UpsertAttribute(ctx, a); err != nil {
		return err
	}
	if seen && old == a.Value {
		return nil
	}
	if e.notify == nil {
		return nil
	}
	d, err := e.reg.GetDevice(ctx, node, endpoint)
	if err != nil {
		return nil
	}
	e.notify(d, []types.Attribute{a})
	return nil
}
