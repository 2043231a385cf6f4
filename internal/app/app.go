// Package app provides the capture client loop: read a frame, ask a verdict
// service about it, act on the answer, wait, repeat.
package app

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ayusman/shutter/internal/capture"
	"github.com/ayusman/shutter/internal/client"
	"github.com/ayusman/shutter/internal/hook"
	"github.com/ayusman/shutter/internal/logging"
	"github.com/ayusman/shutter/internal/store"
)

// DefaultInterval is the pause between iterations.
const DefaultInterval = 300 * time.Millisecond

// Verdicter returns the verdict for one encoded frame.
type Verdicter interface {
	Detect(ctx context.Context, frame []byte) (client.Result, error)
}

// Config holds configuration options for the application.
type Config struct {
	Camera  capture.Camera
	Service Verdicter
	Logger  logrus.FieldLogger

	// Interval is applied after every iteration regardless of latency.
	Interval time.Duration

	// Album names the album positive frames are saved into. Saving is off
	// when Album is empty or Store is nil.
	Album   string
	Store   *store.Store
	DataDir string

	// Hooks, when set, are run for every verdict they subscribe to.
	Hooks        *hook.Manager
	HookExecutor *hook.Executor
}

// Stats counts what the loop has done so far.
type Stats struct {
	Frames    int
	Positives int
	Negatives int
	Failures  int
	Saved     int
	HookRuns  int
}

// App is the capture client.
type App struct {
	config Config
	log    logrus.FieldLogger

	mu    sync.Mutex
	stats Stats
}

// New creates a new App instance with the given configuration.
func New(config Config) *App {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.Logger == nil {
		config.Logger = logging.Discard()
	}
	if config.Hooks != nil && config.HookExecutor == nil {
		config.HookExecutor = hook.NewExecutor(5 * time.Second)
	}

	return &App{
		config: config,
		log:    config.Logger,
	}
}

// Stats returns a snapshot of the loop counters.
func (a *App) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

func (a *App) count(f func(*Stats)) {
	a.mu.Lock()
	f(&a.stats)
	a.mu.Unlock()
}

// savingEnabled reports whether positive frames are written to an album.
func (a *App) savingEnabled() bool {
	return a.config.Album != "" && a.config.Store != nil
}
