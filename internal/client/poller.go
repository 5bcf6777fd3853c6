// Package client implements the dashboard's polling client: a two-state
// machine that gates on backend health before polling the fleet view.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/syncboard/internal/health"
)

// State is the client lifecycle state.
type State int

// Client states. Booting also covers the diagnostic error sub-state.
const (
	StateBooting State = iota
	StateReady
)

func (s State) String() string {
	switch s {
	case StateBooting:
		return "BOOTING"
	case StateReady:
		return "READY"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

const (
	defaultPollInterval      = 2500 * time.Millisecond
	defaultBootRetryInterval = 10 * time.Second
	defaultRequestTimeout    = 10 * time.Second
)

// Fetcher reads the backend.
type Fetcher interface {
	Health(ctx context.Context) health.Snapshot
	ViewModel(ctx context.Context) (ViewModel, error)
}

// Renderer draws the current view.
type Renderer interface {
	Render(view View) error
}

// View is what the renderer shows. Model is the last successful view model
// and is only rendered in StateReady.
type View struct {
	State    State
	Health   health.Snapshot
	Model    ViewModel
	Error    string
	InFlight bool
	// Updated is the time of the last applied response.
	Updated time.Time
}

// Config wires the Poller.
type Config struct {
	Fetcher  Fetcher
	Renderer Renderer
	Logger   *zap.Logger
	// PollInterval is the steady-state refresh period.
	PollInterval time.Duration
	// BootRetryInterval is the automatic health re-check period while
	// booting. A negative value disables automatic re-checks.
	BootRetryInterval time.Duration
	// RequestTimeout bounds one health-gated sequence or one refresh.
	RequestTimeout time.Duration
}

type result struct {
	token   uint64
	booting bool
	health  health.Snapshot
	model   ViewModel
	err     error
}

// Poller drives the Booting → Ready state machine. All state transitions
// happen on the goroutine running Run; one request is in flight at most, and
// a response whose token is not the latest is discarded.
type Poller struct {
	fetcher   Fetcher
	renderer  Renderer
	logger    *zap.Logger
	poll      time.Duration
	bootRetry time.Duration
	timeout   time.Duration

	retry chan struct{}

	mu   sync.RWMutex
	view View

	token    uint64
	inFlight bool
}

// NewPoller validates cfg and applies defaults.
func NewPoller(cfg Config) (*Poller, error) {
	if cfg.Fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	p := &Poller{
		fetcher:   cfg.Fetcher,
		renderer:  cfg.Renderer,
		logger:    cfg.Logger,
		poll:      cfg.PollInterval,
		bootRetry: cfg.BootRetryInterval,
		timeout:   cfg.RequestTimeout,
		retry:     make(chan struct{}, 1),
		view:      View{State: StateBooting},
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	if p.poll <= 0 {
		p.poll = defaultPollInterval
	}
	if p.bootRetry == 0 {
		p.bootRetry = defaultBootRetryInterval
	}
	if p.timeout <= 0 {
		p.timeout = defaultRequestTimeout
	}
	return p, nil
}

// View returns a copy of the current view.
func (p *Poller) View() View {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.view
}

// Retry requests an immediate health check. It only has an effect while
// booting with no request in flight.
func (p *Poller) Retry() {
	select {
	case p.retry <- struct{}{}:
	default:
	}
}

// Run drives the machine until ctx is canceled. A request in flight at that
// point is left to finish, but its result is discarded.
func (p *Poller) Run(ctx context.Context) error {
	results := make(chan result)
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	p.start(ctx, results)
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("polling stopped: %w", ctx.Err())
		case <-timer.C:
			if !p.inFlight {
				p.start(ctx, results)
			}
		case <-p.retry:
			if p.inFlight || p.View().State != StateBooting {
				p.logger.Debug("retry ignored")
				continue
			}
			timer.Stop()
			p.start(ctx, results)
		case res := <-results:
			if res.token != p.token {
				p.logger.Debug("discarding superseded response", zap.Uint64("token", res.token))
				continue
			}
			p.inFlight = false
			next, immediate := p.apply(res)
			switch {
			case immediate:
				p.start(ctx, results)
			case next > 0:
				timer.Reset(next)
			}
		}
	}
}

// start launches the request for the current state under a new token.
func (p *Poller) start(ctx context.Context, results chan<- result) {
	p.token++
	p.inFlight = true
	token := p.token
	p.mu.Lock()
	booting := p.view.State == StateBooting
	p.view.InFlight = true
	p.mu.Unlock()

	// The request outlives ctx so that cancellation only discards it.
	reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	go func() {
		defer cancel()
		res := result{token: token, booting: booting}
		if booting {
			res.health = p.fetcher.Health(reqCtx)
			if !res.health.Ready() {
				res.err = errNotReady(res.health)
			}
		}
		if res.err == nil {
			res.model, res.err = p.fetcher.ViewModel(reqCtx)
		}
		select {
		case results <- res:
		case <-ctx.Done():
		}
	}()
}

// apply folds a response into the view and returns the delay until the next
// request, or immediate when it must start right away. A zero delay without
// immediate leaves the timer unarmed.
func (p *Poller) apply(res result) (next time.Duration, immediate bool) {
	now := time.Now()
	switch {
	case res.booting && res.err != nil:
		p.update(func(v *View) {
			v.State = StateBooting
			v.Health = res.health
			v.Error = res.err.Error()
			v.InFlight = false
			v.Updated = now
		})
		p.logger.Info("backend not ready", zap.String("error", res.err.Error()))
		return max(p.bootRetry, 0), false
	case res.booting:
		p.update(func(v *View) {
			v.State = StateReady
			v.Health = res.health
			v.Model = res.model
			v.Error = ""
			v.InFlight = false
			v.Updated = now
		})
		p.logger.Info("backend ready")
		return p.poll, false
	case res.err != nil:
		p.update(func(v *View) {
			v.State = StateBooting
			v.Error = res.err.Error()
			v.InFlight = false
			v.Updated = now
		})
		p.logger.Warn("refresh failed, re-checking health", zap.Error(res.err))
		return 0, true
	default:
		p.update(func(v *View) {
			v.Model = res.model
			v.Error = ""
			v.InFlight = false
			v.Updated = now
		})
		return p.poll, false
	}
}

func (p *Poller) update(fn func(v *View)) {
	p.mu.Lock()
	fn(&p.view)
	view := p.view
	p.mu.Unlock()

	if p.renderer == nil {
		return
	}
	if err := p.renderer.Render(view); err != nil {
		p.logger.Warn("render failed", zap.Error(err))
	}
}

// ErrNotReady is wrapped when the health snapshot does not allow polling.
var ErrNotReady = errors.New("backend not ready")

func errNotReady(snap health.Snapshot) error {
	if snap.Error != "" {
		return fmt.Errorf("%w: %s", ErrNotReady, snap.Error)
	}
	return fmt.Errorf("%w: db %s", ErrNotReady, snap.DB)
}
