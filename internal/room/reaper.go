package room

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/agora/internal/metrics"
	"github.com/eldtechnologies/agora/internal/store"
)

// Reaper defaults.
const (
	DefaultIdentityIdleTimeout = 30 * time.Minute
	DefaultReapSchedule        = "@every 1m"
	reapTimeout                = 10 * time.Second
)

// ReaperOpts configures a Reaper.
type ReaperOpts struct {
	Store       store.IdentityStore
	IdleTimeout time.Duration
	Schedule    string // cron spec, e.g. "@every 1m"
	// OnRemove runs for each reaped identity, e.g. to drop its rate state.
	OnRemove func(name string)
	Now      func() time.Time
	Logger   zerolog.Logger
}

// Reaper removes identities that have been idle longer than the timeout.
type Reaper struct {
	store    store.IdentityStore
	idle     time.Duration
	onRemove func(string)
	now      func() time.Time
	logger   zerolog.Logger
	cron     *cron.Cron
}

// NewReaper validates the schedule and builds a stopped reaper.
func NewReaper(opts ReaperOpts) (*Reaper, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("room: reaper needs an identity store")
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdentityIdleTimeout
	}
	if opts.Schedule == "" {
		opts.Schedule = DefaultReapSchedule
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	r := &Reaper{
		store:    opts.Store,
		idle:     opts.IdleTimeout,
		onRemove: opts.OnRemove,
		now:      opts.Now,
		logger:   opts.Logger,
		cron:     cron.New(),
	}
	if _, err := r.cron.AddFunc(opts.Schedule, r.run); err != nil {
		return nil, fmt.Errorf("room: reaper schedule %q: %w", opts.Schedule, err)
	}
	return r, nil
}

// Start begins running sweeps on the schedule.
func (r *Reaper) Start() {
	r.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish.
func (r *Reaper) Stop() {
	<-r.cron.Stop().Done()
}

func (r *Reaper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), reapTimeout)
	defer cancel()
	if _, err := r.Sweep(ctx); err != nil {
		r.logger.Error().Err(err).Msg("identity sweep failed")
	}
}

// Sweep removes idle identities once and returns how many went.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	removed, err := r.store.DeleteInactive(ctx, r.now().Add(-r.idle))
	if err != nil {
		return 0, fmt.Errorf("room: sweep: %w", err)
	}
	for _, name := range removed {
		if r.onRemove != nil {
			r.onRemove(name)
		}
		r.logger.Info().Str("identity", name).Msg("removed idle identity")
	}
	metrics.MembersReaped.Add(float64(len(removed)))
	return len(removed), nil
}
