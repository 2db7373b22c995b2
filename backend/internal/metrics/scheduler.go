package metrics

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/TonyStef/Dimini/backend/internal/graph"
	apperrors "github.com/TonyStef/Dimini/backend/pkg/errors"
	"github.com/TonyStef/Dimini/backend/pkg/logger"
	"github.com/TonyStef/Dimini/backend/pkg/retry"
)

// RunState tracks whether a session's pagerank loop has completed its first
// full convergence. The first successful run is COLD (full iterations, no
// seed); every run after that is WARM (few iterations, seeded from stored
// scores).
type RunState string

const (
	RunStateCold RunState = "COLD"
	RunStateWarm RunState = "WARM"
)

// PageRank iteration budgets per run state
const (
	coldIterations = 20
	warmIterations = 5
)

// Tier names used in logs and tick errors
const (
	tierPageRank    = "tier2_pagerank"
	tierBetweenness = "tier3_betweenness"
)

// Store is the metric recompute surface the scheduler drives
type Store interface {
	UpdatePageRank(ctx context.Context, sessionID string, opts graph.PageRankOptions) (int64, error)
	UpdateBetweenness(ctx context.Context, sessionID string) (int64, error)
}

// Options configure tick intervals and retry budgets. Zero values fall back
// to production defaults; tests shrink them.
type Options struct {
	PageRankInterval       time.Duration
	BetweennessInterval    time.Duration
	PageRankRetryDelays    []time.Duration
	BetweennessRetryDelays []time.Duration
}

func (o Options) withDefaults() Options {
	if o.PageRankInterval <= 0 {
		o.PageRankInterval = 10 * time.Second
	}
	if o.BetweennessInterval <= 0 {
		o.BetweennessInterval = 60 * time.Second
	}
	if o.PageRankRetryDelays == nil {
		o.PageRankRetryDelays = retry.Exponential(time.Second, 3) // 1s, 2s, 4s
	}
	if o.BetweennessRetryDelays == nil {
		o.BetweennessRetryDelays = retry.Linear(5*time.Second, 3) // 5s, 10s, 15s
	}
	return o
}

// sessionLoops holds the handles for one session's background loops
type sessionLoops struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Scheduler runs the per-session background metric loops: Tier-2 pagerank on
// a short interval and Tier-3 betweenness on a longer one. Each session gets
// its own registered pair of loops; stopping one session never touches
// another's. A tick that exhausts its retry budget is logged and dropped, so
// a flaky graph store degrades metric freshness instead of killing the loop.
type Scheduler struct {
	store  Store
	opts   Options
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[string]*sessionLoops
}

// NewScheduler creates a metrics scheduler
func NewScheduler(store Store, opts Options) *Scheduler {
	return &Scheduler{
		store:    store,
		opts:     opts.withDefaults(),
		logger:   logger.Get(),
		sessions: make(map[string]*sessionLoops),
	}
}

// Start launches the background loops for a session. Calling Start for a
// session that is already running is a no-op; it never spawns a second pair
// of loops.
func (s *Scheduler) Start(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; ok {
		s.logger.Debug("Scheduler already running for session",
			zap.String("session_id", sessionID),
		)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	loops := &sessionLoops{cancel: cancel}
	loops.wg.Add(2)
	go s.runPageRankLoop(ctx, sessionID, &loops.wg)
	go s.runBetweennessLoop(ctx, sessionID, &loops.wg)
	s.sessions[sessionID] = loops

	s.logger.Info("Metrics scheduler started",
		zap.String("session_id", sessionID),
		zap.Duration("pagerank_interval", s.opts.PageRankInterval),
		zap.Duration("betweenness_interval", s.opts.BetweennessInterval),
	)
}

// Stop cancels a session's loops and waits for them to exit. Stopping a
// session that is not running is a no-op. Any in-flight tick is cancelled
// through its context, so stop latency is bounded by one tick.
func (s *Scheduler) Stop(sessionID string) {
	s.mu.Lock()
	loops, ok := s.sessions[sessionID]
	if ok {
		delete(s.sessions, sessionID)
	}
	s.mu.Unlock()

	if !ok {
		return
	}

	loops.cancel()
	loops.wg.Wait()
	s.logger.Info("Metrics scheduler stopped",
		zap.String("session_id", sessionID),
	)
}

// StopAll stops every running session's loops. Shutdown path.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.sessions))
	for sessionID := range s.sessions {
		ids = append(ids, sessionID)
	}
	s.mu.Unlock()

	for _, sessionID := range ids {
		s.Stop(sessionID)
	}
}

// IsRunning reports whether a session has registered loops
func (s *Scheduler) IsRunning(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[sessionID]
	return ok
}

// runPageRankLoop is the Tier-2 loop: recompute pagerank every tick. The
// first successful run is cold (full convergence); subsequent runs warm-start
// from stored scores. A failed cold run leaves the state COLD, so the next
// tick pays full convergence again rather than seeding from garbage.
//
// The cold run fires at Start, before the first interval wait. A fresh
// session would otherwise sit on seed scores for a whole tick and the
// pagerank ordering of its entities would be meaningless.
func (s *Scheduler) runPageRankLoop(ctx context.Context, sessionID string, wg *sync.WaitGroup) {
	defer wg.Done()
	ticker := time.NewTicker(s.opts.PageRankInterval)
	defer ticker.Stop()

	state := RunStateCold
	for {
		opts := graph.PageRankOptions{MaxIterations: coldIterations}
		if state == RunStateWarm {
			opts = graph.PageRankOptions{MaxIterations: warmIterations, Seeded: true}
		}

		err := s.tick(ctx, sessionID, tierPageRank, s.opts.PageRankRetryDelays, func(ctx context.Context) error {
			_, tickErr := s.store.UpdatePageRank(ctx, sessionID, opts)
			return tickErr
		})
		if err == nil && state == RunStateCold {
			state = RunStateWarm
			s.logger.Info("PageRank warmed up",
				zap.String("session_id", sessionID),
			)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// runBetweennessLoop is the Tier-3 loop: recompute betweenness centrality
// every tick. No warm start; the algorithm does not support seeding.
func (s *Scheduler) runBetweennessLoop(ctx context.Context, sessionID string, wg *sync.WaitGroup) {
	defer wg.Done()
	ticker := time.NewTicker(s.opts.BetweennessInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.tick(ctx, sessionID, tierBetweenness, s.opts.BetweennessRetryDelays, func(ctx context.Context) error {
				_, tickErr := s.store.UpdateBetweenness(ctx, sessionID)
				return tickErr
			}); err != nil && ctx.Err() != nil {
				return
			}
		}
	}
}

// tick runs one metric recompute under the tier's retry budget. Exhaustion is
// logged and swallowed; stale metrics are preferable to a dead loop.
func (s *Scheduler) tick(ctx context.Context, sessionID, tier string, delays []time.Duration, op func(context.Context) error) error {
	attempts := 0
	err := retry.Do(ctx, delays, func(ctx context.Context) error {
		attempts++
		return op(ctx)
	})
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("Metric tick exhausted retries",
				zap.String("session_id", sessionID),
				zap.String("tier", tier),
				zap.Error(apperrors.NewTickFailed(sessionID, tier, attempts, err)),
			)
		}
		return err
	}
	return nil
}
