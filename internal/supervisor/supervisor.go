// Package supervisor implements the Supervisor (C8): the construction
// graph wiring C1-C7 together, concurrent startup of the historical and
// real-time pipelines, a scheduled graceful restart of the historical
// main worker, and signal-driven shutdown. Grounded on the teacher's
// cmd/engine/main.go wiring sequence (connect store, build hub, start
// hub.Run in its own goroutine, start the background worker, build the
// router, serve) generalized into a reusable, testable Supervisor type
// rather than inline main() statements.
package supervisor

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/rawblock/predmarket-engine/internal/chain"
	"github.com/rawblock/predmarket-engine/internal/config"
	"github.com/rawblock/predmarket-engine/internal/detector"
	"github.com/rawblock/predmarket-engine/internal/fanout"
	"github.com/rawblock/predmarket-engine/internal/historical"
	"github.com/rawblock/predmarket-engine/internal/realtime"
	"github.com/rawblock/predmarket-engine/internal/store"
)

// restartInterval is the periodic restart cadence for the historical main
// worker named in §5's "restart cadence" note.
const restartInterval = 30 * time.Minute

// drainTimeout bounds how long runRestartLoop waits for the historical
// main worker to finish its in-flight epoch cooperatively, per §5's "60s
// drain" step. Only once this window expires does the loop hard-cut the
// worker's context.
const drainTimeout = 60 * time.Second

// restartSettleWait and restartPause are the two fixed pauses in the
// graceful-restart sequence, per §5's "60s drain / 3s settle" wording —
// here scaled to the five-step validation sequence of §4.5.
const (
	restartSettleWait = 3 * time.Second
	restartPause      = 5 * time.Second
)

// detectorCleanupInterval drives the hourly Detector.Cleanup sweep named
// in §4.4.
const detectorCleanupInterval = time.Hour

// Supervisor owns the full construction graph and the lifetime of every
// component started from it.
type Supervisor struct {
	cfg    config.Config
	facade *chain.Facade
	st     *store.Store
	det    *detector.Detector
	hub    *fanout.Hub
	hist   *historical.Pipeline
	live   *realtime.Pipeline
}

// New builds every component per SPEC_FULL.md's §2 system overview table
// and wires them into one Supervisor. It does not start anything.
func New(ctx context.Context, cfg config.Config) (*Supervisor, error) {
	st, err := store.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("supervisor: %w", err)
	}
	if err := st.InitSchema(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("supervisor: init schema: %w", err)
	}

	facade, err := chain.NewFacade(ctx, chain.Config{
		RPCURL:          cfg.RPCURL,
		RPCWSURL:        cfg.RPCWSURL,
		ContractAddress: cfg.ContractAddress,
		RateLimitRPS:    cfg.RateLimitRPS,
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("supervisor: %w", err)
	}

	thresh := detector.DefaultThresholds()
	thresh.MultiClaimThreshold = cfg.MultiClaimThreshold
	det := detector.New(st, thresh)

	hub := fanout.NewHub()

	return &Supervisor{
		cfg:    cfg,
		facade: facade,
		st:     st,
		det:    det,
		hub:    hub,
		hist:   historical.New(facade, st, det),
		live:   realtime.New(facade, st, det, hub),
	}, nil
}

// Close releases every owned resource. Safe to call once, at the end of
// any run mode.
func (s *Supervisor) Close() {
	s.facade.Shutdown()
	s.st.Close()
}

// RunHistory drives the "history" CLI mode: the main backfill worker plus
// its side worker. It returns once both have returned; the side worker
// runs until ctx ends, even after the main worker reaches epoch 0. No
// periodic restart runs in this mode.
func (s *Supervisor) RunHistory(ctx context.Context) error {
	errCh := make(chan error, 2)
	go func() { errCh <- s.hist.RunMain(ctx) }()
	go func() { errCh <- s.hist.RunSide(ctx) }()

	var firstErr error
	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// RunBackfill drives the "backfill fromEpoch toEpoch" on-demand CLI mode
// named in §6: process a closed, inclusive epoch range once, logging each
// failed epoch and printing the success/failure counts to stdout.
func (s *Supervisor) RunBackfill(ctx context.Context, fromEpoch, toEpoch int64) error {
	if fromEpoch > toEpoch {
		fromEpoch, toEpoch = toEpoch, fromEpoch
	}
	var succeeded, failed int
	for epoch := fromEpoch; epoch <= toEpoch && ctx.Err() == nil; epoch++ {
		if err := s.hist.ProcessEpoch(ctx, epoch); err != nil {
			failed++
			log.Printf("[supervisor] backfill epoch %d: %v", epoch, err)
			continue
		}
		succeeded++
	}
	fmt.Printf("backfill %d..%d: %d succeeded, %d failed\n", fromEpoch, toEpoch, succeeded, failed)
	return ctx.Err()
}

// RunRealtime drives the "realtime" CLI mode: the live pipeline, the
// fan-out HTTP server, and the periodically-restarted historical main
// worker running underneath it, per §5's concurrency model — all three
// run until ctx is cancelled.
func (s *Supervisor) RunRealtime(ctx context.Context) error {
	go s.hub.Run()

	srv := &http.Server{Addr: ":" + s.cfg.FanoutPort, Handler: fanout.NewRouter(s.hub)}
	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- fmt.Errorf("supervisor: fan-out server: %w", err)
			return
		}
		serveErr <- nil
	}()

	liveErr := make(chan error, 1)
	go func() { liveErr <- s.live.Run(ctx) }()

	go s.runRestartLoop(ctx)
	go s.runDetectorCleanupLoop(ctx)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		<-serveErr
		return ctx.Err()
	case err := <-serveErr:
		return err
	case err := <-liveErr:
		return err
	}
}

// runRestartLoop restarts the historical main worker every restartInterval,
// per §5's periodic-restart requirement. Each cycle drains the worker,
// waits restartSettleWait, runs validateRestart, waits restartPause, and
// relaunches — each check logs its own outcome and a failed check never
// blocks the restart itself, since a missed validation is recoverable on
// the next cycle.
func (s *Supervisor) runRestartLoop(ctx context.Context) {
	ticker := time.NewTicker(restartInterval)
	defer ticker.Stop()

	cancelMain, mainDone := s.launchMain(ctx)

	for {
		select {
		case <-ctx.Done():
			cancelMain()
			return
		case <-ticker.C:
			log.Printf("[supervisor] restarting historical main worker")
			s.hist.RequestStop()

			select {
			case <-mainDone:
				log.Printf("[supervisor] historical main worker drained cleanly")
			case <-time.After(drainTimeout):
				log.Printf("[supervisor] historical main worker did not drain within %s, hard-cancelling", drainTimeout)
				cancelMain()
				<-mainDone
			}
			cancelMain()

			time.Sleep(restartSettleWait)

			s.validateRestart(ctx)

			time.Sleep(restartPause)
			cancelMain, mainDone = s.launchMain(ctx)
		}
	}
}

// launchMain starts the historical main worker under a fresh cancellable
// context and returns that context's cancel func alongside a channel that
// closes once RunMain actually returns — the signal runRestartLoop waits
// on to know the worker has drained in-flight work rather than being cut
// off mid-epoch, per §5.
func (s *Supervisor) launchMain(ctx context.Context) (context.CancelFunc, <-chan struct{}) {
	mainCtx, cancelMain := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := s.hist.RunMain(mainCtx); err != nil && ctx.Err() == nil {
			log.Printf("[supervisor] historical main worker exited: %v", err)
		}
	}()
	return cancelMain, done
}

// runDetectorCleanupLoop sweeps the Detector's online state hourly, per
// §4.4's bounded-state requirement.
func (s *Supervisor) runDetectorCleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(detectorCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.det.Cleanup(time.Now())
			log.Printf("[supervisor] detector cleanup swept")
		}
	}
}

// validateRestart logs the historical worker's progress, checks that the
// round of the epoch the main worker last reached is committed, and
// reruns the distinct-bet_epoch offline multi-claim scan for that one
// epoch. It does not check the hot table, and it does not look at any
// other epoch of the recent window. Each check is best-effort; a failure
// is logged and the restart proceeds regardless.
func (s *Supervisor) validateRestart(ctx context.Context) {
	progress := s.hist.Progress()
	log.Printf("[supervisor] restart checkpoint: historical worker processed %d epochs, currently at epoch %d", progress.TotalProcessed, progress.CurrentEpoch)

	epoch := progress.CurrentEpoch
	if epoch <= 0 {
		log.Printf("[supervisor] restart validation: no epoch to validate yet")
		return
	}

	exists, err := s.st.RoundExists(ctx, epoch)
	if err != nil {
		log.Printf("[supervisor] restart validation: round lookup failed for epoch %d: %v", epoch, err)
	} else if !exists {
		log.Printf("[supervisor] restart validation: epoch %d not yet committed", epoch)
	}

	findings, err := s.det.OfflineByDistinctBetEpoch(ctx, epoch)
	if err != nil {
		log.Printf("[supervisor] restart validation: offline scan failed for epoch %d: %v", epoch, err)
		return
	}
	if err := s.det.PersistOfflineFindings(ctx, findings); err != nil {
		log.Printf("[supervisor] restart validation: persisting offline findings failed for epoch %d: %v", epoch, err)
	}
}
