// Package scheduler dispatches due feeds through the fetch, parse and merge
// pipeline and applies the interval policy to the outcome
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"panda/fetcher"
	"panda/merge"
	"panda/models"
	"panda/parser"
	"panda/registry"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const DefaultConcurrency = 4

var ErrInFlight = errors.New("feed is already being fetched")

// ParseFunc turns a fetched body into candidate entries
type ParseFunc func(body []byte, contentType string) ([]models.CandidateEntry, error)

type Config struct {
	Concurrency int
	Policy      Policy
}

type Scheduler struct {
	registry *registry.Registry
	fetcher  fetcher.Fetcher
	merger   *merge.Engine
	parse    ParseFunc
	cfg      Config
	now      func() time.Time

	mu       sync.Mutex
	inFlight map[int64]struct{}
}

func New(reg *registry.Registry, f fetcher.Fetcher, merger *merge.Engine, cfg Config) *Scheduler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	cfg.Policy = cfg.Policy.withDefaults()
	return &Scheduler{
		registry: reg,
		fetcher:  f,
		merger:   merger,
		parse:    parser.Parse,
		cfg:      cfg,
		now:      time.Now,
		inFlight: make(map[int64]struct{}),
	}
}

// WithClock replaces the time source, for deterministic schedules
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// WithParser replaces the document parser
func (s *Scheduler) WithParser(parse ParseFunc) *Scheduler {
	s.parse = parse
	return s
}

func (s *Scheduler) claim(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[id]; busy {
		return false
	}
	s.inFlight[id] = struct{}{}
	return true
}

func (s *Scheduler) release(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, id)
}

// InFlight returns the ids of feeds currently being processed
func (s *Scheduler) InFlight() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.inFlight))
	for id := range s.inFlight {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// RunOnce processes every feed due right now and returns when all are done.
// At most Concurrency pipelines run at once, the rest wait their turn with
// their schedule untouched.
func (s *Scheduler) RunOnce(ctx context.Context) (*Report, error) {
	started := s.now()
	due, err := s.registry.DueFeeds(ctx, started)
	if err != nil {
		return nil, fmt.Errorf("load due feeds: %w", err)
	}

	report := &Report{Due: len(due)}
	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)

	for _, feed := range due {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if !s.claim(feed.Id) {
				report.skip()
				return nil
			}
			defer s.release(feed.Id)
			report.add(s.process(ctx, feed))
			return nil
		})
	}
	_ = g.Wait()

	report.Took = time.Since(started)
	cyclesRun.Inc()
	log.WithFields(log.Fields{
		"due":          report.Due,
		"succeeded":    report.Succeeded,
		"not_modified": report.NotModified,
		"failed":       report.Failed,
		"skipped":      report.Skipped,
		"cancelled":    report.Cancelled,
		"inserted":     report.Stats.Inserted,
		"updated":      report.Stats.Updated,
		"took":         report.Took,
	}).Info("Scheduling cycle finished")
	return report, nil
}

// RunForever runs a cycle on every tick until ctx is cancelled. The first
// cycle starts immediately.
func (s *Scheduler) RunForever(ctx context.Context, tick time.Duration) error {
	if tick <= 0 {
		return fmt.Errorf("%w: tick must be positive", models.ErrInvalid)
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	log.WithFields(log.Fields{"tick": tick, "concurrency": s.cfg.Concurrency}).Info("Scheduler started")
	for {
		report, err := s.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			log.Errorf("Scheduling cycle failed: %v", err)
		} else if report != nil {
			if err := report.ErrorOrNil(); err != nil {
				log.Warnf("Scheduling cycle finished with feed errors: %v", err)
			}
		}

		select {
		case <-ctx.Done():
			log.Info("Scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RefreshFeed runs the pipeline for one feed right away, whether or not it is due
func (s *Scheduler) RefreshFeed(ctx context.Context, id int64) (Outcome, error) {
	feed, err := s.registry.Get(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	if !s.claim(feed.Id) {
		return Outcome{}, fmt.Errorf("feed %d: %w", id, ErrInFlight)
	}
	defer s.release(feed.Id)
	return s.process(ctx, *feed), nil
}

func (s *Scheduler) process(ctx context.Context, feed models.Feed) (outcome Outcome) {
	fetchesInFlight.Inc()
	timer := time.Now()
	defer func() {
		fetchesInFlight.Dec()
		fetchDuration.Observe(time.Since(timer).Seconds())
		observeStats(outcome)
	}()

	outcome = Outcome{FeedID: feed.Id, Url: feed.Url}
	attemptedAt := s.now()
	logger := log.WithFields(log.Fields{"feed_id": feed.Id, "url": feed.Url})

	result := s.fetcher.Fetch(ctx, feed)
	if ctx.Err() != nil {
		return s.cancelled(outcome, logger)
	}

	switch result.Status {
	case models.FetchNotModified:
		outcome.Result = ResultNotModified
		return s.succeed(ctx, feed, outcome, attemptedAt, validators(feed, result, false), logger)

	case models.FetchSuccess:
		entries, err := s.parse(result.Body, result.ContentType)
		if err != nil {
			return s.fail(ctx, feed, outcome, attemptedAt, err, logger)
		}
		stats, err := s.merger.MergeAll(ctx, feed, entries)
		outcome.Stats = stats
		if ctx.Err() != nil {
			return s.cancelled(outcome, logger)
		}
		if err != nil {
			// Validators are not stored so the next attempt gets the full document again
			return s.fail(ctx, feed, outcome, attemptedAt, err, logger)
		}
		outcome.Result = ResultSuccess
		return s.succeed(ctx, feed, outcome, attemptedAt, validators(feed, result, true), logger)
	}

	cause := result.Err
	if cause == nil {
		cause = fmt.Errorf("fetch returned %s", result.Status)
	}
	return s.fail(ctx, feed, outcome, attemptedAt, cause, logger)
}

// validators picks the conditional headers to store. A 304 without headers
// keeps the ones we already have.
func validators(feed models.Feed, result models.FetchResult, full bool) *registry.Validators {
	v := &registry.Validators{ETag: result.NewETag, LastModified: result.NewLastModified}
	if !full {
		if v.ETag == "" {
			v.ETag = feed.ETag
		}
		if v.LastModified == "" {
			v.LastModified = feed.LastModified
		}
	}
	return v
}

func (s *Scheduler) succeed(ctx context.Context, feed models.Feed, outcome Outcome, at time.Time, v *registry.Validators, logger *log.Entry) Outcome {
	outcome.Interval = s.cfg.Policy.Next(feed, 0, nil)
	// A refresh ahead of schedule never pulls next_fetch_at earlier
	if feed.NextFetchAt != nil {
		if floor := feed.NextFetchAt.Sub(at); floor > outcome.Interval {
			outcome.Interval = floor
		}
	}
	if err := s.registry.RecordSuccess(ctx, feed, at, outcome.Interval, v); err != nil {
		if ctx.Err() != nil {
			return s.cancelled(outcome, logger)
		}
		outcome.Result = ResultFailed
		outcome.err = fmt.Errorf("record success: %w", err)
		outcome.Error = outcome.err.Error()
		logger.Errorf("Failed to record success: %v", err)
		return outcome
	}

	logger.WithFields(log.Fields{
		"result":   outcome.Result,
		"interval": outcome.Interval,
		"inserted": outcome.Stats.Inserted,
		"updated":  outcome.Stats.Updated,
		"skipped":  outcome.Stats.Skipped,
	}).Info("Fetched feed")
	return outcome
}

func (s *Scheduler) fail(ctx context.Context, feed models.Feed, outcome Outcome, at time.Time, cause error, logger *log.Entry) Outcome {
	failures := feed.ConsecutiveFailures + 1
	outcome.Interval = s.cfg.Policy.Next(feed, failures, cause)
	outcome.Result = ResultFailed
	if models.IsPermanent(cause) {
		outcome.Result = ResultPermanent
	}
	outcome.err = cause
	outcome.Error = cause.Error()

	if err := s.registry.RecordFailure(ctx, feed, at, cause, outcome.Interval, failures); err != nil {
		if ctx.Err() != nil {
			return s.cancelled(outcome, logger)
		}
		outcome.err = multierror.Append(cause, fmt.Errorf("record failure: %w", err))
		outcome.Error = outcome.err.Error()
		logger.Errorf("Failed to record failure: %v", err)
		return outcome
	}

	logger.WithFields(log.Fields{
		"result":   outcome.Result,
		"failures": failures,
		"interval": outcome.Interval,
	}).Warnf("Feed fetch failed: %v", cause)
	return outcome
}

func (s *Scheduler) cancelled(outcome Outcome, logger *log.Entry) Outcome {
	logger.Info("Feed fetch cancelled, schedule left untouched")
	return Outcome{FeedID: outcome.FeedID, Url: outcome.Url, Result: ResultCancelled, Stats: outcome.Stats}
}
