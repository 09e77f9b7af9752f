// Package enrich fills in the description of every feature and subfeature of a roadmap tree.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"pbroadmap/internal/logger"
	"pbroadmap/internal/roadmap"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// DescriptionFetcher retrieves the long-form description of one feature or subfeature. A nil
// description means the item has none.
type DescriptionFetcher interface {
	FetchDescription(ctx context.Context, id string) (*string, error)
}

// FetcherFunc adapts a function to DescriptionFetcher.
type FetcherFunc func(ctx context.Context, id string) (*string, error)

func (f FetcherFunc) FetchDescription(ctx context.Context, id string) (*string, error) {
	return f(ctx, id)
}

// Options tune an Enricher. The zero value fetches everything at once, isolates failures per
// feature and never retries.
type Options struct {
	// MaxConcurrency bounds in-flight fetches across the whole run; 0 means unbounded.
	MaxConcurrency int
	// FailFast aborts the whole run on the first failed branch.
	FailFast bool
	// Timeout applies to each individual fetch attempt.
	Timeout time.Duration
	Retry   RetryPolicy
}

// RetryPolicy retries a failed fetch with exponential backoff starting at Backoff.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
	// Retryable reports whether a failed attempt may be repeated; nil retries every error.
	Retryable func(error) bool
}

func (p RetryPolicy) retryable(err error) bool {
	return p.Retryable == nil || p.Retryable(err)
}

// BranchError is the failure of one top-level feature's enrichment.
type BranchError struct {
	FeatureID string
	Err       error
}

func (e *BranchError) Error() string {
	return fmt.Sprintf("enrich feature %s: %v", e.FeatureID, e.Err)
}

func (e *BranchError) Unwrap() error { return e.Err }

// Result is the outcome of one Enrich call. Features holds every branch that succeeded; Failures
// holds the error of every branch that did not.
type Result struct {
	Features roadmap.Tree
	Failures map[string]error
}

// Enricher fans detail fetches out over a roadmap tree.
type Enricher struct {
	fetcher DescriptionFetcher
	opts    Options
}

func New(fetcher DescriptionFetcher, opts Options) *Enricher {
	if opts.Retry.Attempts <= 0 {
		opts.Retry.Attempts = 1
	}
	return &Enricher{fetcher: fetcher, opts: opts}
}

type branchOutcome struct {
	feature *roadmap.Feature
	err     error
}

// Enrich returns a copy of tree with descriptions filled in. The input is not modified. Each
// top-level feature is an independent branch: unless FailFast is set, a failed branch is reported
// in Result.Failures and the others still complete. With FailFast the first failure is returned as
// a *BranchError.
func (e *Enricher) Enrich(ctx context.Context, tree roadmap.Tree) (Result, error) {
	if e == nil || e.fetcher == nil {
		return Result{}, errors.New("enricher has no description fetcher")
	}
	ids := make([]string, 0, len(tree))
	for id := range tree {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var sem *semaphore.Weighted
	if e.opts.MaxConcurrency > 0 {
		sem = semaphore.NewWeighted(int64(e.opts.MaxConcurrency))
	}
	run := &runState{Enricher: e, sem: sem}

	outcomes := make([]branchOutcome, len(ids))
	group, groupCtx := errgroup.WithContext(ctx)
	for i, id := range ids {
		i, id := i, id
		group.Go(func() error {
			feature, err := run.enrichFeature(groupCtx, id, tree[id])
			if err != nil {
				berr := &BranchError{FeatureID: id, Err: err}
				if e.opts.FailFast {
					return berr
				}
				logger.Warnf("enrich: feature %s failed: %v", id, err)
				outcomes[i] = branchOutcome{err: berr}
				return nil
			}
			outcomes[i] = branchOutcome{feature: feature}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	res := Result{Features: make(roadmap.Tree, len(ids)), Failures: make(map[string]error)}
	for i, id := range ids {
		if outcomes[i].err != nil {
			res.Failures[id] = outcomes[i].err
			continue
		}
		res.Features[id] = outcomes[i].feature
	}
	return res, nil
}

type runState struct {
	*Enricher
	sem *semaphore.Weighted
}

// enrichFeature fetches the feature's own description and, concurrently, every subfeature's.
// Subfeature results are matched back by id.
func (r *runState) enrichFeature(ctx context.Context, id string, feature *roadmap.Feature) (*roadmap.Feature, error) {
	if feature == nil {
		return nil, fmt.Errorf("feature %s has no record", id)
	}
	out := feature.Clone()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		desc, err := r.fetch(groupCtx, id)
		if err != nil {
			return err
		}
		out.Description = desc
		return nil
	})
	subIDs := make([]string, 0, len(out.Features))
	for subID := range out.Features {
		subIDs = append(subIDs, subID)
	}
	descs := make([]*string, len(subIDs))
	for i, subID := range subIDs {
		i, subID := i, subID
		group.Go(func() error {
			desc, err := r.fetch(groupCtx, subID)
			if err != nil {
				return fmt.Errorf("subfeature %s: %w", subID, err)
			}
			descs[i] = desc
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	for i, subID := range subIDs {
		out.Features[subID].Description = descs[i]
	}
	return out, nil
}

func (r *runState) fetch(ctx context.Context, id string) (*string, error) {
	backoff := r.opts.Retry.Backoff
	for attempt := 1; ; attempt++ {
		desc, err := r.fetchOnce(ctx, id)
		if err == nil {
			return desc, nil
		}
		if attempt >= r.opts.Retry.Attempts || ctx.Err() != nil || !r.opts.Retry.retryable(err) {
			return nil, err
		}
		logger.Debugf("enrich: retrying %s after attempt %d: %v", id, attempt, err)
		if backoff > 0 {
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, err
			case <-timer.C:
			}
			backoff *= 2
		}
	}
}

func (r *runState) fetchOnce(ctx context.Context, id string) (*string, error) {
	if r.sem != nil {
		if err := r.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer r.sem.Release(1)
	}
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}
	return r.fetcher.FetchDescription(ctx, id)
}
