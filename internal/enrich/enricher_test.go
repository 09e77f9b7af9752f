package enrich

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pbroadmap/internal/roadmap"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockFetcher struct {
	mock.Mock
}

func (m *MockFetcher) FetchDescription(ctx context.Context, id string) (*string, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*string), args.Error(1)
}

func strPtr(s string) *string { return &s }

func sampleTree() roadmap.Tree {
	r1 := roadmap.Resolved("R1")
	return roadmap.Tree{
		"a": {Title: "A", Timeline: []roadmap.Lookup{r1}},
		"b": {Title: "B", Timeline: []roadmap.Lookup{}, Features: map[string]*roadmap.Subfeature{
			"b1": {Title: "B1", Timeline: &r1},
			"b2": {Title: "B2"},
		}},
		"c": {Title: "C", Timeline: []roadmap.Lookup{}},
	}
}

func describeByID(_ context.Context, id string) (*string, error) {
	return strPtr("about " + id), nil
}

func TestEnrichPopulatesEveryNode(t *testing.T) {
	tree := sampleTree()
	res, err := New(FetcherFunc(describeByID), Options{}).Enrich(context.Background(), tree)
	require.NoError(t, err)
	assert.Empty(t, res.Failures)
	require.Len(t, res.Features, 3)

	for id, f := range res.Features {
		require.NotNil(t, f.Description, id)
		assert.Equal(t, "about "+id, *f.Description)
	}
	b := res.Features["b"]
	require.Len(t, b.Features, 2)
	assert.Equal(t, "about b1", *b.Features["b1"].Description)
	assert.Equal(t, "about b2", *b.Features["b2"].Description)
	assert.Equal(t, roadmap.Resolved("R1"), *b.Features["b1"].Timeline)
	assert.Nil(t, res.Features["a"].Features)

	assert.Nil(t, tree["a"].Description, "input must not be mutated")
	assert.Nil(t, tree["b"].Features["b1"].Description)
}

func TestEnrichIsIdempotent(t *testing.T) {
	e := New(FetcherFunc(describeByID), Options{})
	first, err := e.Enrich(context.Background(), sampleTree())
	require.NoError(t, err)
	second, err := e.Enrich(context.Background(), first.Features)
	require.NoError(t, err)
	assert.Equal(t, first.Features, second.Features)
}

func TestEnrichIsolatesBranchFailures(t *testing.T) {
	boom := errors.New("boom")
	fetcher := FetcherFunc(func(ctx context.Context, id string) (*string, error) {
		if id == "b2" {
			return nil, boom
		}
		return describeByID(ctx, id)
	})

	res, err := New(fetcher, Options{}).Enrich(context.Background(), sampleTree())
	require.NoError(t, err)
	assert.Len(t, res.Features, 2)
	assert.Contains(t, res.Features, "a")
	assert.Contains(t, res.Features, "c")
	require.Contains(t, res.Failures, "b")

	var berr *BranchError
	require.True(t, errors.As(res.Failures["b"], &berr))
	assert.Equal(t, "b", berr.FeatureID)
	assert.True(t, errors.Is(res.Failures["b"], boom))
}

func TestEnrichFailFast(t *testing.T) {
	boom := errors.New("boom")
	fetcher := FetcherFunc(func(ctx context.Context, id string) (*string, error) {
		if id == "c" {
			return nil, boom
		}
		return describeByID(ctx, id)
	})

	_, err := New(fetcher, Options{FailFast: true}).Enrich(context.Background(), sampleTree())
	var berr *BranchError
	require.True(t, errors.As(err, &berr))
	assert.Equal(t, "c", berr.FeatureID)
	assert.True(t, errors.Is(err, boom))
}

func TestEnrichBoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	fetcher := FetcherFunc(func(ctx context.Context, id string) (*string, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return describeByID(ctx, id)
	})

	res, err := New(fetcher, Options{MaxConcurrency: 2}).Enrich(context.Background(), sampleTree())
	require.NoError(t, err)
	assert.Len(t, res.Features, 3)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestEnrichRetries(t *testing.T) {
	var mu sync.Mutex
	attempts := map[string]int{}
	fetcher := FetcherFunc(func(ctx context.Context, id string) (*string, error) {
		mu.Lock()
		attempts[id]++
		n := attempts[id]
		mu.Unlock()
		if id == "a" && n == 1 {
			return nil, errors.New("transient")
		}
		return describeByID(ctx, id)
	})

	res, err := New(fetcher, Options{Retry: RetryPolicy{Attempts: 3, Backoff: time.Millisecond}}).
		Enrich(context.Background(), sampleTree())
	require.NoError(t, err)
	assert.Empty(t, res.Failures)
	assert.Equal(t, 2, attempts["a"])
	assert.Equal(t, 1, attempts["c"])
}

func TestEnrichDoesNotRetryPermanentErrors(t *testing.T) {
	permanent := errors.New("not found")
	var calls atomic.Int32
	fetcher := FetcherFunc(func(ctx context.Context, id string) (*string, error) {
		if id == "a" {
			calls.Add(1)
			return nil, permanent
		}
		return describeByID(ctx, id)
	})
	opts := Options{Retry: RetryPolicy{
		Attempts:  3,
		Backoff:   time.Millisecond,
		Retryable: func(err error) bool { return !errors.Is(err, permanent) },
	}}

	res, err := New(fetcher, opts).Enrich(context.Background(), sampleTree())
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
	require.Contains(t, res.Failures, "a")
	assert.ErrorIs(t, res.Failures["a"], permanent)
	assert.Contains(t, res.Features, "b")
}

func TestEnrichPerFetchTimeout(t *testing.T) {
	fetcher := FetcherFunc(func(ctx context.Context, id string) (*string, error) {
		if id == "a" {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return describeByID(ctx, id)
	})

	res, err := New(fetcher, Options{Timeout: 10 * time.Millisecond}).Enrich(context.Background(), sampleTree())
	require.NoError(t, err)
	require.Contains(t, res.Failures, "a")
	assert.True(t, errors.Is(res.Failures["a"], context.DeadlineExceeded))
	assert.Len(t, res.Features, 2)
}

func TestEnrichFetchesEachNodeOnce(t *testing.T) {
	m := new(MockFetcher)
	for _, id := range []string{"a", "b", "b1", "b2", "c"} {
		m.On("FetchDescription", mock.Anything, id).Return(strPtr(id), nil).Once()
	}

	res, err := New(m, Options{}).Enrich(context.Background(), sampleTree())
	require.NoError(t, err)
	assert.Len(t, res.Features, 3)
	m.AssertExpectations(t)
}

func TestEnrichKeepsNilDescriptions(t *testing.T) {
	m := new(MockFetcher)
	m.On("FetchDescription", mock.Anything, mock.Anything).Return(nil, nil)

	res, err := New(m, Options{}).Enrich(context.Background(), sampleTree())
	require.NoError(t, err)
	assert.Nil(t, res.Features["a"].Description)
	assert.Nil(t, res.Features["b"].Features["b1"].Description)
}

func TestEnrichCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(FetcherFunc(describeByID), Options{}).Enrich(ctx, sampleTree())
	assert.ErrorIs(t, err, context.Canceled)
}
