package dispatch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xscraper/pkg/identity"
	"xscraper/pkg/logger"
	"xscraper/pkg/post"
	"xscraper/pkg/proxy"
	"xscraper/pkg/ratelimit"
	"xscraper/pkg/scraper"
	"xscraper/pkg/session"
)

// exclusiveRunner fails the test when one identity has two sessions open at once
type exclusiveRunner struct {
	t     *testing.T
	inner *session.MockRunner

	mu     sync.Mutex
	inUse  map[string]bool
	opened map[string]int
}

func newExclusiveRunner(t *testing.T) *exclusiveRunner {
	inner := session.NewMockRunner()
	inner.Latency = 2 * time.Millisecond
	return &exclusiveRunner{t: t, inner: inner, inUse: map[string]bool{}, opened: map[string]int{}}
}

func (r *exclusiveRunner) Open(ctx context.Context, id identity.Identity, via *proxy.Address) (session.Session, error) {
	r.mu.Lock()
	if r.inUse[id.Handle] {
		r.t.Errorf("identity %s used by two sessions at once", id.Handle)
	}
	r.inUse[id.Handle] = true
	r.opened[id.Handle]++
	r.mu.Unlock()

	sess, err := r.inner.Open(ctx, id, via)
	if err != nil {
		r.release(id.Handle)
		return nil, err
	}
	return &releasingSession{Session: sess, release: func() { r.release(id.Handle) }}, nil
}

func (r *exclusiveRunner) release(handle string) {
	r.mu.Lock()
	r.inUse[handle] = false
	r.mu.Unlock()
}

type releasingSession struct {
	session.Session
	release func()
	once    sync.Once
}

func (s *releasingSession) Close() {
	s.once.Do(func() {
		s.Session.Close()
		s.release()
	})
}

func buildPool(t *testing.T, runner session.Runner, handles []string, workers int) *WorkerPool {
	t.Helper()
	ids := make([]identity.Identity, len(handles))
	for i, h := range handles {
		ids[i] = identity.Identity{Handle: h}
	}
	ring, err := identity.NewRing(ids, identity.DefaultPolicy())
	require.NoError(t, err)

	pacer := ratelimit.NewPacer(0, 0, 0)
	lanes := Split(ring, workers, func(worker int, share *identity.Ring) Extractor {
		return scraper.NewDriver(share, nil, runner, pacer, scraper.Options{
			TargetPerKeyword: 30,
			FailureBudget:    2,
			StallLimit:       3,
		}, logger.NewNopLogger())
	})
	require.Len(t, lanes, min(workers, len(handles)))

	pool, err := NewWorkerPool(lanes, logger.NewNopLogger())
	require.NoError(t, err)
	return pool
}

func requests(keywords ...string) []scraper.Request {
	out := make([]scraper.Request, len(keywords))
	for i, k := range keywords {
		out[i] = scraper.Request{Keyword: k, Target: 30}
	}
	return out
}

func TestWorkerPoolKeepsRequestOrder(t *testing.T) {
	runner := newExclusiveRunner(t)
	pool := buildPool(t, runner, []string{"a", "b", "c", "d"}, 2)
	assert.Equal(t, 2, pool.Size())

	var (
		mu   sync.Mutex
		done []string
	)
	pool.OnKeyword = func(r scraper.KeywordResult) {
		mu.Lock()
		done = append(done, r.Keyword)
		mu.Unlock()
	}

	keywords := []string{"go", "rust", "zig", "odin", "nim"}
	report := pool.Run(context.Background(), "run-1", requests(keywords...))

	assert.Equal(t, "run-1", report.RunID)
	require.Len(t, report.Keywords, len(keywords))
	for i, kr := range report.Keywords {
		assert.Equal(t, keywords[i], kr.Keyword)
		assert.Equal(t, scraper.Satisfied, kr.Outcome)
		assert.Len(t, kr.Records, 30)
		for _, rec := range kr.Records {
			assert.Equal(t, keywords[i], rec.Keyword)
		}
	}
	assert.ElementsMatch(t, keywords, done)
	assert.True(t, report.Complete())
	assert.Equal(t, runner.inner.Opened(), runner.inner.Closed())
}

func TestWorkerPoolClampsToIdentities(t *testing.T) {
	pool := buildPool(t, newExclusiveRunner(t), []string{"solo"}, 8)
	assert.Equal(t, 1, pool.Size())

	report := pool.Run(context.Background(), "", requests("one", "two"))
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 2, report.Count(scraper.Satisfied))
}

func TestWorkerPoolCancelled(t *testing.T) {
	runner := newExclusiveRunner(t)
	pool := buildPool(t, runner, []string{"a", "b"}, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reqs := requests("x", "y", "z")
	reqs[1].Seed = []post.Record{{Text: "kept", Author: "@k"}}
	report := pool.Run(ctx, "run", reqs)

	require.Len(t, report.Keywords, 3)
	for _, kr := range report.Keywords {
		assert.Equal(t, scraper.Aborted, kr.Outcome, kr.Keyword)
		assert.Equal(t, scraper.ReasonCancelled, kr.Reason, kr.Keyword)
	}
	assert.Len(t, report.Keywords[1].Records, 1)
	assert.Zero(t, runner.inner.Opened())
}

func TestCancelledKeepsSeedWithoutTarget(t *testing.T) {
	res := cancelled(scraper.Request{Keyword: "k", Seed: []post.Record{
		{Text: "1", Author: "@a"},
		{Text: "2", Author: "@a"},
	}})
	assert.Len(t, res.Records, 2)
}

func TestNewWorkerPoolNeedsWorkers(t *testing.T) {
	_, err := NewWorkerPool(nil, nil)
	assert.Error(t, err)
}

func TestWorkerPoolManyKeywords(t *testing.T) {
	handles := make([]string, 6)
	for i := range handles {
		handles[i] = fmt.Sprintf("id%d", i)
	}
	runner := newExclusiveRunner(t)
	pool := buildPool(t, runner, handles, 3)

	keywords := make([]string, 12)
	for i := range keywords {
		keywords[i] = fmt.Sprintf("kw%02d", i)
	}
	report := pool.Run(context.Background(), "", requests(keywords...))
	assert.Equal(t, 12, report.Count(scraper.Satisfied))
	assert.Equal(t, 12*30, report.Total())
}
