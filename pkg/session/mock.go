package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"xscraper/pkg/identity"
	"xscraper/pkg/proxy"
	"xscraper/pkg/retry"
)

// MockRunner returns fabricated posts without touching the network. Each
// search yields PerSearch fragments; consecutive searches overlap by Overlap
// fragments so deduplication has something to do.
type MockRunner struct {
	PerSearch int
	Overlap   int
	Latency   time.Duration

	mu     sync.Mutex
	cursor map[string]int

	opened atomic.Int64
	closed atomic.Int64
}

// NewMockRunner creates a mock runner with small, overlapping result pages
func NewMockRunner() *MockRunner {
	return &MockRunner{PerSearch: 20, Overlap: 5, Latency: 200 * time.Millisecond}
}

func (m *MockRunner) Open(ctx context.Context, id identity.Identity, via *proxy.Address) (Session, error) {
	if err := retry.Wait(ctx, m.Latency); err != nil {
		return nil, err
	}
	m.opened.Add(1)
	return &mockSession{runner: m, handle: id.Handle}, nil
}

// Opened and Closed count sessions for diagnostics
func (m *MockRunner) Opened() int64 { return m.opened.Load() }
func (m *MockRunner) Closed() int64 { return m.closed.Load() }

func (m *MockRunner) page(keyword string) (start, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cursor == nil {
		m.cursor = make(map[string]int)
	}
	start = m.cursor[keyword]
	step := m.PerSearch - m.Overlap
	if step < 1 {
		step = 1
	}
	m.cursor[keyword] = start + step
	return start, m.PerSearch
}

type mockSession struct {
	runner *MockRunner
	handle string
	once   sync.Once
}

func (s *mockSession) Search(ctx context.Context, keyword string) ([]RawFragment, error) {
	if err := retry.Wait(ctx, s.runner.Latency); err != nil {
		return nil, err
	}

	start, count := s.runner.page(keyword)
	fragments := make([]RawFragment, 0, count)
	for i := start; i < start+count; i++ {
		fragments = append(fragments, RawFragment{
			Text:   fmt.Sprintf("Simulated post #%d about %s", i, keyword),
			Author: fmt.Sprintf("@mock_user_%d", i%7),
		})
	}
	return fragments, nil
}

func (s *mockSession) Close() {
	s.once.Do(func() {
		s.runner.closed.Add(1)
	})
}
