package identity

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "xscraper/pkg/errors"
	"xscraper/pkg/retry"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestRing(t *testing.T, handles ...string) (*Ring, *fakeClock) {
	t.Helper()
	ids := make([]Identity, len(handles))
	for i, h := range handles {
		ids[i] = Identity{Handle: h, Secret: "secret-" + h}
	}
	ring, err := NewRing(ids, Policy{
		Backoff: &retry.ExponentialBackoff{BaseDelay: time.Minute, MaxDelay: 10 * time.Minute, Multiplier: 2},
	})
	require.NoError(t, err)

	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	ring.Now = clock.Now
	return ring, clock
}

func TestNewRingValidation(t *testing.T) {
	_, err := NewRing(nil, DefaultPolicy())
	assert.True(t, errs.Is(err, errs.ErrorTypeConfig))

	_, err = NewRing([]Identity{{Handle: "a"}, {Handle: "a"}}, DefaultPolicy())
	assert.True(t, errs.Is(err, errs.ErrorTypeConfig))
}

func TestNextIsFairRoundRobin(t *testing.T) {
	ring, _ := newTestRing(t, "a", "b", "c")

	counts := make(map[string]int)
	var order []string
	for i := 0; i < 7; i++ {
		id, err := ring.Next()
		require.NoError(t, err)
		counts[id.Handle]++
		order = append(order, id.Handle)
	}

	assert.Equal(t, []string{"a", "b", "c", "a", "b", "c", "a"}, order)
	for handle, n := range counts {
		if n < 7/3 || n > 7/3+1 {
			t.Errorf("identity %s visited %d times, want floor/ceil of 7/3", handle, n)
		}
	}
	assert.Equal(t, 7, ring.Advances())
}

func TestNextCarriesSecret(t *testing.T) {
	ring, _ := newTestRing(t, "a")
	id, err := ring.Next()
	require.NoError(t, err)
	assert.Equal(t, "secret-a", id.Secret)
	assert.Equal(t, Available, id.State)
}

func TestCoolingDownIdentityIsSkipped(t *testing.T) {
	ring, clock := newTestRing(t, "a", "b")

	a, err := ring.Next()
	require.NoError(t, err)
	until := ring.ReportFailure(a)
	assert.Equal(t, clock.Now().Add(time.Minute), until)

	for i := 0; i < 4; i++ {
		id, err := ring.Next()
		require.NoError(t, err)
		assert.Equal(t, "b", id.Handle, "cooling identity must not be returned before its cooldown ends")
		clock.Advance(10 * time.Second)
	}

	clock.Advance(time.Minute)
	id, err := ring.Next()
	require.NoError(t, err)
	assert.Equal(t, "a", id.Handle)
	assert.Equal(t, Available, ring.Snapshot()[0].State)
}

func TestNoIdentityAvailableInsteadOfBlocking(t *testing.T) {
	ring, _ := newTestRing(t, "a", "b")

	for i := 0; i < 2; i++ {
		id, err := ring.Next()
		require.NoError(t, err)
		ring.ReportFailure(id)
	}

	_, err := ring.Next()
	assert.ErrorIs(t, err, errs.ErrNoIdentityAvailable)

	for _, id := range ring.Snapshot() {
		assert.Equal(t, CoolingDown, id.State)
	}
}

func TestCooldownGrowsWithConsecutiveFailures(t *testing.T) {
	ring, clock := newTestRing(t, "a")
	start := clock.Now()

	id, _ := ring.Next()
	assert.Equal(t, start.Add(time.Minute), ring.ReportFailure(id))
	assert.Equal(t, start.Add(2*time.Minute), ring.ReportFailure(id))
	assert.Equal(t, start.Add(4*time.Minute), ring.ReportFailure(id))

	ring.ReportSuccess(id)
	snap := ring.Snapshot()[0]
	assert.Equal(t, Available, snap.State)
	assert.Equal(t, 0, snap.Failures)
	assert.Equal(t, start.Add(time.Minute), ring.ReportFailure(id))
}

func TestDisableAfterConsecutiveFailures(t *testing.T) {
	ring, _ := newTestRing(t, "a", "b")
	ring.policy.DisableAfter = 2

	a := Identity{Handle: "a"}
	ring.ReportFailure(a)
	assert.True(t, ring.ReportFailure(a).IsZero())
	assert.Equal(t, Disabled, ring.Snapshot()[0].State)

	// success does not revive a disabled identity
	ring.ReportSuccess(a)
	assert.Equal(t, Disabled, ring.Snapshot()[0].State)

	for i := 0; i < 3; i++ {
		id, err := ring.Next()
		require.NoError(t, err)
		assert.Equal(t, "b", id.Handle)
	}
}

func TestDisable(t *testing.T) {
	ring, _ := newTestRing(t, "a")
	assert.True(t, ring.Disable("a"))
	assert.False(t, ring.Disable("zed"))

	_, err := ring.Next()
	assert.ErrorIs(t, err, errs.ErrNoIdentityAvailable)
}

func TestReportForUnknownHandleIsIgnored(t *testing.T) {
	ring, _ := newTestRing(t, "a")
	assert.True(t, ring.ReportFailure(Identity{Handle: "ghost"}).IsZero())
	ring.ReportSuccess(Identity{Handle: "ghost"})
	assert.Equal(t, Available, ring.Snapshot()[0].State)
}

func TestSplitIsDisjoint(t *testing.T) {
	ring, clock := newTestRing(t, "a", "b", "c", "d", "e")

	parts := ring.Split(2)
	require.Len(t, parts, 2)

	seen := make(map[string]int)
	for _, part := range parts {
		for _, id := range part.Snapshot() {
			seen[id.Handle]++
		}
	}
	assert.Len(t, seen, 5)
	for handle, n := range seen {
		assert.Equal(t, 1, n, "identity %s appears in more than one slice", handle)
	}
	assert.Equal(t, []string{"a", "c", "e"}, handles(parts[0].Snapshot()))
	assert.Equal(t, []string{"b", "d"}, handles(parts[1].Snapshot()))

	clock.Advance(time.Hour)
	assert.Equal(t, clock.Now(), parts[0].Now())

	assert.Len(t, ring.Split(10), 5)
	assert.Len(t, ring.Split(0), 1)
}

func TestConcurrentUse(t *testing.T) {
	ring, _ := newTestRing(t, "a", "b", "c", "d")

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				id, err := ring.Next()
				if err != nil {
					continue
				}
				if i%3 == 0 {
					ring.ReportFailure(id)
				} else {
					ring.ReportSuccess(id)
				}
			}
		}()
	}
	wg.Wait()
	assert.Len(t, ring.Snapshot(), 4)
}

func handles(ids []Identity) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.Handle
	}
	return out
}
