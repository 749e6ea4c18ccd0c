package redisstore

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlexKimmel/tgbot/internal/ratelimit"
)

func newMiniLimiter(t *testing.T, policies ...ratelimit.Policy) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	l := NewWithClient(client)
	for _, p := range policies {
		require.NoError(t, l.Register(p))
	}
	return l, mr
}

func allow(t *testing.T, l *Limiter, policy, subject string, now time.Time) bool {
	t.Helper()
	dec, err := l.Allow(context.Background(), policy, subject, now)
	require.NoError(t, err)
	return dec.Allowed
}

var t0 = time.UnixMilli(1700000000000)

func TestScript_DefaultScenario(t *testing.T) {
	l, mr := newMiniLimiter(t, ratelimit.Policy{Name: ratelimit.DefaultPolicy, Window: 2 * time.Second, Capacity: 10000})

	assert.True(t, allow(t, l, "default", "42", t0))
	assert.False(t, allow(t, l, "default", "42", t0.Add(time.Second)))
	assert.False(t, allow(t, l, "default", "42", t0.Add(1999*time.Millisecond)))

	mr.FastForward(2100 * time.Millisecond)
	assert.True(t, allow(t, l, "default", "42", t0.Add(2100*time.Millisecond)))
}

func TestScript_WindowNotRefreshedBySuppression(t *testing.T) {
	l, _ := newMiniLimiter(t, ratelimit.Policy{Name: "default", Window: 2 * time.Second, Capacity: 10})

	require.True(t, allow(t, l, "default", "1", t0))
	dec, err := l.Allow(context.Background(), "default", "1", t0.Add(1500*time.Millisecond))
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.Equal(t, t0.Add(2*time.Second), dec.ExpiresAt)

	assert.True(t, allow(t, l, "default", "1", t0.Add(2*time.Second)))
}

func TestScript_EvictsOldestInsertedInSameMillisecond(t *testing.T) {
	l, _ := newMiniLimiter(t, ratelimit.Policy{Name: "default", Window: time.Minute, Capacity: 2})

	require.True(t, allow(t, l, "default", "9", t0))
	require.True(t, allow(t, l, "default", "1", t0))
	require.True(t, allow(t, l, "default", "2", t0))

	// "9" was inserted first, so it is the one evicted
	assert.True(t, allow(t, l, "default", "9", t0))
	// now "1" is oldest and was evicted by the line above; "2" is live
	assert.False(t, allow(t, l, "default", "2", t0))
	assert.True(t, allow(t, l, "default", "1", t0))
}

func TestScript_CapacityBound(t *testing.T) {
	l, mr := newMiniLimiter(t, ratelimit.Policy{Name: "default", Window: time.Minute, Capacity: 3})

	for i, s := range []string{"a", "b", "c", "d", "e"} {
		require.True(t, allow(t, l, "default", s, t0.Add(time.Duration(i)*time.Millisecond)))
	}

	keys := policyKeys("default")
	order, err := mr.ZMembers(keys[0])
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"c", "d", "e"}, order)
	expiry, err := mr.ZMembers(keys[1])
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"c", "d", "e"}, expiry)
}

func TestScript_ExpiredEntriesFreeCapacity(t *testing.T) {
	l, mr := newMiniLimiter(t, ratelimit.Policy{Name: "default", Window: time.Second, Capacity: 2})

	require.True(t, allow(t, l, "default", "a", t0))
	require.True(t, allow(t, l, "default", "b", t0.Add(500*time.Millisecond)))

	// "a" expired; admitting "c" must trim it instead of evicting live "b"
	require.True(t, allow(t, l, "default", "c", t0.Add(1100*time.Millisecond)))
	assert.False(t, allow(t, l, "default", "b", t0.Add(1200*time.Millisecond)))

	order, err := mr.ZMembers(policyKeys("default")[0])
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"b", "c"}, order)
}

func TestScript_OutOfOrderClock(t *testing.T) {
	l, _ := newMiniLimiter(t, ratelimit.Policy{Name: "default", Window: 2 * time.Second, Capacity: 10})

	require.True(t, allow(t, l, "default", "a", t0.Add(10*time.Millisecond)))
	require.True(t, allow(t, l, "default", "b", t0))
	assert.True(t, allow(t, l, "default", "b", t0.Add(2005*time.Millisecond)))
}

func TestScript_SubjectNamesDoNotCollideWithIndex(t *testing.T) {
	l, _ := newMiniLimiter(t, ratelimit.Policy{Name: "default", Window: time.Second, Capacity: 10})

	for _, s := range []string{"index", "order", "expiry", "seq"} {
		assert.True(t, allow(t, l, "default", s, t0), s)
		assert.True(t, allow(t, l, "default", s, t0.Add(time.Second)), s)
	}
}

func TestScript_FallbackSharesDefaultStore(t *testing.T) {
	l, _ := newMiniLimiter(t, ratelimit.Policy{Name: ratelimit.DefaultPolicy, Window: time.Second, Capacity: 10})

	assert.True(t, allow(t, l, "echo", "7", t0))
	assert.False(t, allow(t, l, "default", "7", t0))
	assert.False(t, allow(t, l, "start", "7", t0))
}

func TestScript_PoliciesIndependent(t *testing.T) {
	l, _ := newMiniLimiter(t,
		ratelimit.Policy{Name: "default", Window: time.Second, Capacity: 10},
		ratelimit.Policy{Name: "echo", Window: time.Second, Capacity: 10},
	)

	assert.True(t, allow(t, l, "default", "7", t0))
	assert.True(t, allow(t, l, "echo", "7", t0))
}

func TestScript_ConcurrentSingleAdmission(t *testing.T) {
	l, _ := newMiniLimiter(t, ratelimit.Policy{Name: "default", Window: time.Minute, Capacity: 100})

	const n = 32
	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dec, err := l.Allow(context.Background(), "default", "42", t0)
			if err == nil && dec.Allowed {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), admitted.Load())
}

func TestNew_URL(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.RequireAuth("s3cret")

	l, err := New(Config{URL: "redis://:s3cret@" + mr.Addr() + "/0"}, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, l.Register(ratelimit.Policy{Name: "default", Window: time.Second, Capacity: 1}))
	assert.True(t, allow(t, l, "default", "1", t0))
	require.NoError(t, l.Close())

	_, err = New(Config{URL: "redis://:wrong@" + mr.Addr() + "/0"}, zerolog.Nop())
	assert.Error(t, err)

	_, err = New(Config{URL: "://nope"}, zerolog.Nop())
	assert.Error(t, err)
}
