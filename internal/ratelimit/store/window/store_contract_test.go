package window

import (
	"context"
	"time"

	"github.com/stretchr/testify/suite"

	"bruteguard/internal/ratelimit/models"
	"bruteguard/pkg/requestcontext"
	"bruteguard/pkg/testutil"
)

type counterStore interface {
	Increment(ctx context.Context, key string, ttl time.Duration) (models.WindowCounter, error)
	Peek(ctx context.Context, key string) (int, error)
	TimeRemaining(ctx context.Context, key string) (time.Duration, error)
	Delete(ctx context.Context, key string) error
	SetWithExpiry(ctx context.Context, key string, value int, ttl time.Duration) error
	PurgeExpired(ctx context.Context, key string) error
	DeleteExpired(ctx context.Context) (int, error)
}

// storeContractSuite is embedded by each backend's suite. newStore must return
// an empty store.
type storeContractSuite struct {
	suite.Suite
	newStore func() counterStore
	store    counterStore
	clock    *testutil.Clock
}

func (s *storeContractSuite) SetupTest() {
	s.store = s.newStore()
	s.clock = testutil.NewClock(testutil.TestTime)
}

func (s *storeContractSuite) ctx() context.Context {
	return s.clock.Context(context.Background())
}

// =============================================================================
// Increment-or-create
// =============================================================================

func (s *storeContractSuite) TestIncrement() {
	s.Run("first hit starts a window", func() {
		c, err := s.store.Increment(s.ctx(), "ip:first", time.Minute)
		s.Require().NoError(err)
		s.Equal(1, c.Count)
		s.Equal("ip:first", c.Key)
		s.WithinDuration(s.clock.Now().Add(time.Minute), c.ExpiresAt, time.Millisecond)
	})

	s.Run("hits inside the window keep the first expiry", func() {
		first, err := s.store.Increment(s.ctx(), "ip:fixed", time.Minute)
		s.Require().NoError(err)

		s.clock.Advance(20 * time.Second)
		second, err := s.store.Increment(s.ctx(), "ip:fixed", time.Minute)
		s.Require().NoError(err)

		s.Equal(2, second.Count)
		s.WithinDuration(first.ExpiresAt, second.ExpiresAt, time.Millisecond)
	})

	s.Run("expired window is replaced not incremented", func() {
		for range 3 {
			_, err := s.store.Increment(s.ctx(), "ip:reset", time.Minute)
			s.Require().NoError(err)
		}
		s.clock.Advance(time.Minute)

		c, err := s.store.Increment(s.ctx(), "ip:reset", time.Minute)
		s.Require().NoError(err)
		s.Equal(1, c.Count)
		s.WithinDuration(s.clock.Now().Add(time.Minute), c.ExpiresAt, time.Millisecond)
	})
}

// =============================================================================
// Reads
// =============================================================================

func (s *storeContractSuite) TestPeekAndTimeRemaining() {
	s.Run("absent key reads as zero", func() {
		n, err := s.store.Peek(s.ctx(), "identifier:nobody")
		s.Require().NoError(err)
		s.Zero(n)

		d, err := s.store.TimeRemaining(s.ctx(), "identifier:nobody")
		s.Require().NoError(err)
		s.Zero(d)
	})

	s.Run("peek does not mutate", func() {
		_, err := s.store.Increment(s.ctx(), "identifier:peek", time.Minute)
		s.Require().NoError(err)

		for range 3 {
			n, err := s.store.Peek(s.ctx(), "identifier:peek")
			s.Require().NoError(err)
			s.Equal(1, n)
		}
	})

	s.Run("remaining shrinks with the clock", func() {
		_, err := s.store.Increment(s.ctx(), "identifier:ttl", time.Minute)
		s.Require().NoError(err)
		s.clock.Advance(15 * time.Second)

		d, err := s.store.TimeRemaining(s.ctx(), "identifier:ttl")
		s.Require().NoError(err)
		s.InDelta(float64(45*time.Second), float64(d), float64(time.Millisecond))
	})

	s.Run("expired record reads as absent", func() {
		_, err := s.store.Increment(s.ctx(), "identifier:stale", time.Minute)
		s.Require().NoError(err)
		s.clock.Advance(time.Minute)

		n, err := s.store.Peek(s.ctx(), "identifier:stale")
		s.Require().NoError(err)
		s.Zero(n)

		d, err := s.store.TimeRemaining(s.ctx(), "identifier:stale")
		s.Require().NoError(err)
		s.Zero(d)
	})
}

// =============================================================================
// Writes and deletes
// =============================================================================

func (s *storeContractSuite) TestSetDeleteAndPurge() {
	s.Run("set overwrites an active window", func() {
		for range 4 {
			_, err := s.store.Increment(s.ctx(), "lockout:abc", time.Minute)
			s.Require().NoError(err)
		}
		s.Require().NoError(s.store.SetWithExpiry(s.ctx(), "lockout:abc", 1, 15*time.Minute))

		n, err := s.store.Peek(s.ctx(), "lockout:abc")
		s.Require().NoError(err)
		s.Equal(1, n)

		d, err := s.store.TimeRemaining(s.ctx(), "lockout:abc")
		s.Require().NoError(err)
		s.InDelta(float64(15*time.Minute), float64(d), float64(time.Millisecond))
	})

	s.Run("delete removes the window", func() {
		_, err := s.store.Increment(s.ctx(), "ip:gone", time.Minute)
		s.Require().NoError(err)
		s.Require().NoError(s.store.Delete(s.ctx(), "ip:gone"))

		n, err := s.store.Peek(s.ctx(), "ip:gone")
		s.Require().NoError(err)
		s.Zero(n)

		s.Require().NoError(s.store.Delete(s.ctx(), "ip:gone"), "deleting twice is fine")
	})

	s.Run("purge keeps live records", func() {
		s.Require().NoError(s.store.SetWithExpiry(s.ctx(), "lockout:live", 1, time.Minute))
		s.Require().NoError(s.store.PurgeExpired(s.ctx(), "lockout:live"))

		n, err := s.store.Peek(s.ctx(), "lockout:live")
		s.Require().NoError(err)
		s.Equal(1, n)
	})

	s.Run("purge removes expired records", func() {
		s.Require().NoError(s.store.SetWithExpiry(s.ctx(), "lockout:old", 1, time.Minute))
		s.clock.Advance(2 * time.Minute)
		s.Require().NoError(s.store.PurgeExpired(s.ctx(), "lockout:old"))

		// Rewinding the clock would resurrect the record if purge had not deleted it.
		n, err := s.store.Peek(requestcontextAt(s.clock.Now().Add(-2*time.Minute)), "lockout:old")
		s.Require().NoError(err)
		s.Zero(n)
	})
}

func (s *storeContractSuite) TestDeleteExpired() {
	_, err := s.store.Increment(s.ctx(), "ip:short", time.Second)
	s.Require().NoError(err)
	_, err = s.store.Increment(s.ctx(), "ip:long", time.Hour)
	s.Require().NoError(err)

	s.clock.Advance(time.Minute)
	removed, err := s.store.DeleteExpired(s.ctx())
	s.Require().NoError(err)
	s.Equal(1, removed)

	n, err := s.store.Peek(s.ctx(), "ip:long")
	s.Require().NoError(err)
	s.Equal(1, n)
}

// =============================================================================
// Concurrency
// =============================================================================

func (s *storeContractSuite) TestConcurrentIncrementsAreNotLost() {
	const goroutines = 100
	ctx := s.ctx()

	res := testutil.RunConcurrent(goroutines, func(int) error {
		_, err := s.store.Increment(ctx, "identifier:race", time.Minute)
		return err
	})
	s.Require().Equal(int32(goroutines), res.Successes)

	n, err := s.store.Peek(ctx, "identifier:race")
	s.Require().NoError(err)
	s.Equal(goroutines, n)
}

func requestcontextAt(t time.Time) context.Context {
	return requestcontext.WithTime(context.Background(), t)
}
