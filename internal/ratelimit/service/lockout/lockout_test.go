package lockout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"bruteguard/internal/ratelimit/models"
	lockoutstore "bruteguard/internal/ratelimit/store/lockout"
	"bruteguard/internal/ratelimit/store/window"
	"bruteguard/pkg/requestcontext"
	"bruteguard/pkg/testutil"
)

type LockoutStoreSuite struct {
	suite.Suite
	records *window.InMemoryStore
	index   *lockoutstore.InMemoryIndex
	store   *Store
	clock   *testutil.Clock
}

func TestLockoutStoreSuite(t *testing.T) {
	suite.Run(t, new(LockoutStoreSuite))
}

func (s *LockoutStoreSuite) SetupTest() {
	s.records = window.NewInMemoryStore()
	s.index = lockoutstore.NewInMemoryIndex()
	store, err := New(s.records, s.index)
	s.Require().NoError(err)
	s.store = store
	s.clock = testutil.NewClock(testutil.TestTime)
}

func (s *LockoutStoreSuite) ctx() context.Context {
	return s.clock.Context(context.Background())
}

func (s *LockoutStoreSuite) TestNew() {
	_, err := New(nil, s.index)
	s.Error(err)
	_, err = New(s.records, nil)
	s.Error(err)
}

func (s *LockoutStoreSuite) TestSetAndRemaining() {
	s.Run("no lockout", func() {
		d, err := s.store.Remaining(s.ctx(), "hash-none")
		s.Require().NoError(err)
		s.Zero(d)
	})

	s.Run("remaining decreases as time passes", func() {
		s.Require().NoError(s.store.Set(s.ctx(), "hash-dave", 15*time.Minute))

		d, err := s.store.Remaining(s.ctx(), "hash-dave")
		s.Require().NoError(err)
		s.Equal(15*time.Minute, d)

		s.clock.Advance(5 * time.Minute)
		d, err = s.store.Remaining(s.ctx(), "hash-dave")
		s.Require().NoError(err)
		s.Equal(10*time.Minute, d)
	})

	s.Run("set overwrites", func() {
		s.Require().NoError(s.store.Set(s.ctx(), "hash-dave", time.Minute))
		d, err := s.store.Remaining(s.ctx(), "hash-dave")
		s.Require().NoError(err)
		s.Equal(time.Minute, d)
	})
}

func (s *LockoutStoreSuite) TestLazyPurge() {
	s.Require().NoError(s.store.Set(s.ctx(), "hash-erin", time.Minute))
	s.clock.Advance(2 * time.Minute)

	d, err := s.store.Remaining(s.ctx(), "hash-erin")
	s.Require().NoError(err)
	s.Zero(d)

	// Reading at the original instant would see the record had it not been purged.
	past := requestcontext.WithTime(context.Background(), testutil.TestTime)
	n, err := s.records.Peek(past, models.NewLockoutKey("hash-erin").String())
	s.Require().NoError(err)
	s.Zero(n, "expired record was deleted")

	recent, err := s.store.AnyExpiringWithin(s.ctx(), 10*time.Minute)
	s.Require().NoError(err)
	s.True(recent, "index entry outlives the purged record")
}

func (s *LockoutStoreSuite) TestClear() {
	s.Require().NoError(s.store.Set(s.ctx(), "hash-frank", 15*time.Minute))
	s.Require().NoError(s.store.Clear(s.ctx(), "hash-frank"))

	d, err := s.store.Remaining(s.ctx(), "hash-frank")
	s.Require().NoError(err)
	s.Zero(d)

	recent, err := s.store.AnyExpiringWithin(s.ctx(), 10*time.Minute)
	s.Require().NoError(err)
	s.False(recent, "cleared lockouts do not count as recent")

	s.Require().NoError(s.store.Clear(s.ctx(), "hash-frank"), "clearing twice is fine")
}

func (s *LockoutStoreSuite) TestAnyExpiringWithin() {
	s.Require().NoError(s.store.Set(s.ctx(), "hash-gina", 15*time.Minute))

	cases := []struct {
		name    string
		elapsed time.Duration
		want    bool
	}{
		{"while active", 5 * time.Minute, true},
		{"just after expiry", 16 * time.Minute, true},
		{"nine minutes after expiry", 24 * time.Minute, true},
		{"ten minutes after expiry", 25 * time.Minute, false},
		{"long after expiry", 2 * time.Hour, false},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			ctx := requestcontext.WithTime(context.Background(), testutil.TestTime.Add(tc.elapsed))
			got, err := s.store.AnyExpiringWithin(ctx, 10*time.Minute)
			s.Require().NoError(err)
			s.Equal(tc.want, got)
		})
	}
}

func (s *LockoutStoreSuite) TestPruneIndex() {
	s.Require().NoError(s.store.Set(s.ctx(), "hash-old", time.Minute))
	s.Require().NoError(s.store.Set(s.ctx(), "hash-new", time.Hour))
	s.clock.Advance(30 * time.Minute)

	removed, err := s.store.PruneIndex(s.ctx(), 10*time.Minute)
	s.Require().NoError(err)
	s.Equal(1, removed)

	recent, err := s.store.AnyExpiringWithin(s.ctx(), 10*time.Minute)
	s.Require().NoError(err)
	s.True(recent)
}

type failingIndex struct{ lockoutstore.InMemoryIndex }

func (*failingIndex) Remove(context.Context, string) error { return errors.New("index offline") }

func (*failingIndex) AnyAfter(context.Context, time.Time) (bool, error) {
	return false, errors.New("index offline")
}

func (s *LockoutStoreSuite) TestIndexFailures() {
	store, err := New(s.records, &failingIndex{})
	s.Require().NoError(err)

	_, err = store.AnyExpiringWithin(s.ctx(), time.Minute)
	s.ErrorContains(err, "query recent lockouts")

	s.Require().NoError(s.records.SetWithExpiry(s.ctx(), models.NewLockoutKey("hash-h").String(), 1, time.Minute))
	err = store.Clear(s.ctx(), "hash-h")
	s.ErrorContains(err, "unindex lockout")

	d, rerr := store.Remaining(s.ctx(), "hash-h")
	s.Require().NoError(rerr)
	s.Zero(d, "record is deleted even when the index fails")
}
