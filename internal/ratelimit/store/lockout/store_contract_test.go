package lockout

import (
	"context"
	"time"

	"github.com/stretchr/testify/suite"

	"bruteguard/pkg/testutil"
)

type expiryIndex interface {
	Record(ctx context.Context, hash string, expiresAt time.Time) error
	Remove(ctx context.Context, hash string) error
	AnyAfter(ctx context.Context, cutoff time.Time) (bool, error)
	Prune(ctx context.Context, before time.Time) (int, error)
}

type indexContractSuite struct {
	suite.Suite
	newIndex func() expiryIndex
	index    expiryIndex
	ctx      context.Context
	now      time.Time
}

func (s *indexContractSuite) SetupTest() {
	s.index = s.newIndex()
	s.ctx = context.Background()
	s.now = testutil.TestTime
}

func (s *indexContractSuite) TestAnyAfter() {
	s.Run("empty index", func() {
		found, err := s.index.AnyAfter(s.ctx, s.now)
		s.Require().NoError(err)
		s.False(found)
	})

	s.Require().NoError(s.index.Record(s.ctx, "hash-a", s.now.Add(15*time.Minute)))

	s.Run("cutoff before expiry", func() {
		found, err := s.index.AnyAfter(s.ctx, s.now.Add(14*time.Minute))
		s.Require().NoError(err)
		s.True(found)
	})

	s.Run("cutoff at expiry is exclusive", func() {
		found, err := s.index.AnyAfter(s.ctx, s.now.Add(15*time.Minute))
		s.Require().NoError(err)
		s.False(found)
	})

	s.Run("record replaces the previous expiry", func() {
		s.Require().NoError(s.index.Record(s.ctx, "hash-a", s.now.Add(time.Minute)))
		found, err := s.index.AnyAfter(s.ctx, s.now.Add(2*time.Minute))
		s.Require().NoError(err)
		s.False(found)
	})

	s.Run("remove drops the entry", func() {
		s.Require().NoError(s.index.Remove(s.ctx, "hash-a"))
		found, err := s.index.AnyAfter(s.ctx, s.now.Add(-time.Hour))
		s.Require().NoError(err)
		s.False(found)
		s.Require().NoError(s.index.Remove(s.ctx, "hash-a"), "removing twice is fine")
	})
}

func (s *indexContractSuite) TestPrune() {
	s.Require().NoError(s.index.Record(s.ctx, "old", s.now.Add(-30*time.Minute)))
	s.Require().NoError(s.index.Record(s.ctx, "edge", s.now.Add(-10*time.Minute)))
	s.Require().NoError(s.index.Record(s.ctx, "recent", s.now.Add(-5*time.Minute)))
	s.Require().NoError(s.index.Record(s.ctx, "active", s.now.Add(5*time.Minute)))

	removed, err := s.index.Prune(s.ctx, s.now.Add(-10*time.Minute))
	s.Require().NoError(err)
	s.Equal(2, removed)

	found, err := s.index.AnyAfter(s.ctx, s.now.Add(-6*time.Minute))
	s.Require().NoError(err)
	s.True(found, "recent and active entries survive")

	found, err = s.index.AnyAfter(s.ctx, s.now.Add(5*time.Minute))
	s.Require().NoError(err)
	s.False(found)
}
