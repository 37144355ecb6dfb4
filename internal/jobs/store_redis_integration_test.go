//go:build integration

package jobs_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"fiscalhub/internal/jobs"
	"fiscalhub/pkg/testutil/containers"
)

type RedisStoresSuite struct {
	suite.Suite
	redis    *containers.RedisContainer
	runs     *jobs.RedisRunRecorder
	schedule *jobs.RedisScheduleStore
}

func TestRedisStoresSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoresSuite))
}

func (s *RedisStoresSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
	s.runs = jobs.NewRedisRunRecorder(s.redis.Client)
	s.schedule = jobs.NewRedisScheduleStore(s.redis.Client)
}

func (s *RedisStoresSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisStoresSuite) TestMarkRunFirstWriterWins() {
	ctx := context.Background()
	const runKey = "daily_close:org-1/site-1:2026-03-14"

	first, err := s.runs.MarkRun(ctx, runKey)
	s.Require().NoError(err)
	s.True(first)

	second, err := s.runs.MarkRun(ctx, runKey)
	s.Require().NoError(err)
	s.False(second)

	ran, err := s.runs.HasRun(ctx, runKey)
	s.Require().NoError(err)
	s.True(ran)

	ran, err = s.runs.HasRun(ctx, "daily_close:org-1/site-1:2026-03-15")
	s.Require().NoError(err)
	s.False(ran)
}

func (s *RedisStoresSuite) TestScheduleRoundtrip() {
	ctx := context.Background()

	due, err := s.schedule.NextDue(ctx, "runner:org-1")
	s.Require().NoError(err)
	s.True(due.IsZero())

	want := time.Date(2026, 3, 15, 21, 0, 0, 0, time.UTC)
	s.Require().NoError(s.schedule.SetNextDue(ctx, "runner:org-1", want))

	due, err = s.schedule.NextDue(ctx, "runner:org-1")
	s.Require().NoError(err)
	s.True(due.Equal(want))

	// Timers do not leak into one another.
	due, err = s.schedule.NextDue(ctx, "runner:org-2")
	s.Require().NoError(err)
	s.True(due.IsZero())
}
