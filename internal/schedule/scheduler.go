package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/glizzus/alfira/internal/repository"
)

// Firer starts playback of a due schedule.
type Firer interface {
	Fire(ctx context.Context, schedule repository.PlaylistSchedule) error
}

type FirerFunc func(ctx context.Context, schedule repository.PlaylistSchedule) error

func (f FirerFunc) Fire(ctx context.Context, schedule repository.PlaylistSchedule) error {
	return f(ctx, schedule)
}

// Run is one planned firing of a schedule.
type Run struct {
	Schedule repository.PlaylistSchedule
	At       time.Time
}

// Scheduler looks one interval ahead every interval and arms a timer for
// each run time in that window.
type Scheduler struct {
	repo     repository.ScheduleRepository
	firer    Firer
	interval time.Duration
	now      func() time.Time
}

func NewScheduler(repo repository.ScheduleRepository, firer Firer, interval time.Duration) *Scheduler {
	return &Scheduler{
		repo:     repo,
		firer:    firer,
		interval: interval,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Plan lists the runs of every stored schedule in [from, to). Schedules
// with a broken cron expression are logged and left out.
func (s *Scheduler) Plan(ctx context.Context, from, to time.Time) ([]Run, error) {
	schedules, err := s.repo.ListSchedules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}

	var runs []Run
	for _, sched := range schedules {
		times, err := RunTimesBetween(sched.Cron, from, to)
		if err != nil {
			slog.Warn("skipping schedule with invalid cron", "scheduleID", sched.ID, "cron", sched.Cron, "error", err)
			continue
		}
		for _, at := range times {
			runs = append(runs, Run{Schedule: sched, At: at})
		}
	}
	return runs, nil
}

// Run arms timers window by window until ctx is done. A window whose
// plan fails is skipped, not retried.
func (s *Scheduler) Run(ctx context.Context) {
	from := s.now()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		to := from.Add(s.interval)
		s.arm(ctx, from, to)
		from = to

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) arm(ctx context.Context, from, to time.Time) {
	runs, err := s.Plan(ctx, from, to)
	if err != nil {
		slog.Error("failed to plan scheduled playback", "from", from, "to", to, "error", err)
		return
	}

	for _, run := range runs {
		slog.Debug("armed scheduled playback", "scheduleID", run.Schedule.ID, "guildID", run.Schedule.GuildID, "runAt", run.At)
		RunAt(ctx, run.At, func(ctx context.Context) {
			if err := s.firer.Fire(ctx, run.Schedule); err != nil {
				slog.Error(
					"failed to fire scheduled playback",
					"scheduleID", run.Schedule.ID,
					"guildID", run.Schedule.GuildID,
					"playlistID", run.Schedule.PlaylistID,
					"error", err,
				)
			}
		})
	}
}
