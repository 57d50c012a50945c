package daemon

import (
	"context"
	"fmt"
	"time"
)

// Job types.
const (
	JobPipelineRun   = "pipeline_run"
	JobMentionsCheck = "mentions_check"
	JobGrowthEngage  = "growth_engage"
	JobWatchTick     = "watch_tick"
)

const watermarkKey = "scheduler_watermark"

// Schedule sets when recurring jobs fire. A zero interval disables that job.
type Schedule struct {
	// PipelineHour is the local hour of the daily pipeline run.
	PipelineHour  int
	MentionsEvery time.Duration
	GrowthEvery   time.Duration
	WatchEvery    time.Duration
}

// Scheduler turns the schedule into queued jobs. Slots missed while the
// daemon was down are coalesced: only the latest missed slot of each job runs.
type Scheduler struct {
	store    *Store
	location *time.Location
	schedule Schedule
}

func NewScheduler(store *Store, tzName string, schedule Schedule) (*Scheduler, error) {
	loc := time.Local
	if tzName != "" {
		var err error
		loc, err = time.LoadLocation(tzName)
		if err != nil {
			return nil, fmt.Errorf("load timezone %s: %w", tzName, err)
		}
	}
	if schedule.PipelineHour < 0 || schedule.PipelineHour > 23 {
		return nil, fmt.Errorf("pipeline hour must be 0-23, got %d", schedule.PipelineHour)
	}
	return &Scheduler{store: store, location: loc, schedule: schedule}, nil
}

// Tick enqueues every job with a slot in (watermark, now] and advances the
// watermark. The first tick only sets the watermark.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) error {
	raw, err := s.store.GetKV(ctx, watermarkKey)
	if err != nil {
		return fmt.Errorf("get scheduler watermark: %w", err)
	}
	if raw == "" {
		return s.store.SetKV(ctx, watermarkKey, now.UTC().Format(time.RFC3339))
	}
	last, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return fmt.Errorf("parse watermark: %w", err)
	}
	if !now.After(last) {
		return nil
	}

	if slot, ok := s.dailySlot(last, now, s.schedule.PipelineHour); ok {
		if err := s.enqueue(ctx, JobPipelineRun, slot); err != nil {
			return err
		}
	}
	for _, job := range []struct {
		name  string
		every time.Duration
	}{
		{JobMentionsCheck, s.schedule.MentionsEvery},
		{JobGrowthEngage, s.schedule.GrowthEvery},
		{JobWatchTick, s.schedule.WatchEvery},
	} {
		if slot, ok := intervalSlot(last, now, job.every); ok {
			if err := s.enqueue(ctx, job.name, slot); err != nil {
				return err
			}
		}
	}

	if err := s.store.SetKV(ctx, watermarkKey, now.UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("update watermark: %w", err)
	}
	return nil
}

func (s *Scheduler) enqueue(ctx context.Context, jobType string, slot time.Time) error {
	payload := map[string]any{"scheduled_time": slot.Format(time.RFC3339)}
	if _, _, err := s.store.EnqueueUnique(ctx, jobType, slot, payload); err != nil {
		return fmt.Errorf("enqueue %s at %s: %w", jobType, slot, err)
	}
	return nil
}

// dailySlot returns the latest hour:00 local time in (last, now].
func (s *Scheduler) dailySlot(last, now time.Time, hour int) (time.Time, bool) {
	local := now.In(s.location)
	slot := time.Date(local.Year(), local.Month(), local.Day(), hour, 0, 0, 0, s.location)
	if slot.After(now) {
		slot = slot.AddDate(0, 0, -1)
	}
	if !slot.After(last) {
		return time.Time{}, false
	}
	return slot, true
}

// intervalSlot returns the latest multiple of every in (last, now].
func intervalSlot(last, now time.Time, every time.Duration) (time.Time, bool) {
	if every <= 0 {
		return time.Time{}, false
	}
	slot := now.Truncate(every)
	if !slot.After(last) {
		return time.Time{}, false
	}
	return slot, true
}
