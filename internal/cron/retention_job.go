package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/localcommerce-settlement/pkg/logger"
)

const (
	defaultRetention      = 30 * 24 * time.Hour
	defaultRetentionEvery = 24 * time.Hour
)

// DeleteBeforeFunc removes rows older than cutoff and returns how many went.
type DeleteBeforeFunc func(ctx context.Context, cutoff time.Time) (int64, error)

// RetentionJobParams configure a table retention job.
type RetentionJobParams struct {
	Name      string
	Logger    *logger.Logger
	Retention time.Duration
	Delete    DeleteBeforeFunc

	// Every is how often the job runs; defaults to daily.
	Every time.Duration
}

// NewRetentionJob builds a job that prunes rows past the retention window,
// e.g. published outbox events or read notifications.
func NewRetentionJob(params RetentionJobParams) (Job, error) {
	if params.Name == "" {
		return nil, fmt.Errorf("job name required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Delete == nil {
		return nil, fmt.Errorf("delete func required")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = defaultRetention
	}
	every := params.Every
	if every <= 0 {
		every = defaultRetentionEvery
	}
	return &retentionJob{
		name:      params.Name,
		logg:      params.Logger,
		retention: retention,
		every:     every,
		delete:    params.Delete,
		now:       time.Now,
	}, nil
}

type retentionJob struct {
	name      string
	logg      *logger.Logger
	retention time.Duration
	every     time.Duration
	delete    DeleteBeforeFunc
	now       func() time.Time
}

func (j *retentionJob) Name() string { return j.name }

func (j *retentionJob) Every() time.Duration { return j.every }

func (j *retentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	deleted, err := j.delete(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("%s: %w", j.name, err)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"retention":    j.retention.String(),
		"rows_deleted": deleted,
	}), "retention cleanup complete")
	return nil
}
