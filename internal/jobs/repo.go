package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

type Repo struct {
	DB *gorm.DB

	// Now is overridable in tests.
	Now func() time.Time
}

func (r *Repo) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

// Create inserts a new queued job.
func (r *Repo) Create(ctx context.Context, j *Job) error {
	if j.Status == "" {
		j.Status = StatusQueued
	}
	if j.Status != StatusQueued {
		return fmt.Errorf("%w: new job must be queued, got %s", ErrInvalidTransition, j.Status)
	}
	if j.ModelName == "" {
		j.ModelName = DefaultModelName
	}
	if j.Language == "" {
		j.Language = DefaultLanguage
	}
	if j.SegmentSec <= 0 {
		j.SegmentSec = DefaultSegmentSec
	}
	j.Progress = 0
	j.StartedAt, j.FinishedAt = nil, nil
	j.OutputText, j.ErrorMessage = "", ""
	if j.CreatedAt.IsZero() {
		j.CreatedAt = r.now()
	}
	return r.DB.WithContext(ctx).Create(j).Error
}

func (r *Repo) Get(ctx context.Context, id uint64) (*Job, error) {
	var j Job
	if err := r.DB.WithContext(ctx).First(&j, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &j, nil
}

// List returns the newest jobs first. A nil userID lists all owners.
func (r *Repo) List(ctx context.Context, userID *uint64, limit int) ([]Job, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := r.DB.WithContext(ctx).Model(&Job{})
	if userID != nil {
		q = q.Where("user_id = ?", *userID)
	}
	var out []Job
	err := q.Order("created_at desc, id desc").Limit(limit).Find(&out).Error
	return out, err
}

// Claim leases the oldest queued job (ties broken by id) and moves it to
// running in the same atomic unit. It returns nil, nil when nothing is queued.
func (r *Repo) Claim(ctx context.Context, workerID string) (*Job, error) {
	now := r.now()
	var job Job

	if r.DB.Dialector.Name() == "postgres" {
		// FOR UPDATE SKIP LOCKED ensures no double-claim
		err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return tx.Raw(`
with cte as (
  select id
  from jobs
  where status = 'queued'
  order by created_at asc, id asc
  limit 1
  for update skip locked
)
update jobs
set status = 'running', started_at = ?, progress = 0, error_message = '',
    worker_id = ?, heartbeat_at = ?, finished_at = null, updated_at = ?
where id in (select id from cte)
returning *;
`, now, workerID, now, now).Scan(&job).Error
		})
		if err != nil {
			return nil, err
		}
	} else {
		// single writer: one statement is atomic
		err := r.DB.WithContext(ctx).Raw(`
update jobs
set status = 'running', started_at = ?, progress = 0, error_message = '',
    worker_id = ?, heartbeat_at = ?, finished_at = null, updated_at = ?
where id = (
  select id from jobs
  where status = 'queued'
  order by created_at asc, id asc
  limit 1
) and status = 'queued'
returning *;
`, now, workerID, now, now).Scan(&job).Error
		if err != nil {
			return nil, err
		}
	}

	if job.ID == 0 {
		return nil, nil
	}
	return &job, nil
}

// UpdateProgress writes the progress column alone. It never lowers the
// stored value and only applies while workerID holds the lease. 100 is
// reserved for MarkDone.
func (r *Repo) UpdateProgress(ctx context.Context, id uint64, workerID string, progress int) error {
	if progress < 0 || progress >= 100 {
		return fmt.Errorf("progress out of range: %d", progress)
	}
	res := r.DB.WithContext(ctx).Exec(
		`update jobs set progress = ? where id = ? and status = 'running' and worker_id = ? and progress <= ?`,
		progress, id, workerID, progress,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}
	// a lower value is a no-op for the holder; anything else lost the lease
	return r.checkLease(ctx, id, workerID)
}

// MarkDone is the only path to done.
func (r *Repo) MarkDone(ctx context.Context, id uint64, workerID, output string) error {
	now := r.now()
	res := r.DB.WithContext(ctx).Exec(`
update jobs
set status = 'done', progress = 100, output_text = ?, finished_at = ?,
    heartbeat_at = null, updated_at = ?
where id = ? and status = 'running' and worker_id = ?`, output, now, now, id, workerID)
	return r.checkTransition(ctx, res, id, workerID)
}

// MarkFailed records a terminal error. output_text is left untouched.
func (r *Repo) MarkFailed(ctx context.Context, id uint64, workerID, msg string) error {
	if msg == "" {
		msg = "InternalError: unknown failure"
	}
	now := r.now()
	res := r.DB.WithContext(ctx).Exec(`
update jobs
set status = 'error', error_message = ?, finished_at = ?,
    heartbeat_at = null, updated_at = ?
where id = ? and status = 'running' and worker_id = ?`, msg, now, now, id, workerID)
	return r.checkTransition(ctx, res, id, workerID)
}

// Requeue moves an errored job back to queued. The last error_message stays
// visible until the next claim clears it.
func (r *Repo) Requeue(ctx context.Context, id uint64) error {
	res := r.DB.WithContext(ctx).Exec(`
update jobs
set status = 'queued', progress = 0, output_text = '', started_at = null,
    finished_at = null, worker_id = null, heartbeat_at = null, updated_at = ?
where id = ? and status = 'error'`, r.now(), id)
	return r.checkTransition(ctx, res, id, "")
}

// Heartbeat refreshes the lease liveness column for the holder.
func (r *Repo) Heartbeat(ctx context.Context, id uint64, workerID string) error {
	return r.DB.WithContext(ctx).Exec(
		`update jobs set heartbeat_at = ? where id = ? and status = 'running' and worker_id = ?`,
		r.now(), id, workerID,
	).Error
}

// ReclaimStale returns running jobs whose heartbeat is older than
// olderThan to the queue. Callers only invoke it when a lease timeout is set.
func (r *Repo) ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	now := r.now()
	res := r.DB.WithContext(ctx).Exec(`
update jobs
set status = 'queued', progress = 0, started_at = null, worker_id = null,
    heartbeat_at = null, updated_at = ?
where status = 'running' and heartbeat_at is not null and heartbeat_at < ?`,
		now, now.Add(-olderThan))
	return res.RowsAffected, res.Error
}

// ReferencedInputs lists every input artifact path known to the store.
func (r *Repo) ReferencedInputs(ctx context.Context) ([]string, error) {
	var paths []string
	err := r.DB.WithContext(ctx).Model(&Job{}).Where("input_path <> ''").Pluck("input_path", &paths).Error
	return paths, err
}

func (r *Repo) checkTransition(ctx context.Context, res *gorm.DB, id uint64, workerID string) error {
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}
	if workerID != "" {
		return r.checkLease(ctx, id, workerID)
	}
	var n int64
	if err := r.DB.WithContext(ctx).Model(&Job{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return ErrInvalidTransition
}

// checkLease explains why a holder-scoped write matched no row.
func (r *Repo) checkLease(ctx context.Context, id uint64, workerID string) error {
	var j Job
	err := r.DB.WithContext(ctx).Select("id", "status", "worker_id").First(&j, id).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case err != nil:
		return err
	case j.Status != StatusRunning:
		return ErrInvalidTransition
	case j.WorkerID == nil || *j.WorkerID != workerID:
		return ErrLeaseLost
	}
	return nil
}
