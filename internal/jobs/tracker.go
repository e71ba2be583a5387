// Package jobs records the operational trail: one JobRun per sync, snapshot or
// retention pass and an immutable AuditEvent per mutation. Nothing in the
// control flow reads these rows back, so write failures are logged and
// swallowed.
package jobs

import (
	"context"
	"encoding/json"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/jessefreitas/noc-orquestrador-sub001/internal/clock"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/logging"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/models"
)

// Publisher fans trail entries out to an event stream.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload []byte) error
}

type Tracker struct {
	db     *gorm.DB
	clock  clock.Clock
	logger logging.Logger
	pub    Publisher
}

// Event is an audit entry before persistence.
type Event struct {
	models.Scope
	Actor      string
	Action     string
	TargetType string
	TargetID   string
	Before     any
	After      any
}

// New builds a tracker. pub may be nil.
func New(db *gorm.DB, clk clock.Clock, logger logging.Logger, pub Publisher) *Tracker {
	return &Tracker{db: db, clock: clk, logger: logger, pub: pub}
}

// Start opens a running JobRun and returns its id, or 0 if it could not be
// written.
func (t *Tracker) Start(ctx context.Context, scope models.Scope, jobType string, meta map[string]any) uint {
	job := models.JobRun{
		Scope:     scope,
		JobType:   jobType,
		Status:    models.StatusRunning,
		Meta:      JSON(correlation(ctx, meta)),
		StartedAt: t.clock.Now(),
	}
	if err := t.db.WithContext(ctx).Create(&job).Error; err != nil {
		t.logger.Error("job start failed", "jobType", jobType, "error", err)
		return 0
	}
	return job.ID
}

// Finish closes job id, merging meta into what Start recorded. It still
// writes when ctx has been cancelled.
func (t *Tracker) Finish(ctx context.Context, id uint, status models.RunStatus, message string, meta map[string]any) {
	if id == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	var job models.JobRun
	if err := t.db.WithContext(ctx).First(&job, id).Error; err != nil {
		t.logger.Error("job finish lookup failed", "jobId", id, "error", err)
		return
	}
	merged := map[string]any{}
	_ = json.Unmarshal(job.Meta, &merged)
	for k, v := range meta {
		merged[k] = v
	}
	now := t.clock.Now()
	err := t.db.WithContext(ctx).Model(&job).Updates(map[string]any{
		"status":      status,
		"message":     message,
		"meta":        JSON(merged),
		"finished_at": now,
	}).Error
	if err != nil {
		t.logger.Error("job finish failed", "jobId", id, "error", err)
		return
	}
	job.Status, job.Message, job.Meta, job.FinishedAt = status, message, JSON(merged), &now
	t.publish(ctx, "noc.job."+job.JobType, job)
}

// Audit appends an AuditEvent, also after ctx was cancelled.
func (t *Tracker) Audit(ctx context.Context, e Event) {
	ctx = context.WithoutCancel(ctx)
	row := models.AuditEvent{
		Scope:      e.Scope,
		Actor:      e.Actor,
		Action:     e.Action,
		TargetType: e.TargetType,
		TargetID:   e.TargetID,
		Before:     JSON(e.Before),
		After:      JSON(e.After),
		CreatedAt:  t.clock.Now(),
	}
	if row.Actor == "" {
		row.Actor = "system"
	}
	if err := t.db.WithContext(ctx).Create(&row).Error; err != nil {
		t.logger.Error("audit write failed", "action", e.Action, "error", err)
		return
	}
	t.publish(ctx, "noc.audit."+e.Action, row)
}

func (t *Tracker) publish(ctx context.Context, subject string, v any) {
	if t.pub == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := t.pub.Publish(ctx, subject, b); err != nil {
		t.logger.Warn("event publish failed", "subject", subject, "error", err)
	}
}

// JSON marshals v for a JSON column; nil stays NULL.
func JSON(v any) datatypes.JSON {
	if v == nil {
		return nil
	}
	if m, ok := v.(map[string]any); ok && m == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}
