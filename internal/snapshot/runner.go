package snapshot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jessefreitas/noc-orquestrador-sub001/internal/apperr"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/jobs"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/metrics"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/models"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/provider"
)

// RunResult is the outcome of one snapshot run.
type RunResult struct {
	OK                 bool             `json:"ok"`
	Message            string           `json:"message"`
	RunID              uint             `json:"runId"`
	SnapshotExternalID string           `json:"snapshotExternalId,omitempty"`
	Retention          *RetentionResult `json:"retention,omitempty"`
}

// RunNow snapshots a server. A missing server or account is returned as an
// error before any run is recorded; everything after that ends up in the run
// record and the result.
func (s *Service) RunNow(ctx context.Context, serverID uint, runType models.RunType, actor string) (*RunResult, error) {
	tgt, err := s.resolve(ctx, serverID)
	if err != nil {
		return nil, err
	}
	policy, err := s.findPolicy(ctx, serverID)
	if err != nil {
		return nil, err
	}
	if actor == "" {
		actor = "system"
	}
	var res *RunResult
	err = s.locker.WithAccount(ctx, tgt.account.ID, func(ctx context.Context) error {
		res = s.run(ctx, tgt, policy, runType, actor)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Service) run(ctx context.Context, tgt *target, policy *models.SnapshotPolicy, runType models.RunType, actor string) *RunResult {
	srv := tgt.server
	now := s.clock.Now()
	run := models.SnapshotRun{
		Scope:     srv.Scope,
		ServerID:  srv.ID,
		RunType:   runType,
		Status:    models.StatusRunning,
		Meta:      jobs.JSON(map[string]any{"server_external_id": srv.ExternalID, "provider_account_id": tgt.account.ID}),
		StartedAt: now,
	}
	if policy != nil {
		run.PolicyID = &policy.ID
	}
	if err := s.db.WithContext(ctx).Create(&run).Error; err != nil {
		s.logger.Error("snapshot run start failed", "serverId", srv.ID, "error", err)
		return &RunResult{Message: "snapshot run could not be recorded: " + err.Error()}
	}
	jobID := s.tracker.Start(ctx, srv.Scope, "snapshot.run", map[string]any{
		"server_id": srv.ID, "server_external_id": srv.ExternalID, "run_type": runType, "run_id": run.ID,
	})

	token, err := s.accounts.Token(tgt.account)
	var resp *provider.Response
	if err == nil {
		resp, err = s.execute(ctx, srv.Scope, actor, token, provider.OpCreateImage,
			map[string]string{"id": srv.ExternalID},
			map[string]any{"type": "snapshot", "description": description(srv, now.Format("20060102150405"))})
	}
	if err != nil {
		return s.fail(ctx, &run, jobID, policy, actor, err)
	}

	snapshotID := provider.String(provider.Dig(resp.Body, "image", "id"))
	if sync, serr := s.inventory.SyncAccount(ctx, tgt.account.ID); serr != nil {
		s.logger.Warn("resync after snapshot failed", "accountId", tgt.account.ID, "error", serr)
	} else if !sync.OK {
		s.logger.Warn("resync after snapshot incomplete", "accountId", tgt.account.ID, "message", sync.Message)
	}
	s.recordOutcome(ctx, policy, models.StatusSuccess, "")

	msg := "snapshot requested and inventory refreshed."
	s.finishRun(ctx, &run, models.StatusSuccess, snapshotID, msg, map[string]any{"http_status": resp.Status, "response": resp.Body})
	s.tracker.Finish(ctx, jobID, models.StatusSuccess, msg, map[string]any{"run_id": run.ID, "snapshot_external_id": snapshotID})
	s.tracker.Audit(ctx, jobs.Event{
		Scope: srv.Scope, Actor: actor, Action: "snapshot.run.success",
		TargetType: "server", TargetID: fmt.Sprint(srv.ID),
		After: map[string]any{"run_id": run.ID, "run_type": runType, "snapshot_external_id": snapshotID},
	})
	metrics.SnapshotRuns.WithLabelValues(string(runType), string(models.StatusSuccess)).Inc()
	s.logger.Info("snapshot created", "serverId", srv.ID, "snapshotId", snapshotID, "runType", runType)

	res := &RunResult{OK: true, Message: msg, RunID: run.ID, SnapshotExternalID: snapshotID}
	retention, err := s.ApplyRetention(ctx, srv.ID, actor)
	if err != nil {
		s.logger.Warn("retention after snapshot failed", "serverId", srv.ID, "error", err)
		return res
	}
	res.Retention = retention
	if n := len(retention.Deleted); n > 0 {
		res.Message += fmt.Sprintf(" Retention removed %d old snapshot(s).", n)
	}
	return res
}

func (s *Service) fail(ctx context.Context, run *models.SnapshotRun, jobID uint, policy *models.SnapshotPolicy, actor string, err error) *RunResult {
	ctx = context.WithoutCancel(ctx)
	msg := err.Error()
	meta := map[string]any{"http_status": apperr.StatusOf(err), "kind": apperr.KindOf(err).String()}
	var ae *apperr.Error
	if errors.As(err, &ae) && len(ae.Body) > 0 {
		meta["body"] = string(ae.Body)
	}
	s.finishRun(ctx, run, models.StatusError, "", msg, meta)
	s.tracker.Finish(ctx, jobID, models.StatusError, msg, map[string]any{"run_id": run.ID})
	s.recordOutcome(ctx, policy, models.StatusError, msg)
	s.tracker.Audit(ctx, jobs.Event{
		Scope: run.Scope, Actor: actor, Action: "snapshot.run.error",
		TargetType: "server", TargetID: fmt.Sprint(run.ServerID),
		After: map[string]any{"run_id": run.ID, "run_type": run.RunType, "error": msg},
	})
	metrics.SnapshotRuns.WithLabelValues(string(run.RunType), string(models.StatusError)).Inc()
	s.logger.Error("snapshot failed", "serverId", run.ServerID, "runType", run.RunType, "error", err)
	return &RunResult{Message: "snapshot failed: " + msg, RunID: run.ID}
}

// finishRun closes the run even when ctx is already cancelled.
func (s *Service) finishRun(ctx context.Context, run *models.SnapshotRun, status models.RunStatus, snapshotID, message string, meta map[string]any) {
	ctx = context.WithoutCancel(ctx)
	now := s.clock.Now()
	run.Status, run.SnapshotExternalID, run.Message, run.FinishedAt = status, snapshotID, message, &now
	err := s.db.WithContext(ctx).Model(&models.SnapshotRun{}).Where("id = ?", run.ID).Updates(map[string]any{
		"status":               status,
		"snapshot_external_id": snapshotID,
		"message":              message,
		"meta":                 jobs.JSON(meta),
		"finished_at":          now,
	}).Error
	if err != nil {
		s.logger.Error("snapshot run finish failed", "runId", run.ID, "error", err)
	}
}

// recordOutcome stamps the policy after a run. next_run_at moves one interval
// ahead whatever the outcome; an empty errMsg clears last_error.
func (s *Service) recordOutcome(ctx context.Context, policy *models.SnapshotPolicy, status models.RunStatus, errMsg string) {
	if policy == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	now := s.clock.Now()
	updates := map[string]any{
		"last_run_at": now,
		"last_status": status,
		"last_error":  nil,
		"next_run_at": nil,
		"updated_at":  now,
	}
	if errMsg != "" {
		updates["last_error"] = errMsg
	}
	if next := nextRun(policy, now); next != nil {
		updates["next_run_at"] = *next
	}
	if err := s.db.WithContext(ctx).Model(&models.SnapshotPolicy{}).Where("id = ?", policy.ID).Updates(updates).Error; err != nil {
		s.logger.Error("policy bookkeeping failed", "policyId", policy.ID, "error", err)
	}
}

// description is unique per tenant, server and second.
func description(srv *models.Server, stamp string) string {
	name := strings.Join(strings.Fields(srv.Name), "-")
	if name == "" {
		name = "server"
	}
	return fmt.Sprintf("noc-c%d-p%d-%s-%s", srv.CompanyID, srv.ProjectID, name, stamp)
}
