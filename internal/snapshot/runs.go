package snapshot

import (
	"context"
	"fmt"

	"github.com/jessefreitas/noc-orquestrador-sub001/internal/models"
)

// ServerRuns returns the newest runs of a server (limit clamped to 1..200).
func (s *Service) ServerRuns(ctx context.Context, serverID uint, limit int) ([]models.SnapshotRun, error) {
	var out []models.SnapshotRun
	err := s.db.WithContext(ctx).Where("server_id = ?", serverID).
		Order("started_at DESC, id DESC").Limit(clamp(limit, 1, 200)).Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("server runs: %w", err)
	}
	return out, nil
}

// ProjectRun is a run with the server it belongs to.
type ProjectRun struct {
	models.SnapshotRun
	ServerName       string `json:"serverName"`
	ServerExternalID string `json:"serverExternalId"`
}

// ProjectRuns returns the newest runs across a project (limit clamped to
// 1..300). Runs of servers that are gone are left out.
func (s *Service) ProjectRuns(ctx context.Context, scope models.Scope, limit int) ([]ProjectRun, error) {
	var out []ProjectRun
	err := s.db.WithContext(ctx).Model(&models.SnapshotRun{}).
		Select("snapshot_runs.*, servers.name AS server_name, servers.external_id AS server_external_id").
		Joins("JOIN servers ON servers.id = snapshot_runs.server_id").
		Where("snapshot_runs.company_id = ? AND snapshot_runs.project_id = ?", scope.CompanyID, scope.ProjectID).
		Order("snapshot_runs.started_at DESC, snapshot_runs.id DESC").
		Limit(clamp(limit, 1, 300)).
		Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("project runs: %w", err)
	}
	return out, nil
}
