package snapshot

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"gorm.io/gorm/clause"

	"github.com/jessefreitas/noc-orquestrador-sub001/internal/apperr"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/jobs"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/models"
)

const (
	MinIntervalMinutes = 5
	MaxIntervalMinutes = 10080
	MaxRetentionDays   = 3650
	MaxRetentionCount  = 500

	// MaxDueLimit caps one scheduler pass.
	MaxDueLimit = 500

	defaultRetentionDays  = 7
	defaultRetentionCount = 14
)

// PolicyInput is a submitted policy. IntervalHours wins over IntervalMinutes.
type PolicyInput struct {
	Enabled         bool     `json:"enabled"`
	ScheduleMode    string   `json:"scheduleMode"`
	IntervalHours   *float64 `json:"intervalHours"`
	IntervalMinutes *int     `json:"intervalMinutes"`
	RetentionDays   *int     `json:"retentionDays"`
	RetentionCount  *int     `json:"retentionCount"`
}

// Rule is a normalized policy.
type Rule struct {
	Enabled         bool
	Mode            models.ScheduleMode
	IntervalMinutes *int
	RetentionDays   *int
	RetentionCount  *int
}

// Normalize validates in. An unknown mode falls back to manual and the
// interval is dropped outside interval mode; values out of bounds are
// rejected. Zero retention values mean unset.
func Normalize(in PolicyInput) (Rule, error) {
	r := Rule{Enabled: in.Enabled, Mode: models.ScheduleMode(strings.ToLower(strings.TrimSpace(in.ScheduleMode)))}
	if r.Mode != models.ScheduleInterval {
		r.Mode = models.ScheduleManual
	}

	if r.Mode == models.ScheduleInterval {
		var interval int
		switch {
		case in.IntervalHours != nil:
			interval = int(math.Round(*in.IntervalHours * 60))
		case in.IntervalMinutes != nil:
			interval = *in.IntervalMinutes
		default:
			return Rule{}, apperr.Configuration("save policy", "interval mode needs an interval")
		}
		if interval < MinIntervalMinutes || interval > MaxIntervalMinutes {
			return Rule{}, apperr.Configuration("save policy", "interval must be between %d and %d minutes", MinIntervalMinutes, MaxIntervalMinutes)
		}
		r.IntervalMinutes = &interval
	}

	var err error
	if r.RetentionDays, err = bounded("retention days", in.RetentionDays, MaxRetentionDays); err != nil {
		return Rule{}, err
	}
	if r.RetentionCount, err = bounded("retention count", in.RetentionCount, MaxRetentionCount); err != nil {
		return Rule{}, err
	}
	return r, nil
}

func bounded(name string, v *int, max int) (*int, error) {
	if v == nil || *v == 0 {
		return nil, nil
	}
	if *v < 1 || *v > max {
		return nil, apperr.Configuration("save policy", "%s must be between 1 and %d", name, max)
	}
	n := *v
	return &n, nil
}

// RetentionActive reports whether p prunes anything.
func RetentionActive(p *models.SnapshotPolicy) bool {
	return p != nil && (positive(p.RetentionDays) || positive(p.RetentionCount))
}

func positive(v *int) bool { return v != nil && *v > 0 }

// nextRun is now+interval for an enabled interval policy, nil otherwise.
func nextRun(p *models.SnapshotPolicy, now time.Time) *time.Time {
	if !p.Enabled || p.ScheduleMode != models.ScheduleInterval || !positive(p.IntervalMinutes) {
		return nil
	}
	t := now.Add(time.Duration(*p.IntervalMinutes) * time.Minute)
	return &t
}

func defaultPolicy(srv *models.Server) *models.SnapshotPolicy {
	days, count := defaultRetentionDays, defaultRetentionCount
	return &models.SnapshotPolicy{
		Scope:          srv.Scope,
		ServerID:       srv.ID,
		ScheduleMode:   models.ScheduleManual,
		RetentionDays:  &days,
		RetentionCount: &count,
	}
}

// Policy returns the server's policy, or an unsaved default one.
func (s *Service) Policy(ctx context.Context, serverID uint) (*models.SnapshotPolicy, error) {
	srv, err := s.loadServer(ctx, serverID)
	if err != nil {
		return nil, err
	}
	p, err := s.findPolicy(ctx, serverID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return defaultPolicy(srv), nil
	}
	return p, nil
}

// SavePolicy upserts the server's policy. Enabling an interval policy seeds
// next_run_at one interval from now; anything else clears it.
func (s *Service) SavePolicy(ctx context.Context, serverID uint, in PolicyInput, actor string) (*models.SnapshotPolicy, error) {
	rule, err := Normalize(in)
	if err != nil {
		return nil, err
	}
	srv, err := s.loadServer(ctx, serverID)
	if err != nil {
		return nil, err
	}
	before, err := s.findPolicy(ctx, serverID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	p := models.SnapshotPolicy{
		Scope:           srv.Scope,
		ServerID:        srv.ID,
		Enabled:         rule.Enabled,
		ScheduleMode:    rule.Mode,
		IntervalMinutes: rule.IntervalMinutes,
		RetentionDays:   rule.RetentionDays,
		RetentionCount:  rule.RetentionCount,
		UpdatedBy:       actor,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	p.NextRunAt = nextRun(&p, now)
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "server_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"enabled", "schedule_mode", "interval_minutes", "retention_days", "retention_count",
			"next_run_at", "updated_by", "updated_at",
		}),
	}).Create(&p).Error
	if err != nil {
		return nil, fmt.Errorf("save policy of server %d: %w", serverID, err)
	}

	after, err := s.findPolicy(ctx, serverID)
	if err != nil {
		return nil, err
	}
	s.tracker.Audit(ctx, jobs.Event{
		Scope: srv.Scope, Actor: actor, Action: "snapshot.policy.updated",
		TargetType: "server", TargetID: fmt.Sprint(serverID), Before: before, After: after,
	})
	s.logger.Info("snapshot policy saved", "serverId", serverID, "enabled", after.Enabled, "mode", after.ScheduleMode)
	return after, nil
}

// Due returns enabled interval policies whose next run is unset or past,
// oldest first, at most limit (clamped to 1..500).
func (s *Service) Due(ctx context.Context, limit int) ([]models.SnapshotPolicy, error) {
	limit = clamp(limit, 1, MaxDueLimit)
	var out []models.SnapshotPolicy
	err := s.db.WithContext(ctx).
		Joins("JOIN servers ON servers.id = snapshot_policies.server_id").
		Where("snapshot_policies.enabled = ? AND snapshot_policies.schedule_mode = ?", true, models.ScheduleInterval).
		Where("snapshot_policies.interval_minutes IS NOT NULL AND snapshot_policies.interval_minutes > 0").
		Where("snapshot_policies.next_run_at IS NULL OR snapshot_policies.next_run_at <= ?", s.clock.Now()).
		Order("CASE WHEN snapshot_policies.next_run_at IS NULL THEN 0 ELSE 1 END, snapshot_policies.next_run_at, snapshot_policies.id").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("due policies: %w", err)
	}
	return out, nil
}

// PolicyOverview is one server of a project with its policy, if any.
type PolicyOverview struct {
	ServerID         uint                   `json:"serverId"`
	ServerExternalID string                 `json:"serverExternalId"`
	ServerName       string                 `json:"serverName"`
	ServerStatus     string                 `json:"serverStatus"`
	AccountLabel     string                 `json:"accountLabel"`
	Policy           *models.SnapshotPolicy `json:"policy"`
}

// Overview lists a project's servers by name with their policies.
func (s *Service) Overview(ctx context.Context, scope models.Scope) ([]PolicyOverview, error) {
	var servers []models.Server
	if err := s.db.WithContext(ctx).Where("company_id = ? AND project_id = ?", scope.CompanyID, scope.ProjectID).
		Order("name, id").Find(&servers).Error; err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}
	if len(servers) == 0 {
		return []PolicyOverview{}, nil
	}
	ids := make([]uint, len(servers))
	acctIDs := make([]uint, len(servers))
	for i, srv := range servers {
		ids[i], acctIDs[i] = srv.ID, srv.ProviderAccountID
	}

	var policies []models.SnapshotPolicy
	if err := s.db.WithContext(ctx).Where("server_id IN ?", ids).Find(&policies).Error; err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	byServer := make(map[uint]*models.SnapshotPolicy, len(policies))
	for i := range policies {
		byServer[policies[i].ServerID] = &policies[i]
	}
	var accts []models.ProviderAccount
	if err := s.db.WithContext(ctx).Where("id IN ?", acctIDs).Find(&accts).Error; err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	labels := make(map[uint]string, len(accts))
	for _, a := range accts {
		labels[a.ID] = a.Label
	}

	out := make([]PolicyOverview, 0, len(servers))
	for _, srv := range servers {
		out = append(out, PolicyOverview{
			ServerID: srv.ID, ServerExternalID: srv.ExternalID, ServerName: srv.Name,
			ServerStatus: srv.Status, AccountLabel: labels[srv.ProviderAccountID], Policy: byServer[srv.ID],
		})
	}
	return out, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
