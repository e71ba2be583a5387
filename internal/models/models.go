package models

import (
	"time"

	"gorm.io/datatypes"
)

// Scope is the tenant a row belongs to.
type Scope struct {
	CompanyID uint `gorm:"index;not null" json:"companyId"`
	ProjectID uint `gorm:"index;not null" json:"projectId"`
}

type AccountStatus string

const (
	AccountPending AccountStatus = "pending"
	AccountActive  AccountStatus = "active"
	AccountInvalid AccountStatus = "invalid"
	AccountError   AccountStatus = "error"
)

// ProviderAccount is a tenant's credential for one provider API. The token is
// only ever stored encrypted; TokenHint is what gets displayed.
type ProviderAccount struct {
	ID uint `gorm:"primaryKey" json:"id"`
	Scope
	Provider        string        `gorm:"size:40;not null;index" json:"provider"`
	Label           string        `gorm:"size:120;not null" json:"label"`
	TokenCiphertext string        `gorm:"type:text;not null" json:"-"`
	TokenHint       string        `gorm:"size:40" json:"tokenHint"`
	Status          AccountStatus `gorm:"size:20;not null;default:pending" json:"status"`
	LastTestedAt    *time.Time    `json:"lastTestedAt"`
	LastSyncedAt    *time.Time    `json:"lastSyncedAt"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

// ResourceAsset mirrors one remote object. (ProviderAccountID, AssetType,
// ExternalID) is the reconciliation key.
type ResourceAsset struct {
	ID uint `gorm:"primaryKey" json:"id"`
	Scope
	ProviderAccountID uint           `gorm:"not null;uniqueIndex:idx_asset_key,priority:1" json:"providerAccountId"`
	AssetType         AssetType      `gorm:"size:40;not null;uniqueIndex:idx_asset_key,priority:2" json:"assetType"`
	ExternalID        string         `gorm:"size:120;not null;uniqueIndex:idx_asset_key,priority:3" json:"externalId"`
	Name              string         `gorm:"size:255" json:"name"`
	Status            string         `gorm:"size:80" json:"status"`
	Datacenter        string         `gorm:"size:80" json:"datacenter"`
	IPv4              string         `gorm:"column:ipv4;size:64" json:"ipv4"`
	RawAttributes     datatypes.JSON `json:"rawAttributes"`
	LastSeenAt        time.Time      `json:"lastSeenAt"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
}

// Server is the denormalized server table kept beside the generic servers
// asset rows. One row per (ProviderAccountID, ExternalID).
type Server struct {
	ID uint `gorm:"primaryKey" json:"id"`
	Scope
	ProviderAccountID uint           `gorm:"not null;uniqueIndex:idx_server_key,priority:1" json:"providerAccountId"`
	ExternalID        string         `gorm:"size:120;not null;uniqueIndex:idx_server_key,priority:2" json:"externalId"`
	Name              string         `gorm:"size:255" json:"name"`
	Status            string         `gorm:"size:80" json:"status"`
	Datacenter        string         `gorm:"size:80" json:"datacenter"`
	IPv4              string         `gorm:"column:ipv4;size:64" json:"ipv4"`
	Labels            datatypes.JSON `json:"labels"`
	RawAttributes     datatypes.JSON `json:"rawAttributes"`
	LastSeenAt        time.Time      `json:"lastSeenAt"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
}

type ScheduleMode string

const (
	ScheduleManual   ScheduleMode = "manual"
	ScheduleInterval ScheduleMode = "interval"
)

// SnapshotPolicy is the per-server snapshot rule. NextRunAt only matters when
// Enabled and ScheduleMode is interval.
type SnapshotPolicy struct {
	ID uint `gorm:"primaryKey" json:"id"`
	Scope
	ServerID        uint         `gorm:"not null;uniqueIndex" json:"serverId"`
	Enabled         bool         `gorm:"not null;default:false" json:"enabled"`
	ScheduleMode    ScheduleMode `gorm:"size:20;not null;default:manual" json:"scheduleMode"`
	IntervalMinutes *int         `json:"intervalMinutes"`
	RetentionDays   *int         `json:"retentionDays"`
	RetentionCount  *int         `json:"retentionCount"`
	LastRunAt       *time.Time   `json:"lastRunAt"`
	NextRunAt       *time.Time   `gorm:"index" json:"nextRunAt"`
	LastStatus      string       `gorm:"size:20" json:"lastStatus"`
	LastError       *string      `gorm:"type:text" json:"lastError"`
	UpdatedBy       string       `gorm:"size:120" json:"updatedBy"`
	CreatedAt       time.Time    `json:"createdAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
}

type RunType string

const (
	RunManual    RunType = "manual"
	RunScheduled RunType = "scheduled"
)

type RunStatus string

const (
	StatusRunning RunStatus = "running"
	StatusSuccess RunStatus = "success"
	StatusError   RunStatus = "error"
)

// SnapshotRun is one execution attempt. Rows are never changed once
// FinishedAt is set.
type SnapshotRun struct {
	ID uint `gorm:"primaryKey" json:"id"`
	Scope
	ServerID           uint           `gorm:"not null;index" json:"serverId"`
	PolicyID           *uint          `gorm:"index" json:"policyId"`
	RunType            RunType        `gorm:"size:20;not null" json:"runType"`
	Status             RunStatus      `gorm:"size:20;not null" json:"status"`
	SnapshotExternalID string         `gorm:"size:120" json:"snapshotExternalId"`
	Message            string         `gorm:"type:text" json:"message"`
	Meta               datatypes.JSON `json:"meta"`
	StartedAt          time.Time      `gorm:"index" json:"startedAt"`
	FinishedAt         *time.Time     `json:"finishedAt"`
}

// JobRun is the operational trail of a sync, snapshot or retention pass.
type JobRun struct {
	ID uint `gorm:"primaryKey" json:"id"`
	Scope
	JobType    string         `gorm:"size:80;not null;index" json:"jobType"`
	Status     RunStatus      `gorm:"size:20;not null" json:"status"`
	Message    string         `gorm:"type:text" json:"message"`
	Meta       datatypes.JSON `json:"meta"`
	StartedAt  time.Time      `json:"startedAt"`
	FinishedAt *time.Time     `json:"finishedAt"`
}

// AuditEvent is immutable.
type AuditEvent struct {
	ID uint `gorm:"primaryKey" json:"id"`
	Scope
	Actor      string         `gorm:"size:120" json:"actor"`
	Action     string         `gorm:"size:120;not null;index" json:"action"`
	TargetType string         `gorm:"size:80" json:"targetType"`
	TargetID   string         `gorm:"size:120" json:"targetId"`
	Before     datatypes.JSON `json:"before"`
	After      datatypes.JSON `json:"after"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// All lists every model for migration.
func All() []any {
	return []any{
		&ProviderAccount{}, &ResourceAsset{}, &Server{},
		&SnapshotPolicy{}, &SnapshotRun{}, &JobRun{}, &AuditEvent{},
	}
}
