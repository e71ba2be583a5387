// Package accounts manages provider accounts: sealed credentials, status
// bookkeeping and the account list walked by sweeps.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"gorm.io/gorm"

	"github.com/jessefreitas/noc-orquestrador-sub001/internal/apperr"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/clock"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/jobs"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/lock"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/logging"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/models"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/provider"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/vault"
)

const ProviderName = "hetzner"

// API is the subset of the provider client used here.
type API interface {
	Execute(ctx context.Context, token string, op provider.Operation, params map[string]string, query url.Values, body any) (*provider.Response, error)
}

type Service struct {
	db      *gorm.DB
	vault   *vault.Vault
	api     API
	tracker *jobs.Tracker
	locker  *lock.AccountLocker
	clock   clock.Clock
	logger  logging.Logger
}

func New(db *gorm.DB, v *vault.Vault, api API, tracker *jobs.Tracker, locker *lock.AccountLocker, clk clock.Clock, logger logging.Logger) *Service {
	return &Service{db: db, vault: v, api: api, tracker: tracker, locker: locker, clock: clk, logger: logger}
}

type CreateInput struct {
	models.Scope
	Label string `json:"label"`
	Token string `json:"token"`
}

type UpdateInput struct {
	Label string `json:"label"`
	// Token rotates the credential when non-empty.
	Token string `json:"token"`
}

type Filter struct {
	CompanyID uint
	ProjectID uint
	Limit     int
}

type TestResult struct {
	OK         bool                 `json:"ok"`
	Status     models.AccountStatus `json:"status"`
	HTTPStatus int                  `json:"httpStatus"`
	Message    string               `json:"message"`
}

type DeleteResult struct {
	AccountID uint  `json:"accountId"`
	Servers   int64 `json:"servers"`
	Assets    int64 `json:"assets"`
	Policies  int64 `json:"policies"`
}

func (s *Service) Create(ctx context.Context, in CreateInput, actor string) (*models.ProviderAccount, error) {
	label, token := strings.TrimSpace(in.Label), strings.TrimSpace(in.Token)
	if in.CompanyID == 0 || in.ProjectID == 0 {
		return nil, apperr.Configuration("create account", "company and project are required")
	}
	if label == "" || token == "" {
		return nil, apperr.Configuration("create account", "label and token are required")
	}
	enc, err := s.vault.Encrypt(token)
	if err != nil {
		return nil, err
	}
	acct := models.ProviderAccount{
		Scope:           in.Scope,
		Provider:        ProviderName,
		Label:           label,
		TokenCiphertext: enc,
		TokenHint:       vault.Hint(token),
		Status:          models.AccountPending,
	}
	if err := s.db.WithContext(ctx).Create(&acct).Error; err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	s.tracker.Audit(ctx, jobs.Event{
		Scope: acct.Scope, Actor: actor, Action: "provider.account.created",
		TargetType: "provider_account", TargetID: fmt.Sprint(acct.ID),
		After: map[string]any{"label": acct.Label, "tokenHint": acct.TokenHint},
	})
	return &acct, nil
}

func (s *Service) Update(ctx context.Context, id uint, in UpdateInput, actor string) (*models.ProviderAccount, error) {
	acct, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	label := strings.TrimSpace(in.Label)
	if label == "" {
		return nil, apperr.Configuration("update account", "label is required")
	}
	before := map[string]any{"label": acct.Label, "tokenHint": acct.TokenHint, "status": acct.Status}
	updates := map[string]any{"label": label}
	if token := strings.TrimSpace(in.Token); token != "" {
		enc, err := s.vault.Encrypt(token)
		if err != nil {
			return nil, err
		}
		updates["token_ciphertext"] = enc
		updates["token_hint"] = vault.Hint(token)
		updates["status"] = models.AccountPending
		updates["last_tested_at"] = nil
	}
	if err := s.db.WithContext(ctx).Model(acct).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("update account %d: %w", id, err)
	}
	acct, err = s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.tracker.Audit(ctx, jobs.Event{
		Scope: acct.Scope, Actor: actor, Action: "provider.account.updated",
		TargetType: "provider_account", TargetID: fmt.Sprint(id), Before: before,
		After: map[string]any{"label": acct.Label, "tokenHint": acct.TokenHint, "status": acct.Status},
	})
	return acct, nil
}

func (s *Service) Get(ctx context.Context, id uint) (*models.ProviderAccount, error) {
	var acct models.ProviderAccount
	err := s.db.WithContext(ctx).Where("provider = ?", ProviderName).First(&acct, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("account", fmt.Sprintf("provider account %d", id))
	}
	if err != nil {
		return nil, fmt.Errorf("load account %d: %w", id, err)
	}
	return &acct, nil
}

// Token decrypts the account's credential.
func (s *Service) Token(acct *models.ProviderAccount) (string, error) {
	if acct.TokenCiphertext == "" {
		return "", apperr.Configuration("account token", "account %d has no token", acct.ID)
	}
	return s.vault.Decrypt(acct.TokenCiphertext)
}

// List returns every account of the provider, optionally narrowed to a
// company or project, in (company, project, id) order. Status is not a
// filter so accounts in error are retried by the next sweep.
func (s *Service) List(ctx context.Context, f Filter) ([]models.ProviderAccount, error) {
	q := s.db.WithContext(ctx).Where("provider = ?", ProviderName)
	if f.CompanyID > 0 {
		q = q.Where("company_id = ?", f.CompanyID)
	}
	if f.ProjectID > 0 {
		q = q.Where("project_id = ?", f.ProjectID)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var out []models.ProviderAccount
	if err := q.Order("company_id, project_id, id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return out, nil
}

// SetStatus records the outcome of a sync; synced also stamps last_synced_at.
// The write goes through even when ctx has been cancelled.
func (s *Service) SetStatus(ctx context.Context, id uint, status models.AccountStatus, synced bool) error {
	updates := map[string]any{"status": status}
	if synced {
		updates["last_synced_at"] = s.clock.Now()
	}
	return s.update(ctx, id, updates)
}

func (s *Service) update(ctx context.Context, id uint, updates map[string]any) error {
	return s.db.WithContext(context.WithoutCancel(ctx)).Model(&models.ProviderAccount{}).Where("id = ?", id).Updates(updates).Error
}

// Test checks the credential with a one-item server listing.
func (s *Service) Test(ctx context.Context, id uint, actor string) (*TestResult, error) {
	acct, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	res := &TestResult{}
	token, err := s.Token(acct)
	if err == nil {
		var resp *provider.Response
		resp, err = s.api.Execute(ctx, token, provider.OpListServers, nil, url.Values{"per_page": {"1"}}, nil)
		if resp != nil {
			res.HTTPStatus = resp.Status
		}
	}
	switch {
	case err == nil:
		res.OK, res.Status, res.Message = true, models.AccountActive, "credentials accepted"
	case apperr.Is(err, apperr.KindProvider):
		res.Status, res.Message = models.AccountInvalid, err.Error()
	default:
		res.Status, res.Message = models.AccountError, err.Error()
	}
	if err := s.update(ctx, id, map[string]any{"status": res.Status, "last_tested_at": s.clock.Now()}); err != nil {
		return nil, fmt.Errorf("test account %d: %w", id, err)
	}
	s.tracker.Audit(ctx, jobs.Event{
		Scope: acct.Scope, Actor: actor, Action: "provider.account.tested",
		TargetType: "provider_account", TargetID: fmt.Sprint(id),
		After: map[string]any{"ok": res.OK, "status": res.Status, "httpStatus": res.HTTPStatus},
	})
	return res, nil
}

// Delete removes the account and everything mirrored for it. Run history and
// the audit trail are kept.
func (s *Service) Delete(ctx context.Context, id uint, actor string) (*DeleteResult, error) {
	acct, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	res := &DeleteResult{AccountID: id}
	err = s.locker.WithAccount(ctx, id, func(ctx context.Context) error {
		tx := s.db.WithContext(ctx)
		servers := tx.Model(&models.Server{}).Select("id").Where("provider_account_id = ?", id)
		pol := tx.Where("server_id IN (?)", servers).Delete(&models.SnapshotPolicy{})
		if pol.Error != nil {
			return pol.Error
		}
		res.Policies = pol.RowsAffected
		srv := tx.Where("provider_account_id = ?", id).Delete(&models.Server{})
		if srv.Error != nil {
			return srv.Error
		}
		res.Servers = srv.RowsAffected
		assets := tx.Where("provider_account_id = ?", id).Delete(&models.ResourceAsset{})
		if assets.Error != nil {
			return assets.Error
		}
		res.Assets = assets.RowsAffected
		return tx.Delete(&models.ProviderAccount{}, id).Error
	})
	if err != nil {
		return nil, fmt.Errorf("delete account %d: %w", id, err)
	}
	s.tracker.Audit(ctx, jobs.Event{
		Scope: acct.Scope, Actor: actor, Action: "provider.account.deleted",
		TargetType: "provider_account", TargetID: fmt.Sprint(id),
		Before: map[string]any{"label": acct.Label}, After: res,
	})
	return res, nil
}
