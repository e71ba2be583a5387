package inventory

import (
	"context"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/jessefreitas/noc-orquestrador-sub001/internal/accounts"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/apperr"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/clock"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/jobs"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/lock"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/logging"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/models"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/provider"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/testutil"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/vault"
)

type env struct {
	db     *gorm.DB
	vault  *vault.Vault
	fake   *testutil.FakeProvider
	clock  *clock.Stub
	engine *Engine
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gdb := testutil.NewDB(t)
	v := testutil.NewVault(t)
	fake := testutil.NewFakeProvider(t)
	clk := clock.NewStub(time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC))
	logger := logging.Nop()
	client := provider.New(provider.Options{BaseURL: fake.BaseURL(), Logger: logger})
	tracker := jobs.New(gdb, clk, logger, nil)
	locker := lock.NewAccountLocker(gdb)
	accts := accounts.New(gdb, v, client, tracker, locker, clk, logger)
	eng := NewEngine(Options{
		DB: gdb, API: client, Accounts: accts, Locker: locker,
		Tracker: tracker, Clock: clk, Logger: logger, Workers: 2,
	})
	return &env{db: gdb, vault: v, fake: fake, clock: clk, engine: eng}
}

func server(id int, name, status string) map[string]any {
	return map[string]any{
		"id": id, "name": name, "status": status,
		"datacenter":  map[string]any{"name": "fsn1-dc14", "location": map[string]any{"name": "fsn1"}},
		"public_net":  map[string]any{"ipv4": map[string]any{"id": id * 10, "ip": "10.0.0.1"}},
		"server_type": map[string]any{"name": "cx22", "cores": 2, "memory": 4, "disk": 40},
		"labels":      map[string]any{"env": "prod"},
	}
}

func countAssets(t *testing.T, gdb *gorm.DB, accountID uint, typ models.AssetType) int64 {
	t.Helper()
	var n int64
	gdb.Model(&models.ResourceAsset{}).Where("provider_account_id = ? AND asset_type = ?", accountID, typ).Count(&n)
	return n
}

func TestUpsertAssetIsIdempotent(t *testing.T) {
	e := newEnv(t)
	acct := testutil.CreateAccount(t, e.db, e.vault, 1, 1, "tok")
	ctx := context.Background()

	for _, name := range []string{"vol-a", "vol-renamed"} {
		id, err := e.engine.UpsertAsset(ctx, &acct, models.AssetVolumes, provider.Item{"id": 7, "name": name, "status": "available"})
		if err != nil || id != "7" {
			t.Fatalf("upsert: id=%q err=%v", id, err)
		}
		e.clock.Advance(time.Minute)
	}
	var rows []models.ResourceAsset
	e.db.Where("provider_account_id = ?", acct.ID).Find(&rows)
	if len(rows) != 1 {
		t.Fatalf("expected one row, got %d", len(rows))
	}
	if rows[0].Name != "vol-renamed" || rows[0].Status != "available" {
		t.Fatalf("row not updated: %+v", rows[0])
	}
	if !rows[0].LastSeenAt.After(rows[0].CreatedAt) {
		t.Fatalf("last_seen_at should move forward: created=%v seen=%v", rows[0].CreatedAt, rows[0].LastSeenAt)
	}

	if id, err := e.engine.UpsertAsset(ctx, &acct, models.AssetVolumes, provider.Item{"status": "x"}); id != "" || err != nil {
		t.Fatalf("object without identity should be skipped, got %q %v", id, err)
	}
}

func TestPruneByAbsence(t *testing.T) {
	e := newEnv(t)
	acct := testutil.CreateAccount(t, e.db, e.vault, 1, 1, "tok")
	other := testutil.CreateAccount(t, e.db, e.vault, 1, 2, "tok2")
	ctx := context.Background()
	for _, id := range []string{"A", "B", "C"} {
		e.engine.UpsertAsset(ctx, &acct, models.AssetFirewalls, provider.Item{"id": id})
		e.engine.UpsertAsset(ctx, &other, models.AssetFirewalls, provider.Item{"id": id})
	}
	e.engine.UpsertAsset(ctx, &acct, models.AssetNetworks, provider.Item{"id": "B"})

	n, err := e.engine.PruneAssets(ctx, acct.ID, models.AssetFirewalls, []string{"A", "C"})
	if err != nil || n != 1 {
		t.Fatalf("prune: n=%d err=%v", n, err)
	}
	var left []string
	e.db.Model(&models.ResourceAsset{}).Where("provider_account_id = ? AND asset_type = ?", acct.ID, models.AssetFirewalls).
		Order("external_id").Pluck("external_id", &left)
	if len(left) != 2 || left[0] != "A" || left[1] != "C" {
		t.Fatalf("unexpected survivors %v", left)
	}

	if n, _ := e.engine.PruneAssets(ctx, acct.ID, models.AssetFirewalls, nil); n != 2 {
		t.Fatalf("empty observed set should delete all, deleted %d", n)
	}
	if countAssets(t, e.db, acct.ID, models.AssetNetworks) != 1 {
		t.Fatal("other asset types must not be pruned")
	}
	if countAssets(t, e.db, other.ID, models.AssetFirewalls) != 3 {
		t.Fatal("other accounts must not be pruned")
	}
}

func TestSyncAccountReconciles(t *testing.T) {
	e := newEnv(t)
	acct := testutil.CreateAccount(t, e.db, e.vault, 3, 4, "tok")
	ctx := context.Background()
	e.fake.PageSize(1)
	e.fake.Set("tok", "servers", server(1, "web-1", "running"), server(2, "web-2", "off"))
	e.fake.Set("tok", "volumes", map[string]any{"id": 11, "name": "data", "status": "available", "server": 1})
	e.fake.Set("tok", "images",
		map[string]any{"id": 21, "type": "snapshot", "description": "snap", "created_from": map[string]any{"id": 1}},
		map[string]any{"id": 22, "type": "backup", "description": "bkp"},
		map[string]any{"id": 23, "type": "system", "name": "ubuntu-24.04"},
	)
	e.db.Create(&models.ResourceAsset{Scope: acct.Scope, ProviderAccountID: acct.ID, AssetType: models.AssetLegacyImages, ExternalID: "old"})

	res, err := e.engine.SyncAccount(ctx, acct.ID)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if !res.OK || res.Total != 6 || res.Servers != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	want := map[models.AssetType]int{models.AssetServers: 2, models.AssetVolumes: 1, models.AssetSnapshots: 1, models.AssetBackups: 1, models.AssetSystemImages: 1}
	for typ, n := range want {
		if res.ByType[typ] != n {
			t.Fatalf("by_type[%s]=%d want %d", typ, res.ByType[typ], n)
		}
	}
	if countAssets(t, e.db, acct.ID, models.AssetLegacyImages) != 0 {
		t.Fatal("legacy images rows should be removed")
	}

	var got models.ProviderAccount
	e.db.First(&got, acct.ID)
	if got.Status != models.AccountActive || got.LastSyncedAt == nil || got.LastTestedAt != nil {
		t.Fatalf("account not marked active/synced: %+v", got)
	}
	var srv models.Server
	e.db.Where("external_id = ?", "1").First(&srv)
	if srv.Datacenter != "fsn1" || srv.IPv4 != "10.0.0.1" || srv.CompanyID != 3 || string(srv.Labels) != `{"env":"prod"}` {
		t.Fatalf("server row not denormalized: %+v", srv)
	}
	var job models.JobRun
	e.db.Where("job_type = ?", "provider.sync_inventory").Last(&job)
	if job.Status != models.StatusSuccess || job.FinishedAt == nil {
		t.Fatalf("job not finished: %+v", job)
	}

	var srv2 models.Server
	e.db.Where("external_id = ?", "2").First(&srv2)
	e.db.Create(&models.SnapshotPolicy{Scope: acct.Scope, ServerID: srv2.ID, ScheduleMode: models.ScheduleManual})

	// server 2 and the volume disappear remotely
	e.fake.Set("tok", "servers", server(1, "web-1", "running"))
	e.fake.Set("tok", "volumes")

	res, _ = e.engine.SyncAccount(ctx, acct.ID)
	if !res.OK || res.Servers != 1 || res.Pruned[models.AssetServers] != 1 || res.Pruned[models.AssetVolumes] != 1 {
		t.Fatalf("second pass %+v", res)
	}
	var n int64
	e.db.Model(&models.Server{}).Where("provider_account_id = ?", acct.ID).Count(&n)
	if n != 1 {
		t.Fatalf("expected 1 server row, got %d", n)
	}
	e.db.Model(&models.SnapshotPolicy{}).Count(&n)
	if n != 0 {
		t.Fatal("policy of pruned server should be removed")
	}
}

func TestSyncAccountFailureKeepsPartialRows(t *testing.T) {
	e := newEnv(t)
	acct := testutil.CreateAccount(t, e.db, e.vault, 1, 1, "tok")
	e.fake.Set("tok", "servers", server(1, "web-1", "running"))
	e.fake.Fail("GET", "/volumes", 503)

	res, err := e.engine.SyncAccount(context.Background(), acct.ID)
	if err != nil {
		t.Fatalf("provider failures must not surface as errors: %v", err)
	}
	if res.OK || res.ByType[models.AssetServers] != 1 {
		t.Fatalf("expected partial failure, got %+v", res)
	}
	var got models.ProviderAccount
	e.db.First(&got, acct.ID)
	if got.Status != models.AccountError || got.LastSyncedAt != nil {
		t.Fatalf("failure should set error and keep last_synced_at: %+v", got)
	}
	if countAssets(t, e.db, acct.ID, models.AssetServers) != 1 {
		t.Fatal("rows upserted before the failure must remain")
	}
	var job models.JobRun
	e.db.Where("job_type = ?", "provider.sync_inventory").Last(&job)
	if job.Status != models.StatusError {
		t.Fatalf("job should be error: %+v", job)
	}
}

func TestSyncAccountBadCiphertext(t *testing.T) {
	e := newEnv(t)
	acct := testutil.CreateAccount(t, e.db, e.vault, 1, 1, "tok")
	e.db.Model(&acct).Update("token_ciphertext", "AAAA")
	res, err := e.engine.SyncAccount(context.Background(), acct.ID)
	if err != nil || res.OK {
		t.Fatalf("crypto failure should be recorded: res=%+v err=%v", res, err)
	}
	if e.fake.Hits("GET", "/servers") != 0 {
		t.Fatal("no request should be made without a token")
	}
}

func TestSyncAccountNotFound(t *testing.T) {
	e := newEnv(t)
	if _, err := e.engine.SyncAccount(context.Background(), 999); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSyncAllContinuesOnError(t *testing.T) {
	e := newEnv(t)
	a1 := testutil.CreateAccount(t, e.db, e.vault, 1, 1, "tok-1")
	a2 := testutil.CreateAccount(t, e.db, e.vault, 1, 2, "invalid")
	a3 := testutil.CreateAccount(t, e.db, e.vault, 2, 1, "tok-3")
	e.fake.Set("tok-1", "servers", server(1, "a", "running"))
	e.fake.Set("tok-3", "servers", server(3, "c", "running"), server(4, "d", "running"))

	report, err := e.engine.SyncAll(context.Background(), accounts.Filter{Limit: 100})
	if err != nil {
		t.Fatalf("sync all: %v", err)
	}
	if report.Total != 3 || report.OK != 2 || report.Failed != 1 {
		t.Fatalf("unexpected tallies %+v", report)
	}
	ids := []uint{a1.ID, a2.ID, a3.ID}
	for i, it := range report.Items {
		if it.AccountID != ids[i] {
			t.Fatalf("item %d is account %d, want %d", i, it.AccountID, ids[i])
		}
	}
	if !report.Items[0].OK || report.Items[1].OK || !report.Items[2].OK {
		t.Fatalf("wrong item outcomes %+v", report.Items)
	}
	if report.Items[2].Total != 2 {
		t.Fatalf("account 3 total=%d", report.Items[2].Total)
	}
	if report.SweepID == "" {
		t.Fatal("sweep id missing")
	}

	filtered, _ := e.engine.SyncAll(context.Background(), accounts.Filter{CompanyID: 2})
	if filtered.Total != 1 || filtered.Items[0].AccountID != a3.ID {
		t.Fatalf("company filter ignored: %+v", filtered)
	}
}

// cancellingFetcher cancels the caller's context before the first listing.
type cancellingFetcher struct {
	Fetcher
	cancel context.CancelFunc
}

func (c *cancellingFetcher) FetchAll(ctx context.Context, token string, d provider.Descriptor) ([]provider.Item, error) {
	c.cancel()
	return c.Fetcher.FetchAll(ctx, token, d)
}

func TestSyncAccountCancelledStillRecordsOutcome(t *testing.T) {
	e := newEnv(t)
	acct := testutil.CreateAccount(t, e.db, e.vault, 1, 1, "tok")
	e.fake.Set("tok", "servers", server(1, "web-1", "running"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eng := *e.engine
	eng.api = &cancellingFetcher{Fetcher: e.engine.api, cancel: cancel}

	res, err := eng.SyncAccount(ctx, acct.ID)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.OK {
		t.Fatalf("cancelled sync reported ok: %+v", res)
	}
	var got models.ProviderAccount
	e.db.First(&got, acct.ID)
	if got.Status != models.AccountError {
		t.Fatalf("status not recorded: %s", got.Status)
	}
	var job models.JobRun
	e.db.Where("job_type = ?", "provider.sync_inventory").Last(&job)
	if job.Status != models.StatusError || job.FinishedAt == nil {
		t.Fatalf("job left open: %+v", job)
	}
}
