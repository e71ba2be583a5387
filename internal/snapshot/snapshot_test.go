package snapshot

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/jessefreitas/noc-orquestrador-sub001/internal/accounts"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/apperr"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/clock"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/inventory"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/jobs"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/lock"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/logging"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/models"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/provider"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/testutil"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/vault"
)

var t0 = time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

type env struct {
	db     *gorm.DB
	vault  *vault.Vault
	fake   *testutil.FakeProvider
	clock  *clock.Stub
	engine *inventory.Engine
	svc    *Service
}

func newEnv(t *testing.T, disableDelete bool) *env {
	t.Helper()
	gdb := testutil.NewDB(t)
	v := testutil.NewVault(t)
	fake := testutil.NewFakeProvider(t)
	clk := clock.NewStub(t0)
	fake.SetNow(clk.Now)
	logger := logging.Nop()
	client := provider.New(provider.Options{BaseURL: fake.BaseURL(), DisableDelete: disableDelete, Logger: logger})
	tracker := jobs.New(gdb, clk, logger, nil)
	locker := lock.NewAccountLocker(gdb)
	accts := accounts.New(gdb, v, client, tracker, locker, clk, logger)
	eng := inventory.NewEngine(inventory.Options{
		DB: gdb, API: client, Accounts: accts, Locker: locker, Tracker: tracker, Clock: clk, Logger: logger, Workers: 1,
	})
	svc := New(Options{
		DB: gdb, API: client, Accounts: accts, Inventory: eng, Locker: locker, Tracker: tracker, Clock: clk, Logger: logger,
	})
	return &env{db: gdb, vault: v, fake: fake, clock: clk, engine: eng, svc: svc}
}

// server syncs an account holding one server and returns the local row.
func (e *env) server(t *testing.T, token string, company, project uint, externalID int) models.Server {
	t.Helper()
	acct := testutil.CreateAccount(t, e.db, e.vault, company, project, token)
	e.fake.Set(token, "servers", map[string]any{"id": externalID, "name": "web one", "status": "running"})
	if res, err := e.engine.SyncAccount(context.Background(), acct.ID); err != nil || !res.OK {
		t.Fatalf("seed sync: %+v %v", res, err)
	}
	var srv models.Server
	if err := e.db.Where("provider_account_id = ?", acct.ID).First(&srv).Error; err != nil {
		t.Fatalf("server row: %v", err)
	}
	return srv
}

func snap(id int, serverID int, created time.Time) map[string]any {
	return map[string]any{
		"id": id, "type": "snapshot", "description": "old", "status": "available",
		"created": created.Format(time.RFC3339), "created_from": map[string]any{"id": serverID, "name": "web"},
	}
}

func intp(v int) *int { return &v }

func TestRunNowCreatesSnapshotAndPrunes(t *testing.T) {
	e := newEnv(t, false)
	ctx := context.Background()
	srv := e.server(t, "tok", 3, 4, 1)
	e.fake.Set("tok", "images",
		snap(501, 1, t0.Add(-72*time.Hour)),
		snap(502, 1, t0.Add(-48*time.Hour)),
		snap(503, 1, t0.Add(-24*time.Hour)),
		snap(601, 2, t0.Add(-96*time.Hour)),
	)
	if _, err := e.svc.SavePolicy(ctx, srv.ID, PolicyInput{
		Enabled: true, ScheduleMode: "interval", IntervalMinutes: intp(60), RetentionCount: intp(2),
	}, "alice"); err != nil {
		t.Fatalf("save policy: %v", err)
	}

	e.clock.Advance(time.Minute)
	res, err := e.svc.RunNow(ctx, srv.ID, models.RunManual, "alice")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.OK || res.SnapshotExternalID != "900001" {
		t.Fatalf("unexpected result %+v", res)
	}
	if !strings.Contains(res.Message, "Retention removed 2 old snapshot(s)") {
		t.Fatalf("retention summary missing: %q", res.Message)
	}
	deleted := e.fake.Deleted()
	if len(deleted) != 2 || deleted[0] != "501" || deleted[1] != "502" {
		t.Fatalf("expected the two oldest to go, got %v", deleted)
	}

	var run models.SnapshotRun
	e.db.First(&run, res.RunID)
	if run.Status != models.StatusSuccess || run.SnapshotExternalID != "900001" || run.FinishedAt == nil || run.PolicyID == nil {
		t.Fatalf("run not finished: %+v", run)
	}
	if !strings.Contains(string(run.Meta), `"http_status":201`) {
		t.Fatalf("run meta %s", run.Meta)
	}

	p, _ := e.svc.Policy(ctx, srv.ID)
	if p.LastStatus != string(models.StatusSuccess) || p.LastRunAt == nil || p.NextRunAt == nil {
		t.Fatalf("policy bookkeeping %+v", p)
	}
	if want := e.clock.Now().Add(time.Hour); !p.NextRunAt.Equal(want) {
		t.Fatalf("next_run_at %v want %v", p.NextRunAt, want)
	}

	// the mirror reflects the provider after the final resync
	var ids []string
	e.db.Model(&models.ResourceAsset{}).Where("asset_type = ?", models.AssetSnapshots).Order("external_id").Pluck("external_id", &ids)
	if strings.Join(ids, ",") != "503,601,900001" {
		t.Fatalf("mirrored snapshots %v", ids)
	}
	local, _ := e.engine.ServerSnapshots(ctx, &srv)
	if len(local) != 2 || local[0].ExternalID != "900001" {
		t.Fatalf("server snapshots %+v", local)
	}

	var audits int64
	e.db.Model(&models.AuditEvent{}).Where("action IN ?", []string{"snapshot.run.success", "snapshot.retention.deleted"}).Count(&audits)
	if audits != 2 {
		t.Fatalf("expected run and retention audits, got %d", audits)
	}
}

func TestRunNowProviderFailure(t *testing.T) {
	e := newEnv(t, false)
	ctx := context.Background()
	srv := e.server(t, "tok", 1, 1, 7)
	e.fake.Set("tok", "images", snap(501, 7, t0.Add(-400*24*time.Hour)))
	e.svc.SavePolicy(ctx, srv.ID, PolicyInput{Enabled: true, ScheduleMode: "interval", IntervalHours: ptrf(2), RetentionDays: intp(1)}, "")
	e.fake.Fail("POST", "/servers/7/actions/create_image", 422)
	syncs := e.fake.Hits("GET", "/servers")

	res, err := e.svc.RunNow(ctx, srv.ID, models.RunScheduled, "")
	if err != nil {
		t.Fatalf("provider failures must be recorded, not returned: %v", err)
	}
	if res.OK || !strings.HasPrefix(res.Message, "snapshot failed") {
		t.Fatalf("unexpected result %+v", res)
	}
	var run models.SnapshotRun
	e.db.First(&run, res.RunID)
	if run.Status != models.StatusError || run.FinishedAt == nil || !strings.Contains(string(run.Meta), `"http_status":422`) {
		t.Fatalf("run %+v meta %s", run, run.Meta)
	}
	p, _ := e.svc.Policy(ctx, srv.ID)
	if p.LastStatus != string(models.StatusError) || p.LastError == nil || *p.LastError == "" {
		t.Fatalf("policy error not recorded: %+v", p)
	}
	if p.NextRunAt == nil || !p.NextRunAt.Equal(t0.Add(2*time.Hour)) {
		t.Fatalf("failure should still schedule the next run: %v", p.NextRunAt)
	}
	if len(e.fake.Deleted()) != 0 || e.fake.Hits("GET", "/servers") != syncs {
		t.Fatal("a failed run must neither prune nor resync")
	}
}

func ptrf(v float64) *float64 { return &v }

func TestRunNowUnknownServer(t *testing.T) {
	e := newEnv(t, false)
	_, err := e.svc.RunNow(context.Background(), 42, models.RunManual, "")
	if !apperr.Is(err, apperr.KindNotFound) || !apperr.Synchronous(err) {
		t.Fatalf("expected synchronous not found, got %v", err)
	}
	var runs int64
	e.db.Model(&models.SnapshotRun{}).Count(&runs)
	if runs != 0 {
		t.Fatal("no run may be recorded for an unknown server")
	}
}

func TestRetentionHonoursDeleteKillSwitch(t *testing.T) {
	e := newEnv(t, true)
	ctx := context.Background()
	srv := e.server(t, "tok", 1, 1, 1)
	e.fake.Set("tok", "images", snap(501, 1, t0.Add(-48*time.Hour)), snap(502, 1, t0.Add(-24*time.Hour)))
	e.svc.SavePolicy(ctx, srv.ID, PolicyInput{RetentionCount: intp(1)}, "")

	res, err := e.svc.ApplyRetention(ctx, srv.ID, "")
	if err != nil {
		t.Fatalf("retention: %v", err)
	}
	if len(res.Attempted) != 1 || len(res.Deleted) != 0 || len(res.Failed) != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if e.fake.Hits("DELETE", "/images/501") != 0 {
		t.Fatal("kill switch must prevent the request")
	}
}

func TestApplyRetentionWithoutPolicy(t *testing.T) {
	e := newEnv(t, false)
	srv := e.server(t, "tok", 1, 1, 1)
	res, err := e.svc.ApplyRetention(context.Background(), srv.ID, "")
	if err != nil || !res.OK || len(res.Deleted) != 0 {
		t.Fatalf("no policy means nothing to do: %+v %v", res, err)
	}
	if res.Message != "no retention policy configured" {
		t.Fatalf("message %q", res.Message)
	}
}

func TestRunDueContinuesOnFailure(t *testing.T) {
	e := newEnv(t, false)
	ctx := context.Background()
	ok := e.server(t, "tok-a", 1, 1, 1)
	bad := e.server(t, "tok-b", 1, 2, 2)
	idle := e.server(t, "tok-c", 2, 1, 3)
	for _, id := range []uint{ok.ID, bad.ID} {
		if _, err := e.svc.SavePolicy(ctx, id, PolicyInput{Enabled: true, ScheduleMode: "interval", IntervalMinutes: intp(30)}, ""); err != nil {
			t.Fatal(err)
		}
	}
	e.svc.SavePolicy(ctx, idle.ID, PolicyInput{Enabled: true, ScheduleMode: "manual"}, "")
	e.fake.Fail("POST", "/servers/2/actions/create_image", 500)

	report, err := e.svc.RunDue(ctx, 20)
	if err != nil || report.Processed != 0 {
		t.Fatalf("nothing is due yet: %+v %v", report, err)
	}

	e.clock.Advance(31 * time.Minute)
	report, err = e.svc.RunDue(ctx, 20)
	if err != nil {
		t.Fatalf("run due: %v", err)
	}
	if report.Processed != 2 || report.Success != 1 || report.Failed != 1 {
		t.Fatalf("unexpected tallies %+v", report)
	}
	if report.Details[0].ServerID != ok.ID || !report.Details[0].OK || report.Details[1].OK {
		t.Fatalf("details %+v", report.Details)
	}

	report, _ = e.svc.RunDue(ctx, 20)
	if report.Processed != 0 {
		t.Fatalf("both policies were rescheduled, got %+v", report)
	}
}

// cancellingAPI cancels the caller's context right before the provider call,
// like a client that disconnects mid-request.
type cancellingAPI struct {
	API
	cancel context.CancelFunc
}

func (c *cancellingAPI) Execute(ctx context.Context, token string, op provider.Operation, params map[string]string, query url.Values, body any) (*provider.Response, error) {
	c.cancel()
	return c.API.Execute(ctx, token, op, params, query, body)
}

func TestRunNowCancelledStillFinishesRecords(t *testing.T) {
	e := newEnv(t, false)
	srv := e.server(t, "tok-a", 1, 1, 42)
	if _, err := e.svc.SavePolicy(context.Background(), srv.ID, PolicyInput{Enabled: true, ScheduleMode: "interval", IntervalMinutes: intp(60)}, ""); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc := *e.svc
	svc.api = &cancellingAPI{API: e.svc.api, cancel: cancel}

	res, err := svc.RunNow(ctx, srv.ID, models.RunManual, "tester")
	if err != nil {
		t.Fatalf("run now: %v", err)
	}
	if res.OK || !strings.Contains(res.Message, "context canceled") {
		t.Fatalf("unexpected result %+v", res)
	}

	var run models.SnapshotRun
	if err := e.db.First(&run, res.RunID).Error; err != nil {
		t.Fatal(err)
	}
	if run.Status != models.StatusError || run.FinishedAt == nil {
		t.Fatalf("run left open: status=%s finished=%v", run.Status, run.FinishedAt)
	}
	var job models.JobRun
	if err := e.db.Where("job_type = ?", "snapshot.run").Order("id DESC").First(&job).Error; err != nil {
		t.Fatal(err)
	}
	if job.Status != models.StatusError || job.FinishedAt == nil {
		t.Fatalf("job left open: status=%s finished=%v", job.Status, job.FinishedAt)
	}
	p, _ := e.svc.Policy(context.Background(), srv.ID)
	if p.LastStatus != string(models.StatusError) || p.LastRunAt == nil {
		t.Fatalf("policy outcome missing: %+v", p)
	}
	if p.NextRunAt == nil || !p.NextRunAt.Equal(t0.Add(time.Hour)) {
		t.Fatalf("next_run_at %v", p.NextRunAt)
	}
}

func TestSuccessClearsLastError(t *testing.T) {
	e := newEnv(t, false)
	ctx := context.Background()
	srv := e.server(t, "tok-a", 1, 1, 42)
	if _, err := e.svc.SavePolicy(ctx, srv.ID, PolicyInput{Enabled: true, ScheduleMode: "interval", IntervalMinutes: intp(60)}, ""); err != nil {
		t.Fatal(err)
	}
	e.fake.Fail("POST", "/servers/42/actions/create_image", 500)
	e.svc.RunNow(ctx, srv.ID, models.RunManual, "")
	p, _ := e.svc.Policy(ctx, srv.ID)
	if p.LastError == nil {
		t.Fatalf("failure should set last_error: %+v", p)
	}

	e.fake.Fail("POST", "/servers/42/actions/create_image", 0)
	if res, err := e.svc.RunNow(ctx, srv.ID, models.RunManual, ""); err != nil || !res.OK {
		t.Fatalf("second run: %+v %v", res, err)
	}
	var nulls int64
	e.db.Model(&models.SnapshotPolicy{}).Where("server_id = ? AND last_error IS NULL", srv.ID).Count(&nulls)
	if nulls != 1 {
		t.Fatal("last_error should be NULL after a successful run")
	}
}

func TestRunDueReschedulesUnresolvableServer(t *testing.T) {
	e := newEnv(t, false)
	ctx := context.Background()
	broken := e.server(t, "tok-a", 1, 1, 1)
	if _, err := e.svc.SavePolicy(ctx, broken.ID, PolicyInput{Enabled: true, ScheduleMode: "interval", IntervalMinutes: intp(30)}, ""); err != nil {
		t.Fatal(err)
	}
	if err := e.db.Model(&models.Server{}).Where("id = ?", broken.ID).Update("provider_account_id", 0).Error; err != nil {
		t.Fatal(err)
	}

	e.clock.Advance(31 * time.Minute)
	report, err := e.svc.RunDue(ctx, 20)
	if err != nil || report.Processed != 1 || report.Failed != 1 {
		t.Fatalf("run due: %+v %v", report, err)
	}
	var p models.SnapshotPolicy
	e.db.Where("server_id = ?", broken.ID).First(&p)
	if p.LastStatus != string(models.StatusError) || p.NextRunAt == nil || !p.NextRunAt.Equal(e.clock.Now().Add(30*time.Minute)) {
		t.Fatalf("policy not rescheduled: %+v", p)
	}
	if report, _ := e.svc.RunDue(ctx, 20); report.Processed != 0 {
		t.Fatalf("broken policy should wait one interval, got %+v", report)
	}
}
