package inventory

import (
	"context"
	"testing"

	"github.com/jessefreitas/noc-orquestrador-sub001/internal/apperr"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/models"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/provider"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/testutil"
)

func TestServerSnapshotsNewestFirst(t *testing.T) {
	e := newEnv(t)
	acct := testutil.CreateAccount(t, e.db, e.vault, 1, 1, "tok")
	ctx := context.Background()
	e.engine.UpsertServer(ctx, &acct, provider.Item{"id": 10, "name": "db"})
	snaps := []provider.Item{
		{"id": 1, "created": "2026-01-01T00:00:00Z", "created_from": map[string]any{"id": 10}},
		{"id": 2, "created": "2026-01-03T00:00:00Z", "created_from": map[string]any{"id": 10}},
		{"id": 3, "created": "2026-01-02T00:00:00Z", "bound_to": 10},
		{"id": 4, "created": "2026-01-04T00:00:00Z", "created_from": map[string]any{"id": 11}},
	}
	for _, s := range snaps {
		if _, err := e.engine.UpsertAsset(ctx, &acct, models.AssetSnapshots, s); err != nil {
			t.Fatal(err)
		}
	}
	srv, err := e.engine.GetServer(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	got, err := e.engine.ServerSnapshots(ctx, srv)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"2", "3", "1"}
	if len(got) != len(want) {
		t.Fatalf("got %d snapshots", len(got))
	}
	for i := range want {
		if got[i].ExternalID != want[i] {
			t.Fatalf("position %d: got %s want %s", i, got[i].ExternalID, want[i])
		}
	}
}

func TestListAssetsAndSummary(t *testing.T) {
	e := newEnv(t)
	acct := testutil.CreateAccount(t, e.db, e.vault, 1, 1, "tok")
	ctx := context.Background()
	e.engine.UpsertAsset(ctx, &acct, models.AssetVolumes, provider.Item{"id": 1, "name": "b"})
	e.engine.UpsertAsset(ctx, &acct, models.AssetVolumes, provider.Item{"id": 2, "name": "a"})
	e.engine.UpsertAsset(ctx, &acct, models.AssetNetworks, provider.Item{"id": 3, "name": "net"})

	vols, err := e.engine.ListAssets(ctx, acct.ID, models.AssetVolumes)
	if err != nil || len(vols) != 2 || vols[0].Name != "a" {
		t.Fatalf("list volumes: %v %+v", err, vols)
	}
	if _, err := e.engine.ListAssets(ctx, acct.ID, "bogus"); !apperr.Is(err, apperr.KindConfiguration) {
		t.Fatalf("unknown type should be rejected, got %v", err)
	}
	sum, err := e.engine.SummarizeAssets(ctx, acct.ID)
	if err != nil || sum[models.AssetVolumes] != 2 || sum[models.AssetNetworks] != 1 {
		t.Fatalf("summary %v %v", sum, err)
	}
	if _, err := e.engine.GetServer(ctx, 77); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCapacity(t *testing.T) {
	e := newEnv(t)
	acct := testutil.CreateAccount(t, e.db, e.vault, 1, 1, "tok")
	ctx := context.Background()
	e.engine.UpsertServer(ctx, &acct, provider.Decode([]byte(`{"id":1,"name":"a","status":"running",
		"server_type":{"name":"cx22","cores":2,"memory":4,"disk":40},"image":{"os_flavor":"ubuntu"},
		"public_net":{"ipv6":{"ip":"2a01::/64"}}}`)))
	e.engine.UpsertServer(ctx, &acct, provider.Decode([]byte(`{"id":2,"name":"b","status":"off",
		"server_type":{"cores":4,"memory":8.5,"disk":80}}`)))
	e.engine.UpsertServer(ctx, &acct, provider.Item{"id": 3, "name": "c", "status": "running"})

	views, err := e.engine.ListServers(ctx, models.Scope{CompanyID: 1})
	if err != nil || len(views) != 3 {
		t.Fatalf("list servers: %v %d", err, len(views))
	}
	m := views[0].Metrics
	if m.CPUCores == nil || *m.CPUCores != 2 || m.ServerType != "cx22" || m.OS != "ubuntu" || m.IPv6 != "2a01::/64" {
		t.Fatalf("metrics %+v", m)
	}
	if views[2].Metrics.CPUCores != nil {
		t.Fatal("missing server_type should leave metrics unset")
	}
	c := SummarizeCapacity(views)
	if c.Servers != 3 || c.Running != 2 || c.CPUCores != 6 || c.MemoryGB != 12.5 || c.DiskGB != 120 {
		t.Fatalf("capacity %+v", c)
	}
}
