package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jessefreitas/noc-orquestrador-sub001/internal/config"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/db"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/lock"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/logging"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/testutil"
)

func setupEnv(t *testing.T) (string, *testutil.FakeProvider) {
	t.Helper()
	dir := t.TempDir()
	fake := testutil.NewFakeProvider(t)
	t.Setenv("NOC_CONFIG", "")
	t.Setenv("APP_ENV", "test")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_PATH", filepath.Join(dir, "noc.db"))
	t.Setenv("LOCK_DIR", dir)
	t.Setenv("APP_KEY", "test-app-key")
	t.Setenv("PROVIDER_API_BASE_URL", fake.BaseURL())
	t.Setenv("NATS_URL", "")
	t.Setenv("ARCHIVE_ENDPOINT", "")
	return dir, fake
}

func run(t *testing.T, args ...string) (int, string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code := execute(args, &out, &errOut)
	return code, out.String()
}

func seedAccount(t *testing.T, company, project uint, token string) {
	t.Helper()
	cfg, err := config.Load()
	if err != nil {
		t.Fatal(err)
	}
	gdb, err := db.Init(cfg, logging.Nop())
	if err != nil {
		t.Fatalf("db init: %v", err)
	}
	testutil.CreateAccount(t, gdb, testutil.NewVault(t), company, project, token)
	if sqlDB, err := gdb.DB(); err == nil {
		sqlDB.Close()
	}
}

func TestVersionAndMigrate(t *testing.T) {
	setupEnv(t)
	if code, out := run(t, "version"); code != 0 || !strings.HasPrefix(out, "noc-orquestrador ") {
		t.Fatalf("version: %d %q", code, out)
	}
	if code, out := run(t, "migrate"); code != 0 || !strings.Contains(out, "schema up to date") {
		t.Fatalf("migrate: %d %q", code, out)
	}
}

func TestRefreshInventory(t *testing.T) {
	_, fake := setupEnv(t)
	seedAccount(t, 1, 1, "tok-one")
	seedAccount(t, 2, 1, "tok-two")
	fake.Set("tok-one", "servers", map[string]any{"id": 1, "name": "a", "status": "running"})

	code, out := run(t, "refresh-inventory", "--company", "1")
	if code != 0 {
		t.Fatalf("exit=%d out=%s", code, out)
	}
	var rep struct {
		Total  int `json:"total"`
		OK     int `json:"ok"`
		Failed int `json:"failed"`
	}
	if err := json.Unmarshal([]byte(out), &rep); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if rep.Total != 1 || rep.OK != 1 || rep.Failed != 0 {
		t.Fatalf("report: %+v", rep)
	}
}

func TestSweepsExitTwoWhenLocked(t *testing.T) {
	dir, _ := setupEnv(t)
	for _, tc := range []struct {
		name string
		args []string
	}{
		{lock.RefreshLockName, []string{"refresh-inventory"}},
		{lock.SchedulerLockName, []string{"snapshot-scheduler", "5"}},
	} {
		release, err := lock.TryGlobal(context.Background(), nil, tc.name, dir)
		if err != nil {
			t.Fatalf("hold %s: %v", tc.name, err)
		}
		code, out := run(t, tc.args...)
		release()
		if code != exitLocked || !strings.Contains(out, `"ok": false`) {
			t.Fatalf("%v: exit=%d out=%s", tc.args, code, out)
		}
	}
}

func TestSnapshotSchedulerEmpty(t *testing.T) {
	setupEnv(t)
	code, out := run(t, "snapshot-scheduler")
	if code != 0 || !strings.Contains(out, `"processed": 0`) {
		t.Fatalf("exit=%d out=%s", code, out)
	}
	if code, out := run(t, "snapshot-scheduler", "abc"); code != 0 || !strings.Contains(out, `"processed": 0`) {
		t.Fatalf("non-numeric limit should fall back to the default: exit=%d out=%s", code, out)
	}
}

func TestClamp(t *testing.T) {
	cases := []struct{ v, lo, hi, want int }{
		{0, 1, 1000, 1}, {5000, 1, 1000, 1000}, {20, 1, 500, 20},
	}
	for _, c := range cases {
		if got := clamp(c.v, c.lo, c.hi); got != c.want {
			t.Fatalf("clamp(%d,%d,%d)=%d want %d", c.v, c.lo, c.hi, got, c.want)
		}
	}
}
