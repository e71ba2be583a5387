// Package testutil holds fixtures shared by package tests: a migrated sqlite
// store and an in-memory fake of the provider REST API.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/jessefreitas/noc-orquestrador-sub001/internal/config"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/db"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/logging"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/models"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/vault"
)

// NewDB opens a migrated sqlite database under t.TempDir().
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()
	cfg := &config.Config{DBDriver: "sqlite", DBPath: filepath.Join(t.TempDir(), "test.db")}
	gdb, err := db.Open(cfg, logging.Nop())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return gdb
}

// NewVault returns a vault keyed for tests.
func NewVault(t *testing.T) *vault.Vault {
	t.Helper()
	v, err := vault.New("test-app-key")
	if err != nil {
		t.Fatalf("vault: %v", err)
	}
	return v
}

// CreateAccount stores an account whose token is sealed with v.
func CreateAccount(t *testing.T, gdb *gorm.DB, v *vault.Vault, company, project uint, token string) models.ProviderAccount {
	t.Helper()
	enc, err := v.Encrypt(token)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	acct := models.ProviderAccount{
		Scope:           models.Scope{CompanyID: company, ProjectID: project},
		Provider:        "hetzner",
		Label:           fmt.Sprintf("acct-%d-%d", company, project),
		TokenCiphertext: enc,
		TokenHint:       vault.Hint(token),
		Status:          models.AccountPending,
	}
	if err := gdb.Create(&acct).Error; err != nil {
		t.Fatalf("create account: %v", err)
	}
	return acct
}

// FakeProvider serves paginated collections, create_image and image deletion
// the way the real provider API does. Each token sees its own data.
type FakeProvider struct {
	Server *httptest.Server

	mu       sync.Mutex
	data     map[string]map[string][]map[string]any // token -> collection -> items
	fail     map[string]int                         // "METHOD /path" -> status
	hits     map[string]int                         // "METHOD /path" -> count
	deleted  []string
	nextID   int
	now      func() time.Time
	pageSize int
}

func NewFakeProvider(t *testing.T) *FakeProvider {
	t.Helper()
	f := &FakeProvider{
		data:   map[string]map[string][]map[string]any{},
		fail:   map[string]int{},
		hits:   map[string]int{},
		nextID: 900000,
		now:    func() time.Time { return time.Now().UTC() },
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Server.Close)
	return f
}

// BaseURL is the API root to configure the client with.
func (f *FakeProvider) BaseURL() string { return f.Server.URL + "/v1" }

// Set replaces collection for token. Images carry their kind in "type".
func (f *FakeProvider) Set(token, collection string, items ...map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.data[token] == nil {
		f.data[token] = map[string][]map[string]any{}
	}
	f.data[token][collection] = items
}

// Fail makes "METHOD /path" answer status until cleared with status 0.
func (f *FakeProvider) Fail(method, path string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if status == 0 {
		delete(f.fail, method+" "+path)
		return
	}
	f.fail[method+" "+path] = status
}

// PageSize forces a page size smaller than the requested per_page.
func (f *FakeProvider) PageSize(n int) {
	f.mu.Lock()
	f.pageSize = n
	f.mu.Unlock()
}

// SetNow fixes the creation time stamped on new images.
func (f *FakeProvider) SetNow(now func() time.Time) {
	f.mu.Lock()
	f.now = now
	f.mu.Unlock()
}

// Hits returns how often "METHOD /path" was called.
func (f *FakeProvider) Hits(method, path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[method+" "+path]
}

// Deleted lists image ids removed through DELETE /images/{id}.
func (f *FakeProvider) Deleted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

// Images returns the token's current image list.
func (f *FakeProvider) Images(token string) []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]any(nil), f.data[token]["images"]...)
}

func (f *FakeProvider) serve(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1")
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	key := r.Method + " " + path

	f.mu.Lock()
	f.hits[key]++
	status := f.fail[key]
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": "fake_failure", "message": "forced failure"}})
		return
	}
	if token == "invalid" {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": "unauthorized", "message": "unable to authenticate"}})
		return
	}

	parts := strings.Split(strings.Trim(path, "/"), "/")
	switch {
	case r.Method == http.MethodGet && len(parts) == 1:
		f.list(w, r, token, parts[0])
	case r.Method == http.MethodPost && len(parts) == 4 && parts[0] == "servers" && parts[3] == "create_image":
		f.createImage(w, r, token, parts[1])
	case r.Method == http.MethodDelete && len(parts) == 2 && parts[0] == "images":
		f.deleteImage(w, token, parts[1])
	default:
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": "not_found", "message": "no route"}})
	}
}

func (f *FakeProvider) list(w http.ResponseWriter, r *http.Request, token, collection string) {
	f.mu.Lock()
	var items []map[string]any
	for _, it := range f.data[token][collection] {
		if kind := r.URL.Query().Get("type"); kind != "" && fmt.Sprint(it["type"]) != kind {
			continue
		}
		items = append(items, it)
	}
	size := f.pageSize
	f.mu.Unlock()

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size, _ = strconv.Atoi(r.URL.Query().Get("per_page"))
		if size <= 0 {
			size = 25
		}
	}
	start := (page - 1) * size
	end := start + size
	if start > len(items) {
		start = len(items)
	}
	if end > len(items) {
		end = len(items)
	}
	var next any
	if end < len(items) {
		next = page + 1
	}
	json.NewEncoder(w).Encode(map[string]any{
		collection: append([]map[string]any{}, items[start:end]...),
		"meta":     map[string]any{"pagination": map[string]any{"page": page, "per_page": size, "next_page": next, "total_entries": len(items)}},
	})
}

func (f *FakeProvider) createImage(w http.ResponseWriter, r *http.Request, token, serverID string) {
	var in map[string]any
	json.NewDecoder(r.Body).Decode(&in)
	f.mu.Lock()
	f.nextID++
	id := f.nextID
	sid, _ := strconv.Atoi(serverID)
	img := map[string]any{
		"id":           id,
		"type":         "snapshot",
		"status":       "creating",
		"description":  in["description"],
		"created":      f.now().Format(time.RFC3339),
		"created_from": map[string]any{"id": sid, "name": "srv"},
	}
	if f.data[token] == nil {
		f.data[token] = map[string][]map[string]any{}
	}
	f.data[token]["images"] = append(f.data[token]["images"], img)
	f.mu.Unlock()
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{"image": img, "action": map[string]any{"id": id + 1, "status": "running"}})
}

func (f *FakeProvider) deleteImage(w http.ResponseWriter, token, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	images := f.data[token]["images"]
	for i, img := range images {
		if fmt.Sprint(img["id"]) == id {
			f.data[token]["images"] = append(images[:i:i], images[i+1:]...)
			f.deleted = append(f.deleted, id)
			sort.Strings(f.deleted)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	w.WriteHeader(http.StatusNotFound)
	json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": "not_found", "message": "image not found"}})
}
