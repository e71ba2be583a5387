package archive

import (
	"testing"
	"time"

	minio "github.com/minio/minio-go/v7"

	"github.com/jessefreitas/noc-orquestrador-sub001/internal/config"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/logging"
)

func TestNormalizeEndpoint(t *testing.T) {
	cases := []struct {
		in     string
		ssl    bool
		host   string
		secure bool
	}{
		{"minio.local:9000", false, "minio.local:9000", false},
		{"http://minio.local:9000", true, "minio.local:9000", false},
		{"https://s3.amazonaws.com", false, "s3.amazonaws.com", true},
		{"", true, "", true},
	}
	for _, c := range cases {
		h, sec := normalizeEndpoint(c.in, c.ssl)
		if h != c.host || sec != c.secure {
			t.Fatalf("normalizeEndpoint(%q,%v)=%q,%v want %q,%v", c.in, c.ssl, h, sec, c.host, c.secure)
		}
	}
}

func TestBucketLookup(t *testing.T) {
	if bucketLookup("minio.local:9000") != minio.BucketLookupPath {
		t.Fatal("minio should be path-style")
	}
	if bucketLookup("s3.eu-central-1.amazonaws.com") != minio.BucketLookupAuto {
		t.Fatal("aws should not force path-style")
	}
}

func TestKey(t *testing.T) {
	at := time.Date(2026, 4, 2, 3, 4, 5, 0, time.FixedZone("BRT", -3*3600))
	if got := Key("/reports/", "refresh-inventory", at, "abc"); got != "reports/refresh-inventory/20260402T060405Z-abc.json" {
		t.Fatalf("key %q", got)
	}
	if got := Key("", "snapshot-scheduler", at, ""); got != "snapshot-scheduler/20260402T060405Z.json" {
		t.Fatalf("key %q", got)
	}
}

func TestNewRequiresConfig(t *testing.T) {
	if _, err := New(config.ArchiveConfig{Endpoint: "minio:9000"}, logging.Nop()); err == nil {
		t.Fatal("missing bucket should fail")
	}
	a, err := New(config.ArchiveConfig{Endpoint: "http://minio:9000", Bucket: "noc", Prefix: "reports"}, logging.Nop())
	if err != nil || a.bucket != "noc" {
		t.Fatalf("new: %v", err)
	}
}
