package vault

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/jessefreitas/noc-orquestrador-sub001/internal/apperr"
)

func mustVault(t *testing.T, key string) *Vault {
	t.Helper()
	v, err := New(key)
	if err != nil {
		t.Fatalf("new vault: %v", err)
	}
	return v
}

func TestEncryptDecrypt(t *testing.T) {
	v := mustVault(t, "test-master-key")
	enc, err := v.Encrypt("hcloud-token-abcdef123456")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if strings.Contains(enc, "hcloud") {
		t.Fatal("ciphertext leaks plaintext")
	}
	raw, _ := base64.StdEncoding.DecodeString(enc)
	if len(raw) != nonceSize+tagSize+len("hcloud-token-abcdef123456") {
		t.Fatalf("unexpected layout length %d", len(raw))
	}
	got, err := v.Decrypt(enc)
	if err != nil || got != "hcloud-token-abcdef123456" {
		t.Fatalf("decrypt = %q, %v", got, err)
	}
	enc2, _ := v.Encrypt("hcloud-token-abcdef123456")
	if enc2 == enc {
		t.Fatal("nonce reuse: identical ciphertexts")
	}
}

func TestDecryptRejects(t *testing.T) {
	v := mustVault(t, "test-master-key")
	enc, _ := v.Encrypt("secret-value")
	raw, _ := base64.StdEncoding.DecodeString(enc)

	tampered := append([]byte(nil), raw...)
	tampered[len(tampered)-1] ^= 0xff
	badTag := append([]byte(nil), raw...)
	badTag[nonceSize] ^= 0x01

	cases := map[string]string{
		"not base64": "%%%",
		"too short":  base64.StdEncoding.EncodeToString(raw[:nonceSize+tagSize]),
		"tampered":   base64.StdEncoding.EncodeToString(tampered),
		"bad tag":    base64.StdEncoding.EncodeToString(badTag),
	}
	for name, in := range cases {
		_, err := v.Decrypt(in)
		if !errors.Is(err, ErrInvalidSecret) || !apperr.Is(err, apperr.KindCrypto) {
			t.Fatalf("%s: expected invalid secret crypto error, got %v", name, err)
		}
	}

	other := mustVault(t, "another-key")
	if _, err := other.Decrypt(enc); !errors.Is(err, ErrInvalidSecret) {
		t.Fatalf("wrong key should fail, got %v", err)
	}
}

func TestEmptyMasterKey(t *testing.T) {
	if _, err := New(""); !apperr.Is(err, apperr.KindConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestHint(t *testing.T) {
	cases := []struct{ in, want string }{
		{"", ""},
		{"abc", "***"},
		{"12345678", "********"},
		{"123456789", "1234...6789"},
		{"hcloud-abcdefghijkl", "hclo...ijkl"},
	}
	for _, c := range cases {
		if got := Hint(c.in); got != c.want {
			t.Fatalf("Hint(%q)=%q want %q", c.in, got, c.want)
		}
	}
}
