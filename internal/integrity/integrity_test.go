package integrity

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/cubelabs/stormsync/internal/bundle"
)

func TestVerify_AllHashesMatch(t *testing.T) {
	dir := t.TempDir()
	writeBundle(t, dir, 100, map[string]string{
		"pages/home.json":   `{"title": "home"}`,
		"languages/en.json": `{"hello": "world"}`,
	})

	v := NewVerifier(discard())
	ok, err := v.Verify(dir)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if !ok {
		t.Fatal("Verify = false for an intact bundle")
	}
	if _, err := os.Stat(filepath.Join(dir, bundle.ManifestFile)); err != nil {
		t.Errorf("intact bundle was deleted: %v", err)
	}
}

func TestVerify_MissingFileTolerated(t *testing.T) {
	dir := t.TempDir()
	writeBundle(t, dir, 100, map[string]string{
		"pages/home.json": `{"title": "home"}`,
	})
	if err := os.Remove(filepath.Join(dir, "pages", "home.json")); err != nil {
		t.Fatal(err)
	}

	ok, err := NewVerifier(discard()).Verify(dir)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if !ok {
		t.Error("Verify = false for a bundle with an absent file")
	}
}

func TestVerify_HashMismatchDeletesBundle(t *testing.T) {
	dir := t.TempDir()
	writeBundle(t, dir, 100, map[string]string{
		"pages/home.json": `{"title": "home"}`,
	})
	corrupt := filepath.Join(dir, "pages", "home.json")
	if err := os.WriteFile(corrupt, []byte("tampered"), 0o644); err != nil {
		t.Fatal(err)
	}

	ok, err := NewVerifier(discard()).Verify(dir)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if ok {
		t.Fatal("Verify = true for a corrupt bundle")
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("corrupt bundle directory was not deleted")
	}
}

func TestVerify_UnreadableManifestDeletesBundle(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, bundle.ManifestFile), []byte("{{"), 0o644); err != nil {
		t.Fatal(err)
	}

	ok, err := NewVerifier(discard()).Verify(dir)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if ok {
		t.Fatal("Verify = true for an unparseable manifest")
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("bundle directory survived an unparseable manifest")
	}
}

func TestEnforce_RemovesOrphans(t *testing.T) {
	dir := t.TempDir()
	writeBundle(t, dir, 100, map[string]string{
		"pages/home.json": `{"title": "home"}`,
	})
	orphan := filepath.Join(dir, "pages", "stale.json")
	if err := os.WriteFile(orphan, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	v := NewVerifier(discard())
	if err := v.Enforce(dir); err != nil {
		t.Fatalf("Enforce returned error: %v", err)
	}
	if _, err := os.Stat(orphan); !os.IsNotExist(err) {
		t.Error("orphaned file survived Enforce")
	}
	if _, err := os.Stat(filepath.Join(dir, "pages", "home.json")); err != nil {
		t.Errorf("declared file removed by Enforce: %v", err)
	}

	// Second pass finds nothing left to remove.
	if err := v.Enforce(dir); err != nil {
		t.Fatalf("second Enforce returned error: %v", err)
	}
}

func TestEnforce_MissingSectionDirectory(t *testing.T) {
	dir := t.TempDir()
	writeBundle(t, dir, 100, nil)

	if err := NewVerifier(discard()).Enforce(dir); err != nil {
		t.Fatalf("Enforce returned error for empty bundle: %v", err)
	}
}

// writeBundle lays out files keyed by section-relative path and a manifest
// declaring them with correct digests.
func writeBundle(t *testing.T, dir string, timestamp int64, files map[string]string) {
	t.Helper()

	sections := make(map[string][]bundle.FileDescriptor)
	for _, s := range bundle.Sections {
		sections[s] = []bundle.FileDescriptor{}
	}
	for rel, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}

		section := filepath.ToSlash(filepath.Dir(rel))
		sections[section] = append(sections[section], bundle.FileDescriptor{
			Src:  filepath.Base(rel),
			Hash: md5Hex(content),
		})
	}

	doc := map[string]any{"timestamp": timestamp}
	for s, descs := range sections {
		doc[s] = descs
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, bundle.ManifestFile), raw, 0o644); err != nil {
		t.Fatal(err)
	}
}

func md5Hex(content string) string {
	h := md5.New()
	fmt.Fprint(h, content)
	return hex.EncodeToString(h.Sum(nil))
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
