package skills

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeManifest(t *testing.T, dir, name, body string) {
	t.Helper()
	skillDir := filepath.Join(dir, name)
	if err := os.MkdirAll(skillDir, 0o755); err != nil {
		t.Fatal(err)
	}
	content := "---\nname: " + name + "\ndescription: a test skill\n---\n" + body
	if err := os.WriteFile(filepath.Join(skillDir, ManifestFilename), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRegistry_BuildAndList(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "alpha", "alpha body")
	writeManifest(t, dir, "beta", "beta body")

	reg := NewRegistry(dir)
	if err := reg.Build(context.Background()); err != nil {
		t.Fatalf("Build: %v", err)
	}

	snap := reg.Snapshot()
	list := snap.List()
	if len(list) != 2 {
		t.Fatalf("len(list) = %d, want 2", len(list))
	}
	if list[0].Name != "alpha" || list[1].Name != "beta" {
		t.Errorf("list not sorted by name: %v, %v", list[0].Name, list[1].Name)
	}
}

func TestRegistry_Get(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "alpha", "alpha body")

	reg := NewRegistry(dir)
	if err := reg.Build(context.Background()); err != nil {
		t.Fatalf("Build: %v", err)
	}

	m, err := reg.Get("alpha")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if m.Name != "alpha" {
		t.Errorf("Name = %q", m.Name)
	}

	if _, err := reg.Get("missing"); err == nil {
		t.Fatal("expected not-found error")
	}
}

func TestRegistry_DuplicateNameFailsBuild(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "dup-one", "body")
	// Same skill name, different directory on disk.
	otherDir := filepath.Join(dir, "dup-two")
	if err := os.MkdirAll(otherDir, 0o755); err != nil {
		t.Fatal(err)
	}
	content := "---\nname: dup-one\ndescription: a conflicting skill\n---\nbody"
	if err := os.WriteFile(filepath.Join(otherDir, ManifestFilename), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	reg := NewRegistry(dir)
	err := reg.Build(context.Background())
	if err == nil {
		t.Fatal("expected duplicate-name build error")
	}
	var buildErr *RegistryBuildError
	if !asRegistryBuildError(err, &buildErr) {
		t.Fatalf("expected *RegistryBuildError, got %T: %v", err, err)
	}
}

func asRegistryBuildError(err error, target **RegistryBuildError) bool {
	if be, ok := err.(*RegistryBuildError); ok {
		*target = be
		return true
	}
	return false
}

func TestRegistry_BuildExcludesUnparseableManifestsNonFatally(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "good", "good body")

	badDir := filepath.Join(dir, "bad")
	if err := os.MkdirAll(badDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(badDir, ManifestFilename), []byte("no frontmatter here"), 0o644); err != nil {
		t.Fatal(err)
	}

	reg := NewRegistry(dir)
	if err := reg.Build(context.Background()); err != nil {
		t.Fatalf("Build should not fail on a single bad manifest: %v", err)
	}

	list := reg.Snapshot().List()
	if len(list) != 1 || list[0].Name != "good" {
		t.Errorf("expected only the good manifest in the snapshot, got %v", list)
	}
}

func TestRegistry_BuildExcludesIneligibleSkills(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "always", "body")

	gatedDir := filepath.Join(dir, "gated")
	if err := os.MkdirAll(gatedDir, 0o755); err != nil {
		t.Fatal(err)
	}
	content := "---\nname: gated\ndescription: needs a binary\nrequires:\n  bins:\n    - definitely-not-a-real-binary-zz\n---\nbody"
	if err := os.WriteFile(filepath.Join(gatedDir, ManifestFilename), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	reg := NewRegistry(dir)
	if err := reg.Build(context.Background()); err != nil {
		t.Fatalf("Build: %v", err)
	}
	list := reg.Snapshot().List()
	if len(list) != 1 || list[0].Name != "always" {
		t.Errorf("expected the gated skill excluded from the snapshot, got %v", list)
	}
}

func TestRegistry_RefreshIsAtomic(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "alpha", "v1")

	reg := NewRegistry(dir)
	if err := reg.Build(context.Background()); err != nil {
		t.Fatalf("Build: %v", err)
	}
	held := reg.Snapshot()

	writeManifest(t, dir, "beta", "v1")
	if err := reg.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if len(held.List()) != 1 {
		t.Error("a held snapshot reference must not observe the refreshed contents")
	}
	if len(reg.Snapshot().List()) != 2 {
		t.Error("a fresh Snapshot() call must observe the refreshed contents")
	}
}

func TestSnapshot_SummarizeForPrompt(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "alpha", "alpha body")

	docOnlyDir := filepath.Join(dir, "alpha-docs")
	if err := os.MkdirAll(docOnlyDir, 0o755); err != nil {
		t.Fatal(err)
	}
	content := "---\nname: alpha-docs\ndescription: reference docs for alpha\nexecutable: false\n---\nbody"
	if err := os.WriteFile(filepath.Join(docOnlyDir, ManifestFilename), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	reg := NewRegistry(dir)
	if err := reg.Build(context.Background()); err != nil {
		t.Fatalf("Build: %v", err)
	}

	summary := reg.Snapshot().SummarizeForPrompt()
	if !strings.Contains(summary, "alpha: a test skill") {
		t.Errorf("summary missing executable entry: %q", summary)
	}
	if strings.Contains(summary, "alpha-docs") {
		t.Errorf("documentation-only manifest should not appear at top level: %q", summary)
	}
}
