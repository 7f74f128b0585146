package sandbox

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/nexus-skills/orchestrator/internal/skills"
)

func newSnapshotWithManifest(t *testing.T, m *skills.Manifest) *skills.Snapshot {
	t.Helper()
	dir := t.TempDir()
	mustWriteManifest(t, dir, m)
	reg := skills.NewRegistry(dir)
	if err := reg.Build(context.Background()); err != nil {
		t.Fatalf("Build: %v", err)
	}
	return reg.Snapshot()
}

func mustWriteManifest(t *testing.T, dir string, m *skills.Manifest) {
	t.Helper()
	executableLine := ""
	if !m.Executable {
		executableLine = "executable: false\n"
	}
	clientLines := ""
	if m.ClientClass != "" {
		clientLines = "client_class: " + m.ClientClass + "\ndefault_method: " + m.DefaultMethod + "\n"
	}
	content := "---\nname: " + m.Name + "\ndescription: " + m.Description + "\n" + executableLine + clientLines + "---\n"
	skillDir := dir + "/" + m.Name
	mkdir(t, skillDir)
	writeFile(t, skillDir+"/"+skills.ManifestFilename, content)
}

func TestExecutor_UnknownSkill(t *testing.T) {
	snap := newSnapshotWithManifest(t, &skills.Manifest{Name: "known", Description: "d", Executable: true})
	exec := NewExecutor(NewGateway("http://unused", nil))

	obs := exec.Execute(context.Background(), snap, Invocation{Skill: "mystery"}, time.Second)
	if obs.Success {
		t.Fatal("expected failure observation for unknown skill")
	}
	if !strings.Contains(obs.Text, "not found") {
		t.Errorf("Text = %q, want mention of not found", obs.Text)
	}
}

func TestExecutor_NonExecutableSkill(t *testing.T) {
	snap := newSnapshotWithManifest(t, &skills.Manifest{Name: "docs-only", Description: "d", Executable: false})
	exec := NewExecutor(NewGateway("http://unused", nil))

	obs := exec.Execute(context.Background(), snap, Invocation{Skill: "docs-only"}, time.Second)
	if obs.Success {
		t.Fatal("expected failure observation for non-executable skill")
	}
}

func TestExecutor_SandboxSkillForwardsCodeVerbatim(t *testing.T) {
	var received RunRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&received)
		json.NewEncoder(w).Encode(RunResult{Success: true, Stdout: "RESULT"})
	}))
	defer srv.Close()

	snap := newSnapshotWithManifest(t, &skills.Manifest{Name: "irrelevant", Description: "d", Executable: true})
	exec := NewExecutor(NewGateway(srv.URL, srv.Client()))

	obs := exec.Execute(context.Background(), snap, Invocation{Skill: SandboxSkillName, Code: "print(42)"}, time.Second)
	if !obs.Success || obs.Text != "RESULT" {
		t.Errorf("obs = %+v", obs)
	}
	if received.Code != "print(42)" {
		t.Errorf("gateway received code %q, want verbatim print(42)", received.Code)
	}
}

func TestExecutor_SynthesizesCodeForNamedSkill(t *testing.T) {
	var received RunRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&received)
		json.NewEncoder(w).Encode(RunResult{Success: true, Stdout: "RESULT"})
	}))
	defer srv.Close()

	snap := newSnapshotWithManifest(t, &skills.Manifest{
		Name: "websearch-service", Description: "d", Executable: true,
		ClientClass: "WebSearchClient", DefaultMethod: "search",
	})
	exec := NewExecutor(NewGateway(srv.URL, srv.Client()))

	obs := exec.Execute(context.Background(), snap, Invocation{Skill: "websearch-service", Code: `"golang"`}, time.Second)
	if !obs.Success || obs.Text != "RESULT" {
		t.Errorf("obs = %+v", obs)
	}
	if !strings.Contains(received.Code, "WebSearchClient") || !strings.Contains(received.Code, "search") {
		t.Errorf("synthesized code missing client/method: %q", received.Code)
	}
}

func TestExecutor_SandboxTimeoutProducesTimeoutObservation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		json.NewEncoder(w).Encode(RunResult{Success: true, Stdout: "too late"})
	}))
	defer srv.Close()

	snap := newSnapshotWithManifest(t, &skills.Manifest{Name: "irrelevant", Description: "d", Executable: true})
	gw := NewGateway(srv.URL, srv.Client())
	gw.slack = 10 * time.Millisecond // don't wait out the full network slack in a test
	exec := NewExecutor(gw)

	obs := exec.Execute(context.Background(), snap, Invocation{Skill: SandboxSkillName, Code: "x"}, 10*time.Millisecond)
	if obs.Success {
		t.Fatal("expected timeout observation")
	}
	if obs.Text != "timeout" {
		t.Errorf("Text = %q, want %q", obs.Text, "timeout")
	}
}

func mkdir(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatal(err)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
