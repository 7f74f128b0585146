package agent

import (
	"strings"
	"testing"
	"time"
)

func TestComposePrompt_DeterministicAndOrdered(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	a := ComposePrompt(now, nil, "likes terse answers")
	b := ComposePrompt(now, nil, "likes terse answers")
	if a != b {
		t.Fatal("identical inputs must produce an identical prompt")
	}

	dateIdx := strings.Index(a, "2026-03-14")
	skillsIdx := strings.Index(a, "Available skills:")
	memIdx := strings.Index(a, "likes terse answers")
	protoIdx := strings.Index(a, "<execute_skill>")
	if dateIdx == -1 || skillsIdx == -1 || memIdx == -1 || protoIdx == -1 {
		t.Fatalf("prompt missing a required section:\n%s", a)
	}
	if !(dateIdx < skillsIdx && skillsIdx < memIdx && memIdx < protoIdx) {
		t.Errorf("sections out of order: date=%d skills=%d memory=%d protocol=%d", dateIdx, skillsIdx, memIdx, protoIdx)
	}
}

func TestComposePrompt_EmptyMemoryOmitsSection(t *testing.T) {
	prompt := ComposePrompt(time.Now(), nil, "")
	if strings.Contains(prompt, "What you remember") {
		t.Error("empty excerpt must not render a memory section")
	}
	if !strings.Contains(prompt, "(none)") {
		t.Error("nil snapshot should render an empty catalog marker")
	}
}
