package skills

import "testing"

func TestEligible_NilRequires(t *testing.T) {
	m := &Manifest{Name: "no-reqs"}
	ok, reason := m.Eligible(NewGatingContext())
	if !ok || reason != "" {
		t.Errorf("got (%v, %q), want (true, \"\")", ok, reason)
	}
}

func TestEligible_MissingBinary(t *testing.T) {
	m := &Manifest{
		Name:     "needs-bin",
		Requires: &Requires{Bins: []string{"definitely-not-a-real-binary-xyz"}},
	}
	ok, reason := m.Eligible(NewGatingContext())
	if ok {
		t.Fatal("expected ineligible")
	}
	if reason == "" {
		t.Error("expected a reason string")
	}
}

func TestEligible_AnyBinsSatisfiedBySh(t *testing.T) {
	m := &Manifest{
		Name:     "needs-any",
		Requires: &Requires{AnyBins: []string{"definitely-not-a-real-binary-xyz", "sh"}},
	}
	ok, _ := m.Eligible(NewGatingContext())
	if !ok {
		t.Error("expected eligible: sh should be on PATH")
	}
}

func TestEligible_MissingEnv(t *testing.T) {
	m := &Manifest{
		Name:     "needs-env",
		Requires: &Requires{Env: []string{"NEXUS_TEST_DEFINITELY_UNSET_VAR"}},
	}
	ok, reason := m.Eligible(NewGatingContext())
	if ok {
		t.Fatal("expected ineligible")
	}
	if reason == "" {
		t.Error("expected a reason string")
	}
}

func TestGatingContext_CachesBinaryLookup(t *testing.T) {
	ctx := NewGatingContext()
	first := ctx.hasBinary("sh")
	second := ctx.hasBinary("sh")
	if first != second {
		t.Error("cached lookup should be stable")
	}
	if _, ok := ctx.bins["sh"]; !ok {
		t.Error("expected sh to be cached after lookup")
	}
}
