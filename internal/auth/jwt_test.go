package auth

import "testing"

func TestServiceDisabledWithoutSecret(t *testing.T) {
	s := NewService("", 0)
	if s.Enabled() {
		t.Fatal("expected service to be disabled without a secret")
	}
	if _, err := s.Issue("client-1"); err != ErrDisabled {
		t.Fatalf("Issue err = %v, want ErrDisabled", err)
	}
	if _, err := s.Verify("whatever"); err != ErrDisabled {
		t.Fatalf("Verify err = %v, want ErrDisabled", err)
	}
}

func TestIssueAndVerifyRoundTrip(t *testing.T) {
	s := NewService("test-secret", 0)

	token, err := s.Issue("client-42")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	clientID, err := s.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if clientID != "client-42" {
		t.Errorf("clientID = %q, want %q", clientID, "client-42")
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	issuer := NewService("secret-a", 0)
	verifier := NewService("secret-b", 0)

	token, err := issuer.Issue("client-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := verifier.Verify(token); err != ErrInvalidToken {
		t.Fatalf("Verify err = %v, want ErrInvalidToken", err)
	}
}

func TestIssueRejectsEmptyClientID(t *testing.T) {
	s := NewService("secret", 0)
	if _, err := s.Issue("  "); err == nil {
		t.Fatal("expected error for empty client id")
	}
}
