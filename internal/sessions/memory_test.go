package sessions

import (
	"context"
	"fmt"
	"testing"

	"github.com/nexus-skills/orchestrator/pkg/models"
)

// storeFactory lets message-store behavior tests run against every backend
// that can be constructed hermetically.
func storeFactories(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"sqlite": func(t *testing.T) Store { return newTestSQLiteStore(t) },
	}
}

func seedSessionWithMessages(t *testing.T, store Store, n int) (string, []*models.Message) {
	t.Helper()
	session := &models.Session{Title: "seeded"}
	if err := store.Create(context.Background(), session); err != nil {
		t.Fatalf("Create: %v", err)
	}
	msgs := make([]*models.Message, 0, n)
	for i := 0; i < n; i++ {
		msg := &models.Message{Role: models.RoleUser, Content: fmt.Sprintf("message %d", i)}
		if err := store.AppendMessage(context.Background(), session.ID, msg); err != nil {
			t.Fatalf("AppendMessage[%d]: %v", i, err)
		}
		msgs = append(msgs, msg)
	}
	return session.ID, msgs
}

func TestDeleteMessage_SingleLeavesRestIntact(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			sessionID, msgs := seedSessionWithMessages(t, store, 5)

			if err := store.DeleteMessage(context.Background(), sessionID, msgs[2].ID, false); err != nil {
				t.Fatalf("DeleteMessage: %v", err)
			}

			history, err := store.GetHistory(context.Background(), sessionID, 0)
			if err != nil {
				t.Fatalf("GetHistory: %v", err)
			}
			if len(history) != 4 {
				t.Fatalf("len(history) = %d, want 4", len(history))
			}
			for _, m := range history {
				if m.ID == msgs[2].ID {
					t.Fatal("deleted message still present")
				}
			}
		})
	}
}

// Deleting with include_following at index k of an n-message session must
// leave exactly the first k messages.
func TestDeleteMessage_IncludeFollowingLeavesPrefix(t *testing.T) {
	const n = 6
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			for k := 0; k < n; k++ {
				store := factory(t)
				sessionID, msgs := seedSessionWithMessages(t, store, n)

				if err := store.DeleteMessage(context.Background(), sessionID, msgs[k].ID, true); err != nil {
					t.Fatalf("DeleteMessage(k=%d): %v", k, err)
				}

				history, err := store.GetHistory(context.Background(), sessionID, 0)
				if err != nil {
					t.Fatalf("GetHistory: %v", err)
				}
				if len(history) != k {
					t.Fatalf("k=%d: len(history) = %d, want %d", k, len(history), k)
				}
				for i, m := range history {
					if m.ID != msgs[i].ID {
						t.Fatalf("k=%d: history[%d] = %s, want %s", k, i, m.ID, msgs[i].ID)
					}
				}
			}
		})
	}
}

func TestDeleteMessage_UnknownIDFails(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			sessionID, _ := seedSessionWithMessages(t, store, 2)
			if err := store.DeleteMessage(context.Background(), sessionID, "no-such-id", true); err == nil {
				t.Fatal("expected error for unknown message id")
			}
		})
	}
}

func TestClearMessages_EmptiesSession(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			sessionID, _ := seedSessionWithMessages(t, store, 3)

			if err := store.ClearMessages(context.Background(), sessionID); err != nil {
				t.Fatalf("ClearMessages: %v", err)
			}
			history, err := store.GetHistory(context.Background(), sessionID, 0)
			if err != nil {
				t.Fatalf("GetHistory: %v", err)
			}
			if len(history) != 0 {
				t.Fatalf("len(history) = %d, want 0", len(history))
			}
		})
	}
}

// Every persisted message comes back exactly once, in non-decreasing
// sequence order, regardless of backend.
func TestGetHistory_CompleteAndOrdered(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			sessionID, msgs := seedSessionWithMessages(t, store, 10)

			history, err := store.GetHistory(context.Background(), sessionID, 0)
			if err != nil {
				t.Fatalf("GetHistory: %v", err)
			}
			if len(history) != len(msgs) {
				t.Fatalf("len(history) = %d, want %d", len(history), len(msgs))
			}
			seen := map[string]bool{}
			for i, m := range history {
				if i > 0 && m.Seq < history[i-1].Seq {
					t.Fatal("history not in non-decreasing seq order")
				}
				if seen[m.ID] {
					t.Fatalf("message %s returned twice", m.ID)
				}
				seen[m.ID] = true
			}
		})
	}
}
