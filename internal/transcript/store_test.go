package transcript_test

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/uchat-ai/uchat/internal/log"
	"github.com/uchat-ai/uchat/internal/transcript"
)

func newStore(t *testing.T) *transcript.Store {
	t.Helper()
	store, err := transcript.NewStore(0, log.NewNop())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return store
}

func TestCreateAndGetSession(t *testing.T) {
	t.Parallel()
	store := newStore(t)

	sess := store.CreateSession("alice@example.com", "First chat")
	if sess.ID == uuid.Nil {
		t.Fatal("session id not assigned")
	}

	got, err := store.Session(sess.ID)
	if err != nil {
		t.Fatalf("Session() error = %v", err)
	}
	if got.Title != "First chat" || got.OwnerID != "alice@example.com" {
		t.Errorf("Session() = %+v, want title/owner preserved", got)
	}
}

func TestSession_NotFound(t *testing.T) {
	t.Parallel()
	store := newStore(t)

	_, err := store.Session(uuid.New())
	if !errors.Is(err, transcript.ErrSessionNotFound) {
		t.Errorf("error = %v, want ErrSessionNotFound", err)
	}
}

func TestAppend_AssignsMonotonicIDs(t *testing.T) {
	t.Parallel()
	store := newStore(t)
	sess := store.CreateSession("", "")

	var prev int64
	for i := 0; i < 5; i++ {
		msg, err := store.Append(sess.ID, transcript.Message{
			Role:     transcript.RoleUser,
			Text:     "hi",
			Complete: true,
		})
		if err != nil {
			t.Fatalf("Append() error = %v", err)
		}
		if msg.ID <= prev {
			t.Errorf("message id %d not monotonically increasing (prev %d)", msg.ID, prev)
		}
		prev = msg.ID
	}
}

func TestAppend_RejectsWhileTurnInFlight(t *testing.T) {
	t.Parallel()
	store := newStore(t)
	sess := store.CreateSession("", "")

	if _, err := store.Append(sess.ID, transcript.Message{
		Role: transcript.RoleAssistant, // streaming placeholder
	}); err != nil {
		t.Fatalf("Append(placeholder) error = %v", err)
	}

	_, err := store.Append(sess.ID, transcript.Message{
		Role: transcript.RoleUser, Text: "second", Complete: true,
	})
	if !errors.Is(err, transcript.ErrTurnInFlight) {
		t.Errorf("error = %v, want ErrTurnInFlight", err)
	}
}

func TestLastByRole_ReverseSearch(t *testing.T) {
	t.Parallel()
	store := newStore(t)
	sess := store.CreateSession("", "")

	texts := []struct {
		role transcript.Role
		text string
	}{
		{transcript.RoleUser, "q1"},
		{transcript.RoleAssistant, "a1"},
		{transcript.RoleUser, "q2"},
		{transcript.RoleAssistant, "a2"},
	}
	for _, m := range texts {
		if _, err := store.Append(sess.ID, transcript.Message{
			Role: m.role, Text: m.text, Complete: true,
		}); err != nil {
			t.Fatalf("Append(%q) error = %v", m.text, err)
		}
	}

	last, err := store.LastByRole(sess.ID, transcript.RoleAssistant)
	if err != nil {
		t.Fatalf("LastByRole() error = %v", err)
	}
	if last.Text != "a2" {
		t.Errorf("LastByRole().Text = %q, want %q", last.Text, "a2")
	}
}

func TestMutateLast(t *testing.T) {
	t.Parallel()
	store := newStore(t)
	sess := store.CreateSession("", "")

	if _, err := store.Append(sess.ID, transcript.Message{
		Role: transcript.RoleAssistant,
	}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	err := store.MutateLast(sess.ID, transcript.RoleAssistant, func(m *transcript.Message) {
		m.Text = "partial"
		m.Complete = true
		m.FinishReason = transcript.FinishAborted
	})
	if err != nil {
		t.Fatalf("MutateLast() error = %v", err)
	}

	last, err := store.LastByRole(sess.ID, transcript.RoleAssistant)
	if err != nil {
		t.Fatalf("LastByRole() error = %v", err)
	}
	if last.Text != "partial" || !last.Complete || last.FinishReason != transcript.FinishAborted {
		t.Errorf("mutation not applied: %+v", last)
	}
}

func TestMutateLast_NoMessage(t *testing.T) {
	t.Parallel()
	store := newStore(t)
	sess := store.CreateSession("", "")

	err := store.MutateLast(sess.ID, transcript.RoleAssistant, func(*transcript.Message) {})
	if !errors.Is(err, transcript.ErrNoMessage) {
		t.Errorf("error = %v, want ErrNoMessage", err)
	}
}

func TestDeleteSession(t *testing.T) {
	t.Parallel()
	store := newStore(t)
	sess := store.CreateSession("", "")

	if err := store.DeleteSession(sess.ID); err != nil {
		t.Fatalf("DeleteSession() error = %v", err)
	}
	if err := store.DeleteSession(sess.ID); !errors.Is(err, transcript.ErrSessionNotFound) {
		t.Errorf("second delete error = %v, want ErrSessionNotFound", err)
	}
}

func TestListSessions_MostRecentFirst(t *testing.T) {
	t.Parallel()
	store := newStore(t)

	a := store.CreateSession("", "a")
	b := store.CreateSession("", "b")

	// Touch a so it becomes the most recently updated.
	if _, err := store.Append(a.ID, transcript.Message{
		Role: transcript.RoleUser, Text: "hi", Complete: true,
	}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	sessions := store.ListSessions()
	if len(sessions) != 2 {
		t.Fatalf("ListSessions() len = %d, want 2", len(sessions))
	}
	if sessions[0].ID != a.ID {
		t.Errorf("first session = %v, want %v (most recently updated)", sessions[0].ID, a.ID)
	}
	_ = b
}

func TestSubscribe_SignalsOnMutation(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	sess := store.CreateSession("", "watched")

	updates, cancel := store.Subscribe(sess.ID)
	defer cancel()

	if _, err := store.Append(sess.ID, transcript.Message{
		Role: transcript.RoleUser, Text: "hi", Complete: true,
	}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	select {
	case <-updates:
	default:
		t.Fatal("no signal after Append")
	}

	if _, err := store.Append(sess.ID, transcript.Message{Role: transcript.RoleAssistant}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := store.MutateLast(sess.ID, transcript.RoleAssistant, func(m *transcript.Message) {
		m.Text = "partial"
	}); err != nil {
		t.Fatalf("MutateLast() error = %v", err)
	}

	// Two mutations since the last receive coalesce into one signal.
	select {
	case <-updates:
	default:
		t.Fatal("no signal after MutateLast")
	}
	select {
	case <-updates:
		t.Fatal("signals did not coalesce")
	default:
	}
}

func TestSubscribe_CancelStopsSignals(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	sess := store.CreateSession("", "watched")

	updates, cancel := store.Subscribe(sess.ID)
	cancel()

	if _, err := store.Append(sess.ID, transcript.Message{
		Role: transcript.RoleUser, Text: "hi", Complete: true,
	}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	select {
	case <-updates:
		t.Fatal("signal received after cancel")
	default:
	}
}
