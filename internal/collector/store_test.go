package collector

import (
	"testing"
)

func TestInMemoryStore_GetSetSession(t *testing.T) {
	store := NewInMemoryStore()

	_, ok := store.GetSession(SessionID("s1"))
	if ok {
		t.Error("expected not found for empty store")
	}

	st := &SessionState{ID: SessionID("s1")}
	store.SetSession(st)

	got, ok := store.GetSession(SessionID("s1"))
	if !ok || got != st {
		t.Errorf("GetSession: ok=%v, got %p want %p", ok, got, st)
	}
	if ids := store.ListSessionIDs(); len(ids) != 1 || ids[0] != "s1" {
		t.Errorf("ListSessionIDs: got %v", ids)
	}
}

func TestInMemoryStore_SetSession_replaces(t *testing.T) {
	store := NewInMemoryStore()
	st1 := &SessionState{ID: SessionID("s1")}
	st2 := &SessionState{ID: SessionID("s1")}
	store.SetSession(st1)
	store.SetSession(st2)

	got, ok := store.GetSession(SessionID("s1"))
	if !ok || got != st2 {
		t.Errorf("SetSession should replace: got %p want %p", got, st2)
	}
}

func TestInMemoryStore_DeleteSession(t *testing.T) {
	store := NewInMemoryStore()
	store.SetSession(&SessionState{ID: "s1"})
	store.SetSession(&SessionState{ID: "s2"})

	store.DeleteSession("s1")
	store.DeleteSession("missing")

	if _, ok := store.GetSession("s1"); ok {
		t.Error("s1 should be deleted")
	}
	if n := store.SessionCount(); n != 1 {
		t.Errorf("expected 1 session, got %d", n)
	}
}

func TestNewInMemoryRepositoryWithStore(t *testing.T) {
	store := NewInMemoryStore()
	repo := NewInMemoryRepositoryWithStore(store, 5)

	err := repo.RecordReport(SessionID("s1"), SessionMeta{}, Report{Path: "/media/1.m4s"})
	if err != nil {
		t.Fatalf("RecordReport: %v", err)
	}

	// State should be in the store we injected
	st, ok := store.GetSession(SessionID("s1"))
	if !ok || st == nil || len(st.Reports) != 1 {
		t.Error("injected store should contain session after RecordReport")
	}
}
