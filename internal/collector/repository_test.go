package collector

import (
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"hls-cmcd/internal/cmcd"
)

func TestInMemoryRepository_RecordReport_createsSession(t *testing.T) {
	repo := NewInMemoryRepository(0)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	repo.now = func() time.Time { return fixed }

	meta := SessionMeta{ContentID: "movie", StreamingFormat: cmcd.StreamingFormatHLS, StreamType: cmcd.StreamTypeVOD}
	if err := repo.RecordReport("s1", meta, Report{Path: "/media/1.m4s", Startup: true}); err != nil {
		t.Fatalf("RecordReport: %v", err)
	}

	st, ok := repo.GetSessionSnapshot("s1")
	if !ok {
		t.Fatal("expected session")
	}
	if st.Meta != meta {
		t.Errorf("meta: got %+v want %+v", st.Meta, meta)
	}
	if len(st.Reports) != 1 || !st.Reports[0].ReceivedAt.Equal(fixed) {
		t.Errorf("unexpected reports: %+v", st.Reports)
	}
	if st.TotalReports != 1 || st.StartupRequests != 1 || st.Stalls != 0 {
		t.Errorf("unexpected counters: %+v", st)
	}
}

func TestInMemoryRepository_RecordReport_keepsKnownMeta(t *testing.T) {
	repo := NewInMemoryRepository(0)
	_ = repo.RecordReport("s1", SessionMeta{ContentID: "movie", StreamingFormat: cmcd.StreamingFormatDASH}, Report{})
	_ = repo.RecordReport("s1", SessionMeta{StreamType: cmcd.StreamTypeLive}, Report{})

	st, _ := repo.GetSessionSnapshot("s1")
	want := SessionMeta{ContentID: "movie", StreamingFormat: cmcd.StreamingFormatDASH, StreamType: cmcd.StreamTypeLive}
	if st.Meta != want {
		t.Errorf("meta: got %+v want %+v", st.Meta, want)
	}
}

func TestInMemoryRepository_RecordReport_window(t *testing.T) {
	repo := NewInMemoryRepository(3)
	for i := 1; i <= 5; i++ {
		rep := Report{Path: "/media/" + strconv.Itoa(i) + ".m4s", BufferStarvation: i == 2}
		if err := repo.RecordReport("s1", SessionMeta{}, rep); err != nil {
			t.Fatalf("RecordReport %d: %v", i, err)
		}
	}

	st, _ := repo.GetSessionSnapshot("s1")
	if len(st.Reports) != 3 {
		t.Fatalf("expected window of 3, got %d", len(st.Reports))
	}
	if st.Reports[0].Path != "/media/3.m4s" || st.Reports[2].Path != "/media/5.m4s" {
		t.Errorf("window should hold the latest reports: %+v", st.Reports)
	}
	if st.TotalReports != 5 || st.Stalls != 1 {
		t.Errorf("counters should cover all reports: total=%d stalls=%d", st.TotalReports, st.Stalls)
	}
}

func TestInMemoryRepository_snapshotIsCopy(t *testing.T) {
	repo := NewInMemoryRepository(0)
	_ = repo.RecordReport("s1", SessionMeta{}, Report{Path: "/a"})

	st, _ := repo.GetSessionSnapshot("s1")
	st.Reports[0].Path = "mutated"

	again, _ := repo.GetSessionSnapshot("s1")
	if again.Reports[0].Path != "/a" {
		t.Errorf("snapshot mutation leaked into repository: %q", again.Reports[0].Path)
	}
}

func TestInMemoryRepository_EndSession(t *testing.T) {
	repo := NewInMemoryRepository(0)
	_ = repo.RecordReport("s1", SessionMeta{}, Report{})
	_ = repo.RecordReport("s2", SessionMeta{}, Report{})

	if n := repo.ActiveSessionCount(); n != 2 {
		t.Errorf("expected 2 active sessions, got %d", n)
	}

	if err := repo.EndSession("s1"); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if err := repo.EndSession("missing"); err != nil {
		t.Errorf("ending unknown session should be a no-op: %v", err)
	}

	err := repo.RecordReport("s1", SessionMeta{}, Report{})
	if !errors.Is(err, ErrSessionEnded) {
		t.Errorf("expected ErrSessionEnded, got %v", err)
	}
	if n := repo.ActiveSessionCount(); n != 1 {
		t.Errorf("expected 1 active session, got %d", n)
	}
}

func TestInMemoryRepository_concurrentRecord(t *testing.T) {
	repo := NewInMemoryRepository(10)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_ = repo.RecordReport("s1", SessionMeta{}, Report{})
				_, _ = repo.GetSessionSnapshot("s1")
			}
		}()
	}
	wg.Wait()

	st, _ := repo.GetSessionSnapshot("s1")
	if st.TotalReports != 200 || len(st.Reports) != 10 {
		t.Errorf("total=%d window=%d", st.TotalReports, len(st.Reports))
	}
}

// clock is a settable time source for InMemoryRepository.now.
type clock struct{ t time.Time }

func (c *clock) now() time.Time         { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestInMemoryRepository_Prune(t *testing.T) {
	clk := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	repo := NewInMemoryRepository(0, WithIdleTimeout(time.Minute))
	repo.now = clk.now

	_ = repo.RecordReport("idle", SessionMeta{}, Report{})
	_ = repo.RecordReport("ended", SessionMeta{}, Report{})
	_ = repo.EndSession("ended")
	clk.advance(45 * time.Second)
	_ = repo.RecordReport("busy", SessionMeta{}, Report{})
	clk.advance(30 * time.Second)

	if n := repo.Prune(); n != 2 {
		t.Errorf("expected 2 pruned, got %d", n)
	}
	for _, id := range []SessionID{"idle", "ended"} {
		if _, ok := repo.GetSessionSnapshot(id); ok {
			t.Errorf("%s should be pruned", id)
		}
	}
	st, ok := repo.GetSessionSnapshot("busy")
	if !ok || !st.LastSeen.Equal(clk.t.Add(-30*time.Second)) {
		t.Errorf("busy should remain with last seen set, got %+v ok=%v", st, ok)
	}
}

func TestInMemoryRepository_maxSessions(t *testing.T) {
	clk := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	repo := NewInMemoryRepository(0, WithMaxSessions(2), WithIdleTimeout(time.Hour))
	repo.now = clk.now

	for i := 0; i < 2; i++ {
		if err := repo.RecordReport(SessionID("s"+strconv.Itoa(i)), SessionMeta{}, Report{}); err != nil {
			t.Fatalf("RecordReport: %v", err)
		}
	}

	err := repo.RecordReport("s2", SessionMeta{}, Report{})
	if !errors.Is(err, ErrTooManySessions) {
		t.Fatalf("expected ErrTooManySessions, got %v", err)
	}
	if err := repo.RecordReport("s0", SessionMeta{}, Report{}); err != nil {
		t.Errorf("existing sessions keep recording: %v", err)
	}

	// An ended session makes room, even before it goes idle.
	_ = repo.EndSession("s1")
	if err := repo.RecordReport("s2", SessionMeta{}, Report{}); err != nil {
		t.Fatalf("RecordReport after end: %v", err)
	}
	if _, ok := repo.GetSessionSnapshot("s1"); ok {
		t.Error("ended session s1 should be evicted")
	}

	// Idle sessions are pruned to make room.
	clk.advance(2 * time.Hour)
	if err := repo.RecordReport("s3", SessionMeta{}, Report{}); err != nil {
		t.Fatalf("RecordReport after idle: %v", err)
	}
	if n := repo.ActiveSessionCount(); n != 1 {
		t.Errorf("expected 1 active session, got %d", n)
	}
}
