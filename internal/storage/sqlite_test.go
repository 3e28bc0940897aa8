package storage

import (
	"errors"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("opening in-memory store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestContent_SaveAndList(t *testing.T) {
	s := openTestStore(t)

	id, err := s.SaveContent(ContentRecord{
		UUID:              "c-1",
		Body:              `["just shipped multichain send"]`,
		Kind:              "single",
		SourceDescription: "shipped: multichain send",
		RelevanceScore:    0.8,
		BrandScore:        1.0,
		SourceType:        "task",
		SourceID:          "T-1",
		ContentHash:       "abc",
		CreatedAt:         time.Now(),
	})
	if err != nil {
		t.Fatalf("SaveContent: %v", err)
	}
	if id != 1 {
		t.Errorf("expected first autoincrement id 1, got %d", id)
	}

	got, err := s.GetContentByUUID("c-1")
	if err != nil {
		t.Fatalf("GetContentByUUID: %v", err)
	}
	if got.RelevanceScore != 0.8 || got.SourceType != "task" {
		t.Errorf("unexpected record: %+v", got)
	}

	list, err := s.ListContent(10)
	if err != nil {
		t.Fatalf("ListContent: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 row, got %d", len(list))
	}
}

func TestContent_NotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetContentByUUID("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLedger_SourceUniqueness(t *testing.T) {
	s := openTestStore(t)

	e := LedgerEntry{SourceType: "trend", SourceID: "t-1", ContentHash: "h1", ContentUUID: "c-1", CreatedAt: time.Now()}
	if err := s.InsertLedgerEntry(e); err != nil {
		t.Fatalf("first insert: %v", err)
	}

	e.ContentHash = "h2"
	if err := s.InsertLedgerEntry(e); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for same source, got %v", err)
	}

	has, err := s.HasLedgerEntry("trend", "t-1")
	if err != nil || !has {
		t.Fatalf("HasLedgerEntry = %v, %v", has, err)
	}
}

func TestLedger_ContentHashUniqueness(t *testing.T) {
	s := openTestStore(t)

	a := LedgerEntry{SourceType: "task", SourceID: "T-1", ContentHash: "same", CreatedAt: time.Now()}
	b := LedgerEntry{SourceType: "tweet", SourceID: "99", ContentHash: "same", CreatedAt: time.Now()}

	if err := s.InsertLedgerEntry(a); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := s.InsertLedgerEntry(b); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for same hash across sources, got %v", err)
	}

	has, err := s.HasContentHash("same")
	if err != nil || !has {
		t.Fatalf("HasContentHash = %v, %v", has, err)
	}
}

func TestLedger_EmptyHashesDoNotCollide(t *testing.T) {
	s := openTestStore(t)

	// Mark-processed entries carry no hash; two of them must coexist.
	a := LedgerEntry{SourceType: "trend", SourceID: "t-1", CreatedAt: time.Now()}
	b := LedgerEntry{SourceType: "trend", SourceID: "t-2", CreatedAt: time.Now()}

	if err := s.InsertLedgerEntry(a); err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := s.InsertLedgerEntry(b); err != nil {
		t.Fatalf("second: %v", err)
	}
}

func TestVoiceProfile_Roundtrip(t *testing.T) {
	s := openTestStore(t)

	if _, _, err := s.LoadVoiceProfile(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound before save, got %v", err)
	}

	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	if err := s.SaveVoiceProfile(`{"tone":["direct"]}`, at); err != nil {
		t.Fatalf("SaveVoiceProfile: %v", err)
	}

	data, updatedAt, err := s.LoadVoiceProfile()
	if err != nil {
		t.Fatalf("LoadVoiceProfile: %v", err)
	}
	if data != `{"tone":["direct"]}` || !updatedAt.Equal(at) {
		t.Errorf("unexpected profile: %q at %v", data, updatedAt)
	}

	// Singleton: a second save overwrites, never adds a row.
	later := at.Add(time.Hour)
	if err := s.SaveVoiceProfile(`{"tone":["playful"]}`, later); err != nil {
		t.Fatalf("second save: %v", err)
	}
	data, updatedAt, err = s.LoadVoiceProfile()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if data != `{"tone":["playful"]}` || !updatedAt.Equal(later) {
		t.Errorf("singleton not overwritten: %q at %v", data, updatedAt)
	}
}

func TestRuns_MonotonicIDsAndLifecycle(t *testing.T) {
	s := openTestStore(t)

	first, err := s.CreateRun("corr-1", time.Now())
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	second, err := s.CreateRun("corr-2", time.Now())
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if second <= first {
		t.Errorf("run ids must increase: %d then %d", first, second)
	}

	if err := s.UpdateRunState(first, "generating"); err != nil {
		t.Fatalf("UpdateRunState: %v", err)
	}
	if err := s.FinishRun(RunRecord{
		ID: first, State: "failed", FinishedAt: time.Now(),
		Processed: 3, Generated: 1, Skipped: 1, Errors: 1,
		ErrorLog: `["generation backend unreachable"]`,
	}); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	runs, err := s.GetRecentRuns(5)
	if err != nil {
		t.Fatalf("GetRecentRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	// Newest first.
	if runs[0].ID != second || runs[1].ID != first {
		t.Errorf("unexpected order: %d, %d", runs[0].ID, runs[1].ID)
	}
	if runs[1].State != "failed" || runs[1].Processed != 3 {
		t.Errorf("partial counts lost: %+v", runs[1])
	}
}

func TestJobs_ClaimCompleteFail(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "j-1", Type: "publish_content", PayloadJSON: `{"content_uuid":"c-1"}`}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	job, err := s.ClaimNextJob([]string{"publish_content"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if job == nil || job.ID != "j-1" || job.Status != "running" {
		t.Fatalf("unexpected claim: %+v", job)
	}

	// Nothing else pending.
	if next, _ := s.ClaimNextJob([]string{"publish_content"}); next != nil {
		t.Fatalf("expected no second claim, got %+v", next)
	}

	if err := s.FailJob("j-1", "publisher timeout"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	// Backoff pushes run_after into the future; job is not immediately claimable.
	if next, _ := s.ClaimNextJob([]string{"publish_content"}); next != nil {
		t.Fatalf("expected backoff to defer retry, got %+v", next)
	}
}

func TestSignalMirror_Roundtrip(t *testing.T) {
	s := openTestStore(t)

	rec := SignalRecord{
		ID: "task:T-1", Kind: "task",
		PayloadJSON: `{"id":"T-1","title":"ship it"}`,
		Score:       0.6, CapturedAt: time.Now(),
	}
	if err := s.SaveSignalMirror(rec); err != nil {
		t.Fatalf("SaveSignalMirror: %v", err)
	}
	// Upsert on re-capture.
	rec.Score = 0.7
	if err := s.SaveSignalMirror(rec); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := s.GetMirrorSignals("task", 10)
	if err != nil {
		t.Fatalf("GetMirrorSignals: %v", err)
	}
	if len(got) != 1 || got[0].Score != 0.7 {
		t.Fatalf("unexpected mirror rows: %+v", got)
	}
}
