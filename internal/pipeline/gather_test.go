package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/kalambet/herald/internal/signal"
	"github.com/kalambet/herald/internal/storage"
)

func TestGather_JoinsAllSources(t *testing.T) {
	g := NewGatherer(
		&stubTrendSource{signals: []signal.Signal{hotTrend()}},
		nil,
		&stubTaskSource{signals: []signal.Signal{boringTask(), boringTask()}},
		nil,
	)
	got := g.Gather(context.Background())
	if len(got) != 3 {
		t.Fatalf("expected 3 signals, got %d", len(got))
	}
}

func TestGather_BranchFailureDoesNotDropOtherBranches(t *testing.T) {
	g := NewGatherer(
		&stubTrendSource{err: errors.New("scraper down")},
		nil,
		&stubTaskSource{signals: []signal.Signal{boringTask()}},
		nil,
	)
	got := g.Gather(context.Background())
	if len(got) != 1 {
		t.Fatalf("surviving branch lost: got %d signals", len(got))
	}
}

func TestGather_SupplementsThinBatchFromMirror(t *testing.T) {
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	mirrored := signal.NewPost(signal.Post{PostID: "p1", Text: "wallet ux matters"})
	payload, _ := json.Marshal(mirrored)
	err = store.SaveSignalMirror(storage.SignalRecord{
		ID:          "p1",
		Kind:        string(signal.KindPost),
		PayloadJSON: string(payload),
		CapturedAt:  time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("SaveSignalMirror: %v", err)
	}

	g := NewGatherer(&stubTrendSource{}, nil, nil, store)
	got := g.Gather(context.Background())
	if len(got) != 1 {
		t.Fatalf("expected mirror supplement, got %d signals", len(got))
	}
	if got[0].Kind != signal.KindPost || got[0].Post.PostID != "p1" {
		t.Errorf("unexpected supplemented signal: %+v", got[0])
	}
}

func TestGather_NoSupplementWhenBatchIsFull(t *testing.T) {
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	payload, _ := json.Marshal(signal.NewPost(signal.Post{PostID: "p1", Text: "x"}))
	store.SaveSignalMirror(storage.SignalRecord{
		ID: "p1", Kind: string(signal.KindPost), PayloadJSON: string(payload),
		CapturedAt: time.Now().UTC(),
	})

	live := []signal.Signal{hotTrend(), boringTask(), boringTask()}
	g := NewGatherer(
		&stubTrendSource{signals: live[:1]},
		nil,
		&stubTaskSource{signals: live[1:]},
		store,
	)
	got := g.Gather(context.Background())
	if len(got) != 3 {
		t.Fatalf("full live batch must not be supplemented: got %d", len(got))
	}
}
