package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/herald/internal/signal"
	"github.com/kalambet/herald/internal/storage"
)

// TrendSource fetches current trend snapshots.
type TrendSource interface {
	FetchTrendSignals(ctx context.Context) ([]signal.Signal, error)
}

// PostSource fetches recent influencer posts.
type PostSource interface {
	FetchInfluencerPosts(ctx context.Context, count int) ([]signal.Signal, error)
}

// TaskSource fetches recently completed tasks.
type TaskSource interface {
	FetchCompletedTasks(ctx context.Context, daysBack int) ([]signal.Signal, error)
}

// MirrorReader is the storage subset the gatherer uses as a supplemental
// signal source.
type MirrorReader interface {
	GetMirrorSignals(kind string, limit int) ([]storage.SignalRecord, error)
}

const (
	defaultPostCount    = 10
	defaultTaskDaysBack = 7
	defaultMinSignals   = 3
)

// Gatherer joins the independent signal sources. A failure in one branch is
// logged and tolerated; the other branches' results still flow forward.
type Gatherer struct {
	trends TrendSource
	posts  PostSource
	tasks  TaskSource
	mirror MirrorReader

	postCount    int
	taskDaysBack int
	minSignals   int
}

// NewGatherer wires the sources. Nil sources are simply skipped, so a
// deployment can run on any subset.
// MilestoneSource optionally reports upcoming roadmap items. Task trackers
// that know about planned work implement it alongside TaskSource.
type MilestoneSource interface {
	FetchUpcomingMilestones(ctx context.Context) ([]string, error)
}

func NewGatherer(trends TrendSource, posts PostSource, tasks TaskSource, mirror MirrorReader) *Gatherer {
	return &Gatherer{
		trends:       trends,
		posts:        posts,
		tasks:        tasks,
		mirror:       mirror,
		postCount:    defaultPostCount,
		taskDaysBack: defaultTaskDaysBack,
		minSignals:   defaultMinSignals,
	}
}

// Gather fetches from all configured sources concurrently and returns the
// combined signals. When live gathering returns fewer than minSignals items
// the mirror table supplements the batch.
func (g *Gatherer) Gather(ctx context.Context) []signal.Signal {
	var (
		mu  sync.Mutex
		out []signal.Signal
	)
	collect := func(sigs []signal.Signal) {
		mu.Lock()
		out = append(out, sigs...)
		mu.Unlock()
	}

	eg, gctx := errgroup.WithContext(ctx)
	if g.trends != nil {
		eg.Go(func() error {
			sigs, err := g.trends.FetchTrendSignals(gctx)
			if err != nil {
				slog.Warn("trend gathering failed", "error", err)
				return nil
			}
			collect(sigs)
			return nil
		})
	}
	if g.posts != nil {
		eg.Go(func() error {
			sigs, err := g.posts.FetchInfluencerPosts(gctx, g.postCount)
			if err != nil {
				slog.Warn("post gathering failed", "error", err)
				return nil
			}
			collect(sigs)
			return nil
		})
	}
	if g.tasks != nil {
		eg.Go(func() error {
			sigs, err := g.tasks.FetchCompletedTasks(gctx, g.taskDaysBack)
			if err != nil {
				slog.Warn("task gathering failed", "error", err)
				return nil
			}
			collect(sigs)
			return nil
		})
	}
	eg.Wait()

	if len(out) < g.minSignals && g.mirror != nil {
		out = append(out, g.supplement(g.minSignals-len(out))...)
	}
	return out
}

// Milestones returns upcoming roadmap items when the task source knows
// about planned work. Failures only cost prompt context, never a run.
func (g *Gatherer) Milestones(ctx context.Context) []string {
	ms, ok := g.tasks.(MilestoneSource)
	if !ok {
		return nil
	}
	milestones, err := ms.FetchUpcomingMilestones(ctx)
	if err != nil {
		slog.Warn("fetching upcoming milestones failed", "error", err)
		return nil
	}
	if len(milestones) > 5 {
		milestones = milestones[:5]
	}
	return milestones
}

// supplement pulls recent mirrored signals to pad a thin live batch. Dedup
// against already-processed sources happens downstream at the ledger.
func (g *Gatherer) supplement(want int) []signal.Signal {
	var out []signal.Signal
	for _, kind := range []string{string(signal.KindPost), string(signal.KindTask)} {
		if len(out) >= want {
			break
		}
		records, err := g.mirror.GetMirrorSignals(kind, want-len(out))
		if err != nil {
			slog.Warn("mirror supplement failed", "kind", kind, "error", err)
			continue
		}
		for _, rec := range records {
			var sig signal.Signal
			if err := json.Unmarshal([]byte(rec.PayloadJSON), &sig); err != nil {
				slog.Warn("skipping malformed mirror record", "id", rec.ID, "error", err)
				continue
			}
			out = append(out, sig)
		}
	}
	if len(out) > 0 {
		slog.Info("supplemented thin batch from mirror", "count", len(out))
	}
	return out
}
