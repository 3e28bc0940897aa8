// Package pipeline orchestrates one run of the signal-to-content flow:
// gather, score, filter, generate, review, persist, hand off to the
// publisher queue.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/herald/internal/generate"
	"github.com/kalambet/herald/internal/ledger"
	"github.com/kalambet/herald/internal/scoring"
	"github.com/kalambet/herald/internal/signal"
	"github.com/kalambet/herald/internal/storage"
	"github.com/kalambet/herald/internal/voice"
)

// State names the controller's position in a run.
type State string

const (
	StateIdle       State = "idle"
	StateGathering  State = "gathering"
	StateScoring    State = "scoring"
	StateGenerating State = "generating"
	StatePersisting State = "persisting"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// ErrRunInProgress is returned when a run is requested while another is
// still executing. Runs never overlap.
var ErrRunInProgress = errors.New("pipeline run already in progress")

// Config tunes a run. Zero values fall back to the documented defaults.
type Config struct {
	ScoreThreshold     float64       // minimum score to generate, default 0.4
	InterItemDelay     time.Duration // pause between generation calls, default 2s
	ProfileMaxAgeHours int           // voice profile freshness window, default 168
	MergeOldWeight     float64       // default 0.7
	MergeNewWeight     float64       // default 0.3
}

func (c Config) withDefaults() Config {
	if c.ScoreThreshold == 0 {
		c.ScoreThreshold = 0.4
	}
	if c.InterItemDelay == 0 {
		c.InterItemDelay = 2 * time.Second
	}
	if c.ProfileMaxAgeHours == 0 {
		c.ProfileMaxAgeHours = 168
	}
	if c.MergeOldWeight == 0 && c.MergeNewWeight == 0 {
		c.MergeOldWeight, c.MergeNewWeight = 0.7, 0.3
	}
	return c
}

// SampleSource provides raw writing samples for voice learning.
type SampleSource interface {
	VoiceSamples(ctx context.Context) (voice.Samples, error)
}

// RunStore is the storage subset the controller records runs and jobs with.
type RunStore interface {
	CreateRun(correlationID string, startedAt time.Time) (int64, error)
	UpdateRunState(id int64, state string) error
	FinishRun(r storage.RunRecord) error
	SaveSignalMirror(rec storage.SignalRecord) error
	EnqueueJob(job storage.Job) error
}

// Report summarizes a finished run. Counts are reported even for failed
// runs so operators can tell "nothing was relevant" from "something broke".
type Report struct {
	RunID     int64
	State     State
	Processed int
	Generated int
	Skipped   int
	Errors    []string
}

// Controller executes runs one at a time.
type Controller struct {
	store        RunStore
	gatherer     *Gatherer
	scorer       *scoring.Scorer
	ledger       *ledger.Ledger
	orchestrator *generate.Orchestrator
	voiceStore   *voice.Store
	learner      *voice.Learner
	samples      SampleSource
	cfg          Config

	mu      sync.Mutex
	running bool
	state   State
}

// NewController wires a Controller. learner and samples may be nil; the run
// then uses the persisted profile (or the default) without relearning.
func NewController(
	store RunStore,
	gatherer *Gatherer,
	scorer *scoring.Scorer,
	ldg *ledger.Ledger,
	orchestrator *generate.Orchestrator,
	voiceStore *voice.Store,
	learner *voice.Learner,
	samples SampleSource,
	cfg Config,
) *Controller {
	return &Controller{
		store:        store,
		gatherer:     gatherer,
		scorer:       scorer,
		ledger:       ldg,
		orchestrator: orchestrator,
		voiceStore:   voiceStore,
		learner:      learner,
		samples:      samples,
		cfg:          cfg.withDefaults(),
		state:        StateIdle,
	}
}

// State returns the controller's current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Run executes one full pipeline run. Component-level failures (one
// signal's generation, one source's gathering) are counted and absorbed;
// only run-level failures (storage unreachable) fail the run. A failed run
// still records whatever counts were accumulated.
func (c *Controller) Run(ctx context.Context) (Report, error) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return Report{}, ErrRunInProgress
	}
	c.running = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.running = false
		c.state = StateIdle
		c.mu.Unlock()
	}()

	correlationID := uuid.New().String()
	startedAt := time.Now().UTC()
	runID, err := c.store.CreateRun(correlationID, startedAt)
	if err != nil {
		return Report{}, fmt.Errorf("creating run record: %w", err)
	}
	log := slog.With("run_id", runID, "correlation_id", correlationID)
	log.Info("pipeline run started")

	report := Report{RunID: runID}
	if err := c.execute(ctx, log, runID, &report); err != nil {
		report.State = StateFailed
		report.Errors = append(report.Errors, err.Error())
		c.finish(log, runID, startedAt, &report)
		return report, err
	}

	report.State = StateCompleted
	c.finish(log, runID, startedAt, &report)
	log.Info("pipeline run completed",
		"processed", report.Processed,
		"generated", report.Generated,
		"skipped", report.Skipped,
		"errors", len(report.Errors))
	return report, nil
}

func (c *Controller) execute(ctx context.Context, log *slog.Logger, runID int64, report *Report) error {
	profile := c.currentProfile(ctx, log)

	c.setState(log, runID, StateGathering)
	signals := c.gatherer.Gather(ctx)
	log.Info("gathering complete", "signals", len(signals))

	c.setState(log, runID, StateScoring)
	accepted := c.scoreAndFilter(log, signals, report)
	recentWork := recentWorkTitles(signals)
	milestones := c.gatherer.Milestones(ctx)

	c.setState(log, runID, StateGenerating)
	var drafts []draft
	for i, scored := range accepted {
		if i > 0 {
			// Courtesy rate limit toward the generation collaborator:
			// one request in flight, fixed pause between items.
			select {
			case <-time.After(c.cfg.InterItemDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		d, err := c.generateOne(ctx, log, scored, profile, recentWork, milestones, report)
		if err != nil {
			return err
		}
		if d != nil {
			drafts = append(drafts, *d)
		}
	}

	c.setState(log, runID, StatePersisting)
	for _, d := range drafts {
		if err := c.persist(log, d.content, d.sourceType, d.sourceID, report); err != nil {
			return err
		}
	}

	return nil
}

// draft pairs generated content with its dedup identity until persistence.
type draft struct {
	content    *generate.Content
	sourceType string
	sourceID   string
}

// recentWorkTitles pulls completed-task titles out of the gathered batch as
// ambient context for generation prompts.
func recentWorkTitles(signals []signal.Signal) []string {
	var titles []string
	for _, sig := range signals {
		if sig.Kind == signal.KindTask && sig.Task != nil {
			titles = append(titles, sig.Task.Title)
		}
		if len(titles) == 5 {
			break
		}
	}
	return titles
}

// currentProfile returns the profile for this run: the persisted one when
// fresh, otherwise a relearned-and-merged one. Learning failures never
// abort the run.
func (c *Controller) currentProfile(ctx context.Context, log *slog.Logger) voice.Profile {
	persisted, err := c.voiceStore.Load()
	if err != nil {
		log.Warn("loading voice profile failed, using default", "error", err)
		return voice.DefaultProfile()
	}

	fresh, err := c.voiceStore.IsFresh(c.cfg.ProfileMaxAgeHours)
	if err != nil {
		log.Warn("freshness check failed", "error", err)
	}
	if fresh && persisted != nil {
		return *persisted
	}

	if c.learner == nil || c.samples == nil {
		if persisted != nil {
			return *persisted
		}
		return voice.DefaultProfile()
	}

	samples, err := c.samples.VoiceSamples(ctx)
	if err != nil {
		log.Warn("collecting voice samples failed", "error", err)
		if persisted != nil {
			return *persisted
		}
		return voice.DefaultProfile()
	}

	learned, err := c.learner.LearnFromSamples(ctx, samples)
	if err != nil {
		log.Warn("voice learning failed, continuing with existing profile", "error", err)
		if persisted != nil {
			return *persisted
		}
		return voice.DefaultProfile()
	}

	merged := *learned
	if persisted != nil {
		merged = voice.Merge(*persisted, *learned, c.cfg.MergeOldWeight, c.cfg.MergeNewWeight)
	}
	if err := c.voiceStore.Save(merged); err != nil {
		log.Warn("saving merged voice profile failed", "error", err)
	}
	log.Info("voice profile refreshed",
		"posts", merged.SampleCounts.Posts, "docs", merged.SampleCounts.Docs)
	return merged
}

// scoreAndFilter scores every signal, mirrors it for analytics, and keeps
// those at or above the threshold. Malformed signals are skipped
// individually.
func (c *Controller) scoreAndFilter(log *slog.Logger, signals []signal.Signal, report *Report) []scoring.Scored {
	var accepted []scoring.Scored
	for _, sig := range signals {
		report.Processed++

		scored, err := c.scorer.Score(sig)
		if err != nil {
			log.Warn("skipping malformed signal", "error", err)
			report.Errors = append(report.Errors, err.Error())
			continue
		}

		c.mirrorSignal(log, sig, scored.Score)

		if scored.Score < c.cfg.ScoreThreshold {
			log.Debug("signal below threshold",
				"signal", sig.Describe(), "score", scored.Score)
			report.Skipped++
			continue
		}
		accepted = append(accepted, scored)
	}
	log.Info("scoring complete", "accepted", len(accepted), "of", len(signals))
	return accepted
}

func (c *Controller) mirrorSignal(log *slog.Logger, sig signal.Signal, score float64) {
	payload, err := json.Marshal(sig)
	if err != nil {
		return
	}
	err = c.store.SaveSignalMirror(storage.SignalRecord{
		ID:          c.ledger.SourceIDFor(sig),
		Kind:        string(sig.Kind),
		PayloadJSON: string(payload),
		Score:       score,
		CapturedAt:  time.Now().UTC(),
	})
	if err != nil {
		log.Warn("mirroring signal failed", "error", err)
	}
}

// generateOne handles one accepted signal up to (not including)
// persistence. Returns an error only for run-level storage failures; a nil
// draft means the signal was skipped.
func (c *Controller) generateOne(ctx context.Context, log *slog.Logger, scored scoring.Scored, profile voice.Profile, recentWork, milestones []string, report *Report) (*draft, error) {
	sig := scored.Signal
	sourceType := ledger.SourceTypeFor(sig.Kind)
	sourceID := c.ledger.SourceIDFor(sig)

	seen, err := c.ledger.HasEntryFor(sourceType, sourceID)
	if err != nil {
		return nil, fmt.Errorf("ledger lookup for %s/%s: %w", sourceType, sourceID, err)
	}
	if seen {
		log.Info("skipping already-processed source",
			"source_type", sourceType, "source_id", sourceID)
		report.Skipped++
		return nil, nil
	}

	content, err := c.orchestrator.Generate(ctx, generate.TriggerContext{
		Scored:     scored,
		RecentWork: recentWork,
		Milestones: milestones,
	}, profile)
	if err != nil {
		log.Warn("generation failed for signal", "signal", sig.Describe(), "error", err)
		report.Errors = append(report.Errors, err.Error())
		return nil, nil
	}
	if content == nil {
		log.Info("nothing worth saying for signal", "signal", sig.Describe())
		if err := c.ledger.MarkProcessed(sourceType, sourceID); err != nil {
			return nil, fmt.Errorf("marking %s/%s processed: %w", sourceType, sourceID, err)
		}
		report.Skipped++
		return nil, nil
	}

	return &draft{content: content, sourceType: sourceType, sourceID: sourceID}, nil
}

func (c *Controller) persist(log *slog.Logger, content *generate.Content, sourceType, sourceID string, report *Report) error {
	dup, err := c.ledger.IsDuplicateContent(content.Body)
	if err != nil {
		return fmt.Errorf("content hash lookup: %w", err)
	}
	if dup {
		log.Info("discarding duplicate content",
			"source_type", sourceType, "source_id", sourceID)
		if err := c.ledger.MarkProcessed(sourceType, sourceID); err != nil {
			return fmt.Errorf("marking %s/%s processed: %w", sourceType, sourceID, err)
		}
		report.Skipped++
		return nil
	}

	id, err := c.ledger.Persist(ledger.Content{
		Body:              content.Body,
		Kind:              string(content.Kind),
		SourceDescription: content.SourceDescription,
		RelevanceScore:    content.RelevanceScore,
		BrandScore:        content.BrandScore,
		ImageRef:          content.ImageRef,
	}, sourceType, sourceID)
	if errors.Is(err, ledger.ErrDuplicateSource) || errors.Is(err, ledger.ErrDuplicateContent) {
		// Normal filtering outcome, typically a near-simultaneous
		// convergence on the same text.
		log.Info("persist filtered duplicate", "reason", err)
		report.Skipped++
		return nil
	}
	if err != nil {
		return fmt.Errorf("persisting content for %s/%s: %w", sourceType, sourceID, err)
	}

	report.Generated++
	log.Info("content persisted", "content_id", id, "source_type", sourceType)
	c.enqueuePublish(log, id)
	return nil
}

// enqueuePublish hands the draft to the background publisher queue. The run
// never blocks on publishing; a queue failure is logged and counted only.
func (c *Controller) enqueuePublish(log *slog.Logger, contentID string) {
	payload, _ := json.Marshal(map[string]string{"content_uuid": contentID})
	err := c.store.EnqueueJob(storage.Job{
		ID:          uuid.New().String(),
		Type:        "publish_content",
		PayloadJSON: string(payload),
		Status:      "pending",
		MaxAttempts: 5,
		RunAfter:    time.Now().UTC(),
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		log.Warn("enqueueing publish job failed", "content_id", contentID, "error", err)
	}
}

func (c *Controller) setState(log *slog.Logger, runID int64, s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	if err := c.store.UpdateRunState(runID, string(s)); err != nil {
		log.Warn("recording run state failed", "state", s, "error", err)
	}
	log.Debug("state transition", "state", s)
}

func (c *Controller) finish(log *slog.Logger, runID int64, startedAt time.Time, report *Report) {
	c.mu.Lock()
	c.state = report.State
	c.mu.Unlock()

	errorLog, _ := json.Marshal(report.Errors)
	err := c.store.FinishRun(storage.RunRecord{
		ID:         runID,
		State:      string(report.State),
		StartedAt:  startedAt,
		FinishedAt: time.Now().UTC(),
		Processed:  report.Processed,
		Generated:  report.Generated,
		Skipped:    report.Skipped,
		Errors:     len(report.Errors),
		ErrorLog:   string(errorLog),
	})
	if err != nil {
		log.Error("recording run completion failed", "error", err)
	}
}
