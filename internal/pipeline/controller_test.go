package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/herald/internal/generate"
	"github.com/kalambet/herald/internal/ledger"
	"github.com/kalambet/herald/internal/llm"
	"github.com/kalambet/herald/internal/scoring"
	"github.com/kalambet/herald/internal/signal"
	"github.com/kalambet/herald/internal/storage"
	"github.com/kalambet/herald/internal/voice"
)

// scriptedClient returns the same response for every call, or fails.
type scriptedClient struct {
	response string
	err      error
	calls    int
	prompts  []string
}

func (c *scriptedClient) Chat(ctx context.Context, messages []llm.Message, schema *llm.Schema) (string, error) {
	c.calls++
	for _, m := range messages {
		if m.Role == "user" {
			c.prompts = append(c.prompts, m.Content)
		}
	}
	if c.err != nil {
		return "", c.err
	}
	return c.response, nil
}

type stubTrendSource struct {
	signals []signal.Signal
	err     error
}

func (s *stubTrendSource) FetchTrendSignals(ctx context.Context) ([]signal.Signal, error) {
	return s.signals, s.err
}

type stubTaskSource struct {
	signals []signal.Signal
	err     error
}

func (s *stubTaskSource) FetchCompletedTasks(ctx context.Context, daysBack int) ([]signal.Signal, error) {
	return s.signals, s.err
}

type stubSampleSource struct {
	samples voice.Samples
	err     error
}

func (s *stubSampleSource) VoiceSamples(ctx context.Context) (voice.Samples, error) {
	return s.samples, s.err
}

// roadmapTaskSource serves completed tasks and knows about planned work.
type roadmapTaskSource struct {
	stubTaskSource
	milestones []string
}

func (s *roadmapTaskSource) FetchUpcomingMilestones(ctx context.Context) ([]string, error) {
	return s.milestones, nil
}

func hotTrend() signal.Signal {
	return signal.NewTrend(signal.Trend{
		Topic:           "wallet fragmentation",
		SampleTexts:     []string{"managing 5 wallets and the ux is killing web3 adoption"},
		EngagementScore: 2000,
		OccurrenceCount: 8,
		RelevanceHint:   signal.RelevanceDirect,
	})
}

func boringTask() signal.Signal {
	return signal.NewTask(signal.Task{ID: "task-9", Title: "Fix typo in readme"})
}

type testEnv struct {
	store      *storage.Store
	controller *Controller
	client     *scriptedClient
}

func newTestEnv(t *testing.T, trends TrendSource, tasks TaskSource, client *scriptedClient) *testEnv {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	controller := NewController(
		store,
		NewGatherer(trends, nil, tasks, store),
		scoring.NewDefault(),
		ledger.New(store),
		generate.NewOrchestrator(client, nil),
		voice.NewStore(store),
		nil, nil,
		Config{InterItemDelay: time.Millisecond},
	)
	return &testEnv{store: store, controller: controller, client: client}
}

func TestRun_HappyPath(t *testing.T) {
	client := &scriptedClient{response: "Here's the tweet: Wallet UX decides adoption."}
	env := newTestEnv(t, &stubTrendSource{signals: []signal.Signal{hotTrend()}}, nil, client)

	report, err := env.controller.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.State != StateCompleted {
		t.Errorf("state = %s, want completed", report.State)
	}
	if report.Processed != 1 || report.Generated != 1 || report.Skipped != 0 {
		t.Errorf("counts = %+v", report)
	}

	contents, err := env.store.ListContent(10)
	if err != nil {
		t.Fatalf("ListContent: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("expected one content row, got %d", len(contents))
	}
	if contents[0].RelevanceScore < 0.7 {
		t.Errorf("relevance score not carried through: %v", contents[0].RelevanceScore)
	}

	job, err := env.store.ClaimNextJob([]string{"publish_content"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if job == nil {
		t.Fatal("expected a queued publish job")
	}

	runs, err := env.store.GetRecentRuns(1)
	if err != nil || len(runs) != 1 {
		t.Fatalf("GetRecentRuns: %v (%d runs)", err, len(runs))
	}
	if runs[0].State != string(StateCompleted) || runs[0].Generated != 1 {
		t.Errorf("run record = %+v", runs[0])
	}
}

func TestRun_SecondRunSkipsProcessedSource(t *testing.T) {
	client := &scriptedClient{response: "Wallet UX decides adoption."}
	env := newTestEnv(t, &stubTrendSource{signals: []signal.Signal{hotTrend()}}, nil, client)

	if _, err := env.controller.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	callsAfterFirst := client.calls

	report, err := env.controller.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if report.Generated != 0 || report.Skipped != 1 {
		t.Errorf("second run should skip the processed source: %+v", report)
	}
	if client.calls != callsAfterFirst {
		t.Error("second run must not call the generator for a processed source")
	}

	contents, _ := env.store.ListContent(10)
	if len(contents) != 1 {
		t.Errorf("expected exactly one content row after two runs, got %d", len(contents))
	}
}

func TestRun_BelowThresholdNeverReachesGenerator(t *testing.T) {
	client := &scriptedClient{response: "should not be called"}
	env := newTestEnv(t, nil, &stubTaskSource{signals: []signal.Signal{boringTask()}}, client)

	report, err := env.controller.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Skipped != 1 || report.Generated != 0 {
		t.Errorf("counts = %+v", report)
	}
	if client.calls != 0 {
		t.Errorf("generator called %d times for a filtered signal", client.calls)
	}
}

func TestRun_SkipResponseMarksProcessed(t *testing.T) {
	client := &scriptedClient{response: "SKIP"}
	env := newTestEnv(t, &stubTrendSource{signals: []signal.Signal{hotTrend()}}, nil, client)

	report, err := env.controller.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Generated != 0 || report.Skipped != 1 {
		t.Errorf("counts = %+v", report)
	}

	// The source is marked processed so the next run will not retry it.
	callsAfterFirst := client.calls
	if _, err := env.controller.Run(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if client.calls != callsAfterFirst {
		t.Error("skipped source was regenerated on the second run")
	}
}

func TestRun_FailedSourceBranchIsTolerated(t *testing.T) {
	client := &scriptedClient{response: "Shipped it."}
	task := signal.NewTask(signal.Task{
		ID:    "task-1",
		Title: "Ship multichain wallet switcher with better ux",
	})
	env := newTestEnv(t,
		&stubTrendSource{err: errors.New("scraper down")},
		&stubTaskSource{signals: []signal.Signal{task}},
		client)

	report, err := env.controller.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.State != StateCompleted {
		t.Errorf("one failed branch must not fail the run: %+v", report)
	}
	if report.Generated != 1 {
		t.Errorf("surviving branch should still generate: %+v", report)
	}
}

func TestRun_IdenticalBodiesFromDistinctSignalsPersistOnce(t *testing.T) {
	// Both signals draft to the same text via the scripted client.
	client := &scriptedClient{response: "One wallet. Every chain."}
	trendA := hotTrend()
	trendB := signal.NewTrend(signal.Trend{
		Topic:           "multichain ux",
		SampleTexts:     []string{"wallet switching ux is killing web3 onboarding"},
		EngagementScore: 5000,
		OccurrenceCount: 4,
		RelevanceHint:   signal.RelevanceDirect,
	})
	env := newTestEnv(t, &stubTrendSource{signals: []signal.Signal{trendA, trendB}}, nil, client)

	report, err := env.controller.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Generated != 1 || report.Skipped != 1 {
		t.Errorf("exactly one of the identical drafts should persist: %+v", report)
	}

	contents, _ := env.store.ListContent(10)
	if len(contents) != 1 {
		t.Errorf("expected one content row, got %d", len(contents))
	}
}

func TestRun_PrimaryOutageStillProduces(t *testing.T) {
	client := &scriptedClient{err: errors.New("backend down")}
	env := newTestEnv(t, &stubTrendSource{signals: []signal.Signal{hotTrend()}}, nil, client)

	report, err := env.controller.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Generated != 1 {
		t.Errorf("fallback should keep the run producing: %+v", report)
	}
}

func TestRun_MalformedSignalSkipsItemOnly(t *testing.T) {
	malformed := signal.Signal{Kind: signal.KindTrend} // no payload
	client := &scriptedClient{response: "Shipped it."}
	task := signal.NewTask(signal.Task{
		ID:    "task-2",
		Title: "Ship wallet ux improvements for onboarding",
	})
	env := newTestEnv(t,
		&stubTrendSource{signals: []signal.Signal{malformed}},
		&stubTaskSource{signals: []signal.Signal{task}},
		client)

	report, err := env.controller.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.State != StateCompleted {
		t.Errorf("malformed signal must not fail the run: %+v", report)
	}
	if len(report.Errors) != 1 {
		t.Errorf("malformed signal should be counted as an error: %+v", report.Errors)
	}
	if report.Generated != 1 {
		t.Errorf("valid signal should still flow: %+v", report)
	}
}

// saveStaleProfile persists a profile stamped well past the freshness
// window so the next run must relearn.
func saveStaleProfile(t *testing.T, store *storage.Store, p voice.Profile) {
	t.Helper()
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshalling profile: %v", err)
	}
	if err := store.SaveVoiceProfile(string(data), time.Now().Add(-200*time.Hour)); err != nil {
		t.Fatalf("SaveVoiceProfile: %v", err)
	}
}

const relearnedJSON = `{
	"tone": ["direct"],
	"common_phrases": ["just shipped"],
	"avoided_phrases": [],
	"technical_level": 0.8,
	"casualness": 0.5,
	"enthusiasm": 0.6,
	"structural": {"avg_length": 180, "thread_usage_ratio": 0.2, "emoji_per_item": 0.1, "hashtag_per_item": 0.0},
	"exemplars": {"strong": [], "good": []}
}`

func newVoiceTestEnv(t *testing.T, trends TrendSource, tasks TaskSource, genClient, learnClient *scriptedClient) *testEnv {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	controller := NewController(
		store,
		NewGatherer(trends, nil, tasks, store),
		scoring.NewDefault(),
		ledger.New(store),
		generate.NewOrchestrator(genClient, nil),
		voice.NewStore(store),
		voice.NewLearner(learnClient),
		&stubSampleSource{samples: voice.Samples{Posts: []string{"a past post"}}},
		Config{InterItemDelay: time.Millisecond},
	)
	return &testEnv{store: store, controller: controller, client: genClient}
}

func TestRun_StaleProfileRelearnedOnceAtRunStart(t *testing.T) {
	genClient := &scriptedClient{response: "Wallet UX decides adoption."}
	learnClient := &scriptedClient{response: relearnedJSON}
	task := signal.NewTask(signal.Task{
		ID:    "task-3",
		Title: "Ship multichain wallet switcher with better ux",
	})
	env := newVoiceTestEnv(t,
		&stubTrendSource{signals: []signal.Signal{hotTrend()}},
		&stubTaskSource{signals: []signal.Signal{task}},
		genClient, learnClient)

	persisted := voice.DefaultProfile()
	persisted.TechnicalLevel = 0.4
	saveStaleProfile(t, env.store, persisted)

	report, err := env.controller.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.State != StateCompleted {
		t.Fatalf("state = %s, want completed", report.State)
	}
	if learnClient.calls != 1 {
		t.Errorf("learn called %d times, want exactly once per run", learnClient.calls)
	}

	// Merged profile persisted: 0.7*0.4 + 0.3*0.8.
	merged, err := voice.NewStore(env.store).Load()
	if err != nil || merged == nil {
		t.Fatalf("loading merged profile: %v (%v)", err, merged)
	}
	if diff := merged.TechnicalLevel - 0.52; diff < -1e-9 || diff > 1e-9 {
		t.Errorf("merged technical_level = %v, want 0.52", merged.TechnicalLevel)
	}

	fresh, err := voice.NewStore(env.store).IsFresh(168)
	if err != nil || !fresh {
		t.Errorf("relearned profile should be fresh: fresh=%v err=%v", fresh, err)
	}
}

func TestRun_FreshProfileSkipsLearning(t *testing.T) {
	genClient := &scriptedClient{response: "Wallet UX decides adoption."}
	learnClient := &scriptedClient{response: relearnedJSON}
	env := newVoiceTestEnv(t,
		&stubTrendSource{signals: []signal.Signal{hotTrend()}}, nil,
		genClient, learnClient)

	if err := voice.NewStore(env.store).Save(voice.DefaultProfile()); err != nil {
		t.Fatalf("saving fresh profile: %v", err)
	}

	if _, err := env.controller.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if learnClient.calls != 0 {
		t.Errorf("fresh profile must be reused without learning, got %d calls", learnClient.calls)
	}
}

func TestRun_LearnFailureContinuesWithPersistedProfile(t *testing.T) {
	genClient := &scriptedClient{response: "Wallet UX decides adoption."}
	learnClient := &scriptedClient{err: errors.New("backend down")}
	env := newVoiceTestEnv(t,
		&stubTrendSource{signals: []signal.Signal{hotTrend()}}, nil,
		genClient, learnClient)

	persisted := voice.DefaultProfile()
	persisted.TechnicalLevel = 0.4
	saveStaleProfile(t, env.store, persisted)

	report, err := env.controller.Run(context.Background())
	if err != nil {
		t.Fatalf("learn failure must not abort the run: %v", err)
	}
	if report.State != StateCompleted || report.Generated != 1 {
		t.Errorf("run should complete and generate: %+v", report)
	}
	if learnClient.calls != 1 {
		t.Errorf("learn attempted %d times, want 1", learnClient.calls)
	}

	// The persisted profile survives untouched.
	p, err := voice.NewStore(env.store).Load()
	if err != nil || p == nil {
		t.Fatalf("loading profile: %v (%v)", err, p)
	}
	if p.TechnicalLevel != 0.4 {
		t.Errorf("profile overwritten after failed learn: %+v", p)
	}
}

func TestRun_MilestonesReachGenerationPrompt(t *testing.T) {
	genClient := &scriptedClient{response: "Shipped it."}
	task := signal.NewTask(signal.Task{
		ID:    "task-4",
		Title: "Ship wallet ux improvements for onboarding",
	})
	source := &roadmapTaskSource{
		stubTaskSource: stubTaskSource{signals: []signal.Signal{task}},
		milestones:     []string{"Hardware wallet beta"},
	}
	env := newTestEnv(t, nil, source, genClient)

	if _, err := env.controller.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(genClient.prompts) == 0 {
		t.Fatal("generator was never called")
	}
	if !strings.Contains(genClient.prompts[0], "Hardware wallet beta") {
		t.Errorf("upcoming milestone missing from prompt:\n%s", genClient.prompts[0])
	}
}

func TestController_StateIdleBetweenRuns(t *testing.T) {
	env := newTestEnv(t, &stubTrendSource{}, nil, &scriptedClient{response: "x"})
	if got := env.controller.State(); got != StateIdle {
		t.Errorf("initial state = %s, want idle", got)
	}
	if _, err := env.controller.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := env.controller.State(); got != StateIdle {
		t.Errorf("post-run state = %s, want idle", got)
	}
}
