package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"bambuoverlay/config"
	"bambuoverlay/overlay"
	"bambuoverlay/telemetry"
)

// mockSink records overlay writes and stream commands.
type mockSink struct {
	mu        sync.Mutex
	connected bool
	streaming bool
	statusErr error
	sets      map[string][]map[string]any
	stops     int
	inputs    []string
	created   []string
}

func newMockSink() *mockSink {
	return &mockSink{connected: true, sets: make(map[string][]map[string]any)}
}

func (m *mockSink) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockSink) SetInputSettings(_ context.Context, input string, settings map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets[input] = append(m.sets[input], settings)
	return nil
}

func (m *mockSink) StreamActive(context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streaming, m.statusErr
}

func (m *mockSink) StopStream(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
	return nil
}

func (m *mockSink) ListInputs(context.Context) ([]string, error) { return m.inputs, nil }

func (m *mockSink) CreateInput(_ context.Context, scene, name, kind string, settings map[string]any) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = append(m.created, name)
	return len(m.created), nil
}

func (m *mockSink) SetSceneItemTransform(context.Context, string, int, float64, float64) error {
	return nil
}

func (m *mockSink) lastText(input string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sets := m.sets[input]
	if len(sets) == 0 {
		return "", false
	}
	v, _ := sets[len(sets)-1]["text"].(string)
	return v, true
}

func (m *mockSink) setCount(input string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sets[input])
}

// mockFetcher serves canned assets and counts calls.
type mockFetcher struct {
	mu        sync.Mutex
	thumb     []byte
	weight    float64
	thumbErr  error
	weightErr error
	block     chan struct{}
	paths     []string
}

func (f *mockFetcher) Thumbnail(_ context.Context, path string) ([]byte, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	f.paths = append(f.paths, path)
	f.mu.Unlock()
	return f.thumb, f.thumbErr
}

func (f *mockFetcher) JobWeight(context.Context, string) (float64, error) {
	return f.weight, f.weightErr
}

func (f *mockFetcher) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths...)
}

func testEngine(t *testing.T, sink *mockSink, fetcher AssetFetcher) (*Engine, *config.Config) {
	t.Helper()
	cfg := config.Defaults()
	cfg.Overlay.ThumbnailPath = filepath.Join(t.TempDir(), "preview.png")
	eng := New(Config{AppConfig: cfg, Sink: sink, Fetcher: fetcher, LogFunc: t.Logf, Debug: true})
	return eng, cfg
}

func TestHandlePrint_EndToEnd(t *testing.T) {
	sink := newMockSink()
	fetcher := &mockFetcher{thumb: []byte("png"), weight: 38.92}
	eng, cfg := testEngine(t, sink, fetcher)

	eng.HandlePrint(&telemetry.Snapshot{
		BedTemper: 60, NozzleTemper: 210, NozzleTargetTemper: 210,
		McPercent: 42, LayerNum: 10, TotalLayerNum: 50, McRemainingTime: 75,
		SubtaskName: "Widget", CurrentStage: "Printing",
	})

	want := map[string]string{
		"BedTemp":          "60",
		"BedTargetTemp":    "",
		"NozzleTemp":       "210",
		"NozzleTargetTemp": " / 210 °C",
		"PercentComplete":  "42%",
		"Layers":           "Layers: 10/50",
		"TimeRemaining":    "-1h15m",
		"SubtaskName":      "Widget",
		"Stage":            "Printing",
		"PrintWeight":      "38.92g",
	}
	for input, v := range want {
		got, ok := sink.lastText(input)
		if !ok || got != v {
			t.Errorf("%s = %q (set=%v), want %q", input, got, ok, v)
		}
	}

	if calls := fetcher.calls(); len(calls) != 1 || calls[0] != "/cache/Widget.3mf" {
		t.Errorf("fetch calls = %v", calls)
	}
	data, err := os.ReadFile(cfg.Overlay.ThumbnailPath)
	if err != nil || string(data) != "png" {
		t.Errorf("thumbnail = %q, %v", data, err)
	}
	if sink.setCount("PreviewImage") != 1 {
		t.Errorf("preview image set %d times", sink.setCount("PreviewImage"))
	}
	if eng.CurrentJob() != "Widget" {
		t.Errorf("current job = %q", eng.CurrentJob())
	}
}

func TestHandlePrint_FetchOncePerJob(t *testing.T) {
	sink := newMockSink()
	fetcher := &mockFetcher{weight: 1}
	eng, _ := testEngine(t, sink, fetcher)

	var changes []string
	eng.Events.SubscribeTypes(func(evt Event) {
		changes = append(changes, evt.Payload.(JobChangedEvent).Job)
	}, EventJobChanged)

	for _, name := range []string{"", "A", "A", "B", "", "B"} {
		eng.HandlePrint(&telemetry.Snapshot{SubtaskName: name})
	}

	if len(changes) != 3 || changes[0] != "A" || changes[1] != "B" || changes[2] != "B" {
		t.Errorf("job changes = %v, want [A B B]", changes)
	}
	if n := len(fetcher.calls()); n != 3 {
		t.Errorf("fetches = %d, want 3", n)
	}
}

func TestHandlePrint_FetchFailuresAreIsolated(t *testing.T) {
	sink := newMockSink()
	fetcher := &mockFetcher{thumbErr: errors.New("550 not found"), weight: 12.5}
	eng, _ := testEngine(t, sink, fetcher)

	var res AssetsFetchedEvent
	eng.Events.SubscribeTypes(func(evt Event) {
		res = evt.Payload.(AssetsFetchedEvent)
	}, EventAssetsFetched)

	eng.HandlePrint(&telemetry.Snapshot{SubtaskName: "Bracket"})

	if res.ThumbnailErr == "" || res.WeightGrams == nil || *res.WeightGrams != 12.5 {
		t.Errorf("result = %+v", res)
	}
	if sink.setCount("PreviewImage") != 0 {
		t.Error("preview image set despite thumbnail failure")
	}
	if v, _ := sink.lastText("PrintWeight"); v != "12.5g" {
		t.Errorf("weight = %q", v)
	}

	// Both failing still lets the next snapshot through.
	fetcher.weightErr = errors.New("timeout")
	eng.HandlePrint(&telemetry.Snapshot{SubtaskName: "Other", McPercent: 3})
	if v, _ := sink.lastText("PercentComplete"); v != "3%" {
		t.Errorf("percent = %q", v)
	}
}

func TestHandlePrint_StreamStop(t *testing.T) {
	sink := newMockSink()
	eng, _ := testEngine(t, sink, nil)

	eng.HandlePrint(&telemetry.Snapshot{SubtaskName: "A", McPercent: 100})
	if sink.stops != 0 {
		t.Errorf("stopped an inactive stream")
	}

	sink.streaming = true
	eng.HandlePrint(&telemetry.Snapshot{SubtaskName: "A", McPercent: 99})
	if sink.stops != 0 {
		t.Errorf("stopped at 99%%")
	}

	var stopped int
	eng.Events.SubscribeTypes(func(Event) { stopped++ }, EventStreamStopped)
	eng.HandlePrint(&telemetry.Snapshot{SubtaskName: "A", McPercent: 100})
	eng.HandlePrint(&telemetry.Snapshot{SubtaskName: "A", McPercent: 100})
	if sink.stops != 2 || stopped != 2 {
		t.Errorf("stops = %d events = %d, want 2/2", sink.stops, stopped)
	}
}

func TestHandlePrint_SinkDisconnected(t *testing.T) {
	sink := newMockSink()
	sink.connected = false
	sink.streaming = true
	fetcher := &mockFetcher{weight: 5}
	eng, _ := testEngine(t, sink, fetcher)

	eng.HandlePrint(&telemetry.Snapshot{SubtaskName: "A", McPercent: 100, BedTemper: 55})
	if len(sink.sets) != 0 || sink.stops != 0 {
		t.Fatalf("sink touched while disconnected: sets=%d stops=%d", len(sink.sets), sink.stops)
	}
	// Job detection still ran, so the weight is waiting in the state.
	if v, ok := eng.OverlayState().Get(overlay.PrintWeight); !ok || v != "5g" {
		t.Errorf("weight in state = %q, %v", v, ok)
	}

	sink.connected = true
	eng.HandleSinkConnected(context.Background())
	if v, _ := sink.lastText("BedTemp"); v != "55" {
		t.Errorf("replayed BedTemp = %q", v)
	}
	if v, _ := sink.lastText("PrintWeight"); v != "5g" {
		t.Errorf("replayed PrintWeight = %q", v)
	}
}

func TestHandleSinkConnected_CreatesInputs(t *testing.T) {
	sink := newMockSink()
	eng, cfg := testEngine(t, sink, nil)
	cfg.OBS.CreateInputs = true
	sink.inputs = []string{"BedTemp"}

	eng.HandleSinkConnected(context.Background())
	if len(sink.created) == 0 {
		t.Fatal("no inputs created")
	}
	for _, c := range sink.created {
		if c == "BedTemp" {
			t.Error("recreated existing input")
		}
	}
}

func TestHandleRaw_MalformedLeavesStateUnchanged(t *testing.T) {
	sink := newMockSink()
	eng, _ := testEngine(t, sink, nil)
	ing := telemetry.NewIngestor(eng, false)

	ing.HandleRaw([]byte(`{"print":{"bed_temper":60,"mc_percent":10}}`))
	before := eng.OverlayState().Updates()
	setsBefore := sink.setCount("BedTemp")

	ing.HandleRaw([]byte(`{"print":{"bed_temper":99,"mc_perc`))
	ing.HandleRaw([]byte(`{"mc_print":{"param":"x"}}`))

	after := eng.OverlayState().Updates()
	if len(before) != len(after) {
		t.Fatalf("state size changed %d -> %d", len(before), len(after))
	}
	for i := range before {
		if before[i] != after[i] {
			t.Errorf("state[%d] changed: %+v -> %+v", i, before[i], after[i])
		}
	}
	if sink.setCount("BedTemp") != setsBefore {
		t.Error("malformed report reached the sink")
	}
}

func TestAsyncFetch_OneOutstandingPerJob(t *testing.T) {
	sink := newMockSink()
	fetcher := &mockFetcher{weight: 2, block: make(chan struct{})}
	eng, cfg := testEngine(t, sink, fetcher)
	cfg.FTP.Async = true
	eng = New(Config{AppConfig: cfg, Sink: sink, Fetcher: fetcher, LogFunc: t.Logf})

	eng.HandlePrint(&telemetry.Snapshot{SubtaskName: "A"})
	// Snapshot handling is not held up by the blocked fetch.
	eng.HandlePrint(&telemetry.Snapshot{SubtaskName: "A", McPercent: 50})
	if v, _ := sink.lastText("PercentComplete"); v != "50%" {
		t.Errorf("percent = %q while fetch pending", v)
	}
	if err := eng.RefetchAssets(context.Background()); err != nil {
		t.Fatalf("RefetchAssets: %v", err)
	}

	close(fetcher.block)
	done := make(chan struct{})
	go func() { eng.Stop(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}

	if n := len(fetcher.calls()); n != 1 {
		t.Errorf("fetches = %d, want 1", n)
	}
	if v, _ := sink.lastText("PrintWeight"); v != "2g" {
		t.Errorf("weight = %q", v)
	}
}

func TestStop_RejectsFurtherSnapshots(t *testing.T) {
	sink := newMockSink()
	eng, _ := testEngine(t, sink, nil)
	eng.Stop()
	eng.HandlePrint(&telemetry.Snapshot{BedTemper: 1})
	if len(sink.sets) != 0 {
		t.Error("snapshot handled after Stop")
	}
}

func TestManualOperations(t *testing.T) {
	sink := newMockSink()
	eng, _ := testEngine(t, sink, nil)

	if err := eng.RefetchAssets(context.Background()); !errors.Is(err, ErrNoFetcher) {
		t.Errorf("RefetchAssets without fetcher = %v", err)
	}

	eng2, _ := testEngine(t, newMockSink(), &mockFetcher{})
	if err := eng2.RefetchAssets(context.Background()); !errors.Is(err, ErrNoJob) {
		t.Errorf("RefetchAssets without job = %v", err)
	}

	var evt StreamStoppedEvent
	eng.Events.SubscribeTypes(func(e Event) { evt = e.Payload.(StreamStoppedEvent) }, EventStreamStopped)
	if err := eng.StopStream(context.Background()); err != nil {
		t.Fatalf("StopStream: %v", err)
	}
	if sink.stops != 1 || !evt.Manual {
		t.Errorf("stops = %d event = %+v", sink.stops, evt)
	}
}

type mockLedger struct {
	started   []string
	weights   map[string]float64
	completed []string
}

func (l *mockLedger) RecordJobStart(name string) error {
	l.started = append(l.started, name)
	return nil
}

func (l *mockLedger) SetJobAssets(name string, w *float64, _ string) error {
	if w != nil {
		l.weights[name] = *w
	}
	return nil
}

func (l *mockLedger) MarkJobComplete(name string) error {
	l.completed = append(l.completed, name)
	return nil
}

func TestAttachLedger(t *testing.T) {
	sink := newMockSink()
	eng, _ := testEngine(t, sink, &mockFetcher{weight: 7.25})
	ledger := &mockLedger{weights: make(map[string]float64)}
	eng.AttachLedger(ledger)

	eng.HandlePrint(&telemetry.Snapshot{SubtaskName: "Gear", McPercent: 50})
	eng.HandlePrint(&telemetry.Snapshot{SubtaskName: "Gear", McPercent: 100})
	eng.HandlePrint(&telemetry.Snapshot{SubtaskName: "Gear", McPercent: 100})

	if len(ledger.started) != 1 || ledger.started[0] != "Gear" {
		t.Errorf("started = %v", ledger.started)
	}
	if ledger.weights["Gear"] != 7.25 {
		t.Errorf("weights = %v", ledger.weights)
	}
	if len(ledger.completed) != 1 {
		t.Errorf("completed = %v, want exactly one", ledger.completed)
	}
}

func TestAttachLedger_RerunCompletesAgain(t *testing.T) {
	sink := newMockSink()
	eng, _ := testEngine(t, sink, &mockFetcher{weight: 3})
	ledger := &mockLedger{weights: make(map[string]float64)}
	eng.AttachLedger(ledger)

	eng.HandlePrint(&telemetry.Snapshot{SubtaskName: "Gear", McPercent: 100})
	eng.HandlePrint(&telemetry.Snapshot{})
	eng.HandlePrint(&telemetry.Snapshot{SubtaskName: "Gear", McPercent: 10})
	eng.HandlePrint(&telemetry.Snapshot{SubtaskName: "Gear", McPercent: 100})
	eng.HandlePrint(&telemetry.Snapshot{SubtaskName: "Gear", McPercent: 100})

	if len(ledger.started) != 2 {
		t.Errorf("started = %v, want two runs", ledger.started)
	}
	if len(ledger.completed) != 2 {
		t.Errorf("completed = %v, want one per run", ledger.completed)
	}
}

// cachingFetcher keeps the last downloaded file like printerfs.Fetcher does.
type cachingFetcher struct {
	mu        sync.Mutex
	remote    string
	cached    string
	hasCache  bool
	downloads int
}

func (f *cachingFetcher) load() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.hasCache {
		f.cached, f.hasCache = f.remote, true
		f.downloads++
	}
	return f.cached
}

func (f *cachingFetcher) Thumbnail(context.Context, string) ([]byte, error) {
	return []byte(f.load()), nil
}

func (f *cachingFetcher) JobWeight(context.Context, string) (float64, error) {
	f.load()
	return 1, nil
}

func (f *cachingFetcher) Forget() {
	f.mu.Lock()
	f.hasCache = false
	f.mu.Unlock()
}

func (f *cachingFetcher) setRemote(v string) {
	f.mu.Lock()
	f.remote = v
	f.mu.Unlock()
}

func TestAssets_ChangedRemoteFileIsRefetched(t *testing.T) {
	sink := newMockSink()
	fetcher := &cachingFetcher{remote: "old"}
	eng, cfg := testEngine(t, sink, fetcher)

	eng.HandlePrint(&telemetry.Snapshot{SubtaskName: "Gear"})
	data, _ := os.ReadFile(cfg.Overlay.ThumbnailPath)
	if string(data) != "old" {
		t.Fatalf("thumbnail = %q, want old", data)
	}

	fetcher.setRemote("new")
	if err := eng.RefetchAssets(context.Background()); err != nil {
		t.Fatalf("RefetchAssets: %v", err)
	}
	data, _ = os.ReadFile(cfg.Overlay.ThumbnailPath)
	if string(data) != "new" {
		t.Errorf("thumbnail after refetch = %q, want new", data)
	}

	fetcher.setRemote("newer")
	eng.HandlePrint(&telemetry.Snapshot{})
	eng.HandlePrint(&telemetry.Snapshot{SubtaskName: "Gear"})
	data, _ = os.ReadFile(cfg.Overlay.ThumbnailPath)
	if string(data) != "newer" {
		t.Errorf("thumbnail after rerun = %q, want newer", data)
	}

	// Thumbnail and weight of one fetch still share a download.
	if fetcher.downloads != 3 {
		t.Errorf("downloads = %d, want 3", fetcher.downloads)
	}
}

func TestHandleRaw_IncrementalReportsKeepJob(t *testing.T) {
	sink := newMockSink()
	fetcher := &mockFetcher{weight: 4}
	eng, _ := testEngine(t, sink, fetcher)
	ing := telemetry.NewIngestor(eng, false)

	var changes []string
	eng.Events.SubscribeTypes(func(evt Event) {
		changes = append(changes, evt.Payload.(JobChangedEvent).Job)
	}, EventJobChanged)

	ing.HandleRaw([]byte(`{"print":{"bed_temper":60,"nozzle_temper":210,"layer_num":3,"total_layer_num":40,"subtask_name":"Gear","mc_percent":42}}`))
	ing.HandleRaw([]byte(`{"print":{"mc_percent":43}}`))

	want := map[string]string{
		"BedTemp":         "60",
		"NozzleTemp":      "210",
		"SubtaskName":     "Gear",
		"Layers":          "Layers: 3/40",
		"PercentComplete": "43%",
	}
	for input, v := range want {
		if got, _ := sink.lastText(input); got != v {
			t.Errorf("%s = %q after delta, want %q", input, got, v)
		}
	}

	ing.HandleRaw([]byte(`{"print":{"subtask_name":"Gear","mc_percent":44}}`))
	if len(changes) != 1 || len(fetcher.calls()) != 1 {
		t.Errorf("changes = %v fetches = %d, want one of each", changes, len(fetcher.calls()))
	}

	// An explicit empty name is the printer going idle.
	ing.HandleRaw([]byte(`{"print":{"subtask_name":""}}`))
	ing.HandleRaw([]byte(`{"print":{"subtask_name":"Gear"}}`))
	if len(changes) != 2 {
		t.Errorf("changes = %v, want a second run after idle", changes)
	}
}
