package engine

import (
	"context"
	"errors"
	"log"
	"sync"

	"bambuoverlay/config"
	"bambuoverlay/overlay"
	"bambuoverlay/telemetry"
)

// LogFunc is the logging callback signature.
type LogFunc func(format string, args ...interface{})

// Sink is the compositor the engine projects telemetry onto.
type Sink interface {
	overlay.Sink
	StreamSink
}

// ErrNoJob is returned by job-scoped operations before any job was seen.
var ErrNoJob = errors.New("no job seen yet")

// ErrNoFetcher is returned when asset retrieval is disabled.
var ErrNoFetcher = errors.New("asset fetching disabled")

// Engine runs the telemetry pipeline: map each snapshot to overlay updates,
// push them to the sink, detect job changes, fetch job assets and stop the
// stream when a job completes.
type Engine struct {
	cfg     *config.Config
	logFn   LogFunc
	debugFn LogFunc

	sink   Sink
	mapper *overlay.Mapper
	syncer *overlay.Syncer
	state  *overlay.State
	jobs   *JobTracker
	stream *StreamController
	assets *AssetCoordinator

	// handleMu admits one snapshot at a time; sinkMu serializes sink writes
	// between the pipeline and background asset fetches.
	handleMu     sync.Mutex
	sinkMu       sync.Mutex
	completedJob string

	Events   *EventBus
	stopChan chan struct{}
	stopOnce sync.Once
}

// Config holds the parameters needed to create an Engine.
type Config struct {
	AppConfig *config.Config
	Sink      Sink
	Fetcher   AssetFetcher // nil disables asset retrieval
	LogFunc   LogFunc
	Debug     bool
}

// New creates a new Engine.
func New(c Config) *Engine {
	logFn := c.LogFunc
	if logFn == nil {
		logFn = func(string, ...interface{}) {}
	}
	debugFn := LogFunc(func(string, ...interface{}) {})
	if c.Debug {
		debugFn = logFn
	}
	cfg := c.AppConfig
	if cfg == nil {
		cfg = config.Defaults()
	}

	icons := cfg.Overlay.Icons
	e := &Engine{
		cfg:     cfg,
		logFn:   logFn,
		debugFn: debugFn,
		sink:    c.Sink,
		mapper: overlay.NewMapper(overlay.Icons{
			BedHeating:    icons.BedHeating,
			BedIdle:       icons.BedIdle,
			NozzleHeating: icons.NozzleHeating,
			NozzleIdle:    icons.NozzleIdle,
			FanOn:         icons.FanOn,
			FanOff:        icons.FanOff,
		}, overlay.ScaleFan(cfg.Overlay.FanScale)),
		syncer:   overlay.NewSyncer(c.Sink, cfg.Overlay.InputNames, c.Debug),
		state:    overlay.NewState(),
		jobs:     NewJobTracker(),
		stream:   NewStreamController(c.Sink),
		Events:   NewEventBus(),
		stopChan: make(chan struct{}),
	}

	if c.Fetcher != nil {
		e.assets = NewAssetCoordinator(AssetConfig{
			Fetcher:       c.Fetcher,
			PathTemplate:  cfg.FTP.PathTemplate,
			ThumbnailPath: cfg.Overlay.ThumbnailPath,
			Async:         cfg.FTP.Async,
			Apply:         e.apply,
			Emit: func(res AssetsFetchedEvent) {
				e.Events.Emit(Event{Type: EventAssetsFetched, Payload: res})
			},
		})
	}
	return e
}

// HandlePrint runs one snapshot through the pipeline. It implements
// telemetry.Handler and never returns an error: every failure is logged.
func (e *Engine) HandlePrint(s *telemetry.Snapshot) {
	if e.stopped() {
		return
	}
	e.handleMu.Lock()
	defer e.handleMu.Unlock()

	ctx := context.Background()

	e.apply(ctx, e.mapper.Map(s))

	if previous, changed := e.jobs.Observe(s.SubtaskName); changed {
		e.logFn("engine: job changed: %q -> %q", previous, s.SubtaskName)
		// A new run of the same file completes again.
		e.completedJob = ""
		evt := JobChangedEvent{Job: s.SubtaskName, Previous: previous}
		if e.assets != nil {
			evt.AssetPath = e.assets.AssetPath(s.SubtaskName)
		}
		e.Events.Emit(Event{Type: EventJobChanged, Payload: evt})
		if e.assets != nil {
			e.assets.Dispatch(ctx, s.SubtaskName)
		}
	}

	if s.ActiveJob() && s.McPercent == 100 && e.completedJob != s.SubtaskName {
		e.completedJob = s.SubtaskName
		e.Events.Emit(Event{Type: EventJobCompleted, Payload: JobCompletedEvent{Job: s.SubtaskName}})
	}

	if e.sink.IsConnected() {
		stopped, err := e.stream.Observe(ctx, s.McPercent)
		if err != nil {
			log.Printf("engine: %v", err)
		} else if stopped {
			e.logFn("engine: job %q complete, stream stopped", s.SubtaskName)
			e.Events.Emit(Event{Type: EventStreamStopped, Payload: StreamStoppedEvent{Job: s.SubtaskName}})
		}
	}

	e.Events.Emit(Event{Type: EventSnapshot, Payload: SnapshotEvent{
		Job:      s.SubtaskName,
		Percent:  s.McPercent,
		Fields:   e.state.Fields(),
		Snapshot: s,
	}})
}

// apply records updates and pushes them to the sink.
func (e *Engine) apply(ctx context.Context, updates []overlay.Update) {
	e.state.Record(updates)
	e.sinkMu.Lock()
	defer e.sinkMu.Unlock()
	n := e.syncer.Apply(ctx, updates)
	e.debugFn("engine: applied %d/%d overlay updates", n, len(updates))
}

// HandleSinkConnected prepares the overlay after the sink (re)connects and
// replays the last rendered value of every field.
func (e *Engine) HandleSinkConnected(ctx context.Context) {
	if creator, ok := e.sink.(overlay.InputCreator); ok && e.cfg.OBS.CreateInputs {
		n, err := overlay.EnsureInputs(ctx, creator, e.setupOptions())
		if err != nil {
			log.Printf("engine: overlay setup: %v", err)
		} else if n > 0 {
			e.logFn("engine: created %d overlay inputs", n)
		}
	}

	e.sinkMu.Lock()
	n := e.syncer.Apply(ctx, e.state.Updates())
	e.sinkMu.Unlock()
	e.logFn("engine: sink connected, replayed %d fields", n)
	e.Events.Emit(Event{Type: EventSinkConnected, Payload: ConnectionEvent{Target: "obs"}})
}

// HandleSinkDisconnected records a lost sink connection.
func (e *Engine) HandleSinkDisconnected(err error) {
	evt := ConnectionEvent{Target: "obs"}
	if err != nil {
		evt.Error = err.Error()
	}
	e.Events.Emit(Event{Type: EventSinkDisconnected, Payload: evt})
}

// HandleBrokerConnection records broker connection changes.
func (e *Engine) HandleBrokerConnection(connected bool, err error) {
	evt := ConnectionEvent{Target: "broker"}
	if err != nil {
		evt.Error = err.Error()
	}
	typ := EventBrokerDisconnected
	if connected {
		typ = EventBrokerConnected
	}
	e.Events.Emit(Event{Type: typ, Payload: evt})
}

func (e *Engine) setupOptions() overlay.SetupOptions {
	layout := make(map[overlay.FieldID]overlay.Position, len(e.cfg.Overlay.Layout))
	for _, item := range e.cfg.Overlay.Layout {
		layout[overlay.FieldID(item.Field)] = overlay.Position{X: item.X, Y: item.Y}
	}
	return overlay.SetupOptions{
		Scene:     e.cfg.OBS.SceneName,
		TextKind:  e.cfg.OBS.TextInputKind,
		ImageKind: e.cfg.OBS.ImageInputKind,
		Layout:    layout,
		InputName: e.syncer.InputName,
	}
}

// StopStream stops the live stream on request.
func (e *Engine) StopStream(ctx context.Context) error {
	if err := e.stream.Stop(ctx); err != nil {
		return err
	}
	e.Events.Emit(Event{Type: EventStreamStopped, Payload: StreamStoppedEvent{
		Job: e.jobs.Current(), Manual: true,
	}})
	return nil
}

// RefetchAssets fetches the current job's assets again.
func (e *Engine) RefetchAssets(ctx context.Context) error {
	if e.assets == nil {
		return ErrNoFetcher
	}
	job := e.jobs.Current()
	if job == "" {
		return ErrNoJob
	}
	e.assets.Dispatch(ctx, job)
	return nil
}

// CurrentJob returns the last non-empty job name seen.
func (e *Engine) CurrentJob() string { return e.jobs.Current() }

// OverlayState returns the last rendered overlay values.
func (e *Engine) OverlayState() *overlay.State { return e.state }

// SinkConnected reports whether the compositor is reachable.
func (e *Engine) SinkConnected() bool { return e.sink.IsConnected() }

// AppConfig returns the app config.
func (e *Engine) AppConfig() *config.Config { return e.cfg }

func (e *Engine) stopped() bool {
	select {
	case <-e.stopChan:
		return true
	default:
		return false
	}
}

// Stop rejects further snapshots, waits for the snapshot being handled and
// for outstanding asset fetches.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopChan) })

	e.handleMu.Lock()
	e.handleMu.Unlock()

	if e.assets != nil {
		e.assets.Wait()
	}
	e.logFn("engine: stopped")
}
