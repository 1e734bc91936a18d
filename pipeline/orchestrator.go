// Package pipeline drives the frame cycle: read, buffer, classify light,
// detect, track, evaluate violations, export clips, record events, annotate
// and emit. A single worker owns every per-run structure.
package pipeline

import (
	"context"
	"image"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/metric"

	"github.com/LdDl/redlight-go/clip"
	"github.com/LdDl/redlight-go/mot"
	"github.com/LdDl/redlight-go/ringbuffer"
	"github.com/LdDl/redlight-go/violation"
)

var (
	// ErrSourceUnavailable is returned when the video source can't be opened. The pipeline stays Idle.
	ErrSourceUnavailable = errors.New("video source unavailable")
	// ErrAlreadyRunning is returned by Start and Run while a run is active
	ErrAlreadyRunning = errors.New("pipeline already running")
)

// State of the orchestrator
type State int32

const (
	Idle State = iota
	Running
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	default:
		return "idle"
	}
}

// MarshalText implements encoding.TextMarshaler
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is a point-in-time view of the orchestrator
type Status struct {
	State      State     `json:"state"`
	RunID      string    `json:"run_id,omitempty"`
	Source     string    `json:"source,omitempty"`
	Light      string    `json:"light,omitempty"`
	Frames     int64     `json:"frames"`
	Violations int64     `json:"violations"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
}

// Defaults applied to zero-valued Options fields
const (
	DefaultLightInterval = 10
	DefaultFallbackFPS   = 30.0
	DefaultConfidence    = 0.3
	DefaultPreSeconds    = 0.5
	DefaultPostSeconds   = 0.5
	DefaultErrorBuffer   = 16
)

// Options wires collaborators into Orchestrator. Annotator, Sink and Frames are optional.
type Options[F any] struct {
	Settings   *Settings
	Opener     SourceOpener[F]
	Detector   Detector[F]
	NewTracker TrackerFactory[F]
	Classifier LightClassifier[F]
	Annotator  Annotator[F]
	Sink       Sink[F]
	Frames     FrameOps[F]
	Exporter   ClipExporter[F]
	Registry   Recorder

	PreSeconds  float64
	PostSeconds float64
	// Used when the source doesn't report its frame rate
	FallbackFPS float64
	// Light is classified on every LightInterval-th frame
	LightInterval int
	Confidence    float64
	// Capacity of the recoverable error channel
	ErrorBuffer int

	MeterProvider metric.MeterProvider
	Logger        *slog.Logger
	// Wall clock for event timestamps and clip names
	Now func() time.Time
}

// Orchestrator runs the pipeline. Start, Stop, Status and Errors are safe for concurrent use.
type Orchestrator[F any] struct {
	settings      *Settings
	opener        SourceOpener[F]
	detector      Detector[F]
	newTracker    TrackerFactory[F]
	classifier    LightClassifier[F]
	annotator     Annotator[F]
	sink          Sink[F]
	frames        FrameOps[F]
	exporter      ClipExporter[F]
	registry      Recorder
	preSeconds    float64
	postSeconds   float64
	fallbackFPS   float64
	lightInterval int
	confidence    float64
	now           func() time.Time
	logger        *slog.Logger
	metrics       *metrics

	state atomic.Int32
	errs  chan error

	mu      sync.Mutex
	current *run[F]
	status  Status
}

// run holds everything owned by the worker for one Idle→Running→Idle cycle
type run[F any] struct {
	id        string
	ctx       context.Context
	cancel    context.CancelFunc
	stop      atomic.Bool
	done      chan struct{}
	source    Source[F]
	tracker   Tracker[F]
	buffer    *ringbuffer.Buffer[F]
	fps       float64
	frameSize image.Point
	logger    *slog.Logger

	frameCount int64
	light      violation.Light
	violated   violation.Set
}

// New validates options and creates idle orchestrator
func New[F any](opts Options[F]) (*Orchestrator[F], error) {
	switch {
	case opts.Settings == nil:
		return nil, errors.New("pipeline: nil settings")
	case opts.Opener == nil:
		return nil, errors.New("pipeline: nil source opener")
	case opts.Detector == nil:
		return nil, errors.New("pipeline: nil detector")
	case opts.NewTracker == nil:
		return nil, errors.New("pipeline: nil tracker factory")
	case opts.Classifier == nil:
		return nil, errors.New("pipeline: nil light classifier")
	case opts.Exporter == nil:
		return nil, errors.New("pipeline: nil clip exporter")
	case opts.Registry == nil:
		return nil, errors.New("pipeline: nil registry")
	}
	if opts.Frames == nil {
		opts.Frames = valueFrames[F]{}
	}
	if opts.PreSeconds <= 0 {
		opts.PreSeconds = DefaultPreSeconds
	}
	if opts.PostSeconds <= 0 {
		opts.PostSeconds = DefaultPostSeconds
	}
	if opts.FallbackFPS <= 0 {
		opts.FallbackFPS = DefaultFallbackFPS
	}
	if opts.LightInterval <= 0 {
		opts.LightInterval = DefaultLightInterval
	}
	if opts.Confidence <= 0 {
		opts.Confidence = DefaultConfidence
	}
	if opts.ErrorBuffer <= 0 {
		opts.ErrorBuffer = DefaultErrorBuffer
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	m, err := newMetrics(opts.MeterProvider)
	if err != nil {
		return nil, errors.Wrap(err, "pipeline: can't register metrics")
	}
	return &Orchestrator[F]{
		settings:      opts.Settings,
		opener:        opts.Opener,
		detector:      opts.Detector,
		newTracker:    opts.NewTracker,
		classifier:    opts.Classifier,
		annotator:     opts.Annotator,
		sink:          opts.Sink,
		frames:        opts.Frames,
		exporter:      opts.Exporter,
		registry:      opts.Registry,
		preSeconds:    opts.PreSeconds,
		postSeconds:   opts.PostSeconds,
		fallbackFPS:   opts.FallbackFPS,
		lightInterval: opts.LightInterval,
		confidence:    opts.Confidence,
		now:           opts.Now,
		logger:        opts.Logger.With("component", "pipeline"),
		metrics:       m,
		errs:          make(chan error, opts.ErrorBuffer),
	}, nil
}

// Settings returns the runtime settings handle
func (o *Orchestrator[F]) Settings() *Settings {
	return o.settings
}

// Errors delivers recoverable failures and run-ending errors.
// Nobody has to read it: when full, new errors are logged and dropped.
func (o *Orchestrator[F]) Errors() <-chan error {
	return o.errs
}

// State returns current state
func (o *Orchestrator[F]) State() State {
	return State(o.state.Load())
}

// Status returns snapshot of the current or last run
func (o *Orchestrator[F]) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := o.status
	st.State = o.State()
	return st
}

// Start opens the source and processes it on a background worker.
// ctx bounds the whole run: cancelling it stops the pipeline like Stop does.
func (o *Orchestrator[F]) Start(ctx context.Context) error {
	r, err := o.begin(ctx)
	if err != nil || r == nil {
		return err
	}
	go o.execute(r)
	return nil
}

// Run opens the source and processes it until end of stream, Stop or ctx cancellation.
// A nil error means the run ended normally.
func (o *Orchestrator[F]) Run(ctx context.Context) error {
	r, err := o.begin(ctx)
	if err != nil || r == nil {
		return err
	}
	return o.execute(r)
}

// Stop asks the worker to finish the current frame and return to Idle.
// It doesn't wait; see Wait. Reports whether a run was active.
func (o *Orchestrator[F]) Stop() bool {
	o.mu.Lock()
	r := o.current
	o.mu.Unlock()
	if r == nil {
		return false
	}
	r.stop.Store(true)
	r.cancel()
	o.logger.Info("stop requested", "run_id", r.id)
	return true
}

// Wait blocks until the active run (if any) has ended or ctx is done
func (o *Orchestrator[F]) Wait(ctx context.Context) error {
	o.mu.Lock()
	r := o.current
	o.mu.Unlock()
	if r == nil {
		return nil
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// begin publishes the run before opening the source, so Stop, Wait and Status
// see it while a slow source is still connecting. A nil run with nil error
// means Stop won before the first frame.
func (o *Orchestrator[F]) begin(ctx context.Context) (*run[F], error) {
	r, spec, err := o.publish(ctx)
	if err != nil {
		return nil, err
	}
	logger := r.logger

	source, err := o.opener.Open(r.ctx, spec)
	if r.stopped() {
		if err == nil {
			source.Close()
		}
		logger.Info("pipeline stopped while opening source", "source", spec.String())
		o.abort(r, nil)
		return nil, nil
	}
	if err != nil {
		err = errors.Wrapf(ErrSourceUnavailable, "%s: %v", spec, err)
		logger.Error("can't open video source", "source", spec.String(), "error", err.Error())
		o.abort(r, err)
		return nil, err
	}
	tracker, err := o.newTracker()
	if err != nil {
		source.Close()
		err = errors.Wrap(err, "can't create tracker")
		o.abort(r, err)
		return nil, err
	}

	fps := source.FPS()
	if fps <= 0 {
		logger.Warn("source has no frame rate, using fallback", "fps", o.fallbackFPS)
		fps = o.fallbackFPS
	}
	capacity := ringbuffer.Capacity(o.preSeconds, o.postSeconds, fps)
	r.source = source
	r.tracker = tracker
	r.fps = fps
	r.frameSize = source.FrameSize()
	r.buffer = ringbuffer.New(capacity,
		ringbuffer.WithClone(o.frames.Clone),
		ringbuffer.WithRelease(o.frames.Release),
	)
	logger.Info("pipeline started", "source", spec.String(), "fps", fps, "frame_size", r.frameSize.String(), "buffer", capacity)
	return r, nil
}

// publish moves to Running and makes the new run visible to Stop and Wait in one step
func (o *Orchestrator[F]) publish(ctx context.Context) (*run[F], SourceSpec, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.state.CompareAndSwap(int32(Idle), int32(Running)) {
		return nil, SourceSpec{}, ErrAlreadyRunning
	}
	spec := o.settings.Source()
	runID := uuid.New().String()
	runCtx, cancel := context.WithCancel(ctx)
	r := &run[F]{
		id:       runID,
		ctx:      runCtx,
		cancel:   cancel,
		done:     make(chan struct{}),
		logger:   o.logger.With("run_id", runID),
		light:    violation.UnknownLight,
		violated: violation.NewSet(),
	}
	o.current = r
	o.status = Status{
		RunID:     runID,
		Source:    spec.String(),
		Light:     r.light.Label,
		StartedAt: o.now(),
	}
	return r, spec, nil
}

// abort ends a run that never reached the frame loop
func (o *Orchestrator[F]) abort(r *run[F], err error) {
	r.cancel()
	o.mu.Lock()
	if err != nil {
		o.status.LastError = err.Error()
	}
	o.current = nil
	o.mu.Unlock()
	if err != nil {
		o.report(err)
	}
	o.state.Store(int32(Idle))
	close(r.done)
}

func (r *run[F]) stopped() bool {
	return r.stop.Load() || r.ctx.Err() != nil
}

func (o *Orchestrator[F]) execute(r *run[F]) (err error) {
	defer func() {
		r.buffer.Reset()
		if closeErr := r.source.Close(); closeErr != nil {
			r.logger.Warn("can't close video source", "error", closeErr.Error())
		}
		r.cancel()
		if err != nil {
			o.mu.Lock()
			o.status.LastError = err.Error()
			o.mu.Unlock()
			o.report(err)
			r.logger.Error("pipeline run failed", "error", err.Error(), "frames", r.frameCount)
		} else {
			r.logger.Info("pipeline stopped", "frames", r.frameCount, "violations", r.violated.Len())
		}
		o.mu.Lock()
		o.current = nil
		o.mu.Unlock()
		o.state.Store(int32(Idle))
		close(r.done)
	}()
	for {
		if r.stopped() {
			return nil
		}
		frame, err := r.source.Read(r.ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || r.ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "can't read frame")
		}
		err = o.process(r, frame)
		o.frames.Release(frame)
		if err != nil {
			if r.ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// process runs one frame through the cycle. frame stays owned by the caller.
func (o *Orchestrator[F]) process(r *run[F], frame F) error {
	r.frameCount++
	r.buffer.Push(o.frames.Clone(frame))

	if r.frameCount%int64(o.lightInterval) == 0 {
		label, err := o.classifier.Classify(frame)
		if err != nil {
			return errors.Wrapf(err, "light classifier failed on frame %d", r.frameCount)
		}
		if label != r.light.Label {
			r.logger.Debug("light changed", "from", r.light.Label, "to", label, "frame", r.frameCount)
		}
		r.light = violation.Light{Label: label}
	}

	detections, err := o.detector.Detect(frame, o.confidence)
	if err != nil {
		return errors.Wrapf(err, "detector failed on frame %d", r.frameCount)
	}
	tracks, err := r.tracker.Update(detections, frame)
	if err != nil {
		return errors.Wrapf(err, "tracker failed on frame %d", r.frameCount)
	}

	poly := o.settings.Zone().Polygon()
	var violators []mot.Track
	r.violated, violators = violation.Evaluate(tracks, r.light, poly, r.violated)
	if len(violators) > 0 {
		o.handleViolators(r, violators)
	}

	if o.annotator != nil {
		overlay := Overlay{Tracks: tracks, Light: r.light, Zone: poly, Violated: r.violated}
		if err := o.annotator.Annotate(frame, overlay); err != nil {
			r.logger.Warn("can't annotate frame", "frame", r.frameCount, "error", err.Error())
		}
	}
	if o.sink != nil {
		if err := o.sink.Emit(r.ctx, frame); err != nil {
			return errors.Wrapf(err, "can't emit frame %d", r.frameCount)
		}
	}

	o.metrics.frames.Add(r.ctx, 1)
	o.mu.Lock()
	o.status.Frames = r.frameCount
	o.status.Light = r.light.Label
	o.status.Violations = int64(r.violated.Len())
	o.mu.Unlock()
	return nil
}

// handleViolators exports one clip per new violator from a single buffer snapshot
// and records their events. Nothing is exported or recorded until the buffer is full.
func (o *Orchestrator[F]) handleViolators(r *run[F], violators []mot.Track) {
	o.metrics.violations.Add(r.ctx, int64(len(violators)))
	for _, track := range violators {
		r.logger.Info("violation detected", "track_id", track.ID, "class", violation.VehicleClassName(track.ClassID), "light", r.light.Label, "frame", r.frameCount)
	}
	if !r.buffer.IsFull() {
		o.metrics.skipped.Add(r.ctx, int64(len(violators)))
		r.logger.Info("clip skipped, frame buffer not full yet", "buffered", r.buffer.Len(), "capacity", r.buffer.Cap(), "violators", len(violators))
		return
	}

	snapshot := r.buffer.Snapshot()
	defer func() {
		for _, frame := range snapshot {
			o.frames.Release(frame)
		}
	}()
	for _, track := range violators {
		now := o.now()
		event := violation.Event{
			Timestamp:    now,
			TrackID:      track.ID,
			VehicleClass: violation.VehicleClassName(track.ClassID),
			ClipFilename: clip.Filename(track.ID, now),
		}
		if _, err := o.exporter.Export(snapshot, event.ClipFilename, r.fps, r.frameSize); err != nil {
			o.metrics.failed.Add(r.ctx, 1)
			r.logger.Warn("can't export violation clip", "track_id", track.ID, "error", err.Error())
			o.report(err)
		} else {
			o.metrics.exported.Add(r.ctx, 1)
		}
		if err := o.registry.Record(event); err != nil {
			r.logger.Warn("can't record violation", "track_id", track.ID, "error", err.Error())
			o.report(err)
		}
	}
}

func (o *Orchestrator[F]) report(err error) {
	select {
	case o.errs <- err:
	default:
		o.logger.Warn("error channel full, dropping error", "error", err.Error())
	}
}
