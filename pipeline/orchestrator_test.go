package pipeline

import (
	"context"
	"image"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/LdDl/redlight-go/clip"
	"github.com/LdDl/redlight-go/mot"
	"github.com/LdDl/redlight-go/registry"
	"github.com/LdDl/redlight-go/violation"
	"github.com/LdDl/redlight-go/zone"
)

// Frames are their 1-based sequence numbers

type sliceSource struct {
	frames []int
	pos    int
	fps    float64
	mu     sync.Mutex
	closed bool
}

func (s *sliceSource) Read(ctx context.Context) (int, error) {
	if s.pos >= len(s.frames) {
		return 0, io.EOF
	}
	s.pos++
	return s.frames[s.pos-1], nil
}

func (s *sliceSource) FPS() float64           { return s.fps }
func (s *sliceSource) FrameSize() image.Point { return image.Pt(1280, 720) }
func (s *sliceSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *sliceSource) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// blockingSource yields frames until ctx is cancelled
type blockingSource struct {
	sliceSource
	next int
}

func (s *blockingSource) Read(ctx context.Context) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-time.After(time.Millisecond):
		s.next++
		return s.next, nil
	}
}

type opener struct {
	source Source[int]
	err    error
	specs  []SourceSpec
}

func (o *opener) Open(_ context.Context, spec SourceSpec) (Source[int], error) {
	o.specs = append(o.specs, spec)
	if o.err != nil {
		return nil, o.err
	}
	return o.source, nil
}

// gatedOpener blocks inside Open like a slow network source
type gatedOpener struct {
	source   Source[int]
	entered  chan struct{}
	release  chan struct{}
	honorCtx bool
}

func newGatedOpener(source Source[int], honorCtx bool) *gatedOpener {
	return &gatedOpener{source: source, entered: make(chan struct{}), release: make(chan struct{}), honorCtx: honorCtx}
}

func (o *gatedOpener) Open(ctx context.Context, _ SourceSpec) (Source[int], error) {
	close(o.entered)
	if o.honorCtx {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	<-o.release
	return o.source, nil
}

type nopDetector struct {
	failAt int
}

func (d nopDetector) Detect(frame int, _ float64) ([]mot.Detection, error) {
	if d.failAt > 0 && frame == d.failAt {
		return nil, errors.New("inference failed")
	}
	return nil, nil
}

// scriptedTracker returns prepared tracks per frame
type scriptedTracker map[int][]mot.Track

func (s scriptedTracker) Update(_ []mot.Detection, frame int) ([]mot.Track, error) {
	return s[frame], nil
}

type constLight string

func (c constLight) Classify(int) (string, error) { return string(c), nil }

type countingLight struct {
	label string
	calls []int
}

func (c *countingLight) Classify(frame int) (string, error) {
	c.calls = append(c.calls, frame)
	return c.label, nil
}

type exportCall struct {
	frames   []int
	filename string
	fps      float64
	size     image.Point
}

type fakeExporter struct {
	calls []exportCall
	err   error
}

func (e *fakeExporter) Export(frames []int, filename string, fps float64, frameSize image.Point) (clip.Result, error) {
	e.calls = append(e.calls, exportCall{frames: append([]int(nil), frames...), filename: filename, fps: fps, size: frameSize})
	if e.err != nil {
		return clip.Result{Path: filename}, e.err
	}
	return clip.Result{Path: filename, Frames: len(frames)}, nil
}

type overlayRecorder struct {
	overlays map[int]Overlay
}

func (a *overlayRecorder) Annotate(frame int, overlay Overlay) error {
	a.overlays[frame] = overlay
	return nil
}

type blockingSink struct{}

func (blockingSink) Emit(ctx context.Context, _ int) error {
	<-ctx.Done()
	return ctx.Err()
}

var (
	testPolygon = []image.Point{image.Pt(0, 100), image.Pt(400, 100), image.Pt(400, 300), image.Pt(0, 300)}
	fixedNow    = time.Date(2025, 7, 19, 14, 3, 7, 0, time.Local)
)

// inZone is a confirmed fresh track whose anchor lies inside testPolygon
func inZone(id int) mot.Track {
	return mot.Track{ID: id, ClassID: 1, Box: image.Rect(100, 150, 160, 200), Confirmed: true, Hits: 5}
}

func frames(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i + 1
	}
	return out
}

type fixture struct {
	opts      Options[int]
	source    *sliceSource
	exporter  *fakeExporter
	registry  *registry.Registry
	annotator *overlayRecorder
}

func newFixture(t *testing.T, script scriptedTracker, light LightClassifier[int], n int) *fixture {
	t.Helper()
	z, err := zone.New(testPolygon)
	require.NoError(t, err)
	settings, err := NewSettings(z, FileSource("demo.mp4"))
	require.NoError(t, err)
	reg, err := registry.Open(registry.Options{Path: filepath.Join(t.TempDir(), "violations.csv")})
	require.NoError(t, err)

	f := &fixture{
		source:    &sliceSource{frames: frames(n), fps: 10},
		exporter:  &fakeExporter{},
		registry:  reg,
		annotator: &overlayRecorder{overlays: map[int]Overlay{}},
	}
	f.opts = Options[int]{
		Settings:   settings,
		Opener:     &opener{source: f.source},
		Detector:   nopDetector{},
		NewTracker: func() (Tracker[int], error) { return script, nil },
		Classifier: light,
		Annotator:  f.annotator,
		Exporter:   f.exporter,
		Registry:   reg,

		PreSeconds:    0.5,
		PostSeconds:   0.5,
		LightInterval: 1,
		Now:           func() time.Time { return fixedNow },
	}
	return f
}

func TestRunExportsOnlyWhenBufferFull(t *testing.T) {
	script := scriptedTracker{
		9:  {inZone(7)},
		10: {inZone(7), inZone(8)},
	}
	f := newFixture(t, script, constLight(violation.LabelRed), 10)
	orch, err := New(f.opts)
	require.NoError(t, err)

	require.NoError(t, orch.Run(context.Background()))

	// Track 7 was violated on frame 9 with 9 buffered frames: no clip
	require.Len(t, f.exporter.calls, 1)
	call := f.exporter.calls[0]
	assert.Equal(t, frames(10), call.frames)
	assert.Equal(t, clip.Filename(8, fixedNow), call.filename)
	assert.Equal(t, 10.0, call.fps)
	assert.Equal(t, image.Pt(1280, 720), call.size)

	events := f.registry.Query(10)
	require.Len(t, events, 1)
	assert.Equal(t, 8, events[0].TrackID)
	assert.Equal(t, "Bus", events[0].VehicleClass)
	assert.Equal(t, call.filename, events[0].ClipFilename)

	assert.Equal(t, []int{7}, f.annotator.overlays[9].Violated.IDs())
	assert.Equal(t, []int{7, 8}, f.annotator.overlays[10].Violated.IDs())

	st := orch.Status()
	assert.Equal(t, Idle, st.State)
	assert.Equal(t, int64(10), st.Frames)
	assert.Equal(t, int64(2), st.Violations)
	assert.Empty(t, st.LastError)
	assert.True(t, f.source.isClosed())
}

func TestRunGoLightNeverViolates(t *testing.T) {
	script := scriptedTracker{}
	for i := 1; i <= 20; i++ {
		script[i] = []mot.Track{inZone(1), inZone(2)}
	}
	f := newFixture(t, script, constLight(violation.LabelGreen), 20)
	orch, err := New(f.opts)
	require.NoError(t, err)
	require.NoError(t, orch.Run(context.Background()))

	assert.Empty(t, f.exporter.calls)
	assert.Empty(t, f.registry.Query(10))
	assert.Equal(t, 0, f.annotator.overlays[20].Violated.Len())
}

func TestRunSeveralViolatorsShareSnapshot(t *testing.T) {
	script := scriptedTracker{12: {inZone(3), inZone(4)}}
	f := newFixture(t, script, constLight(violation.LabelYellow), 12)
	orch, err := New(f.opts)
	require.NoError(t, err)
	require.NoError(t, orch.Run(context.Background()))

	require.Len(t, f.exporter.calls, 2)
	assert.Equal(t, []int{3, 4, 5, 6, 7, 8, 9, 10, 11, 12}, f.exporter.calls[0].frames)
	assert.Equal(t, f.exporter.calls[0].frames, f.exporter.calls[1].frames)
	assert.Len(t, f.registry.Query(10), 2)
}

func TestLightClassifiedEveryNthFrame(t *testing.T) {
	light := &countingLight{label: violation.LabelRed}
	// Track in zone from the start: the light is Unknown until frame 10
	script := scriptedTracker{}
	for i := 1; i <= 25; i++ {
		script[i] = []mot.Track{inZone(1)}
	}
	f := newFixture(t, script, light, 25)
	f.opts.LightInterval = 10
	orch, err := New(f.opts)
	require.NoError(t, err)
	require.NoError(t, orch.Run(context.Background()))

	assert.Equal(t, []int{10, 20}, light.calls)
	assert.Equal(t, violation.LabelUnknown, f.annotator.overlays[9].Light.Label)
	assert.Equal(t, 0, f.annotator.overlays[9].Violated.Len())
	assert.Equal(t, []int{1}, f.annotator.overlays[10].Violated.IDs())
	require.Len(t, f.exporter.calls, 1)
}

func TestClipFailureStillRecordsEvent(t *testing.T) {
	script := scriptedTracker{11: {inZone(5)}}
	f := newFixture(t, script, constLight(violation.LabelRed), 12)
	f.exporter.err = errors.Wrap(clip.ErrClipWrite, "disk full")
	orch, err := New(f.opts)
	require.NoError(t, err)
	require.NoError(t, orch.Run(context.Background()))

	events := f.registry.Query(10)
	require.Len(t, events, 1)
	assert.Equal(t, clip.Filename(5, fixedNow), events[0].ClipFilename)

	select {
	case got := <-orch.Errors():
		assert.True(t, errors.Is(got, clip.ErrClipWrite))
	default:
		t.Fatal("expected clip error on channel")
	}
	// Pipeline kept going after the failure
	assert.Equal(t, int64(12), orch.Status().Frames)
}

func TestDetectorErrorEndsRun(t *testing.T) {
	f := newFixture(t, scriptedTracker{}, constLight(violation.LabelRed), 10)
	f.opts.Detector = nopDetector{failAt: 4}
	orch, err := New(f.opts)
	require.NoError(t, err)

	err = orch.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inference failed")

	st := orch.Status()
	assert.Equal(t, Idle, st.State)
	assert.Equal(t, int64(3), st.Frames)
	assert.Contains(t, st.LastError, "inference failed")
	assert.True(t, f.source.isClosed())
	require.Len(t, orch.Errors(), 1)
}

func TestSourceUnavailable(t *testing.T) {
	f := newFixture(t, scriptedTracker{}, constLight(violation.LabelRed), 1)
	f.opts.Opener = &opener{err: errors.New("no such file")}
	orch, err := New(f.opts)
	require.NoError(t, err)

	err = orch.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSourceUnavailable))
	assert.Equal(t, Idle, orch.State())
	assert.Contains(t, orch.Status().LastError, "no such file")
	require.Len(t, orch.Errors(), 1)
}

func TestStartStop(t *testing.T) {
	f := newFixture(t, scriptedTracker{}, constLight(violation.LabelGreen), 0)
	source := &blockingSource{sliceSource: sliceSource{fps: 10}}
	op := &opener{source: source}
	f.opts.Opener = op
	require.NoError(t, f.opts.Settings.SetSource(CameraSource(0)))
	orch, err := New(f.opts)
	require.NoError(t, err)

	require.NoError(t, orch.Start(context.Background()))
	assert.Equal(t, Running, orch.State())
	assert.True(t, errors.Is(orch.Start(context.Background()), ErrAlreadyRunning))
	assert.NotEmpty(t, orch.Status().RunID)

	require.Eventually(t, func() bool { return orch.Status().Frames > 3 }, time.Second, 5*time.Millisecond)
	assert.True(t, orch.Stop())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, orch.Wait(ctx))
	assert.Equal(t, Idle, orch.State())
	assert.True(t, source.isClosed())
	assert.Equal(t, []SourceSpec{CameraSource(0)}, op.specs)
	assert.False(t, orch.Stop())
}

func TestStopWhileOpeningSource(t *testing.T) {
	f := newFixture(t, scriptedTracker{}, constLight(violation.LabelGreen), 0)
	source := &blockingSource{sliceSource: sliceSource{fps: 10}}
	op := newGatedOpener(source, false)
	f.opts.Opener = op
	orch, err := New(f.opts)
	require.NoError(t, err)

	started := make(chan error, 1)
	go func() {
		started <- orch.Start(context.Background())
	}()
	<-op.entered
	assert.Equal(t, Running, orch.State())
	assert.NotEmpty(t, orch.Status().RunID)
	assert.True(t, orch.Stop())

	short, cancelShort := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancelShort()
	assert.Error(t, orch.Wait(short), "run is still opening its source")

	close(op.release)
	require.NoError(t, <-started)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, orch.Wait(ctx))
	assert.Equal(t, Idle, orch.State())
	assert.True(t, source.isClosed())
	assert.Equal(t, int64(0), orch.Status().Frames)
	assert.Empty(t, orch.Status().LastError)
	assert.Len(t, orch.Errors(), 0)
	assert.False(t, orch.Stop())
}

func TestStopCancelsOpeningSource(t *testing.T) {
	f := newFixture(t, scriptedTracker{}, constLight(violation.LabelGreen), 0)
	op := newGatedOpener(nil, true)
	f.opts.Opener = op
	orch, err := New(f.opts)
	require.NoError(t, err)

	started := make(chan error, 1)
	go func() {
		started <- orch.Start(context.Background())
	}()
	<-op.entered
	assert.True(t, orch.Stop())
	require.NoError(t, <-started)
	assert.Equal(t, Idle, orch.State())
	assert.Empty(t, orch.Status().LastError)
	assert.Len(t, orch.Errors(), 0)
}

func TestStopReleasesBlockedEmit(t *testing.T) {
	f := newFixture(t, scriptedTracker{}, constLight(violation.LabelGreen), 100)
	f.opts.Sink = blockingSink{}
	orch, err := New(f.opts)
	require.NoError(t, err)

	require.NoError(t, orch.Start(context.Background()))
	// Nothing consumes frames so the worker is stuck on the first emission
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, Running, orch.State())
	assert.Equal(t, int64(0), orch.Status().Frames)

	orch.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, orch.Wait(ctx))
	assert.Equal(t, Idle, orch.State())
	assert.Empty(t, orch.Status().LastError)
}

func TestMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	script := scriptedTracker{
		5:  {inZone(1)},
		11: {inZone(2)},
	}
	f := newFixture(t, script, constLight(violation.LabelRed), 12)
	f.opts.MeterProvider = provider
	orch, err := New(f.opts)
	require.NoError(t, err)
	require.NoError(t, orch.Run(context.Background()))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	got := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				got[m.Name] += dp.Value
			}
		}
	}
	assert.Equal(t, int64(12), got[MetricFramesProcessed])
	assert.Equal(t, int64(2), got[MetricViolationsDetected])
	assert.Equal(t, int64(1), got[MetricClipsSkipped])
	assert.Equal(t, int64(1), got[MetricClipsExported])
	assert.Equal(t, int64(0), got[MetricClipsFailed])
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Options[int]{})
	assert.Error(t, err)
}

func TestVehicleTrackerFactory(t *testing.T) {
	factory := VehicleTrackerFactory[int](mot.DefaultVehicleTrackerOptions())
	tracker, err := factory()
	require.NoError(t, err)
	tracks, err := tracker.Update([]mot.Detection{{Box: image.Rect(10, 10, 50, 50), Confidence: 0.9}}, 1)
	require.NoError(t, err)
	require.Len(t, tracks, 1)
	assert.Equal(t, 1, tracks[0].ID)

	// A later run continues numbering so its clip names can't collide with earlier ones
	next, err := factory()
	require.NoError(t, err)
	tracks, err = next.Update([]mot.Detection{{Box: image.Rect(10, 10, 50, 50), Confidence: 0.9}}, 1)
	require.NoError(t, err)
	require.Len(t, tracks, 1)
	assert.Equal(t, 2, tracks[0].ID)

	opts := mot.DefaultVehicleTrackerOptions()
	opts.Algorithm = "sort"
	_, err = VehicleTrackerFactory[int](opts)()
	assert.Error(t, err)
}

func TestSettings(t *testing.T) {
	z, err := zone.New(testPolygon)
	require.NoError(t, err)
	_, err = NewSettings(z, FileSource(" "))
	assert.Error(t, err)

	s, err := NewSettings(z, FileSource("a.mp4"))
	require.NoError(t, err)
	assert.Equal(t, "a.mp4", s.Source().String())
	assert.Error(t, s.SetSource(CameraSource(-1)))
	assert.Equal(t, "a.mp4", s.Source().String())
	require.NoError(t, s.SetSource(CameraSource(2)))
	assert.Equal(t, "camera:2", s.Source().String())
	assert.Same(t, z, s.Zone())
}
