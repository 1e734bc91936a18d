package pipeline

import (
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/LdDl/redlight-go/pipeline"

// Metric names
const (
	MetricFramesProcessed    = "redlight.frames.processed"
	MetricViolationsDetected = "redlight.violations.detected"
	MetricClipsExported      = "redlight.clips.exported"
	MetricClipsFailed        = "redlight.clips.failed"
	MetricClipsSkipped       = "redlight.clips.skipped"
)

type metrics struct {
	frames     metric.Int64Counter
	violations metric.Int64Counter
	exported   metric.Int64Counter
	failed     metric.Int64Counter
	skipped    metric.Int64Counter
}

func newMetrics(provider metric.MeterProvider) (*metrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(meterName)
	m := &metrics{}
	var err error
	m.frames, err = meter.Int64Counter(MetricFramesProcessed,
		metric.WithDescription("Frames passed through the full cycle"),
		metric.WithUnit("{frame}"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "frames counter")
	}
	m.violations, err = meter.Int64Counter(MetricViolationsDetected,
		metric.WithDescription("Tracks that entered the zone on a stop light"),
		metric.WithUnit("{violation}"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "violations counter")
	}
	m.exported, err = meter.Int64Counter(MetricClipsExported,
		metric.WithDescription("Violation clips written"),
		metric.WithUnit("{clip}"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "exported clips counter")
	}
	m.failed, err = meter.Int64Counter(MetricClipsFailed,
		metric.WithDescription("Violation clips that could not be written"),
		metric.WithUnit("{clip}"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed clips counter")
	}
	m.skipped, err = meter.Int64Counter(MetricClipsSkipped,
		metric.WithDescription("Violations without a clip because the frame buffer was not full yet"),
		metric.WithUnit("{violation}"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "skipped clips counter")
	}
	return m, nil
}
