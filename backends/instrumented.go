package backends

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/brettbedarf/blobfs"
)

// Metrics holds the prometheus collectors shared by every instrumented store.
type Metrics struct {
	Requests *prometheus.CounterVec
	Duration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg when it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "blobfs",
			Subsystem: "store",
			Name:      "requests_total",
			Help:      "Object store requests by backend, operation and outcome.",
		}, []string{"backend", "op", "outcome"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "blobfs",
			Subsystem: "store",
			Name:      "request_duration_seconds",
			Help:      "Object store request latency by backend and operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"backend", "op"}),
	}
	if reg != nil {
		reg.MustRegister(m.Requests, m.Duration)
	}
	return m
}

// Request outcome label values
const (
	OutcomeOK       = "ok"
	OutcomeNotFound = "not_found"
	OutcomeConflict = "conflict"
	OutcomeError    = "error"
)

func outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, blobfs.ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, blobfs.ErrAlreadyExists), errors.Is(err, blobfs.ErrConditionNotMet):
		return OutcomeConflict
	}
	return OutcomeError
}

// InstrumentedStore decorates an [blobfs.ObjectStore] with request counters and
// latency histograms.
type InstrumentedStore struct {
	next    blobfs.ObjectStore
	backend string
	m       *Metrics
}

// Instrument wraps next. backend is used as the "backend" label.
func Instrument(next blobfs.ObjectStore, backend string, m *Metrics) *InstrumentedStore {
	return &InstrumentedStore{next: next, backend: backend, m: m}
}

// Unwrap returns the decorated store.
func (s *InstrumentedStore) Unwrap() blobfs.ObjectStore { return s.next }

func (s *InstrumentedStore) observe(op string, start time.Time, err error) {
	s.m.Duration.WithLabelValues(s.backend, op).Observe(time.Since(start).Seconds())
	s.m.Requests.WithLabelValues(s.backend, op, outcome(err)).Inc()
}

func (s *InstrumentedStore) GetProperties(ctx context.Context, container, key string) (props *blobfs.BlobProperties, err error) {
	defer func(start time.Time) { s.observe("get_properties", start, err) }(time.Now())
	return s.next.GetProperties(ctx, container, key)
}

func (s *InstrumentedStore) PutMarker(ctx context.Context, container, key string, cond *blobfs.Conditions) (err error) {
	defer func(start time.Time) { s.observe("put_marker", start, err) }(time.Now())
	return s.next.PutMarker(ctx, container, key, cond)
}

func (s *InstrumentedStore) ListFlat(ctx context.Context, container string, opts blobfs.ListOptions) (page *blobfs.ListPage, err error) {
	defer func(start time.Time) { s.observe("list_flat", start, err) }(time.Now())
	return s.next.ListFlat(ctx, container, opts)
}

func (s *InstrumentedStore) Delete(ctx context.Context, container, key string) (err error) {
	defer func(start time.Time) { s.observe("delete", start, err) }(time.Now())
	return s.next.Delete(ctx, container, key)
}

func (s *InstrumentedStore) OpenRangeRead(ctx context.Context, container, key string, offset, length int64) (rc io.ReadCloser, err error) {
	defer func(start time.Time) { s.observe("open_range_read", start, err) }(time.Now())
	return s.next.OpenRangeRead(ctx, container, key, offset, length)
}

func (s *InstrumentedStore) StageBlock(ctx context.Context, container, key, blockID string, data []byte) (err error) {
	defer func(start time.Time) { s.observe("stage_block", start, err) }(time.Now())
	return s.next.StageBlock(ctx, container, key, blockID, data)
}

func (s *InstrumentedStore) CommitBlocks(ctx context.Context, container, key string, blockIDs []string, opts *blobfs.CommitOptions) (err error) {
	defer func(start time.Time) { s.observe("commit_blocks", start, err) }(time.Now())
	return s.next.CommitBlocks(ctx, container, key, blockIDs, opts)
}

func (s *InstrumentedStore) DiscardBlocks(ctx context.Context, container, key string) (err error) {
	defer func(start time.Time) { s.observe("discard_blocks", start, err) }(time.Now())
	return s.next.DiscardBlocks(ctx, container, key)
}

func (s *InstrumentedStore) Copy(ctx context.Context, srcContainer, srcKey, dstContainer, dstKey string, cond *blobfs.Conditions) (err error) {
	defer func(start time.Time) { s.observe("copy", start, err) }(time.Now())
	return s.next.Copy(ctx, srcContainer, srcKey, dstContainer, dstKey, cond)
}

func (s *InstrumentedStore) ContainerExists(ctx context.Context, container string) (ok bool, err error) {
	defer func(start time.Time) { s.observe("container_exists", start, err) }(time.Now())
	return s.next.ContainerExists(ctx, container)
}

var _ blobfs.ObjectStore = (*InstrumentedStore)(nil)
