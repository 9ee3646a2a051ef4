package backend

import (
	"context"
	"time"

	"github.com/rpattn/datafusion/internal/domain"
)

// Recorder receives one observation per backend call.
type Recorder interface {
	ObserveBackendRequest(op, outcome string, d time.Duration)
}

// Instrument wraps backend so every call is reported to recorder.
func Instrument(backend DataBackend, recorder Recorder) DataBackend {
	if recorder == nil {
		return backend
	}
	return &instrumented{next: backend, recorder: recorder}
}

type instrumented struct {
	next     DataBackend
	recorder Recorder
}

func (i *instrumented) observe(op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	i.recorder.ObserveBackendRequest(op, outcome, time.Since(start))
}

func (i *instrumented) Health(ctx context.Context) (out domain.Health, err error) {
	defer func(start time.Time) { i.observe("health", start, err) }(time.Now())
	return i.next.Health(ctx)
}

func (i *instrumented) Profile(ctx context.Context, files []File) (out domain.ProfileResponse, err error) {
	defer func(start time.Time) { i.observe("profile", start, err) }(time.Now())
	return i.next.Profile(ctx, files)
}

func (i *instrumented) Match(ctx context.Context, left, right File, threshold *float64) (out domain.MatchResponse, err error) {
	defer func(start time.Time) { i.observe("match", start, err) }(time.Now())
	return i.next.Match(ctx, left, right, threshold)
}

func (i *instrumented) Merge(ctx context.Context, req MergeRequest) (out domain.MergeResponse, err error) {
	defer func(start time.Time) { i.observe("merge", start, err) }(time.Now())
	return i.next.Merge(ctx, req)
}

func (i *instrumented) Validate(ctx context.Context, req domain.ValidateRequest) (out domain.ValidateResponse, err error) {
	defer func(start time.Time) { i.observe("validate", start, err) }(time.Now())
	return i.next.Validate(ctx, req)
}

func (i *instrumented) Docs(ctx context.Context, req domain.DocsRequest) (out domain.DocsResponse, err error) {
	defer func(start time.Time) { i.observe("docs", start, err) }(time.Now())
	return i.next.Docs(ctx, req)
}

func (i *instrumented) Drift(ctx context.Context, req domain.DriftRequest) (out domain.DriftResponse, err error) {
	defer func(start time.Time) { i.observe("drift", start, err) }(time.Now())
	return i.next.Drift(ctx, req)
}
