// Package events carries one structured record per pipeline stage to
// whatever is listening: the process log, a test recorder, or both.
package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Stage string

const (
	StageRegistryCheck Stage = "registry_check"
	StageClassify      Stage = "classify"
	StageMemory        Stage = "memory"
	StageDecide        Stage = "decide"
	StageRemember      Stage = "remember"
	StageLedger        Stage = "ledger"
	StagePublish       Stage = "publish"
	StageAlert         Stage = "alert"
	StageResult        Stage = "result"
)

type Event struct {
	Stage     Stage
	RequestID string
	Time      time.Time
	Fields    map[string]any
	// Err marks a degraded stage. The pipeline still produced a verdict.
	Err error
}

type Sink interface {
	Emit(ctx context.Context, ev Event)
}

type Nop struct{}

func (Nop) Emit(context.Context, Event) {}

// ZapSink writes each event as one log line.
type ZapSink struct {
	Logger *zap.Logger
}

func NewZapSink(logger *zap.Logger) *ZapSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapSink{Logger: logger}
}

func (s *ZapSink) Emit(_ context.Context, ev Event) {
	fields := make([]zap.Field, 0, len(ev.Fields)+3)
	fields = append(fields, zap.String("stage", string(ev.Stage)), zap.String("request_id", ev.RequestID))
	for k, v := range ev.Fields {
		fields = append(fields, zap.Any(k, v))
	}
	if ev.Err != nil {
		s.Logger.Warn("pipeline stage degraded", append(fields, zap.Error(ev.Err))...)
		return
	}
	s.Logger.Info("pipeline stage", fields...)
}

// Recorder keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(_ context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Stages lists the stages recorded for one request, in order.
func (r *Recorder) Stages(requestID string) []Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Stage
	for _, ev := range r.events {
		if ev.RequestID == requestID {
			out = append(out, ev.Stage)
		}
	}
	return out
}

type multi []Sink

// Multi fans each event out to every non-nil sink.
func Multi(sinks ...Sink) Sink {
	out := make(multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m multi) Emit(ctx context.Context, ev Event) {
	for _, s := range m {
		s.Emit(ctx, ev)
	}
}
