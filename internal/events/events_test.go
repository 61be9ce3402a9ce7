package events

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapSinkLevels(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	sink := NewZapSink(zap.New(core))

	sink.Emit(context.Background(), Event{Stage: StageClassify, RequestID: "r1", Fields: map[string]any{"risk_score": 65}})
	sink.Emit(context.Background(), Event{Stage: StageLedger, RequestID: "r1", Err: errors.New("store down")})

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Level != zapcore.InfoLevel || entries[0].ContextMap()["stage"] != "classify" {
		t.Fatalf("unexpected first entry: %+v", entries[0])
	}
	if got := entries[0].ContextMap()["risk_score"]; got != int64(65) {
		t.Fatalf("expected risk_score field, got %v (%T)", got, got)
	}
	if entries[1].Level != zapcore.WarnLevel || entries[1].ContextMap()["error"] != "store down" {
		t.Fatalf("unexpected second entry: %+v", entries[1].ContextMap())
	}
}

func TestRecorderAndMulti(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	sink := Multi(a, nil, b)

	sink.Emit(context.Background(), Event{Stage: StageClassify, RequestID: "r1"})
	sink.Emit(context.Background(), Event{Stage: StageDecide, RequestID: "r1"})
	sink.Emit(context.Background(), Event{Stage: StageClassify, RequestID: "r2"})

	if len(a.Events()) != 3 || len(b.Events()) != 3 {
		t.Fatalf("expected fan-out to both recorders")
	}
	stages := a.Stages("r1")
	if len(stages) != 2 || stages[0] != StageClassify || stages[1] != StageDecide {
		t.Fatalf("unexpected stages: %v", stages)
	}
	Nop{}.Emit(context.Background(), Event{})
}
