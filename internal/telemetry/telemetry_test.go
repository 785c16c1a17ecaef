package telemetry

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestEndRecordsStatus(t *testing.T) {
	t.Parallel()
	exp := tracetest.NewInMemoryExporter()
	tp, err := NewProvider(context.Background(), Config{ServiceName: "test"}, sdktrace.WithSyncer(exp))
	if err != nil {
		t.Fatal(err)
	}
	defer tp.Shutdown(context.Background())

	tr := tp.Tracer("test")
	_, ok := tr.Start(context.Background(), "ok")
	End(ok, nil)
	_, bad := tr.Start(context.Background(), "bad")
	End(bad, errors.New("boom"))
	End(nil, nil)

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("spans = %d", len(spans))
	}
	if spans[0].Status.Code != codes.Ok {
		t.Fatalf("ok span status = %v", spans[0].Status)
	}
	if spans[1].Status.Code != codes.Error || spans[1].Status.Description != "boom" || len(spans[1].Events) == 0 {
		t.Fatalf("error span = %+v", spans[1].Status)
	}
}

func TestInitDisabledIsNoop(t *testing.T) {
	t.Parallel()
	shutdown, err := Init(context.Background(), Config{Disable: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
}
