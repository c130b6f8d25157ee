package workflow

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func workflowIDAttr(id string) attribute.KeyValue   { return attribute.String("workflow.id", id) }
func beadIDAttr(id string) attribute.KeyValue       { return attribute.String("bead.id", id) }
func grimoireNameAttr(n string) attribute.KeyValue  { return attribute.String("grimoire.name", n) }
func stepNameAttr(n string) attribute.KeyValue      { return attribute.String("step.name", n) }

var tracer = otel.Tracer("github.com/brmatola/coven/internal/workflow")

// SetupTracing installs a process-wide TracerProvider backed by a stdout
// exporter. It returns a shutdown func to flush and release the exporter on
// daemon exit. Exporter construction failures are non-fatal: tracing is an
// ambient concern, not a workflow-execution dependency.
func SetupTracing() (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(provider)

	return provider.Shutdown, nil
}

// startWorkflowSpan starts the root span for one workflow run.
func (e *Engine) startWorkflowSpan(ctx context.Context, grimoireName string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "workflow.run",
		trace.WithAttributes(
			workflowIDAttr(e.config.WorkflowID),
			beadIDAttr(e.config.BeadID),
			grimoireNameAttr(grimoireName),
		),
	)
}

// startStepSpan starts a child span for one step execution.
func startStepSpan(ctx context.Context, step *stepSpanInfo) (context.Context, trace.Span) {
	return tracer.Start(ctx, "workflow.step."+step.Type,
		trace.WithAttributes(
			stepNameAttr(step.Name),
		),
	)
}

// stepSpanInfo carries the fields needed to label a step span without
// importing grimoire.Step into the span-naming helpers.
type stepSpanInfo struct {
	Name string
	Type string
}
