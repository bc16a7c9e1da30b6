// Package correlate derives the per-execution correlation ID the worker
// host attaches to every log record and span for a job attempt, per the
// Worker Host's tracing requirement.
package correlate

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracer rides the process-wide no-op TracerProvider: no SDK, no exporter
// is wired (exporters are an explicit non-goal of this system), only the
// span-attribute convention the teacher uses for request-scoped fields.
var tracer = otel.Tracer("journal-pipeline/worker")

// ID derives the correlation ID for one job execution attempt.
func ID(organizationID, jobID string, attempt int) string {
	return fmt.Sprintf("%s/%s/%d", organizationID, jobID, attempt)
}

// Start opens a span carrying the correlation ID as an attribute and
// returns the derived context and a function to end the span.
func Start(ctx context.Context, organizationID, jobID string, attempt int, jobType string) (context.Context, string, func()) {
	id := ID(organizationID, jobID, attempt)
	ctx, span := tracer.Start(ctx, jobType, trace.WithAttributes(
		attribute.String("correlation_id", id),
		attribute.String("organization_id", organizationID),
		attribute.String("job_id", jobID),
		attribute.Int("attempt", attempt),
	))
	return ctx, id, span.End
}
