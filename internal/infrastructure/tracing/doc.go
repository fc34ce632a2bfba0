/*
Package tracing provides lightweight request tracing for the portal backend.

Spans carry a trace id shared by every operation of one request flow and a
span id for the current operation. Finished spans are buffered and written
to the structured log by a background collector.

# Usage

	tracer := tracing.New("backend", logger.Logger)
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer))
	client.OnBeforeRequest(tracing.RestyMiddleware())

	span, ctx := tracer.StartSpan(ctx, "catalog.refresh")
	defer func() {
		span.Finish()
		tracer.Submit(span)
	}()

# Propagation

Incoming and outgoing requests use the X-Trace-ID and X-Span-ID headers.
*/
package tracing
