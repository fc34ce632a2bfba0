package tracing

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-resty/resty/v2"
)

// HTTPMiddleware starts a span per request, continuing an incoming trace
// and echoing the ids in the response headers.
func HTTPMiddleware(tracer *Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}

		span, ctx := tracer.StartSpan(Extract(c.Request.Context(), c.Request.Header), c.Request.Method+" "+route)
		span.Plugin = PluginFromPath(route)
		span.SetTag("http.method", c.Request.Method)
		span.SetTag("http.url", c.Request.URL.String())

		c.Request = c.Request.WithContext(ctx)
		c.Header(HeaderTraceID, string(span.TraceID))
		c.Header(HeaderSpanID, string(span.SpanID))

		c.Next()

		span.Status = c.Writer.Status()
		span.SetTag("http.status", strconv.Itoa(span.Status))
		if len(c.Errors) > 0 {
			span.SetError(c.Errors.Last())
		}
		span.Finish()
		tracer.Submit(span)
	}
}

// PluginFromPath returns the plugin owning an /api/<plugin>/... path
func PluginFromPath(path string) string {
	rest, ok := strings.CutPrefix(path, "/api/")
	if !ok {
		return ""
	}
	plugin, _, _ := strings.Cut(rest, "/")
	return plugin
}

// RestyMiddleware propagates the trace context of each request's context
// to outbound calls.
func RestyMiddleware() resty.RequestMiddleware {
	return func(_ *resty.Client, req *resty.Request) error {
		Inject(req.Context(), req.Header)
		return nil
	}
}
