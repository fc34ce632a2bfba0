package events

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/devportal/backend/internal/services/core"
	"github.com/GriffinCanCode/devportal/backend/internal/services/events"
)

const maxIngressBody = 1 << 20

// metadataHeaders are the request headers copied into event metadata.
// Everything else, credentials and signatures included, stays behind.
var metadataHeaders = []string{
	"content-type",
	"user-agent",
	"x-github-event",
	"x-github-delivery",
	"x-github-hook-id",
	"x-github-hook-installation-target-id",
	"x-github-hook-installation-target-type",
	"x-gitlab-event",
	"x-request-id",
}

var (
	ErrUnknownTopic = errors.New("topic does not accept http ingress")
	ErrInvalidBody  = errors.New("request body must be a JSON document")
)

// Ingress publishes HTTP POST bodies to the broker
type Ingress struct {
	broker  *events.Broker
	topics  map[string]bool
	headers map[string]bool
	logger  *logging.Logger
}

// NewIngress accepts posts for the given topics only. extraHeaders adds to
// the headers forwarded as metadata.
func NewIngress(broker *events.Broker, topics, extraHeaders []string, logger *logging.Logger) *Ingress {
	if logger == nil {
		logger = logging.NewNop()
	}
	allowed := make(map[string]bool, len(topics))
	for _, t := range topics {
		allowed[t] = true
	}
	headers := make(map[string]bool, len(metadataHeaders)+len(extraHeaders))
	for _, h := range metadataHeaders {
		headers[h] = true
	}
	for _, h := range extraHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" && h != "authorization" && h != "cookie" {
			headers[h] = true
		}
	}
	return &Ingress{broker: broker, topics: allowed, headers: headers, logger: logger}
}

// Register mounts POST /http/:topic
func (i *Ingress) Register(r gin.IRoutes) {
	r.POST("/http/:topic", i.Post)
}

// Post publishes the body on :topic and answers 202 without waiting for
// subscribers. Allowed headers travel as lowercase metadata. GitHub
// deliveries are also routed to github.<event>.
func (i *Ingress) Post(c *gin.Context) {
	topic := c.Param("topic")
	if !i.topics[topic] {
		core.ErrorJSON(c, http.StatusNotFound, ErrUnknownTopic)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxIngressBody))
	if err != nil {
		core.ErrorJSON(c, http.StatusRequestEntityTooLarge, err)
		return
	}
	if !sonic.Valid(body) {
		core.ErrorJSON(c, http.StatusBadRequest, ErrInvalidBody)
		return
	}

	metadata := i.metadata(c.Request.Header)
	e, err := i.broker.PublishAsync(topic, body, metadata)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, events.ErrClosed) {
			status = http.StatusServiceUnavailable
		}
		i.logger.Error("Failed to publish ingress event", zap.String("topic", topic), zap.Error(err))
		core.ErrorJSON(c, status, err)
		return
	}
	if ev := metadata["x-github-event"]; topic == "github" && ev != "" {
		if _, err := i.broker.PublishAsync("github."+ev, body, metadata); err != nil {
			i.logger.Warn("Failed to route GitHub event", zap.String("event", ev), zap.Error(err))
		}
	}
	c.JSON(http.StatusAccepted, gin.H{"id": e.ID})
}

func (i *Ingress) metadata(h http.Header) map[string]string {
	out := make(map[string]string, len(i.headers))
	for k, v := range h {
		if k = strings.ToLower(k); len(v) > 0 && i.headers[k] {
			out[k] = v[0]
		}
	}
	return out
}
