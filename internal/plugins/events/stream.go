package events

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/devportal/backend/internal/services/events"
	"github.com/GriffinCanCode/devportal/backend/internal/services/httpauth"
	"github.com/GriffinCanCode/devportal/backend/internal/shared/id"
)

const (
	streamBuffer = 64
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
)

// Stream fans broker events out to authenticated websocket clients
type Stream struct {
	broker   *events.Broker
	auth     httpauth.Resolver
	upgrader websocket.Upgrader
	logger   *logging.Logger
}

// NewStream creates the fan-out. Every client needs a bearer token that
// auth accepts. origins lists the browser origins allowed to connect;
// non-browser clients send no Origin header.
func NewStream(broker *events.Broker, origins []string, auth httpauth.Resolver, logger *logging.Logger) *Stream {
	if logger == nil {
		logger = logging.NewNop()
	}
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			allowed[u.Scheme+"://"+u.Host] = true
		}
	}
	return &Stream{
		broker: broker,
		auth:   auth,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowed[origin]
			},
		},
	}
}

// Register mounts GET /stream behind the credentials check
func (s *Stream) Register(r gin.IRoutes) {
	r.GET("/stream", httpauth.Require(s.auth), s.Connect)
}

// Connect upgrades the request and forwards events on ?topics=a,b (every
// topic when empty) until the client goes away. Slow clients lose events
// rather than block publishers.
func (s *Stream) Connect(c *gin.Context) {
	topics := parseTopics(c.QueryArray("topics"))
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	connID := id.NewRequestID().String()
	logger := s.logger.With(zap.String("connection", connID))
	if ident, ok := httpauth.FromContext(c); ok {
		logger = logger.With(zap.String("user", ident.UserEntityRef))
	}
	queue := make(chan events.Event, streamBuffer)
	unsubscribe := s.broker.Subscribe("events-stream:"+connID, topics, func(_ context.Context, e events.Event) error {
		select {
		case queue <- e:
		default:
			logger.Warn("Dropping event for slow stream client", zap.String("topic", e.Topic))
		}
		return nil
	})
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := s.send(conn, map[string]interface{}{"type": "subscribed", "topics": topics}); err != nil {
		return
	}
	logger.Debug("Stream client connected", zap.Strings("topics", topics))

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case e := <-queue:
			if err := s.send(conn, e); err != nil {
				logger.Debug("Stream write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}

func (s *Stream) send(conn *websocket.Conn, v interface{}) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func parseTopics(raw []string) []string {
	var topics []string
	for _, r := range raw {
		for _, t := range strings.Split(r, ",") {
			if t = strings.TrimSpace(t); t != "" {
				topics = append(topics, t)
			}
		}
	}
	if len(topics) == 0 {
		return []string{events.AllTopics}
	}
	return topics
}
