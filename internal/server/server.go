// Package server exposes the notification history over HTTP for consumers
// that do not run the terminal UI.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/nhle/crm-notifications/internal/bridge"
	"github.com/nhle/crm-notifications/internal/inbox"
	"github.com/nhle/crm-notifications/internal/logging"
	"github.com/nhle/crm-notifications/internal/model"
)

const (
	// streamBuffer is how many events a slow stream client may fall behind
	// before events are dropped for it.
	streamBuffer = 64

	shutdownTimeout = 5 * time.Second
)

// StatusReporter supplies bridge counters for /health.
type StatusReporter interface {
	Stats() bridge.Stats
}

// Server is the HTTP view of the inbox.
type Server struct {
	router    *gin.Engine
	addr      string
	inbox     *inbox.Inbox
	status    StatusReporter
	log       logrus.FieldLogger
	keepAlive time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Server) {
		s.log = l.WithField("component", "server")
	}
}

// WithStatus adds bridge counters to the health response.
func WithStatus(r StatusReporter) Option {
	return func(s *Server) {
		s.status = r
	}
}

// WithKeepAlive sets how often idle event streams receive a ping.
func WithKeepAlive(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.keepAlive = d
		}
	}
}

// New builds a Server listening on addr.
func New(addr string, ib *inbox.Inbox, opts ...Option) *Server {
	s := &Server{
		addr:      addr,
		inbox:     ib,
		log:       logging.Discard().WithField("component", "server"),
		keepAlive: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.router = gin.New()
	s.router.Use(recovery(s.log), requestLog(s.log))
	s.setupRoutes()
	return s
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		// Open streams end with ctx instead of holding up Shutdown.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", s.addr).Info("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving http: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth())

	api := s.router.Group("/api/v1")
	{
		notifications := api.Group("/notifications")
		{
			notifications.GET("", s.handleList())
			notifications.GET("/unread-count", s.handleUnreadCount())
			notifications.GET("/stream", s.handleStream())
			notifications.PUT("/read-all", s.handleMarkAllRead())
			notifications.PUT("/:id/read", s.handleMarkRead())
			notifications.DELETE("/:id", s.handleRemove())
			notifications.POST("/refresh", s.handleRefresh())
		}
	}
}

func (s *Server) handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		body := gin.H{
			"status":  "ok",
			"service": "crmnotify",
			"unread":  s.inbox.UnreadCount(),
		}
		if s.status != nil {
			body["bridge"] = s.status.Stats()
		}
		c.JSON(http.StatusOK, body)
	}
}

// handleList returns the history, newest first. Optional query parameters:
// unread=true keeps unread items only, limit=N caps the result.
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		items := s.inbox.List()

		if unreadOnly, _ := strconv.ParseBool(c.Query("unread")); unreadOnly {
			filtered := make([]model.Notification, 0, len(items))
			for _, n := range items {
				if !n.Read {
					filtered = append(filtered, n)
				}
			}
			items = filtered
		}

		if raw := c.Query("limit"); raw != "" {
			limit, err := strconv.Atoi(raw)
			if err != nil || limit < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
				return
			}
			if limit < len(items) {
				items = items[:limit]
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"items":  items,
			"unread": s.inbox.UnreadCount(),
		})
	}
}

func (s *Server) handleUnreadCount() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"unread": s.inbox.UnreadCount()})
	}
}

func (s *Server) handleMarkRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if err := s.inbox.MarkRead(c.Request.Context(), id); err != nil {
			s.writeError(c, err)
			return
		}
		n, _ := s.inbox.Get(id)
		c.JSON(http.StatusOK, n)
	}
}

func (s *Server) handleMarkAllRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		marked := s.inbox.MarkAllRead(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"marked": marked})
	}
}

func (s *Server) handleRemove() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.inbox.Remove(c.Param("id")); err != nil {
			s.writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func (s *Server) handleRefresh() gin.HandlerFunc {
	return func(c *gin.Context) {
		s.inbox.Refresh()
		c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
	}
}

// handleStream sends store events as server-sent events. The first event
// is always "unread" with the current count so clients can render
// immediately.
func (s *Server) handleStream() gin.HandlerFunc {
	return func(c *gin.Context) {
		events := make(chan model.Event, streamBuffer)
		unsubscribe := s.inbox.Watch(func(ev model.Event) {
			select {
			case events <- ev:
			default:
				s.log.WithField("topic", ev.Topic).Debug("stream client behind, dropping event")
			}
		})
		defer unsubscribe()

		ticker := time.NewTicker(s.keepAlive)
		defer ticker.Stop()

		c.Header("Cache-Control", "no-cache")
		c.Header("X-Accel-Buffering", "no")
		c.SSEvent("unread", gin.H{"unread": s.inbox.UnreadCount()})
		c.Writer.Flush()

		ctx := c.Request.Context()
		c.Stream(func(io.Writer) bool {
			select {
			case <-ctx.Done():
				return false
			case ev := <-events:
				c.SSEvent(string(ev.Topic), ev)
				c.SSEvent("unread", gin.H{"unread": s.inbox.UnreadCount()})
				return true
			case <-ticker.C:
				c.SSEvent("ping", gin.H{"at": time.Now().UTC()})
				return true
			}
		})
	}
}

func (s *Server) writeError(c *gin.Context, err error) {
	if errors.Is(err, inbox.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	s.log.WithError(err).Error("request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}
