package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/joss/clash/internal/agent"
	"github.com/joss/clash/internal/logging"
	"github.com/joss/clash/internal/metrics"
	"github.com/joss/clash/internal/orchestrator"
	"github.com/joss/clash/internal/protocol"
)

// Commander is the orchestrator surface the transports drive.
type Commander interface {
	Handle(ctx context.Context, env *protocol.Envelope) (any, error)
	Status(ctx context.Context) (protocol.StatusPayload, error)
}

// ServerOptions configures the HTTP transport.
type ServerOptions struct {
	// Heartbeat is the SSE keep-alive interval
	Heartbeat time.Duration
	// Metrics is served on /metrics; nil means the process-wide counters
	Metrics *metrics.Metrics
}

// Server is the HTTP/SSE transport.
type Server struct {
	cmd       Commander
	hub       *Hub
	heartbeat time.Duration
	metrics   *metrics.Metrics
	router    *gin.Engine
	arena     *template.Template
	log       *logging.Logger
}

// NewServer wires routes for cmd and hub.
func NewServer(cmd Commander, hub *Hub, opts ServerOptions) *Server {
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 15 * time.Second
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Global()
	}

	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		cmd:       cmd,
		hub:       hub,
		heartbeat: opts.Heartbeat,
		metrics:   opts.Metrics,
		router:    gin.New(),
		arena:     template.Must(template.New("arena").Parse(arenaPage)),
		log:       logging.New("http"),
	}
	s.router.Use(gin.Recovery(), requestID(), s.accessLog())
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.router.Group("/api")
	api.POST("/commands", s.handleCommand)
	api.GET("/status", s.handleStatus)
	api.GET("/events", s.handleEvents)

	s.router.GET("/arena", s.handleArena)
	s.router.GET("/metrics", gin.WrapF(s.metrics.Handler()))
	s.router.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
}

// Handler exposes the router.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Info("listening", map[string]interface{}{"addr": addr})
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http: %w", err)
	}
	return nil
}

// requestID tags each request context with X-Request-ID, generating one when
// the client sent none.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := logging.WithRequestID(c.Request.Context(), c.GetHeader("X-Request-ID"))
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Request-ID", logging.GetRequestID(ctx))
		c.Next()
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.ForRequest(c.Request.Context()).TimedEvent("request", start, map[string]interface{}{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
			"status": c.Writer.Status(),
		})
	}
}

// StatusCode maps orchestrator errors to HTTP statuses.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, orchestrator.ErrInvalidParams):
		return http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrCannotResume),
		errors.Is(err, orchestrator.ErrNotRunning),
		errors.Is(err, orchestrator.ErrActive):
		return http.StatusConflict
	case errors.Is(err, orchestrator.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleCommand(c *gin.Context) {
	var env protocol.Envelope
	if err := c.ShouldBindJSON(&env); err != nil {
		c.JSON(http.StatusBadRequest, &protocol.CommandReply{Error: "invalid envelope: " + err.Error()})
		return
	}
	if !env.Type.IsCommand() {
		c.JSON(http.StatusBadRequest, &protocol.CommandReply{Error: fmt.Sprintf("not a command: %q", env.Type)})
		return
	}

	payload, err := s.cmd.Handle(c.Request.Context(), &env)
	if err != nil {
		s.log.ForRequest(c.Request.Context()).Warn("command_rejected", map[string]interface{}{
			"type": string(env.Type),
		}, err)
	}
	c.JSON(StatusCode(err), orchestrator.Reply(payload, err))
}

func (s *Server) handleStatus(c *gin.Context) {
	snap, err := s.cmd.Status(c.Request.Context())
	if err != nil {
		c.JSON(StatusCode(err), orchestrator.Reply(nil, err))
		return
	}
	c.JSON(http.StatusOK, snap)
}

// handleEvents streams events to a single observer. The stream opens with a
// STATUS snapshot and ends when another observer attaches.
func (s *Server) handleEvents(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	sub := s.hub.Attach()
	defer s.hub.Detach(sub)

	ctx := c.Request.Context()
	if snap, err := s.cmd.Status(ctx); err == nil {
		writeSSE(c.Writer, protocol.NewEnvelope(protocol.MsgStatus, &snap))
	}
	c.Writer.Flush()

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(c.Writer, "event: heartbeat\ndata: {\"ts\":%q}\n\n", time.Now().UTC().Format(time.RFC3339))
			c.Writer.Flush()
		case env := <-sub.Events():
			writeSSE(c.Writer, env)
			c.Writer.Flush()
		}
	}
}

// writeSSE writes env as one SSE event named after its type.
func writeSSE(w io.Writer, env *protocol.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", env.ID, env.Type, data)
}

type arenaPane struct {
	ID   agent.ID
	Name string
	URL  string
}

func (s *Server) handleArena(c *gin.Context) {
	left, err := agent.Lookup(c.DefaultQuery("left", string(agent.DefaultLeft)))
	if err != nil {
		c.String(http.StatusBadRequest, err.Error())
		return
	}
	right, err := agent.Lookup(c.DefaultQuery("right", string(agent.DefaultRight)))
	if err != nil {
		c.String(http.StatusBadRequest, err.Error())
		return
	}

	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	err = s.arena.Execute(c.Writer, []arenaPane{
		{ID: left.ID, Name: left.Name, URL: left.URL},
		{ID: right.ID, Name: right.Name, URL: right.URL},
	})
	if err != nil {
		s.log.Error("arena_render_failed", nil, err)
	}
}

const arenaPage = `<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>clash arena</title>
<style>
  html, body { margin: 0; height: 100%; background: #111; }
  main { display: flex; height: 100%; }
  section { flex: 1; display: flex; flex-direction: column; border-right: 1px solid #333; }
  h1 { margin: 0; padding: 4px 8px; font: 600 13px sans-serif; color: #ddd; }
  iframe { flex: 1; border: 0; width: 100%; background: #fff; }
</style>
</head>
<body>
<main>
{{range .}}  <section data-agent="{{.ID}}">
    <h1>{{.Name}}</h1>
    <iframe src="{{.URL}}" allow="clipboard-read; clipboard-write"></iframe>
  </section>
{{end}}</main>
</body>
</html>
`
