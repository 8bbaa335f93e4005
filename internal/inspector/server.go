// Package inspector serves live run progress and stored reports over HTTP.
package inspector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cgast/schemaprobe/pkg/events"
	"github.com/cgast/schemaprobe/pkg/verify"
)

// Server is the inspector HTTP server. Events are streamed to browsers with
// Server-Sent Events.
type Server struct {
	bus       events.EventBus
	history   *verify.History
	logger    *zap.Logger
	mux       *http.ServeMux
	clients   map[*sseClient]bool
	clientsMu sync.Mutex
	startTime time.Time
}

type sseClient struct {
	send chan []byte
}

// New creates an inspector over bus. history may be nil.
func New(bus events.EventBus, history *verify.History, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		bus:       bus,
		history:   history,
		logger:    logger,
		mux:       http.NewServeMux(),
		clients:   make(map[*sseClient]bool),
		startTime: time.Now(),
	}

	s.mux.HandleFunc("/events", s.handleEvents)
	s.mux.HandleFunc("/api/status", s.handleStatus)
	s.mux.HandleFunc("/api/events", s.handleEventHistory)
	s.mux.HandleFunc("/api/runs", s.handleRuns)
	s.mux.HandleFunc("/api/runs/", s.handleRun)
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Serve listens on addr until ctx is done.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ch := s.bus.Subscribe()
	go s.broadcast(ch)
	defer s.bus.Unsubscribe(ch)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("inspector listening", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("inspector: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) broadcast(ch <-chan events.Event) {
	for ev := range ch {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}

		s.clientsMu.Lock()
		for client := range s.clients {
			select {
			case client.send <- data:
			default:
				// Client is slow, drop the event.
			}
		}
		s.clientsMu.Unlock()
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	client := &sseClient{send: make(chan []byte, 64)}
	s.clientsMu.Lock()
	s.clients[client] = true
	s.clientsMu.Unlock()
	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, client)
		s.clientsMu.Unlock()
	}()

	// Replay what already happened.
	for _, ev := range s.bus.History(r.URL.Query().Get("run")) {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg := <-client.send:
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		}
	}
}

// Status summarizes the run in progress.
type Status struct {
	Uptime    string `json:"uptime"`
	RunID     string `json:"run_id,omitempty"`
	Total     int    `json:"total"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
	Running   string `json:"running,omitempty"`
	Finished  bool   `json:"finished"`
}

// CurrentStatus folds the latest run's events into a Status.
func (s *Server) CurrentStatus() Status {
	st := Status{Uptime: time.Since(s.startTime).Round(time.Second).String()}

	history := s.bus.History("")
	// Only the most recent run counts.
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Type == events.EventRunStart {
			history = history[i:]
			break
		}
	}
	for _, ev := range history {
		switch ev.Type {
		case events.EventRunStart:
			st.RunID = ev.RunID
			if n, ok := ev.Data.(int); ok {
				st.Total = n
			}
		case events.EventProbeStart:
			st.Running = ev.CheckID
		case events.EventProbeEnd:
			st.Completed++
			st.Running = ""
		case events.EventProbeFailed:
			st.Failed++
		case events.EventRunEnd:
			st.Finished = true
		}
	}
	return st
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.CurrentStatus())
}

func (s *Server) handleEventHistory(w http.ResponseWriter, r *http.Request) {
	history := s.bus.History(r.URL.Query().Get("run"))
	if history == nil {
		history = []events.Event{}
	}
	writeJSON(w, history)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, []any{})
		return
	}
	infos, err := s.history.List()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if infos == nil {
		infos = []verify.RunInfo{}
	}
	writeJSON(w, infos)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/runs/")
	if s.history == nil || id == "" || strings.ContainsAny(id, `/\.`) {
		http.NotFound(w, r)
		return
	}
	rep, err := s.history.Load(id)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, rep)
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}
