// Package web provides the HTTP dashboard and command API for the kite-pilot
// daemon.
package web

import (
	"context"
	"errors"
	"log"
	"mime"
	"net"
	"net/http"

	"github.com/sweeney/kite-pilot/internal/actuator"
	"github.com/sweeney/kite-pilot/internal/command"
	"github.com/sweeney/kite-pilot/internal/logic"
	"github.com/sweeney/kite-pilot/internal/status"
)

const maxCommandBody = 4 << 10

// Server serves the status page, the command API and the live stream.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	commands   command.Handler
	hub        *Hub
}

// New creates a Server that reads state from tracker and sends commands to
// h. A nil h disables the command API and a nil hub disables /ws.
func New(addr string, tracker *status.Tracker, h command.Handler, hub *Hub) *Server {
	s := &Server{tracker: tracker, commands: h, hub: hub}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	mux.HandleFunc("/api/status", s.handleJSON)
	if h != nil {
		mux.HandleFunc("/api/mode", s.handleCommand(command.KindMode))
		mux.HandleFunc("/api/next", s.handleCommand(command.KindNext))
		mux.HandleFunc("/api/direction", s.handleCommand(command.KindDirection))
		mux.HandleFunc("/api/emergency", s.handleCommand(command.KindEmergency))
	}
	if hub != nil {
		mux.Handle("/ws", hub)
	}

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// Handler returns the server's request router.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, snap, s.commands != nil, s.hub != nil); err != nil {
		log.Printf("web: render index: %v", err)
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

func (s *Server) handleCommand(kind command.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			writeResult(w, http.StatusMethodNotAllowed, errors.New("use POST"), "")
			return
		}

		c, err := parseCommand(kind, w, r)
		if err != nil {
			writeResult(w, http.StatusBadRequest, err, s.mode())
			return
		}
		if err := command.Dispatch(s.commands, c); err != nil {
			writeResult(w, errorStatus(err), err, s.mode())
			return
		}
		log.Printf("web: command %s from %s", c.Kind, r.RemoteAddr)
		writeResult(w, http.StatusOK, nil, s.mode())
	}
}

// parseCommand accepts either a JSON body or form values.
func parseCommand(kind command.Kind, w http.ResponseWriter, r *http.Request) (command.Command, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxCommandBody)

	if ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); ct == "application/json" {
		c, err := decodeJSONCommand(r.Body)
		if err != nil {
			return command.Command{}, err
		}
		if c.Kind != kind {
			return command.Command{}, errors.New("command does not match endpoint")
		}
		return c, nil
	}

	if err := r.ParseForm(); err != nil {
		return command.Command{}, err
	}
	return command.FromValues(kind, r.Form)
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, logic.ErrNotInitialized), errors.Is(err, command.ErrAutonomous):
		return http.StatusConflict
	case errors.Is(err, actuator.ErrNotAttached):
		return http.StatusServiceUnavailable
	case errors.Is(err, logic.ErrUnknownMode), errors.Is(err, command.ErrUnknownCommand),
		errors.Is(err, command.ErrBadArgument):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) mode() string {
	if mr, ok := s.commands.(command.ModeReader); ok {
		return string(mr.CurrentMode())
	}
	return ""
}
