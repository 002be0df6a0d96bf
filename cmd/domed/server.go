package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/joergs-git/astroshell/command"
	"github.com/joergs-git/astroshell/counters"
	"github.com/joergs-git/astroshell/dome"
	"github.com/joergs-git/astroshell/failsafe"
	"github.com/joergs-git/astroshell/metrics"
)

// Status is what /api/status and /api/ws report.
type Status struct {
	Time     time.Time         `json:"time"`
	State    string            `json:"state"`
	Dome     *dome.Snapshot    `json:"dome"`
	Failsafe failsafe.Status   `json:"failsafe"`
	Counters counters.Counters `json:"counters"`
	TickLog  bool              `json:"tick_log"`
	Board    bool              `json:"board_connected"`
}

type Server struct {
	ctrl       *dome.Controller
	dispatcher *command.Dispatcher
	monitor    *failsafe.Monitor
	tally      *counters.Tally
	board      func() bool

	statusMu sync.RWMutex
	status   Status
	// updated is closed and replaced on every status change.
	updated chan struct{}
}

func NewServer(ctrl *dome.Controller, dispatcher *command.Dispatcher, monitor *failsafe.Monitor, tally *counters.Tally, board func() bool) *Server {
	return &Server{
		ctrl:       ctrl,
		dispatcher: dispatcher,
		monitor:    monitor,
		tally:      tally,
		board:      board,
		updated:    make(chan struct{}),
	}
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.StatusHandler).Methods("GET")
	api.HandleFunc("/command/{op}", s.CommandHandler).Methods("POST")
	api.HandleFunc("/ws", s.StatusSocketHandler)
	r.Handle("/metrics", metrics.Handler())
	return r
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (s *Server) current() (Status, <-chan struct{}) {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status, s.updated
}

func (s *Server) StatusHandler(w http.ResponseWriter, r *http.Request) {
	status, _ := s.current()
	w.Header().Set("Content-Type", "application/json")
	data, err := json.Marshal(status)
	if err != nil {
		log.Print(err)
		return
	}
	w.Write(data)
}

func (s *Server) dispatch(ctx context.Context, op string) (string, int) {
	if len(op) != 1 {
		return "opcode must be one character", http.StatusBadRequest
	}
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	reply, err := s.dispatcher.Dispatch(ctx, op[0])
	switch {
	case errors.Is(err, command.ErrUnknownOpcode):
		return err.Error(), http.StatusBadRequest
	case err != nil:
		return err.Error(), http.StatusServiceUnavailable
	}
	return reply, http.StatusOK
}

func (s *Server) CommandHandler(w http.ResponseWriter, r *http.Request) {
	reply, code := s.dispatch(r.Context(), mux.Vars(r)["op"])
	if code != http.StatusOK {
		http.Error(w, reply, code)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte(reply + "\n"))
}

type Command struct {
	Command string `json:"command"`
}

type Reply struct {
	Command string `json:"command"`
	Reply   string `json:"reply,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) StatusSocketHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex
	send := func(v interface{}) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(v)
	}

	// Read and process incoming messages
	go func() {
		defer cancel()
		for {
			var msg Command
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			reply, code := s.dispatch(ctx, msg.Command)
			out := Reply{Command: msg.Command}
			if code == http.StatusOK {
				out.Reply = reply
			} else {
				out.Error = reply
			}
			if err := send(out); err != nil {
				return
			}
		}
	}()

	for {
		status, updated := s.current()
		if err := send(status); err != nil {
			log.Print(err)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-updated:
		}
	}
}

func (s *Server) statusCallback(status Status) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.status = status
	close(s.updated)
	s.updated = make(chan struct{})
}

// collect builds the current status.
func (s *Server) collect() Status {
	snap := s.ctrl.Snapshot()
	state := "OPEN"
	if snap.Closed() {
		state = "CLOSED"
	}
	return Status{
		Time:     time.Now(),
		State:    state,
		Dome:     snap,
		Failsafe: s.monitor.Status(),
		Counters: s.tally.Get(),
		TickLog:  s.dispatcher.TickLog(),
		Board:    s.board(),
	}
}

// Publish refreshes the status every period until ctx is done.
func (s *Server) Publish(ctx context.Context, period time.Duration) error {
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		s.statusCallback(s.collect())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Serve runs srv until ctx is done.
func Serve(ctx context.Context, srv *http.Server) error {
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(sctx)
	}()
	log.Printf("Listening on %v", srv.Addr)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return ctx.Err()
}
