// Package api serves the status and control endpoints of a single blind.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/pkg/errors"

	"github.com/hubertat/httpblinds/position"
)

const httpTimeoutsMs = 3000
const shutdownTimeout = 5 * time.Second

// a move request holds the response until the device call finishes
const moveWriteTimeout = position.RequestTimeout + 5*time.Second

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 50 * time.Second
)

type Config struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
}

func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

type Controller interface {
	StatusSource
	RequestPosition(ctx context.Context, p int) error
}

type Server struct {
	config      Config
	controller  Controller
	broadcaster *Broadcaster
	logger      *log.Logger
	upgrader    websocket.Upgrader
	listener    net.Listener
}

func NewServer(config Config, controller Controller, broadcaster *Broadcaster, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	if broadcaster == nil {
		broadcaster = NewBroadcaster()
		broadcaster.SetSource(controller)
	}

	return &Server{
		config:      config,
		controller:  controller,
		broadcaster: broadcaster,
		logger:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (s *Server) Handler() http.Handler {
	handler := httprouter.New()
	handler.GET("/status", s.handleStatus)
	handler.POST("/position/:position", s.handlePosition)
	handler.GET("/events", s.handleEvents)

	return handler
}

// Listen binds the configured address so startup errors surface before Run.
func (s *Server) Listen() (err error) {
	if s.listener != nil {
		return nil
	}

	s.listener, err = net.Listen("tcp", s.config.Addr())
	if err != nil {
		return errors.Wrapf(err, "status api failed to listen on %s", s.config.Addr())
	}
	s.logger.Info("status api listening", "addr", s.listener.Addr().String())
	return nil
}

// Run serves until ctx is cancelled and then shuts the server down gracefully.
func (s *Server) Run(ctx context.Context) error {
	err := s.Listen()
	if err != nil {
		return err
	}

	httpTimeout := httpTimeoutsMs * time.Millisecond

	server := &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       httpTimeout,
		ReadHeaderTimeout: httpTimeout,
		WriteTimeout:      moveWriteTimeout,
		IdleTimeout:       2 * httpTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Serve(s.listener)
	}()

	select {
	case err = <-serverErr:
		if err == http.ErrServerClosed {
			return nil
		}
		return errors.Wrap(err, "status api stopped")
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

func (s *Server) writeStatus(w http.ResponseWriter, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	err := json.NewEncoder(w).Encode(s.controller.Status())
	if err != nil {
		s.logger.Error("failed to write status", "err", err)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.writeStatus(w, http.StatusOK)
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	p, err := strconv.Atoi(ps.ByName("position"))
	if err != nil {
		http.Error(w, fmt.Sprintf("position %q is not an integer", ps.ByName("position")), http.StatusBadRequest)
		return
	}

	// the move completes even if the client goes away
	err = s.controller.RequestPosition(context.WithoutCancel(r.Context()), p)
	switch {
	case errors.Is(err, position.ErrInvalid):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case err != nil:
		s.writeStatus(w, http.StatusBadGateway)
	default:
		s.writeStatus(w, http.StatusOK)
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "err", err)
		return
	}

	updates, unsubscribe := s.broadcaster.Subscribe()
	closed := make(chan struct{})

	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.logger.Debug("websocket read error", "err", err)
				}
				return
			}
		}
	}()

	s.writeEvents(conn, updates, closed)
	unsubscribe()
	conn.Close()
}

func (s *Server) writeEvents(conn *websocket.Conn, updates <-chan []byte, closed <-chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	initial, err := json.Marshal(s.controller.Status())
	if err != nil {
		return
	}
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err = conn.WriteMessage(websocket.TextMessage, initial); err != nil {
		return
	}

	for {
		select {
		case <-closed:
			return
		case message, ok := <-updates:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
