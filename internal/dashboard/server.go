package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/abhiyant/inspect/internal/metrics"
	"github.com/abhiyant/inspect/internal/record"
	"github.com/abhiyant/inspect/internal/service"
	"github.com/abhiyant/inspect/internal/store"
)

// MessageType defines the type of dashboard message
type MessageType string

const (
	// MessageTypeInspections carries a full result set for the client's query
	MessageTypeInspections MessageType = "inspections"

	// MessageTypeSyncStatus carries a sync status transition
	MessageTypeSyncStatus MessageType = "sync_status"
)

// Message is the envelope for everything sent over the websocket
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Service is the part of the inspection service the dashboard uses.
type Service interface {
	Snapshot(ctx context.Context, q store.Query) ([]record.InspectionRecord, error)
	Watch(ctx context.Context, q store.Query) (*store.Subscription, error)
	GetByID(ctx context.Context, id int64) (*record.InspectionRecord, error)
	Create(ctx context.Context, rec *record.InspectionRecord) (int64, error)
	Update(ctx context.Context, rec *record.InspectionRecord) error
	Delete(ctx context.Context, id int64) error
	SyncNow(ctx context.Context) (service.Status, error)
	SyncStatus() service.Status
	WatchSyncStatus(ctx context.Context) <-chan service.Status
}

// Config holds server configuration
type Config struct {
	// Addr is the listen address. Port 0 picks a free port.
	Addr string

	// AllowedOrigins for CORS and websocket upgrades
	AllowedOrigins []string

	Logger  *zap.SugaredLogger
	Metrics *metrics.Registry
}

// DefaultConfig returns default server configuration
func DefaultConfig() *Config {
	return &Config{
		Addr:           "127.0.0.1:8080",
		AllowedOrigins: []string{"*"},
		Logger:         zap.NewNop().Sugar(),
	}
}

// Server serves the REST API and pushes live query results and sync status
// to websocket clients.
type Server struct {
	svc      Service
	addr     string
	origins  []string
	listener net.Listener
	server   *http.Server
	router   chi.Router
	logger   *zap.SugaredLogger
	metrics  *metrics.Registry

	// Connected clients and the cancel func of each connection's context
	clients   map[*websocket.Conn]context.CancelFunc
	clientsMu sync.RWMutex

	// Broadcast channel for sync status messages
	broadcast chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a dashboard server for svc
func NewServer(svc Service, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop().Sugar()
	}
	if len(config.AllowedOrigins) == 0 {
		config.AllowedOrigins = []string{"*"}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		svc:       svc,
		addr:      config.Addr,
		origins:   config.AllowedOrigins,
		logger:    config.Logger.Named("dashboard"),
		metrics:   config.Metrics,
		clients:   make(map[*websocket.Conn]context.CancelFunc),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/ws", s.handleWebSocket)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/inspections", s.handleList)
		r.Post("/inspections", s.handleCreate)
		r.Get("/inspections/{id}", s.handleGet)
		r.Put("/inspections/{id}", s.handleUpdate)
		r.Delete("/inspections/{id}", s.handleDelete)
		r.Get("/sync", s.handleSyncStatus)
		r.Post("/sync", s.handleSync)
	})
	return r
}

// Handler returns the server's router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins listening and serving. It returns once the listener is bound.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = listener

	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(2)
	go s.broadcastLoop()
	go s.watchSyncStatus()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Infow("dashboard listening", "addr", listener.Addr().String())
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorw("server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop() error {
	s.logger.Infow("stopping dashboard")
	s.cancel()

	s.clientsMu.Lock()
	for conn, cancel := range s.clients {
		cancel()
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		s.metrics.ClientConnected(-1)
	}
	s.clients = make(map[*websocket.Conn]context.CancelFunc)
	s.clientsMu.Unlock()

	var err error
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := s.server.Shutdown(ctx); shutdownErr != nil {
			err = fmt.Errorf("failed to shutdown server: %w", shutdownErr)
		}
	}

	s.wg.Wait()
	return err
}

// Broadcast sends a message to all connected clients. It never blocks; when
// the queue is full the message is dropped.
func (s *Server) Broadcast(msg Message) {
	select {
	case s.broadcast <- msg:
	default:
		s.logger.Warnw("broadcast channel full, dropping message", "type", msg.Type)
	}
}

// broadcastLoop sends queued messages to every client
func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.broadcast:
			s.clientsMu.RLock()
			conns := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				conns = append(conns, conn)
			}
			s.clientsMu.RUnlock()

			for _, conn := range conns {
				if err := s.send(s.ctx, conn, msg); err != nil {
					s.logger.Debugw("failed to send to client", "error", err)
					s.removeClient(conn)
				}
			}
		}
	}
}

// watchSyncStatus relays every sync status transition to clients.
func (s *Server) watchSyncStatus() {
	defer s.wg.Done()

	for status := range s.svc.WatchSyncStatus(s.ctx) {
		msg, err := newMessage(MessageTypeSyncStatus, status)
		if err != nil {
			s.logger.Warnw("failed to encode sync status", "error", err)
			continue
		}
		s.Broadcast(msg)
	}
}

// handleWebSocket upgrades the connection and streams the live result set
// of the query given by the q and status parameters.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.origins,
	})
	if err != nil {
		s.logger.Warnw("failed to accept websocket", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(s.ctx)
	sub, err := s.svc.Watch(ctx, q)
	if err != nil {
		cancel()
		s.logger.Warnw("failed to subscribe", "error", err)
		conn.Close(websocket.StatusInternalError, "subscription failed")
		return
	}

	s.addClient(conn, cancel)

	if msg, err := newMessage(MessageTypeSyncStatus, s.svc.SyncStatus()); err == nil {
		if err := s.send(ctx, conn, msg); err != nil {
			s.removeClient(conn)
			return
		}
	}

	s.wg.Add(1)
	go s.pushSnapshots(ctx, conn, sub)

	// Keep the connection alive until the client goes away
	s.readLoop(ctx, conn)
}

// pushSnapshots forwards subscription results to conn until the
// subscription ends.
func (s *Server) pushSnapshots(ctx context.Context, conn *websocket.Conn, sub *store.Subscription) {
	defer s.wg.Done()
	defer sub.Close()

	for snapshot := range sub.C() {
		if snapshot == nil {
			snapshot = []record.InspectionRecord{}
		}
		msg, err := newMessage(MessageTypeInspections, snapshot)
		if err != nil {
			s.logger.Warnw("failed to encode snapshot", "error", err)
			continue
		}
		if err := s.send(ctx, conn, msg); err != nil {
			s.logger.Debugw("failed to push snapshot", "error", err)
			s.removeClient(conn)
			return
		}
	}
}

// readLoop reads and discards client messages until the connection closes
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}

func (s *Server) send(ctx context.Context, conn *websocket.Conn, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

func (s *Server) addClient(conn *websocket.Conn, cancel context.CancelFunc) {
	s.clientsMu.Lock()
	s.clients[conn] = cancel
	count := len(s.clients)
	s.clientsMu.Unlock()

	s.metrics.ClientConnected(1)
	s.logger.Debugw("client connected", "clients", count)
}

// removeClient forgets conn and ends its subscription. Repeated calls are
// harmless.
func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	cancel, ok := s.clients[conn]
	delete(s.clients, conn)
	count := len(s.clients)
	s.clientsMu.Unlock()

	if !ok {
		return
	}
	cancel()
	conn.Close(websocket.StatusNormalClosure, "")
	s.metrics.ClientConnected(-1)
	s.logger.Debugw("client disconnected", "clients", count)
}

// handleHealth provides a health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
		"sync":    s.svc.SyncStatus(),
	})
}

// GetAddr returns the server's listening address
func (s *Server) GetAddr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// ClientCount returns the number of connected clients
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

func newMessage(t MessageType, data any) (Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: t, Timestamp: time.Now(), Data: raw}, nil
}
