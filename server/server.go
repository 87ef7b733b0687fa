package server

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/wfunc/joysync/broadcast"
	"github.com/wfunc/joysync/config"
	"github.com/wfunc/joysync/logger"
	"github.com/wfunc/joysync/monitor"
	"github.com/wfunc/joysync/network"
	"github.com/wfunc/joysync/persistence"
	joysync_rpc "github.com/wfunc/joysync/rpc"
	"github.com/wfunc/joysync/services"
	"github.com/wfunc/joysync/session"
	"github.com/wfunc/joysync/state"
	"github.com/wfunc/joysync/tick"
	"github.com/wfunc/joysync/timer"
)

// MetricsNamespace prefixes every exported Prometheus metric.
const MetricsNamespace = "joysync"

type GameServer struct {
	cfg            *config.Config
	upgrader       websocket.Upgrader
	registry       *state.Registry
	directory      *broadcast.Directory
	handler        *session.Handler
	loop           *tick.Loop
	monitor        *monitor.Monitor
	sessionService *services.SessionService
	store          persistence.Store
	rpcServer      *joysync_rpc.Server
	httpServer     *http.Server
	mux            *http.ServeMux
	shutdownOnce   sync.Once

	// closing 置位后不再接受新连接，wg 只在持有 connMutex 时 Add
	connMutex sync.Mutex
	closing   bool
	wg        sync.WaitGroup
}

// shutdownSweep is how often Shutdown re-closes connections that joined the
// directory after the first sweep.
const shutdownSweep = 50 * time.Millisecond

// NewGameServer builds the registry, directory, session handler and tick
// loop, sharing one registry and one directory between them. clock may be
// nil for the wall clock.
func NewGameServer(cfg *config.Config, store persistence.Store, clock timer.Clock) (*GameServer, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if store == nil {
		store = persistence.NewMemory(cfg.Database.HistoryLimit)
	}

	s := &GameServer{
		cfg:            cfg,
		registry:       state.NewRegistry(),
		directory:      broadcast.NewDirectory(),
		monitor:        monitor.NewMonitor(MetricsNamespace),
		sessionService: services.NewSessionService(store),
		store:          store,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.Server.AllowedOrigins),
	}

	s.directory.OnDrop(func(connID string, err error) {
		s.monitor.IncBroadcastFailures()
	})
	s.handler = session.NewHandler(s.registry, s.directory, s.monitor, s.sessionService, cfg.Server.HeartbeatInterval)
	s.loop = tick.NewLoop(s.registry, s.directory, clock, cfg.Tick.Interval, s.monitor)

	// 初始化RPC服务器（可选）
	if cfg.Server.RPCAddress != "" {
		admin := joysync_rpc.NewAdminService(s.registry, s.directory, s.sessionService)
		rpcServer, err := joysync_rpc.NewServer(cfg.Server.RPCAddress, admin)
		if err != nil {
			return nil, err
		}
		s.rpcServer = rpcServer
	}

	s.mux = http.NewServeMux()
	s.mux.HandleFunc("/ws", s.handleWebSocket)
	s.mux.Handle("/metrics", s.monitor.Handler())
	s.mux.Handle("/debug/vars", s.monitor.VarsHandler())
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	s.httpServer = &http.Server{Addr: cfg.Server.HTTPAddress, Handler: s.mux}
	return s, nil
}

// Handler exposes the HTTP routes, e.g. for httptest.
func (s *GameServer) Handler() http.Handler {
	return s.mux
}

func (s *GameServer) Registry() *state.Registry {
	return s.registry
}

func (s *GameServer) Directory() *broadcast.Directory {
	return s.directory
}

// Run starts the background workers (tick loop, RPC) without binding HTTP.
func (s *GameServer) Run() {
	s.loop.Start()
	if s.rpcServer != nil {
		go s.rpcServer.Start()
	}
}

// Start runs the workers and blocks serving HTTP until Shutdown.
func (s *GameServer) Start() error {
	s.Run()

	logger.Log.Infof("Game server listening on %s, tick interval %s", s.cfg.Server.HTTPAddress, s.loop.Interval())
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections, stops the tick loop, waits for open
// sessions to finish their cleanup and closes the store.
func (s *GameServer) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		err = s.httpServer.Shutdown(ctx)
		s.loop.Stop()
		if s.rpcServer != nil {
			s.rpcServer.Stop()
		}

		s.connMutex.Lock()
		s.closing = true
		s.connMutex.Unlock()

		// hijacked websocket connections are not closed by http.Server.Shutdown
		if n := s.directory.CloseAll(); n > 0 {
			logger.Log.Infof("Closing %d open connections", n)
		}

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		sweep := time.NewTicker(shutdownSweep)
		defer sweep.Stop()
	wait:
		for {
			select {
			case <-done:
				break wait
			case <-sweep.C:
				// an upgrade admitted before closing may register after the first sweep
				s.directory.CloseAll()
			case <-ctx.Done():
				if err == nil {
					err = ctx.Err()
				}
				break wait
			}
		}

		if cerr := s.store.Close(); cerr != nil && err == nil {
			err = cerr
		}
	})
	return err
}

// admit reserves a slot in wg unless shutdown has started.
func (s *GameServer) admit() bool {
	s.connMutex.Lock()
	defer s.connMutex.Unlock()
	if s.closing {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *GameServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.admit() {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.wg.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Infof("Failed to upgrade connection from %s: %v", r.RemoteAddr, err)
		return
	}

	wsConn := network.NewWSConnection(conn, s.cfg.Server.ReadLimit, s.cfg.Server.WriteTimeout)
	s.handler.Serve(wsConn)
}

// originChecker allows any origin when allowed is empty; otherwise the
// origin host must match the request host, localhost, or an allowed entry.
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		originURL, err := url.Parse(origin)
		if err != nil {
			logger.Log.Warnf("Invalid origin URL: %s", origin)
			return false
		}
		if originURL.Host == r.Host {
			return true
		}
		host := originURL.Hostname()
		if host == "localhost" || host == "127.0.0.1" {
			return true
		}
		for _, a := range allowed {
			if strings.EqualFold(a, origin) || strings.EqualFold(a, originURL.Host) {
				return true
			}
		}
		logger.Log.Warnf("Rejected WebSocket connection from origin: %s", origin)
		return false
	}
}
