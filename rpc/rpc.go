package rpc

import (
	"context"
	"errors"
	"net"
	"net/rpc"
	"time"

	"github.com/wfunc/joysync/broadcast"
	"github.com/wfunc/joysync/logger"
	"github.com/wfunc/joysync/models"
	"github.com/wfunc/joysync/state"
)

var (
	ErrPlayerNotFound      = errors.New("player not found")
	ErrSessionsUnavailable = errors.New("session store not configured")
)

// storeTimeout bounds admin queries against the session store.
const storeTimeout = 5 * time.Second

// ServiceName is the name clients use, e.g. "Admin.Snapshot".
const ServiceName = "Admin"

// Server manages the RPC listener.
type Server struct {
	listener net.Listener
	address  string
	rpc      *rpc.Server
}

// NewServer binds addr and registers svc on a private rpc.Server, so several
// servers can live in one process.
func NewServer(addr string, svc *AdminService) (*Server, error) {
	srv := rpc.NewServer()
	if err := srv.RegisterName(ServiceName, svc); err != nil {
		return nil, err
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		listener: listener,
		address:  listener.Addr().String(),
		rpc:      srv,
	}, nil
}

// Addr is the bound address, useful when addr used port 0.
func (s *Server) Addr() string {
	return s.address
}

// Start begins listening for RPC requests.
func (s *Server) Start() {
	logger.Log.Infof("RPC server listening on %s", s.address)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				logger.Log.Info("RPC server listener closed.")
				return
			}
			logger.Log.Errorf("RPC server accept error: %v", err)
			continue
		}
		go s.rpc.ServeConn(conn)
	}
}

// Stop closes the RPC listener.
func (s *Server) Stop() {
	if s.listener != nil {
		logger.Log.Info("Stopping RPC server.")
		s.listener.Close()
	}
}

// SessionSource is the slice of services.SessionService the admin API needs.
type SessionSource interface {
	RecentSessions(ctx context.Context, limit int) ([]models.SessionRecord, error)
	GetSession(ctx context.Context, id string) (*models.SessionRecord, error)
}

// AdminService exposes read-only views of the running server.
// Methods follow the net/rpc signature: exported, pointer reply, error result.
type AdminService struct {
	registry  *state.Registry
	directory *broadcast.Directory
	sessions  SessionSource
}

func NewAdminService(registry *state.Registry, directory *broadcast.Directory, sessions SessionSource) *AdminService {
	return &AdminService{
		registry:  registry,
		directory: directory,
		sessions:  sessions,
	}
}

// SnapshotArgs narrows the reply to one player when PlayerID is set.
type SnapshotArgs struct {
	PlayerID string
}

type SnapshotReply struct {
	Players map[string]state.PlayerState
}

func (a *AdminService) Snapshot(args *SnapshotArgs, reply *SnapshotReply) error {
	snap := a.registry.Snapshot()
	if args.PlayerID != "" {
		p, exists := snap[args.PlayerID]
		if !exists {
			return ErrPlayerNotFound
		}
		snap = state.Snapshot{args.PlayerID: p}
	}
	reply.Players = snap
	return nil
}

type ConnectionsArgs struct {
	WithIDs bool
}

type ConnectionsReply struct {
	Count   int
	IDs     []string
	Players int
}

func (a *AdminService) Connections(args *ConnectionsArgs, reply *ConnectionsReply) error {
	ids := a.directory.IDs()
	reply.Count = len(ids)
	if args.WithIDs {
		reply.IDs = ids
	}
	reply.Players = a.registry.Len()
	return nil
}

type RecentSessionsArgs struct {
	Limit int
}

type RecentSessionsReply struct {
	Sessions []models.SessionRecord
}

func (a *AdminService) RecentSessions(args *RecentSessionsArgs, reply *RecentSessionsReply) error {
	if a.sessions == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	records, err := a.sessions.RecentSessions(ctx, args.Limit)
	if err != nil {
		return err
	}
	reply.Sessions = records
	return nil
}

// SessionArgs looks up one audit record by session token.
type SessionArgs struct {
	ID string
}

type SessionReply struct {
	Session models.SessionRecord
}

func (a *AdminService) Session(args *SessionArgs, reply *SessionReply) error {
	if a.sessions == nil {
		return ErrSessionsUnavailable
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	record, err := a.sessions.GetSession(ctx, args.ID)
	if err != nil {
		return err
	}
	reply.Session = *record
	return nil
}
