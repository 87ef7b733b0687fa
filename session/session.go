// session/session.go
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wfunc/joysync/models"
	"github.com/wfunc/joysync/network"
)

// Role 连接在协议状态机里的位置
type Role int

const (
	RoleUnregistered Role = iota
	RolePlayer
	RoleViewer
	RoleClosed
)

func (r Role) String() string {
	switch r {
	case RolePlayer:
		return network.RolePlayer
	case RoleViewer:
		return network.RoleViewer
	case RoleClosed:
		return "closed"
	default:
		return "unregistered"
	}
}

// Session is one accepted connection. ID is the remote address and doubles
// as the player id; Token is a unique id for the audit record.
type Session struct {
	ID        string
	Token     string
	Conn      network.Connection
	CreatedAt time.Time

	role      Role
	mutex     sync.RWMutex
	closeOnce sync.Once

	// only touched by the session's own read loop
	messages  int64
	malformed int64
	actions   int64
}

func NewSession(conn network.Connection) *Session {
	return &Session{
		ID:        conn.RemoteAddr().String(),
		Token:     uuid.New().String(),
		Conn:      conn,
		CreatedAt: time.Now(),
	}
}

func (s *Session) GetID() string {
	return s.ID
}

func (s *Session) Role() Role {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.role
}

// setRole returns the previous role.
func (s *Session) setRole(r Role) Role {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	prev := s.role
	s.role = r
	return prev
}


// Record summarizes the session for the audit trail. finalRole is the role
// held just before the session closed.
func (s *Session) Record(finalRole Role) *models.SessionRecord {
	return &models.SessionRecord{
		ID:                s.Token,
		ConnID:            s.ID,
		Role:              finalRole.String(),
		ConnectedAt:       s.CreatedAt,
		DisconnectedAt:    time.Now(),
		MessagesReceived:  s.messages,
		MalformedMessages: s.malformed,
		ActionsApplied:    s.actions,
	}
}
