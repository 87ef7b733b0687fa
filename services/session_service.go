// services/session_service.go
package services

import (
	"context"
	"errors"
	"time"

	"github.com/wfunc/joysync/logger"
	"github.com/wfunc/joysync/models"
	"github.com/wfunc/joysync/persistence"
)

var ErrInvalidRecord = errors.New("invalid session record")

// saveTimeout bounds how long a closing session waits on the store.
const saveTimeout = 3 * time.Second

type SessionService struct {
	db persistence.Store
}

func NewSessionService(db persistence.Store) *SessionService {
	return &SessionService{db: db}
}

// RecordSession 连接关闭时写入审计记录，存储失败只记录日志，不影响连接清理
func (s *SessionService) RecordSession(ctx context.Context, record *models.SessionRecord) error {
	if record == nil || record.ID == "" || record.ConnID == "" {
		return ErrInvalidRecord
	}
	if record.DisconnectedAt.IsZero() {
		record.DisconnectedAt = time.Now()
	}

	ctx, cancel := context.WithTimeout(ctx, saveTimeout)
	defer cancel()

	if err := s.db.SaveSession(ctx, record); err != nil {
		logger.Log.Errorf("Failed to save session record %s for %s: %v", record.ID, record.ConnID, err)
		return err
	}
	logger.Log.Debugf("Session %s (%s) recorded: role=%s messages=%d actions=%d duration=%s",
		record.ID, record.ConnID, record.Role, record.MessagesReceived, record.ActionsApplied, record.Duration())
	return nil
}

func (s *SessionService) RecentSessions(ctx context.Context, limit int) ([]models.SessionRecord, error) {
	return s.db.RecentSessions(ctx, limit)
}

func (s *SessionService) GetSession(ctx context.Context, id string) (*models.SessionRecord, error) {
	return s.db.LoadSession(ctx, id)
}
