// persistence/interface.go
package persistence

import (
	"context"
	"fmt"

	"github.com/wfunc/joysync/config"
	"github.com/wfunc/joysync/models"
)

// Store 会话审计存储接口，玩家状态本身不落库
type Store interface {
	SaveSession(ctx context.Context, record *models.SessionRecord) error
	LoadSession(ctx context.Context, id string) (*models.SessionRecord, error)
	RecentSessions(ctx context.Context, limit int) ([]models.SessionRecord, error)
	Close() error
}

// 错误定义
var (
	ErrRecordNotFound = fmt.Errorf("record not found")
	ErrUnknownDriver  = fmt.Errorf("unknown database driver")
)

// Open picks a Store implementation from cfg.Driver.
func Open(cfg config.DatabaseConfig) (Store, error) {
	pg := cfg.Postgres
	switch cfg.Driver {
	case "", "memory":
		return NewMemory(cfg.HistoryLimit), nil
	case "gorm":
		db, err := NewGormPostgreSQL(pg.Host, pg.Port, pg.User, pg.Password, pg.DBName)
		if err != nil {
			return nil, err
		}
		return db, nil
	case "postgres":
		db, err := NewPostgreSQL(pg.Host, pg.Port, pg.User, pg.Password, pg.DBName)
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}

func dsn(host string, port int, user, password, dbname string) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)
}
