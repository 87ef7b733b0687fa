// persistence/postgresql.go
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/wfunc/joysync/models"

	// PostgreSQL 驱动
	_ "github.com/lib/pq"
)

// PostgreSQL 基于 database/sql + lib/pq 的实现
type PostgreSQL struct {
	db *sql.DB
}

func NewPostgreSQL(host string, port int, user, password, dbname string) (*PostgreSQL, error) {
	db, err := sql.Open("postgres", dsn(host, port, user, password, dbname))
	if err != nil {
		return nil, err
	}

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := initTables(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &PostgreSQL{db: db}, nil
}

// initTables 初始化数据库表结构，与 GORM 版本共用同一张表
func initTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
        CREATE TABLE IF NOT EXISTS session_records (
            id VARCHAR(36) PRIMARY KEY,
            conn_id TEXT NOT NULL,
            role VARCHAR(16) NOT NULL,
            connected_at TIMESTAMPTZ NOT NULL,
            disconnected_at TIMESTAMPTZ NOT NULL,
            messages_received BIGINT DEFAULT 0,
            malformed_messages BIGINT DEFAULT 0,
            actions_applied BIGINT DEFAULT 0,
            created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
        )
    `)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
        CREATE INDEX IF NOT EXISTS idx_session_records_conn_id ON session_records(conn_id);
        CREATE INDEX IF NOT EXISTS idx_session_records_disconnected_at ON session_records(disconnected_at);
    `)
	return err
}

const selectSessionColumns = `SELECT id, conn_id, role, connected_at, disconnected_at,
        messages_received, malformed_messages, actions_applied FROM session_records`

func (p *PostgreSQL) SaveSession(ctx context.Context, record *models.SessionRecord) error {
	query := `
        INSERT INTO session_records
            (id, conn_id, role, connected_at, disconnected_at, messages_received, malformed_messages, actions_applied)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
    `
	_, err := p.db.ExecContext(ctx, query,
		record.ID,
		record.ConnID,
		record.Role,
		record.ConnectedAt,
		record.DisconnectedAt,
		record.MessagesReceived,
		record.MalformedMessages,
		record.ActionsApplied)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (models.SessionRecord, error) {
	var r models.SessionRecord
	err := row.Scan(&r.ID, &r.ConnID, &r.Role, &r.ConnectedAt, &r.DisconnectedAt,
		&r.MessagesReceived, &r.MalformedMessages, &r.ActionsApplied)
	return r, err
}

func (p *PostgreSQL) LoadSession(ctx context.Context, id string) (*models.SessionRecord, error) {
	r, err := scanSession(p.db.QueryRowContext(ctx, selectSessionColumns+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &r, nil
}

func (p *PostgreSQL) RecentSessions(ctx context.Context, limit int) ([]models.SessionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, selectSessionColumns+` ORDER BY disconnected_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []models.SessionRecord
	for rows.Next() {
		r, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// Close 关闭数据库连接
func (p *PostgreSQL) Close() error {
	return p.db.Close()
}
