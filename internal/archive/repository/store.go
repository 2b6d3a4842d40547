// Package repository 数据库无关的消息归档存储层
//
// 通过 dbutil.Dialect 接口屏蔽不同数据库的 SQL 差异，
// 所有 SQL 以 PostgreSQL 风格编写，运行时由 Dialect.Rebind() 转换。
package repository

import (
	"context"
	"database/sql"
	"strings"

	"session-keeper/internal/archive"
	"session-keeper/internal/archive/dbutil"
	"session-keeper/internal/shared/model"
)

// defaultListLimit 未指定 limit 时的单页条数
const defaultListLimit = 100

// Store 消息归档存储实现
// 实现了 archive.Store 接口
type Store struct {
	db      *sql.DB
	dialect dbutil.Dialect
}

// NewStore 创建归档存储
func NewStore(db *sql.DB, dialect dbutil.Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	return s.db.Close()
}

// DB 返回底层数据库连接（仅用于测试）
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect 返回当前方言
func (s *Store) Dialect() dbutil.Dialect {
	return s.dialect
}

// rebind 快捷方法：将 PG 风格 SQL 转换为当前方言
func (s *Store) rebind(query string) string {
	return s.dialect.Rebind(query)
}

// SaveMessage 实现 archive.Store
func (s *Store) SaveMessage(ctx context.Context, msg *model.Message) error {
	accountKey := strings.ToLower(strings.TrimSpace(msg.AccountID))

	if s.dialect.DriverType() == dbutil.DriverPostgres {
		query := `INSERT INTO messages (account_id, sender, body, received_at) VALUES ($1, $2, $3, $4) RETURNING id`
		return s.db.QueryRowContext(ctx, query,
			accountKey, msg.Sender, msg.Body, msg.ReceivedAt).Scan(&msg.ID)
	}

	query := s.rebind(`INSERT INTO messages (account_id, sender, body, received_at) VALUES ($1, $2, $3, $4)`)
	res, err := s.db.ExecContext(ctx, query, accountKey, msg.Sender, msg.Body, msg.ReceivedAt)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	msg.ID = id
	return nil
}

// ListMessages 实现 archive.Store
func (s *Store) ListMessages(ctx context.Context, accountID string, limit, offset int) ([]*model.Message, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	var (
		rows *sql.Rows
		err  error
	)
	if accountID == "" {
		query := s.rebind(`SELECT id, account_id, sender, body, received_at
			  FROM messages ORDER BY received_at DESC, id DESC LIMIT $1 OFFSET $2`)
		rows, err = s.db.QueryContext(ctx, query, limit, offset)
	} else {
		query := s.rebind(`SELECT id, account_id, sender, body, received_at
			  FROM messages WHERE account_id = $1 ORDER BY received_at DESC, id DESC LIMIT $2 OFFSET $3`)
		rows, err = s.db.QueryContext(ctx, query, strings.ToLower(strings.TrimSpace(accountID)), limit, offset)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*model.Message
	for rows.Next() {
		m := &model.Message{}
		if err := rows.Scan(&m.ID, &m.AccountID, &m.Sender, &m.Body, &m.ReceivedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// CountMessages 实现 archive.Store
func (s *Store) CountMessages(ctx context.Context, accountID string) (int, error) {
	var cnt int
	if accountID == "" {
		query := s.rebind(`SELECT COUNT(1) FROM messages`)
		if err := s.db.QueryRowContext(ctx, query).Scan(&cnt); err != nil {
			return 0, err
		}
		return cnt, nil
	}

	query := s.rebind(`SELECT COUNT(1) FROM messages WHERE account_id = $1`)
	if err := s.db.QueryRowContext(ctx, query, strings.ToLower(strings.TrimSpace(accountID))).Scan(&cnt); err != nil {
		return 0, err
	}
	return cnt, nil
}

// DeleteMessages 实现 archive.Store
func (s *Store) DeleteMessages(ctx context.Context, accountID string) (int64, error) {
	query := s.rebind(`DELETE FROM messages WHERE account_id = $1`)
	res, err := s.db.ExecContext(ctx, query, strings.ToLower(strings.TrimSpace(accountID)))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// 确保 Store 实现了 archive.Store 接口
var _ archive.Store = (*Store)(nil)
