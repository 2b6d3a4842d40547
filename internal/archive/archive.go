// Package archive 消息归档存储的接口边界
//
// settings.saveMessages 开启时，编排器把收到的平台消息写入归档库。
// 存储实现与数据库解耦：
//   - repository/: 数据库无关的业务逻辑（SQL 以 PostgreSQL 风格编写）
//   - dbutil/: 方言抽象
//   - driver/sqlite, driver/postgres: 连接管理与方言实现
//
// 默认 SQLite（零部署），生产可切 PostgreSQL。
package archive

import (
	"context"
	"errors"

	"session-keeper/internal/shared/model"
)

// ErrNotFound 查询对象不存在
var ErrNotFound = errors.New("archive: not found")

// Store 消息归档存储接口
type Store interface {
	// SaveMessage 归档一条消息，成功后回填自增 ID
	SaveMessage(ctx context.Context, msg *model.Message) error

	// ListMessages 按账号查询消息（时间倒序），accountID 为空查询全部
	ListMessages(ctx context.Context, accountID string, limit, offset int) ([]*model.Message, error)

	// CountMessages 统计消息数，accountID 为空统计全部
	CountMessages(ctx context.Context, accountID string) (int, error)

	// DeleteMessages 删除账号的全部归档消息，返回删除条数
	DeleteMessages(ctx context.Context, accountID string) (int64, error)

	// Close 关闭底层连接
	Close() error
}
