// Package model 定义核心数据模型
//
// message.go 包含消息归档相关的数据模型定义：
//   - Message：收到的平台消息（数据库存储）
package model

import "time"

// Message 表示某账号收到的一条平台消息
//
// 仅在 settings.saveMessages 开启时归档，字段说明：
//   - ID：自增主键
//   - AccountID：收信账号
//   - Sender：发信方标识
//   - Body：消息正文
//   - ReceivedAt：接收时间
type Message struct {
	ID         int64     `json:"id" db:"id"`
	AccountID  string    `json:"account_id" db:"account_id"`
	Sender     string    `json:"sender" db:"sender"`
	Body       string    `json:"body" db:"body"`
	ReceivedAt time.Time `json:"received_at" db:"received_at"`
}
