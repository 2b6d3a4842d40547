// Package keeper 定义编排层领域错误
package keeper

import "errors"

// 操作员命令的可判定错误，API 层据此映射 HTTP 状态码
var (
	// ErrUnknownAccount 凭据文件中不存在该账号
	ErrUnknownAccount = errors.New("keeper: unknown account")

	// ErrSessionBusy 会话正在连接或保活中，不能重复 Start
	ErrSessionBusy = errors.New("keeper: session already in flight")

	// ErrNotInFlight 会话未在运行，Stop 无事可做
	ErrNotInFlight = errors.New("keeper: session not running")

	// ErrNoChallenge 会话不在认证中，没有待应答的质询
	ErrNoChallenge = errors.New("keeper: session not awaiting challenge")

	// ErrChallengeRejected 网关拒绝了提交的质询应答（验证码错误等）
	ErrChallengeRejected = errors.New("keeper: challenge rejected")

	// ErrNotActive 会话不在线，无法执行平台命令
	ErrNotActive = errors.New("keeper: session not active")

	// ErrShuttingDown 编排器正在关闭，拒绝新命令
	ErrShuttingDown = errors.New("keeper: registry shutting down")
)

// 内部控制流哨兵
var (
	// errSuperseded 连接尝试被更新的命令（Stop/Start/Close）取代
	errSuperseded = errors.New("keeper: attempt superseded")

	// errCredentials 凭据解析失败（解密失败等），按终端性错误处理
	errCredentials = errors.New("keeper: credentials unavailable")
)
