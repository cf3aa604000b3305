package imap

import (
	"errors"
	"fmt"
)

// 使用错误：调用方在错误的会话状态下发出命令。这些错误总是立即返回，
// 不会排队也不会阻塞。
var (
	ErrAlreadyConnected = errors.New("imap: 已经连接，请先断开")
	ErrNotConnected     = errors.New("imap: 尚未连接")
	ErrNotAuthenticated = errors.New("imap: 尚未认证")
	ErrIdling           = errors.New("imap: 会话处于 IDLE 状态，请先停止 IDLE")
	ErrSessionBroken    = errors.New("imap: 会话已损坏，必须重新登录")
)

// ParseError 表示无法解析的服务器响应。
//
// 它只影响触发它的那一条命令，引擎随后仍然可用。
type ParseError struct {
	Command string // 命令名称
	Line    string // 出错的原始响应行，可能为空
	Err     error
}

var _ error = (*ParseError)(nil)

func (err *ParseError) Error() string {
	if err.Line == "" {
		return fmt.Sprintf("imap: 解析 %v 响应失败: %v", err.Command, err.Err)
	}
	return fmt.Sprintf("imap: 解析 %v 响应失败: %v (行 %q)", err.Command, err.Err, err.Line)
}

func (err *ParseError) Unwrap() error {
	return err.Err
}

// TransportError 表示连接、读写或 TLS 握手失败。
//
// 发生传输错误后连接已关闭，不会自动重试。
type TransportError struct {
	Op  string // "dial"、"write"、"read"、"handshake" 等
	Err error
}

var _ error = (*TransportError)(nil)

func (err *TransportError) Error() string {
	return fmt.Sprintf("imap: 传输错误 (%v): %v", err.Op, err.Err)
}

func (err *TransportError) Unwrap() error {
	return err.Err
}

// IsTransportError 报告 err 链中是否包含 *TransportError。
func IsTransportError(err error) bool {
	var transportErr *TransportError
	return errors.As(err, &transportErr)
}
