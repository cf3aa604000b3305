// Package imap 包含 minig 客户端共享的 IMAP 协议类型。
//
// 协议本身在 RFC 3501 中定义。命令执行引擎位于 imapclient 子包，
// ManageSieve 客户端位于 sieveclient 子包。
package imap

import (
	"fmt"
)

// ConnState 描述会话的连接状态。
//
// 请参见 RFC 3501 第 3 节。
type ConnState int

const (
	ConnStateNone             ConnState = iota // 尚未连接
	ConnStateNotAuthenticated                  // 未认证
	ConnStateAuthenticated                     // 已认证
	ConnStateSelected                          // 已选择
	ConnStateLogout                            // 登出
)

// String 实现 fmt.Stringer 接口。
func (state ConnState) String() string {
	switch state {
	case ConnStateNone:
		return "none"
	case ConnStateNotAuthenticated:
		return "not authenticated"
	case ConnStateAuthenticated:
		return "authenticated"
	case ConnStateSelected:
		return "selected"
	case ConnStateLogout:
		return "logout"
	default:
		panic(fmt.Errorf("imap: 未知的连接状态 %v", int(state)))
	}
}

// MailboxAttr 是邮箱属性。
//
// 邮箱属性在 RFC 3501 第 7.2.2 节中定义。
type MailboxAttr string

const (
	MailboxAttrNoInferiors   MailboxAttr = "\\Noinferiors"   // 无下级
	MailboxAttrNoSelect      MailboxAttr = "\\Noselect"      // 不可选择
	MailboxAttrNonExistent   MailboxAttr = "\\NonExistent"   // 不存在
	MailboxAttrHasChildren   MailboxAttr = "\\HasChildren"   // 有子项
	MailboxAttrHasNoChildren MailboxAttr = "\\HasNoChildren" // 无子项
	MailboxAttrMarked        MailboxAttr = "\\Marked"        // 已标记
	MailboxAttrUnmarked      MailboxAttr = "\\Unmarked"      // 未标记
)

// Flag 是消息标志。
type Flag string

const (
	FlagSeen     Flag = "\\Seen"     // 已读
	FlagAnswered Flag = "\\Answered" // 已回复
	FlagFlagged  Flag = "\\Flagged"  // 已标记
	FlagDeleted  Flag = "\\Deleted"  // 已删除
	FlagDraft    Flag = "\\Draft"    // 草稿
	FlagRecent   Flag = "\\Recent"   // 最近到达

	FlagForwarded Flag = "$Forwarded" // 已转发
	FlagJunk      Flag = "$Junk"      // 垃圾
	FlagNotJunk   Flag = "$NotJunk"   // 非垃圾
)

// UID 是消息的唯一标识符。
type UID uint32
