package imap

import (
	"time"
)

// AppendOptions 包含 APPEND 命令的选项。
type AppendOptions struct {
	Flags []Flag    // 消息的初始标志
	Time  time.Time // 内部日期，为零时由服务器决定
}

// AppendData 是 APPEND 命令返回的数据。
type AppendData struct {
	UID         UID    // 要求支持 UIDPLUS
	UIDValidity uint32
}
