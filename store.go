package imap

import (
	"strings"
)

// FlagsList 是一条消息的标志列表。
type FlagsList []Flag

// Has 报告列表中是否包含标志 f，比较时不区分大小写。
func (fl FlagsList) Has(f Flag) bool {
	for _, flag := range fl {
		if strings.EqualFold(string(flag), string(f)) {
			return true
		}
	}
	return false
}

// MessageFlags 关联一条消息的 UID 与其标志。
type MessageFlags struct {
	UID   UID
	Flags FlagsList
}

// StoreFlagsOp 是标志操作：设置、添加或删除。
type StoreFlagsOp int

const (
	StoreFlagsSet StoreFlagsOp = iota // 设置标志
	StoreFlagsAdd                     // 添加标志
	StoreFlagsDel                     // 删除标志
)

// StoreFlags 修改消息标志。
type StoreFlags struct {
	Op     StoreFlagsOp // 操作类型
	Silent bool         // 是否静默操作
	Flags  []Flag       // 要修改的标志
}

// Item 返回 STORE 数据项名称，例如 "+FLAGS.SILENT"。
func (sf *StoreFlags) Item() string {
	var item string
	switch sf.Op {
	case StoreFlagsAdd:
		item = "+FLAGS"
	case StoreFlagsDel:
		item = "-FLAGS"
	default:
		item = "FLAGS"
	}
	if sf.Silent {
		item += ".SILENT"
	}
	return item
}
