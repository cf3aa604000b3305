package imap

// StatusOptions 选择 STATUS 命令要请求的数据项。
type StatusOptions struct {
	NumMessages bool // MESSAGES
	NumRecent   bool // RECENT
	UIDNext     bool // UIDNEXT
	UIDValidity bool // UIDVALIDITY
	NumUnseen   bool // UNSEEN
}

// Items 按固定顺序返回被选中的数据项名称。全部未选中时返回 MESSAGES。
func (options *StatusOptions) Items() []string {
	var items []string
	if options.NumMessages {
		items = append(items, "MESSAGES")
	}
	if options.NumRecent {
		items = append(items, "RECENT")
	}
	if options.UIDNext {
		items = append(items, "UIDNEXT")
	}
	if options.UIDValidity {
		items = append(items, "UIDVALIDITY")
	}
	if options.NumUnseen {
		items = append(items, "UNSEEN")
	}
	if len(items) == 0 {
		items = append(items, "MESSAGES")
	}
	return items
}

// StatusData 是 STATUS 命令返回的数据。
//
// 服务器未返回的数据项保持为 nil。
type StatusData struct {
	Mailbox string

	NumMessages *uint32
	NumRecent   *uint32
	UIDNext     UID
	UIDValidity uint32
	NumUnseen   *uint32
}
