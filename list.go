package imap

// ListInfo 描述 LIST 或 LSUB 返回的一个邮箱。
type ListInfo struct {
	Name       string        // 已解码的邮箱名称
	Selectable bool          // 不带 \Noselect 属性时为 true
	Attrs      []MailboxAttr // 原始属性列表
}

// HasAttr 报告邮箱是否带有属性 attr。
func (info *ListInfo) HasAttr(attr MailboxAttr) bool {
	for _, a := range info.Attrs {
		if equalFoldASCII(string(a), string(attr)) {
			return true
		}
	}
	return false
}

// ListResult 是 LIST 或 LSUB 命令的结果。
type ListResult struct {
	Delimiter rune // 层级分隔符，服务器未声明时为 0
	Infos     []ListInfo
}

// Names 返回所有邮箱名称。
func (r *ListResult) Names() []string {
	names := make([]string, len(r.Infos))
	for i, info := range r.Infos {
		names[i] = info.Name
	}
	return names
}

// Find 按名称查找邮箱。
func (r *ListResult) Find(name string) *ListInfo {
	for i := range r.Infos {
		if r.Infos[i].Name == name {
			return &r.Infos[i]
		}
	}
	return nil
}

func equalFoldASCII(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
