package imap

// NamespaceInfo 是 NAMESPACE 命令返回的数据。
type NamespaceInfo struct {
	Personal []NamespaceDescriptor // 用户个人命名空间
	Other    []NamespaceDescriptor // 其他用户的命名空间
	Shared   []NamespaceDescriptor // 共享命名空间
}

// NamespaceDescriptor 描述一个命名空间。
type NamespaceDescriptor struct {
	Prefix string // 命名空间的前缀
	Delim  rune   // 命名空间的分隔符
}
