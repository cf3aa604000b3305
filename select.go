package imap

// SelectData 是 SELECT 或 EXAMINE 命令返回的数据。
//
// 在旧的 RFC 2060 中，PermanentFlags、UIDNext 和 UIDValidity 是可选的。
type SelectData struct {
	Flags          []Flag // 此邮箱定义的标志
	PermanentFlags []Flag // 客户端可以永久更改的标志
	NumMessages    uint32 // 即 "EXISTS"
	NumRecent      uint32
	UIDNext        UID
	UIDValidity    uint32
	ReadOnly       bool
}
