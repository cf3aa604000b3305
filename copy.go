package imap

// CopyData 是 COPY 命令返回的数据。
type CopyData struct {
	UIDValidity uint32 // 要求支持 UIDPLUS
	SourceUIDs  UIDSet // 被复制邮件的 UID
	DestUIDs    UIDSet // 复制后邮件在目标邮箱中的 UID
}
