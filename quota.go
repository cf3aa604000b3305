package imap

// QuotaResourceType 表示 QUOTA 资源类型。
//
// 参见 RFC 9208 第 5 节。
type QuotaResourceType string

const (
	QuotaResourceStorage QuotaResourceType = "STORAGE" // 以 KiB 计的存储空间
	QuotaResourceMessage QuotaResourceType = "MESSAGE" // 消息数量
)

// QuotaInfo 是 GETQUOTAROOT 返回的邮箱配额。
//
// 服务器不支持 QUOTA 或邮箱没有配额根时 Enabled 为 false。
type QuotaInfo struct {
	Enabled bool
	Root    string
	Usage   int64 // STORAGE 资源的已用量
	Limit   int64 // STORAGE 资源的上限

	Resources map[QuotaResourceType]QuotaResource
}

// QuotaResource 是某一资源的用量与上限。
type QuotaResource struct {
	Usage int64
	Limit int64
}
