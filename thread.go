package imap

// ThreadAlgorithm 表示一个线程算法。
type ThreadAlgorithm string

const (
	ThreadOrderedSubject ThreadAlgorithm = "ORDEREDSUBJECT" // 有序主题算法
	ThreadReferences     ThreadAlgorithm = "REFERENCES"     // 引用算法
)

// MailThread 是 THREAD 响应中的一个会话树。
//
// UIDs 是树根开始的线性部分，Children 是随后的分支。
type MailThread struct {
	UIDs     []UID
	Children []*MailThread
}

// AllUIDs 以深度优先顺序返回线程中的全部 UID。
func (t *MailThread) AllUIDs() []UID {
	uids := append([]UID(nil), t.UIDs...)
	for _, child := range t.Children {
		uids = append(uids, child.AllUIDs()...)
	}
	return uids
}
