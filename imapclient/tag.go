package imapclient

import (
	"fmt"
)

// tagProducer 为命令生成 "T1"、"T2"…… 形式的标签。
//
// 计数器在 Client 的整个生命周期内递增，重新登录不会重置。它只在持有
// Client.gate 时使用，因此不需要自己的锁。
type tagProducer struct {
	n uint64
}

func (p *tagProducer) next() string {
	p.n++
	return fmt.Sprintf("T%v", p.n)
}
