package imapclient

import (
	"context"
	"strings"

	"github.com/luhaoyun888/go-minig"
	"github.com/luhaoyun888/go-minig/internal/imapwire"
)

// Quota 发送 GETQUOTAROOT 命令，返回 mailbox 所在配额根的用量与上限。
//
// 服务器不支持 QUOTA 时不发送命令，返回 Enabled 为 false 的结果。
func (c *Client) Quota(ctx context.Context, mailbox string) (*imap.QuotaInfo, error) {
	caps := c.Caps()
	if caps == nil {
		var err error
		if caps, err = c.Capabilities(ctx); err != nil {
			return nil, err
		}
	}
	if !caps.Has(imap.CapQuota) {
		return &imap.QuotaInfo{}, nil
	}
	return execute(ctx, c, &getQuotaRootCommand{mailbox: mailbox})
}

type getQuotaRootCommand struct {
	mailbox string
}

func (*getQuotaRootCommand) name() string { return "GETQUOTAROOT" }

func (cmd *getQuotaRootCommand) encode(enc *imapwire.Encoder) {
	enc.SP().Mailbox(cmd.mailbox)
}

func (*getQuotaRootCommand) parse(b *responseBatch) (*imap.QuotaInfo, error) {
	info := &imap.QuotaInfo{}

	var roots []string
	err := b.each("QUOTAROOT", func(_ uint32, dec *imapwire.Decoder) error {
		var mailbox string
		if !dec.ExpectSP() || !dec.ExpectMailbox(&mailbox) {
			return dec.Err()
		}
		for dec.SP() {
			var root string
			if !dec.ExpectAString(&root) {
				return dec.Err()
			}
			roots = append(roots, root)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	quotas := make(map[string]map[imap.QuotaResourceType]imap.QuotaResource)
	var order []string
	err = b.each("QUOTA", func(_ uint32, dec *imapwire.Decoder) error {
		var root string
		if !dec.ExpectSP() || !dec.ExpectAString(&root) || !dec.ExpectSP() {
			return dec.Err()
		}
		resources, err := readQuotaResources(dec)
		if err != nil {
			return err
		}
		if _, ok := quotas[root]; !ok {
			order = append(order, root)
		}
		quotas[root] = resources
		return nil
	})
	if err != nil {
		return nil, err
	}

	// 优先使用 QUOTAROOT 列出的第一个有数据的配额根
	for _, root := range append(roots, order...) {
		resources, ok := quotas[root]
		if !ok {
			continue
		}
		info.Enabled = true
		info.Root = root
		info.Resources = resources
		if storage, ok := resources[imap.QuotaResourceStorage]; ok {
			info.Usage = storage.Usage
			info.Limit = storage.Limit
		}
		break
	}
	return info, nil
}

// readQuotaResources 读取 "(STORAGE 10 512 MESSAGE 3 100)"。
func readQuotaResources(dec *imapwire.Decoder) (map[imap.QuotaResourceType]imap.QuotaResource, error) {
	resources := make(map[imap.QuotaResourceType]imap.QuotaResource)
	if !dec.ExpectSpecial('(') {
		return nil, dec.Err()
	}
	for i := 0; !dec.Special(')'); i++ {
		if i > 0 && !dec.ExpectSP() {
			return nil, dec.Err()
		}
		var (
			name string
			res  imap.QuotaResource
		)
		if !dec.ExpectAtom(&name) || !dec.ExpectSP() || !dec.ExpectNumber64(&res.Usage) || !dec.ExpectSP() || !dec.ExpectNumber64(&res.Limit) {
			return nil, dec.Err()
		}
		resources[imap.QuotaResourceType(strings.ToUpper(name))] = res
	}
	return resources, nil
}
