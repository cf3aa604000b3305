package imapclient

import (
	"context"

	"github.com/luhaoyun888/go-minig"
	"github.com/luhaoyun888/go-minig/internal/imapwire"
)

// UIDStore 发送 UID STORE 命令。set 为 true 时添加 flags，否则删除 flags。
func (c *Client) UIDStore(ctx context.Context, uids imap.UIDSet, flags imap.FlagsList, set bool) error {
	op := imap.StoreFlagsDel
	if set {
		op = imap.StoreFlagsAdd
	}
	_, err := c.UIDStoreFlags(ctx, uids, &imap.StoreFlags{Op: op, Silent: true, Flags: flags})
	return err
}

// UIDStoreFlags 发送 UID STORE 命令，返回服务器报告的修改后的标志。
//
// store.Silent 为 true 时服务器不报告新标志，结果通常为空。
func (c *Client) UIDStoreFlags(ctx context.Context, uids imap.UIDSet, store *imap.StoreFlags) ([]imap.MessageFlags, error) {
	return execute(ctx, c, &storeCommand{uids: uids, store: store, options: &c.options})
}

type storeCommand struct {
	uids    imap.UIDSet
	store   *imap.StoreFlags
	options *Options
}

func (*storeCommand) name() string { return "UID STORE" }

func (cmd *storeCommand) encode(enc *imapwire.Encoder) {
	enc.SP().UIDSet(cmd.uids).SP().Atom(cmd.store.Item()).SP().FlagList(cmd.store.Flags)
}

func (cmd *storeCommand) parse(b *responseBatch) ([]imap.MessageFlags, error) {
	var result []imap.MessageFlags
	err := eachFetch(b, cmd.options, func(_ uint32, msg *fetchItems) {
		if msg.uid != 0 && msg.flags != nil {
			result = append(result, imap.MessageFlags{UID: msg.uid, Flags: msg.flags})
		}
	})
	return result, err
}
