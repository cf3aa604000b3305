package imapclient

import (
	"context"
	"fmt"

	"github.com/luhaoyun888/go-minig"
	"github.com/luhaoyun888/go-minig/internal/imapwire"
)

// UIDThreads 发送 "UID THREAD REFERENCES UTF-8 UNDELETED"，返回当前邮箱中的会话树。
//
// 此命令需要支持 THREAD=REFERENCES 扩展（RFC 5256）。
func (c *Client) UIDThreads(ctx context.Context) ([]*imap.MailThread, error) {
	return c.UIDThread(ctx, imap.ThreadReferences, &imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagDeleted},
	})
}

// UIDThread 使用指定的算法和搜索条件发送 UID THREAD 命令。criteria 为 nil 时匹配所有消息。
func (c *Client) UIDThread(ctx context.Context, algorithm imap.ThreadAlgorithm, criteria *imap.SearchCriteria) ([]*imap.MailThread, error) {
	if criteria == nil {
		criteria = new(imap.SearchCriteria)
	}
	return execute(ctx, c, &threadCommand{algorithm: algorithm, criteria: criteria})
}

type threadCommand struct {
	algorithm imap.ThreadAlgorithm
	criteria  *imap.SearchCriteria
}

func (*threadCommand) name() string { return "UID THREAD" }

func (cmd *threadCommand) encode(enc *imapwire.Encoder) {
	enc.SP().Atom(string(cmd.algorithm)).SP().Atom("UTF-8").SP()
	writeSearchKey(enc, cmd.criteria)
}

func (*threadCommand) parse(b *responseBatch) ([]*imap.MailThread, error) {
	var threads []*imap.MailThread
	err := b.each("THREAD", func(_ uint32, dec *imapwire.Decoder) error {
		dec.SP()
		// 顶层的 thread-list 之间没有空格
		for dec.Special('(') {
			t, err := readThreadList(dec)
			if err != nil {
				return fmt.Errorf("在 thread-list 中: %v", err)
			}
			threads = append(threads, t)
		}
		if !dec.ExpectEOF() {
			return dec.Err()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return threads, nil
}

// readThreadList 读取 "(" 之后的 thread-list，直到对应的 ")"。
//
// 列表以若干 UID 开头，随后是零个或多个子列表，例如 "3 6 (4 23)(44 7 96))"。
func readThreadList(dec *imapwire.Decoder) (*imap.MailThread, error) {
	t := &imap.MailThread{}
	for {
		switch {
		case dec.Special(')'):
			return t, nil
		case dec.SP():
		case dec.Special('('):
			child, err := readThreadList(dec)
			if err != nil {
				return nil, err
			}
			t.Children = append(t.Children, child)
		default:
			var uid imap.UID
			if len(t.Children) > 0 {
				dec.Expect(false, "'(' 或 ')'")
				return nil, dec.Err()
			}
			if !dec.ExpectUID(&uid) {
				return nil, dec.Err()
			}
			t.UIDs = append(t.UIDs, uid)
		}
	}
}
