package imapclient_test

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/luhaoyun888/go-minig"
)

func TestListAll(t *testing.T) {
	s := newMockServer(t, replyOK(`LIST "" "*"`,
		`* LIST (\HasNoChildren) "/" INBOX`,
		`* LIST (\Noselect \HasChildren) "/" "Archive"`,
		`* LIST (\HasNoChildren) "/" "Archive/2024"`,
		`* LIST (\HasNoChildren) "/" "&ZeVnLIqe-"`,
	))
	client := newTestClient(t, s, nil)

	result, err := client.ListAll(context.Background(), "", "*")
	if err != nil {
		t.Fatalf("ListAll() = %v", err)
	}
	if result.Delimiter != '/' {
		t.Errorf("Delimiter = %q, want '/'", result.Delimiter)
	}
	want := []string{"INBOX", "Archive", "Archive/2024", "日本語"}
	if names := result.Names(); !reflect.DeepEqual(names, want) {
		t.Errorf("Names() = %v, want %v", names, want)
	}
	if archive := result.Find("Archive"); archive == nil || archive.Selectable {
		t.Errorf("Find(Archive) = %+v, want non-selectable", archive)
	}
	if inbox := result.Find("INBOX"); inbox == nil || !inbox.Selectable {
		t.Errorf("Find(INBOX) = %+v, want selectable", inbox)
	}
}

func TestListSubscribed(t *testing.T) {
	s := newMockServer(t, replyOK(`LSUB "" "%"`,
		`* LSUB () "." INBOX`,
		`* LSUB () "." "Sent"`,
	))
	client := newTestClient(t, s, nil)

	result, err := client.ListSubscribed(context.Background(), "", "%")
	if err != nil {
		t.Fatalf("ListSubscribed() = %v", err)
	}
	if want := []string{"INBOX", "Sent"}; !reflect.DeepEqual(result.Names(), want) {
		t.Errorf("Names() = %v, want %v", result.Names(), want)
	}
	if result.Delimiter != '.' {
		t.Errorf("Delimiter = %q", result.Delimiter)
	}
}

func TestMailboxManagement(t *testing.T) {
	s := newMockServer(t, func(c *serverConn, tag, cmd string) bool {
		name, _, _ := strings.Cut(cmd, " ")
		switch name {
		case "CREATE", "RENAME", "DELETE", "SUBSCRIBE", "UNSUBSCRIBE":
			c.writeLine("%v OK %v completed", tag, name)
			return true
		}
		return false
	})
	client := newTestClient(t, s, nil)
	ctx := context.Background()

	if err := client.Create(ctx, "Projects"); err != nil {
		t.Fatalf("Create() = %v", err)
	}
	if err := client.Rename(ctx, "Projects", "工作"); err != nil {
		t.Fatalf("Rename() = %v", err)
	}
	if err := client.Subscribe(ctx, "工作"); err != nil {
		t.Fatalf("Subscribe() = %v", err)
	}
	if err := client.Unsubscribe(ctx, "工作"); err != nil {
		t.Fatalf("Unsubscribe() = %v", err)
	}
	if err := client.Delete(ctx, "工作"); err != nil {
		t.Fatalf("Delete() = %v", err)
	}

	want := []string{
		`CREATE "Projects"`,
		`RENAME "Projects" "&XeVPXA-"`,
		`SUBSCRIBE "&XeVPXA-"`,
		`UNSUBSCRIBE "&XeVPXA-"`,
		`DELETE "&XeVPXA-"`,
	}
	if got := s.Commands()[1:]; !reflect.DeepEqual(got, want) {
		t.Errorf("commands = %q, want %q", got, want)
	}
}

func TestSelect(t *testing.T) {
	s := newMockServer(t, func(c *serverConn, tag, cmd string) bool {
		switch cmd {
		case "SELECT INBOX", "EXAMINE INBOX":
			c.writeLine("* 172 EXISTS")
			c.writeLine("* 1 RECENT")
			c.writeLine("* OK [UNSEEN 12] Message 12 is first unseen")
			c.writeLine("* OK [UIDVALIDITY 3857529045] UIDs valid")
			c.writeLine("* OK [UIDNEXT 4392] Predicted next UID")
			c.writeLine(`* FLAGS (\Answered \Flagged \Deleted \Seen \Draft)`)
			c.writeLine(`* OK [PERMANENTFLAGS (\Deleted \Seen \*)] Limited`)
			if strings.HasPrefix(cmd, "EXAMINE") {
				c.writeLine("%v OK [READ-ONLY] EXAMINE completed", tag)
			} else {
				c.writeLine("%v OK [READ-WRITE] SELECT completed", tag)
			}
			return true
		case "SELECT Missing":
			c.writeLine("%v NO [NONEXISTENT] no such mailbox", tag)
			return true
		}
		return false
	})
	client := newTestClient(t, s, nil)
	ctx := context.Background()

	data, err := client.Select(ctx, "INBOX")
	if err != nil {
		t.Fatalf("Select() = %v", err)
	}
	want := &imap.SelectData{
		Flags:          []imap.Flag{imap.FlagAnswered, imap.FlagFlagged, imap.FlagDeleted, imap.FlagSeen, imap.FlagDraft},
		PermanentFlags: []imap.Flag{imap.FlagDeleted, imap.FlagSeen, imap.Flag(`\*`)},
		NumMessages:    172,
		NumRecent:      1,
		UIDNext:        4392,
		UIDValidity:    3857529045,
	}
	if !reflect.DeepEqual(data, want) {
		t.Errorf("Select() = %+v, want %+v", data, want)
	}
	if client.Mailbox() != "INBOX" || client.State() != imap.ConnStateSelected {
		t.Errorf("Mailbox() = %q, State() = %v", client.Mailbox(), client.State())
	}

	data, err = client.Examine(ctx, "INBOX")
	if err != nil {
		t.Fatalf("Examine() = %v", err)
	}
	if !data.ReadOnly {
		t.Errorf("Examine() ReadOnly = false")
	}

	_, err = client.Select(ctx, "Missing")
	var imapErr *imap.Error
	if !errors.As(err, &imapErr) || imapErr.Code != "NONEXISTENT" {
		t.Fatalf("Select(Missing) = %v", err)
	}
	if client.Mailbox() != "" {
		t.Errorf("Mailbox() = %q after failed SELECT", client.Mailbox())
	}
}

func TestNamespace(t *testing.T) {
	s := newMockServer(t, replyOK("NAMESPACE", `* NAMESPACE (("" "/")) (("~" "/")) NIL`))
	client := newTestClient(t, s, nil)

	info, err := client.Namespace(context.Background())
	if err != nil {
		t.Fatalf("Namespace() = %v", err)
	}
	want := &imap.NamespaceInfo{
		Personal: []imap.NamespaceDescriptor{{Prefix: "", Delim: '/'}},
		Other:    []imap.NamespaceDescriptor{{Prefix: "~", Delim: '/'}},
	}
	if !reflect.DeepEqual(info, want) {
		t.Errorf("Namespace() = %+v, want %+v", info, want)
	}
}

func TestStatus(t *testing.T) {
	s := newMockServer(t, replyOK(`STATUS "&ZeVnLIqe-" (MESSAGES UIDNEXT UNSEEN)`,
		`* STATUS "&ZeVnLIqe-" (MESSAGES 231 UIDNEXT 44292 UNSEEN 3)`,
	))
	client := newTestClient(t, s, nil)

	data, err := client.Status(context.Background(), "日本語", &imap.StatusOptions{
		NumMessages: true,
		UIDNext:     true,
		NumUnseen:   true,
	})
	if err != nil {
		t.Fatalf("Status() = %v", err)
	}
	if data.Mailbox != "日本語" {
		t.Errorf("Mailbox = %q, want %q", data.Mailbox, "日本語")
	}
	if data.NumMessages == nil || *data.NumMessages != 231 {
		t.Errorf("NumMessages = %v, want 231", data.NumMessages)
	}
	if data.NumUnseen == nil || *data.NumUnseen != 3 {
		t.Errorf("NumUnseen = %v, want 3", data.NumUnseen)
	}
	if data.UIDNext != 44292 {
		t.Errorf("UIDNext = %v, want 44292", data.UIDNext)
	}
	if data.NumRecent != nil {
		t.Errorf("NumRecent = %v, want nil", *data.NumRecent)
	}
}

func TestQuota(t *testing.T) {
	s := newMockServer(t, replyOK("GETQUOTAROOT INBOX",
		`* QUOTAROOT INBOX ""`,
		`* QUOTA "" (STORAGE 10 512 MESSAGE 3 100)`,
	))
	client := newTestClient(t, s, nil)

	info, err := client.Quota(context.Background(), "INBOX")
	if err != nil {
		t.Fatalf("Quota() = %v", err)
	}
	if !info.Enabled || info.Root != "" || info.Usage != 10 || info.Limit != 512 {
		t.Errorf("Quota() = %+v", info)
	}
	if res := info.Resources[imap.QuotaResourceMessage]; res.Usage != 3 || res.Limit != 100 {
		t.Errorf("MESSAGE resource = %+v", res)
	}
}

func TestQuota_Unsupported(t *testing.T) {
	s := newMockServer(t, nil)
	s.caps = "IMAP4rev1 IDLE"
	client := newTestClient(t, s, nil)

	info, err := client.Quota(context.Background(), "INBOX")
	if err != nil {
		t.Fatalf("Quota() = %v", err)
	}
	if info.Enabled {
		t.Errorf("Quota() = %+v, want disabled", info)
	}
	if s.hasCommand("GETQUOTAROOT") {
		t.Errorf("GETQUOTAROOT sent without QUOTA capability")
	}
}

func TestUIDSearch(t *testing.T) {
	since := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		criteria *imap.SearchCriteria
		cmd      string
	}{
		{nil, "UID SEARCH ALL"},
		{
			&imap.SearchCriteria{
				Since:   since,
				Header:  []imap.SearchCriteriaHeaderField{{Key: "From", Value: "alice"}},
				NotFlag: []imap.Flag{imap.FlagSeen},
			},
			`UID SEARCH SINCE 2-Jan-2024 FROM "alice" UNSEEN`,
		},
		{
			&imap.SearchCriteria{
				Header: []imap.SearchCriteriaHeaderField{{Key: "X-Priority", Value: "1"}},
				Flag:   []imap.Flag{"$Important"},
				Not:    []imap.SearchCriteria{{Body: []string{"spam"}}},
			},
			`UID SEARCH HEADER "X-Priority" "1" KEYWORD $Important NOT (BODY "spam")`,
		},
		{
			&imap.SearchCriteria{Body: []string{"日本"}},
			"UID SEARCH CHARSET UTF-8 BODY {6+}\r\n日本",
		},
	}

	for _, tc := range tests {
		t.Run(tc.cmd, func(t *testing.T) {
			s := newMockServer(t, replyOK("UID SEARCH", "* SEARCH 9 3 5"))
			client := newTestClient(t, s, nil)

			uids, err := client.UIDSearch(context.Background(), tc.criteria)
			if err != nil {
				t.Fatalf("UIDSearch() = %v", err)
			}
			if want := []imap.UID{3, 5, 9}; !reflect.DeepEqual(uids, want) {
				t.Errorf("UIDSearch() = %v, want %v", uids, want)
			}
			if cmds := s.Commands(); cmds[len(cmds)-1] != tc.cmd {
				t.Errorf("command = %q, want %q", cmds[len(cmds)-1], tc.cmd)
			}
		})
	}
}

func TestUIDSearch_Empty(t *testing.T) {
	s := newMockServer(t, replyOK("UID SEARCH", "* SEARCH"))
	client := newTestClient(t, s, nil)

	uids, err := client.UIDSearch(context.Background(), nil)
	if err != nil {
		t.Fatalf("UIDSearch() = %v", err)
	}
	if len(uids) != 0 {
		t.Errorf("UIDSearch() = %v, want none", uids)
	}
}

func TestUIDStore(t *testing.T) {
	s := newMockServer(t, func(c *serverConn, tag, cmd string) bool {
		switch cmd {
		case `UID STORE 1,3 +FLAGS.SILENT (\Seen)`, `UID STORE 2 -FLAGS.SILENT (\Deleted)`:
			c.writeLine("%v OK STORE completed", tag)
			return true
		case `UID STORE 4 FLAGS (\Flagged)`:
			c.writeLine(`* 2 FETCH (UID 4 FLAGS (\Flagged))`)
			c.writeLine("%v OK STORE completed", tag)
			return true
		}
		return false
	})
	client := newTestClient(t, s, nil)
	ctx := context.Background()

	if err := client.UIDStore(ctx, imap.UIDSetNum(1, 3), imap.FlagsList{imap.FlagSeen}, true); err != nil {
		t.Errorf("UIDStore(set) = %v", err)
	}
	if err := client.UIDStore(ctx, imap.UIDSetNum(2), imap.FlagsList{imap.FlagDeleted}, false); err != nil {
		t.Errorf("UIDStore(unset) = %v", err)
	}
	result, err := client.UIDStoreFlags(ctx, imap.UIDSetNum(4), &imap.StoreFlags{
		Op:    imap.StoreFlagsSet,
		Flags: []imap.Flag{imap.FlagFlagged},
	})
	if err != nil {
		t.Fatalf("UIDStoreFlags() = %v", err)
	}
	want := []imap.MessageFlags{{UID: 4, Flags: imap.FlagsList{imap.FlagFlagged}}}
	if !reflect.DeepEqual(result, want) {
		t.Errorf("UIDStoreFlags() = %+v, want %+v", result, want)
	}
}

func TestUIDCopy(t *testing.T) {
	s := newMockServer(t, func(c *serverConn, tag, cmd string) bool {
		switch cmd {
		case `UID COPY 1:3 "Archive"`:
			c.writeLine("%v OK [COPYUID 38505 1:3 100:102] COPY completed", tag)
			return true
		case `UID COPY 7 "Old"`:
			c.writeLine("%v OK COPY completed", tag)
			return true
		}
		return false
	})
	client := newTestClient(t, s, nil)
	ctx := context.Background()

	uids, err := client.UIDCopy(ctx, imap.UIDSet{{Start: 1, Stop: 3}}, "Archive")
	if err != nil {
		t.Fatalf("UIDCopy() = %v", err)
	}
	if want := []imap.UID{100, 101, 102}; !reflect.DeepEqual(uids, want) {
		t.Errorf("UIDCopy() = %v, want %v", uids, want)
	}

	uids, err = client.UIDCopy(ctx, imap.UIDSetNum(7), "Old")
	if err != nil {
		t.Fatalf("UIDCopy() without UIDPLUS = %v", err)
	}
	if len(uids) != 0 {
		t.Errorf("UIDCopy() without UIDPLUS = %v, want none", uids)
	}
}

func TestExpunge(t *testing.T) {
	s := newMockServer(t, replyOK("EXPUNGE", "* 3 EXPUNGE", "* 3 EXPUNGE", "* 5 EXPUNGE"))
	client := newTestClient(t, s, nil)

	seqNums, err := client.ExpungeSeqNums(context.Background())
	if err != nil {
		t.Fatalf("ExpungeSeqNums() = %v", err)
	}
	if want := []uint32{3, 3, 5}; !reflect.DeepEqual(seqNums, want) {
		t.Errorf("ExpungeSeqNums() = %v, want %v", seqNums, want)
	}
	if err := client.Expunge(context.Background()); err != nil {
		t.Errorf("Expunge() = %v", err)
	}
}

func TestAppend(t *testing.T) {
	date := time.Date(2024, 1, 12, 10, 0, 0, 0, time.UTC)
	for _, literalPlus := range []bool{true, false} {
		t.Run(fmt.Sprintf("LITERAL+=%v", literalPlus), func(t *testing.T) {
			s := newMockServer(t, func(c *serverConn, tag, cmd string) bool {
				if !strings.HasPrefix(cmd, "APPEND") {
					return false
				}
				c.writeLine("%v OK [APPENDUID 38505 3955] APPEND completed", tag)
				return true
			})
			plus := ""
			if literalPlus {
				plus = "+"
			} else {
				s.caps = "IMAP4rev1 UIDPLUS"
			}
			client := newTestClient(t, s, nil)

			data, err := client.AppendWithOptions(context.Background(), "INBOX", strings.NewReader(simpleRawMessage), &imap.AppendOptions{
				Flags: []imap.Flag{imap.FlagSeen},
				Time:  date,
			})
			if err != nil {
				t.Fatalf("AppendWithOptions() = %v", err)
			}
			if data.UID != 3955 || data.UIDValidity != 38505 {
				t.Errorf("AppendWithOptions() = %+v", data)
			}

			want := fmt.Sprintf(`APPEND INBOX (\Seen) "12-Jan-2024 10:00:00 +0000" {%v%v}`+"\r\n%v", len(simpleRawMessage), plus, simpleRawMessage)
			if cmds := s.Commands(); cmds[len(cmds)-1] != want {
				t.Errorf("command = %q, want %q", cmds[len(cmds)-1], want)
			}
		})
	}
}

func TestAppend_NoUIDPlus(t *testing.T) {
	s := newMockServer(t, replyOK("APPEND"))
	client := newTestClient(t, s, nil)

	uid, err := client.Append(context.Background(), "Drafts", strings.NewReader(simpleRawMessage), nil)
	if err != nil {
		t.Fatalf("Append() = %v", err)
	}
	if uid != 0 {
		t.Errorf("Append() = %v, want 0", uid)
	}
}

func TestUIDThreads(t *testing.T) {
	s := newMockServer(t, replyOK("UID THREAD", "* THREAD (2)(3 6 (4 23)(44 7 96))"))
	client := newTestClient(t, s, nil)

	threads, err := client.UIDThreads(context.Background())
	if err != nil {
		t.Fatalf("UIDThreads() = %v", err)
	}
	want := []*imap.MailThread{
		{UIDs: []imap.UID{2}},
		{
			UIDs: []imap.UID{3, 6},
			Children: []*imap.MailThread{
				{UIDs: []imap.UID{4, 23}},
				{UIDs: []imap.UID{44, 7, 96}},
			},
		},
	}
	if !reflect.DeepEqual(threads, want) {
		t.Errorf("UIDThreads() = %v, want %v", threads, want)
	}
	if !s.hasCommand("UID THREAD REFERENCES UTF-8 UNDELETED") {
		t.Errorf("commands = %q", s.Commands())
	}
}
