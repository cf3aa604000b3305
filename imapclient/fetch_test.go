package imapclient_test

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/luhaoyun888/go-minig"
)

const envelopeLine = `* 1 FETCH (UID 1 ENVELOPE ("Mon, 7 Feb 1994 21:52:25 -0800" "=?utf-8?q?Caf=C3=A9?=" (("Fred Foobar" NIL "foobar" "example.com")) (("Fred Foobar" NIL "foobar" "example.com")) NIL (("Joe Q. Public" NIL "john.q.public" "example.com")) NIL NIL "<prev@example.com>" "<B27397-0100000@example.com>"))`

const bodyStructureLine = `* 3 FETCH (UID 5 BODYSTRUCTURE (("TEXT" "PLAIN" ("CHARSET" "UTF-8") NIL NIL "QUOTED-PRINTABLE" 120 4 NIL NIL NIL NIL)("APPLICATION" "PDF" ("NAME" "report.pdf") NIL NIL "BASE64" 4096 NIL ("ATTACHMENT" ("FILENAME" "report.pdf")) NIL NIL) "MIXED" ("BOUNDARY" "xyz") NIL NIL NIL))`

func TestUIDFetchEnvelope(t *testing.T) {
	s := newMockServer(t, replyOK("UID FETCH 1:2 (UID ENVELOPE)",
		envelopeLine,
		`* 2 FETCH (FLAGS (\Seen))`, // 没有 UID，应被忽略
	))
	client := newTestClient(t, s, nil)

	msgs, err := client.UIDFetchEnvelope(context.Background(), imap.UIDSet{{Start: 1, Stop: 2}})
	if err != nil {
		t.Fatalf("UIDFetchEnvelope() = %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("len(msgs) = %v, want 1", len(msgs))
	}

	env := msgs[0].Envelope
	if msgs[0].UID != 1 {
		t.Errorf("UID = %v", msgs[0].UID)
	}
	wantDate := time.Date(1994, 2, 7, 21, 52, 25, 0, time.FixedZone("", -8*60*60))
	if !env.Date.Equal(wantDate) {
		t.Errorf("Date = %v, want %v", env.Date, wantDate)
	}
	if env.Subject != "Café" {
		t.Errorf("Subject = %q", env.Subject)
	}
	wantFrom := []imap.Address{{Name: "Fred Foobar", Mailbox: "foobar", Host: "example.com"}}
	if !reflect.DeepEqual(env.From, wantFrom) {
		t.Errorf("From = %+v", env.From)
	}
	if len(env.ReplyTo) != 0 || len(env.Cc) != 0 {
		t.Errorf("ReplyTo = %+v, Cc = %+v", env.ReplyTo, env.Cc)
	}
	if len(env.To) != 1 || env.To[0].Addr() != "john.q.public@example.com" {
		t.Errorf("To = %+v", env.To)
	}
	if env.MessageID != "B27397-0100000@example.com" {
		t.Errorf("MessageID = %q", env.MessageID)
	}
	if !reflect.DeepEqual(env.InReplyTo, []string{"prev@example.com"}) {
		t.Errorf("InReplyTo = %q", env.InReplyTo)
	}
}

func TestUIDFetchBodyStructure(t *testing.T) {
	s := newMockServer(t, replyOK("UID FETCH 5 (UID BODYSTRUCTURE)", bodyStructureLine))
	client := newTestClient(t, s, nil)

	msgs, err := client.UIDFetchBodyStructure(context.Background(), imap.UIDSetNum(5))
	if err != nil {
		t.Fatalf("UIDFetchBodyStructure() = %v", err)
	}
	if len(msgs) != 1 || msgs[0].UID != 5 {
		t.Fatalf("UIDFetchBodyStructure() = %+v", msgs)
	}

	bs := msgs[0].BodyStructure
	if bs.MediaType() != "multipart/mixed" {
		t.Errorf("MediaType() = %v", bs.MediaType())
	}

	var parts []string
	var attachment *imap.BodyStructureSinglePart
	bs.Walk(func(path []int, part imap.BodyStructure) bool {
		parts = append(parts, imap.PartAddress(path)+"="+part.MediaType())
		if single, ok := part.(*imap.BodyStructureSinglePart); ok && single.Filename() != "" {
			attachment = single
		}
		return true
	})
	want := []string{"=multipart/mixed", "1=text/plain", "2=application/pdf"}
	if !reflect.DeepEqual(parts, want) {
		t.Errorf("Walk() = %v, want %v", parts, want)
	}

	if attachment == nil {
		t.Fatal("no attachment found")
	}
	if attachment.Filename() != "report.pdf" || attachment.Size != 4096 || attachment.Encoding != "BASE64" {
		t.Errorf("attachment = %+v", attachment)
	}
	if disp := attachment.Disposition(); disp == nil || disp.Value != "ATTACHMENT" {
		t.Errorf("Disposition() = %+v", disp)
	}

	text := bs.(*imap.BodyStructureMultiPart).Children[0].(*imap.BodyStructureSinglePart)
	if text.Params["charset"] != "UTF-8" || text.Text == nil || text.Text.NumLines != 4 {
		t.Errorf("text part = %+v", text)
	}
}

func TestUIDFetchHeaders(t *testing.T) {
	header := "From: Alice <alice@example.org>\r\nSubject: =?utf-8?q?hello?=\r\n\r\n"
	s := newMockServer(t, replyOK("UID FETCH 7 (UID BODY.PEEK[HEADER.FIELDS (FROM SUBJECT)])",
		`* 1 FETCH (UID 7 BODY[HEADER.FIELDS (FROM SUBJECT)] `+literal(header)+`)`,
	))
	client := newTestClient(t, s, nil)

	msgs, err := client.UIDFetchHeaders(context.Background(), imap.UIDSetNum(7), "From", "Subject")
	if err != nil {
		t.Fatalf("UIDFetchHeaders() = %v", err)
	}
	if len(msgs) != 1 || msgs[0].UID != 7 {
		t.Fatalf("UIDFetchHeaders() = %+v", msgs)
	}
	if from := msgs[0].Get("From"); from != "Alice <alice@example.org>" {
		t.Errorf("From = %q", from)
	}
	if subject := msgs[0].Get("Subject"); subject != "=?utf-8?q?hello?=" {
		t.Errorf("Subject = %q", subject)
	}
}

func TestUIDFetchMessage(t *testing.T) {
	s := newMockServer(t, func(c *serverConn, tag, cmd string) bool {
		switch cmd {
		case "UID FETCH 9 (UID BODY.PEEK[])":
			c.writeLine("* 4 FETCH (UID 9 BODY[] %v)", literal(simpleRawMessage))
		case "UID FETCH 9 (UID BODY.PEEK[1.2])":
			c.writeLine("* 4 FETCH (UID 9 BODY[1.2] %v)", literal("aGVsbG8="))
		case "UID FETCH 10 (UID BODY.PEEK[])":
			c.writeLine("* 5 FETCH (UID 10 FLAGS (\\Seen))")
		default:
			return false
		}
		c.writeLine("%v OK FETCH completed", tag)
		return true
	})
	client := newTestClient(t, s, nil)
	ctx := context.Background()

	b, err := client.UIDFetchMessage(ctx, 9)
	if err != nil {
		t.Fatalf("UIDFetchMessage() = %v", err)
	}
	if string(b) != simpleRawMessage {
		t.Errorf("UIDFetchMessage() = %q", b)
	}

	b, err = client.UIDFetchPart(ctx, 9, "1.2")
	if err != nil {
		t.Fatalf("UIDFetchPart() = %v", err)
	}
	if string(b) != "aGVsbG8=" {
		t.Errorf("UIDFetchPart() = %q", b)
	}

	_, err = client.UIDFetchMessage(ctx, 10)
	var parseErr *imap.ParseError
	if !errors.As(err, &parseErr) {
		t.Errorf("UIDFetchMessage() without body = %v, want *imap.ParseError", err)
	}
}

func TestUIDFetchFlags(t *testing.T) {
	s := newMockServer(t, replyOK("UID FETCH 1,4 (UID FLAGS)",
		`* 1 FETCH (UID 1 FLAGS (\Seen \Flagged))`,
		`* 2 FETCH (FLAGS () UID 4)`,
	))
	client := newTestClient(t, s, nil)

	msgs, err := client.UIDFetchFlags(context.Background(), imap.UIDSetNum(1, 4))
	if err != nil {
		t.Fatalf("UIDFetchFlags() = %v", err)
	}
	want := []imap.MessageFlags{
		{UID: 1, Flags: imap.FlagsList{imap.FlagSeen, imap.FlagFlagged}},
		{UID: 4, Flags: imap.FlagsList{}},
	}
	if !reflect.DeepEqual(msgs, want) {
		t.Errorf("UIDFetchFlags() = %+v, want %+v", msgs, want)
	}
	if !msgs[0].Flags.Has(imap.FlagSeen) {
		t.Errorf("Has(\\Seen) = false")
	}
}

func TestUIDFetchInternalDate(t *testing.T) {
	s := newMockServer(t, replyOK("UID FETCH 3 (UID INTERNALDATE)",
		`* 1 FETCH (UID 3 INTERNALDATE "17-Jul-1996 02:44:25 -0700")`,
		`* 2 FETCH (UID 3 INTERNALDATE " 7-Jul-1996 02:44:25 -0700")`,
	))
	client := newTestClient(t, s, nil)

	msgs, err := client.UIDFetchInternalDate(context.Background(), imap.UIDSetNum(3))
	if err != nil {
		t.Fatalf("UIDFetchInternalDate() = %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("len(msgs) = %v", len(msgs))
	}
	zone := time.FixedZone("", -7*60*60)
	if want := time.Date(1996, 7, 17, 2, 44, 25, 0, zone); !msgs[0].Date.Equal(want) {
		t.Errorf("Date = %v, want %v", msgs[0].Date, want)
	}
	if want := time.Date(1996, 7, 7, 2, 44, 25, 0, zone); !msgs[1].Date.Equal(want) {
		t.Errorf("Date = %v, want %v", msgs[1].Date, want)
	}
}

func TestUIDFetch_Malformed(t *testing.T) {
	s := newMockServer(t, replyOK("UID FETCH", `* 1 FETCH (UID 1 ENVELOPE ("date"))`))
	client := newTestClient(t, s, nil)

	_, err := client.UIDFetchEnvelope(context.Background(), imap.UIDSetNum(1))
	var parseErr *imap.ParseError
	if !errors.As(err, &parseErr) || parseErr.Command != "UID FETCH" {
		t.Errorf("UIDFetchEnvelope() = %v, want *imap.ParseError", err)
	}
}
