package sieveclient_test

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/luhaoyun888/go-minig"
	"github.com/luhaoyun888/go-minig/internal/testcert"
	"github.com/luhaoyun888/go-minig/sieveclient"
)

const vacationScript = "require \"vacation\";\r\nvacation :days 7 \"我在休假。\";\r\n"

func TestLogin(t *testing.T) {
	s := newMockServer(t, nil)
	client := newTestClient(t, s, nil)

	if !client.Authenticated() {
		t.Errorf("Authenticated() = false")
	}
	caps := client.Caps()
	if caps.Implementation() != "Mock Sieve" {
		t.Errorf("Implementation() = %q", caps.Implementation())
	}
	if want := []string{"PLAIN", "LOGIN"}; !reflect.DeepEqual(caps.SASLMechanisms(), want) {
		t.Errorf("SASLMechanisms() = %v, want %v", caps.SASLMechanisms(), want)
	}
	if want := []string{"fileinto", "vacation"}; !reflect.DeepEqual(caps.Extensions(), want) {
		t.Errorf("Extensions() = %v, want %v", caps.Extensions(), want)
	}
	if !caps.Has("version") {
		t.Errorf("Has(version) = false")
	}
	if !s.hasCommand(authenticateCommand(testUsername, testPassword)) {
		t.Errorf("commands = %q", s.Commands())
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	s := newMockServer(t, nil)
	host, port := s.addr()
	client := sieveclient.New(host, port, testUsername, "wrong", testOptions())

	err := client.Login(context.Background(), false)
	var imapErr *imap.Error
	if !errors.As(err, &imapErr) {
		t.Fatalf("Login() = %v, want *imap.Error", err)
	}
	if imapErr.Type != imap.StatusResponseTypeNo || imapErr.Code != "AUTH-TOO-WEAK" {
		t.Errorf("Login() error = %+v", imapErr)
	}
	if client.Connected() {
		t.Errorf("Connected() = true after failed login")
	}
}

func TestLogin_Repeated(t *testing.T) {
	s := newMockServer(t, nil)
	host, port := s.addr()
	client := sieveclient.New(host, port, testUsername, testPassword, testOptions())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := client.Login(ctx, false); err != nil {
			t.Fatalf("Login() #%v = %v", i, err)
		}
		if err := client.Noop(ctx); err != nil {
			t.Errorf("Noop() #%v = %v", i, err)
		}
		if err := client.Logout(ctx); err != nil {
			t.Errorf("Logout() #%v = %v", i, err)
		}
	}
	if err := client.Noop(ctx); !errors.Is(err, imap.ErrNotConnected) {
		t.Errorf("Noop() after logout = %v, want ErrNotConnected", err)
	}
}

func TestLogin_AlreadyConnected(t *testing.T) {
	s := newMockServer(t, nil)
	client := newTestClient(t, s, nil)

	if err := client.Login(context.Background(), false); !errors.Is(err, imap.ErrAlreadyConnected) {
		t.Errorf("Login() = %v, want ErrAlreadyConnected", err)
	}
}

func TestStartTLS(t *testing.T) {
	s := newMockServer(t, nil)
	s.caps = append(append([]string(nil), testCaps...), `"STARTTLS"`)
	s.tlsConfig = testcert.ServerConfig()
	host, port := s.addr()

	client := sieveclient.New(host, port, testUsername, testPassword, testOptions())
	if err := client.Login(context.Background(), true); err != nil {
		t.Fatalf("Login() = %v", err)
	}
	defer client.Logout(context.Background())

	if !client.Encrypted() {
		t.Errorf("Encrypted() = false")
	}
	if client.Caps().Implementation() != "Mock Sieve" {
		t.Errorf("capabilities not refreshed after STARTTLS: %v", client.Caps())
	}
	if err := client.Noop(context.Background()); err != nil {
		t.Errorf("Noop() = %v", err)
	}
}

func TestStartTLS_Refused(t *testing.T) {
	s := newMockServer(t, nil)
	s.caps = append(append([]string(nil), testCaps...), `"STARTTLS"`)
	host, port := s.addr()

	client := sieveclient.New(host, port, testUsername, testPassword, testOptions())
	if err := client.Login(context.Background(), true); err != nil {
		t.Fatalf("Login() = %v", err)
	}
	defer client.Logout(context.Background())

	if client.Encrypted() {
		t.Errorf("Encrypted() = true")
	}
	if !s.hasCommand("STARTTLS") {
		t.Errorf("STARTTLS not sent")
	}
}

func TestStartTLS_NotAdvertised(t *testing.T) {
	s := newMockServer(t, nil)
	host, port := s.addr()

	client := sieveclient.New(host, port, testUsername, testPassword, testOptions())
	if err := client.Login(context.Background(), true); err != nil {
		t.Fatalf("Login() = %v", err)
	}
	defer client.Logout(context.Background())

	if s.hasCommand("STARTTLS") {
		t.Errorf("STARTTLS sent although not advertised")
	}
}

func TestPutScript(t *testing.T) {
	s := newMockServer(t, func(c *serverConn, cmd string) bool {
		switch {
		case strings.HasPrefix(cmd, `PUTSCRIPT "vacation"`):
			c.writeLine(`OK "PUTSCRIPT completed."`)
		case strings.HasPrefix(cmd, `PUTSCRIPT "broken"`):
			c.writeLine(`NO "line 1: syntax error"`)
		default:
			return false
		}
		return true
	})
	client := newTestClient(t, s, nil)
	ctx := context.Background()

	if err := client.PutScript(ctx, "vacation", strings.NewReader(vacationScript)); err != nil {
		t.Fatalf("PutScript() = %v", err)
	}
	want := fmt.Sprintf("PUTSCRIPT \"vacation\" {%v+}\r\n%v", len(vacationScript), vacationScript)
	if !s.hasCommand(want) {
		t.Errorf("commands = %q, want %q", s.Commands(), want)
	}

	err := client.PutScript(ctx, "broken", strings.NewReader("if {"))
	var imapErr *imap.Error
	if !errors.As(err, &imapErr) || imapErr.Text != "line 1: syntax error" {
		t.Errorf("PutScript(broken) = %v", err)
	}
}

func TestListScripts(t *testing.T) {
	s := newMockServer(t, func(c *serverConn, cmd string) bool {
		if cmd != "LISTSCRIPTS" {
			return false
		}
		c.writeLine(`"summer"`)
		c.writeLine(`"vacation" ACTIVE`)
		c.writeLine(`%v`, literal("spam\r\nfilter"))
		c.writeLine(`OK "Listscripts completed."`)
		return true
	})
	client := newTestClient(t, s, nil)

	scripts, err := client.ListScripts(context.Background())
	if err != nil {
		t.Fatalf("ListScripts() = %v", err)
	}
	want := []sieveclient.Script{
		{Name: "summer"},
		{Name: "vacation", Active: true},
		{Name: "spam\r\nfilter"},
	}
	if !reflect.DeepEqual(scripts, want) {
		t.Errorf("ListScripts() = %+v, want %+v", scripts, want)
	}
}

func TestGetScript(t *testing.T) {
	s := newMockServer(t, func(c *serverConn, cmd string) bool {
		switch cmd {
		case `GETSCRIPT "vacation"`:
			c.writeLine("%v", literal(vacationScript))
			c.writeLine(`OK "Getscript completed."`)
		case `GETSCRIPT "missing"`:
			c.writeLine(`NO (NONEXISTENT) "Script does not exist."`)
		default:
			return false
		}
		return true
	})
	client := newTestClient(t, s, nil)
	ctx := context.Background()

	content, err := client.GetScript(ctx, "vacation")
	if err != nil {
		t.Fatalf("GetScript() = %v", err)
	}
	if content != vacationScript {
		t.Errorf("GetScript() = %q, want %q", content, vacationScript)
	}

	_, err = client.GetScript(ctx, "missing")
	var imapErr *imap.Error
	if !errors.As(err, &imapErr) || imapErr.Code != "NONEXISTENT" {
		t.Errorf("GetScript(missing) = %v, want NONEXISTENT", err)
	}
}

func TestDeleteAndActivate(t *testing.T) {
	s := newMockServer(t, func(c *serverConn, cmd string) bool {
		switch cmd {
		case `SETACTIVE "vacation"`, `SETACTIVE ""`, `DELETESCRIPT "summer"`:
			c.writeLine(`OK`)
		case `DELETESCRIPT "vacation"`:
			c.writeLine(`NO (ACTIVE) "You may not delete an active script"`)
		default:
			return false
		}
		return true
	})
	client := newTestClient(t, s, nil)
	ctx := context.Background()

	if err := client.SetActive(ctx, "vacation"); err != nil {
		t.Errorf("SetActive() = %v", err)
	}
	err := client.DeleteScript(ctx, "vacation")
	var imapErr *imap.Error
	if !errors.As(err, &imapErr) || imapErr.Code != "ACTIVE" {
		t.Errorf("DeleteScript(active) = %v, want ACTIVE", err)
	}
	if err := client.SetActive(ctx, ""); err != nil {
		t.Errorf("SetActive(\"\") = %v", err)
	}
	if err := client.DeleteScript(ctx, "summer"); err != nil {
		t.Errorf("DeleteScript() = %v", err)
	}
}

func TestCommandTimeout(t *testing.T) {
	s := newMockServer(t, func(c *serverConn, cmd string) bool {
		return cmd == "NOOP"
	})
	options := testOptions()
	options.CommandTimeout = 100 * time.Millisecond
	client := newTestClient(t, s, options)

	if err := client.Noop(context.Background()); !errors.Is(err, imap.ErrSessionBroken) {
		t.Fatalf("Noop() = %v, want ErrSessionBroken", err)
	}
	if _, err := client.ListScripts(context.Background()); !errors.Is(err, imap.ErrSessionBroken) {
		t.Errorf("ListScripts() = %v, want ErrSessionBroken", err)
	}
	if err := client.Logout(context.Background()); err != nil {
		t.Errorf("Logout() = %v", err)
	}
}

func TestServerBye(t *testing.T) {
	s := newMockServer(t, func(c *serverConn, cmd string) bool {
		if cmd != "NOOP" {
			return false
		}
		c.writeLine(`BYE "Too many errors"`)
		c.close()
		return true
	})
	client := newTestClient(t, s, nil)

	err := client.Noop(context.Background())
	var imapErr *imap.Error
	if !errors.As(err, &imapErr) || imapErr.Type != imap.StatusResponseTypeBye {
		t.Errorf("Noop() = %v, want BYE error", err)
	}
}

func TestNotAuthenticated(t *testing.T) {
	client := sieveclient.New("127.0.0.1", sieveclient.DefaultPort, testUsername, testPassword, nil)
	if _, err := client.ListScripts(context.Background()); !errors.Is(err, imap.ErrNotConnected) {
		t.Errorf("ListScripts() = %v, want ErrNotConnected", err)
	}
}
