package sieveclient_test

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/luhaoyun888/go-minig/sieveclient"
)

const (
	testUsername = "sieve-user"
	testPassword = "sieve-pass"
)

var testCaps = []string{
	`"IMPLEMENTATION" "Mock Sieve"`,
	`"SASL" "PLAIN LOGIN"`,
	`"SIEVE" "fileinto vacation"`,
	`"VERSION" "1.0"`,
}

// handlerFunc 处理一条命令。返回 false 时由 mockServer 的默认逻辑处理。
type handlerFunc func(c *serverConn, cmd string) bool

// mockServer 是一个按脚本回应命令的 ManageSieve 服务器。
type mockServer struct {
	t         *testing.T
	ln        net.Listener
	caps      []string
	tlsConfig *tls.Config
	handle    handlerFunc

	wg       sync.WaitGroup
	mutex    sync.Mutex
	conns    []net.Conn
	commands []string
}

func newMockServer(t *testing.T, handle handlerFunc) *mockServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen() = %v", err)
	}
	s := &mockServer{t: t, ln: ln, caps: testCaps, handle: handle}
	s.wg.Add(1)
	go s.serve()
	t.Cleanup(s.close)
	return s
}

func (s *mockServer) addr() (string, int) {
	addr := s.ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

func (s *mockServer) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mutex.Lock()
		s.conns = append(s.conns, conn)
		s.mutex.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer conn.Close()
			s.serveConn(&serverConn{conn: conn, br: bufio.NewReader(conn)})
		}()
	}
}

func (s *mockServer) close() {
	s.ln.Close()
	s.mutex.Lock()
	for _, conn := range s.conns {
		conn.Close()
	}
	s.mutex.Unlock()
	s.wg.Wait()
}

func (s *mockServer) writeCaps(c *serverConn, status string) {
	for _, line := range s.caps {
		c.writeLine("%v", line)
	}
	c.writeLine("%v", status)
}

func (s *mockServer) serveConn(c *serverConn) {
	s.writeCaps(c, `OK "Mock Sieve ready."`)

	for {
		cmd, err := c.readCommand()
		if err != nil {
			return
		}
		s.mutex.Lock()
		s.commands = append(s.commands, cmd)
		s.mutex.Unlock()

		if s.handle != nil && s.handle(c, cmd) {
			if c.closed {
				return
			}
			continue
		}

		switch name, _, _ := strings.Cut(cmd, " "); name {
		case "AUTHENTICATE":
			if cmd == authenticateCommand(testUsername, testPassword) {
				c.writeLine(`OK "Logged in."`)
			} else {
				c.writeLine(`NO (AUTH-TOO-WEAK) "Authentication failed."`)
			}
		case "LOGOUT":
			c.writeLine(`OK "Logout completed."`)
			return
		case "CAPABILITY":
			s.writeCaps(c, `OK "Capability completed."`)
		case "NOOP":
			c.writeLine(`OK "NOOP completed."`)
		case "STARTTLS":
			if s.tlsConfig == nil {
				c.writeLine(`NO "TLS not available."`)
				break
			}
			c.writeLine(`OK "Begin TLS negotiation now."`)
			if err := c.startTLS(s.tlsConfig); err != nil {
				return
			}
			s.writeCaps(c, `OK "TLS negotiation successful."`)
		default:
			c.writeLine(`NO "Unknown command."`)
		}
	}
}

func (s *mockServer) Commands() []string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([]string(nil), s.commands...)
}

func (s *mockServer) hasCommand(prefix string) bool {
	for _, cmd := range s.Commands() {
		if strings.HasPrefix(cmd, prefix) {
			return true
		}
	}
	return false
}

func authenticateCommand(username, password string) string {
	ir := base64.StdEncoding.EncodeToString([]byte("\x00" + username + "\x00" + password))
	return fmt.Sprintf(`AUTHENTICATE "PLAIN" "%v"`, ir)
}

type serverConn struct {
	conn   net.Conn
	br     *bufio.Reader
	closed bool
}

func (c *serverConn) writeLine(format string, args ...any) {
	io.WriteString(c.conn, fmt.Sprintf(format, args...)+"\r\n")
}

func (c *serverConn) readLine() (string, error) {
	line, err := c.br.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r"), nil
}

var literalRE = regexp.MustCompile(`\{(\d+)\+?\}$`)

// readCommand 读取一条完整的命令，字面量以 "{n+}\r\n<数据>" 的形式保留。
func (c *serverConn) readCommand() (string, error) {
	var sb strings.Builder
	for {
		line, err := c.readLine()
		if err != nil {
			return "", err
		}
		sb.WriteString(line)

		m := literalRE.FindStringSubmatch(line)
		if m == nil {
			return sb.String(), nil
		}
		n, _ := strconv.Atoi(m[1])
		buf := make([]byte, n)
		if _, err := io.ReadFull(c.br, buf); err != nil {
			return "", err
		}
		sb.WriteString("\r\n")
		sb.Write(buf)
	}
}

func (c *serverConn) startTLS(config *tls.Config) error {
	tlsConn := tls.Server(c.conn, config)
	if err := tlsConn.Handshake(); err != nil {
		return err
	}
	c.conn = tlsConn
	c.br = bufio.NewReader(tlsConn)
	return nil
}

func (c *serverConn) close() {
	c.conn.Close()
	c.closed = true
}

func literal(s string) string {
	return fmt.Sprintf("{%v}\r\n%v", len(s), s)
}

func testOptions() *sieveclient.Options {
	options := &sieveclient.Options{
		TLSConfig:      &tls.Config{InsecureSkipVerify: true},
		CommandTimeout: 10 * time.Second,
	}
	if testing.Verbose() {
		logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.DebugLevel).With().Timestamp().Logger()
		options.Logger = &logger
	}
	return options
}

// newTestClient 创建一个已登录 s 的客户端，测试结束时自动注销。
func newTestClient(t *testing.T, s *mockServer, options *sieveclient.Options) *sieveclient.Client {
	t.Helper()
	if options == nil {
		options = testOptions()
	}
	host, port := s.addr()
	client := sieveclient.New(host, port, testUsername, testPassword, options)
	if err := client.Login(context.Background(), false); err != nil {
		t.Fatalf("Login() = %v", err)
	}
	t.Cleanup(func() {
		client.Logout(context.Background())
	})
	return client
}
