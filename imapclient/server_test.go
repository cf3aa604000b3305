package imapclient_test

import (
	"bufio"
	"context"
	"crypto/tls"
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

	"github.com/luhaoyun888/go-minig/imapclient"
)

const (
	testUsername = "test-user"
	testPassword = "test-password"

	defaultCaps = "IMAP4rev1 LITERAL+ UIDPLUS IDLE NAMESPACE QUOTA THREAD=REFERENCES"
)

const simpleRawMessage = "MIME-Version: 1.0\r\n" +
	"Message-Id: <191101702316132@example.com>\r\n" +
	"Content-Transfer-Encoding: 8bit\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"这是我的信！"

// handlerFunc 处理一条命令。返回 false 时由 mockServer 的默认逻辑处理。
type handlerFunc func(c *serverConn, tag, cmd string) bool

// mockServer 是一个按脚本回应命令的 IMAP 服务器。
//
// 默认处理 LOGIN、LOGOUT、CAPABILITY、NOOP 和 STARTTLS（设置了 tlsConfig 时）。
type mockServer struct {
	t         *testing.T
	ln        net.Listener
	greeting  string
	caps      string
	tlsConfig *tls.Config
	handle    handlerFunc

	wg       sync.WaitGroup
	mutex    sync.Mutex
	conns    []net.Conn
	tags     []string
	commands []string
}

func newMockServer(t *testing.T, handle handlerFunc) *mockServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen() = %v", err)
	}
	s := &mockServer{
		t:      t,
		ln:     ln,
		caps:   defaultCaps,
		handle: handle,
	}
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
			s.serveConn(&serverConn{s: s, conn: conn, br: bufio.NewReader(conn)})
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

func (s *mockServer) serveConn(c *serverConn) {
	greeting := s.greeting
	if greeting == "" {
		greeting = "* OK [CAPABILITY " + s.caps + "] mock server ready"
	}
	c.writeLine("%v", greeting)

	for {
		tag, cmd, err := c.readCommand()
		if err != nil {
			return
		}
		s.mutex.Lock()
		s.tags = append(s.tags, tag)
		s.commands = append(s.commands, cmd)
		s.mutex.Unlock()

		if s.handle != nil && s.handle(c, tag, cmd) {
			if c.closed {
				return
			}
			continue
		}

		switch name, _, _ := strings.Cut(cmd, " "); strings.ToUpper(name) {
		case "LOGIN":
			if cmd == fmt.Sprintf("LOGIN %q %q", testUsername, testPassword) {
				c.writeLine("%v OK [CAPABILITY %v] LOGIN completed", tag, s.caps)
			} else {
				c.writeLine("%v NO [AUTHENTICATIONFAILED] invalid credentials", tag)
			}
		case "LOGOUT":
			c.writeLine("* BYE logging out")
			c.writeLine("%v OK LOGOUT completed", tag)
			return
		case "CAPABILITY":
			c.writeLine("* CAPABILITY %v", s.caps)
			c.writeLine("%v OK CAPABILITY completed", tag)
		case "NOOP":
			c.writeLine("%v OK NOOP completed", tag)
		case "STARTTLS":
			if s.tlsConfig == nil {
				c.writeLine("%v BAD STARTTLS not supported", tag)
				break
			}
			c.writeLine("%v OK begin TLS negotiation now", tag)
			if err := c.startTLS(s.tlsConfig); err != nil {
				return
			}
		default:
			c.writeLine("%v BAD unknown command", tag)
		}
	}
}

// Commands 返回收到的命令（不含标签）。
func (s *mockServer) Commands() []string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([]string(nil), s.commands...)
}

// Tags 返回收到的命令标签。
func (s *mockServer) Tags() []string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([]string(nil), s.tags...)
}

// hasCommand 报告是否收到过以 prefix 开头的命令。
func (s *mockServer) hasCommand(prefix string) bool {
	for _, cmd := range s.Commands() {
		if strings.HasPrefix(cmd, prefix) {
			return true
		}
	}
	return false
}

// serverConn 是 mockServer 上的一条连接。只在连接的 goroutine 上使用。
type serverConn struct {
	s      *mockServer
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

var literalRE = regexp.MustCompile(`\{(\d+)(\+?)\}$`)

// readCommand 读取一条完整的命令，字面量以 "{n}\r\n<数据>" 的形式保留在 cmd 中。
func (c *serverConn) readCommand() (tag, cmd string, err error) {
	var sb strings.Builder
	for {
		line, err := c.readLine()
		if err != nil {
			return "", "", err
		}
		sb.WriteString(line)

		m := literalRE.FindStringSubmatch(line)
		if m == nil {
			break
		}
		n, _ := strconv.Atoi(m[1])
		if m[2] == "" {
			c.writeLine("+ go ahead")
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(c.br, buf); err != nil {
			return "", "", err
		}
		sb.WriteString("\r\n")
		sb.Write(buf)
	}
	tag, cmd, _ = strings.Cut(sb.String(), " ")
	return tag, cmd, nil
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

// close 关闭连接，serveConn 随后退出。
func (c *serverConn) close() {
	c.conn.Close()
	c.closed = true
}

// literal 将 s 格式化为服务器字面量。
func literal(s string) string {
	return fmt.Sprintf("{%v}\r\n%v", len(s), s)
}

// testOptions 返回测试用的客户端选项。详细模式下输出调试日志。
func testOptions() *imapclient.Options {
	options := &imapclient.Options{
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
func newTestClient(t *testing.T, s *mockServer, options *imapclient.Options) *imapclient.Client {
	t.Helper()
	if options == nil {
		options = testOptions()
	}
	client := imapclient.New(options)
	host, port := s.addr()
	if err := client.Login(context.Background(), host, port, testUsername, testPassword, false); err != nil {
		t.Fatalf("Login() = %v", err)
	}
	t.Cleanup(func() {
		client.Logout(context.Background())
	})
	return client
}

// replyOK 返回一个对 prefix 开头的命令写出 lines 和 OK 的处理函数。
func replyOK(prefix string, lines ...string) handlerFunc {
	return func(c *serverConn, tag, cmd string) bool {
		if !strings.HasPrefix(cmd, prefix) {
			return false
		}
		for _, line := range lines {
			c.writeLine("%v", line)
		}
		c.writeLine("%v OK %v completed", tag, prefix)
		return true
	}
}
