package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNew_Level(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "warn", "json")
	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Errorf("输出 = %q", buf.String())
	}

	buf.Reset()
	logger = New(&buf, "bogus", "json")
	logger.Debug().Msg("debug")
	logger.Info().Msg("info")
	if strings.Contains(buf.String(), `"debug"`) || !strings.Contains(buf.String(), `"info"`) {
		t.Errorf("无效级别应回退到 info, 输出 = %q", buf.String())
	}
}

func TestNew_Console(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "info", "console")
	logger.Info().Str("k", "v").Msg("hello")
	out := buf.String()
	if strings.HasPrefix(out, "{") || !strings.Contains(out, "hello") {
		t.Errorf("console 输出 = %q", out)
	}
}

func newTraceLogger(buf *bytes.Buffer) *zerolog.Logger {
	logger := zerolog.New(buf).Level(zerolog.TraceLevel)
	return &logger
}

func TestProtocolWriter_Login(t *testing.T) {
	var buf bytes.Buffer
	w := NewProtocolWriter(newTraceLogger(&buf))

	// 一行数据可能被拆分成多次写入
	w.Write([]byte("T1 LOGIN alice s3cr"))
	w.Write([]byte("et\r\nT1 OK done\r\n"))

	out := buf.String()
	if strings.Contains(out, "s3cret") || strings.Contains(out, "alice") {
		t.Errorf("凭证出现在日志中: %q", out)
	}
	if !strings.Contains(out, "T1 LOGIN [凭证已隐藏]") || !strings.Contains(out, "T1 OK done") {
		t.Errorf("输出 = %q", out)
	}
}

func TestProtocolWriter_Authenticate(t *testing.T) {
	var buf bytes.Buffer
	w := NewProtocolWriter(newTraceLogger(&buf))

	w.Write([]byte("T2 AUTHENTICATE PLAIN\r\n"))
	w.Write([]byte("+ \r\n"))
	w.Write([]byte("AGFsaWNlAHNlY3JldA==\r\n"))
	w.Write([]byte("T2 OK authenticated\r\n"))
	w.Write([]byte("T3 SELECT INBOX\r\n"))

	out := buf.String()
	if strings.Contains(out, "AGFsaWNlAHNlY3JldA==") {
		t.Errorf("SASL 响应出现在日志中: %q", out)
	}
	for _, want := range []string{"T2 AUTHENTICATE PLAIN", "[已隐藏]", "T2 OK authenticated", "T3 SELECT INBOX"} {
		if !strings.Contains(out, want) {
			t.Errorf("输出中缺少 %q: %q", want, out)
		}
	}
}

func TestProtocolWriter_SieveInitialResponse(t *testing.T) {
	var buf bytes.Buffer
	w := NewProtocolWriter(newTraceLogger(&buf))

	w.Write([]byte("AUTHENTICATE \"PLAIN\" \"AGFsaWNlAHNlY3JldA==\"\r\nOK\r\n"))

	out := buf.String()
	if strings.Contains(out, "AGFsaWNlAHNlY3JldA==") {
		t.Errorf("SASL 初始响应出现在日志中: %q", out)
	}
}

func TestMaskUser(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"alice@example.org", "a***e@e*****e.o*g"},
		{"bob", "b*b"},
		{"x", "*"},
		{"@example.org", "@example.org"},
	}
	for _, tc := range tests {
		if got := MaskUser(tc.in); got != tc.want {
			t.Errorf("MaskUser(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestRedactEmailsIn(t *testing.T) {
	got := RedactEmailsIn("登录 alice@example.org 失败")
	if got != "登录 a***e@e*****e.o*g 失败" {
		t.Errorf("RedactEmailsIn() = %q", got)
	}
}
