// Package logging 提供基于 zerolog 的日志辅助函数。
package logging

import (
	"bytes"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// New 根据级别和格式创建一个日志记录器。format 为 "console" 时输出人类可读的格式，
// 否则输出 JSON。无法识别的级别按 info 处理。
func New(w io.Writer, level, format string) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	if format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// ProtocolWriter 将原始协议流量按行写入 trace 级别日志。
//
// LOGIN 的参数以及 AUTHENTICATE 交换中的所有行都被替换为占位符。
type ProtocolWriter struct {
	logger *zerolog.Logger

	mutex  sync.Mutex
	buf    []byte
	inAuth bool
}

var _ io.Writer = (*ProtocolWriter)(nil)

// NewProtocolWriter 创建一个写入 logger 的 ProtocolWriter，可以用作 Options.DebugWriter。
func NewProtocolWriter(logger *zerolog.Logger) *ProtocolWriter {
	return &ProtocolWriter{logger: logger}
}

// Write 实现 io.Writer。不完整的行被缓存到下一次写入。
func (w *ProtocolWriter) Write(p []byte) (int, error) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimRight(string(w.buf[:i]), "\r")
		w.buf = w.buf[i+1:]
		w.logLine(line)
	}
	return len(p), nil
}

func (w *ProtocolWriter) logLine(line string) {
	if line == "" {
		return
	}
	w.logger.Trace().Str("data", w.redact(line)).Msg("协议数据")
}

func (w *ProtocolWriter) redact(line string) string {
	fields := strings.Fields(line)
	if w.inAuth {
		if len(fields) >= 1 && isStatus(fields[0]) || len(fields) >= 2 && isStatus(fields[1]) {
			w.inAuth = false
			return line
		}
		if strings.HasPrefix(line, "+") {
			return line
		}
		return "[已隐藏]"
	}
	for i, f := range fields {
		if i > 1 {
			break
		}
		switch strings.ToUpper(strings.Trim(f, `"`)) {
		case "LOGIN":
			return strings.Join(fields[:i+1], " ") + " [凭证已隐藏]"
		case "AUTHENTICATE":
			w.inAuth = true
			if len(fields) > i+2 {
				return strings.Join(fields[:i+2], " ") + " [凭证已隐藏]"
			}
			return line
		}
	}
	return line
}

func isStatus(s string) bool {
	switch strings.ToUpper(s) {
	case "OK", "NO", "BAD", "BYE":
		return true
	}
	return false
}

// MaskUser 隐藏用户名的中间部分，例如 "alice@example.org" 变为 "a***e@e*****e.o*g"。
func MaskUser(s string) string {
	s = strings.TrimSpace(s)
	at := strings.IndexByte(s, '@')
	if at < 0 {
		return mask(s)
	}
	if at == 0 || at == len(s)-1 {
		return s
	}
	parts := strings.Split(s[at+1:], ".")
	for i, p := range parts {
		parts[i] = mask(p)
	}
	return mask(s[:at]) + "@" + strings.Join(parts, ".")
}

func mask(part string) string {
	if len(part) <= 1 {
		return "*"
	}
	return part[:1] + strings.Repeat("*", max(0, len(part)-2)) + part[len(part)-1:]
}

var emailRE = regexp.MustCompile(`(?i)[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)

// RedactEmailsIn 隐藏 s 中出现的所有电子邮件地址。
func RedactEmailsIn(s string) string {
	return emailRE.ReplaceAllStringFunc(s, MaskUser)
}
