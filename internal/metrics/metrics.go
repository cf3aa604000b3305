// Package metrics 定义 imapclient 与 sieveclient 共用的 Prometheus 指标。
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/luhaoyun888/go-minig"
)

// 命令结果标签的取值。
const (
	ResultOK        = "ok"
	ResultNo        = "no"
	ResultBad       = "bad"
	ResultParse     = "parse"
	ResultTransport = "transport"
	ResultBroken    = "broken"
	ResultUsage     = "usage"
)

// Commands 记录命令计数和耗时。nil 的 *Commands 不记录任何内容。
type Commands struct {
	total    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewCommands 在 reg 上注册 minig_<proto>_commands_total 和
// minig_<proto>_command_duration_seconds。reg 为 nil 时返回 nil。
//
// 同一个注册表上的多个客户端共用已注册的收集器。
func NewCommands(reg prometheus.Registerer, proto string) *Commands {
	if reg == nil {
		return nil
	}
	total := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "minig_" + proto + "_commands_total",
			Help: "Commands executed, by command name and result.",
		},
		[]string{
			"command",
			"result", // ok, no, bad, parse, transport, broken, usage
		},
	)
	duration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "minig_" + proto + "_command_duration_seconds",
			Help:    "Command round-trip duration in seconds.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.100, 0.5, 1, 5, 10, 20},
		},
		[]string{"command"},
	)
	return &Commands{
		total:    register(reg, total),
		duration: register(reg, duration),
	}
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// Observe 记录一条已完成的命令。
func (m *Commands) Observe(command string, err error, d time.Duration) {
	if m == nil {
		return
	}
	m.total.WithLabelValues(command, Result(err)).Inc()
	m.duration.WithLabelValues(command).Observe(d.Seconds())
}

// Result 将命令错误映射为结果标签。
func Result(err error) string {
	var (
		imapErr      *imap.Error
		parseErr     *imap.ParseError
		transportErr *imap.TransportError
	)
	switch {
	case err == nil:
		return ResultOK
	case errors.As(err, &imapErr):
		if imapErr.Type == imap.StatusResponseTypeBad {
			return ResultBad
		}
		return ResultNo
	case errors.As(err, &parseErr):
		return ResultParse
	case errors.Is(err, imap.ErrSessionBroken):
		return ResultBroken
	case errors.As(err, &transportErr):
		return ResultTransport
	default:
		return ResultUsage
	}
}
