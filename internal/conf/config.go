// Package conf 加载 minig 命令行工具和在线测试使用的配置。
//
// 配置来自一个 YAML 文件，随后由 .env 文件和 MINIG_* 环境变量覆盖。
package conf

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"
)

const (
	DefaultIMAPPort  = 143
	DefaultIMAPSPort = 993
	DefaultSievePort = 4190

	// TestConfigEnv 指向在线测试使用的配置文件，未设置时跳过这些测试。
	TestConfigEnv = "MINIG_TEST_CONFIG"
)

// Endpoint 是一个服务器的连接参数。
type Endpoint struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// 是否执行 STARTTLS，未设置时为 true
	TLS *bool `yaml:"tls"`
	// 直接以 TLS 连接，例如端口 993
	ImplicitTLS        bool          `yaml:"implicit_tls"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	DialTimeout        time.Duration `yaml:"dial_timeout"`
	CommandTimeout     time.Duration `yaml:"command_timeout"`
}

// UseTLS 报告是否应当执行 STARTTLS。
func (e *Endpoint) UseTLS() bool {
	return e.TLS == nil || *e.TLS
}

// Address 返回 "host:port"。
func (e *Endpoint) Address() string {
	return fmt.Sprintf("%v:%v", e.Host, e.Port)
}

// LogConfig 是日志配置。
type LogConfig struct {
	Level  string `yaml:"level"`  // zerolog 级别，默认 info
	Format string `yaml:"format"` // "console" 或 "json"，默认 console
	// 在 trace 级别记录协议数据，凭证会被隐藏
	Protocol bool `yaml:"protocol"`
}

// Config 是 minig 的配置。
type Config struct {
	IMAP  Endpoint  `yaml:"imap"`
	Sieve Endpoint  `yaml:"sieve"`
	Log   LogConfig `yaml:"log"`
}

// candidatePaths 返回未指定路径时依次尝试的配置文件。
func candidatePaths() []string {
	paths := []string{
		"./minig.yaml",
		"config/minig.yaml",
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "minig", "minig.yaml"))
	}
	return paths
}

// LoadConfig 加载配置。
//
// path 非空时文件必须存在；为空时依次尝试候选路径，都不存在时从空配置开始。
// 之后加载当前目录下的 .env（如果有），应用 MINIG_* 环境变量，填充默认值并校验。
func LoadConfig(path string) (*Config, error) {
	var cfg Config

	data, err := readConfigFile(path)
	if err != nil {
		return nil, err
	}
	if data != nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("conf: 解析配置文件失败: %w", err)
		}
	}

	// .env 不会覆盖已经设置的环境变量
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("conf: 加载 .env 失败: %w", err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadTestConfig 加载 MINIG_TEST_CONFIG 指向的配置。未设置时 ok 为 false。
func LoadTestConfig() (cfg *Config, ok bool, err error) {
	path := os.Getenv(TestConfigEnv)
	if path == "" {
		return nil, false, nil
	}
	cfg, err = LoadConfig(path)
	return cfg, true, err
}

func readConfigFile(path string) ([]byte, error) {
	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return nil, fmt.Errorf("conf: 读取配置文件失败: %w", err)
		}
		return data, nil
	}
	for _, p := range candidatePaths() {
		data, err := os.ReadFile(filepath.Clean(p))
		if err == nil {
			return data, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("conf: 读取配置文件失败: %w", err)
		}
	}
	return nil, nil
}

// applyEnv 应用 MINIG_IMAP_*、MINIG_SIEVE_* 和 MINIG_LOG_* 环境变量。
func (cfg *Config) applyEnv(lookup func(string) (string, bool)) error {
	if err := cfg.IMAP.applyEnv("MINIG_IMAP_", lookup); err != nil {
		return err
	}
	if err := cfg.Sieve.applyEnv("MINIG_SIEVE_", lookup); err != nil {
		return err
	}
	if v, ok := lookup("MINIG_LOG_LEVEL"); ok {
		cfg.Log.Level = v
	}
	if v, ok := lookup("MINIG_LOG_FORMAT"); ok {
		cfg.Log.Format = v
	}
	if v, ok := lookup("MINIG_LOG_PROTOCOL"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("conf: MINIG_LOG_PROTOCOL: %w", err)
		}
		cfg.Log.Protocol = b
	}
	return nil
}

func (e *Endpoint) applyEnv(prefix string, lookup func(string) (string, bool)) error {
	strs := []struct {
		key string
		out *string
	}{
		{"HOST", &e.Host},
		{"USER", &e.Username},
		{"PASSWORD", &e.Password},
	}
	for _, s := range strs {
		if v, ok := lookup(prefix + s.key); ok {
			*s.out = v
		}
	}

	if v, ok := lookup(prefix + "PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("conf: %vPORT: %w", prefix, err)
		}
		e.Port = port
	}

	bools := []struct {
		key string
		set func(bool)
	}{
		{"TLS", func(b bool) { e.TLS = &b }},
		{"IMPLICIT_TLS", func(b bool) { e.ImplicitTLS = b }},
		{"INSECURE_SKIP_VERIFY", func(b bool) { e.InsecureSkipVerify = b }},
	}
	for _, b := range bools {
		v, ok := lookup(prefix + b.key)
		if !ok {
			continue
		}
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("conf: %v%v: %w", prefix, b.key, err)
		}
		b.set(parsed)
	}

	if v, ok := lookup(prefix + "COMMAND_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("conf: %vCOMMAND_TIMEOUT: %w", prefix, err)
		}
		e.CommandTimeout = d
	}
	return nil
}

// setDefaults 填充端口和日志的默认值。Sieve 端点缺少的主机和凭证取自 IMAP 端点。
func (cfg *Config) setDefaults() {
	if cfg.IMAP.Port == 0 {
		if cfg.IMAP.ImplicitTLS {
			cfg.IMAP.Port = DefaultIMAPSPort
		} else {
			cfg.IMAP.Port = DefaultIMAPPort
		}
	}

	if cfg.Sieve.Host == "" {
		cfg.Sieve.Host = cfg.IMAP.Host
	}
	if cfg.Sieve.Username == "" {
		cfg.Sieve.Username = cfg.IMAP.Username
		if cfg.Sieve.Password == "" {
			cfg.Sieve.Password = cfg.IMAP.Password
		}
	}
	if cfg.Sieve.Port == 0 {
		cfg.Sieve.Port = DefaultSievePort
	}
	if cfg.Sieve.TLS == nil {
		cfg.Sieve.TLS = cfg.IMAP.TLS
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = zerolog.LevelInfoValue
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
}

// Validate 检查配置是否完整。
func (cfg *Config) Validate() error {
	var errs []error
	if cfg.IMAP.Host == "" {
		errs = append(errs, errors.New("imap.host 不能为空"))
	}
	if cfg.IMAP.Username == "" {
		errs = append(errs, errors.New("imap.username 不能为空"))
	}
	for name, port := range map[string]int{"imap.port": cfg.IMAP.Port, "sieve.port": cfg.Sieve.Port} {
		if port <= 0 || port > 65535 {
			errs = append(errs, fmt.Errorf("%v 无效: %v", name, port))
		}
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(cfg.Log.Level)); err != nil {
		errs = append(errs, fmt.Errorf("log.level 无效: %q", cfg.Log.Level))
	}
	switch cfg.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format 无效: %q", cfg.Log.Format))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("conf: 配置无效: %w", err)
	}
	return nil
}
