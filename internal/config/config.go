package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config 结构用于映射 config.yaml 文件的内容
type Config struct {
	Server   ServerConfig   `yaml:"server" json:"server"`
	Log      LogConfig      `yaml:"log" json:"log"`
	Storage  StorageConfig  `yaml:"storage" json:"storage"`
	Sources  SourcesConfig  `yaml:"sources" json:"sources"`
	Probe    ProbeConfig    `yaml:"probe" json:"probe"`
	Rank     RankConfig     `yaml:"rank" json:"rank"`
	Ping     PingConfig     `yaml:"ping" json:"ping"`
	Schedule ScheduleConfig `yaml:"schedule" json:"schedule"`
	Proxy    ProxyConfig    `yaml:"proxy" json:"proxy"`
}

type ServerConfig struct {
	Listen string `yaml:"listen" json:"listen"`
}

type LogConfig struct {
	Level      string `yaml:"level" json:"level"`
	File       string `yaml:"file" json:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days"`
}

// StorageConfig 快照存储后端，type 可选 file / memory / redis / s3 / kv
type StorageConfig struct {
	Type     string        `yaml:"type" json:"type"`
	Dir      string        `yaml:"dir" json:"dir"`
	CacheTTL time.Duration `yaml:"cache_ttl" json:"cache_ttl"`
	Redis    RedisConfig   `yaml:"redis" json:"redis"`
	S3       S3Config      `yaml:"s3" json:"s3"`
	KV       KVConfig      `yaml:"kv" json:"kv"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"-"`
	DB       int    `yaml:"db" json:"db"`
	Prefix   string `yaml:"prefix" json:"prefix"`
}

type S3Config struct {
	Endpoint  string `yaml:"endpoint" json:"endpoint"`
	AccessKey string `yaml:"access_key" json:"-"`
	SecretKey string `yaml:"secret_key" json:"-"`
	Bucket    string `yaml:"bucket" json:"bucket"`
	Prefix    string `yaml:"prefix" json:"prefix"`
	UseSSL    bool   `yaml:"use_ssl" json:"use_ssl"`
}

// KVConfig 通过 Worker 网关访问的 KV 存储
type KVConfig struct {
	URL   string `yaml:"url" json:"url"`
	Token string `yaml:"token" json:"-"`
}

type SourcesConfig struct {
	URLs       []string      `yaml:"urls" json:"urls"`
	File       string        `yaml:"file" json:"file"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
	BatchSize  int           `yaml:"batch_size" json:"batch_size"`
	BatchDelay time.Duration `yaml:"batch_delay" json:"batch_delay"`
	UserAgent  string        `yaml:"user_agent" json:"user_agent"`
}

// ProbeConfig 测速策略配置，strategy 可选 batchping / direct
type ProbeConfig struct {
	Strategy     string        `yaml:"strategy" json:"strategy"`
	TestURL      string        `yaml:"test_url" json:"test_url"`
	PayloadBytes int           `yaml:"payload_bytes" json:"payload_bytes"`
	Timeout      time.Duration `yaml:"timeout" json:"timeout"`
	UserAgent    string        `yaml:"user_agent" json:"user_agent"`
	RateLimitMB  float64       `yaml:"rate_limit_mb" json:"rate_limit_mb"`
}

type RankConfig struct {
	BatchSize       int           `yaml:"batch_size" json:"batch_size"`
	BatchDelay      time.Duration `yaml:"batch_delay" json:"batch_delay"`
	TopK            int           `yaml:"top_k" json:"top_k"`
	MaxTests        int           `yaml:"max_tests" json:"max_tests"`
	MaxTestsCeiling int           `yaml:"max_tests_ceiling" json:"max_tests_ceiling"`
}

type PingConfig struct {
	SubmitURL         string        `yaml:"submit_url" json:"submit_url"`
	PollURL           string        `yaml:"poll_url" json:"poll_url"`
	Nodes             []string      `yaml:"nodes" json:"nodes"`
	VantageFile       string        `yaml:"vantage_file" json:"vantage_file"`
	MaxIPs            int           `yaml:"max_ips" json:"max_ips"`
	Timeout           time.Duration `yaml:"timeout" json:"timeout"`
	CollectTimeout    time.Duration `yaml:"collect_timeout" json:"collect_timeout"`
	PollInterval      time.Duration `yaml:"poll_interval" json:"poll_interval"`
	PollAttempts      int           `yaml:"poll_attempts" json:"poll_attempts"`
	EarlyStopRatio    float64       `yaml:"early_stop_ratio" json:"early_stop_ratio"`
	PriorityWeight    float64       `yaml:"priority_weight" json:"priority_weight"`
	GuardSecret       string        `yaml:"guard_secret" json:"-"`
	TokenSalt         string        `yaml:"token_salt" json:"-"`
	MinSubmitInterval time.Duration `yaml:"min_submit_interval" json:"min_submit_interval"`
	UserAgent         string        `yaml:"user_agent" json:"user_agent"`
}

type ScheduleConfig struct {
	Cron       string `yaml:"cron" json:"cron"`
	RunOnStart bool   `yaml:"run_on_start" json:"run_on_start"`
}

// ProxyConfig 抓取镜像源和访问测速服务时使用的 SOCKS5 代理
type ProxyConfig struct {
	Socks5 string `yaml:"socks5" json:"socks5"`
}

// DefaultSources 默认镜像源
var DefaultSources = []string{
	"https://ip.164746.xyz",
	"https://ip.haogege.xyz/",
	"https://stock.hostmonit.com/CloudFlareYes",
	"https://api.uouin.com/cloudflare.html",
	"https://addressesapi.090227.xyz/CloudFlareYes",
	"https://addressesapi.090227.xyz/ip.164746.xyz",
	"https://www.wetest.vip/page/cloudflare/address_v4.html",
}

// DefaultNodes 默认的测速节点 id
var DefaultNodes = []string{"1310", "1273", "1250", "1227", "1254", "1249", "1169", "1278", "1290", "1315", "1316", "1213"}

// Default 返回完整的默认配置
func Default() *Config {
	return &Config{
		Server: ServerConfig{Listen: "0.0.0.0:8080"},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
		Storage: StorageConfig{
			Type:     "file",
			Dir:      "data",
			CacheTTL: 30 * time.Second,
			Redis:    RedisConfig{Addr: "127.0.0.1:6379", Prefix: "bestip:"},
			S3:       S3Config{UseSSL: true},
		},
		Sources: SourcesConfig{
			URLs:       append([]string(nil), DefaultSources...),
			Timeout:    8 * time.Second,
			BatchSize:  3,
			BatchDelay: time.Second,
			UserAgent:  "Mozilla/5.0 (compatible; Cloudflare-IP-Collector/1.0)",
		},
		Probe: ProbeConfig{
			Strategy:     "batchping",
			TestURL:      "https://speed.cloudflare.com/__down?bytes=%d",
			PayloadBytes: 300000,
			Timeout:      8 * time.Second,
			UserAgent:    "Mozilla/5.0 (compatible; CF-Worker-Test/1.0; low-volume-manual)",
		},
		Rank: RankConfig{
			BatchSize:       2,
			BatchDelay:      1500 * time.Millisecond,
			TopK:            25,
			MaxTests:        25,
			MaxTestsCeiling: 70,
		},
		Ping: PingConfig{
			SubmitURL:         "https://www.itdog.cn/batch_ping/",
			Nodes:             append([]string(nil), DefaultNodes...),
			MaxIPs:            200,
			Timeout:           10 * time.Second,
			CollectTimeout:    25 * time.Second,
			PollInterval:      800 * time.Millisecond,
			PollAttempts:      25,
			EarlyStopRatio:    0.6,
			PriorityWeight:    1.3,
			GuardSecret:       "PTNo2n3Ev5",
			TokenSalt:         "token_20230313000136kwyktxb0tgspm00yo5",
			MinSubmitInterval: 2 * time.Second,
			UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/144.0.0.0 Safari/537.36 Edg/144.0.0.0",
		},
		Schedule: ScheduleConfig{Cron: "0 */6 * * *"},
	}
}

// LoadConfig 从指定路径加载和解析 YAML 配置文件，未配置的字段保留默认值
func LoadConfig(path string) (*Config, error) {
	// .env 不存在时忽略
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("解析配置文件失败: %w", err)
		}
	}
	cfg.applyEnv()
	cfg.Validate()
	return cfg, nil
}

// applyEnv 环境变量覆盖
func (c *Config) applyEnv() {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString("BESTIP_LISTEN", &c.Server.Listen)
	setString("BESTIP_LOG_LEVEL", &c.Log.Level)
	setString("BESTIP_STORAGE", &c.Storage.Type)
	setString("BESTIP_STORAGE_DIR", &c.Storage.Dir)
	setString("BESTIP_REDIS_ADDR", &c.Storage.Redis.Addr)
	setString("BESTIP_REDIS_PASSWORD", &c.Storage.Redis.Password)
	setString("BESTIP_S3_ENDPOINT", &c.Storage.S3.Endpoint)
	setString("BESTIP_S3_ACCESS_KEY", &c.Storage.S3.AccessKey)
	setString("BESTIP_S3_SECRET_KEY", &c.Storage.S3.SecretKey)
	setString("BESTIP_S3_BUCKET", &c.Storage.S3.Bucket)
	setString("BESTIP_KV_URL", &c.Storage.KV.URL)
	setString("BESTIP_KV_TOKEN", &c.Storage.KV.Token)
	setString("BESTIP_STRATEGY", &c.Probe.Strategy)
	setString("BESTIP_CRON", &c.Schedule.Cron)
	setString("BESTIP_SOCKS5", &c.Proxy.Socks5)
	if v := os.Getenv("BESTIP_REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			c.Storage.Redis.DB = db
		}
	}
}

// Validate 修正非法取值，避免后续出现死锁或除零
func (c *Config) Validate() {
	def := Default()
	fixInt := func(name string, v *int, fallback int) {
		if *v <= 0 {
			slog.Warn(fmt.Sprintf("配置 %s 被设置为 %d，自动调整为默认值 %d", name, *v, fallback))
			*v = fallback
		}
	}
	fixDuration := func(name string, v *time.Duration, fallback time.Duration) {
		if *v <= 0 {
			slog.Warn(fmt.Sprintf("配置 %s 被设置为 %s，自动调整为默认值 %s", name, *v, fallback))
			*v = fallback
		}
	}

	fixInt("sources.batch_size", &c.Sources.BatchSize, def.Sources.BatchSize)
	fixDuration("sources.timeout", &c.Sources.Timeout, def.Sources.Timeout)
	fixInt("probe.payload_bytes", &c.Probe.PayloadBytes, def.Probe.PayloadBytes)
	fixDuration("probe.timeout", &c.Probe.Timeout, def.Probe.Timeout)
	fixInt("rank.batch_size", &c.Rank.BatchSize, def.Rank.BatchSize)
	fixInt("rank.top_k", &c.Rank.TopK, def.Rank.TopK)
	fixInt("rank.max_tests", &c.Rank.MaxTests, def.Rank.MaxTests)
	fixInt("rank.max_tests_ceiling", &c.Rank.MaxTestsCeiling, def.Rank.MaxTestsCeiling)
	fixInt("ping.max_ips", &c.Ping.MaxIPs, def.Ping.MaxIPs)
	fixInt("ping.poll_attempts", &c.Ping.PollAttempts, def.Ping.PollAttempts)
	fixDuration("ping.timeout", &c.Ping.Timeout, def.Ping.Timeout)
	fixDuration("ping.collect_timeout", &c.Ping.CollectTimeout, def.Ping.CollectTimeout)
	fixDuration("ping.poll_interval", &c.Ping.PollInterval, def.Ping.PollInterval)

	// 延迟允许为 0，只修正负数
	if c.Sources.BatchDelay < 0 {
		c.Sources.BatchDelay = def.Sources.BatchDelay
	}
	if c.Rank.BatchDelay < 0 {
		c.Rank.BatchDelay = def.Rank.BatchDelay
	}
	if c.Ping.EarlyStopRatio <= 0 || c.Ping.EarlyStopRatio > 1 {
		c.Ping.EarlyStopRatio = def.Ping.EarlyStopRatio
	}
	if c.Ping.PriorityWeight <= 0 {
		c.Ping.PriorityWeight = def.Ping.PriorityWeight
	}
	if len(c.Ping.Nodes) == 0 {
		c.Ping.Nodes = def.Ping.Nodes
	}

	c.Probe.Strategy = strings.ToLower(strings.TrimSpace(c.Probe.Strategy))
	switch c.Probe.Strategy {
	case "direct", "batchping":
	default:
		slog.Warn(fmt.Sprintf("未知的测速策略 %q，使用 batchping", c.Probe.Strategy))
		c.Probe.Strategy = "batchping"
	}
	c.Storage.Type = strings.ToLower(strings.TrimSpace(c.Storage.Type))
	if c.Storage.Type == "" {
		c.Storage.Type = def.Storage.Type
	}
}

// ProbeURL 返回带有字节数参数的测速地址
func (c *Config) ProbeURL() string {
	if strings.Contains(c.Probe.TestURL, "%d") {
		return fmt.Sprintf(c.Probe.TestURL, c.Probe.PayloadBytes)
	}
	return c.Probe.TestURL
}
