package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig 定义 HTTP 服务器的监听配置参数
type ServerConfig struct {
	Host string // 监听地址，默认 "0.0.0.0"
	Port int    // 监听端口，默认 8080
}

// SMTPConfig 定义 SMTP 邮件接收入口的配置
type SMTPConfig struct {
	BindAddr string // SMTP 服务监听地址，格式 "host:port"，默认 ":25"
	Domain   string // SMTP 服务器域名，用于 HELO/EHLO 响应
	MaxConns int    // 最大并发连接数，默认 50
	MaxRate  int    // 每秒最大新建连接数，默认 10
}

// CORSConfig 定义跨域资源共享 (CORS) 配置
type CORSConfig struct {
	AllowedOrigins []string // 允许的来源列表，"*" 表示允许所有来源
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 启用彩色输出和详细堆栈信息
}

// DatabaseConfig 定义数据库连接配置（支持 MySQL 和 PostgreSQL）
type DatabaseConfig struct {
	Type            string        // 数据库类型: "mysql" 或 "postgres"，为空使用内存存储
	DSN             string        // 数据库连接字符串
	MaxOpenConns    int           // 最大打开连接数，默认 25
	MaxIdleConns    int           // 最大空闲连接数，默认 5
	ConnMaxLifetime time.Duration // 连接最大生命周期，默认 5 分钟
}

// RedisConfig 定义 Redis 缓存服务配置
type RedisConfig struct {
	Address  string // Redis 服务地址，格式 "host:port"，默认 "localhost:6379"
	Password string // Redis 认证密码，留空表示无密码
	DB       int    // Redis 数据库编号，默认 0
}

// ScannerConfig 定义附件管线的核心参数
type ScannerConfig struct {
	ContentTypeBlacklist []string // 整体剔除的检测内容类型
	MaxAttachmentSize    int64    // 附件与归档成员的大小上限（字节），默认 10MB
	MetadataConcurrency  int      // 元数据阶段单集合并发度，默认 4
	KeywordsFile         string   // 目标/主题关键词 JSON 文件路径，可为空
}

// StageConfig 单个处理器阶段的通用参数。
//
// 每个阶段只识别与自己相关的字段，未用到的字段保持零值；
// 未知配置键在加载层不存在，全部字段在此显式枚举。
type StageConfig struct {
	Enabled     bool
	Endpoint    string
	APIKey      string
	PartnerID   string
	Timeout     time.Duration
	Concurrency int
	CacheTTL    time.Duration
	// ContentTypes 文本抽取阶段的内容类型允许列表
	ContentTypes []string
	// Extensions 沙箱阶段的扩展名允许列表
	Extensions []string
	UserAgent  string
	Referer    string
	// Path 样本落盘目录；MinSize 样本最小字节数
	Path    string
	MinSize int64
}

// ProcessorsConfig 各处理器阶段配置
type ProcessorsConfig struct {
	TextExtract StageConfig
	Reputation  StageConfig
	Sandbox     StageConfig
	Intel       StageConfig
	Samples     StageConfig
}

// APIConfig 定义 HTTP API 认证配置
type APIConfig struct {
	// KeyHashes 允许的 API Key 的 bcrypt 哈希列表；为空表示不启用认证
	KeyHashes []string
}

// Config 是系统核心配置的根结构体，包含所有子系统的配置
type Config struct {
	Server     ServerConfig     // HTTP 服务器配置
	SMTP       SMTPConfig       // SMTP 入口配置
	CORS       CORSConfig       // 跨域配置
	Log        LogConfig        // 日志配置
	Database   DatabaseConfig   // 数据库配置
	Redis      RedisConfig      // Redis 配置
	Scanner    ScannerConfig    // 附件管线配置
	Processors ProcessorsConfig // 处理器阶段配置
	API        APIConfig        // API 认证配置
}

// Load 从环境变量和 .env 文件加载系统配置
//
// 配置加载优先级（从高到低）：
//  1. 系统环境变量（最高优先级）
//  2. .env 文件（如果存在）
//  3. 默认值
//
// 环境变量前缀: MAILSCAN_
// 例如: MAILSCAN_SERVER_HOST, MAILSCAN_SCANNER_MAX_ATTACHMENT_SIZE
func Load() (*Config, error) {
	// 尝试加载 .env 文件（静默失败，因为 .env 文件是可选的）
	loadEnvFile()

	viper.SetEnvPrefix("mailscan")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("smtp.bind_addr", ":25")
	viper.SetDefault("smtp.domain", "mailscan.local")
	viper.SetDefault("smtp.max_conns", 50)
	viper.SetDefault("smtp.max_rate", 10)
	viper.SetDefault("cors.allowed_origins", "*")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.development", false)
	viper.SetDefault("database.type", "") // 默认为空，使用内存存储
	viper.SetDefault("database.dsn", "")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("redis.address", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("scanner.content_type_blacklist", "")
	viper.SetDefault("scanner.max_attachment_size", 10*1024*1024)
	viper.SetDefault("scanner.metadata_concurrency", 4)
	viper.SetDefault("scanner.keywords_file", "")
	viper.SetDefault("api.key_hashes", "")

	setStageDefaults("textextract", "30s", 2)
	setStageDefaults("reputation", "15s", 4)
	setStageDefaults("sandbox", "120s", 2)
	setStageDefaults("intel", "10s", 4)
	setStageDefaults("samples", "0s", 0)
	viper.SetDefault("processors.reputation.cache_ttl", "1h")
	viper.SetDefault("processors.sandbox.extensions", ".js,.vbs,.jse,.hta,.wsf,.html,.htm")
	viper.SetDefault("processors.samples.path", "./data/samples")
	viper.SetDefault("processors.samples.min_size", 0)

	connMaxLifetime, err := time.ParseDuration(viper.GetString("database.conn_max_lifetime"))
	if err != nil {
		connMaxLifetime = 5 * time.Minute
	}

	corsOrigins := parseList(viper.GetString("cors.allowed_origins"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	maxSize := viper.GetInt64("scanner.max_attachment_size")
	if maxSize <= 0 {
		return nil, fmt.Errorf("scanner.max_attachment_size must be positive")
	}

	metaConc := viper.GetInt("scanner.metadata_concurrency")
	if metaConc <= 0 {
		metaConc = 4
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: viper.GetString("server.host"),
			Port: viper.GetInt("server.port"),
		},
		SMTP: SMTPConfig{
			BindAddr: viper.GetString("smtp.bind_addr"),
			Domain:   viper.GetString("smtp.domain"),
			MaxConns: viper.GetInt("smtp.max_conns"),
			MaxRate:  viper.GetInt("smtp.max_rate"),
		},
		CORS: CORSConfig{
			AllowedOrigins: corsOrigins,
		},
		Log: LogConfig{
			Level:       viper.GetString("log.level"),
			Development: viper.GetBool("log.development"),
		},
		Database: DatabaseConfig{
			Type:            viper.GetString("database.type"),
			DSN:             viper.GetString("database.dsn"),
			MaxOpenConns:    viper.GetInt("database.max_open_conns"),
			MaxIdleConns:    viper.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: connMaxLifetime,
		},
		Redis: RedisConfig{
			Address:  viper.GetString("redis.address"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		Scanner: ScannerConfig{
			ContentTypeBlacklist: lowerList(parseList(viper.GetString("scanner.content_type_blacklist"))),
			MaxAttachmentSize:    maxSize,
			MetadataConcurrency:  metaConc,
			KeywordsFile:         viper.GetString("scanner.keywords_file"),
		},
		Processors: ProcessorsConfig{
			TextExtract: loadStage("textextract"),
			Reputation:  loadStage("reputation"),
			Sandbox:     loadStage("sandbox"),
			Intel:       loadStage("intel"),
			Samples:     loadStage("samples"),
		},
		API: APIConfig{
			KeyHashes: parseList(viper.GetString("api.key_hashes")),
		},
	}

	return cfg, nil
}

// setStageDefaults 为一个处理器阶段写入公共默认值
func setStageDefaults(name, timeout string, concurrency int) {
	prefix := "processors." + name
	viper.SetDefault(prefix+".enabled", false)
	viper.SetDefault(prefix+".endpoint", "")
	viper.SetDefault(prefix+".api_key", "")
	viper.SetDefault(prefix+".partner_id", "")
	viper.SetDefault(prefix+".timeout", timeout)
	viper.SetDefault(prefix+".concurrency", concurrency)
	viper.SetDefault(prefix+".content_types", "")
	viper.SetDefault(prefix+".user_agent", "")
	viper.SetDefault(prefix+".referer", "")
}

// loadStage 读取一个处理器阶段的全部配置键
func loadStage(name string) StageConfig {
	prefix := "processors." + name

	timeout, err := time.ParseDuration(viper.GetString(prefix + ".timeout"))
	if err != nil {
		timeout = 0
	}
	cacheTTL, err := time.ParseDuration(viper.GetString(prefix + ".cache_ttl"))
	if err != nil {
		cacheTTL = 0
	}

	return StageConfig{
		Enabled:      viper.GetBool(prefix + ".enabled"),
		Endpoint:     viper.GetString(prefix + ".endpoint"),
		APIKey:       viper.GetString(prefix + ".api_key"),
		PartnerID:    viper.GetString(prefix + ".partner_id"),
		Timeout:      timeout,
		Concurrency:  viper.GetInt(prefix + ".concurrency"),
		CacheTTL:     cacheTTL,
		ContentTypes: lowerList(parseList(viper.GetString(prefix + ".content_types"))),
		Extensions:   lowerList(parseList(viper.GetString(prefix + ".extensions"))),
		UserAgent:    viper.GetString(prefix + ".user_agent"),
		Referer:      viper.GetString(prefix + ".referer"),
		Path:         viper.GetString(prefix + ".path"),
		MinSize:      viper.GetInt64(prefix + ".min_size"),
	}
}

// parseList 将逗号分隔的字符串解析为字符串切片
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// lowerList 把列表内所有项转为小写
func lowerList(items []string) []string {
	for i := range items {
		items[i] = strings.ToLower(items[i])
	}
	return items
}

// loadEnvFile 尝试加载 .env 文件
//
// 加载顺序：
//  1. 当前目录的 .env
//  2. 父目录的 .env（用于从 backend/ 子目录运行的情况）
//
// 注意：
//   - 如果文件不存在，静默失败（.env 是可选的）
//   - 环境变量不会被覆盖（已存在的环境变量优先级更高）
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
