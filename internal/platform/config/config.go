package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Cfg 是一个全局变量，用于存储所有应用程序的配置
var Cfg *Config

// Config 结构体定义了应用程序的所有配置项
// 它与 config.yaml 文件的结构完全对应
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Client   ClientConfig   `mapstructure:"client"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig 定义了服务器相关的配置
type ServerConfig struct {
	Mode    string     `mapstructure:"mode"`
	Address string     `mapstructure:"address"`
	Cors    CorsConfig `mapstructure:"cors"`
	// AdminToken 用于保护比赛管理接口，为空时管理接口全部拒绝
	AdminToken string `mapstructure:"adminToken"`
	// VoterTokenSecret 是签发匿名投票者令牌的HMAC密钥，为空时启动时随机生成
	VoterTokenSecret string `mapstructure:"voterTokenSecret"`
}

// CorsConfig 定义了CORS相关的配置
type CorsConfig struct {
	AllowedOrigins []string `mapstructure:"allowedOrigins"`
}

// DatabaseConfig 定义了数据库和缓存相关的配置
type DatabaseConfig struct {
	Dialect string      `mapstructure:"dialect"`
	DSN     string      `mapstructure:"dsn"`
	Redis   RedisConfig `mapstructure:"redis"`
}

// RedisConfig 定义了Redis的配置
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// SyncConfig 定义了排行榜轮询同步的参数
type SyncConfig struct {
	Interval   time.Duration `mapstructure:"interval"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxBackoff time.Duration `mapstructure:"maxBackoff"`
}

// ClientConfig 定义了命令行客户端访问投票服务的参数
type ClientConfig struct {
	BaseURL    string `mapstructure:"baseURL"`
	VoterToken string `mapstructure:"voterToken"`
}

// LogConfig 定义了日志相关的配置
type LogConfig struct {
	Level string `mapstructure:"level"`
}

const (
	DialectSqlite   = "sqlite"
	DialectPostgres = "postgres"
)

// setDefaults 为所有配置项设置默认值，保证没有配置文件时也能启动
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.cors.allowedOrigins", []string{"http://localhost:3000"})

	v.SetDefault("database.dialect", DialectSqlite)
	v.SetDefault("database.dsn", "contest.db")
	v.SetDefault("database.redis.address", "localhost:6379")
	v.SetDefault("database.redis.db", 0)

	v.SetDefault("sync.interval", 5*time.Second)
	v.SetDefault("sync.timeout", 4*time.Second)
	v.SetDefault("sync.maxBackoff", 60*time.Second)

	v.SetDefault("client.baseURL", "http://localhost:8080")

	v.SetDefault("log.level", "info")
}

// Validate 检查配置项之间的约束
func (c *Config) Validate() error {
	switch c.Server.Mode {
	case "", "debug", "release", "test":
	default:
		return fmt.Errorf("无效的 server.mode: %s", c.Server.Mode)
	}
	switch c.Database.Dialect {
	case DialectSqlite, DialectPostgres:
	default:
		return fmt.Errorf("不支持的数据库类型: %s", c.Database.Dialect)
	}
	if c.Sync.Interval <= 0 {
		return errors.New("sync.interval 必须大于0")
	}
	// 单次拉取必须在下一次tick之前结束，否则无法保证同一时间最多一个请求在途
	if c.Sync.Timeout <= 0 || c.Sync.Timeout >= c.Sync.Interval {
		return fmt.Errorf("sync.timeout (%v) 必须大于0且小于 sync.interval (%v)", c.Sync.Timeout, c.Sync.Interval)
	}
	if c.Sync.MaxBackoff < c.Sync.Interval {
		c.Sync.MaxBackoff = c.Sync.Interval
	}
	return nil
}

// New 创建一个带有默认值和环境变量支持的viper实例。
// 命令行入口可以在调用Load之前把pflag绑定到这个实例上。
func New() *viper.Viper {
	// .env 文件是可选的，不存在时忽略
	_ = godotenv.Load()

	v := viper.New()

	// 1. 设置配置文件名和类型
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// 2. 添加配置文件搜索路径
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	// 3. 允许通过环境变量覆盖配置，例如 SYNC_INTERVAL=10s
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	return v
}

// Load 读取配置文件（如果存在），并将配置反序列化到结构体中
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	Cfg = &cfg
	return Cfg, nil
}

// LoadConfig 使用默认的viper实例加载配置
func LoadConfig() (*Config, error) {
	return Load(New())
}
