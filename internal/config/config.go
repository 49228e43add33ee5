// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Chat          ChatConfig          `mapstructure:"chat"`
	Blog          BlogConfig          `mapstructure:"blog"`
	Admin         AdminConfig         `mapstructure:"admin"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN         string `mapstructure:"dsn"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 存储 JWT 相关的配置。
type JWTConfig struct {
	Secret                 string `mapstructure:"secret"`
	AccessTokenExpireHours int    `mapstructure:"access_token_expire_hours"`
	RefreshTokenExpireDays int    `mapstructure:"refresh_token_expire_days"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Endpoint        string        `mapstructure:"endpoint"`
	AccessKeyID     string        `mapstructure:"access_key_id"`
	SecretAccessKey string        `mapstructure:"secret_access_key"`
	UseSSL          bool          `mapstructure:"use_ssl"`
	BucketName      string        `mapstructure:"bucket_name"`
	PresignExpiry   time.Duration `mapstructure:"presign_expiry"`
}

// ChatConfig 存储客服聊天相关的配置。
type ChatConfig struct {
	// GuestRateLimit 是每个 IP 每分钟允许的访客请求数，0 表示不限流。
	GuestRateLimit int `mapstructure:"guest_rate_limit"`
	// PollInterval 仅下发给客户端，作为 WebSocket 不可用时的轮询间隔。
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// BlogConfig 存储博客读缓存相关的配置。
type BlogConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	// SeedDir 下的 *.json 文章会在启动时按 slug 导入，目录不存在则跳过。
	SeedDir string `mapstructure:"seed_dir"`
}

// AdminConfig 用于启动时创建初始管理员账号，Phone 或 Password 为空则跳过。
type AdminConfig struct {
	Name     string `mapstructure:"name"`
	Phone    string `mapstructure:"phone"`
	Email    string `mapstructure:"email"`
	Password string `mapstructure:"password"`
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
// 环境变量（以及可选的 .env 文件）会覆盖文件中的同名配置，例如 JWT_SECRET 覆盖 jwt.secret。
func Init(configPath string) {
	// .env 不存在时直接忽略
	_ = godotenv.Load()

	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("读取配置文件失败: %w", err))
	}

	if err := viper.Unmarshal(&Conf); err != nil {
		panic(fmt.Errorf("无法将配置解析到结构体中: %w", err))
	}
}

func setDefaults() {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.mode", "release")
	viper.SetDefault("jwt.access_token_expire_hours", 24)
	viper.SetDefault("jwt.refresh_token_expire_days", 7)
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")
	viper.SetDefault("kafka.topic", "chat.message.created")
	viper.SetDefault("kafka.group_id", "talanoor-indexer")
	viper.SetDefault("elasticsearch.index_name", "chat_messages")
	viper.SetDefault("minio.bucket_name", "talanoor-transcripts")
	viper.SetDefault("minio.presign_expiry", "1h")
	viper.SetDefault("chat.guest_rate_limit", 60)
	viper.SetDefault("chat.poll_interval", "10s")
	viper.SetDefault("blog.cache_ttl", "24h")
	viper.SetDefault("blog.seed_dir", "initblog")
	viper.SetDefault("admin.name", "پشتیبانی طلانور")
}
