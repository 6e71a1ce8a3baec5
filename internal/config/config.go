package config

import (
	"time"

	"github.com/spf13/viper"

	"github.com/NizariMohamed/chatting/internal/delivery"
	pkgconfig "github.com/NizariMohamed/chatting/pkg/config"
	"github.com/NizariMohamed/chatting/pkg/database"
	"github.com/NizariMohamed/chatting/pkg/log"
	"github.com/NizariMohamed/chatting/pkg/storage"
)

type Config struct {
	Server    ServerConfig
	GRPC      GRPCConfig
	WebSocket WebSocketConfig
	Auth      AuthConfig
	Database  database.Config
	Storage   StorageConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Delivery  delivery.Config
	Log       log.Config
}

type ServerConfig struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type GRPCConfig struct {
	Enabled bool
	Host    string
	Port    int
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBuffer     int           `mapstructure:"send_buffer"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	Issuer    string        `mapstructure:"issuer"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type StorageConfig struct {
	storage.Config `mapstructure:",squash"`
	URLExpiry      time.Duration `mapstructure:"url_expiry"`
	MaxUploadSize  int64         `mapstructure:"max_upload_size"`
	MaxAvatarSize  int64         `mapstructure:"max_avatar_size"`
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

type KafkaConfig struct {
	Enabled    bool
	Brokers    string
	Topic      string
	Partitions int
}

func Load() (*Config, error) {
	v, err := pkgconfig.Load("./config", "config")
	if err != nil {
		return nil, err
	}

	setDefaults(v)

	// Override from environment
	v.BindEnv("server.port", "PORT")
	v.BindEnv("grpc.port", "GRPC_PORT")
	v.BindEnv("auth.jwt_secret", "JWT_SECRET")
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.dbname", "DB_NAME")
	v.BindEnv("database.file_path", "DB_FILE_PATH")
	v.BindEnv("storage.driver", "STORAGE_DRIVER")
	v.BindEnv("storage.local.base_path", "STORAGE_LOCAL_PATH")
	v.BindEnv("storage.s3.endpoint", "S3_ENDPOINT")
	v.BindEnv("storage.s3.bucket", "S3_BUCKET")
	v.BindEnv("storage.s3.access_key_id", "S3_ACCESS_KEY_ID")
	v.BindEnv("storage.s3.secret_access_key", "S3_SECRET_ACCESS_KEY")
	v.BindEnv("redis.enabled", "REDIS_ENABLED")
	v.BindEnv("redis.address", "REDIS_ADDRESS")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("kafka.enabled", "KAFKA_ENABLED")
	v.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("kafka.topic", "KAFKA_TOPIC")
	v.BindEnv("log.level", "LOG_LEVEL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Parse durations
	cfg.Server.ShutdownTimeout = pkgconfig.Duration(v, "server.shutdown_timeout", 30*time.Second)
	cfg.WebSocket.PingInterval = pkgconfig.Duration(v, "websocket.ping_interval", 30*time.Second)
	cfg.WebSocket.PongWait = pkgconfig.Duration(v, "websocket.pong_wait", 60*time.Second)
	cfg.WebSocket.WriteWait = pkgconfig.Duration(v, "websocket.write_wait", 10*time.Second)
	cfg.Auth.TokenTTL = pkgconfig.Duration(v, "auth.token_ttl", 7*24*time.Hour)
	cfg.Storage.URLExpiry = pkgconfig.Duration(v, "storage.url_expiry", 15*time.Minute)
	cfg.Redis.TTL = pkgconfig.Duration(v, "redis.ttl", 30*24*time.Hour)
	cfg.Database.SlowThreshold = pkgconfig.Duration(v, "database.slow_threshold", 200*time.Millisecond)

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("grpc.enabled", true)
	v.SetDefault("grpc.host", "0.0.0.0")
	v.SetDefault("grpc.port", 50051)
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 65536)
	v.SetDefault("websocket.send_buffer", 256)
	v.SetDefault("auth.issuer", "chatting")
	v.SetDefault("auth.token_ttl", "168h")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.file_path", "chatting.db")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.conn_max_lifetime", 60)
	v.SetDefault("storage.driver", "local")
	v.SetDefault("storage.local.base_path", "./data/uploads")
	v.SetDefault("storage.s3.region", "us-east-1")
	v.SetDefault("storage.url_expiry", "15m")
	v.SetDefault("storage.max_upload_size", 25<<20)
	v.SetDefault("storage.max_avatar_size", 5<<20)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "chatting")
	v.SetDefault("redis.ttl", "720h")
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.topic", "dm-message-events")
	v.SetDefault("kafka.partitions", 8)
	v.SetDefault("delivery.default_history_limit", delivery.DefaultHistoryLimit)
	v.SetDefault("delivery.max_history_limit", delivery.MaxHistoryLimit)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.service_name", "chatting")
}
