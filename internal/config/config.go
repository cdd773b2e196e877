package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ListenAddr string `yaml:"listenAddr"`
	MongoURI   string `yaml:"mongoURI"`
	RedisAddr  string `yaml:"redisAddr"`
	RedisDB    int    `yaml:"redisDB"`
	RedisPass  string `yaml:"redisPass"`
	JWTSecret  string `yaml:"jwtSecret"`

	// 管理口令（bcrypt 哈希；admin 登录换取 JWT）
	AdminPasswordHash string `yaml:"adminPasswordHash"`

	// Kafka 配置（可选，留空关闭事件流）
	KafkaBrokers     string `yaml:"kafkaBrokers"` // 逗号分隔
	KafkaEventsTopic string `yaml:"kafkaEventsTopic"`
	KafkaGroupID     string `yaml:"kafkaGroupID"` // 对账消费组

	// 对账周期（秒）
	ReconcileIntervalSec int `yaml:"reconcileIntervalSec"`

	// 速率限制（消息发送）
	SendQPS   int `yaml:"sendQPS"`
	SendBurst int `yaml:"sendBurst"`

	// 查询默认/上限
	QueryDefaultLimit int `yaml:"queryDefaultLimit"`
	QueryMaxLimit     int `yaml:"queryMaxLimit"`

	// 指标开关
	EnableMetrics bool `yaml:"enableMetrics"`
}

func Load() *Config {
	// 1) 默认值
	cfg := &Config{
		ListenAddr: ":8080",
		MongoURI:   "mongodb://127.0.0.1:27017/chatstore",
		RedisAddr:  "127.0.0.1:6379",
		JWTSecret:  "change-me-in-prod",

		KafkaBrokers:     "",
		KafkaEventsTopic: "chat-message-events",
		KafkaGroupID:     "chat-reconciler",

		ReconcileIntervalSec: 300,

		SendQPS:   20,
		SendBurst: 40,

		QueryDefaultLimit: 50,
		QueryMaxLimit:     200,

		EnableMetrics: true,
	}

	// 2) YAML 覆盖（如果有）
	configPath := getEnv("CHAT_CONFIG_FILE", getEnv("CONFIG_FILE", "config.yml"))
	if st, err := os.Stat(configPath); err == nil && !st.IsDir() {
		if data, err2 := os.ReadFile(configPath); err2 == nil {
			_ = yaml.Unmarshal(data, cfg)
		}
	}

	// 3) 环境变量覆盖 YAML
	applyEnv(cfg)
	return cfg
}

func applyEnv(cfg *Config) {
	setStr := func(env string, dst *string) {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
	setInt := func(env string, dst *int) {
		if v := os.Getenv(env); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setBool := func(env string, dst *bool) {
		if v := os.Getenv(env); v != "" {
			*dst = (v == "true" || v == "1" || v == "yes")
		}
	}

	setStr("CHAT_LISTEN_ADDR", &cfg.ListenAddr)
	setStr("CHAT_MONGO_URI", &cfg.MongoURI)
	setStr("CHAT_REDIS_ADDR", &cfg.RedisAddr)
	setStr("CHAT_REDIS_PASS", &cfg.RedisPass)
	setInt("CHAT_REDIS_DB", &cfg.RedisDB)
	setStr("CHAT_JWT_SECRET", &cfg.JWTSecret)
	setStr("CHAT_ADMIN_PASSWORD_HASH", &cfg.AdminPasswordHash)

	setStr("CHAT_KAFKA_BROKERS", &cfg.KafkaBrokers)
	setStr("CHAT_KAFKA_EVENTS_TOPIC", &cfg.KafkaEventsTopic)
	setStr("CHAT_KAFKA_GROUP_ID", &cfg.KafkaGroupID)

	setInt("CHAT_RECONCILE_INTERVAL_SEC", &cfg.ReconcileIntervalSec)

	setInt("CHAT_SEND_QPS", &cfg.SendQPS)
	setInt("CHAT_SEND_BURST", &cfg.SendBurst)

	setInt("CHAT_QUERY_DEFAULT_LIMIT", &cfg.QueryDefaultLimit)
	setInt("CHAT_QUERY_MAX_LIMIT", &cfg.QueryMaxLimit)

	setBool("CHAT_ENABLE_METRICS", &cfg.EnableMetrics)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// ClampLimit 将调用方 limit 规整到 (0, QueryMaxLimit]。
func (c *Config) ClampLimit(limit int) int {
	if limit <= 0 {
		return c.QueryDefaultLimit
	}
	if limit > c.QueryMaxLimit {
		return c.QueryMaxLimit
	}
	return limit
}
