package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	AppEnv        string
	AppPort       string
	DBDSN         string
	DBTimeout     time.Duration
	JWTSecret     string
	JWTExpiresMin int
	ClientOrigin  string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	KafkaBrokers []string
	KafkaTopic   string

	WSSendRate     float64
	WSSendBurst    int
	WSPingInterval time.Duration
	WSWriteTimeout time.Duration

	HTTPRatePerMin int
}

// Load reads the process configuration from the environment (.env is loaded by main).
// DB_DSN and JWT_SECRET are required; timeouts and intervals must be positive.
func Load() Config {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("APP_ENV", "dev")
	v.SetDefault("APP_PORT", "8080")
	v.SetDefault("DB_TIMEOUT_MS", 5000)
	v.SetDefault("JWT_EXPIRES_MIN", 10080)
	v.SetDefault("CLIENT_ORIGIN", "*")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("KAFKA_TOPIC", "chat-events")
	v.SetDefault("WS_SEND_RATE", 5)
	v.SetDefault("WS_SEND_BURST", 10)
	v.SetDefault("WS_PING_INTERVAL_SEC", 25)
	v.SetDefault("WS_WRITE_TIMEOUT_SEC", 10)
	v.SetDefault("HTTP_RATE_PER_MIN", 120)

	return Config{
		AppEnv:        v.GetString("APP_ENV"),
		AppPort:       v.GetString("APP_PORT"),
		DBDSN:         must(v, "DB_DSN"),
		DBTimeout:     time.Duration(positive(v, "DB_TIMEOUT_MS")) * time.Millisecond,
		JWTSecret:     must(v, "JWT_SECRET"),
		JWTExpiresMin: v.GetInt("JWT_EXPIRES_MIN"),
		ClientOrigin:  v.GetString("CLIENT_ORIGIN"),

		RedisAddr:     v.GetString("REDIS_ADDR"),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
		RedisDB:       v.GetInt("REDIS_DB"),

		KafkaBrokers: splitList(v.GetString("KAFKA_BROKERS")),
		KafkaTopic:   v.GetString("KAFKA_TOPIC"),

		WSSendRate:     v.GetFloat64("WS_SEND_RATE"),
		WSSendBurst:    v.GetInt("WS_SEND_BURST"),
		WSPingInterval: time.Duration(positive(v, "WS_PING_INTERVAL_SEC")) * time.Second,
		WSWriteTimeout: time.Duration(positive(v, "WS_WRITE_TIMEOUT_SEC")) * time.Second,

		HTTPRatePerMin: v.GetInt("HTTP_RATE_PER_MIN"),
	}
}

func must(v *viper.Viper, k string) string {
	s := strings.TrimSpace(v.GetString(k))
	if s == "" {
		panic("missing env: " + k)
	}
	return s
}

func positive(v *viper.Viper, k string) int {
	n := v.GetInt(k)
	if n <= 0 {
		panic("invalid env: " + k + " must be positive")
	}
	return n
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
