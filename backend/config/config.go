package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Running struct {
		Port int    `mapstructure:"port"`
		Env  string `mapstructure:"env"`
	} `mapstructure:"running"`
	Redis Redis `mapstructure:"redis"`
	Mysql struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"mysql"`
	Socket struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"socket"`
	Cors struct {
		Development []string `mapstructure:"development"`
		Production  []string `mapstructure:"production"`
	} `mapstructure:"cors"`
	Cache struct {
		Driver       string `mapstructure:"driver"`
		Capacity     int    `mapstructure:"capacity"`
		SingleFlight bool   `mapstructure:"singleflight"`
	} `mapstructure:"cache"`
	Gateway struct {
		SendBuffer  int           `mapstructure:"sendBuffer"`
		RateLimit   float64       `mapstructure:"rateLimit"`
		RateBurst   int           `mapstructure:"rateBurst"`
		PresenceTTL time.Duration `mapstructure:"presenceTTL"`
	} `mapstructure:"gateway"`
	Auth struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"auth"`
	Log struct {
		Level   string `mapstructure:"level"`
		Console bool   `mapstructure:"console"`
	} `mapstructure:"log"`
}

// Redis is the broker connection target shared by the cache store and the broadcaster.
// When Addrs is non-empty a cluster client is built and Host/Port are ignored.
type Redis struct {
	Host     string   `mapstructure:"host"`
	Port     int      `mapstructure:"port"`
	Password string   `mapstructure:"password"`
	DB       int      `mapstructure:"db"`
	Addrs    []string `mapstructure:"addrs"`
}

func (r Redis) Addr() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("running.port", 3000)
	v.SetDefault("running.env", EnvDevelopment)
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.addrs", []string{})
	v.SetDefault("mysql.dsn", "")
	v.SetDefault("auth.path", "")
	v.SetDefault("socket.path", "/realtime/socket")
	v.SetDefault("cors.development", []string{"http://localhost:3000", "http://localhost:5173", "http://127.0.0.1:3000"})
	v.SetDefault("cors.production", []string{})
	v.SetDefault("cache.driver", "redis")
	v.SetDefault("cache.capacity", 0)
	v.SetDefault("cache.singleflight", false)
	v.SetDefault("gateway.sendBuffer", 64)
	v.SetDefault("gateway.rateLimit", 20.0)
	v.SetDefault("gateway.rateBurst", 40)
	v.SetDefault("gateway.presenceTTL", 10*time.Minute)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.console", true)
}

// Load reads realtime.yaml from the first matching search path, then applies
// REALTIME_* environment overrides. A missing file is not an error.
func Load(paths ...string) (*Config, error) {
	// .env 只在本地开发时存在
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigName("realtime")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		// 兼容从项目根目录或 backend 目录启动
		paths = []string{"./backend/config", "./config", "."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.SetEnvPrefix("REALTIME")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Running.Env {
	case EnvDevelopment, EnvProduction:
	default:
		return fmt.Errorf("config: running.env must be %q or %q, got %q", EnvDevelopment, EnvProduction, c.Running.Env)
	}
	switch c.Cache.Driver {
	case "redis", "memory":
	default:
		return fmt.Errorf("config: unknown cache.driver %q", c.Cache.Driver)
	}
	if !strings.HasPrefix(c.Socket.Path, "/") {
		return fmt.Errorf("config: socket.path must start with '/', got %q", c.Socket.Path)
	}
	return nil
}

// AllowedOrigins returns the CORS origin list for the running environment.
func (c *Config) AllowedOrigins() []string {
	if c.Running.Env == EnvProduction {
		return c.Cors.Production
	}
	return c.Cors.Development
}

func (c *Config) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "env=%s port=%d socket=%s ", c.Running.Env, c.Running.Port, c.Socket.Path)
	if len(c.Redis.Addrs) > 0 {
		fmt.Fprintf(&sb, "redis=cluster%v ", c.Redis.Addrs)
	} else {
		fmt.Fprintf(&sb, "redis=%s/%d ", c.Redis.Addr(), c.Redis.DB)
	}
	if c.Redis.Password != "" {
		sb.WriteString("redisPassword=******** ")
	}
	fmt.Fprintf(&sb, "cache=%s singleflight=%v mysql=%v origins=%v",
		c.Cache.Driver, c.Cache.SingleFlight, c.Mysql.DSN != "", c.AllowedOrigins())
	return sb.String()
}
