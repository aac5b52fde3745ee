// Package config — настройки сервиса: умолчания, файл crudkit.yaml|json,
// переменные CRUDKIT_* (в том числе из .env) и флаги, в порядке возрастания приоритета.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "CRUDKIT"

type Config struct {
	Port        string   `mapstructure:"port"`
	DSLDir      string   `mapstructure:"dsl_dir"`
	EnumsDir    string   `mapstructure:"enums_dir"`
	DBDriver    string   `mapstructure:"db_driver"` // memory | sqlite | postgres
	DBURL       string   `mapstructure:"db_url"`
	AutoMigrate bool     `mapstructure:"auto_migrate"`
	LogLevel    string   `mapstructure:"log_level"`
	LogFormat   string   `mapstructure:"log_format"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("dsl_dir", "dsl")
	v.SetDefault("enums_dir", "reference/enums")
	v.SetDefault("db_driver", "")
	v.SetDefault("db_url", "")
	v.SetDefault("auto_migrate", true)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
	v.SetDefault("cors_origins", []string{})
}

// флаг -> ключ конфигурации
var flagKeys = map[string]string{
	"port":         "port",
	"dsl":          "dsl_dir",
	"enums":        "enums_dir",
	"db-driver":    "db_driver",
	"db":           "db_url",
	"auto-migrate": "auto_migrate",
	"log-level":    "log_level",
	"log-format":   "log_format",
	"cors-origins": "cors_origins",
}

// BindFlags объявляет флаги конфигурации (значения по умолчанию берутся из viper,
// здесь они только для справки).
func BindFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Path to config file (yaml|json); default ./crudkit.*")
	fs.String("port", "8080", "HTTP port")
	fs.String("dsl", "dsl", "Path to DSL directory")
	fs.String("enums", "reference/enums", "Path to enums directory")
	fs.String("db-driver", "", "Storage driver: memory|sqlite|postgres (empty: postgres if --db is set)")
	fs.String("db", "", "Database URL (empty = in-memory)")
	fs.Bool("auto-migrate", true, "Create tables on startup")
	fs.String("log-level", "info", "Log level: debug|info|warn|error")
	fs.String("log-format", "console", "Log format: console|json")
	fs.StringSlice("cors-origins", nil, "Allowed CORS origins (empty = any)")
}

// Load собирает конфигурацию. fs может быть nil; учитываются только флаги,
// явно переданные в командной строке.
func Load(fs *pflag.FlagSet) (Config, error) {
	// .env необязателен
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	path := ""
	if fs != nil {
		if f := fs.Lookup("config"); f != nil {
			path = f.Value.String()
		}
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("crudkit")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if fs != nil {
		for name, key := range flagKeys {
			f := fs.Lookup(name)
			if f == nil || !f.Changed {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return Config{}, err
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() error {
	c.Port = strings.TrimSpace(c.Port)
	c.DSLDir = strings.TrimSpace(c.DSLDir)
	c.EnumsDir = strings.TrimSpace(c.EnumsDir)
	c.DBURL = strings.TrimSpace(c.DBURL)
	c.DBDriver = strings.ToLower(strings.TrimSpace(c.DBDriver))

	if c.DBDriver == "" {
		// драйвер не задан: при URL postgres, иначе память
		c.DBDriver = "memory"
		if c.DBURL != "" {
			c.DBDriver = "postgres"
		}
	}
	switch c.DBDriver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("db_driver must be memory|sqlite|postgres, got %q", c.DBDriver)
	}
	if c.DBDriver == "postgres" && c.DBURL == "" {
		return errors.New("db_url is required for postgres")
	}
	if c.Port == "" {
		return errors.New("port must not be empty")
	}
	return nil
}

func (c Config) Addr() string { return ":" + c.Port }
