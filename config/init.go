package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Конечная структура конфигурации приложения.
type Config struct {
	Server struct {
		Address  string `mapstructure:"address"`   // 0.0.0.0
		HTTPPort string `mapstructure:"http_port"` // 8080
		// IP или CIDR прокси, от которых принимается X-Forwarded-For; пусто: заголовок не учитывается
		TrustedProxies []string `mapstructure:"trusted_proxies"`
	} `mapstructure:"server"`

	App struct {
		Env         string `mapstructure:"env"`          // production|development
		FrontendURL string `mapstructure:"frontend_url"` // база для ссылок в письмах
	} `mapstructure:"app"`

	Logging struct {
		Level  string `mapstructure:"level"`  // trace|debug|info|warning|error|fatal
		Format string `mapstructure:"format"` // text|json
		File   string `mapstructure:"file"`   // путь/префикс файла, пусто: только stdout
	} `mapstructure:"logs"`

	Database struct {
		Driver string `mapstructure:"driver"` // "postgres" | "mysql" | "" (in-memory)
		DSN    string `mapstructure:"dsn"`
	} `mapstructure:"database"`

	Auth struct {
		AccessSecret    string        `mapstructure:"access_secret"`
		RefreshSecret   string        `mapstructure:"refresh_secret"`
		ResetSecret     string        `mapstructure:"reset_secret"`
		AccessTTL       time.Duration `mapstructure:"access_ttl"`
		RefreshTTL      time.Duration `mapstructure:"refresh_ttl"`
		ResetTTL        time.Duration `mapstructure:"reset_ttl"`
		BcryptCost      int           `mapstructure:"bcrypt_cost"`
		MaxFailedLogins int           `mapstructure:"max_failed_logins"`
		LockoutDuration time.Duration `mapstructure:"lockout_duration"`
	} `mapstructure:"auth"`

	Mail struct {
		Host     string `mapstructure:"host"` // пусто: письма только пишутся в лог
		Port     int    `mapstructure:"port"`
		Username string `mapstructure:"username"`
		Password string `mapstructure:"password"`
		From     string `mapstructure:"from"`
	} `mapstructure:"mail"`

	Redis struct {
		Addr     string `mapstructure:"addr"` // пусто: лимиты в памяти процесса
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`

	RateLimit struct {
		LoginLimit int           `mapstructure:"login_limit"`
		ResetLimit int           `mapstructure:"reset_limit"`
		Window     time.Duration `mapstructure:"window"`
	} `mapstructure:"ratelimit"`

	Scheduler struct {
		SweepSpec string `mapstructure:"sweep_spec"` // cron-выражение, пусто: отключено
	} `mapstructure:"scheduler"`

	Bootstrap struct {
		Email    string `mapstructure:"email"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
	} `mapstructure:"bootstrap"`
}

// MinProdBcryptCost: нижняя граница auth.bcrypt_cost вне dev-режима.
const MinProdBcryptCost = 10

// IsDevelopment: в dev-режиме текст внутренних ошибок отдаётся клиенту.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(strings.TrimSpace(c.App.Env), "development")
}

// Load читает конфиг из env/файла с дефолтами.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Источник файла
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			v.AddConfigPath(filepath.Join(xdg, "shepherd"))
		}
		v.AddConfigPath("/etc/shepherd")
	}

	// Чтение файла (опционально)
	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if !errors.As(err, &nf) {
			return nil, fmt.Errorf("config read error: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config unmarshal error: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", "0.0.0.0")
	v.SetDefault("server.http_port", "8080")
	v.SetDefault("server.trusted_proxies", []string{})

	v.SetDefault("app.env", "production")
	v.SetDefault("app.frontend_url", "http://localhost:3000")

	v.SetDefault("logs.level", "info")
	v.SetDefault("logs.format", "text")
	v.SetDefault("logs.file", "")

	// DB: по умолчанию in-memory (пустой driver)
	v.SetDefault("database.driver", "")
	v.SetDefault("database.dsn", "")

	// Секреты обязаны прийти снаружи, CHANGE_ME не проходит validate
	v.SetDefault("auth.access_secret", "CHANGE_ME")
	v.SetDefault("auth.refresh_secret", "CHANGE_ME")
	v.SetDefault("auth.reset_secret", "CHANGE_ME")
	v.SetDefault("auth.access_ttl", "15m")
	v.SetDefault("auth.refresh_ttl", "168h")
	v.SetDefault("auth.reset_ttl", "1h")
	v.SetDefault("auth.bcrypt_cost", 12)
	v.SetDefault("auth.max_failed_logins", 5)
	v.SetDefault("auth.lockout_duration", "30m")

	v.SetDefault("mail.host", "")
	v.SetDefault("mail.port", 587)
	v.SetDefault("mail.username", "")
	v.SetDefault("mail.password", "")
	v.SetDefault("mail.from", "no-reply@localhost")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("ratelimit.login_limit", 20)
	v.SetDefault("ratelimit.reset_limit", 5)
	v.SetDefault("ratelimit.window", "15m")

	v.SetDefault("scheduler.sweep_spec", "@every 10m")

	v.SetDefault("bootstrap.email", "")
	v.SetDefault("bootstrap.password", "")
	v.SetDefault("bootstrap.name", "Super Admin")
}

func validate(c *Config) error {
	secrets := map[string]string{
		"auth.access_secret":  c.Auth.AccessSecret,
		"auth.refresh_secret": c.Auth.RefreshSecret,
		"auth.reset_secret":   c.Auth.ResetSecret,
	}
	for key, val := range secrets {
		if strings.TrimSpace(val) == "" || val == "CHANGE_ME" {
			return fmt.Errorf("%s must be set (not empty and not CHANGE_ME)", key)
		}
	}
	if c.Auth.AccessSecret == c.Auth.RefreshSecret {
		return errors.New("auth.access_secret and auth.refresh_secret must differ")
	}
	if c.Auth.AccessTTL <= 0 || c.Auth.RefreshTTL <= 0 || c.Auth.ResetTTL <= 0 {
		return errors.New("auth token ttl values must be positive")
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		return errors.New("auth.bcrypt_cost must be within 4..31")
	}
	// стоимость ниже MinProdBcryptCost допустима только в dev-режиме (тесты, локальный запуск)
	if !c.IsDevelopment() && c.Auth.BcryptCost < MinProdBcryptCost {
		return fmt.Errorf("auth.bcrypt_cost must be at least %d outside development", MinProdBcryptCost)
	}
	for _, p := range c.Server.TrustedProxies {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, _, err := net.ParseCIDR(p); err != nil && net.ParseIP(p) == nil {
			return fmt.Errorf("server.trusted_proxies: %q is not an IP or CIDR", p)
		}
	}
	if c.RateLimit.Window <= 0 {
		return errors.New("ratelimit.window must be positive")
	}
	if c.Bootstrap.Email != "" && len(c.Bootstrap.Password) < 8 {
		return errors.New("bootstrap.password must be at least 8 characters")
	}
	if strings.TrimSpace(c.Server.Address) == "" {
		return errors.New("server.address must not be empty")
	}
	if strings.TrimSpace(c.Server.HTTPPort) == "" {
		return errors.New("server.http_port must not be empty")
	}
	return nil
}
