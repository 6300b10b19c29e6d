package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Visitor    VisitorConfig
	DBFile     string
	JournalURL string
	CookieFile string
	LogFile    string
	Timezone   string
	QoS        QoSConfig
	Server     ServerConfig
	Admin      AdminConfig
	Log        LogConfig
}

type VisitorConfig struct {
	UIN      int64
	Nickname string
	Interval time.Duration
}

type QoSConfig struct {
	Limit         int
	Window        time.Duration
	SweepInterval time.Duration
}

type ServerConfig struct {
	Host            string
	Port            int
	RefreshInterval time.Duration
}

type AdminConfig struct {
	Token          string
	IPs            []string
	TrustedProxies []string
	SecretKey      string
	SecureCookie   bool
}

type LogConfig struct {
	Level  string
	Format string
}

// Load reads .env, then the JSON config file at path (optional), then
// VISITOR_* environment overrides. Interval-like keys are in seconds.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // Ignore error if .env not found (e.g. prod)

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("visitor")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &Config{
		Visitor: VisitorConfig{
			UIN:      v.GetInt64("visitor.uin"),
			Nickname: v.GetString("visitor.nickname"),
			Interval: seconds(v, "visitor.interval"),
		},
		DBFile:     v.GetString("db_file"),
		JournalURL: v.GetString("journal_url"),
		CookieFile: v.GetString("cookie_file"),
		LogFile:    v.GetString("log_file"),
		Timezone:   v.GetString("timezone"),
		QoS: QoSConfig{
			Limit:         v.GetInt("qos.limit"),
			Window:        seconds(v, "qos.window"),
			SweepInterval: seconds(v, "qos.sweep_interval"),
		},
		Server: ServerConfig{
			Host:            v.GetString("server.host"),
			Port:            v.GetInt("server.port"),
			RefreshInterval: seconds(v, "server.refresh_interval"),
		},
		Admin: AdminConfig{
			Token:          v.GetString("admin.token"),
			IPs:            v.GetStringSlice("admin.ips"),
			TrustedProxies: v.GetStringSlice("admin.trusted_proxies"),
			SecretKey:      v.GetString("admin.secret_key"),
			SecureCookie:   v.GetBool("admin.secure_cookie"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}
	cfg.deriveFileNames()

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("visitor.interval", 60)
	v.SetDefault("log_file", "access.log")
	v.SetDefault("qos.limit", 60)
	v.SetDefault("qos.window", 60)
	v.SetDefault("qos.sweep_interval", 300)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.refresh_interval", 60)
	v.SetDefault("admin.ips", []string{})
	v.SetDefault("admin.trusted_proxies", []string{})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

func seconds(v *viper.Viper, key string) time.Duration {
	return time.Duration(v.GetFloat64(key) * float64(time.Second))
}

// deriveFileNames fills per-identity file names left empty.
func (c *Config) deriveFileNames() {
	name := c.Visitor.Nickname
	if name == "" {
		name = strconv.FormatInt(c.Visitor.UIN, 10)
	}
	if c.DBFile == "" {
		c.DBFile = fmt.Sprintf("qzone_visitor_db_%s.json", name)
	}
	if c.JournalURL == "" {
		c.JournalURL = fmt.Sprintf("file:qzone_visitor_journal_%s.db", name)
	}
	if c.CookieFile == "" {
		c.CookieFile = fmt.Sprintf("COOKIE/cookies-%d.json", c.Visitor.UIN)
	}
}

func (c *Config) Validate() error {
	var errs []error
	if c.Visitor.UIN <= 0 {
		errs = append(errs, errors.New("visitor.uin is required"))
	}
	if c.Visitor.Interval <= 0 {
		errs = append(errs, errors.New("visitor.interval must be positive"))
	}
	if c.QoS.Limit <= 0 {
		errs = append(errs, errors.New("qos.limit must be positive"))
	}
	if c.QoS.Window <= 0 {
		errs = append(errs, errors.New("qos.window must be positive"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Admin.Token != "" && c.Admin.SecretKey == "" {
		errs = append(errs, errors.New("admin.secret_key is required when admin.token is set"))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Location resolves the reporting time zone; empty means the host's local zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}
