// Package config provides HCL configuration handling for the daemon.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/hashicorp/hcl/v2/hclsimple"

	"meridian-router.dev/meridian/internal/brand"
)

// Config is the root daemon configuration.
type Config struct {
	Log           *LogConfig           `hcl:"log,block"`
	API           *APIConfig           `hcl:"api,block"`
	Database      *DatabaseConfig      `hcl:"database,block"`
	Monitoring    *MonitoringConfig    `hcl:"monitoring,block"`
	Firewall      *FirewallConfig      `hcl:"firewall,block"`
	VPN           *VPNConfig           `hcl:"vpn,block"`
	Proxy         *ProxyConfig         `hcl:"proxy,block"`
	Notifications *NotificationsConfig `hcl:"notifications,block"`
}

// LogConfig controls daemon logging.
type LogConfig struct {
	Level string `hcl:"level,optional"` // debug, info, warn, error
	JSON  bool   `hcl:"json,optional"`
	File  string `hcl:"file,optional"` // empty means stderr
}

// APIConfig controls the HTTP API server.
type APIConfig struct {
	Listen      string `hcl:"listen,optional"`
	JWTSecret   string `hcl:"jwt_secret,optional" env:"MERIDIAN_JWT_SECRET"`
	TokenTTLMin int    `hcl:"token_ttl_minutes,optional"`
	TLSCert     string `hcl:"tls_cert,optional"`
	TLSKey      string `hcl:"tls_key,optional"`
}

// TokenTTL returns the JWT lifetime.
func (c *APIConfig) TokenTTL() time.Duration {
	if c.TokenTTLMin <= 0 {
		return 12 * time.Hour
	}
	return time.Duration(c.TokenTTLMin) * time.Minute
}

// DatabaseConfig selects the backing store.
type DatabaseConfig struct {
	Driver string `hcl:"driver,optional"` // postgres or sqlite
	DSN    string `hcl:"dsn,optional" env:"MERIDIAN_DATABASE_URL"`
	Path   string `hcl:"path,optional"` // sqlite file, defaults under the state dir
}

// MonitoringConfig controls the collector, alert loop and retention.
type MonitoringConfig struct {
	CollectIntervalSec      int      `hcl:"collect_interval_seconds,optional"`
	LogCollectIntervalSec   int      `hcl:"log_collect_interval_seconds,optional"`
	HealthCheckIntervalSec  int      `hcl:"health_check_interval_seconds,optional"`
	CleanupHour             int      `hcl:"cleanup_hour,optional"`
	MetricRetentionDays     int      `hcl:"metric_retention_days,optional"`
	LogRetentionDays        int      `hcl:"log_retention_days,optional"`
	ConnectionRetentionMins int      `hcl:"connection_retention_minutes,optional"`
	MaxConnections          int      `hcl:"max_connections,optional"`
	Services                []string `hcl:"services,optional"`
	SyslogFiles             []string `hcl:"syslog_files,optional"`
	AlertsFile              string   `hcl:"alerts_file,optional"` // YAML alert provisioning
}

// CollectInterval returns the metric collection interval.
func (c *MonitoringConfig) CollectInterval() time.Duration {
	if c.CollectIntervalSec <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.CollectIntervalSec) * time.Second
}

// LogCollectInterval returns the syslog collection interval.
func (c *MonitoringConfig) LogCollectInterval() time.Duration {
	if c.LogCollectIntervalSec <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.LogCollectIntervalSec) * time.Second
}

// HealthCheckInterval returns the health check interval.
func (c *MonitoringConfig) HealthCheckInterval() time.Duration {
	if c.HealthCheckIntervalSec <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(c.HealthCheckIntervalSec) * time.Second
}

// ConnectionRetention returns how long connection snapshots are kept.
func (c *MonitoringConfig) ConnectionRetention() time.Duration {
	if c.ConnectionRetentionMins <= 0 {
		return time.Hour
	}
	return time.Duration(c.ConnectionRetentionMins) * time.Minute
}

// FirewallConfig holds nftables paths and unit names.
type FirewallConfig struct {
	ConfigPath   string `hcl:"config_path,optional"`
	BackupDir    string `hcl:"backup_dir,optional"`
	Unit         string `hcl:"unit,optional"`
	WANInterface string `hcl:"wan_interface,optional"` // masquerade target
}

// VPNConfig holds StrongSwan and WireGuard settings.
type VPNConfig struct {
	IPSecConf       string `hcl:"ipsec_conf,optional"`
	IPSecSecrets    string `hcl:"ipsec_secrets,optional"`
	WireGuardDevice string `hcl:"wireguard_device,optional"`
}

// ProxyConfig holds nginx and certbot settings.
type ProxyConfig struct {
	SitesAvailable string `hcl:"sites_available,optional"`
	SitesEnabled   string `hcl:"sites_enabled,optional"`
	Webroot        string `hcl:"webroot,optional"`
	CertbotEmail   string `hcl:"certbot_email,optional"`
	LiveCertDir    string `hcl:"live_cert_dir,optional"`
}

// NotificationsConfig controls the notification dispatcher.
type NotificationsConfig struct {
	Enabled  bool                  `hcl:"enabled,optional"`
	Channels []NotificationChannel `hcl:"channel,block"`
	SMTP     *SMTPConfig           `hcl:"smtp,block"`
}

// NotificationChannel is a single notification destination.
type NotificationChannel struct {
	Name       string            `hcl:"name,label"`
	Type       string            `hcl:"type"` // webhook, discord, ntfy, email
	Enabled    bool              `hcl:"enabled,optional"`
	Level      string            `hcl:"level,optional"` // minimum level: info, warning, critical
	WebhookURL string            `hcl:"webhook_url,optional"`
	Server     string            `hcl:"server,optional"` // ntfy server
	Topic      string            `hcl:"topic,optional"`
	Recipients []string          `hcl:"recipients,optional"` // email addresses
	Headers    map[string]string `hcl:"headers,optional"`
}

// SMTPConfig holds outbound mail settings for email channels.
type SMTPConfig struct {
	Host     string `hcl:"host"`
	Port     int    `hcl:"port,optional"`
	Username string `hcl:"username,optional"`
	Password string `hcl:"password,optional" env:"MERIDIAN_SMTP_PASSWORD"`
	From     string `hcl:"from,optional"`
	StartTLS bool   `hcl:"starttls,optional"`
}

// Addr returns host:port for the SMTP server.
func (c *SMTPConfig) Addr() string {
	port := c.Port
	if port == 0 {
		port = 587
	}
	return fmt.Sprintf("%s:%d", c.Host, port)
}

// Default returns a configuration with all sections populated with defaults.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadFile loads an HCL config file, fills defaults and applies env overrides.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return LoadBytes(path, data)
}

// LoadBytes decodes config from HCL bytes.
func LoadBytes(filename string, data []byte) (*Config, error) {
	var cfg Config
	if err := hclsimple.Decode(filename, data, nil, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.applyDefaults()

	// Env overrides win over file values (secrets stay out of the file).
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply env overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Log == nil {
		c.Log = &LogConfig{}
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.API == nil {
		c.API = &APIConfig{}
	}
	if c.API.Listen == "" {
		c.API.Listen = ":8443"
	}
	if c.Database == nil {
		c.Database = &DatabaseConfig{}
	}
	if c.Database.Driver == "" {
		if c.Database.DSN != "" {
			c.Database.Driver = "postgres"
		} else {
			c.Database.Driver = "sqlite"
		}
	}
	if c.Database.Path == "" {
		c.Database.Path = brand.GetStateDir() + "/" + brand.LowerName + ".db"
	}
	if c.Monitoring == nil {
		c.Monitoring = &MonitoringConfig{}
	}
	if c.Monitoring.MetricRetentionDays <= 0 {
		c.Monitoring.MetricRetentionDays = 30
	}
	if c.Monitoring.LogRetentionDays <= 0 {
		c.Monitoring.LogRetentionDays = 7
	}
	if c.Monitoring.CleanupHour <= 0 {
		c.Monitoring.CleanupHour = 2
	}
	if c.Monitoring.MaxConnections <= 0 {
		c.Monitoring.MaxConnections = 50
	}
	if len(c.Monitoring.Services) == 0 {
		c.Monitoring.Services = []string{"postgresql", "nginx", "nftables", "strongswan", "sshd"}
	}
	if len(c.Monitoring.SyslogFiles) == 0 {
		c.Monitoring.SyslogFiles = []string{
			"/var/log/syslog",
			"/var/log/messages",
			"/var/log/auth.log",
			"/var/log/daemon.log",
		}
	}
	if c.Firewall == nil {
		c.Firewall = &FirewallConfig{}
	}
	if c.Firewall.ConfigPath == "" {
		c.Firewall.ConfigPath = "/etc/nftables.conf"
	}
	if c.Firewall.BackupDir == "" {
		c.Firewall.BackupDir = brand.GetStateDir() + "/backups"
	}
	if c.Firewall.Unit == "" {
		c.Firewall.Unit = "nftables"
	}
	if c.VPN == nil {
		c.VPN = &VPNConfig{}
	}
	if c.VPN.IPSecConf == "" {
		c.VPN.IPSecConf = "/etc/ipsec.conf"
	}
	if c.VPN.IPSecSecrets == "" {
		c.VPN.IPSecSecrets = "/etc/ipsec.secrets"
	}
	if c.Proxy == nil {
		c.Proxy = &ProxyConfig{}
	}
	if c.Proxy.SitesAvailable == "" {
		c.Proxy.SitesAvailable = "/etc/nginx/sites-available"
	}
	if c.Proxy.SitesEnabled == "" {
		c.Proxy.SitesEnabled = "/etc/nginx/sites-enabled"
	}
	if c.Proxy.Webroot == "" {
		c.Proxy.Webroot = "/var/www/html"
	}
	if c.Proxy.LiveCertDir == "" {
		c.Proxy.LiveCertDir = "/etc/letsencrypt/live"
	}
	if c.Notifications == nil {
		c.Notifications = &NotificationsConfig{}
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.Log.Level)
	}

	switch c.Database.Driver {
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database driver postgres requires a dsn")
		}
	case "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	if (c.API.TLSCert == "") != (c.API.TLSKey == "") {
		return fmt.Errorf("tls_cert and tls_key must be set together")
	}

	for _, ch := range c.Notifications.Channels {
		switch ch.Type {
		case "webhook", "discord", "ntfy", "email":
		default:
			return fmt.Errorf("channel %q: unknown type %q", ch.Name, ch.Type)
		}
		if ch.Type == "email" && c.Notifications.SMTP == nil {
			return fmt.Errorf("channel %q: email channels require an smtp block", ch.Name)
		}
	}

	return nil
}
