package store

import "time"

// MetricSample is a single collected metric reading.
type MetricSample struct {
	ID        string    `db:"id" json:"id"`
	Type      string    `db:"metric_type" json:"type"`
	Value     float64   `db:"value" json:"value"`
	Unit      string    `db:"unit" json:"unit"`
	Source    string    `db:"source" json:"source,omitempty"`
	Metadata  string    `db:"metadata" json:"metadata,omitempty"` // JSON blob
	Timestamp time.Time `db:"timestamp" json:"timestamp"`
}

// Metric type names used by the collector and alert engine.
const (
	MetricCPU         = "cpu"
	MetricCPUCore     = "cpu_core"
	MetricMemory      = "memory"
	MetricSwap        = "swap"
	MetricDisk        = "disk"
	MetricDiskIO      = "disk_io"
	MetricNetwork     = "network"
	MetricLoad        = "load"
	MetricProcesses   = "processes"
	MetricConnections = "connections"
	MetricTemperature = "temperature"
	MetricBandwidth   = "bandwidth"
)

// ServiceState is the observed state of a systemd unit.
type ServiceState struct {
	ID          string     `db:"id" json:"id"`
	Name        string     `db:"name" json:"name"`
	Status      string     `db:"status" json:"status"` // running, stopped, failed, unknown
	PID         *int       `db:"pid" json:"pid,omitempty"`
	CPUPercent  float64    `db:"cpu_percent" json:"cpu_percent"`
	MemoryMB    float64    `db:"memory_mb" json:"memory_mb"`
	StartedAt   *time.Time `db:"started_at" json:"started_at,omitempty"`
	LastChecked time.Time  `db:"last_checked" json:"last_checked"`
}

// ConnectionSnapshot is one active connection observed by the collector.
type ConnectionSnapshot struct {
	ID         string    `db:"id" json:"id"`
	Protocol   string    `db:"protocol" json:"protocol"`
	LocalAddr  string    `db:"local_addr" json:"local_addr"`
	LocalPort  int       `db:"local_port" json:"local_port"`
	RemoteAddr string    `db:"remote_addr" json:"remote_addr"`
	RemotePort int       `db:"remote_port" json:"remote_port"`
	Status     string    `db:"status" json:"status"`
	PID        *int      `db:"pid" json:"pid,omitempty"`
	Process    string    `db:"process" json:"process,omitempty"`
	Timestamp  time.Time `db:"timestamp" json:"timestamp"`
}

// SystemLog is a parsed syslog line.
type SystemLog struct {
	ID        string    `db:"id" json:"id"`
	Timestamp time.Time `db:"timestamp" json:"timestamp"`
	Level     string    `db:"level" json:"level"`   // debug, info, warning, error, critical
	Source    string    `db:"source" json:"source"` // auth, kernel, daemon, network, system
	Process   string    `db:"process" json:"process,omitempty"`
	Host      string    `db:"host" json:"host,omitempty"`
	Message   string    `db:"message" json:"message"`
}

// Alert is an alert definition evaluated by the monitoring loop.
type Alert struct {
	ID               string     `db:"id" json:"id"`
	Name             string     `db:"name" json:"name"`
	MetricType       string     `db:"metric_type" json:"metric_type"`
	Source           string     `db:"source" json:"source,omitempty"` // optional filter, e.g. a mountpoint
	Operator         string     `db:"operator" json:"operator"`       // >, <, >=, <=, ==, !=
	Threshold        float64    `db:"threshold" json:"threshold"`
	Severity         string     `db:"severity" json:"severity"` // info, warning, critical
	Enabled          bool       `db:"enabled" json:"enabled"`
	CheckIntervalSec int        `db:"check_interval_seconds" json:"check_interval_seconds"`
	Recipients       string     `db:"recipients" json:"recipients,omitempty"` // comma separated emails
	LastChecked      *time.Time `db:"last_checked" json:"last_checked,omitempty"`
	LastTriggered    *time.Time `db:"last_triggered" json:"last_triggered,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
}

// CheckInterval returns the alert's dedup/evaluation window.
func (a *Alert) CheckInterval() time.Duration {
	if a.CheckIntervalSec <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(a.CheckIntervalSec) * time.Second
}

// Alert instance states.
const (
	InstanceFiring       = "firing"
	InstanceAcknowledged = "acknowledged"
	InstanceResolved     = "resolved"
)

// AlertInstance is one firing of an alert.
type AlertInstance struct {
	ID             string     `db:"id" json:"id"`
	AlertID        string     `db:"alert_id" json:"alert_id"`
	Value          float64    `db:"value" json:"value"`
	Message        string     `db:"message" json:"message"`
	Status         string     `db:"status" json:"status"`
	Notified       bool       `db:"notified" json:"notified"`
	FiredAt        time.Time  `db:"fired_at" json:"fired_at"`
	AcknowledgedAt *time.Time `db:"acknowledged_at" json:"acknowledged_at,omitempty"`
	ResolvedAt     *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
}

// SystemSetting is a persisted key/value setting.
type SystemSetting struct {
	Key       string    `db:"key" json:"key"`
	Value     string    `db:"value" json:"value"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// FirewallRule is a row rendered into the nftables config.
type FirewallRule struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Chain     string    `db:"chain" json:"chain"` // input, forward, output
	Protocol  string    `db:"protocol" json:"protocol,omitempty"`
	SrcIP     string    `db:"src_ip" json:"src_ip,omitempty"`
	SrcPort   string    `db:"src_port" json:"src_port,omitempty"`
	DstIP     string    `db:"dst_ip" json:"dst_ip,omitempty"`
	DstPort   string    `db:"dst_port" json:"dst_port,omitempty"`
	InIface   string    `db:"in_iface" json:"in_iface,omitempty"`
	OutIface  string    `db:"out_iface" json:"out_iface,omitempty"`
	Action    string    `db:"action" json:"action"` // accept, drop, reject
	Priority  int       `db:"priority" json:"priority"`
	Enabled   bool      `db:"enabled" json:"enabled"`
	Comment   string    `db:"comment" json:"comment,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// PortForward is a DNAT rule rendered into the nat prerouting chain.
type PortForward struct {
	ID           string    `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Protocol     string    `db:"protocol" json:"protocol"` // tcp, udp
	ExternalPort int       `db:"external_port" json:"external_port"`
	DestIP       string    `db:"dest_ip" json:"dest_ip"`
	DestPort     int       `db:"dest_port" json:"dest_port"`
	InIface      string    `db:"in_iface" json:"in_iface,omitempty"`
	Enabled      bool      `db:"enabled" json:"enabled"`
	Comment      string    `db:"comment" json:"comment,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// NetworkInterface is the synced inventory row for a physical interface.
type NetworkInterface struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	MAC       string    `db:"mac" json:"mac,omitempty"`
	State     string    `db:"state" json:"state"` // up, down
	MTU       int       `db:"mtu" json:"mtu"`
	SpeedMbps int       `db:"speed_mbps" json:"speed_mbps,omitempty"`
	Duplex    string    `db:"duplex" json:"duplex,omitempty"`
	Addresses string    `db:"addresses" json:"addresses,omitempty"` // comma separated CIDRs
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// StaticRoute is a managed static route.
type StaticRoute struct {
	ID             string    `db:"id" json:"id"`
	Destination    string    `db:"destination" json:"destination"` // CIDR or "default"
	Gateway        string    `db:"gateway" json:"gateway,omitempty"`
	Interface      string    `db:"interface" json:"interface,omitempty"`
	Metric         int       `db:"metric" json:"metric,omitempty"`
	Persistent     bool      `db:"persistent" json:"persistent"`
	MonitorAddress string    `db:"monitor_address" json:"monitor_address,omitempty"`
	Enabled        bool      `db:"enabled" json:"enabled"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// VPN tunnel statuses.
const (
	TunnelConnected    = "connected"
	TunnelConnecting   = "connecting"
	TunnelDisconnected = "disconnected"
)

// VPNTunnel is a managed IPSec (or observed WireGuard) tunnel.
type VPNTunnel struct {
	ID             string     `db:"id" json:"id"`
	Name           string     `db:"name" json:"name"`
	Type           string     `db:"type" json:"type"` // ipsec, wireguard
	LocalEndpoint  string     `db:"local_endpoint" json:"local_endpoint"`
	RemoteEndpoint string     `db:"remote_endpoint" json:"remote_endpoint"`
	LocalSubnet    string     `db:"local_subnet" json:"local_subnet"`
	RemoteSubnet   string     `db:"remote_subnet" json:"remote_subnet"`
	PSK            string     `db:"psk" json:"-"`
	IKEProposal    string     `db:"ike_proposal" json:"ike_proposal,omitempty"`
	ESPProposal    string     `db:"esp_proposal" json:"esp_proposal,omitempty"`
	AutoStart      bool       `db:"auto_start" json:"auto_start"`
	Enabled        bool       `db:"enabled" json:"enabled"`
	Status         string     `db:"status" json:"status"`
	StatusChanged  *time.Time `db:"status_changed" json:"status_changed,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}

// ProxyConfig is a managed nginx reverse proxy site.
type ProxyConfig struct {
	ID               string     `db:"id" json:"id"`
	Domain           string     `db:"domain" json:"domain"`
	UpstreamHost     string     `db:"upstream_host" json:"upstream_host"`
	UpstreamPort     int        `db:"upstream_port" json:"upstream_port"`
	UpstreamScheme   string     `db:"upstream_scheme" json:"upstream_scheme"` // http, https
	SSLEnabled       bool       `db:"ssl_enabled" json:"ssl_enabled"`
	ForceSSL         bool       `db:"force_ssl" json:"force_ssl"`
	ConnectTimeout   int        `db:"connect_timeout" json:"connect_timeout"` // seconds
	SendTimeout      int        `db:"send_timeout" json:"send_timeout"`
	ReadTimeout      int        `db:"read_timeout" json:"read_timeout"`
	CustomHeaders    string     `db:"custom_headers" json:"custom_headers"` // JSON object
	RateLimitEnabled bool       `db:"rate_limit_enabled" json:"rate_limit_enabled"`
	RateLimitRPM     int        `db:"rate_limit_rpm" json:"rate_limit_rpm"`
	AccessLogEnabled bool       `db:"access_log_enabled" json:"access_log_enabled"`
	ErrorLogEnabled  bool       `db:"error_log_enabled" json:"error_log_enabled"`
	Deployed         bool       `db:"deployed" json:"deployed"`
	DeployedAt       *time.Time `db:"deployed_at" json:"deployed_at,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

// SSLCertificate tracks a certbot-issued certificate.
type SSLCertificate struct {
	ID        string     `db:"id" json:"id"`
	Domain    string     `db:"domain" json:"domain"`
	CertPath  string     `db:"cert_path" json:"cert_path"`
	KeyPath   string     `db:"key_path" json:"key_path"`
	IssuedAt  *time.Time `db:"issued_at" json:"issued_at,omitempty"`
	ExpiresAt *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	AutoRenew bool       `db:"auto_renew" json:"auto_renew"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}

// DeploymentLog records a deploy/apply action against the host system.
type DeploymentLog struct {
	ID        string    `db:"id" json:"id"`
	Target    string    `db:"target" json:"target"` // proxy, firewall, vpn, certificate
	Action    string    `db:"action" json:"action"`
	Status    string    `db:"status" json:"status"` // success, failed
	Message   string    `db:"message" json:"message,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// User is an API account.
type User struct {
	ID           string     `db:"id" json:"id"`
	Username     string     `db:"username" json:"username"`
	PasswordHash string     `db:"password_hash" json:"-"`
	Role         string     `db:"role" json:"role"` // admin, viewer
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	LastLoginAt  *time.Time `db:"last_login_at" json:"last_login_at,omitempty"`
}

// UserActivity is an audit trail row.
type UserActivity struct {
	ID        string    `db:"id" json:"id"`
	Username  string    `db:"username" json:"username"`
	Action    string    `db:"action" json:"action"`
	Resource  string    `db:"resource" json:"resource,omitempty"`
	Detail    string    `db:"detail" json:"detail,omitempty"`
	ClientIP  string    `db:"client_ip" json:"client_ip,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
