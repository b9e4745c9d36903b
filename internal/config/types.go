package config

import "time"

// AppConfig is the main configuration structure for the A2A server.
type AppConfig struct {
	Server   ServerConfig   `yaml:"server" json:"server"`
	Payments PaymentsConfig `yaml:"payments" json:"payments"`
	Chain    ChainConfig    `yaml:"chain" json:"chain"`
	Store    StoreConfig    `yaml:"store" json:"store"`
	Logging  LogConfig      `yaml:"logging" json:"logging"`
}

// ServerConfig covers the transport and admission-control surface.
type ServerConfig struct {
	Host               string `yaml:"host" json:"host"`
	Port               int    `yaml:"port" json:"port"`
	MaxConnections     int    `yaml:"max_connections" json:"max_connections"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute" json:"rate_limit_per_minute"`
	AuthTimeoutMs      int    `yaml:"auth_timeout_ms" json:"auth_timeout_ms"`

	Coalitions CoalitionsConfig `yaml:"coalitions" json:"coalitions"`
}

// CoalitionsConfig carries the coalition feature flag and its two policy
// knobs (see DESIGN.md for the defaults' rationale).
type CoalitionsConfig struct {
	Enabled             bool `yaml:"enabled" json:"enabled"`
	AllowRejoinInactive bool `yaml:"allow_rejoin_inactive" json:"allow_rejoin_inactive"`
	LeaveOnDisconnect   bool `yaml:"leave_on_disconnect" json:"leave_on_disconnect"`
}

// PaymentsConfig controls the x402 micropayment flow.
type PaymentsConfig struct {
	Enabled        bool   `yaml:"enabled" json:"enabled"`
	MinAmount      string `yaml:"min_amount" json:"min_amount"`
	TimeoutMinutes int    `yaml:"timeout_minutes" json:"timeout_minutes"`
}

// ChainConfig points at the blockchain collaborators. With Enabled false the
// server runs without ownership checks or payment verification.
type ChainConfig struct {
	Enabled         bool   `yaml:"enabled" json:"enabled"`
	RPCURL          string `yaml:"rpc_url" json:"rpc_url"`
	RegistryAddress string `yaml:"registry_address" json:"registry_address"`
}

// StoreConfig selects the registry storage backend. "memory" serves a single
// instance; "postgres" shares sessions and payments across instances.
type StoreConfig struct {
	Backend     string `yaml:"backend" json:"backend"`
	PostgresURL string `yaml:"postgres_url" json:"postgres_url"`
}

// LogConfig configures logrus output.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               8080,
			MaxConnections:     100,
			RateLimitPerMinute: 60,
			AuthTimeoutMs:      30000,
			Coalitions: CoalitionsConfig{
				Enabled: true,
			},
		},
		Payments: PaymentsConfig{
			Enabled:        false,
			MinAmount:      "1000000000000",
			TimeoutMinutes: 15,
		},
		Store: StoreConfig{
			Backend: "memory",
		},
		Logging: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// AuthTimeout returns the handshake deadline as a duration.
func (c *ServerConfig) AuthTimeout() time.Duration {
	return time.Duration(c.AuthTimeoutMs) * time.Millisecond
}

// PaymentTimeout returns the payment expiry window as a duration.
func (c *PaymentsConfig) PaymentTimeout() time.Duration {
	return time.Duration(c.TimeoutMinutes) * time.Minute
}
