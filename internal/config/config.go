// Package config loads and validates the server's on-disk configuration,
// following irc/config/config.go's pattern: one struct with yaml/toml/json/
// env struct tags on every field, BurntSushi/toml + gopkg.in/yaml.v3 +
// encoding/json dispatched by file extension (or fetched over HTTP(S)),
// and a reflection-driven environment-variable override pass. Expanded
// from the teacher's Server/TLS/WebPortal/Bots/Operators/Plugins shape to
// the surface spec.md §6 names: listeners, rate limits, security,
// webirc, services, linking, database, and history.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the full recognized configuration surface, spec.md §6.
type Config struct {
	Server   ServerConfig   `yaml:"server" toml:"server" json:"server" validate:"required"`
	Listen   ListenConfig   `yaml:"listen" toml:"listen" json:"listen"`
	Limits   LimitsConfig   `yaml:"limits" toml:"limits" json:"limits"`
	Security SecurityConfig `yaml:"security" toml:"security" json:"security"`
	WebIRC   []WebIRCBlock  `yaml:"webirc" toml:"webirc" json:"webirc"`
	Services ServicesConfig `yaml:"services" toml:"services" json:"services"`
	Linking  LinkingConfig  `yaml:"linking" toml:"linking" json:"linking"`
	Database DatabaseConfig `yaml:"database" toml:"database" json:"database"`
	History  HistoryConfig  `yaml:"history" toml:"history" json:"history"`

	// Admin surfaces borrowed from the teacher's WebPortal/Bots blocks,
	// generalized to Prometheus metrics + gorilla/mux admin UI + echo
	// bot API (internal/admin).
	Metrics MetricsConfig `yaml:"metrics" toml:"metrics" json:"metrics"`
	Web     WebConfig     `yaml:"web" toml:"web" json:"web"`
	Bots    BotsConfig    `yaml:"bots" toml:"bots" json:"bots"`

	// Source is the file or URL this Config was loaded from, kept for Reload.
	Source string `yaml:"-" toml:"-" json:"-"`
}

// ServerConfig is spec.md §6's "server:" block.
type ServerConfig struct {
	Name        string `yaml:"name" toml:"name" json:"name" env:"IRCD_SERVER_NAME" validate:"required"`
	Network     string `yaml:"network" toml:"network" json:"network" env:"IRCD_NETWORK" validate:"required"`
	SID         string `yaml:"sid" toml:"sid" json:"sid" env:"IRCD_SID" validate:"required,len=3,alphanum,uppercase"`
	Description string `yaml:"description" toml:"description" json:"description" env:"IRCD_DESCRIPTION"`
	MOTDPath    string `yaml:"motd_path" toml:"motd_path" json:"motd_path" env:"IRCD_MOTD_PATH"`
}

// ListenConfig is spec.md §6's "listen:" block: a plaintext address plus
// optional TLS and WebSocket transports, matching
// internal/listener.Config's optional-address-disables-transport idiom.
type ListenConfig struct {
	Address   string          `yaml:"address" toml:"address" json:"address" env:"IRCD_LISTEN_ADDR" validate:"required"`
	TLS       *TLSListenBlock `yaml:"tls" toml:"tls" json:"tls"`
	WebSocket *WSListenBlock  `yaml:"websocket" toml:"websocket" json:"websocket"`
}

type TLSListenBlock struct {
	Address string `yaml:"address" toml:"address" json:"address" env:"IRCD_TLS_ADDR"`
	Cert    string `yaml:"cert_path" toml:"cert_path" json:"cert_path" env:"IRCD_TLS_CERT"`
	Key     string `yaml:"key_path" toml:"key_path" json:"key_path" env:"IRCD_TLS_KEY"`
}

type WSListenBlock struct {
	Address      string   `yaml:"address" toml:"address" json:"address" env:"IRCD_WS_ADDR"`
	AllowOrigins []string `yaml:"allow_origins" toml:"allow_origins" json:"allow_origins"`
}

// LimitsConfig is spec.md §6's "limits:" block, feeding internal/security.Limits.
type LimitsConfig struct {
	MessageRatePerSecond  float64  `yaml:"message_rate_per_second" toml:"message_rate_per_second" json:"message_rate_per_second"`
	Burst                 int      `yaml:"burst" toml:"burst" json:"burst"`
	ConnectionBurstPerIP  int      `yaml:"connection_burst_per_ip" toml:"connection_burst_per_ip" json:"connection_burst_per_ip"`
	JoinBurstPerClient    int      `yaml:"join_burst_per_client" toml:"join_burst_per_client" json:"join_burst_per_client"`
	CTCPRatePerSecond     float64  `yaml:"ctcp_rate_per_second" toml:"ctcp_rate_per_second" json:"ctcp_rate_per_second"`
	CTCPBurstPerClient    int      `yaml:"ctcp_burst_per_client" toml:"ctcp_burst_per_client" json:"ctcp_burst_per_client"`
	MaxConnectionsPerIP   int      `yaml:"max_connections_per_ip" toml:"max_connections_per_ip" json:"max_connections_per_ip"`
	ExemptIPs             []string `yaml:"exempt_ips" toml:"exempt_ips" json:"exempt_ips"`
	MaxLimiterEntries     int      `yaml:"max_limiter_entries" toml:"max_limiter_entries" json:"max_limiter_entries"`
}

// SecurityConfig is spec.md §6's "security:" block.
type SecurityConfig struct {
	Operators             []OperatorBlock `yaml:"operators" toml:"operators" json:"operators"`
	CloakSecret            string         `yaml:"cloak_secret" toml:"cloak_secret" json:"cloak_secret" env:"IRCD_CLOAK_SECRET" validate:"required"`
	AllowPlaintextSASLPlain bool          `yaml:"allow_plaintext_sasl_plain" toml:"allow_plaintext_sasl_plain" json:"allow_plaintext_sasl_plain"`
	STS                    STSBlock       `yaml:"sts" toml:"sts" json:"sts"`
	RBL                    RBLBlock       `yaml:"rbl" toml:"rbl" json:"rbl"`
}

type OperatorBlock struct {
	Name       string `yaml:"name" toml:"name" json:"name" validate:"required"`
	BcryptHash string `yaml:"bcrypt_hash" toml:"bcrypt_hash" json:"bcrypt_hash" validate:"required"`
	Hostmask   string `yaml:"hostmask" toml:"hostmask" json:"hostmask"`
	Level      string `yaml:"level" toml:"level" json:"level"`
}

type STSBlock struct {
	Port     int           `yaml:"port" toml:"port" json:"port"`
	Duration time.Duration `yaml:"duration" toml:"duration" json:"duration"`
	Preload  bool          `yaml:"preload" toml:"preload" json:"preload"`
}

type RBLBlock struct {
	HTTPEnabled bool              `yaml:"http_enabled" toml:"http_enabled" json:"http_enabled"`
	DNSEnabled  bool              `yaml:"dns_enabled" toml:"dns_enabled" json:"dns_enabled"`
	Providers   []string          `yaml:"providers" toml:"providers" json:"providers"`
	APIKeys     map[string]string `yaml:"api_keys" toml:"api_keys" json:"api_keys"`
	CacheTTL    time.Duration     `yaml:"cache_ttl" toml:"cache_ttl" json:"cache_ttl"`
	CacheCap    int               `yaml:"cache_cap" toml:"cache_cap" json:"cache_cap"`
	Threshold   int               `yaml:"threshold" toml:"threshold" json:"threshold"`
}

// WebIRCBlock is one trusted gateway, spec.md §6's "webirc:" list and the
// original implementation's webirc.rs trust model.
type WebIRCBlock struct {
	Gateway     string   `yaml:"gateway" toml:"gateway" json:"gateway" validate:"required"`
	Password    string   `yaml:"password" toml:"password" json:"password" validate:"required"`
	AllowedIPs  []string `yaml:"allowed_ips" toml:"allowed_ips" json:"allowed_ips" validate:"required,min=1"`
}

// ServicesConfig is spec.md §6's "services:" block.
type ServicesConfig struct {
	Enabled       bool          `yaml:"enabled" toml:"enabled" json:"enabled"`
	NickServName  string        `yaml:"nickserv_name" toml:"nickserv_name" json:"nickserv_name"`
	ChanServName  string        `yaml:"chanserv_name" toml:"chanserv_name" json:"chanserv_name"`
	EnforceTimeout time.Duration `yaml:"enforce_timeout" toml:"enforce_timeout" json:"enforce_timeout"`
}

// LinkingConfig is spec.md §6's "linking:" block, feeding internal/sync6.
type LinkingConfig struct {
	LocalSID      string      `yaml:"local_sid" toml:"local_sid" json:"local_sid" validate:"omitempty,len=3,alphanum,uppercase"`
	ListenAddress string      `yaml:"listen_address" toml:"listen_address" json:"listen_address"`
	TLS           *TLSListenBlock `yaml:"tls" toml:"tls" json:"tls"`
	Links         []LinkBlock `yaml:"links" toml:"links" json:"links"`
}

// LinkBlock is one configured peer link, spec.md §6's
// "linking.link_blocks" shape, feeding sync6.LinkConfig.
type LinkBlock struct {
	Name           string `yaml:"name" toml:"name" json:"name" validate:"required"`
	SID            string `yaml:"sid" toml:"sid" json:"sid" validate:"required,len=3,alphanum,uppercase"`
	Host           string `yaml:"host" toml:"host" json:"host"`
	Port           int    `yaml:"port" toml:"port" json:"port"`
	TLS            bool   `yaml:"tls" toml:"tls" json:"tls"`
	VerifyCert     bool   `yaml:"verify_cert" toml:"verify_cert" json:"verify_cert"`
	CertFingerprint string `yaml:"cert_fingerprint" toml:"cert_fingerprint" json:"cert_fingerprint"`
	SendPassword   string `yaml:"send_password" toml:"send_password" json:"send_password" validate:"required"`
	RecvPassword   string `yaml:"recv_password" toml:"recv_password" json:"recv_password" validate:"required"`
	AllowedIPs     []string `yaml:"allowed_ips" toml:"allowed_ips" json:"allowed_ips"`
	Autoconnect    bool   `yaml:"autoconnect" toml:"autoconnect" json:"autoconnect"`
}

// DatabaseConfig is spec.md §6's "database:" block, feeding internal/store.
type DatabaseConfig struct {
	// Driver selects internal/store's GORM dialect: "sqlite" (the
	// default, one embedded file per server), "mysql", or "postgres"
	// for operators sharing one database across a deployment.
	Driver string `yaml:"driver" toml:"driver" json:"driver" env:"IRCD_DATABASE_DRIVER"`
	Path   string `yaml:"path" toml:"path" json:"path" env:"IRCD_DATABASE_PATH" validate:"required"`
}

// HistoryConfig is spec.md §6's "history:" block (CHATHISTORY, §4.7).
type HistoryConfig struct {
	Enabled               bool    `yaml:"enabled" toml:"enabled" json:"enabled"`
	ChatHistoryMax        int     `yaml:"chathistory_max" toml:"chathistory_max" json:"chathistory_max"`
	RetentionDays         int     `yaml:"retention_days" toml:"retention_days" json:"retention_days"`
	StorePrivateMessages  bool    `yaml:"store_private_messages" toml:"store_private_messages" json:"store_private_messages"`
	RateLimitPerSecond    float64 `yaml:"rate_limit_per_second" toml:"rate_limit_per_second" json:"rate_limit_per_second"`
}

// MetricsConfig configures internal/admin's Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled" json:"enabled" env:"IRCD_METRICS_ENABLED"`
	Address string `yaml:"address" toml:"address" json:"address" env:"IRCD_METRICS_ADDR"`
}

// WebConfig configures internal/admin's gorilla/mux admin UI, matching the
// teacher's WebPortal block.
type WebConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled" json:"enabled" env:"IRCD_WEB_ENABLED"`
	Address string `yaml:"address" toml:"address" json:"address" env:"IRCD_WEB_ADDR"`
	TLS     bool   `yaml:"tls" toml:"tls" json:"tls" env:"IRCD_WEB_TLS"`
}

// BotsConfig configures internal/admin's echo-based bot API, matching the
// teacher's Bots block.
type BotsConfig struct {
	Enabled      bool     `yaml:"enabled" toml:"enabled" json:"enabled" env:"IRCD_BOTS_ENABLED"`
	Address      string   `yaml:"address" toml:"address" json:"address" env:"IRCD_BOTS_ADDR"`
	BearerTokens []string `yaml:"bearer_tokens" toml:"bearer_tokens" json:"bearer_tokens" env:"IRCD_BOTS_TOKENS"`
}

var validate = validator.New()

// Load reads, parses (by extension or HTTP content, defaulting to YAML),
// applies environment overrides, sets defaults for anything left zero, and
// validates the result, matching irc/config/config.go's Load shape.
func Load(source string) (*Config, error) {
	cfg := &Config{Source: source}
	cfg.setDefaults()

	if err := cfg.loadFromSource(source); err != nil {
		return nil, err
	}
	applyEnvOverrides(cfg)
	cfg.setDefaults()

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Reload re-reads the original (or a new) source in place, matching
// irc/config/config.go's Reload rehash behavior.
func (c *Config) Reload(newSource string) error {
	source := c.Source
	if newSource != "" {
		source = newSource
	}
	next, err := Load(source)
	if err != nil {
		return err
	}
	*c = *next
	return nil
}

func (c *Config) setDefaults() {
	if c.Server.Network == "" {
		c.Server.Network = "IRCDNet"
	}
	if c.Listen.Address == "" {
		c.Listen.Address = "0.0.0.0:6667"
	}
	if c.Linking.ListenAddress == "" {
		c.Linking.ListenAddress = "0.0.0.0:6900"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Path == "" {
		c.Database.Path = "ircd.db"
	}
	if c.Services.NickServName == "" {
		c.Services.NickServName = "NickServ"
	}
	if c.Services.ChanServName == "" {
		c.Services.ChanServName = "ChanServ"
	}
	if c.Services.EnforceTimeout == 0 {
		c.Services.EnforceTimeout = 60 * time.Second
	}
	if c.History.ChatHistoryMax == 0 {
		c.History.ChatHistoryMax = 100
	}
}

func (c *Config) loadFromSource(source string) error {
	var data []byte
	var err error

	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		resp, ferr := http.Get(source)
		if ferr != nil {
			return fmt.Errorf("failed to load config from URL: %w", ferr)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("failed to load config from URL, status: %s", resp.Status)
		}
		data, err = io.ReadAll(resp.Body)
	} else {
		data, err = os.ReadFile(source)
	}
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	switch {
	case strings.HasSuffix(source, ".toml"):
		err = toml.Unmarshal(data, c)
	case strings.HasSuffix(source, ".json"):
		err = json.Unmarshal(data, c)
	default:
		err = yaml.Unmarshal(data, c)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	c.Source = source
	return nil
}

// applyEnvOverrides walks every field tagged `env:"..."` and overwrites it
// from the environment when present, matching irc/config/config.go's
// reflection-driven override pass, generalized to also descend into
// pointer and slice-of-struct fields (operators, webirc, links) the
// teacher's flatter Config never needed to.
func applyEnvOverrides(cfg *Config) {
	applyEnvOverridesRecursive(reflect.ValueOf(cfg).Elem())
}

func applyEnvOverridesRecursive(v reflect.Value) {
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return
	}
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fv := v.Field(i)
		if field.PkgPath != "" {
			continue
		}
		if envTag := field.Tag.Get("env"); envTag != "" {
			if raw, ok := os.LookupEnv(envTag); ok {
				setFieldFromEnv(fv, raw)
			}
			continue
		}
		switch fv.Kind() {
		case reflect.Struct, reflect.Ptr:
			applyEnvOverridesRecursive(fv)
		case reflect.Slice:
			for j := 0; j < fv.Len(); j++ {
				applyEnvOverridesRecursive(fv.Index(j))
			}
		}
	}
}

func setFieldFromEnv(field reflect.Value, raw string) {
	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		var n int64
		if _, err := fmt.Sscanf(raw, "%d", &n); err == nil {
			field.SetInt(n)
		}
	case reflect.Bool:
		field.SetBool(raw == "true" || raw == "1" || raw == "yes")
	case reflect.Float32, reflect.Float64:
		var f float64
		if _, err := fmt.Sscanf(raw, "%g", &f); err == nil {
			field.SetFloat(f)
		}
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(raw, ",")
			slice := reflect.MakeSlice(field.Type(), len(parts), len(parts))
			for i, p := range parts {
				slice.Index(i).SetString(strings.TrimSpace(p))
			}
			field.Set(slice)
		}
	}
}
