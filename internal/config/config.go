package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/marionette/internal/logging"
	"github.com/danmuck/marionette/internal/protocol/session"
	"github.com/danmuck/marionette/internal/tools"
)

const (
	DefaultAddr       = "127.0.0.1:2828"
	DefaultLogLevel   = "info"
	EnvSSHPassphrase  = "MARIONETTE_SSH_PASSPHRASE"
	defaultConfigName = "marionette.toml"
)

// marionette.toml key mapping to client runtime settings.
type fileConfig struct {
	Addr              string   `toml:"addr"`
	ConnectTimeout    string   `toml:"connect_timeout"`
	DialRetryWindow   string   `toml:"dial_retry_window"`
	HandshakeTimeout  string   `toml:"handshake_timeout"`
	WriteTimeout      string   `toml:"write_timeout"`
	CommandTimeout    string   `toml:"command_timeout"`
	MaxAnomalies      int      `toml:"max_anomalies"`
	MaxFrameBytes     uint64   `toml:"max_frame_bytes"`
	ExpectGreeting    bool     `toml:"expect_greeting"`
	NewSessionCommand string   `toml:"new_session_command"`
	TLSEnabled        bool     `toml:"tls_enabled"`
	TLSInsecure       bool     `toml:"tls_insecure_skip_verify"`
	TLSServerName     string   `toml:"tls_server_name"`
	TLSCAFile         string   `toml:"tls_ca_file"`
	TLSCertFile       string   `toml:"tls_cert_file"`
	TLSKeyFile        string   `toml:"tls_key_file"`
	SSHEnabled        bool     `toml:"ssh_enabled"`
	SSHHost           string   `toml:"ssh_host"`
	SSHPort           string   `toml:"ssh_port"`
	SSHUser           string   `toml:"ssh_user"`
	SSHKeyPath        string   `toml:"ssh_key_path"`
	SSHKnownHosts     string   `toml:"ssh_known_hosts_path"`
	SSHInsecure       bool     `toml:"ssh_insecure_skip_host_key_checking"`
	LogLevel          string   `toml:"log_level"`
	RelayAddr         string   `toml:"relay_addr"`
	CorsOrigins       []string `toml:"cors_origins"`
	BrowserLaunch     bool     `toml:"browser_launch"`
	BrowserPath       string   `toml:"browser_path"`
	BrowserHeadless   bool     `toml:"browser_headless"`
	BrowserProfile    string   `toml:"browser_profile"`
	BrowserProfileDir string   `toml:"browser_profile_path"`
}

// BrowserConfig controls whether the CLI starts the browser itself.
type BrowserConfig struct {
	Launch  bool
	Options tools.BrowserOptions
}

// Runtime is the resolved configuration the CLI runs with.
type Runtime struct {
	Addr        string
	Session     session.Config
	LogLevel    string
	RelayAddr   string
	CorsOrigins []string
	Browser     BrowserConfig
}

// Default targets a local browser. Real marionette servers greet on accept,
// so the greeting is expected unless a config file says otherwise.
func Default() Runtime {
	s := session.DefaultConfig()
	s.ExpectGreeting = true
	return Runtime{
		Addr:     DefaultAddr,
		Session:  s,
		LogLevel: DefaultLogLevel,
		Browser: BrowserConfig{
			Options: tools.BrowserOptions{
				Binary:   tools.DefaultBrowserBinary,
				Headless: true,
			},
		},
	}
}

// DefaultPath is where the CLI looks when --config is not given.
func DefaultPath() string {
	return defaultConfigName
}

// Load overlays the keys present in path onto Default and validates the
// result. Keys absent from the file keep their defaults.
func Load(path string) (Runtime, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Runtime{}, fmt.Errorf("load marionette config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Runtime{}, fmt.Errorf("load marionette config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("addr") {
		cfg.Addr = strings.TrimSpace(raw.Addr)
	}
	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"connect_timeout", raw.ConnectTimeout, &cfg.Session.ConnectTimeout},
		{"dial_retry_window", raw.DialRetryWindow, &cfg.Session.DialRetryWindow},
		{"handshake_timeout", raw.HandshakeTimeout, &cfg.Session.HandshakeTimeout},
		{"write_timeout", raw.WriteTimeout, &cfg.Session.WriteTimeout},
		{"command_timeout", raw.CommandTimeout, &cfg.Session.CommandTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		parsed, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return Runtime{}, fmt.Errorf("load marionette config: %s: %w", d.key, err)
		}
		*d.dst = parsed
	}
	if meta.IsDefined("max_anomalies") {
		cfg.Session.MaxAnomalies = raw.MaxAnomalies
	}
	if meta.IsDefined("max_frame_bytes") {
		cfg.Session.Limits.MaxPayloadBytes = raw.MaxFrameBytes
	}
	if meta.IsDefined("expect_greeting") {
		cfg.Session.ExpectGreeting = raw.ExpectGreeting
	}
	if meta.IsDefined("new_session_command") {
		cfg.Session.NewSessionCommand = strings.TrimSpace(raw.NewSessionCommand)
	}
	if meta.IsDefined("tls_enabled") {
		cfg.Session.TLS.Enabled = raw.TLSEnabled
	}
	if meta.IsDefined("tls_insecure_skip_verify") {
		cfg.Session.TLS.InsecureSkipVerify = raw.TLSInsecure
	}
	if meta.IsDefined("tls_server_name") {
		cfg.Session.TLS.ServerName = strings.TrimSpace(raw.TLSServerName)
	}
	if meta.IsDefined("tls_ca_file") {
		cfg.Session.TLS.CAFile = strings.TrimSpace(raw.TLSCAFile)
	}
	if meta.IsDefined("tls_cert_file") {
		cfg.Session.TLS.CertFile = strings.TrimSpace(raw.TLSCertFile)
	}
	if meta.IsDefined("tls_key_file") {
		cfg.Session.TLS.KeyFile = strings.TrimSpace(raw.TLSKeyFile)
	}
	if meta.IsDefined("ssh_enabled") {
		cfg.Session.SSH.Enabled = raw.SSHEnabled
	}
	if meta.IsDefined("ssh_host") {
		cfg.Session.SSH.Host = strings.TrimSpace(raw.SSHHost)
	}
	if meta.IsDefined("ssh_port") {
		cfg.Session.SSH.Port = strings.TrimSpace(raw.SSHPort)
	}
	if meta.IsDefined("ssh_user") {
		cfg.Session.SSH.User = strings.TrimSpace(raw.SSHUser)
	}
	if meta.IsDefined("ssh_key_path") {
		cfg.Session.SSH.KeyPath = strings.TrimSpace(raw.SSHKeyPath)
	}
	if meta.IsDefined("ssh_known_hosts_path") {
		cfg.Session.SSH.KnownHostsPath = strings.TrimSpace(raw.SSHKnownHosts)
	}
	if meta.IsDefined("ssh_insecure_skip_host_key_checking") {
		cfg.Session.SSH.InsecureSkipHostKeyChecking = raw.SSHInsecure
	}
	if pass := os.Getenv(EnvSSHPassphrase); pass != "" {
		cfg.Session.SSH.Passphrase = []byte(pass)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("relay_addr") {
		cfg.RelayAddr = strings.TrimSpace(raw.RelayAddr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = raw.CorsOrigins
	}
	if meta.IsDefined("browser_launch") {
		cfg.Browser.Launch = raw.BrowserLaunch
	}
	if meta.IsDefined("browser_path") {
		cfg.Browser.Options.Binary = strings.TrimSpace(raw.BrowserPath)
	}
	if meta.IsDefined("browser_headless") {
		cfg.Browser.Options.Headless = raw.BrowserHeadless
	}
	if meta.IsDefined("browser_profile") {
		cfg.Browser.Options.Profile = strings.TrimSpace(raw.BrowserProfile)
	}
	if meta.IsDefined("browser_profile_path") {
		cfg.Browser.Options.ProfilePath = strings.TrimSpace(raw.BrowserProfileDir)
	}

	if err := Validate(cfg); err != nil {
		return Runtime{}, fmt.Errorf("load marionette config: %w", err)
	}
	cfg.Session = cfg.Session.WithDefaults()
	return cfg, nil
}

func Validate(cfg Runtime) error {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return fmt.Errorf("addr is required")
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("addr %q: %w", addr, err)
	}
	s := cfg.Session
	for name, d := range map[string]time.Duration{
		"connect_timeout":   s.ConnectTimeout,
		"handshake_timeout": s.HandshakeTimeout,
		"write_timeout":     s.WriteTimeout,
		"command_timeout":   s.CommandTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if s.DialRetryWindow < 0 {
		return fmt.Errorf("dial_retry_window must not be negative, got %s", s.DialRetryWindow)
	}
	if s.MaxAnomalies < 1 {
		return fmt.Errorf("max_anomalies must be at least 1, got %d", s.MaxAnomalies)
	}
	if s.Limits.MaxPayloadBytes == 0 {
		return fmt.Errorf("max_frame_bytes must be positive")
	}
	if strings.TrimSpace(s.NewSessionCommand) == "" {
		return fmt.Errorf("new_session_command is required")
	}
	if err := s.ValidateClientTransport(); err != nil {
		return err
	}
	if _, ok := logging.ParseLevel(cfg.LogLevel); !ok {
		return fmt.Errorf("unknown log_level %q", cfg.LogLevel)
	}
	if cfg.Browser.Launch && strings.TrimSpace(cfg.Browser.Options.Binary) == "" {
		return fmt.Errorf("browser_path is required when browser_launch is set")
	}
	if relay := strings.TrimSpace(cfg.RelayAddr); relay != "" {
		if _, _, err := net.SplitHostPort(relay); err != nil {
			return fmt.Errorf("relay_addr %q: %w", relay, err)
		}
	}
	return nil
}
