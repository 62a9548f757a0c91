package config

import "time"

// fileFromRuntime is the inverse of Load's overlay; every key is emitted.
func fileFromRuntime(cfg Runtime) fileConfig {
	s := cfg.Session
	return fileConfig{
		Addr:              cfg.Addr,
		ConnectTimeout:    formatDuration(s.ConnectTimeout),
		DialRetryWindow:   formatDuration(s.DialRetryWindow),
		HandshakeTimeout:  formatDuration(s.HandshakeTimeout),
		WriteTimeout:      formatDuration(s.WriteTimeout),
		CommandTimeout:    formatDuration(s.CommandTimeout),
		MaxAnomalies:      s.MaxAnomalies,
		MaxFrameBytes:     s.Limits.MaxPayloadBytes,
		ExpectGreeting:    s.ExpectGreeting,
		NewSessionCommand: s.NewSessionCommand,
		TLSEnabled:        s.TLS.Enabled,
		TLSInsecure:       s.TLS.InsecureSkipVerify,
		TLSServerName:     s.TLS.ServerName,
		TLSCAFile:         s.TLS.CAFile,
		TLSCertFile:       s.TLS.CertFile,
		TLSKeyFile:        s.TLS.KeyFile,
		SSHEnabled:        s.SSH.Enabled,
		SSHHost:           s.SSH.Host,
		SSHPort:           s.SSH.Port,
		SSHUser:           s.SSH.User,
		SSHKeyPath:        s.SSH.KeyPath,
		SSHKnownHosts:     s.SSH.KnownHostsPath,
		SSHInsecure:       s.SSH.InsecureSkipHostKeyChecking,
		LogLevel:          cfg.LogLevel,
		RelayAddr:         cfg.RelayAddr,
		CorsOrigins:       append([]string{}, cfg.CorsOrigins...),
		BrowserLaunch:     cfg.Browser.Launch,
		BrowserPath:       cfg.Browser.Options.Binary,
		BrowserHeadless:   cfg.Browser.Options.Headless,
		BrowserProfile:    cfg.Browser.Options.Profile,
		BrowserProfileDir: cfg.Browser.Options.ProfilePath,
	}
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return "0s"
	}
	return d.String()
}
