package app

import (
	"fmt"
	"os"

	"threadsync/pkg/config"
)

// validateConfig performs quick, fail-fast validation of the effective
// configuration before starting long-running services. Keep checks light
// and focused so callers can surface user-friendly errors.
func validateConfig(eff config.EffectiveConfigResult) error {
	// DB path must be present
	if p := eff.DBPath; p == "" {
		return fmt.Errorf("database path is empty: set --db flag, THREADSYNC_DB_PATH env, or server.db_path in config")
	}

	// TLS cert/key presence check if one is set
	cert := eff.Config.Server.TLS.CertFile
	key := eff.Config.Server.TLS.KeyFile
	if (cert != "" && key == "") || (cert == "" && key != "") {
		return fmt.Errorf("incomplete TLS configuration: both server.tls.cert_file and server.tls.key_file must be set")
	}
	if cert != "" {
		if _, err := os.Stat(cert); err != nil {
			return fmt.Errorf("tls cert file not accessible: %w", err)
		}
		if _, err := os.Stat(key); err != nil {
			return fmt.Errorf("tls key file not accessible: %w", err)
		}
	}

	// A server without any API keys would reject every request; surface
	// the misconfiguration at startup instead of per-request.
	keys := eff.Config.Security.APIKeys
	if len(keys.Backend) == 0 && len(keys.Frontend) == 0 && len(keys.Admin) == 0 {
		return fmt.Errorf("no API keys configured: set security.api_keys or THREADSYNC_API_*_KEYS")
	}

	return nil
}
