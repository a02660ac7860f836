package config

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Validate checks configuration invariants and returns actionable errors.
// Errors are per-server: one malformed server never hides another.
func Validate(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	names := make([]string, 0, len(cfg.Servers))
	for name := range cfg.Servers {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		errs = append(errs, validateServer(name, cfg.Servers[name])...)
	}

	if cfg.Daemon.PoolSize < 0 {
		errs = append(errs, fmt.Errorf("daemon.pool_size: must be >= 0, got %d", cfg.Daemon.PoolSize))
	}

	return errors.Join(errs...)
}

func validateServer(name string, srv ServerConfig) []error {
	var errs []error

	hasCommand := strings.TrimSpace(srv.Command) != ""
	hasURL := strings.TrimSpace(srv.URL) != ""

	switch {
	case hasCommand && hasURL:
		errs = append(errs, fmt.Errorf("servers.%s: configure either command (stdio) or url (http), not both", name))
	case !hasCommand && !hasURL:
		errs = append(errs, fmt.Errorf("servers.%s: missing transport, set command (stdio) or url (http)", name))
	}

	if hasURL {
		if _, err := url.ParseRequestURI(srv.URL); err != nil {
			errs = append(errs, fmt.Errorf("servers.%s.url: invalid URL %q: %w", name, srv.URL, err))
		}
	}

	if srv.Token != "" && !hasURL {
		errs = append(errs, fmt.Errorf("servers.%s.token: only valid with url (http) transport", name))
	}

	for i, tool := range srv.AutoApprove {
		if strings.TrimSpace(tool) == "" {
			errs = append(errs, fmt.Errorf("servers.%s.auto_approve[%d]: empty tool name", name, i))
		}
	}

	return errs
}
