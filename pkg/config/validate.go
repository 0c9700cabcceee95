package config

import (
	"fmt"
	"net/url"
	"strings"
)

var logLevels = map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}

// ValidateClient checks the client config for structural correctness.
func ValidateClient(c *Client) []error {
	var errs []error

	if c.Socket == "" && c.URL == "" {
		errs = append(errs, fmt.Errorf("socket or url is required"))
	}
	if c.URL != "" {
		u, err := url.Parse(c.URL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
			errs = append(errs, fmt.Errorf("url must be ws:// or wss:// with a host, got %q", c.URL))
		}
	}
	if c.Reconnect.Delay < 0 || c.Reconnect.Jitter < 0 {
		errs = append(errs, fmt.Errorf("reconnect delay and jitter must not be negative"))
	}
	if c.Logs.SinceSeconds < 0 {
		errs = append(errs, fmt.Errorf("logs.since_seconds must not be negative, got %d", c.Logs.SinceSeconds))
	}
	if c.Logs.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("logs.page_size must be positive, got %d", c.Logs.PageSize))
	}
	if c.Logs.Capacity < 0 {
		errs = append(errs, fmt.Errorf("logs.capacity must not be negative, got %d", c.Logs.Capacity))
	}
	if c.LogLevel != "" && !logLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Errorf("unknown log_level %q", c.LogLevel))
	}
	return errs
}

// ValidateDaemon checks the daemon config for structural correctness.
func ValidateDaemon(d *Daemon) []error {
	var errs []error

	if d.Socket == "" {
		errs = append(errs, fmt.Errorf("socket is required"))
	}
	if d.DB == "" {
		errs = append(errs, fmt.Errorf("db is required"))
	}
	if d.Retention <= 0 {
		errs = append(errs, fmt.Errorf("retention must be positive"))
	}
	if d.Heartbeat <= 0 {
		errs = append(errs, fmt.Errorf("heartbeat must be positive"))
	}
	if d.LogLevel != "" && !logLevels[strings.ToLower(d.LogLevel)] {
		errs = append(errs, fmt.Errorf("unknown log_level %q", d.LogLevel))
	}

	seen := make(map[string]bool)
	for i, s := range d.Sources {
		name := s.Name()
		switch s.Kind {
		case KindFile:
			if s.Path == "" {
				errs = append(errs, fmt.Errorf("source %d (file): path is required", i))
			}
		case KindJournal:
			if s.Unit == "" {
				errs = append(errs, fmt.Errorf("source %d (journal): unit is required", i))
			}
		case KindExec:
			if strings.TrimSpace(s.Command) == "" {
				errs = append(errs, fmt.Errorf("source %d (exec): command is required", i))
			}
		case KindCompose:
			if s.Path == "" {
				errs = append(errs, fmt.Errorf("source %d (compose): path is required", i))
			}
			// Compose sources label lines per service.
			continue
		case "":
			errs = append(errs, fmt.Errorf("source %d: kind is required", i))
			continue
		default:
			errs = append(errs, fmt.Errorf("source %d: unknown kind %q", i, s.Kind))
			continue
		}
		if s.Source == "" {
			errs = append(errs, fmt.Errorf("source %d (%s): source is required", i, s.Kind))
			continue
		}
		if seen[name] {
			errs = append(errs, fmt.Errorf("source %q defined more than once", name))
		}
		seen[name] = true
	}
	return errs
}
