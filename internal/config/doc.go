// Package config handles configuration loading for cardea-console.
//
// # Overview
//
// Configuration is loaded from YAML or TOML files with environment variable
// expansion. Every key is optional except server.base_url; missing keys keep
// the values of Default().
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from CARDEA_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/cardea/console.yaml
//  3. ~/.config/cardea/console.yaml
//
// A file ending in .toml is decoded as TOML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	tailscale:
//	  auth_key: "${TS_AUTHKEY}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	session:
//	  settle_delay: "1s"
//	  default_timeout: "60m"
//
// # Configuration Sections
//
// Controller:
//
//	server:
//	  base_url: "https://controller.example.com"
//	  anon_path: "/api/anon/ws"
//	  admin_path: "/api/admin/ws"
//	  write_timeout: "5s"
//
// Session:
//
//	session:
//	  cookie_name: "sessionId"
//	  settle_delay: "1s"
//	  default_timeout: "60m"
//
// Retry policy:
//
//	reconnect:
//	  max_attempts: 10     # 0 retries forever
//	  max_backoff: "30s"
//	send:
//	  max_attempts: 50
//	  max_backoff: "2s"
//
// Persisted client state and role rules:
//
//	storage:
//	  path: "~/.local/share/cardea/console.db"
//	rbac:
//	  rules_path: "/etc/cardea/roles.yaml"
//
// Tailscale:
//
//	tailscale:
//	  enabled: false
//	  hostname: "cardea-console"
//	  auth_key: "${TS_AUTHKEY}"
//	  ephemeral: true
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
//	cfg, err := config.Load(config.DefaultPath())
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
