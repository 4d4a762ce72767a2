// Package config loads runtime configuration for the donorsync CLI.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional YAML or JSON file selected with -c or -config.
//  3. A .env file, then DONORSYNC_* environment variables. Sections are
//     separated by a double underscore (DONORSYNC_AUTH__REFRESH_PATH).
//  4. Command-line flags, which override earlier values.
//
// Supported flags
//
//	-a string   server URL
//	-i int      online status check interval (seconds)
//	-d string   data directory
//	-t string   token backend (sqlite, badger, memory)
//	-l string   log level
//
// # File schema
//
// Durations are strings like "3s":
//
//	server_url: http://127.0.0.1:8080
//	request_timeout: 15s
//	online_check_interval: 3s
//	token_backend: sqlite
//	auth:
//	  login_path: /auth/local/login
package config
