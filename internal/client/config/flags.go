package config

import (
	"flag"
	"io"
	"time"

	"github.com/dmitrijs2005/donorsync/internal/flagx"
)

var knownFlags = []string{"-a", "-i", "-d", "-t", "-l"}

// parseFlags returns the config keys set on the command line.
//
// Supported flags (short forms):
//
//	-a string   server URL
//	-i int      online check interval in seconds
//	-d string   data directory
//	-t string   token backend: sqlite, badger or memory
//	-l string   log level
//
// Arguments other than these are filtered out with flagx.FilterArgs, so other
// components can define their own.
func parseFlags(args []string, defaults *Config) (map[string]any, error) {
	args = flagx.FilterArgs(args, knownFlags)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	serverURL := fs.String("a", defaults.ServerURL, "server URL")
	interval := fs.Int("i", int(defaults.OnlineCheckInterval.Seconds()), "online check interval (in seconds)")
	dataDir := fs.String("d", defaults.DataDir, "data directory")
	backend := fs.String("t", defaults.TokenBackend, "token backend (sqlite, badger, memory)")
	level := fs.String("l", defaults.LogLevel, "log level")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	out := make(map[string]any)
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "a":
			out["server_url"] = *serverURL
		case "i":
			out["online_check_interval"] = time.Duration(*interval) * time.Second
		case "d":
			out["data_dir"] = *dataDir
		case "t":
			out["token_backend"] = *backend
		case "l":
			out["log_level"] = *level
		}
	})
	return out, nil
}
