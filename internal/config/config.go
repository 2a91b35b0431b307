// Package config loads the pool's configuration from CLI flags (via
// jessevdk/go-flags, as the teacher's CLI-less GUI app never needed but
// the rest of the pack's services all do) layered over an optional YAML
// file (gopkg.in/yaml.v3), and validates the result. Field names mirror
// spec §6's configuration table rather than the teacher's Node/Stratum/
// Mining/Vardiff/App/Proxy sub-struct split, which exists to back a
// desktop settings UI this pool doesn't have.
package config

import (
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"
	"gopkg.in/yaml.v3"

	"github.com/b-vibesonly/joule-pool/internal/coin"
)

const maxCoinbaseMessageLen = 100

// Config holds every externally tunable parameter of the pool.
type Config struct {
	ConfigFile string `short:"c" long:"config" description:"path to a YAML config file; CLI flags override its values" yaml:"-"`

	RPCHost     string `long:"rpchost" description:"Bitcoin node RPC host" yaml:"rpchost"`
	RPCPort     int    `long:"rpcport" description:"Bitcoin node RPC port" yaml:"rpcport"`
	RPCUser     string `long:"rpcuser" description:"Bitcoin node RPC username" yaml:"rpcuser"`
	RPCPassword string `long:"rpcpassword" description:"Bitcoin node RPC password" yaml:"rpcpassword"`

	Address string `long:"address" description:"payout address; all found blocks pay here" yaml:"address"`

	Host string `long:"host" description:"Stratum listener bind address" yaml:"host"`
	Port int    `long:"port" description:"Stratum listener port" yaml:"port"`

	Difficulty float64 `long:"difficulty" description:"initial per-client difficulty" yaml:"difficulty"`

	CoinbaseMessage string `long:"coinbase-message" description:"text embedded in the coinbase input script, capped at 100 bytes" yaml:"coinbase_message"`

	WebStats bool `long:"web-stats" description:"enable the JSON statistics HTTP endpoint" yaml:"web_stats"`
	WebPort  int  `long:"web-port" description:"port for the statistics HTTP endpoint" yaml:"web_port"`

	Verbose bool `short:"v" long:"verbose" description:"enable debug-level logging" yaml:"verbose"`
}

// Defaults matches spec §6's documented defaults.
func Defaults() Config {
	return Config{
		RPCHost:    "127.0.0.1",
		RPCPort:    8332,
		RPCUser:    "bitcoin",
		Host:       "0.0.0.0",
		Port:       3333,
		Difficulty: 0.01,
		WebPort:    8080,
	}
}

// Load parses CLI args over the package defaults, then a YAML file (if
// -c/--config is given), then CLI args again so flags always win over
// the file. go-flags mutates the struct it's given, so the three-pass
// apply-defaults/file/flags order is implemented by parsing twice.
func Load(args []string) (*Config, error) {
	cfg := Defaults()

	// First pass: just to discover --config, ignoring unknown-flag noise
	// from flags that only make sense after the file is loaded isn't a
	// concern here since every flag is declared up front.
	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	if cfg.ConfigFile != "" {
		fileCfg := Defaults()
		if err := loadYAML(cfg.ConfigFile, &fileCfg); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
		fileCfg.ConfigFile = cfg.ConfigFile

		// Re-parse flags on top of the file-backed config so CLI flags
		// take precedence over the file, and the file takes precedence
		// over defaults.
		parser = flags.NewParser(&fileCfg, flags.Default)
		if _, err := parser.ParseArgs(args); err != nil {
			return nil, fmt.Errorf("parse flags: %w", err)
		}
		cfg = fileCfg
	}

	if len(cfg.CoinbaseMessage) > maxCoinbaseMessageLen {
		cfg.CoinbaseMessage = cfg.CoinbaseMessage[:maxCoinbaseMessageLen]
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadYAML(path string, out *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, out)
}

// Validate checks field ranges and resolves the payout address, the two
// checks spec §7 names as startup-fatal config-invalid conditions.
func (c *Config) Validate() error {
	if c.RPCHost == "" {
		return fmt.Errorf("rpchost must not be empty")
	}
	if c.RPCPort <= 0 || c.RPCPort > 65535 {
		return fmt.Errorf("rpcport out of range: %d", c.RPCPort)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port out of range: %d", c.Port)
	}
	if c.Address == "" {
		return fmt.Errorf("address must be set")
	}
	if _, err := coin.DecodeAddress(c.Address); err != nil {
		return fmt.Errorf("invalid payout address: %w", err)
	}
	if c.Difficulty <= 0 {
		return fmt.Errorf("difficulty must be positive")
	}
	if c.WebStats && (c.WebPort <= 0 || c.WebPort > 65535) {
		return fmt.Errorf("web_port out of range: %d", c.WebPort)
	}
	return nil
}
