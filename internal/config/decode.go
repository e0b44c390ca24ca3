package config

import (
	"github.com/spf13/pflag"
)

// DecodeConfig holds configuration for the decode command.
type DecodeConfig struct {
	In       string
	Out      string
	Errors   string
	ABIPath  string
	LogLevel string
}

// LoadDecode merges config file, environment variables, and flags into DecodeConfig.
func LoadDecode(cfgFile string, flags *pflag.FlagSet) (DecodeConfig, error) {
	v := newViper()

	v.SetDefault("out", "./data/decoded_events.jsonl")
	v.SetDefault("errors", "./data/decode_errors.jsonl")
	v.SetDefault("log-level", "info")

	if err := readConfig(v, cfgFile, flags); err != nil {
		return DecodeConfig{}, err
	}

	cfg := DecodeConfig{
		In:       v.GetString("in"),
		Out:      v.GetString("out"),
		Errors:   v.GetString("errors"),
		ABIPath:  v.GetString("abi"),
		LogLevel: v.GetString("log-level"),
	}

	return cfg, nil
}
