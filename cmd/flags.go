package cmd

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"chat-gateway/internal/config"
)

const defaultEnvFile = ".env"

// configFlags are shared by every command that reads configuration.
type configFlags struct {
	path    string
	envFile string
}

func (f *configFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.path, "config", "", "path to configuration file")
	fs.StringVar(&f.envFile, "env-file", defaultEnvFile, "optional dotenv file loaded before the configuration")
}

func (f *configFlags) load(command string) (config.Config, error) {
	if f.path == "" {
		return config.Config{}, fmt.Errorf("%s command requires --config <path>", command)
	}
	if err := config.LoadEnvFile(f.envFile); err != nil {
		return config.Config{}, err
	}
	return config.Load(f.path)
}

func newFlagSet(name, usage string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, usage)
	}
	return fs
}

// parseFlags reports done when the caller asked for help.
func parseFlags(fs *flag.FlagSet, args []string) (done bool, err error) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return true, nil
		}
		return false, fmt.Errorf("parse %s flags: %w", fs.Name(), err)
	}
	return false, nil
}
