package config

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/moka-remote/mokactl/internal/errors"
	"github.com/moka-remote/mokactl/internal/interfaces"
)

// Environment variables read by LoadEnvironment.
const (
	EnvHost    = "MOKA_HOST"
	EnvPort    = "MOKA_PORT"
	EnvProfile = "MOKA_PROFILE"
	EnvDebug   = "MOKA_DEBUG"
)

// DotEnvFile is loaded from the working directory when present.
const DotEnvFile = ".env"

// Environment holds the overrides taken from the process environment.
type Environment struct {
	Host    string
	Port    int
	Profile string
	Debug   bool
}

// LoadEnvironment loads dotenvPath, if it exists, without overriding
// variables already set, then reads the MOKA_* variables.
func LoadEnvironment(dotenvPath string) (Environment, error) {
	var env Environment

	if dotenvPath != "" {
		if err := godotenv.Load(dotenvPath); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
			return env, errors.FileIO("load_env", dotenvPath, err)
		}
	}

	env.Host = strings.TrimSpace(os.Getenv(EnvHost))
	env.Profile = strings.TrimSpace(os.Getenv(EnvProfile))

	if raw := strings.TrimSpace(os.Getenv(EnvPort)); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil || port <= 0 || port > 65535 {
			return env, errors.Configuration("env", fmt.Errorf("%s=%q is not a valid port", EnvPort, raw))
		}
		env.Port = port
	}

	if raw := strings.TrimSpace(os.Getenv(EnvDebug)); raw != "" {
		debug, err := strconv.ParseBool(raw)
		if err != nil {
			return env, errors.Configuration("env", fmt.Errorf("%s=%q is not a boolean", EnvDebug, raw))
		}
		env.Debug = debug
	}

	return env, nil
}

// Apply overrides the profile's address with any values set.
func (e Environment) Apply(profile *interfaces.Profile) {
	if e.Host != "" {
		profile.Host = e.Host
	}
	if e.Port != 0 {
		profile.Port = e.Port
	}
}

// Overrides are the command-line values that take precedence over both the
// file and the environment.
type Overrides struct {
	Profile string
	Host    string
	Port    int
}

// Resolve picks the profile to use and applies overrides. The profile name
// comes from the flag, then MOKA_PROFILE, then the file's default_profile.
func Resolve(m interfaces.ConfigManager, env Environment, flags Overrides) (*interfaces.Profile, error) {
	name := flags.Profile
	if name == "" {
		name = env.Profile
	}
	if name == "" {
		var err error
		if name, err = m.DefaultProfile(); err != nil {
			return nil, err
		}
	}

	profile, err := m.LoadProfile(name)
	if err != nil {
		return nil, err
	}

	env.Apply(profile)
	if flags.Host != "" {
		profile.Host = flags.Host
	}
	if flags.Port != 0 {
		profile.Port = flags.Port
	}

	if err := m.ValidateProfile(profile); err != nil {
		return nil, errors.Configuration("resolve", fmt.Errorf("profile '%s' after overrides: %w", name, err))
	}
	return profile, nil
}
