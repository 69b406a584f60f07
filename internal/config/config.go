// Package config implements profile management for mokactl.
// Profiles live in a YAML file under the user's configuration directory and
// can be overridden from the environment or a local .env file.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/moka-remote/mokactl/internal/domain"
	"github.com/moka-remote/mokactl/internal/errors"
	"github.com/moka-remote/mokactl/internal/framing"
	"github.com/moka-remote/mokactl/internal/interfaces"
	"github.com/moka-remote/mokactl/internal/logging"
	"github.com/moka-remote/mokactl/internal/transport"
)

const (
	appDirName         = "mokactl"
	configFileName     = "profiles.yaml"
	DefaultProfileName = "default"
	MockProfileName    = "mock"
	defaultPort        = 8081
)

// Config represents the complete configuration file structure
type Config struct {
	DefaultProfile string                        `yaml:"default_profile,omitempty"`
	Profiles       map[string]interfaces.Profile `yaml:"profiles"`
	Themes         map[string]interfaces.Theme   `yaml:"themes"`
}

// Manager implements interfaces.ConfigManager on top of a YAML file.
type Manager struct {
	configPath string
	logger     *logging.Logger

	mu           sync.Mutex
	cachedConfig *Config
}

var _ interfaces.ConfigManager = (*Manager)(nil)

// NewManager creates a manager for the file at the OS-appropriate path.
func NewManager() (*Manager, error) {
	configPath, err := DefaultConfigPath()
	if err != nil {
		return nil, errors.Configuration("path", err)
	}
	return NewManagerWithPath(configPath)
}

// NewManagerWithPath creates a manager for an explicit configuration file.
func NewManagerWithPath(configPath string) (*Manager, error) {
	if strings.TrimSpace(configPath) == "" {
		return nil, errors.Configuration("path", fmt.Errorf("configuration path cannot be empty"))
	}

	manager := &Manager{
		configPath: configPath,
		logger:     logging.GetConfigLogger(),
	}

	if err := manager.ensureConfigDirectory(); err != nil {
		return nil, errors.Configuration("init", err)
	}
	return manager, nil
}

// DefaultConfigPath returns $XDG_CONFIG_HOME/mokactl/profiles.yaml, falling
// back to ~/.config.
func DefaultConfigPath() (string, error) {
	if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
		return filepath.Join(xdgConfigHome, appDirName, configFileName), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", appDirName, configFileName), nil
}

// ensureConfigDirectory creates the configuration directory, owner-only
func (m *Manager) ensureConfigDirectory() error {
	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", configDir, err)
	}
	return nil
}

// loadConfig reads and parses the configuration file, creating defaults if
// necessary. Callers hold m.mu.
func (m *Manager) loadConfig() (*Config, error) {
	if m.cachedConfig != nil {
		return m.cachedConfig, nil
	}

	if _, err := os.Stat(m.configPath); os.IsNotExist(err) {
		config := createDefaultConfig()
		if err := m.saveConfig(config); err != nil {
			return nil, fmt.Errorf("failed to create default configuration: %w", err)
		}
		m.logger.Info("Created default configuration", "config_path", m.configPath)
		m.cachedConfig = config
		return config, nil
	}

	data, err := os.ReadFile(m.configPath)
	if err != nil {
		m.logger.LogConfigError("read", err)
		return nil, errors.FileIO("read_config", m.configPath, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		m.logger.LogConfigError("parse", err)
		return nil, errors.Configuration("parse", fmt.Errorf("failed to parse %s: %w", m.configPath, err))
	}
	if config.Profiles == nil {
		config.Profiles = make(map[string]interfaces.Profile)
	}
	if config.Themes == nil {
		config.Themes = defaultThemes()
	}

	m.cachedConfig = &config
	return &config, nil
}

// saveConfig writes the configuration to disk, owner-only
func (m *Manager) saveConfig(config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}
	if err := os.WriteFile(m.configPath, data, 0600); err != nil {
		m.logger.LogConfigError("write", err)
		return errors.FileIO("write_config", m.configPath, err)
	}
	return nil
}

// DefaultProfile returns the profile used to reach the appliance on its
// factory address.
func DefaultProfile() interfaces.Profile {
	policy := transport.DefaultRetryPolicy()
	host, _, _ := net.SplitHostPort(transport.DefaultAddress)
	return interfaces.Profile{
		Name:            DefaultProfileName,
		Host:            host,
		Port:            defaultPort,
		Framing:         framing.ModeDelimited.String(),
		DefaultVoice:    domain.VoicePapa.String(),
		Theme:           "github",
		DialTimeout:     transport.DefaultDialTimeout,
		WriteTimeout:    transport.DefaultWriteTimeout,
		ResponseTimeout: 5 * time.Second,
		MaxFrameSize:    framing.DefaultMaxFrameSize,
		Retry: interfaces.RetryConfig{
			MaxAttempts:  policy.MaxAttempts,
			InitialDelay: policy.InitialDelay,
			MaxDelay:     policy.MaxDelay,
			Multiplier:   policy.Multiplier,
		},
	}
}

func createDefaultConfig() *Config {
	device := DefaultProfile()

	mock := DefaultProfile()
	mock.Name = MockProfileName
	mock.Host = "127.0.0.1"
	mock.Theme = "monokai"
	mock.Retry.ReconnectOnDrop = true

	return &Config{
		DefaultProfile: DefaultProfileName,
		Profiles: map[string]interfaces.Profile{
			device.Name: device,
			mock.Name:   mock,
		},
		Themes: defaultThemes(),
	}
}

func defaultThemes() map[string]interfaces.Theme {
	return map[string]interfaces.Theme{
		"github": {
			Name:    "github",
			Success: "#28a745",
			Error:   "#dc3545",
			Warning: "#ffc107",
			Info:    "#17a2b8",
		},
		"monokai": {
			Name:    "monokai",
			Success: "#a6e22e",
			Error:   "#f92672",
			Warning: "#fd971f",
			Info:    "#66d9ef",
		},
	}
}

// LoadProfile retrieves a profile by name from the configuration file
func (m *Manager) LoadProfile(name string) (*interfaces.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.LogConfigLoad(m.configPath, name)
	config, err := m.loadConfig()
	if err != nil {
		return nil, err
	}

	profile, exists := config.Profiles[name]
	if !exists {
		return nil, errors.Configuration("load_profile", fmt.Errorf("profile '%s' not found", name))
	}
	profile.Name = name

	if err := m.ValidateProfile(&profile); err != nil {
		return nil, errors.Configuration("load_profile", fmt.Errorf("profile '%s' is invalid: %w", name, err))
	}
	return &profile, nil
}

// SaveProfile persists a profile to the configuration file
func (m *Manager) SaveProfile(profile *interfaces.Profile) error {
	if err := m.ValidateProfile(profile); err != nil {
		return errors.Configuration("save_profile", fmt.Errorf("cannot save invalid profile: %w", err))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	config, err := m.loadConfig()
	if err != nil {
		return err
	}
	config.Profiles[profile.Name] = *profile

	if err := m.saveConfig(config); err != nil {
		m.cachedConfig = nil
		return err
	}
	return nil
}

// ListProfiles returns all available profile names, sorted
func (m *Manager) ListProfiles() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	config, err := m.loadConfig()
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(config.Profiles))
	for name := range config.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// DefaultProfile returns the configured default profile name.
func (m *Manager) DefaultProfile() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	config, err := m.loadConfig()
	if err != nil {
		return "", err
	}
	if config.DefaultProfile != "" {
		return config.DefaultProfile, nil
	}
	return DefaultProfileName, nil
}

// LoadTheme retrieves theme configuration by name
func (m *Manager) LoadTheme(name string) (*interfaces.Theme, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	config, err := m.loadConfig()
	if err != nil {
		return nil, err
	}

	theme, exists := config.Themes[name]
	if !exists {
		return nil, errors.Configuration("load_theme", fmt.Errorf("theme '%s' not found", name))
	}
	theme.Name = name
	return &theme, nil
}

// ValidateProfile ensures profile has all required fields
func (m *Manager) ValidateProfile(profile *interfaces.Profile) error {
	if profile == nil {
		return fmt.Errorf("profile cannot be nil")
	}
	if strings.TrimSpace(profile.Name) == "" {
		return fmt.Errorf("profile name cannot be empty")
	}
	if strings.TrimSpace(profile.Host) == "" {
		return fmt.Errorf("profile host cannot be empty")
	}
	if strings.Contains(profile.Host, ":") && net.ParseIP(profile.Host) == nil {
		return fmt.Errorf("host must not include a port; use the port field")
	}
	if profile.Port <= 0 || profile.Port > 65535 {
		return fmt.Errorf("port %d is out of range", profile.Port)
	}
	if _, err := framing.ParseMode(profile.Framing); err != nil {
		return err
	}
	if profile.DefaultVoice != "" {
		if _, err := domain.ParseVoice(profile.DefaultVoice); err != nil {
			return err
		}
	}
	if profile.DialTimeout < 0 || profile.WriteTimeout < 0 || profile.ResponseTimeout < 0 {
		return fmt.Errorf("timeouts cannot be negative")
	}
	if profile.MaxFrameSize < 0 {
		return fmt.Errorf("max_frame_size cannot be negative")
	}
	if profile.Retry.MaxAttempts < 0 {
		return fmt.Errorf("retry.max_attempts cannot be negative")
	}
	if profile.Retry.Multiplier != 0 && profile.Retry.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be at least 1")
	}
	return nil
}

// GetConfigPath returns the path to the configuration file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// InvalidateCache clears the cached configuration, forcing a reload on next access
func (m *Manager) InvalidateCache() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cachedConfig = nil
}

// DeleteProfile removes a profile from the configuration
func (m *Manager) DeleteProfile(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	config, err := m.loadConfig()
	if err != nil {
		return err
	}
	if _, exists := config.Profiles[name]; !exists {
		return errors.Configuration("delete_profile", fmt.Errorf("profile '%s' does not exist", name))
	}
	if name == DefaultProfileName || name == config.DefaultProfile {
		return errors.Configuration("delete_profile", fmt.Errorf("cannot delete the default profile"))
	}

	delete(config.Profiles, name)
	if err := m.saveConfig(config); err != nil {
		m.cachedConfig = nil
		return err
	}
	return nil
}
