package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// AppName names the configuration, data and cache directories
const AppName = "gossip"

// Config represents the main application configuration
type Config struct {
	General    GeneralConfig    `toml:"general"`
	Logging    LoggingConfig    `toml:"logging"`
	Storage    StorageConfig    `toml:"storage"`
	Connection ConnectionConfig `toml:"connection"`
	Transfer   TransferConfig   `toml:"transfer"`
	Plugins    PluginsConfig    `toml:"plugins"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	DataDir     string `toml:"data_dir"`
	AutoConnect bool   `toml:"auto_connect"`
	// Theme is a console theme file. Empty uses the built-in colors.
	Theme string `toml:"theme"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level   string `toml:"level"`
	File    string `toml:"file"`
	Console bool   `toml:"console"`
}

// StorageConfig contains storage settings
type StorageConfig struct {
	// SaveMessages enables message history
	SaveMessages bool `toml:"save_messages"`

	// SaveRoster keeps the contact list for offline display
	SaveRoster bool `toml:"save_roster"`

	// SaveTransfers records finished and failed file transfers
	SaveTransfers bool `toml:"save_transfers"`
}

// ConnectionConfig contains login settings shared by all accounts
type ConnectionConfig struct {
	ConnectTimeout   Duration `toml:"connect_timeout"`
	ComposingTimeout Duration `toml:"composing_timeout"`

	// RandomResource appends a random suffix to the resource on every login
	RandomResource bool `toml:"random_resource"`
}

// TransferConfig contains file transfer settings
type TransferConfig struct {
	DownloadDir  string `toml:"download_dir"`
	OfferIBB     bool   `toml:"offer_ibb"`
	IBBBlockSize int    `toml:"ibb_block_size"`

	// ListenHost is where streamhosts listen. Empty picks an address.
	ListenHost string `toml:"listen_host"`
}

// PluginsConfig contains plugin settings
type PluginsConfig struct {
	Enabled   []string `toml:"enabled"`
	PluginDir string   `toml:"plugin_dir"`
}

// Duration is a time.Duration written as a string such as "45s"
type Duration struct {
	time.Duration
}

// UnmarshalText parses a duration string
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	if v < 0 {
		return fmt.Errorf("invalid duration %q: negative", text)
	}
	d.Duration = v
	return nil
}

// MarshalText formats the duration
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Account represents an XMPP account configuration
type Account struct {
	JID             string       `toml:"jid"`
	Password        string       `toml:"password"`
	AutoConnect     bool         `toml:"auto_connect"`
	Server          string       `toml:"server"`
	Port            int          `toml:"port"`
	UseSSL          bool         `toml:"use_ssl"`
	IgnoreSSLErrors bool         `toml:"ignore_ssl_errors"`
	Priority        int          `toml:"priority"`
	Resource        string       `toml:"resource"`
	Proxy           *ProxyConfig `toml:"proxy,omitempty"`
	Session         bool         `toml:"-"` // Session-only account, not saved to disk
}

// ProxyConfig is a SOCKS5 proxy for an account
type ProxyConfig struct {
	Enabled  bool   `toml:"enabled"`
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Username string `toml:"username"`
	Password string `toml:"password"`
}

// AccountsConfig contains all account configurations
type AccountsConfig struct {
	Accounts []Account `toml:"accounts"`
}

// Find returns the account with the given JID
func (a *AccountsConfig) Find(jid string) (*Account, bool) {
	for i := range a.Accounts {
		if a.Accounts[i].JID == jid {
			return &a.Accounts[i], true
		}
	}
	return nil, false
}

// Paths holds the XDG-compliant paths for the application
type Paths struct {
	ConfigDir string
	DataDir   string
	CacheDir  string
}

// ConfigFile returns the path of config.toml
func (p *Paths) ConfigFile() string {
	return filepath.Join(p.ConfigDir, "config.toml")
}

// AccountsFile returns the path of accounts.toml
func (p *Paths) AccountsFile() string {
	return filepath.Join(p.ConfigDir, "accounts.toml")
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		General: GeneralConfig{
			DataDir:     "",
			AutoConnect: false,
		},
		Logging: LoggingConfig{
			Level:   "info",
			File:    "",
			Console: false,
		},
		Storage: StorageConfig{
			SaveMessages:  true,
			SaveRoster:    true,
			SaveTransfers: true,
		},
		Connection: ConnectionConfig{
			ConnectTimeout:   Duration{210 * time.Second},
			ComposingTimeout: Duration{45 * time.Second},
			RandomResource:   false,
		},
		Transfer: TransferConfig{
			DownloadDir:  "",
			OfferIBB:     true,
			IBBBlockSize: 4096,
			ListenHost:   "",
		},
		Plugins: PluginsConfig{
			Enabled:   []string{},
			PluginDir: "",
		},
	}
}

// GetPaths returns XDG-compliant paths for the application
func GetPaths() (*Paths, error) {
	configDir, err := xdgDir("XDG_CONFIG_HOME", ".config")
	if err != nil {
		return nil, err
	}
	dataDir, err := xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
	if err != nil {
		return nil, err
	}
	cacheDir, err := xdgDir("XDG_CACHE_HOME", ".cache")
	if err != nil {
		return nil, err
	}

	return &Paths{
		ConfigDir: filepath.Join(configDir, AppName),
		DataDir:   filepath.Join(dataDir, AppName),
		CacheDir:  filepath.Join(cacheDir, AppName),
	}, nil
}

func xdgDir(env, fallback string) (string, error) {
	if dir := os.Getenv(env); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, fallback), nil
}

// EnsureDirectories creates the necessary directories
func (p *Paths) EnsureDirectories() error {
	dirs := []string{p.ConfigDir, p.DataDir, p.CacheDir}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// Load loads the configuration from the config file
func Load() (*Config, error) {
	paths, err := GetPaths()
	if err != nil {
		return nil, err
	}

	if err := paths.EnsureDirectories(); err != nil {
		return nil, err
	}
	return LoadFile(paths.ConfigFile(), paths)
}

// LoadFile reads the configuration at path. A missing file yields the
// defaults. Relative locations are resolved against paths.
func LoadFile(path string, paths *Paths) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.resolvePaths(paths)
	return cfg, nil
}

// Validate rejects values the engine cannot work with
func (c *Config) Validate() error {
	if c.Connection.ConnectTimeout.Duration == 0 {
		return fmt.Errorf("connection.connect_timeout must be positive")
	}
	if c.Connection.ComposingTimeout.Duration == 0 {
		return fmt.Errorf("connection.composing_timeout must be positive")
	}
	if c.Transfer.IBBBlockSize <= 0 || c.Transfer.IBBBlockSize > 65535 {
		return fmt.Errorf("transfer.ibb_block_size must be between 1 and 65535, got %d", c.Transfer.IBBBlockSize)
	}
	return nil
}

func (c *Config) resolvePaths(paths *Paths) {
	if c.General.DataDir == "" {
		c.General.DataDir = paths.DataDir
	} else {
		c.General.DataDir = expandPath(c.General.DataDir)
	}

	if c.Plugins.PluginDir == "" {
		c.Plugins.PluginDir = filepath.Join(c.General.DataDir, "plugins")
	} else {
		c.Plugins.PluginDir = expandPath(c.Plugins.PluginDir)
	}

	if c.Logging.File == "" {
		c.Logging.File = filepath.Join(c.General.DataDir, AppName+".log")
	} else {
		c.Logging.File = expandPath(c.Logging.File)
	}

	if c.Transfer.DownloadDir == "" {
		c.Transfer.DownloadDir = filepath.Join(c.General.DataDir, "downloads")
	} else {
		c.Transfer.DownloadDir = expandPath(c.Transfer.DownloadDir)
	}

	c.General.Theme = expandPath(c.General.Theme)
}

// LoadAccounts loads account configurations
func LoadAccounts() (*AccountsConfig, error) {
	paths, err := GetPaths()
	if err != nil {
		return nil, err
	}
	return LoadAccountsFile(paths.AccountsFile())
}

// LoadAccountsFile reads the accounts at path. A missing file yields no
// accounts.
func LoadAccountsFile(path string) (*AccountsConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &AccountsConfig{Accounts: []Account{}}, nil
	}

	var accounts AccountsConfig
	if _, err := toml.DecodeFile(path, &accounts); err != nil {
		return nil, fmt.Errorf("failed to parse accounts file: %w", err)
	}

	// Set defaults for accounts
	for i := range accounts.Accounts {
		acc := &accounts.Accounts[i]
		if acc.JID == "" {
			return nil, fmt.Errorf("account %d has no jid", i+1)
		}
		if acc.Port == 0 {
			acc.Port = 5222
		}
		if acc.Resource == "" {
			acc.Resource = AppName
		}
		if acc.Proxy != nil && acc.Proxy.Enabled && acc.Proxy.Port == 0 {
			acc.Proxy.Port = 1080
		}
	}

	return &accounts, nil
}

// Save saves the configuration to the config file
func Save(cfg *Config) error {
	paths, err := GetPaths()
	if err != nil {
		return err
	}
	return writeTOML(paths.ConfigFile(), cfg, 0600)
}

// SaveAccounts saves account configurations. Session-only accounts are
// left out.
func SaveAccounts(accounts *AccountsConfig) error {
	paths, err := GetPaths()
	if err != nil {
		return err
	}
	return SaveAccountsFile(paths.AccountsFile(), accounts)
}

// SaveAccountsFile writes accounts to path
func SaveAccountsFile(path string, accounts *AccountsConfig) error {
	persisted := AccountsConfig{Accounts: []Account{}}
	for _, acc := range accounts.Accounts {
		if !acc.Session {
			persisted.Accounts = append(persisted.Accounts, acc)
		}
	}
	return writeTOML(path, &persisted, 0600)
}

func writeTOML(path string, v interface{}, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}

	return nil
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
