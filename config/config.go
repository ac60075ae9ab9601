// Package config provides layered configuration loading for gapi tools:
// defaults, then a YAML file, then environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/calder-labs/gapi/accounts"
	"github.com/calder-labs/gapi/auth"
	"golang.org/x/oauth2"
)

// Config holds application credentials and engine options.
type Config struct {
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Scopes       []string `yaml:"scopes,omitempty"`

	// Endpoint overrides, mainly for tests and mock providers.
	AuthURL     string `yaml:"auth_url,omitempty"`
	TokenURL    string `yaml:"token_url,omitempty"`
	UserInfoURL string `yaml:"userinfo_url,omitempty"`

	// ListenPort fixes the OAuth loopback port; 0 picks an ephemeral one.
	ListenPort int `yaml:"listen_port,omitempty"`

	// Timeout bounds the browser-redirect wait, e.g. "2m30s".
	Timeout string `yaml:"timeout,omitempty"`

	// UseKeyring selects the system keychain (default) or the JSON file
	// store at AccountsFile.
	UseKeyring   *bool  `yaml:"use_keyring,omitempty"`
	AccountsFile string `yaml:"accounts_file,omitempty"`
}

// DefaultPath returns the per-user config file location.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "gapi", "config.yaml"), nil
}

// Load reads the YAML file at path (a missing file yields defaults) and
// applies environment overrides: GAPI_CLIENT_ID, GAPI_CLIENT_SECRET,
// GAPI_LISTEN_PORT.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Defaults plus environment only.
	default:
		return nil, err
	}

	if v := os.Getenv("GAPI_CLIENT_ID"); v != "" {
		cfg.ClientID = v
	}
	if v := os.Getenv("GAPI_CLIENT_SECRET"); v != "" {
		cfg.ClientSecret = v
	}
	if v := os.Getenv("GAPI_LISTEN_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid GAPI_LISTEN_PORT: %q", v)
		}
		cfg.ListenPort = port
	}
	return cfg, nil
}

// Validate checks that the flows requiring application credentials can run.
func (c *Config) Validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("client_id is required (set it in the config file or GAPI_CLIENT_ID)")
	}
	if c.ClientSecret == "" {
		return fmt.Errorf("client_secret is required (set it in the config file or GAPI_CLIENT_SECRET)")
	}
	return nil
}

// AuthOptions translates the config into auth job options.
func (c *Config) AuthOptions() (auth.Options, error) {
	opts := auth.Options{
		Endpoint:    oauth2.Endpoint{AuthURL: c.AuthURL, TokenURL: c.TokenURL},
		UserInfoURL: c.UserInfoURL,
		ListenPort:  c.ListenPort,
	}
	if c.Timeout != "" {
		d, err := time.ParseDuration(c.Timeout)
		if err != nil {
			return opts, fmt.Errorf("invalid timeout: %q", c.Timeout)
		}
		opts.Timeout = d
	}
	return opts, nil
}

// Storage builds the account store the config selects: the system keychain
// unless use_keyring is false, then the JSON file store.
func (c *Config) Storage() (accounts.Storage, error) {
	if c.UseKeyring == nil || *c.UseKeyring {
		return accounts.NewKeyringStorage(), nil
	}
	path := c.AccountsFile
	if path == "" {
		var err error
		path, err = accounts.DefaultFileStoragePath()
		if err != nil {
			return nil, err
		}
	}
	return accounts.NewFileStorage(path), nil
}
