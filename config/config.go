package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"tokenledger/crypto"
)

const (
	BackendMemory  = "memory"
	BackendLevelDB = "leveldb"

	// MaxDecimal bounds the display precision accepted for a new token.
	MaxDecimal = 18
)

// TokenConfig seeds the instance written by core.Deploy.
type TokenConfig struct {
	Name    string `toml:"Name" yaml:"name"`
	Symbol  string `toml:"Symbol" yaml:"symbol"`
	Decimal uint32 `toml:"Decimal" yaml:"decimal"`
	Admin   string `toml:"Admin" yaml:"admin"`
}

type Config struct {
	DataDir          string      `toml:"DataDir" yaml:"data_dir"`
	Backend          string      `toml:"Backend" yaml:"backend"`
	LevelDBCache     int         `toml:"LevelDBCache" yaml:"leveldb_cache"`
	LevelDBHandles   int         `toml:"LevelDBHandles" yaml:"leveldb_handles"`
	Environment      string      `toml:"Environment" yaml:"environment"`
	LogFile          string      `toml:"LogFile" yaml:"log_file"`
	LogLevel         string      `toml:"LogLevel" yaml:"log_level"`
	AdminKeystore    string      `toml:"AdminKeystore" yaml:"admin_keystore"`
	AdminKeystoreEnv string      `toml:"AdminKeystoreEnv" yaml:"admin_keystore_env"`
	InitialLedgerSeq uint32      `toml:"InitialLedgerSeq" yaml:"initial_ledger_seq"`
	Token            TokenConfig `toml:"Token" yaml:"token"`
}

// ErrAdminKeystoreMismatch indicates the configured administrator is not the
// key held in the admin keystore.
var ErrAdminKeystoreMismatch = errors.New("config: admin does not match keystore")

// KeystoreScrypt controls the cost of keystores generated by createDefault.
var KeystoreScrypt = crypto.StandardScrypt

// Load loads the configuration from the given path. A missing file is
// replaced by a default configuration with a freshly generated admin key.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	} else if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if isYAML(path) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	} else {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config file %s has unknown field %s", path, undecoded[0].String())
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Backend) == "" {
		c.Backend = BackendLevelDB
	}
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./tokenledger-data"
	}
	if c.LevelDBCache <= 0 {
		c.LevelDBCache = 16
	}
	if c.LevelDBHandles <= 0 {
		c.LevelDBHandles = 16
	}
}

// Validate checks the fields needed to open a store and deploy the token.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}
	switch c.Backend {
	case BackendMemory, BackendLevelDB:
	default:
		return fmt.Errorf("backend: unsupported %q", c.Backend)
	}
	if c.Backend == BackendLevelDB && strings.TrimSpace(c.DataDir) == "" {
		return errors.New("data_dir: required for leveldb backend")
	}
	if strings.TrimSpace(c.Token.Name) == "" {
		return errors.New("token.name: required")
	}
	if strings.TrimSpace(c.Token.Symbol) == "" {
		return errors.New("token.symbol: required")
	}
	if c.Token.Decimal > MaxDecimal {
		return fmt.Errorf("token.decimal: %d exceeds %d", c.Token.Decimal, MaxDecimal)
	}
	if _, err := c.AdminAddress(); err != nil {
		return err
	}
	return nil
}

// AdminAddress decodes the configured administrator.
func (c *Config) AdminAddress() (crypto.Address, error) {
	raw := strings.TrimSpace(c.Token.Admin)
	if raw == "" {
		return crypto.Address{}, errors.New("token.admin: required")
	}
	addr, err := crypto.DecodeAddress(raw)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("token.admin: %w", err)
	}
	return addr, nil
}

// VerifyAdminKeystore decrypts the admin keystore, when one is configured, and
// checks that it holds the key of Token.Admin. The passphrase is read from the
// environment variable named by AdminKeystoreEnv; without one the keystore is
// expected to be unencrypted.
func (c *Config) VerifyAdminKeystore() error {
	path := strings.TrimSpace(c.AdminKeystore)
	if path == "" {
		return nil
	}
	admin, err := c.AdminAddress()
	if err != nil {
		return err
	}
	var passphrase string
	if env := strings.TrimSpace(c.AdminKeystoreEnv); env != "" {
		passphrase = os.Getenv(env)
	}
	key, err := crypto.LoadFromKeystore(path, passphrase)
	if err != nil {
		return fmt.Errorf("admin keystore %s: %w", path, err)
	}
	if got := key.PubKey().Address(); got != admin {
		return fmt.Errorf("%w: keystore holds %s, token.admin is %s", ErrAdminKeystoreMismatch, got, admin)
	}
	return nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, "", KeystoreScrypt); err != nil {
		return nil, err
	}

	cfg := &Config{
		DataDir:       "./tokenledger-data",
		Backend:       BackendLevelDB,
		Environment:   "local",
		LogLevel:      "info",
		AdminKeystore: keystorePath,
		Token: TokenConfig{
			Name:    "Token",
			Symbol:  "TKN",
			Decimal: 7,
			Admin:   key.PubKey().Address().String(),
		},
	}
	cfg.applyDefaults()

	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if isYAML(path) {
		enc := yaml.NewEncoder(f)
		defer enc.Close()
		return enc.Encode(cfg)
	}
	return toml.NewEncoder(f).Encode(cfg)
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "admin.keystore")
}
