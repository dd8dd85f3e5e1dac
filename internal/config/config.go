package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	StorageType string // Storage type: "postgres" or "sqlite"
	DSN         string // Full driver DSN; when set it overrides the discrete DB settings below
	SQLitePath  string // SQLite database file
	DBHost      string // PostgreSQL host
	DBUser      string // PostgreSQL user
	DBPassword  string // PostgreSQL password
	DBName      string // PostgreSQL database name
	DBPort      int    // PostgreSQL port
	DBSSLMode   string // PostgreSQL SSL mode
	DBCert      string // PostgreSQL client certificate file
	DBKey       string // PostgreSQL client private key file
	DBRootCert  string // PostgreSQL root CA certificate file
	LogLevel    string // zap level name: debug, info, warn, error
	BcryptCost  int    // Cost used when hashing user passwords
}

const (
	envPrefix = "CERTREGISTRY"

	defaultStorageType = "postgres"
	defaultSQLitePath  = "./data/certregistry.db"
	defaultDBHost      = "localhost"
	defaultDBUser      = "certregistry"
	defaultDBPassword  = "password"
	defaultDBName      = "certregistry"
	defaultDBPort      = 5432
	defaultDBSSLMode   = "disable"
	defaultLogLevel    = "info"
	defaultBcryptCost  = 12
)

// LoadConfig builds the configuration from defaults, an optional YAML file
// and CERTREGISTRY_* environment variables, in increasing precedence.
// Nested keys map to variables with dots replaced by underscores, so
// db.host is read from CERTREGISTRY_DB_HOST.
func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()
	v.SetDefault("storage.type", defaultStorageType)
	v.SetDefault("storage.sqlite_path", defaultSQLitePath)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.host", defaultDBHost)
	v.SetDefault("db.user", defaultDBUser)
	v.SetDefault("db.password", defaultDBPassword)
	v.SetDefault("db.name", defaultDBName)
	v.SetDefault("db.port", defaultDBPort)
	v.SetDefault("db.sslmode", defaultDBSSLMode)
	v.SetDefault("db.cert", "")
	v.SetDefault("db.key", "")
	v.SetDefault("db.rootcert", "")
	v.SetDefault("log.level", defaultLogLevel)
	v.SetDefault("auth.bcrypt_cost", defaultBcryptCost)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: failed to read %s: %w", configFile, err)
		}
	}

	cfg := &Config{
		StorageType: strings.ToLower(v.GetString("storage.type")),
		DSN:         v.GetString("db.dsn"),
		SQLitePath:  v.GetString("storage.sqlite_path"),
		DBHost:      v.GetString("db.host"),
		DBUser:      v.GetString("db.user"),
		DBPassword:  v.GetString("db.password"),
		DBName:      v.GetString("db.name"),
		DBPort:      v.GetInt("db.port"),
		DBSSLMode:   v.GetString("db.sslmode"),
		DBCert:      v.GetString("db.cert"),
		DBKey:       v.GetString("db.key"),
		DBRootCert:  v.GetString("db.rootcert"),
		LogLevel:    v.GetString("log.level"),
		BcryptCost:  v.GetInt("auth.bcrypt_cost"),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	switch c.StorageType {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("config: invalid storage type %q", c.StorageType))
	}
	if c.StorageType == "postgres" && c.DSN == "" && (c.DBPort <= 0 || c.DBPort > 65535) {
		errs = append(errs, fmt.Errorf("config: invalid database port %d", c.DBPort))
	}
	if c.StorageType == "sqlite" && c.DSN == "" && c.SQLitePath == "" {
		errs = append(errs, errors.New("config: sqlite path is empty"))
	}
	return errors.Join(errs...)
}

// DataSourceName returns the DSN handed to the driver for StorageType.
func (c *Config) DataSourceName() string {
	if c.DSN != "" {
		return c.DSN
	}
	if c.StorageType == "sqlite" {
		return SQLiteDSN(c.SQLitePath)
	}
	connStr := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%d sslmode=%s",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort, c.DBSSLMode,
	)
	if c.DBCert != "" {
		connStr += " sslcert=" + c.DBCert
	}
	if c.DBKey != "" {
		connStr += " sslkey=" + c.DBKey
	}
	if c.DBRootCert != "" {
		connStr += " sslrootcert=" + c.DBRootCert
	}
	return connStr
}

// SQLiteDSN returns a file URI for path with foreign keys enforced.
func SQLiteDSN(path string) string {
	return fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", path)
}
