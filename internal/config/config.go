package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// PlaceholderAPIKey is the shipped value of backend.apiKey. While it is
// still set the shared backend counts as unconfigured.
const PlaceholderAPIKey = "API_KEY"

// MemoryConfig holds in-memory storage backend settings
type MemoryConfig struct {
	OutputDir      string `json:"outputDir" mapstructure:"outputDir"`
	CompressOutput bool   `json:"compressOutput" mapstructure:"compressOutput"`
}

// SQLiteConfig holds SQLite storage backend settings
type SQLiteConfig struct {
	Path         string        `json:"path" mapstructure:"path"`
	DumpInterval time.Duration `json:"dumpInterval" mapstructure:"dumpInterval"`
	DumpPath     string        `json:"dumpPath" mapstructure:"dumpPath"`
}

// PostgresConfig holds Postgres connection settings
type PostgresConfig struct {
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	Database string `json:"database" mapstructure:"database"`
}

// MongoConfig holds MongoDB connection settings
type MongoConfig struct {
	URI      string `json:"uri" mapstructure:"uri"`
	Database string `json:"database" mapstructure:"database"`
}

// StorageConfig selects and configures the pose and frame store.
type StorageConfig struct {
	Type          string        `json:"type" mapstructure:"type"`
	PollInterval  time.Duration `json:"pollInterval" mapstructure:"pollInterval"`
	FlushInterval time.Duration `json:"flushInterval" mapstructure:"flushInterval"`
	Memory        MemoryConfig
	SQLite        SQLiteConfig
	Postgres      PostgresConfig
	Mongo         MongoConfig
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled      bool
	ServiceName  string
	BatchTimeout time.Duration
	Endpoint     string
	Insecure     bool
}

// ServerConfig holds settings of the space service
type ServerConfig struct {
	Listen    string
	PublicURL string
	BlobDir   string
}

// AuthConfig holds token issuing settings
type AuthConfig struct {
	Secret    string
	IssuerKey string
	TokenTTL  time.Duration
}

// MonitorConfig holds presence monitor settings
type MonitorConfig struct {
	Interval   time.Duration
	PruneAfter time.Duration
	StatusFile string
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file.
func Load(configDir string) error {
	setDefaults()

	viper.SetEnvPrefix("museum")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetConfigName("museum.cfg.json")
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
}

func setDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./museumlogs")

	viper.SetDefault("backend.apiKey", PlaceholderAPIKey)
	viper.SetDefault("backend.projectId", "personal-museum")

	viper.SetDefault("api.serverUrl", "http://localhost:8080")
	viper.SetDefault("api.token", "")

	viper.SetDefault("server.listen", ":8080")
	viper.SetDefault("server.publicUrl", "http://localhost:8080")

	viper.SetDefault("auth.secret", "")
	viper.SetDefault("auth.issuerKey", "")
	viper.SetDefault("auth.tokenTTL", "720h")

	viper.SetDefault("storage.type", "memory")
	viper.SetDefault("storage.pollInterval", "500ms")
	viper.SetDefault("storage.flushInterval", "200ms")
	viper.SetDefault("storage.memory.outputDir", "")
	viper.SetDefault("storage.memory.compressOutput", true)
	viper.SetDefault("storage.sqlite.path", "")
	viper.SetDefault("storage.sqlite.dumpInterval", "3m")
	viper.SetDefault("storage.sqlite.dumpPath", "./museum.db")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "museum")

	viper.SetDefault("mongo.uri", "mongodb://localhost:27017")
	viper.SetDefault("mongo.database", "museum")

	viper.SetDefault("blob.dir", "./blobs")

	viper.SetDefault("presence.publishTimeout", "2s")

	viper.SetDefault("monitor.interval", "15s")
	viper.SetDefault("monitor.pruneAfter", "10m")
	viper.SetDefault("monitor.statusFile", "")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "museum-metrics")
	viper.SetDefault("influx.bucket", "museum_presence")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "museum")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)
}

// BackendConfigured reports whether the shared backend has real credentials.
// Presence, frame loading and saving are inert while it returns false.
func BackendConfigured() bool {
	key := viper.GetString("backend.apiKey")
	return key != "" && key != PlaceholderAPIKey
}

// GetStorageConfig returns the storage backend settings.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type:          viper.GetString("storage.type"),
		PollInterval:  viper.GetDuration("storage.pollInterval"),
		FlushInterval: viper.GetDuration("storage.flushInterval"),
		Memory: MemoryConfig{
			OutputDir:      viper.GetString("storage.memory.outputDir"),
			CompressOutput: viper.GetBool("storage.memory.compressOutput"),
		},
		SQLite: SQLiteConfig{
			Path:         viper.GetString("storage.sqlite.path"),
			DumpInterval: viper.GetDuration("storage.sqlite.dumpInterval"),
			DumpPath:     viper.GetString("storage.sqlite.dumpPath"),
		},
		Postgres: PostgresConfig{
			Host:     viper.GetString("db.host"),
			Port:     viper.GetString("db.port"),
			Username: viper.GetString("db.username"),
			Password: viper.GetString("db.password"),
			Database: viper.GetString("db.database"),
		},
		Mongo: MongoConfig{
			URI:      viper.GetString("mongo.uri"),
			Database: viper.GetString("mongo.database"),
		},
	}
}

// GetOTelConfig returns the OpenTelemetry settings.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

// GetServerConfig returns the space service settings.
func GetServerConfig() ServerConfig {
	return ServerConfig{
		Listen:    viper.GetString("server.listen"),
		PublicURL: strings.TrimRight(viper.GetString("server.publicUrl"), "/"),
		BlobDir:   viper.GetString("blob.dir"),
	}
}

// GetAuthConfig returns the token issuing settings.
func GetAuthConfig() AuthConfig {
	return AuthConfig{
		Secret:    viper.GetString("auth.secret"),
		IssuerKey: viper.GetString("auth.issuerKey"),
		TokenTTL:  viper.GetDuration("auth.tokenTTL"),
	}
}

// GetMonitorConfig returns the presence monitor settings.
func GetMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Interval:   viper.GetDuration("monitor.interval"),
		PruneAfter: viper.GetDuration("monitor.pruneAfter"),
		StatusFile: viper.GetString("monitor.statusFile"),
	}
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetDuration returns a duration config value.
func GetDuration(key string) time.Duration {
	return viper.GetDuration(key)
}
