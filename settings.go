// Package alder connects applications to MongoDB through a query
// layer that understands field-selection algebra, schema-resolved
// field paths, atomic find-and-modify, and the behavior differences
// between server generations.
package alder

import (
	"os"
	"time"

	"github.com/mongodb/grip"
	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v3"
)

const (
	// DefaultDatabaseURL is used when no connection string is
	// configured.
	DefaultDatabaseURL = "mongodb://localhost:27017"
	// DefaultDatabaseName is used when no database name is configured.
	DefaultDatabaseName = "alder"

	defaultConnectTimeoutSeconds = 10
	defaultPingAttempts          = 5
)

// Settings is the top-level service configuration, usually loaded from
// a yaml file.
type Settings struct {
	Database DBSettings `yaml:"database" bson:"database" json:"database"`
	LogLevel string     `yaml:"log_level" bson:"log_level" json:"log_level"`
}

// DBSettings configures the database connection.
type DBSettings struct {
	URL                   string `yaml:"url" bson:"url" json:"url"`
	DB                    string `yaml:"db" bson:"db" json:"db"`
	ConnectTimeoutSeconds int    `yaml:"connect_timeout_seconds" bson:"connect_timeout_seconds" json:"connect_timeout_seconds"`
	PingAttempts          int    `yaml:"ping_attempts" bson:"ping_attempts" json:"ping_attempts"`
}

// NewSettings reads settings from a yaml configuration file.
func NewSettings(file string) (*Settings, error) {
	configData, err := os.ReadFile(file)
	if err != nil {
		return nil, errors.Wrapf(err, "reading configuration file '%s'", file)
	}

	settings := &Settings{}
	if err := yaml.Unmarshal(configData, settings); err != nil {
		return nil, errors.Wrapf(err, "unmarshalling configuration file '%s'", file)
	}
	return settings, nil
}

// Validate checks the settings, filling defaults where a value is
// optional.
func (s *Settings) Validate() error {
	catcher := grip.NewBasicCatcher()

	if s.Database.URL == "" {
		s.Database.URL = DefaultDatabaseURL
	}
	if s.Database.DB == "" {
		s.Database.DB = DefaultDatabaseName
	}
	if s.Database.ConnectTimeoutSeconds < 0 {
		catcher.New("database connect timeout cannot be negative")
	}
	if s.Database.ConnectTimeoutSeconds == 0 {
		s.Database.ConnectTimeoutSeconds = defaultConnectTimeoutSeconds
	}
	if s.Database.PingAttempts < 0 {
		catcher.New("database ping attempts cannot be negative")
	}
	if s.Database.PingAttempts == 0 {
		s.Database.PingAttempts = defaultPingAttempts
	}

	return catcher.Resolve()
}

func (s *DBSettings) connectTimeout() time.Duration {
	return time.Duration(s.ConnectTimeoutSeconds) * time.Second
}
