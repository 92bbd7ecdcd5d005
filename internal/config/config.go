// Package config holds the server's runtime settings. Values come from
// MDL_SERVER_* environment variables; the command line flags override them.
package config

import (
	"github.com/kelseyhightower/envconfig"
)

// envPrefix is the prefix for all environment variables.
const envPrefix = "MDL_SERVER"

// Config is the issuing server configuration.
type Config struct {
	// Port is the HTTP listen port.
	Port int `envconfig:"PORT" default:"18013"`
	// Database is the path of the SQLite catalog.
	Database string `envconfig:"DATABASE" default:"mdl-server-db.sqlite3"`
	// ResetWithTestdata drops the database file on startup and re-seeds
	// the demo subjects.
	ResetWithTestdata bool `envconfig:"RESET_WITH_TESTDATA" default:"false"`
	// IssuerKey is the path of the PEM encoded EC private key used to
	// sign Mobile Security Objects. Created on first use if absent;
	// empty means an ephemeral key per process.
	IssuerKey string `envconfig:"ISSUER_KEY"`
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	var c Config
	if err := envconfig.Process(envPrefix, &c); err != nil {
		return nil, err
	}
	return &c, nil
}
