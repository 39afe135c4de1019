// Package config reads leader and agent configuration from the
// environment, applying defaults and validating the few values that are
// mandatory at startup.
package config
