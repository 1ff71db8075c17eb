// Package config loads the JSON configuration consumed by the agent daemon
// and CLI, resolving relative paths against the configuration file and
// filling defaults for every optional section.
package config
