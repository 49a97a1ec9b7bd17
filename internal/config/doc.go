// Package config loads the structwatch configuration file (JSON or YAML),
// resolves it into per-component settings and hot-reloads it.
package config
