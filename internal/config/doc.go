// Package config defines deployment settings used by the hsparc binaries and
// provides helpers to load, validate and save them in YAML format.
//
// Settings load in three layers: documented defaults, the YAML file, then
// HSPARC_* environment variables (optionally sourced from an env file).
package config
