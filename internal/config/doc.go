// Package config loads the smartfan daemon configuration.
//
// Values come from three layers, later layers winning:
//
//  1. Built-in defaults
//  2. A YAML file (optional)
//  3. SMARTFAN_* environment variables
//
// Durations are written in whole seconds.
package config
