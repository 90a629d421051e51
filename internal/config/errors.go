package config

import "errors"

var (
	// ErrInvalidConfig wraps every validation problem found in a loaded Config.
	ErrInvalidConfig = errors.New("invalid config")
	// ErrLoadConfig is returned when the .env file, YAML file or environment cannot be read.
	ErrLoadConfig = errors.New("load config failed")
)
