package config

import "errors"

var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrConfigFileRead     = errors.New("cannot read config file")
	ErrConfigInvalid      = errors.New("invalid config file")
	ErrDBPathEmpty        = errors.New("db_path cannot be empty")
	ErrAddrEmpty          = errors.New("http.addr cannot be empty")
	ErrTokenTTL           = errors.New("token_ttl must be positive")
	ErrLogLevel           = errors.New("unknown log.level")
	ErrSecretRequired     = errors.New("secret is required in production")
)
