// Package config loads typed configuration structs from environment variables.
//
// A .env file in the working directory is read once on first use (missing is
// fine), then github.com/caarlos0/env/v11 fills the struct from `env` and
// `envDefault` tags. Each struct type is parsed at most once per process;
// later Load calls for the same type receive a copy of the cached value.
//
//	type Config struct {
//	    DSN string `env:"DATABASE_URL,required"`
//	}
//
//	var cfg Config
//	config.MustLoad(&cfg)
//
// Parse skips the cache and is what tests should use when they change the
// environment between cases.
package config
