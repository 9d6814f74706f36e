package config

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type cached struct {
	once  sync.Once
	value any
	err   error
}

var (
	cache        sync.Map // type name -> *cached
	dotenvLoaded sync.Once
)

func loadDotenv() {
	dotenvLoaded.Do(func() {
		// A missing .env file is normal outside local development.
		_ = godotenv.Load()
	})
}

// Load fills v from the environment, parsing each config type only once.
// A parse failure is cached as well, so a misconfigured process fails the same
// way on every call.
func Load[T any](v *T) error {
	if v == nil {
		return ErrNilPointer
	}
	loadDotenv()

	entry, _ := cache.LoadOrStore(typeName[T](), &cached{})
	c := entry.(*cached)
	c.once.Do(func() {
		var fresh T
		if err := env.Parse(&fresh); err != nil {
			c.err = errors.Join(ErrParsingConfig, err)
			return
		}
		c.value = fresh
	})
	if c.err != nil {
		return c.err
	}

	*v = c.value.(T)
	return nil
}

// MustLoad works like Load but panics if configuration loading fails.
func MustLoad[T any](v *T) {
	if err := Load(v); err != nil {
		panic(fmt.Sprintf("failed to load required configuration: %v", err))
	}
}

// Parse reads T from the environment without touching the cache.
func Parse[T any]() (T, error) {
	loadDotenv()

	var v T
	if err := env.Parse(&v); err != nil {
		return v, errors.Join(ErrParsingConfig, err)
	}
	return v, nil
}

func typeName[T any]() string {
	t := reflect.TypeFor[T]()
	return t.PkgPath() + "." + t.String()
}
