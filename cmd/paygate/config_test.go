package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/paygate/pkg/ratelimiter"
)

func TestAppConfigValidate(t *testing.T) {
	t.Parallel()

	valid := appConfig{BillingProvider: "stripe", EventLog: backendPostgres, RateLimitStore: backendMemory}
	assert.NoError(t, valid.validate())

	for name, mutate := range map[string]func(*appConfig){
		"provider":   func(c *appConfig) { c.BillingProvider = "braintree" },
		"event log":  func(c *appConfig) { c.EventLog = "kafka" },
		"rate store": func(c *appConfig) { c.RateLimitStore = backendPostgres },
	} {
		cfg := valid
		mutate(&cfg)
		assert.Error(t, cfg.validate(), name)
	}
}

func TestAppConfigNeedsRedis(t *testing.T) {
	t.Parallel()

	limited := ratelimiter.Config{Capacity: 5}
	assert.False(t, appConfig{EventLog: backendPostgres, RateLimitStore: backendRedis}.needsRedis(), "limiter disabled")
	assert.True(t, appConfig{EventLog: backendPostgres, RateLimitStore: backendRedis, RateLimit: limited}.needsRedis())
	assert.True(t, appConfig{EventLog: backendRedis, RateLimitStore: backendMemory}.needsRedis())
	assert.False(t, appConfig{EventLog: backendMemory, RateLimitStore: backendMemory, RateLimit: limited}.needsRedis())
	assert.Equal(t, "Paddle-Signature", signatureHeader("paddle"))
	assert.Equal(t, "Stripe-Signature", signatureHeader("stripe"))
}
