package redis

import "errors"

var (
	ErrEmptyConnectionURL = errors.New("redis: empty connection URL")
	ErrInvalidURL         = errors.New("redis: invalid connection URL")
	ErrNotReady           = errors.New("redis: server did not answer within the connect timeout")
	ErrHealthcheckFailed  = errors.New("redis: healthcheck failed")
)
