// Package redis connects to Redis with go-redis/v9 and provides Claims, an
// expiring SET NX key set used to de-duplicate work across processes.
package redis
