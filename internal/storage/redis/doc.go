// Package redis provides the Redis-backed prediction cache used by the
// inference layer. Identical vitals scored by the same model version and
// threshold are answered from Redis instead of re-running the ensemble.
package redis
