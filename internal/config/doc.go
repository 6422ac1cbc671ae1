// Package config loads, normalizes, and validates assemblyline configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// MINIO_ACCESS_KEY and REDIS_PASSWORD. The Config type centralizes every knob
// the daemon and CLI need: object storage buckets, the Redis queue, processor
// concurrency, webhook policy and deployment template overrides.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, a complete bucket allow-list, and clear validation errors.
package config
