// Package storage writes uploaded build artifacts to an object store.
package storage

import (
	"context"
	"strings"
)

// Object is where a Put landed.
type Object struct {
	Key string // final key, including any configured prefix
	URL string // public URL, empty when the store has no public endpoint
}

// ObjectStore is the write side of the artifact bucket.
//
// Put is called concurrently from the upload fan-out, so implementations must
// be safe for concurrent use. Callers bound each call with a context deadline.
type ObjectStore interface {
	Put(ctx context.Context, key, contentType string, body []byte) (Object, error)
}

// joinKey prefixes key unless it already starts with prefix.
func joinKey(prefix, key string) string {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	switch {
	case prefix == "":
		return key
	case key == "":
		return prefix
	case key == prefix || strings.HasPrefix(key, prefix+"/"):
		return key
	}
	return prefix + "/" + key
}

func joinURL(base, key string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return ""
	}
	return base + "/" + strings.TrimLeft(key, "/")
}
