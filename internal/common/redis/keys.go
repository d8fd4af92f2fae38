package redis

import (
	"strings"
)

const defaultKeyPrefix = "inkdash"

// KeyBuilder namespaces every key this service writes.
type KeyBuilder struct {
	prefix string
}

func NewKeyBuilder(prefix string) KeyBuilder {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return KeyBuilder{prefix: prefix}
}

// Data returns the key for a cached upstream payload, e.g. "inkdash:data:weather:<hash>".
func (k KeyBuilder) Data(source, hash string) string {
	return k.prefix + ":data:" + source + ":" + hash
}
