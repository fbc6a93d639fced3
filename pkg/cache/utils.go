package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Key joins a namespace and parts with ':'.
func Key(namespace string, parts ...interface{}) string {
	var b strings.Builder
	b.WriteString(namespace)
	for _, p := range parts {
		b.WriteByte(':')
		fmt.Fprint(&b, p)
	}
	return b.String()
}

// HashKey shortens an arbitrary-length key to a fixed-size hex digest.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
