// Package idgen provides the identifier strategies used across browserd and
// mirrord: opaque session tokens, time-sortable run ids and short trace ids.
package idgen

import (
	"crypto/rand"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NanoID returns a Generator that produces base-36 IDs of the given length
// from crypto/rand. Bytes above the largest multiple of 36 are redrawn so
// every character is equally likely.
func NanoID(length int) Generator {
	const limit = 256 - 256%len(alphabet)
	return func() string {
		out := make([]byte, 0, length)
		buf := make([]byte, length+length/4+1)
		for len(out) < length {
			if _, err := rand.Read(buf); err != nil {
				panic("idgen: crypto/rand failed: " + err.Error())
			}
			for _, b := range buf {
				if int(b) >= limit {
					continue
				}
				out = append(out, alphabet[int(b)%len(alphabet)])
				if len(out) == length {
					break
				}
			}
		}
		return string(out)
	}
}

// UUIDv7 returns a Generator that produces RFC 9562 UUID v7 strings.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed wraps a Generator and prepends a fixed prefix to every ID.
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// SessionToken is the generator browserd uses for session ids. Tokens are
// opaque to clients and long enough that they cannot be enumerated.
var SessionToken Generator = Prefixed("sess_", NanoID(24))

// RunID produces time-sortable ids for refresh runs. A run id doubles as the
// trace id of the extraction calls made during the run.
var RunID Generator = UUIDv7()

// TraceID is the generator for request trace ids on the HTTP and MCP surfaces.
var TraceID Generator = NanoID(12)
