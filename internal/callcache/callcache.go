// Package callcache memoises function choices for deterministic requests.
package callcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/samcharles93/llmfunc/internal/chooser"
	"github.com/samcharles93/llmfunc/internal/model"
)

// DefaultTTL applies when a backend is built with a zero TTL.
const DefaultTTL = 10 * time.Minute

// Cache stores calls by key. Get reports ok=false on a miss.
type Cache interface {
	Get(ctx context.Context, key string) (*chooser.Call, bool, error)
	Set(ctx context.Context, key string, call *chooser.Call) error
	Close() error
}

// Key hashes everything that determines a greedy completion.
func Key(modelName string, p model.Params, prompt string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%d\x00%g\x00%d\x00%d\x00", modelName, p.MaxTokens, p.RepeatPenalty, p.RepeatLastN, p.MaxContext)
	h.Write([]byte(prompt))
	return hex.EncodeToString(h.Sum(nil))
}

// Cacheable reports whether p always yields the same completion.
func Cacheable(p model.Params) bool { return p.Greedy() }

// Open builds a cache from a spec: "", "none" or "off" disable caching,
// "memory" selects the in-process cache and redis:// or rediss:// URLs
// select Redis.
func Open(spec string, ttl time.Duration) (Cache, error) {
	switch {
	case spec == "" || spec == "none" || spec == "off":
		return nil, nil
	case spec == "memory":
		return NewMemory(ttl), nil
	case strings.HasPrefix(spec, "redis://") || strings.HasPrefix(spec, "rediss://"):
		r, err := NewRedis(spec, ttl)
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unknown cache %q (expected memory or a redis:// url)", spec)
	}
}
