package llm

import (
	"crypto/md5"
	"fmt"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/flow"
)

// ResponseCache stores raw classifier replies for flows with the same
// signature, so a repeated pattern does not cost another model call.
type ResponseCache struct {
	client *gocache.Cache
	ttl    time.Duration
	hits   atomic.Uint64
}

// NewResponseCache creates a cache with entries expiring after ttl.
func NewResponseCache(ttl time.Duration) *ResponseCache {
	return &ResponseCache{
		client: gocache.New(ttl, 2*ttl),
		ttl:    ttl,
	}
}

// Key hashes the fields that characterise a flow for the classifier. FlowID
// and ports that vary per connection are left out.
func (rc *ResponseCache) Key(tplVersion string, rec flow.Record) string {
	key := fmt.Sprintf("%s|%s|%d|%d|%d",
		tplVersion,
		rec.SrcIP,
		rec.DstPort,
		rec.Protocol,
		rec.PacketCount,
	)
	return fmt.Sprintf("%x", md5.Sum([]byte(key)))
}

// Get returns a cached reply
func (rc *ResponseCache) Get(key string) (string, bool) {
	v, ok := rc.client.Get(key)
	if !ok {
		return "", false
	}
	rc.hits.Add(1)
	return v.(string), true
}

// Set stores a reply with the default TTL
func (rc *ResponseCache) Set(key, raw string) {
	rc.client.SetDefault(key, raw)
}

// Stats returns cache statistics
func (rc *ResponseCache) Stats() map[string]interface{} {
	return map[string]interface{}{
		"cached_entries": rc.client.ItemCount(),
		"total_hits":     rc.hits.Load(),
		"ttl_seconds":    rc.ttl.Seconds(),
	}
}

// Clear removes all entries from cache
func (rc *ResponseCache) Clear() {
	rc.client.Flush()
}
