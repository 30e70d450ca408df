package inference

import (
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/jellydator/ttlcache/v3"

	"inferd/internal/chat"
)

// answerCache memoizes answers per prompt. Greedy decoding with fixed
// params is deterministic, so a hit is the answer generation would produce.
type answerCache struct {
	cache *ttlcache.Cache[uint64, cachedAnswer]
}

type cachedAnswer struct {
	prompt string
	answer string
}

func newAnswerCache(ttl time.Duration, capacity uint64) *answerCache {
	if ttl <= 0 {
		return nil
	}
	c := ttlcache.New[uint64, cachedAnswer](
		ttlcache.WithTTL[uint64, cachedAnswer](ttl),
		ttlcache.WithCapacity[uint64, cachedAnswer](capacity),
		ttlcache.WithDisableTouchOnHit[uint64, cachedAnswer](),
	)
	go c.Start()
	return &answerCache{cache: c}
}

// get is nil-safe so a disabled cache needs no checks at call sites.
func (a *answerCache) get(p chat.Prompt) (string, bool) {
	if a == nil {
		return "", false
	}
	item := a.cache.Get(xxhash.Sum64String(string(p)))
	if item == nil {
		return "", false
	}
	v := item.Value()
	// Digest collisions fall through to generation.
	if v.prompt != string(p) {
		return "", false
	}
	return v.answer, true
}

func (a *answerCache) set(p chat.Prompt, answer string) {
	if a == nil {
		return
	}
	a.cache.Set(xxhash.Sum64String(string(p)), cachedAnswer{prompt: string(p), answer: answer}, ttlcache.DefaultTTL)
}

func (a *answerCache) close() {
	if a == nil {
		return
	}
	a.cache.Stop()
}
