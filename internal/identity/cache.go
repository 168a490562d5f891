/*
Copyright 2026 Altaira Labs.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package identity

import (
	"sync"
	"time"
)

// ttlCache is a minimal in-process expiring map, one entry per verified
// token hash. There is no background sweep: expired entries are dropped
// lazily on the next get/put that touches them, which is sufficient at
// the scale of one process's concurrent sessions (spec §5).
type ttlCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	principal Principal
	expiresAt time.Time
}

func newTTLCache() *ttlCache {
	return &ttlCache{entries: make(map[string]cacheEntry)}
}

func (c *ttlCache) get(key string) (Principal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return Principal{}, false
	}
	if time.Now().After(e.expiresAt) {
		delete(c.entries, key)
		return Principal{}, false
	}
	return e.principal, true
}

func (c *ttlCache) put(key string, p Principal, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{principal: p, expiresAt: time.Now().Add(ttl)}
}
