/*
 * Copyright 2024 by Nedim Sabic Sabic
 * https://www.fibratus.io
 * All Rights Reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package cache memoizes the enumeration results keyed by the analysis configuration.
package cache

import (
	"expvar"
	"fmt"
	"strings"
	"sync"

	"github.com/golang/groupcache/lru"
	"github.com/rabbitstack/modscan/pkg/util/va"
	log "github.com/sirupsen/logrus"
)

// DefaultSize is the default number of results kept in the cache.
const DefaultSize = 16

var (
	cacheHits      = expvar.NewInt("cache.hits")
	cacheMisses    = expvar.NewInt("cache.misses")
	cacheEvictions = expvar.NewInt("cache.evictions")
)

// Key identifies the analysis configuration the result was produced for.
// Options that only affect the presentation of the result, such as the
// offset mode, must not be part of the key.
type Key struct {
	// Plugin is the enumeration name.
	Plugin string
	// Image is the memory image path.
	Image string
	// Profile is the profile name.
	Profile string
	// DTB is the directory table base of the address space.
	DTB uint64
	// Root is the address the enumeration starts from.
	Root va.Address
	// Options are any additional settings that shape the result.
	Options []string
}

// String returns the canonical form of the key.
func (k Key) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s|%s|%s|%#x|%s", k.Plugin, k.Image, strings.ToLower(k.Profile), k.DTB, k.Root.Hex())
	for _, opt := range k.Options {
		sb.WriteString("|")
		sb.WriteString(opt)
	}
	return sb.String()
}

// Cache is the bounded LRU cache of enumeration results. It is safe for concurrent use.
type Cache struct {
	mu    sync.Mutex
	cache *lru.Cache
}

// New creates the cache holding up to size results. A non-positive size
// disables caching, so every lookup invokes the producer.
func New(size int) *Cache {
	if size <= 0 {
		return &Cache{}
	}
	c := lru.New(size)
	c.OnEvicted = func(key lru.Key, value interface{}) {
		cacheEvictions.Add(1)
		log.Debugf("evicted %v from result cache", key)
	}
	return &Cache{cache: c}
}

// Len returns the number of cached results.
func (c *Cache) Len() int {
	if c.cache == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Len()
}

// Purge drops all cached results.
func (c *Cache) Purge() {
	if c.cache == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Clear()
}

func (c *Cache) get(key string) (interface{}, bool) {
	if c.cache == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Get(key)
}

func (c *Cache) add(key string, value interface{}) {
	if c.cache == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Add(key, value)
}

// GetOrCompute returns the cached result for the key, or invokes the producer
// and caches its result. Failed productions are not cached. The lock isn't held
// while the producer runs, so concurrent misses for the same key may each
// invoke the producer.
func GetOrCompute[T any](c *Cache, key Key, producer func() (T, error)) (T, error) {
	k := key.String()
	if v, ok := c.get(k); ok {
		if res, ok := v.(T); ok {
			cacheHits.Add(1)
			log.Debugf("result cache hit for %s", k)
			return res, nil
		}
	}
	cacheMisses.Add(1)
	res, err := producer()
	if err != nil {
		return res, err
	}
	c.add(k, res)
	return res, nil
}
