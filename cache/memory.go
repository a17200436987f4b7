package cache

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// MemCache keeps metadata in a map. Nothing survives a restart.
type MemCache struct {
	mutex *sync.RWMutex
	db    map[string]Metadata
}

var _ CacheProvider = MemCache{}

func NewMemCache() MemCache {
	return MemCache{
		mutex: &sync.RWMutex{},
		db:    make(map[string]Metadata),
	}
}

func (m MemCache) Get(key string) (Metadata, bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	entry, ok := m.db[key]
	if !ok {
		return Metadata{}, false, nil
	}
	entry.Header = entry.Header.Clone()
	return entry, true, nil
}

func (m MemCache) Put(entry Metadata) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	entry.Header = entry.Header.Clone()
	m.db[entry.Key] = entry
	return nil
}

func (m MemCache) Expiring(prefix string, before time.Time) ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	expiring := make([]Metadata, 0)
	for key, entry := range m.db {
		if !strings.HasPrefix(key, prefix) || !entry.Complete || entry.Expires.IsZero() {
			continue
		}
		if !entry.Expires.After(before) {
			expiring = append(expiring, entry)
		}
	}
	sort.Slice(expiring, func(i, j int) bool {
		return expiring[i].Expires.Before(expiring[j].Expires)
	})
	keys := make([]string, len(expiring))
	for i, entry := range expiring {
		keys[i] = entry.Key
	}
	return keys, nil
}

func (m MemCache) Purge(key string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.db, key)
	return nil
}

func (m MemCache) Has(key string) bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	_, ok := m.db[key]
	return ok
}

func (m MemCache) AllKeys(prefix string, cb func(string)) error {
	m.mutex.RLock()
	keys := make([]string, 0, len(m.db))
	for key := range m.db {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	m.mutex.RUnlock()
	sort.Strings(keys)
	for _, key := range keys {
		cb(key)
	}
	return nil
}

func (m MemCache) Close() error {
	return nil
}
