package mirror

import (
	"errors"
	"os"
	"sync"

	"github.com/peterbourgon/diskv/v3"
)

// DiskvKV is a file-backed KV tier. One instance per physical location; the
// "standard" and "group" tiers are two DiskvKVs with different base paths.
type DiskvKV struct {
	d *diskv.Diskv
}

// NewDiskvKV opens (creating if needed) a diskv store rooted at basePath.
func NewDiskvKV(basePath string) (*DiskvKV, error) {
	if basePath == "" {
		return nil, errors.New("mirror: diskv base path required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, err
	}
	return &DiskvKV{d: diskv.New(diskv.Options{
		BasePath:     basePath,
		CacheSizeMax: 1024 * 1024, // 1MB
	})}, nil
}

func (k *DiskvKV) Get(key string) ([]byte, bool) {
	v, err := k.d.Read(key)
	if err != nil {
		return nil, false
	}
	return v, true
}

func (k *DiskvKV) Set(key string, value []byte) error { return k.d.Write(key, value) }

func (k *DiskvKV) Delete(key string) error {
	err := k.d.Erase(key)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

func (k *DiskvKV) Keys() []string {
	var out []string
	for key := range k.d.Keys(nil) {
		out = append(out, key)
	}
	return out
}

// MemKV is an in-memory KV tier used by tests and by single-process setups
// that do not need durability.
type MemKV struct {
	mu sync.RWMutex
	m  map[string][]byte
}

func NewMemKV() *MemKV { return &MemKV{m: make(map[string][]byte)} }

func (k *MemKV) Get(key string) ([]byte, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	v, ok := k.m[key]
	return v, ok
}

func (k *MemKV) Set(key string, value []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.m[key] = append([]byte(nil), value...)
	return nil
}

func (k *MemKV) Delete(key string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.m, key)
	return nil
}

func (k *MemKV) Keys() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]string, 0, len(k.m))
	for key := range k.m {
		out = append(out, key)
	}
	return out
}
