package filestore

import (
	"fmt"
	"os"

	"github.com/dgraph-io/ristretto"
	"github.com/pkg/errors"
)

// indexCache keeps scanned indexes keyed by recipient, file size and
// modification time. Any append changes the key, so a hit always
// describes the current file contents.
type indexCache struct {
	c *ristretto.Cache
}

func newIndexCache(maxCost int64) (*indexCache, error) {
	if maxCost <= 0 {
		return nil, nil
	}

	counters := maxCost / 256 * 10
	if counters < 1000 {
		counters = 1000
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: counters,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, errors.WithMessage(err, "NewCache")
	}

	return &indexCache{c: cache}, nil
}

func cacheKey(recipient string, fi os.FileInfo) string {
	return fmt.Sprintf("%s:%d:%d", recipient, fi.Size(), fi.ModTime().UnixNano())
}

func (c *indexCache) get(key string) (*index, bool) {
	if c == nil {
		return nil, false
	}
	v, ok := c.c.Get(key)
	if !ok {
		return nil, false
	}
	idx, ok := v.(*index)
	return idx, ok
}

// set stores idx. Ristretto may drop or delay the write; callers never
// depend on a later get hitting.
func (c *indexCache) set(key string, idx *index) {
	if c == nil {
		return
	}
	c.c.Set(key, idx, idx.cost())
}

func (c *indexCache) close() {
	if c == nil {
		return
	}
	c.c.Close()
}
