package cost

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"go.etcd.io/bbolt"

	"github.com/emptyset-io/cloudsweep/telemetry"
)

var bucketPrices = []byte("prices")

// PriceCache caches hourly unit prices keyed by resource type and size.
// Lookups are guarded by an RWMutex over the in-memory map; persistence to
// bbolt happens under a separate mutex so a slow disk write never blocks a
// concurrent lookup.
type PriceCache struct {
	mu     sync.RWMutex
	prices map[string]float64

	persistMu sync.Mutex
	db        *bbolt.DB

	logger *telemetry.Logger
}

// NewPriceCache opens (or creates) a persistent cache at path. An empty
// path yields a memory-only cache.
func NewPriceCache(path string) (*PriceCache, error) {
	cache := &PriceCache{
		prices: make(map[string]float64),
		logger: telemetry.NewLogger("cost.cache"),
	}
	if path == "" {
		return cache, nil
	}

	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open price cache: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketPrices)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	cache.db = db
	if err := cache.load(); err != nil {
		db.Close()
		return nil, err
	}
	return cache, nil
}

// Close closes the backing database, if any.
func (c *PriceCache) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Get returns the cached price for key.
func (c *PriceCache) Get(key string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	price, ok := c.prices[key]
	return price, ok
}

// Put records a price and persists it. The map write and the disk write
// are deliberately decoupled: readers see the new price immediately and
// never wait on bbolt.
func (c *PriceCache) Put(key string, price float64) {
	c.mu.Lock()
	c.prices[key] = price
	c.mu.Unlock()

	if c.db == nil {
		return
	}

	c.persistMu.Lock()
	defer c.persistMu.Unlock()
	err := c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPrices).Put([]byte(key), float64ToBytes(price))
	})
	if err != nil {
		c.logger.Error().Err(err).Str("key", key).Msg("failed to persist price")
	}
}

// Len reports how many prices are cached.
func (c *PriceCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.prices)
}

func (c *PriceCache) load() error {
	return c.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPrices).ForEach(func(k, v []byte) error {
			if len(v) != 8 {
				return nil
			}
			c.prices[string(k)] = bytesToFloat64(v)
			return nil
		})
	})
}

func float64ToBytes(f float64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, math.Float64bits(f))
	return buf
}

func bytesToFloat64(b []byte) float64 {
	return math.Float64frombits(binary.BigEndian.Uint64(b))
}
