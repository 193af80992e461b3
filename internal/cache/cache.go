// Package cache keeps product lookups in Redis for a short TTL. Entries are
// dropped after each add-item commit that touched the product; the cache is
// never consulted for stock decisions.
//
// Every product has a generation counter next to its entry. Invalidate bumps
// it, and Set only writes when the generation still matches the one the
// reader saw in Get, so a read that raced with a commit cannot put the old
// stock back.
package cache

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/nazeru/tx-lab-orders-go/internal/order/domain"
)

const (
	keyPrefix = "txlab:product:"
	genSuffix = ":gen"

	defaultTTL = 30 * time.Second
)

// setIfGen writes KEYS[2] only while KEYS[1] still holds the generation ARGV[1].
var setIfGen = redis.NewScript(`
local cur = redis.call('GET', KEYS[1]) or '0'
if cur ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
return 1
`)

type ProductCache struct {
	rdb *redis.Client
	ttl time.Duration
	log *zap.Logger
}

func New(rdb *redis.Client, ttl time.Duration, log *zap.Logger) *ProductCache {
	if log == nil {
		log = zap.NewNop()
	}
	if ttl < time.Millisecond {
		ttl = defaultTTL
	}
	return &ProductCache{rdb: rdb, ttl: ttl, log: log}
}

// Dial parses a redis:// URL and checks the connection.
func Dial(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}

type entry struct {
	ID           int64           `json:"id"`
	Name         string          `json:"name"`
	Quantity     int             `json:"quantity"`
	Price        decimal.Decimal `json:"price"`
	CategoryID   *int64          `json:"category_id,omitempty"`
	CategoryName *string         `json:"category_name,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func key(id domain.ProductID) string {
	return keyPrefix + strconv.FormatInt(int64(id), 10)
}

func genKey(id domain.ProductID) string {
	return key(id) + genSuffix
}

// Get returns the cached product, if any, and the current generation to pass
// to Set after a store read.
func (c *ProductCache) Get(ctx context.Context, id domain.ProductID) (domain.ProductView, uint64, bool) {
	vals, err := c.rdb.MGet(ctx, genKey(id), key(id)).Result()
	if err != nil {
		c.log.Warn("product cache get failed", zap.Int64("product_id", int64(id)), zap.Error(err))
		return domain.ProductView{}, 0, false
	}
	var gen uint64
	if raw, ok := vals[0].(string); ok {
		if gen, err = strconv.ParseUint(raw, 10, 64); err != nil {
			c.log.Warn("product cache generation corrupt", zap.Int64("product_id", int64(id)), zap.Error(err))
			return domain.ProductView{}, 0, false
		}
	}
	raw, ok := vals[1].(string)
	if !ok {
		return domain.ProductView{}, gen, false
	}
	var e entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		c.log.Warn("product cache entry corrupt", zap.Int64("product_id", int64(id)), zap.Error(err))
		return domain.ProductView{}, gen, false
	}
	view := domain.ProductView{
		Product: domain.Product{
			ID:        domain.ProductID(e.ID),
			Name:      e.Name,
			Quantity:  e.Quantity,
			Price:     e.Price,
			CreatedAt: e.CreatedAt,
			UpdatedAt: e.UpdatedAt,
		},
		CategoryName: e.CategoryName,
	}
	if e.CategoryID != nil {
		cid := domain.CategoryID(*e.CategoryID)
		view.CategoryID = &cid
	}
	return view, gen, true
}

// Set stores p unless the product was invalidated after the Get that returned gen.
func (c *ProductCache) Set(ctx context.Context, p domain.ProductView, gen uint64) {
	e := entry{
		ID:           int64(p.ID),
		Name:         p.Name,
		Quantity:     p.Quantity,
		Price:        p.Price,
		CategoryName: p.CategoryName,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
	if p.CategoryID != nil {
		cid := int64(*p.CategoryID)
		e.CategoryID = &cid
	}
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	keys := []string{genKey(p.ID), key(p.ID)}
	args := []any{strconv.FormatUint(gen, 10), data, c.ttl.Milliseconds()}
	if err := setIfGen.Run(ctx, c.rdb, keys, args...).Err(); err != nil {
		c.log.Warn("product cache set failed", zap.Int64("product_id", int64(p.ID)), zap.Error(err))
	}
}

func (c *ProductCache) Invalidate(ctx context.Context, id domain.ProductID) {
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, genKey(id))
		pipe.Del(ctx, key(id))
		return nil
	})
	if err != nil {
		c.log.Warn("product cache invalidate failed", zap.Int64("product_id", int64(id)), zap.Error(err))
	}
}
