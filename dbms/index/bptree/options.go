package bptree

import (
	"log/slog"

	"github.com/btree-query-bench/pagetree/dbms/index/btpage"
	"github.com/btree-query-bench/pagetree/dbms/pager"
)

// DefaultOrder is the fan-out used when WithOrder is not given.
const DefaultOrder = 4

// Option configures a Tree at Open.
type Option func(*config)

type config struct {
	order      int
	cacheSize  int
	pageSize   int
	syncWrites bool
	logger     *slog.Logger
}

func defaultConfig() config {
	return config{
		order:     DefaultOrder,
		cacheSize: pager.DefaultCacheSize,
		pageSize:  btpage.DefaultPageSize,
	}
}

// WithOrder sets the maximum number of children of an internal page. Pages
// hold at most order-1 keys. It must be at least 3 and small enough for a full
// page to fit in one slot (see btpage.MaxOrder).
func WithOrder(n int) Option {
	return func(c *config) { c.order = n }
}

// WithCacheSize bounds the number of resident pages.
func WithCacheSize(n int) Option {
	return func(c *config) { c.cacheSize = n }
}

// WithPageSize sets the on-disk slot size.
func WithPageSize(n int) Option {
	return func(c *config) { c.pageSize = n }
}

// WithSyncWrites fsyncs the file after every page write.
func WithSyncWrites(on bool) Option {
	return func(c *config) { c.syncWrites = on }
}

// WithLogger overrides the logger used by the tree, its cache and store.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}
