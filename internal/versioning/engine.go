package versioning

import (
	"context"
	"errors"
	"strings"
	"time"

	"versionstore/api/internal/store"
	"versionstore/api/internal/util"
)

const (
	DefaultMaxCascadeDepth  = 64
	DefaultBatchConcurrency = 8
)

type Options struct {
	// Clock stamps commit dates. Defaults to time.Now in UTC.
	Clock func() time.Time
	// NewID generates prefixed ids. Defaults to util.NewID.
	NewID func(prefix string) string
	// MaxCascadeDepth bounds how deep a delete follows owns links.
	MaxCascadeDepth int
	// BatchConcurrency bounds concurrent snapshot writes in AddItems.
	BatchConcurrency int
}

type Engine struct {
	backend store.Backend
	opts    Options
}

func NewEngine(backend store.Backend, opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}
	if opts.NewID == nil {
		opts.NewID = util.NewID
	}
	if opts.MaxCascadeDepth <= 0 {
		opts.MaxCascadeDepth = DefaultMaxCascadeDepth
	}
	if opts.BatchConcurrency <= 0 {
		opts.BatchConcurrency = DefaultBatchConcurrency
	}
	return &Engine{backend: backend, opts: opts}
}

// Tenant returns the handle through which every operation for tenant runs.
func (e *Engine) Tenant(tenant string) (*Client, error) {
	tenant = strings.TrimSpace(tenant)
	if tenant == "" {
		return nil, invalid("tenant is required")
	}
	return &Client{
		store:  e.backend.Scope(tenant),
		tenant: tenant,
		opts:   e.opts,
	}, nil
}

func (e *Engine) Ping(ctx context.Context) error {
	return e.backend.Ping(ctx)
}

// Client is a tenant-bound capability. It holds no mutable state of its own
// and is safe for concurrent use.
type Client struct {
	store  store.TenantStore
	tenant string
	opts   Options
}

func (c *Client) Tenant() string {
	return c.tenant
}

func (c *Client) Head(ctx context.Context) (HeadInfo, error) {
	return c.resolveHead(ctx)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

func IsInvalidArgument(err error) bool {
	return errors.Is(err, ErrInvalidArgument)
}
