// Package rules provides a read-through cache of the service's matching rules.
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Veraticus/bankcleanr/internal/common"
	"github.com/Veraticus/bankcleanr/internal/model"
	"github.com/Veraticus/bankcleanr/internal/service"
)

// Cache holds the rule list fetched from the service until it is invalidated.
type Cache struct {
	svc   service.RuleService
	rules []model.Rule
	retry service.RetryOptions
	mu    sync.Mutex
	valid bool
}

// Option configures a Cache.
type Option func(*Cache)

// WithRetryOptions sets how List retries a failed fetch.
func WithRetryOptions(opts service.RetryOptions) Option {
	return func(c *Cache) {
		c.retry = opts
	}
}

// NewCache creates an empty cache.
func NewCache(svc service.RuleService, opts ...Option) *Cache {
	c := &Cache{
		svc: svc,
		retry: service.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     5 * time.Second,
			Multiplier:   2,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// List returns the cached rules, fetching them on first use.
func (c *Cache) List(ctx context.Context) ([]model.Rule, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.valid {
		return append([]model.Rule(nil), c.rules...), nil
	}

	var fetched []model.Rule
	err := common.WithRetry(ctx, func() error {
		var err error
		fetched, err = c.svc.ListRules(ctx)
		return err
	}, c.retry)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}

	slog.Debug("Fetched rules", "count", len(fetched))
	c.rules = fetched
	c.valid = true
	return append([]model.Rule(nil), fetched...), nil
}

// Save validates and posts rule, then invalidates the cache.
func (c *Cache) Save(ctx context.Context, rule model.Rule) (*model.Rule, error) {
	rule.Label = strings.TrimSpace(rule.Label)
	rule.Pattern = strings.TrimSpace(rule.Pattern)
	if rule.Label == "" {
		return nil, common.NewValidationError("label", "", common.ErrInvalidRule)
	}
	if rule.Pattern == "" {
		return nil, common.NewValidationError("pattern", rule.Label, common.ErrInvalidRule)
	}

	saved, err := c.svc.SaveRule(ctx, rule)
	if err != nil {
		return nil, fmt.Errorf("failed to save rule %q: %w", rule.Label, err)
	}

	c.Invalidate()
	slog.Info("Saved rule", "label", rule.Label, "pattern", rule.Pattern)
	return saved, nil
}

// Invalidate forces the next List to refetch.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.valid = false
	c.rules = nil
}
