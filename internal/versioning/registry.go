package versioning

import (
	"context"
	"errors"

	"versionstore/api/internal/store"
)

func (c *Client) createItem(ctx context.Context, commitID string) (store.Item, error) {
	item := store.Item{
		ID:             c.opts.NewID("itm"),
		Tenant:         c.tenant,
		CreationCommit: commitID,
	}
	if err := c.store.InsertItem(ctx, item); err != nil {
		return store.Item{}, storeErr(err, "insert item %s", item.ID)
	}
	return item, nil
}

// markDeleted is conditional and not idempotent: a second call for the same
// item fails.
func (c *Client) markDeleted(ctx context.Context, itemID, commitID string) error {
	ok, err := c.store.MarkItemDeleted(ctx, itemID, commitID)
	if err != nil {
		return storeErr(err, "delete item %s", itemID)
	}
	if ok {
		return nil
	}
	item, err := c.store.GetItem(ctx, itemID)
	if errors.Is(err, store.ErrNotFound) {
		return notFound("item %s", itemID)
	}
	if err != nil {
		return storeErr(err, "item %s", itemID)
	}
	if !item.Live() {
		return conflict("item %s already deleted in commit %s", itemID, *item.DeletionCommit)
	}
	return conflict("item %s could not be deleted", itemID)
}

func (c *Client) getLive(ctx context.Context, itemID string) (store.Item, error) {
	if itemID == "" {
		return store.Item{}, invalid("item id is required")
	}
	item, err := c.store.GetLiveItem(ctx, itemID)
	if err != nil {
		return store.Item{}, storeErr(err, "item %s", itemID)
	}
	return item, nil
}
