package versioning

import (
	"context"

	"golang.org/x/sync/errgroup"

	"versionstore/api/internal/store"
)

type AddResult struct {
	Item     string `json:"item"`
	Document string `json:"document"`
	Commit   string `json:"commit"`
}

type AddManyResult struct {
	Items     []string `json:"items"`
	Documents []string `json:"documents"`
	Commit    string   `json:"commit"`
}

type UpdateResult struct {
	Item     string `json:"item"`
	Document string `json:"document"`
	Commit   string `json:"commit"`
}

// AddItem creates a new item with content and no links in a new commit.
func (c *Client) AddItem(ctx context.Context, content Content) (AddResult, error) {
	d, err := c.beginCommit(ctx)
	if err != nil {
		return AddResult{}, err
	}
	item, err := c.createItem(ctx, d.id)
	if err != nil {
		return AddResult{}, err
	}
	doc, err := c.writeSnapshot(ctx, item.ID, d.id, cleanContent(content), nil)
	if err != nil {
		return AddResult{}, err
	}
	d.base.Set(item.ID, doc.ID)
	commit, err := c.finalizeCommit(ctx, d)
	if err != nil {
		return AddResult{}, err
	}
	return AddResult{Item: item.ID, Document: doc.ID, Commit: commit.ID}, nil
}

// AddItems creates one item per entry, all in a single commit. Base entries
// follow input order regardless of write completion order.
func (c *Client) AddItems(ctx context.Context, contents []Content) (AddManyResult, error) {
	if len(contents) == 0 {
		return AddManyResult{}, invalid("at least one item is required")
	}
	d, err := c.beginCommit(ctx)
	if err != nil {
		return AddManyResult{}, err
	}

	items := make([]string, len(contents))
	docs := make([]string, len(contents))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.BatchConcurrency)
	for i, content := range contents {
		g.Go(func() error {
			item, err := c.createItem(gctx, d.id)
			if err != nil {
				return err
			}
			doc, err := c.writeSnapshot(gctx, item.ID, d.id, cleanContent(content), nil)
			if err != nil {
				return err
			}
			items[i] = item.ID
			docs[i] = doc.ID
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return AddManyResult{}, err
	}

	for i := range items {
		d.base.Set(items[i], docs[i])
	}
	commit, err := c.finalizeCommit(ctx, d)
	if err != nil {
		return AddManyResult{}, err
	}
	return AddManyResult{Items: items, Documents: docs, Commit: commit.ID}, nil
}

// UpdateItem replaces the item's content. A links key in content is the
// explicit carry-over of links; without it the new snapshot has no links.
func (c *Client) UpdateItem(ctx context.Context, itemID string, content Content) (UpdateResult, error) {
	if _, err := c.getLive(ctx, itemID); err != nil {
		return UpdateResult{}, err
	}
	links, _, err := splitLinks(content)
	if err != nil {
		return UpdateResult{}, err
	}
	for _, link := range links {
		if link.Target == itemID {
			return UpdateResult{}, invalid("item %s cannot link to itself", itemID)
		}
		if _, err := c.getLive(ctx, link.Target); err != nil {
			return UpdateResult{}, err
		}
	}

	d, err := c.beginCommit(ctx)
	if err != nil {
		return UpdateResult{}, err
	}
	if _, ok := d.base.Get(itemID); !ok {
		return UpdateResult{}, notFound("item %s is not in head", itemID)
	}
	doc, err := c.writeSnapshot(ctx, itemID, d.id, cleanContent(content), links)
	if err != nil {
		return UpdateResult{}, err
	}
	d.base.Set(itemID, doc.ID)
	commit, err := c.finalizeCommit(ctx, d)
	if err != nil {
		return UpdateResult{}, err
	}
	return UpdateResult{Item: itemID, Document: doc.ID, Commit: commit.ID}, nil
}

// PatchFields merges fields into the item's top-level content. A nil value
// removes the key. Links are kept as they are.
func (c *Client) PatchFields(ctx context.Context, itemID string, fields Content) (UpdateResult, error) {
	if _, err := c.getLive(ctx, itemID); err != nil {
		return UpdateResult{}, err
	}
	d, err := c.beginCommit(ctx)
	if err != nil {
		return UpdateResult{}, err
	}
	doc, err := c.incrementDocument(ctx, d, itemID, func(content Content, links []store.Link) (Content, []store.Link, error) {
		for key, value := range fields {
			if !storable(key) {
				continue
			}
			if value == nil {
				delete(content, key)
				continue
			}
			content[key] = value
		}
		return content, links, nil
	})
	if err != nil {
		return UpdateResult{}, err
	}
	commit, err := c.finalizeCommit(ctx, d)
	if err != nil {
		return UpdateResult{}, err
	}
	return UpdateResult{Item: itemID, Document: doc.ID, Commit: commit.ID}, nil
}

// incrementDocument writes a new snapshot of itemID derived from its
// document at the draft's previous commit and points the draft base at it.
func (c *Client) incrementDocument(ctx context.Context, d *draft, itemID string, change func(Content, []store.Link) (Content, []store.Link, error)) (store.Document, error) {
	current, err := c.resolveAt(ctx, d, itemID)
	if err != nil {
		return store.Document{}, err
	}
	if docID, ok := d.base.Get(itemID); ok && docID != current.ID {
		// An earlier step of the same draft already wrote a newer snapshot.
		current, err = c.store.GetDocument(ctx, docID)
		if err != nil {
			return store.Document{}, storeErr(err, "document %s", docID)
		}
	}
	content := Content(current.Content)
	if content == nil {
		content = Content{}
	}
	content, links, err := change(content, append([]store.Link{}, current.Links...))
	if err != nil {
		return store.Document{}, err
	}
	doc, err := c.writeSnapshot(ctx, itemID, d.id, content, links)
	if err != nil {
		return store.Document{}, err
	}
	d.base.Set(itemID, doc.ID)
	return doc, nil
}
