package versioning

import (
	"context"

	"versionstore/api/internal/store"
)

func (c *Client) writeSnapshot(ctx context.Context, itemID, commitID string, content Content, links []store.Link) (store.Document, error) {
	doc := store.Document{
		ID:      c.opts.NewID("doc"),
		Item:    itemID,
		Commit:  commitID,
		Tenant:  c.tenant,
		Content: content,
		Links:   links,
	}
	if doc.Content == nil {
		doc.Content = Content{}
	}
	if doc.Links == nil {
		doc.Links = []store.Link{}
	}
	if err := c.store.InsertDocument(ctx, doc); err != nil {
		return store.Document{}, storeErr(err, "insert document for item %s", itemID)
	}
	return doc, nil
}

// resolveAt returns the document itemID had at the draft's previous commit.
// The item must be in that commit's base and the document must belong to the
// same item.
func (c *Client) resolveAt(ctx context.Context, d *draft, itemID string) (store.Document, error) {
	if d.previous == nil {
		return store.Document{}, notFound("item %s: no commits", itemID)
	}
	documentID, ok := d.prior.Get(itemID)
	if !ok {
		return store.Document{}, notFound("item %s at commit %s", itemID, d.previous.ID)
	}
	doc, err := c.store.GetDocument(ctx, documentID)
	if err != nil {
		return store.Document{}, storeErr(err, "document %s", documentID)
	}
	if doc.Item != itemID {
		return store.Document{}, notFound("item %s at commit %s", itemID, d.previous.ID)
	}
	return doc, nil
}
