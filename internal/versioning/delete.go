package versioning

import "context"

type DeleteResult struct {
	Deleted []string `json:"deleted"`
	Commit  string   `json:"commit"`
}

// DeleteItem soft-deletes itemID and, recursively, every item it owns at the
// current head. Owned targets that are no longer in the head's base, or were
// already deleted, are skipped; cycles are cut by a visited set. The whole
// walk completes before any item is marked.
func (c *Client) DeleteItem(ctx context.Context, itemID string) (DeleteResult, error) {
	if _, err := c.getLive(ctx, itemID); err != nil {
		return DeleteResult{}, err
	}
	d, err := c.beginCommit(ctx)
	if err != nil {
		return DeleteResult{}, err
	}
	if _, ok := d.base.Get(itemID); !ok {
		return DeleteResult{}, notFound("item %s is not in head", itemID)
	}

	k := &cascade{
		client:   c,
		draft:    d,
		maxDepth: c.opts.MaxCascadeDepth,
		visited:  make(map[string]struct{}),
	}
	if err := k.walk(ctx, itemID, 0); err != nil {
		return DeleteResult{}, err
	}
	// Owned items are marked before their owners.
	for _, id := range k.marks {
		if err := c.markDeleted(ctx, id, d.id); err != nil {
			return DeleteResult{}, err
		}
	}
	d.base.Remove(k.deleted...)

	commit, err := c.finalizeCommit(ctx, d)
	if err != nil {
		return DeleteResult{}, err
	}
	return DeleteResult{Deleted: k.deleted, Commit: commit.ID}, nil
}

type cascade struct {
	client   *Client
	draft    *draft
	maxDepth int
	visited  map[string]struct{}
	// deleted lists the root first, then owned items in discovery order.
	deleted []string
	marks   []string
}

func (k *cascade) walk(ctx context.Context, itemID string, depth int) error {
	if _, seen := k.visited[itemID]; seen {
		return nil
	}
	if depth > k.maxDepth {
		return conflict("owns chain below %s exceeds depth %d", itemID, k.maxDepth)
	}
	k.visited[itemID] = struct{}{}

	doc, err := k.client.resolveAt(ctx, k.draft, itemID)
	if err != nil {
		return err
	}
	k.deleted = append(k.deleted, itemID)
	for _, link := range doc.Links {
		if link.Type != LinkOwns {
			continue
		}
		if _, ok := k.draft.prior.Get(link.Target); !ok {
			continue
		}
		live, err := k.live(ctx, link.Target)
		if err != nil {
			return err
		}
		if !live {
			continue
		}
		if err := k.walk(ctx, link.Target, depth+1); err != nil {
			return err
		}
	}
	k.marks = append(k.marks, itemID)
	return nil
}

// live reports whether itemID has no deletion commit yet. A head reset can
// bring back a base that still lists items deleted on another branch.
func (k *cascade) live(ctx context.Context, itemID string) (bool, error) {
	item, err := k.client.store.GetItem(ctx, itemID)
	if err != nil {
		return false, storeErr(err, "item %s", itemID)
	}
	return item.Live(), nil
}

// DeleteAllLatest soft-deletes every live item in the head's base in one
// commit. The new head has an empty base. Live items outside the head's base,
// left over from a head reset, are not touched and stay reachable from the
// commits that list them.
func (c *Client) DeleteAllLatest(ctx context.Context) (DeleteResult, error) {
	d, err := c.beginCommit(ctx)
	if err != nil {
		return DeleteResult{}, err
	}
	deleted, err := c.store.MarkItemsDeleted(ctx, d.base.Items(), d.id)
	if err != nil {
		return DeleteResult{}, storeErr(err, "delete items")
	}
	d.base = NewBase(nil)

	commit, err := c.finalizeCommit(ctx, d)
	if err != nil {
		return DeleteResult{}, err
	}
	return DeleteResult{Deleted: deleted, Commit: commit.ID}, nil
}
