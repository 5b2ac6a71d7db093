package versioning

import (
	"context"
	"errors"
	"time"

	"versionstore/api/internal/store"
)

// draft is an in-progress commit. Nothing is persisted for it until
// finalizeCommit runs, so an abandoned draft leaves at most orphan
// documents that no base list references.
type draft struct {
	id       string
	previous *store.Commit
	// prior indexes the previous commit's base and is never modified.
	prior *Base
	base  *Base
	date  time.Time
}

func (c *Client) beginCommit(ctx context.Context) (*draft, error) {
	head, err := c.resolveHead(ctx)
	if err != nil {
		return nil, err
	}
	d := &draft{
		id:       c.opts.NewID("cmt"),
		previous: head.Commit,
		prior:    NewBase(nil),
		date:     c.opts.Clock(),
	}
	if head.Commit != nil {
		d.prior = NewBase(head.Commit.Base)
	}
	d.base = d.prior.Clone()
	return d, nil
}

// finalizeCommit inserts the draft as the new head and then clears the flag
// on every older head. The two steps are not atomic; resolveHead tolerates
// the window in between.
func (c *Client) finalizeCommit(ctx context.Context, d *draft) (store.Commit, error) {
	commit := store.Commit{
		ID:     d.id,
		Author: c.tenant,
		Date:   d.date,
		IsHead: true,
		Base:   d.base.Entries(),
	}
	if d.previous != nil {
		previous := d.previous.ID
		commit.Previous = &previous
	}
	saved, err := c.store.InsertCommit(ctx, commit)
	if err != nil {
		return store.Commit{}, storeErr(err, "insert commit %s", d.id)
	}

	heads, err := c.store.HeadCommits(ctx)
	if err != nil {
		return store.Commit{}, storeErr(err, "read head")
	}
	for _, head := range heads {
		if head.ID == saved.ID || head.Seq > saved.Seq {
			continue
		}
		if err := c.store.SetHead(ctx, head.ID, false); err != nil {
			return store.Commit{}, storeErr(err, "unflag head %s", head.ID)
		}
	}
	return saved, nil
}

// ResetHead moves the head flag to commitID, or to the most recently
// created commit when commitID is empty. No commit is created.
func (c *Client) ResetHead(ctx context.Context, commitID string) (store.Commit, error) {
	var (
		target store.Commit
		err    error
	)
	if commitID == "" {
		target, err = c.store.LatestCommit(ctx)
		if errors.Is(err, store.ErrNotFound) {
			return store.Commit{}, notFound("no commits")
		}
	} else {
		target, err = c.store.GetCommit(ctx, commitID)
	}
	if err != nil {
		return store.Commit{}, storeErr(err, "commit %s", commitID)
	}
	if err := c.store.MoveHead(ctx, target.ID); err != nil {
		return store.Commit{}, storeErr(err, "move head to %s", target.ID)
	}
	target.IsHead = true
	return target, nil
}
