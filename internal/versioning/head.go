package versioning

import (
	"context"
	"errors"

	"versionstore/api/internal/store"
)

// HeadState describes how many commits carry the head flag. Finalizing a
// commit writes the new head before unflagging the old one, so readers can
// briefly observe two heads, or none after a crash between the two writes.
type HeadState string

const (
	HeadNone   HeadState = "no-head"
	HeadSingle HeadState = "single-head"
	HeadDual   HeadState = "transient-dual-head"
)

// HeadInfo is the reconciled head of a tenant. Commit is nil only when the
// tenant has no commits at all.
type HeadInfo struct {
	State  HeadState
	Commit *store.Commit
}

func classifyHeads(heads []store.Commit) HeadState {
	switch len(heads) {
	case 0:
		return HeadNone
	case 1:
		return HeadSingle
	default:
		return HeadDual
	}
}

// resolveHead applies the reconciliation rule: the newest flagged commit
// wins; with nothing flagged the most recently created commit is used.
func (c *Client) resolveHead(ctx context.Context) (HeadInfo, error) {
	heads, err := c.store.HeadCommits(ctx)
	if err != nil {
		return HeadInfo{}, storeErr(err, "read head")
	}
	state := classifyHeads(heads)
	if state != HeadNone {
		newest := heads[0]
		for _, head := range heads[1:] {
			if head.Seq > newest.Seq {
				newest = head
			}
		}
		return HeadInfo{State: state, Commit: &newest}, nil
	}

	latest, err := c.store.LatestCommit(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return HeadInfo{State: HeadNone}, nil
	}
	if err != nil {
		return HeadInfo{}, storeErr(err, "read latest commit")
	}
	return HeadInfo{State: HeadNone, Commit: &latest}, nil
}
