package versioning

import (
	"context"
	"strings"

	"versionstore/api/internal/store"
)

// LinkOwns marks an ownership edge; deleting the source deletes the target.
const LinkOwns = "owns"

type LinkResult struct {
	Source         string `json:"source"`
	Target         string `json:"target"`
	SourceDocument string `json:"sourceDocument"`
	TargetDocument string `json:"targetDocument,omitempty"`
	Commit         string `json:"commit"`
}

func (c *Client) checkLinkEnds(ctx context.Context, source, target, linkType string) error {
	if strings.TrimSpace(linkType) == "" {
		return invalid("link type is required")
	}
	if source == "" || target == "" {
		return invalid("link source and target are required")
	}
	if source == target {
		return invalid("item %s cannot link to itself", source)
	}
	if _, err := c.getLive(ctx, source); err != nil {
		return err
	}
	if _, err := c.getLive(ctx, target); err != nil {
		return err
	}
	return nil
}

// CreateLink adds a source→target link of linkType and, when backType is set,
// the reverse target→source link, in one commit. Existing identical links
// are not duplicated.
func (c *Client) CreateLink(ctx context.Context, source, target, linkType, backType string) (LinkResult, error) {
	if err := c.checkLinkEnds(ctx, source, target, linkType); err != nil {
		return LinkResult{}, err
	}
	d, err := c.beginCommit(ctx)
	if err != nil {
		return LinkResult{}, err
	}
	result := LinkResult{Source: source, Target: target}

	sourceDoc, err := c.incrementDocument(ctx, d, source, func(content Content, links []store.Link) (Content, []store.Link, error) {
		return content, addLink(links, store.Link{Target: target, Type: linkType}), nil
	})
	if err != nil {
		return LinkResult{}, err
	}
	result.SourceDocument = sourceDoc.ID

	if backType != "" {
		targetDoc, err := c.incrementDocument(ctx, d, target, func(content Content, links []store.Link) (Content, []store.Link, error) {
			return content, addLink(links, store.Link{Target: source, Type: backType}), nil
		})
		if err != nil {
			return LinkResult{}, err
		}
		result.TargetDocument = targetDoc.ID
	}

	commit, err := c.finalizeCommit(ctx, d)
	if err != nil {
		return LinkResult{}, err
	}
	result.Commit = commit.ID
	return result, nil
}

// DeleteLink removes the source→target link of linkType and, when backType
// is set, the matching back link. A link that is not present is NotFound.
func (c *Client) DeleteLink(ctx context.Context, source, target, linkType, backType string) (LinkResult, error) {
	if err := c.checkLinkEnds(ctx, source, target, linkType); err != nil {
		return LinkResult{}, err
	}
	d, err := c.beginCommit(ctx)
	if err != nil {
		return LinkResult{}, err
	}
	result := LinkResult{Source: source, Target: target}

	unlink := func(from string, link store.Link) (store.Document, error) {
		return c.incrementDocument(ctx, d, from, func(content Content, links []store.Link) (Content, []store.Link, error) {
			if !hasLink(links, link) {
				return nil, nil, notFound("link %s from %s to %s", link.Type, from, link.Target)
			}
			return content, removeLink(links, link), nil
		})
	}

	sourceDoc, err := unlink(source, store.Link{Target: target, Type: linkType})
	if err != nil {
		return LinkResult{}, err
	}
	result.SourceDocument = sourceDoc.ID

	if backType != "" {
		targetDoc, err := unlink(target, store.Link{Target: source, Type: backType})
		if err != nil {
			return LinkResult{}, err
		}
		result.TargetDocument = targetDoc.ID
	}

	commit, err := c.finalizeCommit(ctx, d)
	if err != nil {
		return LinkResult{}, err
	}
	result.Commit = commit.ID
	return result, nil
}
