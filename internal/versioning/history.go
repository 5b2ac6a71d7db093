package versioning

import (
	"context"
	"time"

	"versionstore/api/internal/store"
)

type CommitSummary struct {
	ID       string    `json:"id"`
	Previous string    `json:"previous,omitempty"`
	Author   string    `json:"author"`
	Date     time.Time `json:"date"`
	IsHead   bool      `json:"isHead"`
	Items    int       `json:"items"`
}

func summarize(commit store.Commit) CommitSummary {
	summary := CommitSummary{
		ID:     commit.ID,
		Author: commit.Author,
		Date:   commit.Date,
		IsHead: commit.IsHead,
		Items:  len(commit.Base),
	}
	if commit.Previous != nil {
		summary.Previous = *commit.Previous
	}
	return summary
}

// History lists the tenant's commits, newest first.
func (c *Client) History(ctx context.Context, limit int) ([]CommitSummary, error) {
	commits, err := c.store.ListCommits(ctx, limit)
	if err != nil {
		return nil, storeErr(err, "list commits")
	}
	out := make([]CommitSummary, 0, len(commits))
	for _, commit := range commits {
		out = append(out, summarize(commit))
	}
	return out, nil
}

// Commit returns one of the tenant's commits. Commits of other tenants are
// not found.
func (c *Client) Commit(ctx context.Context, commitID string) (CommitSummary, error) {
	if commitID == "" {
		return CommitSummary{}, invalid("commit id is required")
	}
	commit, err := c.store.GetCommit(ctx, commitID)
	if err != nil {
		return CommitSummary{}, storeErr(err, "commit %s", commitID)
	}
	return summarize(commit), nil
}

// Revision is one stored snapshot of an item.
type Revision struct {
	Document string       `json:"document"`
	Commit   Provenance   `json:"commit"`
	Fields   Content      `json:"fields"`
	Links    []store.Link `json:"links"`
}

// GetItemHistory lists every snapshot of itemID that belongs to a finalized
// commit, oldest first. Deleted items keep their history.
func (c *Client) GetItemHistory(ctx context.Context, itemID string) ([]Revision, error) {
	if itemID == "" {
		return nil, invalid("item id is required")
	}
	if _, err := c.store.GetItem(ctx, itemID); err != nil {
		return nil, storeErr(err, "item %s", itemID)
	}
	docs, err := c.store.ListItemDocuments(ctx, itemID)
	if err != nil {
		return nil, storeErr(err, "documents of item %s", itemID)
	}
	commitIDs := make([]string, 0, len(docs))
	for _, doc := range docs {
		commitIDs = append(commitIDs, doc.Commit)
	}
	commits, err := c.store.GetCommits(ctx, commitIDs)
	if err != nil {
		return nil, storeErr(err, "commits of item %s", itemID)
	}

	revisions := make([]Revision, 0, len(docs))
	for _, doc := range docs {
		if _, ok := commits[doc.Commit]; !ok {
			continue
		}
		links := doc.Links
		if links == nil {
			links = []store.Link{}
		}
		revisions = append(revisions, Revision{
			Document: doc.ID,
			Commit:   provenance(commits, doc.Commit),
			Fields:   Content(doc.Content),
			Links:    links,
		})
	}
	return revisions, nil
}
