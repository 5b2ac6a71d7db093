package versioning

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"versionstore/api/internal/store"
)

// Provenance names the commit that produced a snapshot.
type Provenance struct {
	Date   time.Time `json:"date"`
	Author string    `json:"author"`
	Commit string    `json:"commit"`
}

// View is the projection of one item at a commit. It serializes flat:
// user fields next to id, links, changed and created.
type View struct {
	ID      string
	Fields  Content
	Links   []store.Link
	Changed Provenance
	Created Provenance
}

func (v View) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(v.Fields)+4)
	for key, value := range v.Fields {
		out[key] = value
	}
	links := v.Links
	if links == nil {
		links = []store.Link{}
	}
	out["id"] = v.ID
	out["links"] = links
	out["changed"] = v.Changed
	out["created"] = v.Created
	return json.Marshal(out)
}

func (v *View) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = View{Fields: Content{}}
	for key, value := range raw {
		var err error
		switch key {
		case "id":
			err = json.Unmarshal(value, &v.ID)
		case "links":
			err = json.Unmarshal(value, &v.Links)
		case "changed":
			err = json.Unmarshal(value, &v.Changed)
		case "created":
			err = json.Unmarshal(value, &v.Created)
		default:
			var field any
			err = json.Unmarshal(value, &field)
			v.Fields[key] = field
		}
		if err != nil {
			return fmt.Errorf("decode view field %s: %w", key, err)
		}
	}
	return nil
}

// Field returns a user field, or the projected id.
func (v View) Field(name string) (any, bool) {
	if name == "id" {
		return v.ID, true
	}
	value, ok := v.Fields[name]
	return value, ok
}

// GetAllLatest projects every item in the head's base. A tenant without
// commits gets an empty list.
func (c *Client) GetAllLatest(ctx context.Context, sort Sort) ([]View, string, error) {
	head, err := c.resolveHead(ctx)
	if err != nil {
		return nil, "", err
	}
	if head.Commit == nil {
		return []View{}, "", nil
	}
	views, err := c.project(ctx, head.Commit.Base, sort)
	if err != nil {
		return nil, "", err
	}
	return views, head.Commit.ID, nil
}

// GetAllAtCommit projects the base of a historical commit.
func (c *Client) GetAllAtCommit(ctx context.Context, commitID string, sort Sort) ([]View, error) {
	if commitID == "" {
		return nil, invalid("commit id is required")
	}
	commit, err := c.store.GetCommit(ctx, commitID)
	if err != nil {
		return nil, storeErr(err, "commit %s", commitID)
	}
	return c.project(ctx, commit.Base, sort)
}

// GetLatestByItem projects one item at the head.
func (c *Client) GetLatestByItem(ctx context.Context, itemID string) (View, error) {
	if itemID == "" {
		return View{}, invalid("item id is required")
	}
	head, err := c.resolveHead(ctx)
	if err != nil {
		return View{}, err
	}
	if head.Commit == nil {
		return View{}, notFound("item %s", itemID)
	}
	documentID, ok := NewBase(head.Commit.Base).Get(itemID)
	if !ok {
		return View{}, notFound("item %s", itemID)
	}
	views, err := c.project(ctx, []store.BaseEntry{{Item: itemID, Document: documentID}}, Sort{})
	if err != nil {
		return View{}, err
	}
	return views[0], nil
}

// project joins base entries with their documents, items and the commits
// that produced them. An entry whose document or item does not resolve for
// the tenant fails the whole projection with ErrNotFound.
func (c *Client) project(ctx context.Context, entries []store.BaseEntry, sort Sort) ([]View, error) {
	itemIDs := make([]string, 0, len(entries))
	docIDs := make([]string, 0, len(entries))
	for _, entry := range entries {
		itemIDs = append(itemIDs, entry.Item)
		docIDs = append(docIDs, entry.Document)
	}
	docs, err := c.store.GetDocuments(ctx, docIDs)
	if err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}
	items, err := c.store.GetItems(ctx, itemIDs)
	if err != nil {
		return nil, fmt.Errorf("load items: %w", err)
	}

	commitSet := make(map[string]struct{})
	for _, doc := range docs {
		commitSet[doc.Commit] = struct{}{}
	}
	for _, item := range items {
		commitSet[item.CreationCommit] = struct{}{}
	}
	commitIDs := make([]string, 0, len(commitSet))
	for id := range commitSet {
		commitIDs = append(commitIDs, id)
	}
	commits, err := c.store.GetCommits(ctx, commitIDs)
	if err != nil {
		return nil, fmt.Errorf("load commits: %w", err)
	}

	views := make([]View, 0, len(entries))
	for _, entry := range entries {
		doc, ok := docs[entry.Document]
		if !ok || doc.Item != entry.Item {
			return nil, notFound("document %s of item %s", entry.Document, entry.Item)
		}
		item, ok := items[entry.Item]
		if !ok {
			return nil, notFound("item %s", entry.Item)
		}
		fields := Content(doc.Content)
		if fields == nil {
			fields = Content{}
		}
		views = append(views, View{
			ID:      item.ID,
			Fields:  fields,
			Links:   append([]store.Link{}, doc.Links...),
			Changed: provenance(commits, doc.Commit),
			Created: provenance(commits, item.CreationCommit),
		})
	}
	sortViews(views, sort)
	return views, nil
}

func provenance(commits map[string]store.Commit, commitID string) Provenance {
	commit, ok := commits[commitID]
	if !ok {
		return Provenance{Commit: commitID}
	}
	return Provenance{Date: commit.Date, Author: commit.Author, Commit: commit.ID}
}
