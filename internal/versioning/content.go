package versioning

import (
	"encoding/json"
	"strings"

	"versionstore/api/internal/store"
)

// Content is the user-defined field map of a document.
type Content map[string]any

const fieldLinks = "links"

// projected keys are produced by the projection and never stored as content.
var projectedKeys = map[string]struct{}{
	"id":      {},
	"links":   {},
	"changed": {},
	"created": {},
}

func storable(key string) bool {
	if key == "" || strings.HasPrefix(key, "_") {
		return false
	}
	_, reserved := projectedKeys[key]
	return !reserved
}

// cleanContent copies the storable keys of content.
func cleanContent(content Content) Content {
	out := make(Content, len(content))
	for key, value := range content {
		if storable(key) {
			out[key] = value
		}
	}
	return out
}

// splitLinks extracts the explicit links carry-over from an update payload.
// present is false when the payload has no links key.
func splitLinks(content Content) (links []store.Link, present bool, err error) {
	raw, ok := content[fieldLinks]
	if !ok {
		return nil, false, nil
	}
	if raw == nil {
		return []store.Link{}, true, nil
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, true, invalid("links: %v", err)
	}
	if err := json.Unmarshal(encoded, &links); err != nil {
		return nil, true, invalid("links must be a list of {target, type}")
	}
	for _, link := range links {
		if err := validateLink(link); err != nil {
			return nil, true, err
		}
	}
	return dedupeLinks(links), true, nil
}

func validateLink(link store.Link) error {
	if strings.TrimSpace(link.Target) == "" {
		return invalid("link target is required")
	}
	if strings.TrimSpace(link.Type) == "" {
		return invalid("link type is required")
	}
	return nil
}

func hasLink(links []store.Link, link store.Link) bool {
	for _, existing := range links {
		if existing == link {
			return true
		}
	}
	return false
}

// addLink appends link unless an identical link is already present.
func addLink(links []store.Link, link store.Link) []store.Link {
	out := append([]store.Link{}, links...)
	if hasLink(out, link) {
		return out
	}
	return append(out, link)
}

func removeLink(links []store.Link, link store.Link) []store.Link {
	out := make([]store.Link, 0, len(links))
	for _, existing := range links {
		if existing != link {
			out = append(out, existing)
		}
	}
	return out
}

func dedupeLinks(links []store.Link) []store.Link {
	out := make([]store.Link, 0, len(links))
	for _, link := range links {
		out = addLink(out, link)
	}
	return out
}
