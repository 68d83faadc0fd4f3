package airtable

import (
	"context"
	"strings"
	"sync"
)

// ChoiceCache maps lower-cased single-select labels to their canonical
// casing, keyed by (base, table, field). Entries live for the process
// lifetime and are never invalidated: a schema change in the store after
// the first lookup is not observed until restart. That staleness is a
// deliberate trade against a metadata round-trip per write.
//
// The cache is constructed explicitly and handed to whoever needs it, so
// tests can start from an empty or pre-seeded instance.
type ChoiceCache struct {
	mu      sync.Mutex
	entries map[string]map[string]string
}

func NewChoiceCache() *ChoiceCache {
	return &ChoiceCache{entries: map[string]map[string]string{}}
}

func choiceKey(baseID, table, field string) string {
	return baseID + "/" + table + "/" + strings.ToLower(field)
}

func (c *ChoiceCache) lookup(key string) (map[string]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	return entry, ok
}

func (c *ChoiceCache) store(key string, entry map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry
}

// Seed pre-populates the cache with canonical labels, bypassing the
// metadata endpoint. Intended for tests.
func (c *ChoiceCache) Seed(baseID, table, field string, choices ...string) {
	entry := make(map[string]string, len(choices))
	for _, choice := range choices {
		entry[strings.ToLower(choice)] = choice
	}
	c.store(choiceKey(baseID, table, field), entry)
}

const fieldTypeSingleSelect = "singleSelect"

// ChoiceResolver resolves free-text candidates to the store's canonical
// single-select labels. Resolution is best-effort: an absent field, a
// non-select field, or a candidate with no case-insensitive match all pass
// the candidate through unchanged.
type ChoiceResolver struct {
	client *Client
	table  string
	cache  *ChoiceCache
}

func NewChoiceResolver(client *Client, table string, cache *ChoiceCache) *ChoiceResolver {
	if cache == nil {
		cache = NewChoiceCache()
	}
	return &ChoiceResolver{client: client, table: table, cache: cache}
}

// Resolve returns the canonical label for candidate, or candidate itself
// when no match exists. A metadata fetch failure on a cold cache is the
// only error path.
func (r *ChoiceResolver) Resolve(ctx context.Context, field, candidate string) (string, error) {
	key := choiceKey(r.client.BaseID(), r.table, field)
	entry, ok := r.cache.lookup(key)
	if !ok {
		var err error
		entry, err = r.fetchChoices(ctx, field)
		if err != nil {
			return "", err
		}
		r.cache.store(key, entry)
	}
	if canonical, ok := entry[strings.ToLower(candidate)]; ok && canonical != "" {
		return canonical, nil
	}
	return candidate, nil
}

func (r *ChoiceResolver) fetchChoices(ctx context.Context, field string) (map[string]string, error) {
	tables, err := r.client.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	fieldLower := strings.ToLower(field)
	entry := map[string]string{}
	for _, table := range tables {
		if table.ID != r.table && table.Name != r.table {
			continue
		}
		for _, f := range table.Fields {
			if strings.ToLower(f.Name) != fieldLower || f.Type != fieldTypeSingleSelect {
				continue
			}
			if f.Options == nil {
				break
			}
			for _, choice := range f.Options.Choices {
				entry[strings.ToLower(choice.Name)] = choice.Name
			}
			break
		}
		break
	}
	return entry, nil
}
