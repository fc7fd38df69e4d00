package search

import "strings"

// Kind names one family of indexed items. Each kind gets its own index,
// worker and storage key.
type Kind string

const (
	KindDocument Kind = "document"
	KindMail     Kind = "mail"
)

// Item is the unit of indexing. Concrete kinds add their own fields.
type Item interface {
	ItemID() string
	ItemUpdatedAt() int64
}

// ItemStamp is the id/updatedAt pair the index tracks for every item.
type ItemStamp struct {
	ID        string `json:"id"`
	UpdatedAt int64  `json:"updatedAt"`
}

func (s ItemStamp) ItemID() string       { return s.ID }
func (s ItemStamp) ItemUpdatedAt() int64 { return s.UpdatedAt }

// Document is a plain text note or document.
type Document struct {
	ID        string
	UpdatedAt int64
	Title     string
	Content   string
}

func (d Document) ItemID() string       { return d.ID }
func (d Document) ItemUpdatedAt() int64 { return d.UpdatedAt }

// Address is a mail address with an optional display name.
type Address struct {
	Address string
	Name    string
}

// Mail is a mail message.
type Mail struct {
	ID        string
	UpdatedAt int64
	Subject   string
	Content   string
	From      Address
	To        []Address
	Cc        []Address
	Bcc       []Address
	Labels    []string
}

func (m Mail) ItemID() string       { return m.ID }
func (m Mail) ItemUpdatedAt() int64 { return m.UpdatedAt }

// FlattenAddresses joins addresses as "address\nname" pairs so plain text
// search matches either the address or the display name.
func FlattenAddresses(addrs []Address) string {
	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		parts = append(parts, a.Address+"\n"+a.Name)
	}
	return strings.Join(parts, "\n")
}

// NormalizeTimestamp turns second resolution timestamps into milliseconds.
func NormalizeTimestamp(ts int64) int64 {
	if ts < 1e12 {
		return ts * 1000
	}
	return ts
}

// Metadata is caller owned state persisted next to the index.
type Metadata map[string]any

// Result is one search hit.
type Result struct {
	ID        string
	Score     float64
	UpdatedAt int64
	Terms     []string            // matched index terms
	Match     map[string][]string // term -> fields it matched in
	Stored    map[string]string
}

// QueryOptions override the per-kind query defaults.
type QueryOptions struct {
	Fuzzy  func(term string) int  // allowed edit distance, 0 = exact
	Prefix func(term string) bool // whether term may match as a prefix
	Boost  map[string]float64     // field boosts; replaces the defaults entirely
}

// DateRangeFilter keeps results updated within the last DaysAgo days.
type DateRangeFilter struct {
	DaysAgo int
}

// SearchOptions are the optional arguments of a search.
type SearchOptions struct {
	Custom            *QueryOptions
	DateRange         *DateRangeFilter
	Sort              bool // chronological instead of relevance clusters
	AutoSuggest       bool
	PreferFullMatches bool
}

type DocumentMatch struct {
	Path    string
	Content string
}

type SearchResult struct {
	Err  error
	Hits []DocumentMatch
}

// The indexer that indexes all the notes and searches them.
type NotesIndexer interface {
	IndexNotes() error                // Reconcile the index with the notes on disk.
	Search(query string) SearchResult // Search the active index for the given query.
	SetKind(kind Kind)                // Switch the index searched by Search.
	Kind() Kind                       // The index searched by Search.
}
