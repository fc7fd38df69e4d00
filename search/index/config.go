package index

import (
	"strings"
	"time"

	"github.com/noelzubin/notes_vault/search"
	"github.com/noelzubin/notes_vault/search/tokenizer"
)

// Config describes one kind of index: what is searchable, what is kept
// verbatim, and how text becomes terms.
type Config struct {
	Kind        search.Kind
	Fields      []string // tokenized and searchable
	StoreFields []string // returned with results as is

	Tokenize      tokenizer.Func // index side
	TokenizeQuery tokenizer.Func // query side
	ProcessTerm   tokenizer.ProcessFunc
	ExtractField  func(item search.Item, field string) string

	DefaultMetadata func() search.Metadata
	Boosts          map[string]float64 // default per-field boosts
}

const (
	fuzzyMinLength  = 4 // terms longer than this tolerate one edit
	prefixMinLength = 3 // terms longer than this also match as prefixes
)

func defaultFuzzy(term string) int {
	if len([]rune(term)) > fuzzyMinLength {
		return 1
	}
	return 0
}

func defaultPrefix(term string) bool {
	return len([]rune(term)) > prefixMinLength
}

// DocumentConfig indexes search.Document items.
func DocumentConfig() Config {
	return Config{
		Kind:          search.KindDocument,
		Fields:        []string{"title", "content"},
		StoreFields:   []string{"title"},
		Tokenize:      tokenizer.Tokenize,
		TokenizeQuery: tokenizer.TokenizeQuery,
		ProcessTerm:   tokenizer.ProcessTerm,
		ExtractField: func(item search.Item, field string) string {
			doc, ok := item.(search.Document)
			if !ok {
				return ""
			}
			switch field {
			case "title":
				return doc.Title
			case "content":
				return doc.Content
			}
			return ""
		},
		DefaultMetadata: func() search.Metadata { return search.Metadata{} },
		Boosts:          map[string]float64{"title": 3, "content": 1},
	}
}

// MailConfig indexes search.Mail items. Addresses are email aware on both the
// index and the query side.
func MailConfig() Config {
	return Config{
		Kind:          search.KindMail,
		Fields:        []string{"subject", "content", "from", "to", "cc", "bcc", "labels"},
		StoreFields:   []string{"subject", "from"},
		Tokenize:      tokenizer.TokenizeEmailAware,
		TokenizeQuery: tokenizer.TokenizeQueryEmailAware,
		ProcessTerm:   tokenizer.ProcessTerm,
		ExtractField:  extractMailField,
		DefaultMetadata: func() search.Metadata {
			return search.Metadata{"oldestUpdatedAt": nil, "newestUpdatedAt": nil}
		},
		Boosts: map[string]float64{
			"subject": 3,
			"from":    2,
			"to":      1.5,
			"content": 1,
			"labels":  1,
			"cc":      0.75,
			"bcc":     0.5,
		},
	}
}

func extractMailField(item search.Item, field string) string {
	m, ok := item.(search.Mail)
	if !ok {
		return ""
	}
	switch field {
	case "subject":
		return m.Subject
	case "content":
		return m.Content
	case "from":
		return search.FlattenAddresses([]search.Address{m.From})
	case "to":
		return search.FlattenAddresses(m.To)
	case "cc":
		return search.FlattenAddresses(m.Cc)
	case "bcc":
		return search.FlattenAddresses(m.Bcc)
	case "labels":
		return strings.Join(m.Labels, "\n")
	}
	return ""
}

// ConfigFor returns the built-in config of kind.
func ConfigFor(kind search.Kind) (Config, bool) {
	switch kind {
	case search.KindDocument:
		return DocumentConfig(), true
	case search.KindMail:
		return MailConfig(), true
	}
	return Config{}, false
}

// Options tune an index instance.
type Options struct {
	SaveWait    time.Duration // trailing debounce window
	SaveMaxWait time.Duration // longest a pending save is delayed
	RecentLimit int           // results for an empty query
	Now         func() time.Time
}

// DefaultOptions returns the production timings.
func DefaultOptions() Options {
	return Options{
		SaveWait:    5 * time.Second,
		SaveMaxWait: 30 * time.Second,
		RecentLimit: 10,
		Now:         time.Now,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.SaveWait <= 0 {
		o.SaveWait = d.SaveWait
	}
	if o.SaveMaxWait <= 0 {
		o.SaveMaxWait = d.SaveMaxWait
	}
	if o.RecentLimit <= 0 {
		o.RecentLimit = d.RecentLimit
	}
	if o.Now == nil {
		o.Now = d.Now
	}
	return o
}

func (c Config) withDefaults() Config {
	if c.Tokenize == nil {
		c.Tokenize = tokenizer.Tokenize
	}
	if c.TokenizeQuery == nil {
		c.TokenizeQuery = tokenizer.TokenizeQuery
	}
	if c.ProcessTerm == nil {
		c.ProcessTerm = tokenizer.ProcessTerm
	}
	if c.DefaultMetadata == nil {
		c.DefaultMetadata = func() search.Metadata { return search.Metadata{} }
	}
	return c
}
