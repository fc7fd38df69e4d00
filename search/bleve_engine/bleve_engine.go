package bleve_engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/whitespace"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/samber/lo"

	_ "github.com/blevesearch/bleve/v2/config"
)

var (
	ErrDuplicateID   = errors.New("bleve_engine: duplicate id")
	ErrUnknownID     = errors.New("bleve_engine: unknown id")
	ErrFieldMismatch = errors.New("bleve_engine: serialized fields do not match")
)

// Terms are analysed by the caller before they reach bleve, so fields are
// only split on the spaces the engine puts between terms.
const presplitAnalyzer = "presplit"

// Match weights relative to an exact term match.
const (
	prefixWeight = 0.375
	fuzzyWeight  = 0.45
)

// Vacuum thresholds: the postings are rebuilt once at least minDirtCount
// documents were discarded and they make up minDirtFactor of the index.
const (
	minDirtCount  = 20
	minDirtFactor = 0.1
)

// document is the engine's record of one indexed item.
type document struct {
	Terms  map[string]string `json:"terms"` // field -> space separated terms
	Stored map[string]string `json:"stored,omitempty"`
}

// serialized is the JSON form of the engine.
type serialized struct {
	Fields      []string             `json:"fields"`
	StoreFields []string             `json:"storeFields"`
	Documents   map[string]*document `json:"documents"`
}

// Engine is an in-memory full-text index over a fixed set of fields backed
// by a memory only bleve index. It is not safe for concurrent use.
type Engine struct {
	fields      []string
	storeFields []string
	index       bleve.Index
	docs        map[string]*document
	dirt        int // discards since the postings were last rebuilt
}

// New returns an empty engine indexing fields and keeping storeFields.
func New(fields, storeFields []string) (*Engine, error) {
	idx, err := newMemIndex(fields)
	if err != nil {
		return nil, err
	}
	return &Engine{
		fields:      fields,
		storeFields: storeFields,
		index:       idx,
		docs:        make(map[string]*document),
	}, nil
}

// Load rebuilds an engine from the output of Serialize.
func Load(fields, storeFields []string, data []byte) (*Engine, error) {
	var s serialized
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("bleve_engine: decode: %w", err)
	}
	if !lo.Every(s.Fields, fields) || len(s.Fields) != len(fields) {
		return nil, fmt.Errorf("%w: have %v, want %v", ErrFieldMismatch, s.Fields, fields)
	}

	e, err := New(fields, storeFields)
	if err != nil {
		return nil, err
	}
	if s.Documents != nil {
		e.docs = s.Documents
	}
	if err := e.reindex(e.index); err != nil {
		e.index.Close()
		return nil, err
	}
	return e, nil
}

// newMemIndex creates the bleve index. Every field uses the presplit analyzer
// and keeps term vectors so hits report which terms matched.
func newMemIndex(fields []string) (bleve.Index, error) {
	m := bleve.NewIndexMapping()
	err := m.AddCustomAnalyzer(presplitAnalyzer, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": whitespace.Name,
	})
	if err != nil {
		return nil, fmt.Errorf("bleve_engine: analyzer: %w", err)
	}
	m.DefaultAnalyzer = presplitAnalyzer
	m.StoreDynamic = false
	m.IndexDynamic = false

	docMapping := bleve.NewDocumentMapping()
	for _, field := range fields {
		fm := bleve.NewTextFieldMapping()
		fm.Analyzer = presplitAnalyzer
		fm.Store = false
		fm.IncludeInAll = false
		fm.IncludeTermVectors = true
		docMapping.AddFieldMappingsAt(field, fm)
	}
	m.DefaultMapping = docMapping

	return bleve.NewMemOnly(m)
}

func (d *document) data() map[string]interface{} {
	data := make(map[string]interface{}, len(d.Terms))
	for field, terms := range d.Terms {
		data[field] = terms
	}
	return data
}

func (e *Engine) reindex(idx bleve.Index) error {
	batch := idx.NewBatch()
	for id, doc := range e.docs {
		if err := batch.Index(id, doc.data()); err != nil {
			return fmt.Errorf("bleve_engine: batch %s: %w", id, err)
		}
	}
	if err := idx.Batch(batch); err != nil {
		return fmt.Errorf("bleve_engine: batch: %w", err)
	}
	return nil
}

// Add indexes terms (field -> analysed terms) under id. It is not an
// upsert: adding a live id returns ErrDuplicateID.
func (e *Engine) Add(id string, terms map[string][]string, stored map[string]string) error {
	if _, ok := e.docs[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}

	doc := &document{Terms: make(map[string]string, len(e.fields))}
	for _, field := range e.fields {
		if t := terms[field]; len(t) > 0 {
			doc.Terms[field] = strings.Join(t, " ")
		}
	}
	for _, field := range e.storeFields {
		if v, ok := stored[field]; ok {
			if doc.Stored == nil {
				doc.Stored = make(map[string]string, len(e.storeFields))
			}
			doc.Stored[field] = v
		}
	}

	if err := e.index.Index(id, doc.data()); err != nil {
		return fmt.Errorf("bleve_engine: index %s: %w", id, err)
	}
	e.docs[id] = doc
	return nil
}

// Discard removes id from search results immediately. Its postings are
// reclaimed by a later Vacuum.
func (e *Engine) Discard(id string) error {
	if _, ok := e.docs[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownID, id)
	}
	if err := e.index.Delete(id); err != nil {
		return fmt.Errorf("bleve_engine: delete %s: %w", id, err)
	}
	delete(e.docs, id)
	e.dirt++
	return nil
}

// Has reports whether id is indexed.
func (e *Engine) Has(id string) bool {
	_, ok := e.docs[id]
	return ok
}

// IDs returns every indexed id.
func (e *Engine) IDs() []string {
	return lo.Keys(e.docs)
}

// Len is the number of indexed documents.
func (e *Engine) Len() int {
	return len(e.docs)
}

// Stored returns a copy of the stored fields of id.
func (e *Engine) Stored(id string) map[string]string {
	doc, ok := e.docs[id]
	if !ok || doc.Stored == nil {
		return nil
	}
	return lo.Assign(doc.Stored)
}

// Vacuum rebuilds the postings from the live documents when enough were
// discarded, or always when force is set. It reports whether it rebuilt.
func (e *Engine) Vacuum(force bool) (bool, error) {
	if e.dirt == 0 {
		return false, nil
	}
	factor := float64(e.dirt) / float64(1+len(e.docs)+e.dirt)
	if !force && (e.dirt < minDirtCount || factor < minDirtFactor) {
		return false, nil
	}

	idx, err := newMemIndex(e.fields)
	if err != nil {
		return false, err
	}
	if err := e.reindex(idx); err != nil {
		idx.Close()
		return false, err
	}
	old := e.index
	e.index = idx
	e.dirt = 0
	old.Close()
	return true, nil
}

// Serialize encodes the live documents.
func (e *Engine) Serialize() ([]byte, error) {
	return json.Marshal(serialized{
		Fields:      e.fields,
		StoreFields: e.storeFields,
		Documents:   e.docs,
	})
}

// Close releases the bleve index.
func (e *Engine) Close() error {
	return e.index.Close()
}

// Query is a search over analysed terms.
type Query struct {
	Terms  []string
	And    bool                   // every term must match
	Fuzzy  func(term string) int  // edit distance allowed for term
	Prefix func(term string) bool // whether term may match as a prefix
	Boost  map[string]float64     // per field; missing fields weigh 1
}

// Hit is one matching document.
type Hit struct {
	ID     string
	Score  float64
	Terms  []string            // matched index terms
	Match  map[string][]string // term -> fields
	Stored map[string]string
}

func (q Query) boost(field string) float64 {
	if q.Boost == nil {
		return 1
	}
	if b, ok := q.Boost[field]; ok {
		return b
	}
	return 1
}

// termQuery matches term in any field, exactly, as a prefix or fuzzily.
func (e *Engine) termQuery(term string, q Query) query.Query {
	var clauses []query.Query
	for _, field := range e.fields {
		boost := q.boost(field)
		if boost <= 0 {
			continue
		}

		exact := bleve.NewTermQuery(term)
		exact.SetField(field)
		exact.SetBoost(boost)
		clauses = append(clauses, exact)

		if q.Prefix != nil && q.Prefix(term) {
			prefix := bleve.NewPrefixQuery(term)
			prefix.SetField(field)
			prefix.SetBoost(boost * prefixWeight)
			clauses = append(clauses, prefix)
		}
		if q.Fuzzy != nil {
			if distance := q.Fuzzy(term); distance > 0 {
				fuzzy := bleve.NewFuzzyQuery(term)
				fuzzy.SetField(field)
				fuzzy.SetFuzziness(distance)
				fuzzy.SetBoost(boost * fuzzyWeight)
				clauses = append(clauses, fuzzy)
			}
		}
	}
	return bleve.NewDisjunctionQuery(clauses...)
}

// Search runs q and returns hits by descending score.
func (e *Engine) Search(ctx context.Context, q Query) ([]Hit, error) {
	terms := lo.Uniq(lo.Filter(q.Terms, func(t string, _ int) bool { return t != "" }))
	if len(terms) == 0 || len(e.docs) == 0 {
		return nil, nil
	}

	perTerm := lo.Map(terms, func(t string, _ int) query.Query { return e.termQuery(t, q) })
	var combined query.Query
	if q.And {
		combined = bleve.NewConjunctionQuery(perTerm...)
	} else {
		combined = bleve.NewDisjunctionQuery(perTerm...)
	}

	req := bleve.NewSearchRequestOptions(combined, len(e.docs), 0, false)
	req.IncludeLocations = true

	res, err := e.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("bleve_engine: search: %w", err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hit := Hit{ID: h.ID, Score: h.Score, Match: make(map[string][]string), Stored: e.Stored(h.ID)}
		for field, termLocations := range h.Locations {
			for term := range termLocations {
				hit.Match[term] = append(hit.Match[term], field)
			}
		}
		for term := range hit.Match {
			sort.Strings(hit.Match[term])
		}
		hit.Terms = lo.Keys(hit.Match)
		sort.Strings(hit.Terms)
		hits = append(hits, hit)
	}
	return hits, nil
}
