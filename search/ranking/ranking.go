// Package ranking orders raw engine hits and cuts preview snippets.
package ranking

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/noelzubin/notes_vault/search"
	"github.com/noelzubin/notes_vault/search/tokenizer"
	"github.com/samber/lo"
)

// scoreTolerance is how far, relative to a cluster's running average, a
// score may be and still join the cluster.
const scoreTolerance = 0.05

// GroupByRoughlyEquivalentScores walks results sorted by descending score and
// groups neighbours whose score is within 5% of the running cluster average,
// the candidate included.
func GroupByRoughlyEquivalentScores(results []search.Result) [][]search.Result {
	var (
		clusters [][]search.Result
		current  []search.Result
		sum      float64
	)
	for _, r := range results {
		if len(current) > 0 {
			average := (sum + r.Score) / float64(len(current)+1)
			if math.Abs(r.Score-average) <= scoreTolerance*average {
				current = append(current, r)
				sum += r.Score
				continue
			}
			clusters = append(clusters, current)
		}
		current = []search.Result{r}
		sum = r.Score
	}
	if len(current) > 0 {
		clusters = append(clusters, current)
	}
	return clusters
}

// SmartSort keeps the relevance order between score clusters and orders each
// cluster by recency.
func SmartSort(results []search.Result) []search.Result {
	sorted := make([]search.Result, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	out := make([]search.Result, 0, len(sorted))
	for _, cluster := range GroupByRoughlyEquivalentScores(sorted) {
		sort.SliceStable(cluster, func(i, j int) bool {
			return search.NormalizeTimestamp(cluster[i].UpdatedAt) > search.NormalizeTimestamp(cluster[j].UpdatedAt)
		})
		out = append(out, cluster...)
	}
	return out
}

// ChronologicalSort orders newest first, breaking ties by score.
func ChronologicalSort(results []search.Result) []search.Result {
	sorted := make([]search.Result, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool {
		ti, tj := search.NormalizeTimestamp(sorted[i].UpdatedAt), search.NormalizeTimestamp(sorted[j].UpdatedAt)
		if ti != tj {
			return ti > tj
		}
		return sorted[i].Score > sorted[j].Score
	})
	return sorted
}

// ExcerptOptions tune Excerpt.
type ExcerptOptions struct {
	MaxLeadingWords             int
	ExcessiveLeadingWordsLength int
	MaxLength                   int
	Normalize                   func(word string) []string
}

// DefaultExcerptOptions returns the options used for previews.
func DefaultExcerptOptions() ExcerptOptions {
	return ExcerptOptions{
		MaxLeadingWords:             2,
		ExcessiveLeadingWordsLength: 25,
		MaxLength:                   200,
		Normalize:                   tokenizer.Normalize,
	}
}

const ellipsis = "... "

var wordPattern = regexp.MustCompile(`\S+`)

// Excerpt starts the snippet at the first word of text whose normalized form
// is one of the matched terms, keeping a little leading context. text is
// returned unchanged when nothing matches.
func Excerpt(text string, matched []string, opts ExcerptOptions) string {
	if opts.Normalize == nil {
		opts.Normalize = tokenizer.Normalize
	}
	if len(matched) == 0 {
		return text
	}
	terms := lo.SliceToMap(matched, func(t string) (string, struct{}) { return t, struct{}{} })

	words := wordPattern.FindAllStringIndex(text, -1)
	hit := -1
	for i, w := range words {
		if lo.SomeBy(opts.Normalize(text[w[0]:w[1]]), func(t string) bool {
			_, ok := terms[t]
			return ok
		}) {
			hit = i
			break
		}
	}
	if hit < 0 {
		return text
	}

	first := hit - opts.MaxLeadingWords
	if first < 0 {
		first = 0
	}
	leading := 0
	for _, w := range words[first:hit] {
		leading += w[1] - w[0]
	}
	if leading > opts.ExcessiveLeadingWordsLength {
		first = hit
	}

	start := words[first][0]
	excerpt := truncate(text[start:], opts.MaxLength)
	if start > words[0][0] {
		excerpt = ellipsis + excerpt
	}
	return excerpt
}

func truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return strings.TrimRight(string(runes[:max]), " \t\n")
}
