package keyword

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
)

// BleveIndex implements KeywordIndex using Bleve.
type BleveIndex struct {
	index bleve.Index
}

func itemMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer (lowercase + tokenize, no stemming) keeps ID numbers and names intact.
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("content", textFieldMapping)
	docMapping.AddFieldMappingsAt("title", textFieldMapping)
	keywordFieldMapping := bleve.NewKeywordFieldMapping()
	docMapping.AddFieldMappingsAt("id", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("collection", keywordFieldMapping)
	im.AddDocumentMapping("item", docMapping)
	im.DefaultType = "item"
	im.DefaultMapping = docMapping
	return im
}

// NewBleveIndex creates or opens a Bleve index at path. An empty path creates an
// in-memory index. If you change the index mapping in code, remove the index directory
// and rebuild it from the store.
func NewBleveIndex(path string) (*BleveIndex, error) {
	if path == "" {
		index, err := bleve.NewMemOnly(itemMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory Bleve index: %w", err)
		}
		return &BleveIndex{index: index}, nil
	}

	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}

	index, err := bleve.New(path, itemMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// Index indexes (or re-indexes) a document under doc.ID.
func (b *BleveIndex) Index(ctx context.Context, doc *Document) error {
	return b.index.Index(doc.ID, doc)
}

// Search runs a match query and returns up to limit results.
// When opts is nil or no boost is above 1, a single match over title+content is used.
// Otherwise separate title and content queries are merged with additive scoring, a
// term coverage penalty and a phrase proximity boost.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error) {
	if limit <= 0 {
		limit = 10
	}
	titleBoost := 1.0
	phraseBoost := 1.0
	fuzzyEnabled := false
	fuzziness := 2
	var collection string
	if opts != nil {
		if opts.TitleBoost > 0 {
			titleBoost = opts.TitleBoost
		}
		if opts.PhraseBoost > 0 {
			phraseBoost = opts.PhraseBoost
		}
		fuzzyEnabled = opts.FuzzyEnabled
		if opts.Fuzziness > 0 {
			fuzziness = opts.Fuzziness
		}
		collection = string(opts.Collection)
	}
	s := &searcher{index: b.index, collection: collection, fuzzy: fuzzyEnabled, fuzziness: fuzziness}

	if titleBoost <= 1.0 && phraseBoost <= 1.0 {
		return s.single(query, limit)
	}
	return s.withBoosts(query, limit, titleBoost, phraseBoost)
}

// searcher carries the per-call settings shared by the query builders.
type searcher struct {
	index      bleve.Index
	collection string
	fuzzy      bool
	fuzziness  int
}

// scoped restricts q to the searcher's collection, if any.
func (s *searcher) scoped(q blevequery.Query) blevequery.Query {
	if s.collection == "" {
		return q
	}
	tq := bleve.NewTermQuery(s.collection)
	tq.SetField("collection")
	return bleve.NewConjunctionQuery(q, tq)
}

func (s *searcher) run(q blevequery.Query, size int) (*bleve.SearchResult, error) {
	req := bleve.NewSearchRequest(s.scoped(q))
	req.Size = size
	return s.index.Search(req)
}

func (s *searcher) single(query string, limit int) ([]*KeywordResult, error) {
	var q blevequery.Query
	if s.fuzzy {
		q = s.fuzzyQuery(query, "")
	} else {
		q = bleve.NewMatchQuery(query)
	}
	results, err := s.run(q, limit)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make([]*KeywordResult, len(results.Hits))
	for i, hit := range results.Hits {
		out[i] = result(hit.ID, hit.Score)
	}
	return out, nil
}

// withBoosts scores each item as (title * titleBoost + content) * coverage^2 * phrase.
func (s *searcher) withBoosts(query string, limit int, titleBoost, phraseBoost float64) ([]*KeywordResult, error) {
	reqSize := limit * 2
	if reqSize < 50 {
		reqSize = 50
	}
	terms := tokenizeQuery(query)
	numTerms := len(terms)

	titleResults, err := s.run(s.fieldQuery(query, "title"), reqSize)
	if err != nil {
		return nil, fmt.Errorf("Bleve title search failed: %w", err)
	}
	contentResults, err := s.run(s.fieldQuery(query, "content"), reqSize)
	if err != nil {
		return nil, fmt.Errorf("Bleve content search failed: %w", err)
	}

	scores := make(map[string]float64)
	for _, hit := range titleResults.Hits {
		scores[hit.ID] += hit.Score * titleBoost
	}
	for _, hit := range contentResults.Hits {
		scores[hit.ID] += hit.Score
	}

	coverage := make(map[string]int)
	if numTerms > 1 {
		coverage = s.termCoverage(terms, reqSize)
	}
	phraseMatches := make(map[string]bool)
	if phraseBoost > 1.0 && numTerms > 1 {
		phraseMatches = s.phraseMatches(query, reqSize)
	}

	type scored struct {
		id    string
		score float64
	}
	merged := make([]scored, 0, len(scores))
	for id, base := range scores {
		score := base
		if numTerms > 1 {
			matched := coverage[id]
			if matched == 0 {
				matched = 1
			}
			c := float64(matched) / float64(numTerms)
			score *= c * c
		}
		if phraseMatches[id] {
			score *= phraseBoost
		}
		merged = append(merged, scored{id: id, score: score})
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].score != merged[j].score {
			return merged[i].score > merged[j].score
		}
		return merged[i].id < merged[j].id
	})
	if len(merged) > limit {
		merged = merged[:limit]
	}

	out := make([]*KeywordResult, len(merged))
	for i, m := range merged {
		out[i] = result(m.id, m.score)
	}
	return out, nil
}

func (s *searcher) fieldQuery(query, field string) blevequery.Query {
	if s.fuzzy {
		return s.fuzzyQuery(query, field)
	}
	mq := bleve.NewMatchQuery(query)
	mq.SetField(field)
	return mq
}

// fuzzyQuery builds a disjunction of FuzzyQueries, one per term. An empty field searches all fields.
func (s *searcher) fuzzyQuery(queryStr, field string) blevequery.Query {
	terms := tokenizeQuery(queryStr)
	if len(terms) == 0 {
		mq := bleve.NewMatchQuery(queryStr)
		if field != "" {
			mq.SetField(field)
		}
		return mq
	}
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(s.fuzziness)
		if field != "" {
			fq.SetField(field)
		}
		queries = append(queries, fq)
	}
	if len(queries) == 1 {
		return queries[0]
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// termCoverage counts how many unique query terms each document matches.
func (s *searcher) termCoverage(terms []string, reqSize int) map[string]int {
	coverage := make(map[string]int)
	for _, term := range terms {
		var q blevequery.Query
		if s.fuzzy {
			fq := bleve.NewFuzzyQuery(term)
			fq.SetFuzziness(s.fuzziness)
			q = fq
		} else {
			q = bleve.NewMatchQuery(term)
		}
		results, err := s.run(q, reqSize)
		if err != nil {
			continue
		}
		for _, hit := range results.Hits {
			coverage[hit.ID]++
		}
	}
	return coverage
}

// phraseMatches finds documents where the query appears as a phrase in title or content.
func (s *searcher) phraseMatches(query string, reqSize int) map[string]bool {
	matches := make(map[string]bool)
	for _, field := range []string{"content", "title"} {
		pq := bleve.NewMatchPhraseQuery(query)
		pq.SetField(field)
		results, err := s.run(pq, reqSize)
		if err != nil {
			return matches
		}
		for _, hit := range results.Hits {
			matches[hit.ID] = true
		}
	}
	return matches
}

// tokenizeQuery splits query into lowercase terms.
func tokenizeQuery(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

func result(docID string, score float64) *KeywordResult {
	c, id := SplitDocID(docID)
	return &KeywordResult{Collection: c, ItemID: id, Score: score}
}

// Delete removes a document from the index.
func (b *BleveIndex) Delete(ctx context.Context, id string) error {
	return b.index.Delete(id)
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}

// DocCount returns the total number of documents in the index.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}
