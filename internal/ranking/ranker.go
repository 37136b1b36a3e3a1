// Package ranking orders counterpart items by CLIP similarity to a query item.
package ranking

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/hyperjump/reunite/internal/embedding"
	"github.com/hyperjump/reunite/internal/fetch"
	"github.com/hyperjump/reunite/internal/fingerprint"
	"github.com/hyperjump/reunite/internal/models"
	"github.com/hyperjump/reunite/internal/vector"
	"github.com/hyperjump/reunite/pkg/utils"
)

// DefaultTopK is how many candidates a ranking keeps.
const DefaultTopK = 3

var (
	// ErrNoCandidates means the opposite collection has nothing rankable.
	ErrNoCandidates = errors.New("no candidates to rank")
	// ErrEmptyQuery means the query item lacks its description or photo.
	ErrEmptyQuery = errors.New("query item has no content to rank")
)

// ImageSource downloads candidate photos.
type ImageSource interface {
	Fetch(ctx context.Context, rawURL string) (*fetch.Image, error)
}

// Ranker embeds a query and its candidates and returns the best matches.
type Ranker struct {
	embedder embedding.Embedder
	images   ImageSource
	cache    *embedding.Cache
	topK     int
	logger   *zap.Logger
}

// Option configures a Ranker.
type Option func(*Ranker)

// WithCache reuses candidate embeddings across requests.
func WithCache(c *embedding.Cache) Option {
	return func(r *Ranker) { r.cache = c }
}

// WithTopK overrides DefaultTopK.
func WithTopK(k int) Option {
	return func(r *Ranker) { r.topK = k }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Ranker) { r.logger = l }
}

// NewRanker returns a Ranker using e for both modalities and images for candidate photos.
func NewRanker(e embedding.Embedder, images ImageSource, opts ...Option) *Ranker {
	r := &Ranker{embedder: e, images: images, topK: DefaultTopK, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type entry struct {
	id     string
	label  string
	vector []float32
}

// RankAgainstImages ranks found items' photos against a lost item's description.
func (r *Ranker) RankAgainstImages(ctx context.Context, queryText string, found []*models.FoundItem) ([]models.Candidate, error) {
	text := utils.NormalizeText(queryText)
	if text == "" {
		return nil, ErrEmptyQuery
	}
	query, err := r.embedder.EmbedText(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query text: %w", err)
	}

	entries := make([]entry, 0, len(found))
	for _, f := range found {
		if f.ImageURL == "" {
			r.logger.Warn("skipping found item without image", zap.String("candidate_id", f.ID))
			continue
		}
		vec, err := r.imageVector(ctx, f)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry{id: f.ID, label: f.Name, vector: vec})
	}
	return r.rank(ctx, query, entries)
}

// RankAgainstTexts ranks lost items' descriptions against a found item's photo.
func (r *Ranker) RankAgainstTexts(ctx context.Context, queryImage []byte, lost []*models.LostItem) ([]models.Candidate, error) {
	if len(queryImage) == 0 {
		return nil, ErrEmptyQuery
	}
	query, err := r.embedder.EmbedImage(ctx, queryImage)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query image: %w", err)
	}

	entries := make([]entry, 0, len(lost))
	for _, l := range lost {
		text := utils.NormalizeText(l.Description)
		if text == "" {
			r.logger.Warn("skipping lost item without description", zap.String("candidate_id", l.ID))
			continue
		}
		vec, err := r.textVector(ctx, l.ID, text)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry{id: l.ID, label: l.Description, vector: vec})
	}
	return r.rank(ctx, query, entries)
}

func (r *Ranker) imageVector(ctx context.Context, f *models.FoundItem) ([]float32, error) {
	key := fingerprint.Content(string(models.CollectionFound), f.ID, f.ImageURL)
	if vec, ok := r.cache.Get(key); ok {
		return vec, nil
	}
	img, err := r.images.Fetch(ctx, f.ImageURL)
	if err != nil {
		return nil, err
	}
	vec, err := r.embedder.EmbedImage(ctx, img.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to embed image of %s: %w", f.ID, err)
	}
	r.cache.Set(key, vec)
	return vec, nil
}

func (r *Ranker) textVector(ctx context.Context, id, text string) ([]float32, error) {
	key := fingerprint.Content(string(models.CollectionLost), id, text)
	if vec, ok := r.cache.Get(key); ok {
		return vec, nil
	}
	vec, err := r.embedder.EmbedText(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed description of %s: %w", id, err)
	}
	r.cache.Set(key, vec)
	return vec, nil
}

// rank L2-normalizes copies of all vectors and keeps the topK by cosine similarity.
// Equal scores keep the candidates' enumeration order.
func (r *Ranker) rank(ctx context.Context, query []float32, entries []entry) ([]models.Candidate, error) {
	if len(entries) == 0 {
		return nil, ErrNoCandidates
	}
	idx, err := vector.NewMemoryIndex(len(query))
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(entries))
	vecs := make([][]float32, len(entries))
	for i, e := range entries {
		ids[i] = strconv.Itoa(i)
		vecs[i] = normalized(e.vector)
	}
	if err := idx.Add(ctx, ids, vecs); err != nil {
		return nil, err
	}
	hits, err := idx.Search(ctx, normalized(query), r.topK)
	if err != nil {
		return nil, err
	}

	out := make([]models.Candidate, len(hits))
	for i, h := range hits {
		pos, _ := strconv.Atoi(h.ID)
		e := entries[pos]
		out[i] = models.Candidate{CandidateID: e.id, Label: e.label, ClipScore: h.Score}
	}
	r.logger.Debug("ranked candidates",
		zap.Int("pool", len(entries)),
		zap.Int("kept", len(out)),
		zap.Float64("margin", Margin(out)))
	return out, nil
}

func normalized(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	utils.NormalizeL2(out)
	return out
}

// Margin is the score gap between the first two candidates, or 0 with fewer than two.
func Margin(candidates []models.Candidate) float64 {
	if len(candidates) < 2 {
		return 0
	}
	return candidates[0].ClipScore - candidates[1].ClipScore
}
