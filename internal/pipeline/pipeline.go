// Package pipeline orchestrates one match request:
// LOOKUP -> RANK -> (GATE -> EXTRACT)? -> ADJUDICATE -> DONE.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"github.com/hyperjump/reunite/internal/adjudicator"
	"github.com/hyperjump/reunite/internal/fetch"
	"github.com/hyperjump/reunite/internal/models"
	"github.com/hyperjump/reunite/internal/ranking"
	"github.com/hyperjump/reunite/internal/storage"
)

// ErrItemNotFound is returned when an id is in neither collection.
var ErrItemNotFound = errors.New("item not found")

// ErrInvalidItem is returned for records missing the field their variant needs.
var ErrInvalidItem = errors.New("invalid item")

// adjudicationJPEGQuality is used when re-encoding a found photo for the adjudicator.
const adjudicationJPEGQuality = 90

// Store is the subset of storage.Store the pipeline reads and writes.
type Store interface {
	Get(ctx context.Context, collection models.Collection, id string) (*models.Record, error)
	List(ctx context.Context, collection models.Collection) ([]*models.Record, error)
	Merge(ctx context.Context, collection models.Collection, id string, fields map[string]any) error
}

// Ranker scores candidates against the query item.
type Ranker interface {
	RankAgainstImages(ctx context.Context, queryText string, found []*models.FoundItem) ([]models.Candidate, error)
	RankAgainstTexts(ctx context.Context, queryImage []byte, lost []*models.LostItem) ([]models.Candidate, error)
}

// Images downloads photos into memory or into scoped temp files.
type Images interface {
	Fetch(ctx context.Context, rawURL string) (*fetch.Image, error)
	TempFile(ctx context.Context, rawURL string) (path string, cleanup func(), err error)
}

// Gate decides whether a found photo deserves OCR.
type Gate interface {
	Classify(ctx context.Context, itemID string, img *fetch.Image) (*models.GateVerdict, error)
}

// Extractor reads identifying text from an image file.
type Extractor interface {
	Run(ctx context.Context, imagePath string) (string, error)
}

// Adjudicator produces the final verdict.
type Adjudicator interface {
	Adjudicate(ctx context.Context, q adjudicator.Query, packet *models.DecisionPacket) (*models.FinalVerdict, error)
}

// Orchestrator runs match requests. It holds no per-request state.
type Orchestrator struct {
	store       Store
	ranker      Ranker
	images      Images
	gate        Gate
	extractor   Extractor
	adjudicator Adjudicator
	logger      *zap.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New returns an Orchestrator.
func New(store Store, ranker Ranker, images Images, gate Gate, extractor Extractor, adj Adjudicator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:       store,
		ranker:      ranker,
		images:      images,
		gate:        gate,
		extractor:   extractor,
		adjudicator: adj,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Match finds the best counterpart for itemID and returns the adjudicated verdict.
func (o *Orchestrator) Match(ctx context.Context, itemID string) (*models.FinalVerdict, error) {
	if itemID == "" {
		return nil, fmt.Errorf("%w: empty item id", ErrInvalidItem)
	}
	item, err := o.lookup(ctx, itemID)
	if err != nil {
		return nil, err
	}

	var verdict *models.FinalVerdict
	switch it := item.(type) {
	case *models.LostItem:
		verdict, err = o.matchLost(ctx, it)
	case *models.FoundItem:
		verdict, err = o.matchFound(ctx, it)
	default:
		err = fmt.Errorf("%w: unsupported item type %T", ErrInvalidItem, item)
	}
	if err != nil {
		o.logger.Warn("match failed", zap.String("item_id", itemID), zap.Error(err))
		return nil, err
	}
	if verdict.GivenID != itemID {
		o.logger.Warn("verdict given_id differs from request", zap.String("item_id", itemID), zap.String("given_id", verdict.GivenID))
	}
	return verdict, nil
}

// lookup checks lostItems first, then foundItems.
func (o *Orchestrator) lookup(ctx context.Context, itemID string) (models.Item, error) {
	for _, c := range []models.Collection{models.CollectionLost, models.CollectionFound} {
		rec, err := o.store.Get(ctx, c, itemID)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to look up %s/%s: %w", c, itemID, err)
		}
		o.logger.Debug("lookup", zap.String("item_id", itemID), zap.String("collection", string(c)))
		return models.ItemFromRecord(rec)
	}
	return nil, fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
}

func (o *Orchestrator) matchLost(ctx context.Context, lost *models.LostItem) (*models.FinalVerdict, error) {
	recs, err := o.store.List(ctx, models.CollectionFound)
	if err != nil {
		return nil, fmt.Errorf("failed to list found items: %w", err)
	}
	found := make([]*models.FoundItem, len(recs))
	for i, rec := range recs {
		found[i] = models.FoundFromRecord(rec)
	}

	candidates, err := o.ranker.RankAgainstImages(ctx, lost.Description, found)
	if err != nil {
		return nil, fmt.Errorf("ranking failed for %s: %w", lost.ID, err)
	}
	packet := &models.DecisionPacket{
		GivenID:     lost.ID,
		ScoreMargin: ranking.Margin(candidates),
		Candidates:  candidates,
	}
	o.logRank(packet)

	return o.adjudicate(ctx, adjudicator.TextQuery(lost.Description), packet)
}

func (o *Orchestrator) matchFound(ctx context.Context, found *models.FoundItem) (*models.FinalVerdict, error) {
	if found.ImageURL == "" {
		return nil, fmt.Errorf("%w: found item %s has no imageUrl", ErrInvalidItem, found.ID)
	}
	img, err := o.images.Fetch(ctx, found.ImageURL)
	if err != nil {
		return nil, err
	}
	recs, err := o.store.List(ctx, models.CollectionLost)
	if err != nil {
		return nil, fmt.Errorf("failed to list lost items: %w", err)
	}
	lost := make([]*models.LostItem, len(recs))
	for i, rec := range recs {
		lost[i] = models.LostFromRecord(rec)
	}

	candidates, err := o.ranker.RankAgainstTexts(ctx, img.Data, lost)
	if err != nil {
		return nil, fmt.Errorf("ranking failed for %s: %w", found.ID, err)
	}
	packet := &models.DecisionPacket{
		GivenID:     found.ID,
		ScoreMargin: ranking.Margin(candidates),
		Candidates:  candidates,
	}
	o.logRank(packet)

	shouldOCR, ocr, err := o.gateAndExtract(ctx, found.ID)
	if err != nil {
		return nil, err
	}
	packet.ShouldOCR = shouldOCR
	packet.OCRResults = ocr

	query, err := o.jpegQuery(ctx, found.ImageURL)
	if err != nil {
		return nil, err
	}
	return o.adjudicate(ctx, query, packet)
}

// gateAndExtract re-reads the found record and its photo, runs the gate, and when OCR is
// recommended runs the extractor on a scoped temp copy. Extractor errors fail the request.
func (o *Orchestrator) gateAndExtract(ctx context.Context, foundID string) (bool, string, error) {
	rec, err := o.store.Get(ctx, models.CollectionFound, foundID)
	if err != nil {
		return false, "", fmt.Errorf("failed to reload found item %s: %w", foundID, err)
	}
	found := models.FoundFromRecord(rec)
	if found.ImageURL == "" {
		return false, "", fmt.Errorf("%w: found item %s has no imageUrl", ErrInvalidItem, foundID)
	}
	img, err := o.images.Fetch(ctx, found.ImageURL)
	if err != nil {
		return false, "", err
	}

	verdict, err := o.gate.Classify(ctx, foundID, img)
	if err != nil {
		return false, "", fmt.Errorf("gate failed for %s: %w", foundID, err)
	}
	if !verdict.ShouldOCR {
		return false, "", nil
	}

	path, cleanup, err := o.images.TempFile(ctx, found.ImageURL)
	if err != nil {
		return true, "", err
	}
	defer cleanup()

	text, err := o.extractor.Run(ctx, path)
	if err != nil {
		return true, "", fmt.Errorf("text extraction failed for %s: %w", foundID, err)
	}
	if err := o.store.Merge(ctx, models.CollectionFound, foundID, map[string]any{models.FieldOCROutput: text}); err != nil {
		o.logger.Warn("failed to store ocr output", zap.String("item_id", foundID), zap.Error(err))
	}
	return true, text, nil
}

// jpegQuery stages the photo in a temp file, decodes it and re-encodes it as RGB JPEG.
func (o *Orchestrator) jpegQuery(ctx context.Context, imageURL string) (adjudicator.Query, error) {
	path, cleanup, err := o.images.TempFile(ctx, imageURL)
	if err != nil {
		return adjudicator.Query{}, err
	}
	defer cleanup()

	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return adjudicator.Query{}, fmt.Errorf("failed to decode %s: %w", imageURL, err)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(adjudicationJPEGQuality)); err != nil {
		return adjudicator.Query{}, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return adjudicator.ImageQuery(buf.Bytes(), "image/jpeg"), nil
}

func (o *Orchestrator) adjudicate(ctx context.Context, q adjudicator.Query, packet *models.DecisionPacket) (*models.FinalVerdict, error) {
	verdict, err := o.adjudicator.Adjudicate(ctx, q, packet)
	if err != nil {
		return nil, fmt.Errorf("adjudication failed for %s: %w", packet.GivenID, err)
	}
	return verdict, nil
}

func (o *Orchestrator) logRank(p *models.DecisionPacket) {
	top := ""
	if len(p.Candidates) > 0 {
		top = p.Candidates[0].CandidateID
	}
	o.logger.Debug("ranked",
		zap.String("item_id", p.GivenID),
		zap.Int("candidates", len(p.Candidates)),
		zap.String("top", top),
		zap.Float64("margin", p.ScoreMargin))
}
