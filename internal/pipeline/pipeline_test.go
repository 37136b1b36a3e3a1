package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/hyperjump/reunite/internal/adjudicator"
	"github.com/hyperjump/reunite/internal/agent"
	"github.com/hyperjump/reunite/internal/fetch"
	"github.com/hyperjump/reunite/internal/llm"
	"github.com/hyperjump/reunite/internal/llm/offline"
	"github.com/hyperjump/reunite/internal/models"
	"github.com/hyperjump/reunite/internal/prompts"
	"github.com/hyperjump/reunite/internal/ranking"
	"github.com/hyperjump/reunite/internal/storage"
)

// memStore is an in-memory Store that records merges.
type memStore struct {
	records map[models.Collection]map[string]*models.Record
	merges  []map[string]any
}

func newMemStore() *memStore {
	return &memStore{records: map[models.Collection]map[string]*models.Record{
		models.CollectionLost:  {},
		models.CollectionFound: {},
	}}
}

func (s *memStore) put(c models.Collection, id string, fields map[string]any) {
	s.records[c][id] = &models.Record{ID: id, Collection: c, Fields: fields, CreatedAt: time.Now()}
}

func (s *memStore) Get(_ context.Context, c models.Collection, id string) (*models.Record, error) {
	rec, ok := s.records[c][id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return rec, nil
}

func (s *memStore) List(_ context.Context, c models.Collection) ([]*models.Record, error) {
	out := make([]*models.Record, 0, len(s.records[c]))
	for _, rec := range s.records[c] {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) Merge(_ context.Context, c models.Collection, id string, fields map[string]any) error {
	rec, ok := s.records[c][id]
	if !ok {
		return storage.ErrNotFound
	}
	rec.Fields = models.MergeFields(rec.Fields, fields)
	s.merges = append(s.merges, fields)
	return nil
}

// diskImages serves a fixed PNG for every URL and stages temp files under dir.
type diskImages struct {
	dir     string
	data    []byte
	fetches int
	staged  []string
}

func newDiskImages(t *testing.T) *diskImages {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 30), G: 80, B: 200, A: 128})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return &diskImages{dir: t.TempDir(), data: buf.Bytes()}
}

func (d *diskImages) Fetch(_ context.Context, rawURL string) (*fetch.Image, error) {
	d.fetches++
	return &fetch.Image{URL: rawURL, Data: d.data, ContentType: "image/png"}, nil
}

func (d *diskImages) TempFile(_ context.Context, rawURL string) (string, func(), error) {
	p := filepath.Join(d.dir, "staged-"+string(rune('a'+len(d.staged)))+".png")
	if err := os.WriteFile(p, d.data, 0600); err != nil {
		return "", func() {}, err
	}
	d.staged = append(d.staged, p)
	return p, func() { os.Remove(p) }, nil
}

func (d *diskImages) leftovers(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

type fixedRanker struct {
	candidates []models.Candidate
	err        error
}

func (r *fixedRanker) RankAgainstImages(context.Context, string, []*models.FoundItem) ([]models.Candidate, error) {
	return r.candidates, r.err
}

func (r *fixedRanker) RankAgainstTexts(context.Context, []byte, []*models.LostItem) ([]models.Candidate, error) {
	return r.candidates, r.err
}

type fakeGate struct {
	shouldOCR bool
	calls     int
}

func (g *fakeGate) Classify(_ context.Context, _ string, img *fetch.Image) (*models.GateVerdict, error) {
	g.calls++
	if len(img.Data) == 0 {
		return nil, errors.New("empty image")
	}
	return &models.GateVerdict{ShouldOCR: g.shouldOCR, Readability: models.ReadabilityHigh, DocType: models.DocTypeIDCard}, nil
}

type fakeExtractor struct {
	text  string
	paths []string
}

func (e *fakeExtractor) Run(_ context.Context, path string) (string, error) {
	e.paths = append(e.paths, path)
	return e.text, nil
}

// recordingAdjudicator applies the margin policy through the offline oracle and keeps the packet.
type recordingAdjudicator struct {
	inner  *adjudicator.Adjudicator
	packet *models.DecisionPacket
	query  adjudicator.Query
}

func newAdjudicator() *recordingAdjudicator {
	return &recordingAdjudicator{inner: adjudicator.New(offline.New(nil), prompts.New())}
}

func (a *recordingAdjudicator) Adjudicate(ctx context.Context, q adjudicator.Query, p *models.DecisionPacket) (*models.FinalVerdict, error) {
	a.packet = p
	a.query = q
	return a.inner.Adjudicate(ctx, q, p)
}

func foundFixture(store *memStore) {
	store.put(models.CollectionFound, "F1", map[string]any{
		models.FieldImageURL: "https://i.ibb.co/x/card.png",
		models.FieldName:     "student card",
	})
	store.put(models.CollectionLost, "L1", map[string]any{models.FieldDescription: "blue student card for JANE DOE 20231234"})
	store.put(models.CollectionLost, "L2", map[string]any{models.FieldDescription: "red scarf"})
}

var twoCandidates = []models.Candidate{
	{CandidateID: "L2", Label: "red scarf", ClipScore: 0.300},
	{CandidateID: "L1", Label: "blue student card for JANE DOE 20231234", ClipScore: 0.292},
}

// textEmbedder embeds texts by table and every image as (1, 0).
type textEmbedder struct{ texts map[string][]float32 }

func (e *textEmbedder) EmbedText(_ context.Context, text string) ([]float32, error) {
	if v, ok := e.texts[text]; ok {
		return v, nil
	}
	return nil, errors.New("unknown text")
}

func (e *textEmbedder) EmbedImage(_ context.Context, data []byte) ([]float32, error) {
	switch string(data) {
	case "wallet":
		return []float32{1, 0}, nil
	case "umbrella":
		return []float32{0.2, float32(math.Sqrt(1 - 0.04))}, nil
	}
	return []float32{0, 1}, nil
}

func (e *textEmbedder) Dimensions() int { return 2 }
func (e *textEmbedder) Close() error    { return nil }

type byURL map[string]string

func (b byURL) Fetch(_ context.Context, rawURL string) (*fetch.Image, error) {
	return &fetch.Image{URL: rawURL, Data: []byte(b[rawURL])}, nil
}

func (b byURL) TempFile(context.Context, string) (string, func(), error) {
	return "", func() {}, errors.New("lost items never stage files")
}

func TestMatch_lostItemClearMatch(t *testing.T) {
	store := newMemStore()
	store.put(models.CollectionLost, "L1", map[string]any{models.FieldDescription: "black wallet with student ID"})
	store.put(models.CollectionFound, "F1", map[string]any{models.FieldImageURL: "https://img/wallet.jpg", models.FieldName: "wallet"})
	store.put(models.CollectionFound, "F2", map[string]any{models.FieldImageURL: "https://img/umbrella.jpg", models.FieldName: "umbrella"})

	images := byURL{"https://img/wallet.jpg": "wallet", "https://img/umbrella.jpg": "umbrella"}
	ranker := ranking.NewRanker(&textEmbedder{texts: map[string][]float32{"black wallet with student ID": {1, 0}}}, images)
	gate := &fakeGate{}
	extractor := &fakeExtractor{}
	adj := newAdjudicator()

	v, err := New(store, ranker, images, gate, extractor, adj).Match(context.Background(), "L1")
	if err != nil {
		t.Fatal(err)
	}
	if v.Decision != models.DecisionMatch || v.MatchedID == nil || *v.MatchedID != "F1" || v.GivenID != "L1" {
		t.Errorf("got %+v", v)
	}
	if adj.packet.ScoreMargin <= 0.05 {
		t.Errorf("margin = %v, want > 0.05", adj.packet.ScoreMargin)
	}
	if adj.query.Text != "black wallet with student ID" || adj.packet.ShouldOCR || adj.packet.OCRResults != "" {
		t.Errorf("unexpected adjudication input: %+v %+v", adj.query, adj.packet)
	}
	if gate.calls != 0 || len(extractor.paths) != 0 {
		t.Error("lost items skip the gate and extractor")
	}
	if len(store.merges) != 0 {
		t.Errorf("lost items must not write to the store: %v", store.merges)
	}
}

func TestMatch_notFound(t *testing.T) {
	adj := newAdjudicator()
	o := New(newMemStore(), &fixedRanker{}, newDiskImages(t), &fakeGate{}, &fakeExtractor{}, adj)
	v, err := o.Match(context.Background(), "missing")
	if !errors.Is(err, ErrItemNotFound) {
		t.Fatalf("got %v, want ErrItemNotFound", err)
	}
	if v != nil || adj.packet != nil {
		t.Error("no verdict should be produced")
	}
}

func TestMatch_gateSaysNoOCR(t *testing.T) {
	store := newMemStore()
	foundFixture(store)
	images := newDiskImages(t)
	gate := &fakeGate{shouldOCR: false}
	extractor := &fakeExtractor{text: "never"}
	adj := newAdjudicator()

	v, err := New(store, &fixedRanker{candidates: twoCandidates}, images, gate, extractor, adj).Match(context.Background(), "F1")
	if err != nil {
		t.Fatal(err)
	}
	if gate.calls != 1 {
		t.Errorf("gate calls = %d", gate.calls)
	}
	if len(extractor.paths) != 0 {
		t.Error("extractor must not run when should_ocr is false")
	}
	if _, ok := store.records[models.CollectionFound]["F1"].Fields[models.FieldOCROutput]; ok {
		t.Error("ocr_output must not be written")
	}
	if adj.packet.OCRResults != "" || adj.packet.ShouldOCR {
		t.Errorf("packet = %+v", adj.packet)
	}
	if adj.query.MIMEType != "image/jpeg" || len(adj.query.Image) == 0 {
		t.Errorf("query = %+v", adj.query)
	}
	if v.Decision != models.DecisionNoMatch {
		t.Errorf("decision = %s, want no_match for margin 0.008", v.Decision)
	}
	if left := images.leftovers(t); len(left) != 0 {
		t.Errorf("temp files left behind: %v", left)
	}
}

// stagedPhotoScript drives a real agent: the first dispatch calls tool on the
// most recently staged photo, the second ends the conversation with final.
func stagedPhotoScript(images *diskImages, tool, final string) chatFunc {
	return func(req llm.ChatRequest) (*llm.Reply, error) {
		if len(req.Messages) > 1 {
			return &llm.Reply{Text: final}, nil
		}
		path := images.staged[len(images.staged)-1]
		return &llm.Reply{ToolCalls: []llm.ToolCall{{ID: "1", Name: tool, Args: map[string]any{"img_path": path}}}}, nil
	}
}

type chatFunc func(req llm.ChatRequest) (*llm.Reply, error)

func (f chatFunc) Chat(_ context.Context, req llm.ChatRequest) (*llm.Reply, error) { return f(req) }

type brokenTools struct {
	preErr     error
	extractErr error
}

func (b *brokenTools) Preprocess(context.Context, string, string, int) (string, error) {
	return "", b.preErr
}

func (b *brokenTools) Extract(context.Context, string) (string, error) {
	return "", b.extractErr
}

func TestMatch_extractionFailurePropagates(t *testing.T) {
	store := newMemStore()
	foundFixture(store)
	images := newDiskImages(t)
	tools := &brokenTools{preErr: errors.New("decode failed")}
	extractor := agent.New(stagedPhotoScript(images, agent.ToolPreprocess, ""), tools, prompts.New())
	adj := newAdjudicator()

	v, err := New(store, &fixedRanker{candidates: twoCandidates}, images, &fakeGate{shouldOCR: true}, extractor, adj).Match(context.Background(), "F1")
	var toolErr *agent.ToolError
	if !errors.As(err, &toolErr) || toolErr.Tool != agent.ToolPreprocess {
		t.Fatalf("got %v, want *agent.ToolError from preprocess_image", err)
	}
	if v != nil || adj.packet != nil {
		t.Error("no verdict should be produced")
	}
	if len(images.staged) != 1 {
		t.Fatalf("staged files = %d, want 1", len(images.staged))
	}
	if _, err := os.Stat(images.staged[0]); !os.IsNotExist(err) {
		t.Error("staged OCR file should be deleted after a failed extraction")
	}
	if left := images.leftovers(t); len(left) != 0 {
		t.Errorf("temp files left behind: %v", left)
	}
	if _, ok := store.records[models.CollectionFound]["F1"].Fields[models.FieldOCROutput]; ok {
		t.Error("ocr_output must not be written")
	}
}

func TestMatch_extractToolFailureDegrades(t *testing.T) {
	store := newMemStore()
	foundFixture(store)
	images := newDiskImages(t)
	tools := &brokenTools{extractErr: errors.New("vision unavailable")}
	extractor := agent.New(stagedPhotoScript(images, agent.ToolExtract, ""), tools, prompts.New())
	adj := newAdjudicator()

	v, err := New(store, &fixedRanker{candidates: twoCandidates}, images, &fakeGate{shouldOCR: true}, extractor, adj).Match(context.Background(), "F1")
	if err != nil {
		t.Fatal(err)
	}
	if v == nil || adj.packet == nil {
		t.Fatal("pipeline should reach adjudication")
	}
	if !adj.packet.ShouldOCR || adj.packet.OCRResults != "" {
		t.Errorf("packet = %+v", adj.packet)
	}
	if left := images.leftovers(t); len(left) != 0 {
		t.Errorf("temp files left behind: %v", left)
	}
}

func TestMatch_ocrIdentifierWins(t *testing.T) {
	store := newMemStore()
	foundFixture(store)
	images := newDiskImages(t)
	extractor := &fakeExtractor{text: "UNIVERSITY STUDENT CARD\nJANE DOE\n20231234"}
	adj := newAdjudicator()

	v, err := New(store, &fixedRanker{candidates: twoCandidates}, images, &fakeGate{shouldOCR: true}, extractor, adj).Match(context.Background(), "F1")
	if err != nil {
		t.Fatal(err)
	}
	if v.Decision != models.DecisionMatch || v.MatchedID == nil || *v.MatchedID != "L1" {
		t.Errorf("got %+v", v)
	}
	if got := store.records[models.CollectionFound]["F1"].Fields[models.FieldOCROutput]; got != extractor.text {
		t.Errorf("ocr_output = %v", got)
	}
	if adj.packet.OCRResults != extractor.text {
		t.Errorf("ocr_results = %q", adj.packet.OCRResults)
	}
	if len(images.staged) != 2 {
		t.Errorf("staged files = %d, want 2 (OCR and adjudication)", len(images.staged))
	}
	if left := images.leftovers(t); len(left) != 0 {
		t.Errorf("temp files left behind: %v", left)
	}
}

func TestMatch_lowMarginNoMatch(t *testing.T) {
	store := newMemStore()
	store.put(models.CollectionLost, "L1", map[string]any{models.FieldDescription: "grey hoodie"})
	ranker := &fixedRanker{candidates: []models.Candidate{
		{CandidateID: "F1", Label: "hoodie", ClipScore: 0.250},
		{CandidateID: "F2", Label: "sweater", ClipScore: 0.242},
	}}
	adj := newAdjudicator()
	v, err := New(store, ranker, newDiskImages(t), &fakeGate{}, &fakeExtractor{}, adj).Match(context.Background(), "L1")
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(adj.packet.ScoreMargin-0.008) > 1e-9 {
		t.Errorf("margin = %v", adj.packet.ScoreMargin)
	}
	if v.Decision != models.DecisionNoMatch || v.MatchedID != nil {
		t.Errorf("got %+v", v)
	}
}

func TestMatch_rankingErrors(t *testing.T) {
	store := newMemStore()
	store.put(models.CollectionLost, "L1", map[string]any{models.FieldDescription: "keys"})
	adj := newAdjudicator()
	_, err := New(store, &fixedRanker{err: ranking.ErrNoCandidates}, newDiskImages(t), &fakeGate{}, &fakeExtractor{}, adj).Match(context.Background(), "L1")
	if !errors.Is(err, ranking.ErrNoCandidates) {
		t.Fatalf("got %v, want ErrNoCandidates", err)
	}
	if adj.packet != nil {
		t.Error("adjudicator must not run without candidates")
	}
}

func TestMatch_foundWithoutImage(t *testing.T) {
	store := newMemStore()
	store.put(models.CollectionFound, "F1", map[string]any{models.FieldName: "mystery"})
	_, err := New(store, &fixedRanker{}, newDiskImages(t), &fakeGate{}, &fakeExtractor{}, newAdjudicator()).Match(context.Background(), "F1")
	if !errors.Is(err, ErrInvalidItem) {
		t.Fatalf("got %v, want ErrInvalidItem", err)
	}
}

func TestMatch_idempotent(t *testing.T) {
	store := newMemStore()
	foundFixture(store)
	images := newDiskImages(t)
	extractor := &fakeExtractor{text: "JANE DOE 20231234"}
	o := New(store, &fixedRanker{candidates: twoCandidates}, images, &fakeGate{shouldOCR: true}, extractor, newAdjudicator())

	first, err := o.Match(context.Background(), "F1")
	if err != nil {
		t.Fatal(err)
	}
	fieldsAfterFirst := len(store.records[models.CollectionFound]["F1"].Fields)
	second, err := o.Match(context.Background(), "F1")
	if err != nil {
		t.Fatal(err)
	}
	if first.Decision != second.Decision || *first.MatchedID != *second.MatchedID {
		t.Errorf("verdicts differ: %+v vs %+v", first, second)
	}
	if got := len(store.records[models.CollectionFound]["F1"].Fields); got != fieldsAfterFirst {
		t.Errorf("fields = %d after second run, want %d", got, fieldsAfterFirst)
	}
	if left := images.leftovers(t); len(left) != 0 {
		t.Errorf("temp files left behind: %v", left)
	}
}
