package ranking

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/hyperjump/reunite/internal/embedding"
	"github.com/hyperjump/reunite/internal/fetch"
	"github.com/hyperjump/reunite/internal/models"
)

// tableEmbedder returns fixed vectors for known texts and image bytes.
type tableEmbedder struct {
	texts  map[string][]float32
	images map[string][]float32
}

func (e *tableEmbedder) EmbedText(_ context.Context, text string) ([]float32, error) {
	if v, ok := e.texts[text]; ok {
		return v, nil
	}
	return nil, errors.New("unknown text " + text)
}

func (e *tableEmbedder) EmbedImage(_ context.Context, data []byte) ([]float32, error) {
	if v, ok := e.images[string(data)]; ok {
		return v, nil
	}
	return nil, errors.New("unknown image " + string(data))
}

func (e *tableEmbedder) Dimensions() int { return 2 }
func (e *tableEmbedder) Close() error    { return nil }

// urlImages serves the URL itself as image bytes.
type urlImages struct {
	calls int
	fail  bool
}

func (s *urlImages) Fetch(_ context.Context, rawURL string) (*fetch.Image, error) {
	s.calls++
	if s.fail {
		return nil, &fetch.UpstreamError{URL: rawURL, StatusCode: 404}
	}
	return &fetch.Image{URL: rawURL, Data: []byte(rawURL)}, nil
}

// unit returns the 2-d unit vector whose cosine with (1,0) is cos.
func unit(cos float64) []float32 {
	return []float32{float32(cos), float32(math.Sqrt(1 - cos*cos))}
}

func TestRankAgainstImages(t *testing.T) {
	emb := &tableEmbedder{
		texts: map[string][]float32{"black wallet with student ID": {1, 0}},
		images: map[string][]float32{
			"u1": unit(0.2), "u2": unit(0.9), "u3": unit(0.5), "u4": unit(0.7),
		},
	}
	found := []*models.FoundItem{
		{ID: "f1", ImageURL: "u1", Name: "scarf"},
		{ID: "f2", ImageURL: "u2", Name: "wallet"},
		{ID: "f3", ImageURL: "u3", Name: "bag"},
		{ID: "f4", ImageURL: "u4", Name: "purse"},
		{ID: "f5", Name: "no photo"},
	}
	r := NewRanker(emb, &urlImages{})
	got, err := r.RankAgainstImages(context.Background(), "black wallet with student ID", found)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d candidates, want 3", len(got))
	}
	wantIDs := []string{"f2", "f4", "f3"}
	for i, c := range got {
		if c.CandidateID != wantIDs[i] {
			t.Errorf("got[%d] = %s, want %s", i, c.CandidateID, wantIDs[i])
		}
		if i > 0 && got[i-1].ClipScore < c.ClipScore {
			t.Error("scores must be descending")
		}
	}
	if got[0].Label != "wallet" {
		t.Errorf("label = %q, want found item name", got[0].Label)
	}
	if math.Abs(got[0].ClipScore-0.9) > 1e-5 {
		t.Errorf("clip score = %f, want raw cosine 0.9", got[0].ClipScore)
	}
	if m := Margin(got); math.Abs(m-0.2) > 1e-5 {
		t.Errorf("margin = %f, want 0.2", m)
	}
}

func TestRankAgainstTexts_stableTies(t *testing.T) {
	emb := &tableEmbedder{
		texts: map[string][]float32{
			"red umbrella": unit(0.6), "blue umbrella": unit(0.6), "green umbrella": unit(0.6), "phone": unit(0.1),
		},
		images: map[string][]float32{"query": {1, 0}},
	}
	lost := []*models.LostItem{
		{ID: "l0", Description: "phone"},
		{ID: "l1", Description: "red umbrella"},
		{ID: "l2", Description: "blue umbrella"},
		{ID: "l3", Description: "green umbrella"},
	}
	r := NewRanker(emb, &urlImages{})
	got, err := r.RankAgainstTexts(context.Background(), []byte("query"), lost)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"l1", "l2", "l3"}
	for i, c := range got {
		if c.CandidateID != want[i] {
			t.Errorf("got[%d] = %s, want %s", i, c.CandidateID, want[i])
		}
	}
	if got[0].Label != "red umbrella" {
		t.Errorf("label = %q, want description", got[0].Label)
	}
	if Margin(got) != 0 {
		t.Errorf("tied margin = %f, want 0", Margin(got))
	}
}

func TestRank_noCandidates(t *testing.T) {
	emb := &tableEmbedder{texts: map[string][]float32{"keys": {1, 0}}, images: map[string][]float32{"q": {1, 0}}}
	r := NewRanker(emb, &urlImages{})

	if _, err := r.RankAgainstImages(context.Background(), "keys", nil); !errors.Is(err, ErrNoCandidates) {
		t.Errorf("empty found: got %v, want ErrNoCandidates", err)
	}
	onlyBlank := []*models.LostItem{{ID: "l1", Description: "   "}}
	if _, err := r.RankAgainstTexts(context.Background(), []byte("q"), onlyBlank); !errors.Is(err, ErrNoCandidates) {
		t.Errorf("blank lost: got %v, want ErrNoCandidates", err)
	}
	if _, err := r.RankAgainstImages(context.Background(), " ", nil); !errors.Is(err, ErrEmptyQuery) {
		t.Errorf("blank query: got %v, want ErrEmptyQuery", err)
	}
}

func TestRank_singleCandidateMarginZero(t *testing.T) {
	emb := &tableEmbedder{texts: map[string][]float32{"keys": {1, 0}}, images: map[string][]float32{"u": unit(0.8)}}
	got, err := NewRanker(emb, &urlImages{}).RankAgainstImages(context.Background(), "keys", []*models.FoundItem{{ID: "f", ImageURL: "u"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || Margin(got) != 0 {
		t.Errorf("got %v, margin %f", got, Margin(got))
	}
}

func TestRank_fetchErrorPropagates(t *testing.T) {
	emb := &tableEmbedder{texts: map[string][]float32{"keys": {1, 0}}}
	r := NewRanker(emb, &urlImages{fail: true})
	_, err := r.RankAgainstImages(context.Background(), "keys", []*models.FoundItem{{ID: "f", ImageURL: "u"}})
	var upErr *fetch.UpstreamError
	if !errors.As(err, &upErr) {
		t.Errorf("got %v, want *fetch.UpstreamError", err)
	}
}

func TestRank_cacheSkipsDownload(t *testing.T) {
	emb := &tableEmbedder{texts: map[string][]float32{"keys": {1, 0}}, images: map[string][]float32{"u": unit(0.8), "v": unit(0.3)}}
	cache, err := embedding.NewCache(16)
	if err != nil {
		t.Fatal(err)
	}
	images := &urlImages{}
	r := NewRanker(emb, images, WithCache(cache))
	found := []*models.FoundItem{{ID: "f1", ImageURL: "u"}, {ID: "f2", ImageURL: "v"}}

	for i := 0; i < 2; i++ {
		if _, err := r.RankAgainstImages(context.Background(), "keys", found); err != nil {
			t.Fatal(err)
		}
	}
	if images.calls != 2 {
		t.Errorf("fetch calls = %d, want 2 (second ranking served from cache)", images.calls)
	}

	found[0].ImageURL = "v"
	if _, err := r.RankAgainstImages(context.Background(), "keys", found); err != nil {
		t.Fatal(err)
	}
	if images.calls != 3 {
		t.Errorf("changed URL should miss the cache, calls = %d", images.calls)
	}
}

func TestMargin(t *testing.T) {
	tests := []struct {
		name   string
		scores []float64
		want   float64
	}{
		{"empty", nil, 0},
		{"single", []float64{0.9}, 0},
		{"two", []float64{0.31, 0.302}, 0.008},
		{"three", []float64{0.5, 0.4, 0.1}, 0.1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cs []models.Candidate
			for _, s := range tt.scores {
				cs = append(cs, models.Candidate{ClipScore: s})
			}
			if got := Margin(cs); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Margin = %f, want %f", got, tt.want)
			}
		})
	}
}
