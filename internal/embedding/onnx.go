//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/hyperjump/reunite/pkg/utils"
)

// ONNXConfig locates the CLIP encoder exports and sets their input shapes.
type ONNXConfig struct {
	LibraryPath    string
	TextModelPath  string
	ImageModelPath string
	Dimensions     int
	ContextLength  int
	ImageSize      int
	Tokenizer      Tokenizer
}

// ONNXEmbedder runs the CLIP text and vision encoders with ONNX Runtime.
// It requires CGO and the onnxruntime shared library.
type ONNXEmbedder struct {
	textSession  *ort.AdvancedSession
	imageSession *ort.AdvancedSession
	tokenizer    Tokenizer
	cfg          ONNXConfig
	// Pre-allocated tensors for Run(); we update input data and read output.
	inputIDsTensor      *ort.Tensor[int64]
	attentionMaskTensor *ort.Tensor[int64]
	textOutputTensor    *ort.Tensor[float32]
	pixelTensor         *ort.Tensor[float32]
	imageOutputTensor   *ort.Tensor[float32]
	mu                  sync.Mutex
}

// NewONNXEmbedder creates both CLIP sessions. A nil cfg.Tokenizer falls back to SimpleTokenizer.
func NewONNXEmbedder(cfg ONNXConfig) (*ONNXEmbedder, error) {
	if cfg.LibraryPath != "" {
		ort.SetSharedLibraryPath(cfg.LibraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
	}
	if cfg.Tokenizer == nil {
		cfg.Tokenizer = &SimpleTokenizer{}
	}

	e := &ONNXEmbedder{tokenizer: cfg.Tokenizer, cfg: cfg}
	if err := e.initText(); err != nil {
		_ = e.Close()
		return nil, err
	}
	if err := e.initImage(); err != nil {
		_ = e.Close()
		return nil, err
	}
	return e, nil
}

func (e *ONNXEmbedder) initText() error {
	seq := int64(e.cfg.ContextLength)
	var err error
	e.inputIDsTensor, err = ort.NewTensor(ort.NewShape(1, seq), make([]int64, seq))
	if err != nil {
		return fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	e.attentionMaskTensor, err = ort.NewTensor(ort.NewShape(1, seq), make([]int64, seq))
	if err != nil {
		return fmt.Errorf("failed to create attention_mask tensor: %w", err)
	}
	e.textOutputTensor, err = ort.NewTensor(ort.NewShape(1, int64(e.cfg.Dimensions)), make([]float32, e.cfg.Dimensions))
	if err != nil {
		return fmt.Errorf("failed to create text output tensor: %w", err)
	}
	e.textSession, err = ort.NewAdvancedSession(
		e.cfg.TextModelPath,
		[]string{"input_ids", "attention_mask"},
		[]string{"text_embeds"},
		[]ort.ArbitraryTensor{e.inputIDsTensor, e.attentionMaskTensor},
		[]ort.ArbitraryTensor{e.textOutputTensor},
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to create text session: %w", err)
	}
	return nil
}

func (e *ONNXEmbedder) initImage() error {
	size := int64(e.cfg.ImageSize)
	var err error
	e.pixelTensor, err = ort.NewTensor(ort.NewShape(1, 3, size, size), make([]float32, 3*size*size))
	if err != nil {
		return fmt.Errorf("failed to create pixel_values tensor: %w", err)
	}
	e.imageOutputTensor, err = ort.NewTensor(ort.NewShape(1, int64(e.cfg.Dimensions)), make([]float32, e.cfg.Dimensions))
	if err != nil {
		return fmt.Errorf("failed to create image output tensor: %w", err)
	}
	e.imageSession, err = ort.NewAdvancedSession(
		e.cfg.ImageModelPath,
		[]string{"pixel_values"},
		[]string{"image_embeds"},
		[]ort.ArbitraryTensor{e.pixelTensor},
		[]ort.ArbitraryTensor{e.imageOutputTensor},
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to create image session: %w", err)
	}
	return nil
}

// EmbedText returns the unit-length CLIP text embedding.
func (e *ONNXEmbedder) EmbedText(_ context.Context, text string) ([]float32, error) {
	inputIDs, attentionMask, err := e.tokenizer.Tokenize(text, e.cfg.ContextLength)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	copy(e.inputIDsTensor.GetData(), inputIDs)
	copy(e.attentionMaskTensor.GetData(), attentionMask)
	if err := e.textSession.Run(); err != nil {
		return nil, fmt.Errorf("text inference failed: %w", err)
	}
	return e.readOutput(e.textOutputTensor), nil
}

// EmbedImage decodes data and returns the unit-length CLIP image embedding.
func (e *ONNXEmbedder) EmbedImage(_ context.Context, data []byte) ([]float32, error) {
	img, err := DecodeImage(data)
	if err != nil {
		return nil, err
	}
	pixels := PixelValues(img, e.cfg.ImageSize)

	e.mu.Lock()
	defer e.mu.Unlock()

	copy(e.pixelTensor.GetData(), pixels)
	if err := e.imageSession.Run(); err != nil {
		return nil, fmt.Errorf("image inference failed: %w", err)
	}
	return e.readOutput(e.imageOutputTensor), nil
}

func (e *ONNXEmbedder) readOutput(t *ort.Tensor[float32]) []float32 {
	embedding := make([]float32, e.cfg.Dimensions)
	copy(embedding, t.GetData()[:e.cfg.Dimensions])
	utils.NormalizeL2(embedding)
	return embedding
}

// Dimensions returns the embedding dimension.
func (e *ONNXEmbedder) Dimensions() int {
	return e.cfg.Dimensions
}

// Close destroys the sessions and tensors.
func (e *ONNXEmbedder) Close() error {
	var err error
	for _, s := range []*ort.AdvancedSession{e.textSession, e.imageSession} {
		if s != nil {
			if derr := s.Destroy(); derr != nil && err == nil {
				err = derr
			}
		}
	}
	e.textSession, e.imageSession = nil, nil
	destroyTensor(&e.inputIDsTensor)
	destroyTensor(&e.attentionMaskTensor)
	destroyTensor(&e.textOutputTensor)
	destroyTensor(&e.pixelTensor)
	destroyTensor(&e.imageOutputTensor)
	return err
}

func destroyTensor[T ort.TensorData](t **ort.Tensor[T]) {
	if *t != nil {
		_ = (*t).Destroy()
		*t = nil
	}
}
