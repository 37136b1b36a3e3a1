package embedding

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"math"
	"testing"
)

func TestMockEmbedder(t *testing.T) {
	ctx := context.Background()
	e := NewMockEmbedder(16)
	a, _ := e.EmbedText(ctx, "black wallet")
	b, _ := e.EmbedText(ctx, "  black wallet ")
	if len(a) != 16 {
		t.Fatalf("dims = %d", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("normalized text should embed identically")
		}
	}
	var norm float64
	for _, v := range a {
		norm += float64(v * v)
	}
	if math.Abs(norm-1) > 1e-5 {
		t.Errorf("norm = %f, want 1", norm)
	}
	img1, _ := e.EmbedImage(ctx, []byte{1, 2, 3})
	img2, _ := e.EmbedImage(ctx, []byte{1, 2, 3})
	if img1[0] != img2[0] {
		t.Error("image embedding should be deterministic")
	}
}

func TestPixelValues(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 40, 20))
	for y := 0; y < 20; y++ {
		for x := 0; x < 40; x++ {
			src.Set(x, y, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		t.Fatal(err)
	}
	img, err := DecodeImage(buf.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	px := PixelValues(img, 8)
	if len(px) != 3*8*8 {
		t.Fatalf("len = %d", len(px))
	}
	want := (1 - clipMean[0]) / clipStd[0]
	if math.Abs(float64(px[0]-want)) > 1e-3 {
		t.Errorf("red channel = %f, want %f", px[0], want)
	}
	if _, err := DecodeImage([]byte("not an image")); err == nil {
		t.Error("expected decode error")
	}
}
