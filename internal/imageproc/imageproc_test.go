package imageproc

import (
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
)

// linesImage draws dark horizontal bars on white, optionally rotated.
func linesImage(w, h int, rotate float64) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBA{255, 255, 255, 255}
			if x > w/8 && x < w*7/8 && (y/6)%4 == 1 {
				c = color.NRGBA{20, 20, 20, 255}
			}
			img.Set(x, y, c)
		}
	}
	if rotate != 0 {
		return imaging.Rotate(img, rotate, color.White)
	}
	return img
}

func writePNG(t *testing.T, dir, name string, img image.Image) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := imaging.Save(img, p); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestPreprocess_threshold(t *testing.T) {
	dir := t.TempDir()
	src := writePNG(t, dir, "card.png", linesImage(200, 100, 0))
	before, _ := os.ReadFile(src)

	out, err := Preprocess(src, OpThreshold, 400, filepath.Join(dir, "out"))
	if err != nil {
		t.Fatal(err)
	}
	if out == src || filepath.Base(out) != "card_threshold.png" {
		t.Errorf("out = %s", out)
	}
	after, _ := os.ReadFile(src)
	if string(before) != string(after) {
		t.Error("input must not be modified")
	}
	img, err := imaging.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != 400 {
		t.Errorf("width = %d, want upscaled to 400", img.Bounds().Dx())
	}
	nrgba := imaging.Clone(img)
	for i := 0; i < len(nrgba.Pix); i += 4 {
		if v := nrgba.Pix[i]; v != 0 && v != 255 {
			t.Fatalf("pixel value %d is not binary", v)
		}
	}
}

func TestPreprocess_errors(t *testing.T) {
	dir := t.TempDir()
	if _, err := Preprocess(filepath.Join(dir, "missing.png"), OpThreshold, 0, dir); err == nil {
		t.Error("expected error for missing input")
	}
	src := writePNG(t, dir, "a.png", linesImage(10, 10, 0))
	if _, err := Preprocess(src, "sharpen", 0, dir); err == nil {
		t.Error("expected error for unknown op")
	}
}

func TestEstimateSkew(t *testing.T) {
	if got := EstimateSkew(linesImage(300, 200, 0)); got != 0 {
		t.Errorf("level image skew = %f, want 0", got)
	}
	got := EstimateSkew(linesImage(300, 200, 5))
	if math.Abs(got+5) > 1.0 {
		t.Errorf("skew of image rotated 5 degrees = %f, want about -5", got)
	}
}

func TestPreprocess_skew(t *testing.T) {
	dir := t.TempDir()
	src := writePNG(t, dir, "tag.png", linesImage(300, 200, 5))
	out, err := Preprocess(src, OpSkew, 300, dir)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(out) != "tag_skew.png" {
		t.Errorf("out = %s", out)
	}
	img, err := imaging.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	if got := EstimateSkew(img); math.Abs(got) > 1.0 {
		t.Errorf("residual skew = %f", got)
	}
}
