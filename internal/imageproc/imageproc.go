// Package imageproc prepares photos for text extraction. Operations never modify their
// input and always write a new PNG.
package imageproc

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// Operations.
const (
	OpThreshold = "threshold"
	OpSkew      = "skew"
)

// DefaultTargetWidth is the minimum width images are upscaled to.
const DefaultTargetWidth = 1600

const (
	adaptiveBlock = 31
	adaptiveC     = 10
	maxSkewDeg    = 15.0
	skewStepDeg   = 0.5
	maxSkewPoints = 20000
)

// Preprocess applies op to the image at src and writes the result as
// <outDir>/<base>_<op>.png, returning that path. Images narrower than targetWidth are
// upscaled first.
func Preprocess(src, op string, targetWidth int, outDir string) (string, error) {
	if op != OpThreshold && op != OpSkew {
		return "", fmt.Errorf("unsupported op %q", op)
	}
	if targetWidth <= 0 {
		targetWidth = DefaultTargetWidth
	}
	img, err := imaging.Open(src, imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", src, err)
	}
	if img.Bounds().Dx() < targetWidth {
		img = imaging.Resize(img, targetWidth, 0, imaging.CatmullRom)
	}

	var out image.Image
	switch op {
	case OpThreshold:
		out = AdaptiveThreshold(img)
	case OpSkew:
		out = Deskew(img)
	}

	base := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	dst := filepath.Join(outDir, base+"_"+op+".png")
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output dir: %w", err)
	}
	if err := imaging.Save(out, dst); err != nil {
		return "", fmt.Errorf("failed to save %s: %w", dst, err)
	}
	return dst, nil
}

// AdaptiveThreshold binarizes img against a Gaussian-weighted local mean, after a light
// blur to suppress sensor noise.
func AdaptiveThreshold(img image.Image) *image.NRGBA {
	gray := imaging.Grayscale(imaging.Blur(img, 1.0))
	sigma := 0.3*((adaptiveBlock-1)*0.5-1) + 0.8
	local := imaging.Blur(gray, sigma)

	b := gray.Bounds()
	out := image.NewNRGBA(b)
	for i := 0; i < len(gray.Pix); i += 4 {
		v := 0
		if int(gray.Pix[i]) > int(local.Pix[i])-adaptiveC {
			v = 255
		}
		out.Pix[i], out.Pix[i+1], out.Pix[i+2], out.Pix[i+3] = uint8(v), uint8(v), uint8(v), 255
	}
	return out
}

// Deskew estimates the dominant text angle and rotates img to level it.
func Deskew(img image.Image) *image.NRGBA {
	angle := EstimateSkew(img)
	if angle == 0 {
		return imaging.Clone(img)
	}
	return imaging.Rotate(img, angle, color.White)
}

// EstimateSkew returns the counter-clockwise rotation, in degrees, that best aligns dark
// pixels into horizontal rows. Foreground is selected with Otsu's threshold.
func EstimateSkew(img image.Image) float64 {
	gray := imaging.Grayscale(img)
	t := otsu(gray)
	b := gray.Bounds()
	cx, cy := float64(b.Dx())/2, float64(b.Dy())/2

	var pts [][2]float64
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			if gray.Pix[gray.PixOffset(x, y)] <= t {
				pts = append(pts, [2]float64{float64(x) - cx, float64(y) - cy})
			}
		}
	}
	if len(pts) < 2 {
		return 0
	}
	if len(pts) > maxSkewPoints {
		step := len(pts) / maxSkewPoints
		sampled := make([][2]float64, 0, maxSkewPoints)
		for i := 0; i < len(pts); i += step {
			sampled = append(sampled, pts[i])
		}
		pts = sampled
	}

	best, bestScore := 0.0, -1.0
	for deg := -maxSkewDeg; deg <= maxSkewDeg+1e-9; deg += skewStepDeg {
		if s := profileScore(pts, deg); s > bestScore {
			best, bestScore = deg, s
		}
	}
	return best
}

// profileScore rotates points by deg and scores the sharpness of their row histogram.
func profileScore(pts [][2]float64, deg float64) float64 {
	rad := deg * math.Pi / 180
	sin, cos := math.Sin(rad), math.Cos(rad)
	rows := map[int]int{}
	for _, p := range pts {
		rows[int(math.Round(-p[0]*sin+p[1]*cos))]++
	}
	var score float64
	for _, n := range rows {
		score += float64(n * n)
	}
	return score
}

// otsu returns the threshold maximizing between-class variance of the red channel of a
// grayscale image.
func otsu(gray *image.NRGBA) uint8 {
	var hist [256]int
	total := 0
	for i := 0; i < len(gray.Pix); i += 4 {
		hist[gray.Pix[i]]++
		total++
	}
	var sum float64
	for i, n := range hist {
		sum += float64(i * n)
	}
	var sumB, wB float64
	var best float64
	var threshold uint8
	for i, n := range hist {
		wB += float64(n)
		if wB == 0 {
			continue
		}
		wF := float64(total) - wB
		if wF == 0 {
			break
		}
		sumB += float64(i * n)
		mB := sumB / wB
		mF := (sum - sumB) / wF
		between := wB * wF * (mB - mF) * (mB - mF)
		if between > best {
			best = between
			threshold = uint8(i)
		}
	}
	return threshold
}
