// Package fetch downloads item photos from http(s) and s3:// URLs and stages them
// in request-scoped temporary files.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MaxImageBytes caps a single download.
const MaxImageBytes = 32 << 20

// UpstreamError reports a failed or non-2xx image download.
type UpstreamError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Image is a downloaded photo.
type Image struct {
	URL         string
	Data        []byte
	ContentType string
}

var typeExt = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

// MIMEType returns the response type when it names an image, else a guess from the URL
// extension, else image/jpeg.
func (i *Image) MIMEType() string {
	if ct := mediaType(i.ContentType); strings.HasPrefix(ct, "image/") {
		return ct
	}
	if ext := urlExt(i.URL); ext != "" {
		if t := mediaType(mime.TypeByExtension(ext)); strings.HasPrefix(t, "image/") {
			return t
		}
	}
	return "image/jpeg"
}

// Ext picks a file extension from the content type, then the URL suffix, then ".jpg".
func (i *Image) Ext() string {
	ct := mediaType(i.ContentType)
	if ext, ok := typeExt[ct]; ok {
		return ext
	}
	if strings.HasPrefix(ct, "image/") {
		if exts, err := mime.ExtensionsByType(ct); err == nil && len(exts) > 0 {
			return exts[0]
		}
	}
	if ext := urlExt(i.URL); ext != "" {
		return ext
	}
	return ".jpg"
}

func mediaType(ct string) string {
	if ct == "" {
		return ""
	}
	t, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return ""
	}
	return t
}

func urlExt(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(path.Ext(u.Path))
}

// ObjectGetter reads objects from an S3-compatible store.
type ObjectGetter interface {
	GetObject(ctx context.Context, bucket, key string) (data []byte, contentType string, err error)
}

// Fetcher downloads images. It is safe for concurrent use.
type Fetcher struct {
	client  *http.Client
	objects ObjectGetter
	tempDir string
	logger  *zap.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithObjectStore enables s3://bucket/key URLs.
func WithObjectStore(o ObjectGetter) Option {
	return func(f *Fetcher) { f.objects = o }
}

// WithTempDir sets where TempFile stages downloads. Defaults to os.TempDir().
func WithTempDir(dir string) Option {
	return func(f *Fetcher) { f.tempDir = dir }
}

// WithHTTPClient replaces the HTTP client. Its timeout is kept as given.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// New returns a Fetcher whose HTTP requests time out after timeout.
func New(timeout time.Duration, opts ...Option) *Fetcher {
	f := &Fetcher{
		client: &http.Client{Timeout: timeout},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.tempDir == "" {
		f.tempDir = os.TempDir()
	}
	return f
}

// Fetch downloads rawURL. Failures are returned as *UpstreamError.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Image, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &UpstreamError{URL: rawURL, Err: err}
	}
	switch u.Scheme {
	case "http", "https":
		return f.fetchHTTP(ctx, rawURL)
	case "s3":
		if f.objects == nil {
			return nil, &UpstreamError{URL: rawURL, Err: errors.New("object store not configured")}
		}
		data, ct, err := f.objects.GetObject(ctx, u.Host, strings.TrimPrefix(u.Path, "/"))
		if err != nil {
			return nil, &UpstreamError{URL: rawURL, Err: err}
		}
		return &Image{URL: rawURL, Data: data, ContentType: ct}, nil
	}
	return nil, &UpstreamError{URL: rawURL, Err: fmt.Errorf("unsupported scheme %q", u.Scheme)}
}

func (f *Fetcher) fetchHTTP(ctx context.Context, rawURL string) (*Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &UpstreamError{URL: rawURL, Err: err}
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &UpstreamError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UpstreamError{URL: rawURL, StatusCode: resp.StatusCode}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxImageBytes+1))
	if err != nil {
		return nil, &UpstreamError{URL: rawURL, Err: err}
	}
	if len(data) > MaxImageBytes {
		return nil, &UpstreamError{URL: rawURL, Err: fmt.Errorf("image exceeds %d bytes", MaxImageBytes)}
	}
	return &Image{URL: rawURL, Data: data, ContentType: resp.Header.Get("Content-Type")}, nil
}

// TempFile downloads rawURL into a new uniquely named file and returns its path together
// with a cleanup func that removes it. Callers must defer cleanup; removal failures are
// logged, never returned.
func (f *Fetcher) TempFile(ctx context.Context, rawURL string) (string, func(), error) {
	img, err := f.Fetch(ctx, rawURL)
	if err != nil {
		return "", func() {}, err
	}
	p, err := f.WriteTemp(img.Data, img.Ext())
	if err != nil {
		return "", func() {}, err
	}
	return p, func() { f.Remove(p) }, nil
}

// WriteTemp writes data to a new file in the temp dir and returns its path.
func (f *Fetcher) WriteTemp(data []byte, ext string) (string, error) {
	p := filepath.Join(f.tempDir, "reunite-"+uuid.NewString()+ext)
	file, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		_ = file.Close()
		f.Remove(p)
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := file.Close(); err != nil {
		f.Remove(p)
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}
	return p, nil
}

// Remove deletes a staged file, logging instead of failing.
func (f *Fetcher) Remove(p string) {
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		f.logger.Warn("failed to remove temp file", zap.String("path", p), zap.Error(err))
	}
}
