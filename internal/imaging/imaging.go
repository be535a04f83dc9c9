// Package imaging validates and inspects product images referenced by URL.
package imaging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"orca/internal/apperrors"
	"orca/internal/job"
	"orca/pkg/circuitbreaker"
	"strings"
	"time"

	// Decoders registered with image.Decode.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

const userAgent = "orca-image-fetcher/1.0"

// DefaultMaxPixels bounds decoded image size. Compressed payloads under
// MaxBytes can still declare dimensions that decode to gigabytes.
const DefaultMaxPixels = 89_478_485

// Config configures a Service.
type Config struct {
	FetchTimeout time.Duration // per download (default: 10s)
	MaxBytes     int64         // largest accepted payload (default: 10 MiB)
	MaxPixels    int64         // largest accepted width*height (default: DefaultMaxPixels)
	Client       *http.Client

	// Breaker configures the per-host circuit breakers. Nil disables them.
	// Only transport failures and 5xx responses count against a host.
	Breaker *circuitbreaker.Config
}

func (c Config) withDefaults() Config {
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 10 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 10 << 20
	}
	if c.MaxPixels <= 0 {
		c.MaxPixels = DefaultMaxPixels
	}
	if c.Client == nil {
		c.Client = &http.Client{}
	}
	return c
}

// Image is a downloaded and decoded image.
type Image struct {
	URL         string
	ContentType string
	Format      string // decoder name: jpeg, png, gif, webp, bmp
	Width       int
	Height      int
	Data        []byte
}

// Metadata is the summary handed to orchestration.
func (img *Image) Metadata() map[string]any {
	return map[string]any{
		"url":          img.URL,
		"validated":    true,
		"content_type": img.ContentType,
		"format":       img.Format,
		"width":        img.Width,
		"height":       img.Height,
		"size_bytes":   len(img.Data),
	}
}

// Service fetches images over HTTP(S) and checks they decode.
type Service struct {
	cfg      Config
	breakers *circuitbreaker.Registry
	logger   *slog.Logger
}

// New creates an image service.
func New(cfg Config) *Service {
	s := &Service{
		cfg:    cfg.withDefaults(),
		logger: slog.With("component", "imaging"),
	}
	if cfg.Breaker != nil {
		bc := *cfg.Breaker
		bc.IsFailure = isHostFailure
		s.breakers = circuitbreaker.NewRegistry(bc)
	}
	return s
}

// Breakers returns the per-host breaker registry, or nil when disabled.
func (s *Service) Breakers() *circuitbreaker.Registry {
	return s.breakers
}

// Validate checks the URL shape, then downloads the image and verifies its
// content type and that it decodes. A nil error means the image is usable.
func (s *Service) Validate(ctx context.Context, rawURL string) error {
	_, err := s.Fetch(ctx, rawURL)
	return err
}

// Process downloads the image and returns its metadata.
func (s *Service) Process(ctx context.Context, rawURL string) (map[string]any, error) {
	img, err := s.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return img.Metadata(), nil
}

// Fetch downloads and decodes the image at rawURL. Problems with the image
// itself are validation errors; an open host breaker is reported as unavailable.
func (s *Service) Fetch(ctx context.Context, rawURL string) (*Image, error) {
	if err := job.ValidateURL(rawURL); err != nil {
		return nil, apperrors.Validation("image_url", fmt.Sprintf("invalid image URL: %v", err))
	}
	host := hostOf(rawURL)

	var resp *fetchResult
	fetch := func(ctx context.Context) error {
		var err error
		resp, err = s.download(ctx, rawURL)
		return err
	}

	var err error
	if s.breakers != nil {
		err = s.breakers.Do(ctx, host, fetch)
	} else {
		err = fetch(ctx)
	}
	if err != nil {
		s.logger.WarnContext(ctx, "Image download failed", "host", host, "error", err)
		if errors.Is(err, circuitbreaker.ErrOpen) {
			return nil, apperrors.Unavailable("image.fetch", err)
		}
		return nil, apperrors.Validation("image_url", downloadMessage(err))
	}

	return s.decode(rawURL, resp)
}

type fetchResult struct {
	status      int
	contentType string
	body        []byte
}

// hostError marks failures attributable to the remote host, which count
// against its breaker.
type hostError struct {
	msg string
	err error
}

func (e *hostError) Error() string { return e.msg }
func (e *hostError) Unwrap() error { return e.err }

func isHostFailure(err error) bool {
	var he *hostError
	return errors.As(err, &he) && !errors.Is(err, context.Canceled)
}

// download returns a hostError for transport failures and 5xx responses.
// Other responses are returned for the caller to judge.
func (s *Service) download(ctx context.Context, rawURL string) (*fetchResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "image/*")

	resp, err := s.cfg.Client.Do(req)
	if err != nil {
		return nil, &hostError{msg: "download: " + err.Error(), err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, &hostError{msg: fmt.Sprintf("HTTP error: %d", resp.StatusCode)}
	}
	result := &fetchResult{
		status:      resp.StatusCode,
		contentType: mediaType(resp.Header.Get("Content-Type")),
	}
	if resp.StatusCode >= 400 {
		return result, nil
	}
	if !strings.HasPrefix(result.contentType, "image/") {
		return result, nil
	}
	if resp.ContentLength > s.cfg.MaxBytes {
		return result, errTooLarge
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.cfg.MaxBytes+1))
	if err != nil {
		return nil, &hostError{msg: "read body: " + err.Error(), err: err}
	}
	if int64(len(body)) > s.cfg.MaxBytes {
		return result, errTooLarge
	}
	result.body = body
	return result, nil
}

var errTooLarge = errors.New("image exceeds maximum size")

func (s *Service) decode(rawURL string, resp *fetchResult) (*Image, error) {
	if resp.status >= 400 {
		return nil, apperrors.Validation("image_url", fmt.Sprintf("HTTP error: %d", resp.status))
	}
	if !strings.HasPrefix(resp.contentType, "image/") {
		return nil, apperrors.Validation("image_url",
			fmt.Sprintf("URL does not point to an image (content-type: %s)", resp.contentType))
	}

	// Dimensions come from the header alone; the pixel data is decoded only
	// once they are known to be within bounds.
	header, format, err := image.DecodeConfig(bytes.NewReader(resp.body))
	if err != nil {
		return nil, apperrors.Validation("image_url", fmt.Sprintf("invalid image format: %v", err))
	}
	if pixels := int64(header.Width) * int64(header.Height); pixels > s.cfg.MaxPixels {
		return nil, apperrors.Validation("image_url", fmt.Sprintf(
			"image dimensions %dx%d exceed the limit of %d pixels", header.Width, header.Height, s.cfg.MaxPixels))
	}

	decoded, _, err := image.Decode(bytes.NewReader(resp.body))
	if err != nil {
		return nil, apperrors.Validation("image_url", fmt.Sprintf("invalid image format: %v", err))
	}
	bounds := decoded.Bounds()
	return &Image{
		URL:         rawURL,
		ContentType: resp.contentType,
		Format:      format,
		Width:       bounds.Dx(),
		Height:      bounds.Dy(),
		Data:        resp.body,
	}, nil
}

// mediaType strips parameters from a Content-Type header value.
func mediaType(header string) string {
	mt, _, err := mime.ParseMediaType(header)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(header))
	}
	return mt
}

func downloadMessage(err error) string {
	switch {
	case errors.Is(err, errTooLarge):
		return err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return "image download timed out"
	default:
		return "error validating image: " + err.Error()
	}
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return strings.ToLower(u.Host)
}
