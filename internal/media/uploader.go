package media

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"skiff/internal/builder"
	"skiff/internal/config"
	"skiff/internal/identity"
	"skiff/internal/logging"
	"skiff/internal/services"
)

// Uploaded describes one media object on the content-addressed host.
//
// URL is hash-derived at Prepare time and is what signed events carry; after
// Upload the stored record may instead hold the URL the host reported, which
// can differ in shape while resolving to the same content.
type Uploaded struct {
	URL  string `json:"url"`
	Hash string `json:"hash"`
	Mime string `json:"mime"`
	Size int64  `json:"size"`
	Dim  string `json:"dim,omitempty"`
}

// Asset is fetched media with its derived upload metadata. Because the host
// is content-addressed the canonical URL is known before the bytes leave the
// machine, so events can be built and signed ahead of the upload.
type Asset struct {
	Data []byte
	Uploaded
}

// Uploader resolves media references and pushes their bytes to the
// content-addressed host. Upload authorization uses an ephemeral keypair
// generated per Uploader; the host only cares that the grant matches the
// content hash, so the author's signing identity is never involved.
type Uploader struct {
	http     *resty.Client
	hostURL  string
	proxyURL string
	cacheDir string
	authKey  *identity.Key
	logger   *slog.Logger
}

// NewUploader builds an Uploader from configuration.
func NewUploader(cfg *config.Config, logger *slog.Logger) (*Uploader, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	authKey, err := identity.Generate()
	if err != nil {
		return nil, services.Wrap(services.ErrUpload, "media", "init", "generate auth keypair", err)
	}
	timeout := time.Duration(cfg.Media.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Uploader{
		http:     resty.New().SetTimeout(timeout),
		hostURL:  strings.TrimRight(cfg.Media.HostURL, "/"),
		proxyURL: cfg.Media.ProxyURL,
		cacheDir: cfg.Paths.MediaCacheDir,
		authKey:  authKey,
		logger:   logging.NewComponentLogger(logger, "media"),
	}, nil
}

// Prepare fetches the bytes for a source URL and derives the content hash,
// mime type, size, and canonical host URL without uploading anything.
func (u *Uploader) Prepare(ctx context.Context, sourceURL string) (*Asset, error) {
	data, err := u.fetch(ctx, sourceURL)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	mime := http.DetectContentType(data)
	return &Asset{
		Data: data,
		Uploaded: Uploaded{
			URL:  u.hashURL(hash, mime),
			Hash: hash,
			Mime: mime,
			Size: int64(len(data)),
		},
	}, nil
}

// Upload authorizes and PUTs a prepared asset. The returned record prefers
// the URL the host reports over the derived one. A non-2xx response is a
// hard failure for this media item; retry policy belongs to the caller.
func (u *Uploader) Upload(ctx context.Context, asset *Asset) (Uploaded, error) {
	auth := builder.BuildUploadAuth(u.authKey.PublicHex(), asset.Hash, asset.Size)
	if err := auth.Sign(u.authKey.Private()); err != nil {
		return Uploaded{}, services.Wrap(services.ErrUpload, "media", "upload", "sign auth grant", err)
	}
	authJSON, err := json.Marshal(auth)
	if err != nil {
		return Uploaded{}, services.Wrap(services.ErrUpload, "media", "upload", "encode auth grant", err)
	}

	resp, err := u.http.R().
		SetContext(ctx).
		SetHeader("Authorization", "Nostr "+base64.StdEncoding.EncodeToString(authJSON)).
		SetHeader("Content-Type", asset.Mime).
		SetHeader("X-SHA-256", asset.Hash).
		SetBody(asset.Data).
		Put(u.hostURL + "/upload")
	if err != nil {
		return Uploaded{}, services.Wrap(services.ErrUpload, "media", "upload", "put to host", err)
	}
	if resp.IsError() {
		return Uploaded{}, services.Wrap(services.ErrUpload, "media", "upload",
			fmt.Sprintf("host returned %s", resp.Status()), nil)
	}

	result := asset.Uploaded
	var body struct {
		URL    string `json:"url"`
		SHA256 string `json:"sha256"`
		Size   int64  `json:"size"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err == nil && body.URL != "" {
		result.URL = body.URL
	}
	u.logger.Debug("media uploaded",
		logging.String("hash", result.Hash),
		logging.Int64("size", result.Size),
		logging.String("url", result.URL))
	return result, nil
}

func (u *Uploader) fetch(ctx context.Context, sourceURL string) ([]byte, error) {
	if sourceURL == "" {
		return nil, services.Wrap(services.ErrValidation, "media", "fetch", "source url is empty", nil)
	}
	cachePath := u.cachePath(sourceURL)
	if cachePath != "" {
		if data, err := os.ReadFile(cachePath); err == nil && len(data) > 0 {
			u.logger.Debug("media cache hit", logging.String("source", sourceURL))
			return data, nil
		}
	}

	target := sourceURL
	req := u.http.R().SetContext(ctx)
	if u.proxyURL != "" {
		target = u.proxyURL
		req.SetQueryParam("url", sourceURL)
	}
	resp, err := req.Get(target)
	if err != nil {
		return nil, services.Wrap(services.ErrUpload, "media", "fetch", sourceURL, err)
	}
	if resp.IsError() {
		return nil, services.Wrap(services.ErrUpload, "media", "fetch",
			fmt.Sprintf("%s returned %s", sourceURL, resp.Status()), nil)
	}
	data := resp.Body()
	if len(data) == 0 {
		return nil, services.Wrap(services.ErrUpload, "media", "fetch", "empty response body", nil)
	}

	if cachePath != "" {
		if err := os.MkdirAll(filepath.Dir(cachePath), 0o755); err == nil {
			if writeErr := os.WriteFile(cachePath, data, 0o644); writeErr != nil {
				u.logger.Debug("media cache write failed", logging.Error(writeErr))
			}
		}
	}
	return data, nil
}

func (u *Uploader) cachePath(sourceURL string) string {
	if u.cacheDir == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(sourceURL))
	return filepath.Join(u.cacheDir, hex.EncodeToString(sum[:]))
}

func (u *Uploader) hashURL(hash, mime string) string {
	return u.hostURL + "/" + hash + extensionForMime(mime)
}

func extensionForMime(mime string) string {
	switch {
	case strings.HasPrefix(mime, "image/jpeg"):
		return ".jpg"
	case strings.HasPrefix(mime, "image/png"):
		return ".png"
	case strings.HasPrefix(mime, "image/gif"):
		return ".gif"
	case strings.HasPrefix(mime, "image/webp"):
		return ".webp"
	case strings.HasPrefix(mime, "video/mp4"):
		return ".mp4"
	case strings.HasPrefix(mime, "video/quicktime"):
		return ".mov"
	case strings.HasPrefix(mime, "video/webm"):
		return ".webm"
	default:
		return ""
	}
}
