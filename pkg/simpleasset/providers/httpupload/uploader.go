// Package httpupload pushes cached bytes to a provider's HTTP ingest endpoint
// as a multipart form and reads the provider's asset id from the JSON reply.
package httpupload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/tendant/simple-asset/pkg/simpleasset"
	"github.com/tendant/simple-asset/pkg/simpleasset/internal/httpx"
)

const (
	defaultFileField = "file"
	defaultIDField   = "id"
)

// Config describes one provider endpoint.
type Config struct {
	Provider   simpleasset.ProviderID
	Endpoint   string
	Token      string
	FileField  string
	IDField    string // dotted path into the JSON reply, e.g. "data.asset_id"
	MediaTypes []simpleasset.MediaType
	MaxRetries int
	Backoff    time.Duration
}

// Uploader implements simpleasset.ProviderUploader over HTTP.
type Uploader struct {
	cfg     Config
	idPath  []string
	accepts map[simpleasset.MediaType]struct{}
	client  *http.Client
	policy  httpx.Policy
	logger  *slog.Logger
}

// Option configures an Uploader
type Option func(*Uploader)

// WithHTTPClient sets the client used for uploads
func WithHTTPClient(client *http.Client) Option {
	return func(u *Uploader) {
		if client != nil {
			u.client = client
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(u *Uploader) {
		if logger != nil {
			u.logger = logger
		}
	}
}

// New validates cfg and builds an uploader.
func New(cfg Config, opts ...Option) (*Uploader, error) {
	if err := cfg.Provider.Validate(); err != nil {
		return nil, err
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required for provider %s", cfg.Provider)
	}
	if cfg.FileField == "" {
		cfg.FileField = defaultFileField
	}
	if cfg.IDField == "" {
		cfg.IDField = defaultIDField
	}

	policy := httpx.DefaultPolicy()
	if cfg.MaxRetries > 0 {
		policy.MaxRetries = cfg.MaxRetries
	}
	if cfg.Backoff > 0 {
		policy.Backoff = cfg.Backoff
	}

	u := &Uploader{
		cfg:     cfg,
		idPath:  strings.Split(cfg.IDField, "."),
		accepts: make(map[simpleasset.MediaType]struct{}, len(cfg.MediaTypes)),
		client:  http.DefaultClient,
		policy:  policy,
		logger:  slog.Default(),
	}
	for _, m := range cfg.MediaTypes {
		u.accepts[m] = struct{}{}
	}
	for _, opt := range opts {
		opt(u)
	}
	u.logger = u.logger.With("component", "httpupload", "provider", cfg.Provider)
	return u, nil
}

var _ simpleasset.ProviderUploader = (*Uploader)(nil)

func (u *Uploader) Provider() simpleasset.ProviderID { return u.cfg.Provider }

// Accepts reports whether the endpoint takes mediaType. An uploader configured
// without media types accepts everything.
func (u *Uploader) Accepts(mediaType simpleasset.MediaType) bool {
	if len(u.accepts) == 0 {
		return true
	}
	_, ok := u.accepts[mediaType]
	return ok
}

// Upload posts the bytes and returns the provider's asset id. Auth and quota
// refusals map to ErrProviderRejectedUpload and 415 to ErrUnsupportedMedia;
// neither is retried.
func (u *Uploader) Upload(ctx context.Context, req simpleasset.UploadRequest) (string, error) {
	var id string
	err := httpx.Do(ctx, u.policy, u.logger, "provider upload", func(ctx context.Context) error {
		got, err := u.uploadOnce(ctx, req)
		id = got
		return err
	})
	if err != nil {
		var se *httpx.StatusError
		if errors.As(err, &se) {
			return "", &simpleasset.ProviderError{Provider: u.cfg.Provider, StatusCode: se.StatusCode, Body: se.Body, Err: err}
		}
		return "", err
	}
	return id, nil
}

func (u *Uploader) uploadOnce(ctx context.Context, req simpleasset.UploadRequest) (string, error) {
	rc, err := req.Open(ctx)
	if err != nil {
		return "", err
	}

	pr, pw := io.Pipe()
	defer pr.Close()
	mw := multipart.NewWriter(pw)
	go func() {
		defer rc.Close()
		pw.CloseWithError(writeForm(mw, u.cfg.FileField, req, rc))
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u.cfg.Endpoint, pr)
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	httpReq.Header.Set("Accept", "application/json")
	if u.cfg.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+u.cfg.Token)
	}

	resp, err := u.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		se := httpx.NewStatusError(resp)
		switch se.StatusCode {
		case http.StatusUnauthorized, http.StatusPaymentRequired, http.StatusForbidden, http.StatusTooManyRequests:
			return "", &simpleasset.ProviderError{Provider: u.cfg.Provider, StatusCode: se.StatusCode, Body: se.Body, Err: simpleasset.ErrProviderRejectedUpload}
		case http.StatusUnsupportedMediaType:
			return "", &simpleasset.ProviderError{Provider: u.cfg.Provider, StatusCode: se.StatusCode, Body: se.Body, Err: simpleasset.ErrUnsupportedMedia}
		}
		return "", se
	}

	dec := json.NewDecoder(io.LimitReader(resp.Body, 1<<20))
	dec.UseNumber()
	var body map[string]interface{}
	if err := dec.Decode(&body); err != nil {
		return "", &simpleasset.ProviderError{Provider: u.cfg.Provider, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	id, err := lookupID(body, u.idPath)
	if err != nil {
		return "", &simpleasset.ProviderError{Provider: u.cfg.Provider, StatusCode: resp.StatusCode, Err: err}
	}
	u.logger.DebugContext(ctx, "upload accepted", "asset_id", req.AssetID, "provider_asset_id", id)
	return id, nil
}

func writeForm(mw *multipart.Writer, field string, req simpleasset.UploadRequest, r io.Reader) error {
	if err := mw.WriteField("asset_id", req.AssetID.String()); err != nil {
		return err
	}
	if err := mw.WriteField("media_type", string(req.MediaType)); err != nil {
		return err
	}
	mimeType := req.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, req.AssetID.String()))
	h.Set("Content-Type", mimeType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, r); err != nil {
		return err
	}
	return mw.Close()
}

// lookupID walks a dotted path through the decoded reply.
func lookupID(body map[string]interface{}, path []string) (string, error) {
	var cur interface{} = body
	for _, key := range path {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return "", fmt.Errorf("response field %q is not an object", key)
		}
		if cur, ok = m[key]; !ok {
			return "", fmt.Errorf("response has no field %q", strings.Join(path, "."))
		}
	}
	switch v := cur.(type) {
	case string:
		if v == "" {
			return "", fmt.Errorf("response field %q is empty", strings.Join(path, "."))
		}
		return v, nil
	case json.Number:
		return v.String(), nil
	}
	return "", fmt.Errorf("response field %q has unexpected type %T", strings.Join(path, "."), cur)
}
