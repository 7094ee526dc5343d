// Package objectstore hosts generated files (chart CSVs) at public URLs.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
)

// DefaultFolder is where Baruc's uploads are grouped.
const DefaultFolder = "baruc"

var (
	ErrMissingCredentials = errors.New("cloudinary cloud name, api key and api secret must be provided")
	ErrNoURL              = errors.New("upload returned no url")
)

// Uploader stores a blob and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, name string, data []byte) (string, error)
}

// rawUploader is the part of the Cloudinary upload API the store uses.
type rawUploader interface {
	Upload(ctx context.Context, file interface{}, params uploader.UploadParams) (*uploader.UploadResult, error)
}

// Opts holds Cloudinary credentials.
type Opts struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
}

// Option configures a CloudinaryStore.
type Option func(*Opts)

// WithCredentials sets the Cloudinary account.
func WithCredentials(cloudName, apiKey, apiSecret string) Option {
	return func(o *Opts) {
		o.CloudName = cloudName
		o.APIKey = apiKey
		o.APISecret = apiSecret
	}
}

// WithFolder overrides DefaultFolder.
func WithFolder(folder string) Option {
	return func(o *Opts) {
		o.Folder = folder
	}
}

// CloudinaryStore uploads raw files to Cloudinary.
type CloudinaryStore struct {
	up     rawUploader
	folder string
}

var _ Uploader = (*CloudinaryStore)(nil)

// NewCloudinaryStore builds a store from the given credentials.
func NewCloudinaryStore(opts ...Option) (*CloudinaryStore, error) {
	cfg := Opts{Folder: DefaultFolder}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.CloudName == "" || cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, ErrMissingCredentials
	}
	cld, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("failed to create cloudinary client: %w", err)
	}
	return &CloudinaryStore{up: &cld.Upload, folder: cfg.Folder}, nil
}

// Upload stores data as a raw resource under name. Raw public ids keep their
// extension.
func (s *CloudinaryStore) Upload(ctx context.Context, name string, data []byte) (string, error) {
	params := uploader.UploadParams{
		PublicID:     name,
		Folder:       s.folder,
		ResourceType: "raw",
		Overwrite:    api.Bool(true),
	}
	res, err := s.up.Upload(ctx, bytes.NewReader(data), params)
	if err != nil {
		slog.Error("CloudinaryStore.Upload: upload failed", "error", err, "name", name)
		return "", fmt.Errorf("failed to upload %s: %w", name, err)
	}
	if res == nil {
		return "", fmt.Errorf("%w: %s", ErrNoURL, name)
	}
	if msg := strings.TrimSpace(res.Error.Message); msg != "" {
		slog.Error("CloudinaryStore.Upload: upload rejected", "error", msg, "name", name)
		return "", fmt.Errorf("failed to upload %s: %s", name, msg)
	}
	url := res.SecureURL
	if url == "" {
		url = res.URL
	}
	if url == "" {
		return "", fmt.Errorf("%w: %s", ErrNoURL, name)
	}
	slog.Info("CloudinaryStore.Upload: uploaded", "name", name, "bytes", len(data), "url", url)
	return url, nil
}
