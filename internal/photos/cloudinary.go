package photos

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/cloudinary/cloudinary-go/v2/api/admin"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"

	"shopadmin/internal/domain/catalog"
)

var _ catalog.PhotoStorage = (*CloudinaryStorage)(nil)

// CloudinaryStorage keeps photos as Cloudinary image assets. The public ID is
// the file name without its extension, inside folder.
type CloudinaryStorage struct {
	cld    *cloudinary.Cloudinary
	folder string
}

// NewCloudinaryStorage builds a storage from a CLOUDINARY_URL style url.
func NewCloudinaryStorage(cloudinaryURL, folder string) (*CloudinaryStorage, error) {
	cld, err := cloudinary.NewFromURL(cloudinaryURL)
	if err != nil {
		return nil, fmt.Errorf("cloudinary: %w", err)
	}
	if folder == "" {
		folder = "products"
	}
	return &CloudinaryStorage{cld: cld, folder: folder}, nil
}

func (s *CloudinaryStorage) publicID(name string) (string, error) {
	if name == "" || name != filepath.Base(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return path.Join(s.folder, strings.TrimSuffix(name, filepath.Ext(name))), nil
}

func (s *CloudinaryStorage) Save(ctx context.Context, name string, r io.Reader) error {
	publicID, err := s.publicID(name)
	if err != nil {
		return err
	}

	resp, err := s.cld.Upload.Upload(ctx, r, uploader.UploadParams{
		PublicID:  publicID,
		Overwrite: api.Bool(false),
	})
	if err != nil {
		return fmt.Errorf("cloudinary upload: %w", err)
	}
	if resp.Error.Message != "" {
		return fmt.Errorf("cloudinary upload: %s", resp.Error.Message)
	}
	return nil
}

// Delete destroys the asset. Cloudinary answers "not found" for missing
// assets, which is treated as success.
func (s *CloudinaryStorage) Delete(ctx context.Context, name string) error {
	publicID, err := s.publicID(name)
	if err != nil {
		return err
	}

	resp, err := s.cld.Upload.Destroy(ctx, uploader.DestroyParams{PublicID: publicID})
	if err != nil {
		return fmt.Errorf("cloudinary destroy: %w", err)
	}
	if resp.Error.Message != "" {
		return errors.New("cloudinary destroy: " + resp.Error.Message)
	}
	return nil
}

func (s *CloudinaryStorage) Exists(ctx context.Context, name string) (bool, error) {
	publicID, err := s.publicID(name)
	if err != nil {
		return false, err
	}

	resp, err := s.cld.Admin.Asset(ctx, admin.AssetParams{PublicID: publicID})
	if err != nil {
		return false, fmt.Errorf("cloudinary asset: %w", err)
	}
	if resp.Error.Message != "" {
		if strings.Contains(strings.ToLower(resp.Error.Message), "not found") {
			return false, nil
		}
		return false, errors.New("cloudinary asset: " + resp.Error.Message)
	}
	return true, nil
}
