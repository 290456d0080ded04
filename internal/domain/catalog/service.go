package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PhotoStorage is where uploaded product photos live. Delete must not fail
// when the file is already gone.
type PhotoStorage interface {
	Save(ctx context.Context, name string, r io.Reader) error
	Delete(ctx context.Context, name string) error
	Exists(ctx context.Context, name string) (bool, error)
}

// ListingCache keeps the rendered product listing between writes.
type ListingCache interface {
	GetListing(ctx context.Context, page Page) ([]*ProductView, int, bool)
	SetListing(ctx context.Context, page Page, list []*ProductView, total int)
	Invalidate(ctx context.Context)
}

// TxFunc runs fn with a Store bound to a single transaction.
type TxFunc func(ctx context.Context, fn func(Store) error) error

type Service struct {
	store    Store
	inTx     TxFunc
	photos   PhotoStorage
	cache    ListingCache
	validate *validator.Validate
	logger   *zap.SugaredLogger
	now      func() time.Time
}

type ServiceOption func(*Service)

// WithListingCache enables caching of the product listing.
func WithListingCache(c ListingCache) ServiceOption {
	return func(s *Service) {
		s.cache = c
	}
}

// WithTx makes the delete guard and the delete run in one transaction.
func WithTx(run TxFunc) ServiceOption {
	return func(s *Service) {
		s.inTx = run
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
	}
}

func NewService(store Store, photos PhotoStorage, logger *zap.SugaredLogger, opts ...ServiceOption) *Service {
	s := &Service{
		store:    store,
		photos:   photos,
		cache:    nopCache{},
		validate: newValidator(),
		logger:   logger,
		now:      time.Now,
	}
	s.inTx = func(_ context.Context, fn func(Store) error) error { return fn(s.store) }
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// decimals validate as float64 so gte/lte tags apply
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// NewPhotoFileName returns a collision-resistant name that keeps the
// extension of the uploaded file.
func NewPhotoFileName(original string) string {
	return uuid.NewString() + strings.ToLower(filepath.Ext(original))
}

// ------------------------------------
// Reads
// ------------------------------------

// List returns the product listing with category names and order counts.
// A cached listing only supplies the product and category columns; order
// counts are always read from the store because order lines are written
// elsewhere.
func (s *Service) List(ctx context.Context, page Page) ([]*ProductView, int, error) {
	if list, total, ok := s.cache.GetListing(ctx, page); ok {
		if err := s.refreshOrderCounts(ctx, list); err != nil {
			return nil, 0, err
		}
		return list, total, nil
	}

	list, total, err := s.store.ListProductViews(ctx, page)
	if err != nil {
		return nil, 0, err
	}
	s.cache.SetListing(ctx, page, list, total)
	return list, total, nil
}

func (s *Service) refreshOrderCounts(ctx context.Context, list []*ProductView) error {
	if len(list) == 0 {
		return nil
	}
	ids := make([]int64, len(list))
	for i, v := range list {
		ids[i] = v.ID
	}
	counts, err := s.store.CountOrderLinesByProduct(ctx, ids)
	if err != nil {
		return err
	}
	for _, v := range list {
		v.NumberOfOrders = counts[v.ID]
	}
	return nil
}

// Detail returns a product with its category and model names.
func (s *Service) Detail(ctx context.Context, id int64) (*ProductView, error) {
	return s.store.GetProductView(ctx, id)
}

// EditForm is Detail plus the live order count.
func (s *Service) EditForm(ctx context.Context, id int64) (*ProductView, error) {
	v, err := s.store.GetProductView(ctx, id)
	if err != nil {
		return nil, err
	}
	n, err := s.store.CountOrderLines(ctx, id)
	if err != nil {
		return nil, err
	}
	v.NumberOfOrders = n
	return v, nil
}

func (s *Service) Categories(ctx context.Context) ([]*Category, error) {
	return s.store.ListCategories(ctx)
}

func (s *Service) Models(ctx context.Context) ([]*Model, error) {
	return s.store.ListModels(ctx)
}

// ------------------------------------
// Writes
// ------------------------------------

// Create stores the photo (if any) and inserts the product. It returns the
// new product id.
func (s *Service) Create(ctx context.Context, in ProductInput, photo *Photo) (int64, error) {
	if err := s.validateInput(in); err != nil {
		return 0, err
	}

	now := s.now()
	p := &Product{SellStartDate: now, ModifiedDate: now}
	s.applyInput(p, in, now)

	var saved string
	if photo != nil {
		name, err := s.savePhoto(ctx, photo)
		if err != nil {
			return 0, err
		}
		saved = name
		p.ThumbnailPhotoFileName = &saved
	}

	created, err := s.store.CreateProduct(ctx, p)
	if err != nil {
		if saved != "" {
			s.removePhoto(ctx, saved)
		}
		if verr := referenceValidationError(in, err); verr != nil {
			return 0, verr
		}
		return 0, err
	}

	s.cache.Invalidate(ctx)
	s.logger.Infow("product created", "product_id", created.ID, "photo", saved)
	return created.ID, nil
}

// Update applies the submitted fields to an existing product and replaces its
// photo when a new one is supplied. The previous photo is removed only after
// the record points at the new one.
func (s *Service) Update(ctx context.Context, id int64, in ProductInput, photo *Photo) error {
	if err := s.validateInput(in); err != nil {
		return err
	}

	p, err := s.store.GetProductByID(ctx, id)
	if err != nil {
		return err
	}
	token := p.ModifiedDate

	now := s.now()
	s.applyInput(p, in, now)
	p.ModifiedDate = now

	var previous, saved string
	if p.ThumbnailPhotoFileName != nil {
		previous = *p.ThumbnailPhotoFileName
	}
	if photo != nil {
		name, err := s.savePhoto(ctx, photo)
		if err != nil {
			return err
		}
		saved = name
		p.ThumbnailPhotoFileName = &saved
	}

	if err := s.store.UpdateProduct(ctx, p, token); err != nil {
		if saved != "" {
			s.removePhoto(ctx, saved)
		}
		if errors.Is(err, ErrWriteConflict) {
			exists, exErr := s.store.ProductExists(ctx, id)
			if exErr != nil {
				return fmt.Errorf("recheck product %d: %w", id, exErr)
			}
			if !exists {
				return ErrNotFound
			}
			return err
		}
		if verr := referenceValidationError(in, err); verr != nil {
			return verr
		}
		return err
	}

	if saved != "" && previous != "" && previous != saved {
		s.removePhoto(ctx, previous)
	}

	s.cache.Invalidate(ctx)
	s.logger.Infow("product updated", "product_id", id, "photo_replaced", saved != "")
	return nil
}

// DeletePreview is the read step of a delete. It refuses with a
// *ConflictError when order lines reference the product.
func (s *Service) DeletePreview(ctx context.Context, id int64) (*DeletePreview, error) {
	v, err := s.store.GetProductView(ctx, id)
	if err != nil {
		return nil, err
	}

	n, err := s.store.CountOrderLines(ctx, id)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		return nil, &ConflictError{ProductID: id, Orders: n}
	}

	return &DeletePreview{
		Product: *v,
		Message: "Are you sure you want to delete this product?",
	}, nil
}

// DeleteConfirm removes the product and its stored photo. Deleting an id that
// does not exist succeeds.
func (s *Service) DeleteConfirm(ctx context.Context, id int64) error {
	p, err := s.store.GetProductByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}

	var deleted bool
	err = s.inTx(ctx, func(st Store) error {
		n, err := st.CountOrderLines(ctx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return &ConflictError{ProductID: id, Orders: n}
		}

		deleted, err = st.DeleteProduct(ctx, id)
		if errors.Is(err, ErrHasOrders) {
			return &ConflictError{ProductID: id}
		}
		return err
	})
	if err != nil {
		return err
	}
	if !deleted {
		return nil
	}

	if p.ThumbnailPhotoFileName != nil && *p.ThumbnailPhotoFileName != "" {
		s.removePhoto(ctx, *p.ThumbnailPhotoFileName)
	}

	s.cache.Invalidate(ctx)
	s.logger.Infow("product deleted", "product_id", id)
	return nil
}

// ------------------------------------
// helpers
// ------------------------------------

func (s *Service) validateInput(in ProductInput) error {
	err := s.validate.Struct(in)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validate product: %w", err)
	}

	verr := &ValidationError{Input: in, Fields: make(map[string]string, len(fieldErrs))}
	for _, fe := range fieldErrs {
		verr.Fields[fe.Field()] = describeFieldError(fe)
	}
	return verr
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	}
	return "is invalid"
}

// referenceValidationError turns store-reported reference and uniqueness
// failures into a ValidationError so the form can be shown again.
func referenceValidationError(in ProductInput, err error) error {
	switch {
	case errors.Is(err, ErrInvalidReference):
		return &ValidationError{Input: in, Fields: map[string]string{
			"category_id": ErrInvalidReference.Error(),
		}}
	case errors.Is(err, ErrDuplicateProductNum):
		return &ValidationError{Input: in, Fields: map[string]string{
			"product_number": ErrDuplicateProductNum.Error(),
		}}
	}
	return nil
}

// applyInput copies the submitted fields, substituting defaults for a missing
// name or product number. Optional fields left nil keep their current value.
func (s *Service) applyInput(p *Product, in ProductInput, now time.Time) {
	p.Name = strings.TrimSpace(in.Name)
	if p.Name == "" {
		p.Name = DefaultProductName
	}
	p.ProductNumber = strings.TrimSpace(in.ProductNumber)
	if p.ProductNumber == "" {
		p.ProductNumber = fmt.Sprintf("P%d", now.UnixNano())
	}
	p.ListPrice = in.ListPrice
	p.Size = in.Size
	p.CategoryID = in.CategoryID
	p.ModelID = in.ModelID

	if in.Color != nil {
		p.Color = in.Color
	}
	if in.StandardCost != nil {
		p.StandardCost = *in.StandardCost
	}
	if in.Weight != nil {
		p.Weight = in.Weight
	}
	if in.SellEndDate != nil {
		p.SellEndDate = in.SellEndDate
	}
	if in.DiscontinuedDate != nil {
		p.DiscontinuedDate = in.DiscontinuedDate
	}
}

func (s *Service) savePhoto(ctx context.Context, photo *Photo) (string, error) {
	name := NewPhotoFileName(photo.Filename)
	if err := s.photos.Save(ctx, name, photo.Content); err != nil {
		return "", fmt.Errorf("save photo: %w", err)
	}
	return name, nil
}

// removePhoto deletes a stored photo if it is still there. Failures are
// logged, not returned.
func (s *Service) removePhoto(ctx context.Context, name string) {
	exists, err := s.photos.Exists(ctx, name)
	if err != nil {
		s.logger.Warnw("photo lookup failed", "photo", name, "err", err)
		return
	}
	if !exists {
		return
	}
	if err := s.photos.Delete(ctx, name); err != nil {
		s.logger.Warnw("photo cleanup failed", "photo", name, "err", err)
	}
}

type nopCache struct{}

func (nopCache) GetListing(context.Context, Page) ([]*ProductView, int, bool) { return nil, 0, false }
func (nopCache) SetListing(context.Context, Page, []*ProductView, int)         {}
func (nopCache) Invalidate(context.Context)                                   {}
