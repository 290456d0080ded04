package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"shopadmin/internal/domain/catalog"
	"shopadmin/internal/params"
)

const maxPhotoBytes = 3 * 1024 * 1024 // 3MB

var allowedPhotoTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/gif":  true,
}

// helper: sniff first 512 bytes and reset reader
func sniffMIME(file multipart.File) (string, error) {
	buf := make([]byte, 512)
	n, err := file.Read(buf)
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read: %w", err)
	}
	mime := http.DetectContentType(buf[:n])

	// reset so later reads start from byte 0
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("seek reset: %w", err)
	}
	return mime, nil
}

func productIDParam(r *http.Request) (int64, error) {
	idStr := chi.URLParam(r, "productID")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid product ID: %s", idStr)
	}
	return id, nil
}

// catalogErrorResponse maps catalog errors to responses.
func (app *application) catalogErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	var verr *catalog.ValidationError
	var cerr *catalog.ConflictError
	switch {
	case errors.As(err, &verr):
		app.validationErrorResponse(w, r, verr)
	case errors.As(err, &cerr):
		app.conflictResponse(w, r, errors.New(cerr.Message()))
	case errors.Is(err, catalog.ErrNotFound):
		app.notFoundResponse(w, r, err)
	case errors.Is(err, catalog.ErrWriteConflict):
		app.conflictResponse(w, r, err)
	default:
		app.internalServerError(w, r, err)
	}
}

// ---------- Reads ----------

// GET /v1/catalog/products?limit=&page=
func (app *application) listProductsHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	pg := params.ParsePagination(r.URL.Query())

	list, total, err := app.catalog.List(ctx, pg.CatalogPage())
	if err != nil {
		app.internalServerError(w, r, fmt.Errorf("list products: %w", err))
		return
	}
	if list == nil {
		list = []*catalog.ProductView{}
	}
	pg.ComputeMeta(total)

	app.jsonResponse(w, http.StatusOK, map[string]any{
		"products":   list,
		"pagination": pg,
	})
}

// GET /v1/catalog/products/{productID}
func (app *application) getProductHandler(w http.ResponseWriter, r *http.Request) {
	id, err := productIDParam(r)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	product, err := app.catalog.Detail(ctx, id)
	if err != nil {
		app.catalogErrorResponse(w, r, err)
		return
	}
	app.jsonResponse(w, http.StatusOK, product)
}

// GET /v1/catalog/products/{productID}/edit
func (app *application) editProductHandler(w http.ResponseWriter, r *http.Request) {
	id, err := productIDParam(r)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	product, err := app.catalog.EditForm(ctx, id)
	if err != nil {
		app.catalogErrorResponse(w, r, err)
		return
	}
	categories, err := app.catalog.Categories(ctx)
	if err != nil {
		app.internalServerError(w, r, err)
		return
	}
	models, err := app.catalog.Models(ctx)
	if err != nil {
		app.internalServerError(w, r, err)
		return
	}

	app.jsonResponse(w, http.StatusOK, map[string]any{
		"product":    product,
		"categories": categories,
		"models":     models,
	})
}

// GET /v1/catalog/categories
func (app *application) listCategoriesHandler(w http.ResponseWriter, r *http.Request) {
	categories, err := app.catalog.Categories(r.Context())
	if err != nil {
		app.internalServerError(w, r, err)
		return
	}
	if categories == nil {
		categories = []*catalog.Category{}
	}
	app.jsonResponse(w, http.StatusOK, categories)
}

// GET /v1/catalog/models
func (app *application) listModelsHandler(w http.ResponseWriter, r *http.Request) {
	models, err := app.catalog.Models(r.Context())
	if err != nil {
		app.internalServerError(w, r, err)
		return
	}
	if models == nil {
		models = []*catalog.Model{}
	}
	app.jsonResponse(w, http.StatusOK, models)
}

// ---------- Writes ----------

// POST /v1/catalog/products (multipart/form-data, optional "photo" part)
func (app *application) createProductHandler(w http.ResponseWriter, r *http.Request) {
	if err := parseProductForm(w, r); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	in, fieldErrs := readProductInput(r)
	if len(fieldErrs) > 0 {
		app.validationErrorResponse(w, r, &catalog.ValidationError{Input: in, Fields: fieldErrs})
		return
	}

	photo, closePhoto, err := readPhoto(r)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}
	defer closePhoto()

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	id, err := app.catalog.Create(ctx, in, photo)
	if err != nil {
		app.catalogErrorResponse(w, r, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/v1/catalog/products/%d", id))
	app.jsonResponse(w, http.StatusCreated, map[string]any{
		"message":    "Product created successfully",
		"product_id": id,
	})
}

// PUT /v1/catalog/products/{productID} (multipart/form-data, optional "photo" part)
func (app *application) updateProductHandler(w http.ResponseWriter, r *http.Request) {
	id, err := productIDParam(r)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	if err := parseProductForm(w, r); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	// a form for another product is treated as a missing product
	if formID := strings.TrimSpace(r.FormValue("product_id")); formID != "" && formID != strconv.FormatInt(id, 10) {
		app.notFoundResponse(w, r, fmt.Errorf("form product_id %s does not match path id %d", formID, id))
		return
	}

	in, fieldErrs := readProductInput(r)
	if len(fieldErrs) > 0 {
		app.validationErrorResponse(w, r, &catalog.ValidationError{Input: in, Fields: fieldErrs})
		return
	}

	photo, closePhoto, err := readPhoto(r)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}
	defer closePhoto()

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	if err := app.catalog.Update(ctx, id, in, photo); err != nil {
		app.catalogErrorResponse(w, r, err)
		return
	}

	updated, err := app.catalog.Detail(ctx, id)
	if err != nil {
		app.catalogErrorResponse(w, r, err)
		return
	}

	app.jsonResponse(w, http.StatusOK, map[string]any{
		"message": "Product updated successfully",
		"product": updated,
	})
}

// GET /v1/catalog/products/{productID}/delete
func (app *application) deletePreviewHandler(w http.ResponseWriter, r *http.Request) {
	id, err := productIDParam(r)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	preview, err := app.catalog.DeletePreview(ctx, id)
	if err != nil {
		app.catalogErrorResponse(w, r, err)
		return
	}
	app.jsonResponse(w, http.StatusOK, preview)
}

// DELETE /v1/catalog/products/{productID}
func (app *application) deleteProductHandler(w http.ResponseWriter, r *http.Request) {
	id, err := productIDParam(r)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if err := app.catalog.DeleteConfirm(ctx, id); err != nil {
		app.catalogErrorResponse(w, r, err)
		return
	}

	app.jsonResponse(w, http.StatusOK, map[string]string{
		"message": "Product deleted successfully",
	})
}

// ---------- form helpers ----------

// parseProductForm accepts multipart and urlencoded bodies.
func parseProductForm(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxPhotoBytes+1<<20)
	err := r.ParseMultipartForm(maxPhotoBytes)
	if errors.Is(err, http.ErrNotMultipart) {
		err = r.ParseForm()
	}
	if err != nil {
		return fmt.Errorf("failed to parse form: %w", err)
	}
	return nil
}

// readProductInput collects the editable fields. Numbers and dates that do
// not parse are reported per field; the rest of the input is still returned.
// Optional fields left blank stay nil so an update keeps their stored value.
func readProductInput(r *http.Request) (catalog.ProductInput, map[string]string) {
	fieldErrs := map[string]string{}
	in := catalog.ProductInput{
		Name:          strings.TrimSpace(r.FormValue("name")),
		ProductNumber: strings.TrimSpace(r.FormValue("product_number")),
		Color:         optionalString(r.FormValue("color")),
		Size:          optionalString(r.FormValue("size")),
	}

	var err error
	if in.StandardCost, err = optionalDecimal(r.FormValue("standard_cost")); err != nil {
		fieldErrs["standard_cost"] = "must be a number"
	}
	if in.ListPrice, err = parseDecimal(r.FormValue("list_price")); err != nil {
		fieldErrs["list_price"] = "must be a number"
	}
	if in.Weight, err = optionalDecimal(r.FormValue("weight")); err != nil {
		fieldErrs["weight"] = "must be a number"
	}
	if in.SellEndDate, err = optionalDate(r.FormValue("sell_end_date")); err != nil {
		fieldErrs["sell_end_date"] = "must be a date (YYYY-MM-DD)"
	}
	if in.DiscontinuedDate, err = optionalDate(r.FormValue("discontinued_date")); err != nil {
		fieldErrs["discontinued_date"] = "must be a date (YYYY-MM-DD)"
	}
	if in.CategoryID, err = optionalID(r.FormValue("category_id")); err != nil {
		fieldErrs["category_id"] = "must be an id"
	}
	if in.ModelID, err = optionalID(r.FormValue("model_id")); err != nil {
		fieldErrs["model_id"] = "must be an id"
	}
	return in, fieldErrs
}

// readPhoto returns nil when no photo (or an empty one) was sent.
func readPhoto(r *http.Request) (*catalog.Photo, func(), error) {
	noop := func() {}
	if r.MultipartForm == nil {
		return nil, noop, nil
	}

	file, header, err := r.FormFile("photo")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, noop, nil
	}
	if err != nil {
		return nil, noop, fmt.Errorf("invalid photo part: %w", err)
	}
	if header.Size == 0 {
		file.Close()
		return nil, noop, nil
	}
	if header.Size > maxPhotoBytes {
		file.Close()
		return nil, noop, fmt.Errorf("photo must be at most %d bytes", maxPhotoBytes)
	}

	// sniff actual MIME from bytes (don't trust Content-Type header)
	mime, err := sniffMIME(file)
	if err != nil {
		file.Close()
		return nil, noop, fmt.Errorf("sniff mime: %w", err)
	}
	if !allowedPhotoTypes[mime] {
		file.Close()
		return nil, noop, fmt.Errorf("invalid image type: %s", mime)
	}

	return &catalog.Photo{Filename: header.Filename, Content: file}, func() { file.Close() }, nil
}

func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func parseDecimal(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func optionalDecimal(s string) (*decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// optionalDate accepts a calendar date or an RFC 3339 timestamp.
func optionalDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		if t, err = time.Parse(time.RFC3339, s); err != nil {
			return nil, err
		}
	}
	return &t, nil
}

func optionalID(s string) (*int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, err
	}
	return &id, nil
}
