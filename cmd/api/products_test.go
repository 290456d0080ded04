package main

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"shopadmin/internal/domain/catalog"
	"shopadmin/internal/domain/storage"
	"shopadmin/internal/photos"
	"shopadmin/internal/ratelimiter"
)

const (
	testUser = "admin"
	testPass = "s3cret"
)

var productCols = []string{
	"product_id", "name", "product_number", "color", "standard_cost", "list_price", "size", "weight",
	"product_category_id", "product_model_id", "sell_start_date", "sell_end_date", "discontinued_date",
	"thumbnail_photo_file_name", "modified_date",
}

type testApp struct {
	app      *application
	mock     sqlmock.Sqlmock
	photoDir string
	handler  http.Handler
}

func newTestApplication(t *testing.T) *testApp {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})

	hash, err := bcrypt.GenerateFromPassword([]byte(testPass), bcrypt.MinCost)
	require.NoError(t, err)

	photoDir := t.TempDir()
	photoStore, err := photos.NewLocalStorage(photoDir)
	require.NoError(t, err)

	logger := zaptest.NewLogger(t).Sugar()
	store := storage.NewContainer(db)

	app := &application{
		config: config{
			env:  "test",
			auth: authConfig{basic: basicConfig{user: testUser, passHash: string(hash)}},
		},
		store:   store,
		catalog: catalog.NewService(store.Catalog, photoStore, logger),
		logger:  logger,
	}
	return &testApp{app: app, mock: mock, photoDir: photoDir, handler: app.mount()}
}

func (ta *testApp) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	req.SetBasicAuth(testUser, testPass)
	rr := httptest.NewRecorder()
	ta.handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

func productViewRow(id int64, name string, photo any) []driver.Value {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	return []driver.Value{
		id, name, "P-1", nil, "1.00", "9.99", nil, nil,
		int64(1), nil, ts, nil, nil,
		photo, ts,
	}
}

func multipartBody(t *testing.T, fields map[string]string, photoName string, photo []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if photo != nil {
		fw, err := mw.CreateFormFile("photo", photoName)
		require.NoError(t, err)
		_, err = fw.Write(photo)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return body, mw.FormDataContentType()
}

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR fake png body")

func TestBasicAuthRequired(t *testing.T) {
	ta := newTestApplication(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/catalog/products", nil)
	rr := httptest.NewRecorder()
	ta.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("WWW-Authenticate"))

	req = httptest.NewRequest(http.MethodGet, "/v1/catalog/products", nil)
	req.SetBasicAuth(testUser, "wrong")
	rr = httptest.NewRecorder()
	ta.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestListProductsHandler(t *testing.T) {
	ta := newTestApplication(t)

	cols := append(append([]string{}, productCols...), "category_name", "number_of_orders", "total_count")
	ta.mock.ExpectQuery(regexp.QuoteMeta("LEFT JOIN sales_order_detail")).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(append(productViewRow(1, "Frame", nil), "Bikes", 2, 1)...))

	rr := ta.do(t, httptest.NewRequest(http.MethodGet, "/v1/catalog/products", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	data := decodeBody(t, rr)["data"].(map[string]any)
	products := data["products"].([]any)
	require.Len(t, products, 1)

	first := products[0].(map[string]any)
	assert.Equal(t, "Frame", first["name"])
	assert.Equal(t, "Bikes", first["category_name"])
	assert.Equal(t, float64(2), first["number_of_orders"])
	assert.Equal(t, float64(1), data["pagination"].(map[string]any)["total"])
}

func TestGetProductHandler(t *testing.T) {
	t.Run("bad id", func(t *testing.T) {
		ta := newTestApplication(t)
		rr := ta.do(t, httptest.NewRequest(http.MethodGet, "/v1/catalog/products/abc", nil))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("not found", func(t *testing.T) {
		ta := newTestApplication(t)
		cols := append(append([]string{}, productCols...), "category_name", "model_name")
		ta.mock.ExpectQuery(regexp.QuoteMeta("WHERE p.product_id = $1")).
			WithArgs(int64(42)).
			WillReturnRows(sqlmock.NewRows(cols))

		rr := ta.do(t, httptest.NewRequest(http.MethodGet, "/v1/catalog/products/42", nil))
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestCreateProductHandler(t *testing.T) {
	t.Run("with photo", func(t *testing.T) {
		ta := newTestApplication(t)
		ta.mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO product (")).
			WillReturnRows(sqlmock.NewRows([]string{"product_id"}).AddRow(int64(7)))

		body, ct := multipartBody(t, map[string]string{
			"name":        "Widget",
			"list_price":  "9.99",
			"category_id": "1",
		}, "front.PNG", pngBytes)
		req := httptest.NewRequest(http.MethodPost, "/v1/catalog/products", body)
		req.Header.Set("Content-Type", ct)

		rr := ta.do(t, req)
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
		assert.Equal(t, "/v1/catalog/products/7", rr.Header().Get("Location"))

		entries, err := os.ReadDir(ta.photoDir)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.True(t, strings.HasSuffix(entries[0].Name(), ".png"))
	})

	t.Run("invalid fields echo input", func(t *testing.T) {
		ta := newTestApplication(t)

		body, ct := multipartBody(t, map[string]string{
			"name":       "Widget",
			"list_price": "-1",
			"size":       "XXXXXXL",
		}, "", nil)
		req := httptest.NewRequest(http.MethodPost, "/v1/catalog/products", body)
		req.Header.Set("Content-Type", ct)

		rr := ta.do(t, req)
		require.Equal(t, http.StatusUnprocessableEntity, rr.Code)

		resp := decodeBody(t, rr)
		fields := resp["fields"].(map[string]any)
		assert.Contains(t, fields, "list_price")
		assert.Contains(t, fields, "size")
		assert.Equal(t, "Widget", resp["input"].(map[string]any)["name"])
	})

	t.Run("unparsable price", func(t *testing.T) {
		ta := newTestApplication(t)

		req := httptest.NewRequest(http.MethodPost, "/v1/catalog/products",
			strings.NewReader("name=Widget&list_price=cheap"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		rr := ta.do(t, req)
		require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
		assert.Contains(t, decodeBody(t, rr)["fields"], "list_price")
	})

	t.Run("rejects non-image photo", func(t *testing.T) {
		ta := newTestApplication(t)

		body, ct := multipartBody(t, map[string]string{"name": "Widget"}, "notes.png", []byte("plain text, not an image"))
		req := httptest.NewRequest(http.MethodPost, "/v1/catalog/products", body)
		req.Header.Set("Content-Type", ct)

		rr := ta.do(t, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("rejects photo over 3MB", func(t *testing.T) {
		ta := newTestApplication(t)

		photo := append(append([]byte{}, pngBytes...), make([]byte, maxPhotoBytes+512*1024)...)
		body, ct := multipartBody(t, map[string]string{"name": "Widget"}, "big.png", photo)
		req := httptest.NewRequest(http.MethodPost, "/v1/catalog/products", body)
		req.Header.Set("Content-Type", ct)

		rr := ta.do(t, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)

		entries, err := os.ReadDir(ta.photoDir)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("unparsable sell end date", func(t *testing.T) {
		ta := newTestApplication(t)

		req := httptest.NewRequest(http.MethodPost, "/v1/catalog/products",
			strings.NewReader("name=Widget&list_price=5&sell_end_date=next+week"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		rr := ta.do(t, req)
		require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
		assert.Contains(t, decodeBody(t, rr)["fields"], "sell_end_date")
	})
}

func TestUpdateProductHandler_FormIDMismatch(t *testing.T) {
	ta := newTestApplication(t)

	body, ct := multipartBody(t, map[string]string{"product_id": "8", "name": "Frame"}, "", nil)
	req := httptest.NewRequest(http.MethodPut, "/v1/catalog/products/7", body)
	req.Header.Set("Content-Type", ct)

	rr := ta.do(t, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestUpdateProductHandler_WriteConflict(t *testing.T) {
	ta := newTestApplication(t)

	ta.mock.ExpectQuery(regexp.QuoteMeta("FROM product p WHERE p.product_id = $1")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(productCols).AddRow(productViewRow(7, "Frame", nil)...))
	ta.mock.ExpectExec(regexp.QuoteMeta("UPDATE product")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	ta.mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS(")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	req := httptest.NewRequest(http.MethodPut, "/v1/catalog/products/7", strings.NewReader("name=Renamed"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rr := ta.do(t, req)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestDeleteHandlers(t *testing.T) {
	viewCols := append(append([]string{}, productCols...), "category_name", "model_name")
	countQ := regexp.QuoteMeta("SELECT COUNT(*) FROM sales_order_detail WHERE product_id = $1")

	t.Run("preview refused when ordered", func(t *testing.T) {
		ta := newTestApplication(t)
		ta.mock.ExpectQuery(regexp.QuoteMeta("LEFT JOIN product_model m")).
			WithArgs(int64(7)).
			WillReturnRows(sqlmock.NewRows(viewCols).AddRow(append(productViewRow(7, "Frame", nil), "Bikes", nil)...))
		ta.mock.ExpectQuery(countQ).WithArgs(int64(7)).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

		rr := ta.do(t, httptest.NewRequest(http.MethodGet, "/v1/catalog/products/7/delete", nil))
		require.Equal(t, http.StatusConflict, rr.Code)
		assert.Contains(t, decodeBody(t, rr)["message"], "cannot be deleted because there are associated orders")
	})

	t.Run("confirm removes product and photo", func(t *testing.T) {
		ta := newTestApplication(t)
		require.NoError(t, os.WriteFile(ta.photoDir+"/old.png", pngBytes, 0o644))

		ta.mock.ExpectQuery(regexp.QuoteMeta("FROM product p WHERE p.product_id = $1")).
			WithArgs(int64(7)).
			WillReturnRows(sqlmock.NewRows(productCols).AddRow(productViewRow(7, "Frame", "old.png")...))
		ta.mock.ExpectQuery(countQ).WithArgs(int64(7)).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		ta.mock.ExpectExec(regexp.QuoteMeta("DELETE FROM product WHERE product_id = $1;")).
			WithArgs(int64(7)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		rr := ta.do(t, httptest.NewRequest(http.MethodDelete, "/v1/catalog/products/7", nil))
		require.Equal(t, http.StatusOK, rr.Code)

		_, err := os.Stat(ta.photoDir + "/old.png")
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("confirm on missing id succeeds", func(t *testing.T) {
		ta := newTestApplication(t)
		ta.mock.ExpectQuery(regexp.QuoteMeta("FROM product p WHERE p.product_id = $1")).
			WithArgs(int64(9)).
			WillReturnRows(sqlmock.NewRows(productCols))

		rr := ta.do(t, httptest.NewRequest(http.MethodDelete, "/v1/catalog/products/9", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
	})
}

func TestRateLimiterMiddleware(t *testing.T) {
	ta := newTestApplication(t)
	ta.app.config.rateLimiter = ratelimiter.Config{RequestsPerTimeFrame: 1, TimeFrame: time.Minute, Enabled: true}
	ta.app.rateLimiter = ratelimiter.NewFixedWindowLimiter(1, time.Minute)

	ta.mock.ExpectQuery(regexp.QuoteMeta("FROM product_category")).
		WillReturnRows(sqlmock.NewRows([]string{"product_category_id", "name"}))

	rr := ta.do(t, httptest.NewRequest(http.MethodGet, "/v1/catalog/categories", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = ta.do(t, httptest.NewRequest(http.MethodGet, "/v1/catalog/categories", nil))
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))
}

func TestHealthCheckHandler(t *testing.T) {
	ta := newTestApplication(t)
	ta.mock.ExpectPing()

	rr := ta.do(t, httptest.NewRequest(http.MethodGet, "/v1/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", decodeBody(t, rr)["data"].(map[string]any)["status"])
}

func TestReadProductInput_OptionalFields(t *testing.T) {
	t.Run("blank optional fields stay nil", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("name=Frame&list_price=10&standard_cost=&weight="))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		in, fieldErrs := readProductInput(req)
		assert.Empty(t, fieldErrs)
		assert.Nil(t, in.StandardCost)
		assert.Nil(t, in.Weight)
		assert.Nil(t, in.Color)
		assert.Nil(t, in.SellEndDate)
	})

	t.Run("dates and costs parse", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(
			"name=Frame&standard_cost=4.25&sell_end_date=2025-06-30&discontinued_date=2025-07-01T00:00:00Z"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		in, fieldErrs := readProductInput(req)
		assert.Empty(t, fieldErrs)
		require.NotNil(t, in.StandardCost)
		assert.Equal(t, "4.25", in.StandardCost.String())
		require.NotNil(t, in.SellEndDate)
		assert.Equal(t, time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC), *in.SellEndDate)
		require.NotNil(t, in.DiscontinuedDate)
		assert.Equal(t, time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC), *in.DiscontinuedDate)
	})
}
