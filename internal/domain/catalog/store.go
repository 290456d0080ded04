package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// Postgres error codes the catalog cares about.
const (
	pgForeignKeyViolation = "23503"
	pgUniqueViolation     = "23505"
)

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the data access abstraction for the catalog domain.
// Implemented by Repository.
type Store interface {
	// Listing
	ListProductViews(ctx context.Context, page Page) ([]*ProductView, int, error)

	// Products
	GetProductView(ctx context.Context, id int64) (*ProductView, error)
	GetProductByID(ctx context.Context, id int64) (*Product, error)
	ProductExists(ctx context.Context, id int64) (bool, error)
	CreateProduct(ctx context.Context, p *Product) (*Product, error)
	UpdateProduct(ctx context.Context, p *Product, token time.Time) error
	DeleteProduct(ctx context.Context, id int64) (bool, error)

	// Order lines
	CountOrderLines(ctx context.Context, productID int64) (int, error)
	CountOrderLinesByProduct(ctx context.Context, productIDs []int64) (map[int64]int, error)

	// Reference data
	ListCategories(ctx context.Context) ([]*Category, error)
	ListModels(ctx context.Context) ([]*Model, error)
}

type Repository struct {
	db Querier
}

func NewRepository(db Querier) *Repository {
	return &Repository{db: db}
}

const productColumns = `
	p.product_id, p.name, p.product_number, p.color, p.standard_cost, p.list_price, p.size, p.weight,
	p.product_category_id, p.product_model_id, p.sell_start_date, p.sell_end_date, p.discontinued_date,
	p.thumbnail_photo_file_name, p.modified_date`

func productScanTargets(p *Product) []any {
	return []any{
		&p.ID, &p.Name, &p.ProductNumber, &p.Color, &p.StandardCost, &p.ListPrice, &p.Size, &p.Weight,
		&p.CategoryID, &p.ModelID, &p.SellStartDate, &p.SellEndDate, &p.DiscontinuedDate,
		&p.ThumbnailPhotoFileName, &p.ModifiedDate,
	}
}

// ------------------------------------
// Listing
// ------------------------------------

// ListProductViews returns every product that has a category, with the
// category name and the number of order lines referencing it. Products
// without orders are included with a zero count. A zero page limit returns
// the whole list (LIMIT NULL).
func (r *Repository) ListProductViews(ctx context.Context, page Page) ([]*ProductView, int, error) {
	var limit sql.NullInt64
	if page.Limit > 0 {
		limit = sql.NullInt64{Int64: int64(page.Limit), Valid: true}
	}
	offset := page.Offset
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT ` + productColumns + `,
		       c.name AS category_name,
		       COUNT(d.sales_order_detail_id) AS number_of_orders,
		       COUNT(*) OVER() AS total_count
		FROM product p
		JOIN product_category c ON c.product_category_id = p.product_category_id
		LEFT JOIN sales_order_detail d ON d.product_id = p.product_id
		GROUP BY p.product_id, c.product_category_id
		ORDER BY p.product_id
		LIMIT $1 OFFSET $2;`

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var (
		list  []*ProductView
		total int
	)
	for rows.Next() {
		v := &ProductView{}
		dest := append(productScanTargets(&v.Product), &v.CategoryName, &v.NumberOfOrders, &total)
		if err := rows.Scan(dest...); err != nil {
			return nil, 0, fmt.Errorf("scan product: %w", err)
		}
		list = append(list, v)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows iteration: %w", err)
	}

	// Paged past the end: no rows, but the total may be > 0.
	if len(list) == 0 && offset > 0 {
		const countQ = `
			SELECT COUNT(*)
			FROM product p
			JOIN product_category c ON c.product_category_id = p.product_category_id;`
		if err := r.db.QueryRowContext(ctx, countQ).Scan(&total); err != nil {
			return nil, 0, fmt.Errorf("count products: %w", err)
		}
	}

	return list, total, nil
}

// ------------------------------------
// Products
// ------------------------------------

// GetProductView loads a product with its category and model names.
func (r *Repository) GetProductView(ctx context.Context, id int64) (*ProductView, error) {
	query := `
		SELECT ` + productColumns + `, c.name, m.name
		FROM product p
		LEFT JOIN product_category c ON c.product_category_id = p.product_category_id
		LEFT JOIN product_model m ON m.product_model_id = p.product_model_id
		WHERE p.product_id = $1;`

	v := &ProductView{}
	dest := append(productScanTargets(&v.Product), &v.CategoryName, &v.ModelName)
	if err := r.db.QueryRowContext(ctx, query, id).Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get product view: %w", err)
	}
	return v, nil
}

func (r *Repository) GetProductByID(ctx context.Context, id int64) (*Product, error) {
	query := `SELECT ` + productColumns + ` FROM product p WHERE p.product_id = $1;`

	p := &Product{}
	if err := r.db.QueryRowContext(ctx, query, id).Scan(productScanTargets(p)...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

func (r *Repository) ProductExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM product WHERE product_id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("product exists: %w", err)
	}
	return exists, nil
}

func (r *Repository) CreateProduct(ctx context.Context, p *Product) (*Product, error) {
	query := `
		INSERT INTO product (
			name, product_number, color, standard_cost, list_price, size, weight,
			product_category_id, product_model_id, sell_start_date, sell_end_date, discontinued_date,
			thumbnail_photo_file_name, modified_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING product_id;`

	err := r.db.QueryRowContext(ctx, query,
		p.Name, p.ProductNumber, p.Color, p.StandardCost, p.ListPrice, p.Size, p.Weight,
		p.CategoryID, p.ModelID, p.SellStartDate, p.SellEndDate, p.DiscontinuedDate,
		p.ThumbnailPhotoFileName, p.ModifiedDate,
	).Scan(&p.ID)
	if err != nil {
		return nil, fmt.Errorf("create product: %w", mapPgError(err, ErrInvalidReference))
	}
	return p, nil
}

// UpdateProduct writes every editable column in one statement. token is the
// modified date the caller read; if the row no longer carries it (changed or
// removed meanwhile) ErrWriteConflict is returned.
func (r *Repository) UpdateProduct(ctx context.Context, p *Product, token time.Time) error {
	query := `
		UPDATE product
		SET name = $1, product_number = $2, color = $3, standard_cost = $4, list_price = $5,
		    size = $6, weight = $7, product_category_id = $8, product_model_id = $9,
		    sell_end_date = $10, discontinued_date = $11,
		    thumbnail_photo_file_name = $12, modified_date = $13
		WHERE product_id = $14 AND modified_date = $15;`

	res, err := r.db.ExecContext(ctx, query,
		p.Name, p.ProductNumber, p.Color, p.StandardCost, p.ListPrice,
		p.Size, p.Weight, p.CategoryID, p.ModelID,
		p.SellEndDate, p.DiscontinuedDate,
		p.ThumbnailPhotoFileName, p.ModifiedDate,
		p.ID, token,
	)
	if err != nil {
		return fmt.Errorf("update product: %w", mapPgError(err, ErrInvalidReference))
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update product rows affected: %w", err)
	}
	if n == 0 {
		return ErrWriteConflict
	}
	return nil
}

// DeleteProduct removes a product and reports whether a row was deleted.
func (r *Repository) DeleteProduct(ctx context.Context, id int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM product WHERE product_id = $1;`, id)
	if err != nil {
		return false, fmt.Errorf("delete product: %w", mapPgError(err, ErrHasOrders))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete product rows affected: %w", err)
	}
	return n > 0, nil
}

// ------------------------------------
// Order lines
// ------------------------------------
func (r *Repository) CountOrderLines(ctx context.Context, productID int64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sales_order_detail WHERE product_id = $1`, productID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count order lines: %w", err)
	}
	return n, nil
}

// CountOrderLinesByProduct counts order lines for each of productIDs in one
// query. Products without order lines are absent from the map.
func (r *Repository) CountOrderLinesByProduct(ctx context.Context, productIDs []int64) (map[int64]int, error) {
	counts := make(map[int64]int, len(productIDs))
	if len(productIDs) == 0 {
		return counts, nil
	}

	placeholders := make([]string, len(productIDs))
	args := make([]any, len(productIDs))
	for i, id := range productIDs {
		placeholders[i] = "$" + strconv.Itoa(i+1)
		args[i] = id
	}

	query := `
		SELECT product_id, COUNT(*)
		FROM sales_order_detail
		WHERE product_id IN (` + strings.Join(placeholders, ", ") + `)
		GROUP BY product_id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("count order lines by product: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id int64
			n  int
		)
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("scan order line count: %w", err)
		}
		counts[id] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return counts, nil
}

// ------------------------------------
// Reference data
// ------------------------------------
func (r *Repository) ListCategories(ctx context.Context) ([]*Category, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT product_category_id, name FROM product_category ORDER BY name, product_category_id`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var list []*Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		list = append(list, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return list, nil
}

func (r *Repository) ListModels(ctx context.Context) ([]*Model, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT product_model_id, name FROM product_model ORDER BY name, product_model_id`)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer rows.Close()

	var list []*Model
	for rows.Next() {
		var m Model
		if err := rows.Scan(&m.ID, &m.Name); err != nil {
			return nil, fmt.Errorf("scan model: %w", err)
		}
		list = append(list, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return list, nil
}

// mapPgError turns constraint violations from either driver into catalog
// errors. fkErr is what a foreign key violation means for the statement that
// failed. The original error stays in the chain.
func mapPgError(err error, fkErr error) error {
	var code string

	var pgErr *pgconn.PgError
	var pqErr *pq.Error
	switch {
	case errors.As(err, &pgErr):
		code = pgErr.Code
	case errors.As(err, &pqErr):
		code = string(pqErr.Code)
	default:
		return err
	}

	switch code {
	case pgForeignKeyViolation:
		return fmt.Errorf("%w: %w", fkErr, err)
	case pgUniqueViolation:
		return fmt.Errorf("%w: %w", ErrDuplicateProductNum, err)
	}
	return err
}
