package catalog

import (
	"io"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultProductName is stored when a product is submitted without a name.
const DefaultProductName = "Unnamed Product"

type Category struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type Model struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type Product struct {
	ID                     int64            `json:"id"`
	Name                   string           `json:"name"`
	ProductNumber          string           `json:"product_number"`
	Color                  *string          `json:"color,omitempty"`
	StandardCost           decimal.Decimal  `json:"standard_cost"`
	ListPrice              decimal.Decimal  `json:"list_price"`
	Size                   *string          `json:"size,omitempty"`
	Weight                 *decimal.Decimal `json:"weight,omitempty"`
	CategoryID             *int64           `json:"category_id,omitempty"`
	ModelID                *int64           `json:"model_id,omitempty"`
	SellStartDate          time.Time        `json:"sell_start_date"`
	SellEndDate            *time.Time       `json:"sell_end_date,omitempty"`
	DiscontinuedDate       *time.Time       `json:"discontinued_date,omitempty"`
	ThumbnailPhotoFileName *string          `json:"thumbnail_photo_file_name"`
	ModifiedDate           time.Time        `json:"modified_date"`
}

// ProductView is the display/edit projection of a product. It is built per
// request and never written back.
type ProductView struct {
	Product
	CategoryName   *string `json:"category_name,omitempty"`
	ModelName      *string `json:"model_name,omitempty"`
	NumberOfOrders int     `json:"number_of_orders"`
}

// ProductInput carries the editable fields submitted for create and update.
// Name, ProductNumber, ListPrice, Size, CategoryID and ModelID are always
// applied. The remaining pointer fields are optional: nil leaves the stored
// value unchanged on update (and unset on create).
type ProductInput struct {
	Name             string           `json:"name" validate:"max=50"`
	ProductNumber    string           `json:"product_number" validate:"max=25"`
	ListPrice        decimal.Decimal  `json:"list_price" validate:"gte=0"`
	Size             *string          `json:"size,omitempty" validate:"omitempty,max=5"`
	CategoryID       *int64           `json:"category_id,omitempty" validate:"omitempty,gt=0"`
	ModelID          *int64           `json:"model_id,omitempty" validate:"omitempty,gt=0"`
	Color            *string          `json:"color,omitempty" validate:"omitempty,max=15"`
	StandardCost     *decimal.Decimal `json:"standard_cost,omitempty" validate:"omitempty,gte=0"`
	Weight           *decimal.Decimal `json:"weight,omitempty" validate:"omitempty,gte=0"`
	SellEndDate      *time.Time       `json:"sell_end_date,omitempty"`
	DiscontinuedDate *time.Time       `json:"discontinued_date,omitempty"`
}

// Photo is an uploaded image. Filename is the client-side name and is only
// used for its extension.
type Photo struct {
	Filename string
	Content  io.Reader
}

// Page selects a window of the listing. A zero Limit means the whole list.
type Page struct {
	Limit  int
	Offset int
}

// DeletePreview is what the delete confirmation step shows.
type DeletePreview struct {
	Product ProductView `json:"product"`
	Message string      `json:"message"`
}
