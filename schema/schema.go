// Package schema declares the relational entities of the data facility:
// the Dump lifecycle record, per-observation Versions and their fact rows,
// and the shared dictionary tables. Identifiers are opaque UUIDs generated
// by the writer; timestamps are stamped by the writer as well so that rows
// are complete before they reach the bulk loader.
package schema

import (
	"time"

	"github.com/google/uuid"
)

// Length limits of the columns callers clamp values against.
const (
	ArticleMaxLength = 20
	TitleMaxLength   = 512
)

// ColumnType enumerates the storage types the DDL generator understands.
type ColumnType int

const (
	TypeUUID ColumnType = iota
	TypeString
	TypeText
	TypeInteger
	TypeFloat
	TypeTimestamp
)

// Column describes one column of a Table.
type Column struct {
	Name      string
	Type      ColumnType
	MaxLength int
	NotNull   bool
}

// Table carries the metadata the store gateway and the bulk loader need:
// the physical name, the ordered column list, and whether the table holds
// free-form text. Free-form text frequently embeds the COPY delimiter and
// escape sequences, so the loader downgrades such tables to row inserts
// unless they are explicitly allow-listed.
type Table struct {
	Name     string
	Columns  []Column
	WideText bool
}

// ColumnNames returns the ordered column name list.
func (t *Table) ColumnNames() []string {
	var names = make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Row is one record destined for a specific table. Values must align with
// Table().Columns. UUID values are rendered as strings and nullable fields
// as untyped nils so that both store dialects accept them unchanged.
type Row interface {
	Table() *Table
	Values() []interface{}
}

var (
	DumpTable = &Table{
		Name: "wdf_dump",
		Columns: []Column{
			{Name: "id", Type: TypeUUID, NotNull: true},
			{Name: "crawler", Type: TypeString, MaxLength: 20, NotNull: true},
			{Name: "job", Type: TypeString, MaxLength: 20, NotNull: true},
			{Name: "state", Type: TypeString, MaxLength: 20, NotNull: true},
			{Name: "state_code", Type: TypeInteger, NotNull: true},
			{Name: "items_crawled", Type: TypeInteger},
			{Name: "crawl_started_at", Type: TypeTimestamp},
			{Name: "crawl_ended_at", Type: TypeTimestamp},
			{Name: "created_at", Type: TypeTimestamp, NotNull: true},
		},
		WideText: true,
	}

	VersionTable = &Table{
		Name: "wdf_version",
		Columns: []Column{
			{Name: "id", Type: TypeUUID, NotNull: true},
			{Name: "dump_id", Type: TypeUUID, NotNull: true},
			{Name: "sku_id", Type: TypeUUID, NotNull: true},
			{Name: "catalog_level", Type: TypeInteger},
			{Name: "crawled_at", Type: TypeTimestamp, NotNull: true},
			{Name: "created_at", Type: TypeTimestamp, NotNull: true},
		},
	}

	SkuTable = &Table{
		Name: "wdf_sku",
		Columns: []Column{
			{Name: "id", Type: TypeUUID, NotNull: true},
			{Name: "marketplace_id", Type: TypeUUID, NotNull: true},
			{Name: "brand_id", Type: TypeUUID},
			{Name: "article", Type: TypeString, MaxLength: ArticleMaxLength, NotNull: true},
			{Name: "title", Type: TypeString, MaxLength: TitleMaxLength, NotNull: true},
			{Name: "url", Type: TypeText, NotNull: true},
			{Name: "created_at", Type: TypeTimestamp, NotNull: true},
			{Name: "updated_at", Type: TypeTimestamp, NotNull: true},
		},
		WideText: true,
	}

	PriceTable = &Table{
		Name: "wdf_price",
		Columns: []Column{
			{Name: "id", Type: TypeUUID, NotNull: true},
			{Name: "sku_id", Type: TypeUUID, NotNull: true},
			{Name: "version_id", Type: TypeUUID, NotNull: true},
			{Name: "price", Type: TypeFloat, NotNull: true},
			{Name: "created_at", Type: TypeTimestamp, NotNull: true},
		},
	}

	RatingTable = &Table{
		Name: "wdf_rating",
		Columns: []Column{
			{Name: "id", Type: TypeUUID, NotNull: true},
			{Name: "sku_id", Type: TypeUUID, NotNull: true},
			{Name: "version_id", Type: TypeUUID, NotNull: true},
			{Name: "rating", Type: TypeFloat},
			{Name: "created_at", Type: TypeTimestamp, NotNull: true},
		},
	}

	SalesTable = &Table{
		Name: "wdf_sales",
		Columns: []Column{
			{Name: "id", Type: TypeUUID, NotNull: true},
			{Name: "sku_id", Type: TypeUUID, NotNull: true},
			{Name: "version_id", Type: TypeUUID, NotNull: true},
			{Name: "sales", Type: TypeInteger, NotNull: true},
			{Name: "created_at", Type: TypeTimestamp, NotNull: true},
		},
	}

	ReviewsTable = &Table{
		Name: "wdf_reviews",
		Columns: []Column{
			{Name: "id", Type: TypeUUID, NotNull: true},
			{Name: "sku_id", Type: TypeUUID, NotNull: true},
			{Name: "version_id", Type: TypeUUID, NotNull: true},
			{Name: "reviews", Type: TypeInteger, NotNull: true},
			{Name: "created_at", Type: TypeTimestamp, NotNull: true},
		},
	}

	PositionTable = &Table{
		Name: "wdf_position",
		Columns: []Column{
			{Name: "id", Type: TypeUUID, NotNull: true},
			{Name: "sku_id", Type: TypeUUID, NotNull: true},
			{Name: "version_id", Type: TypeUUID, NotNull: true},
			{Name: "catalog_id", Type: TypeUUID, NotNull: true},
			{Name: "absolute", Type: TypeInteger, NotNull: true},
			{Name: "created_at", Type: TypeTimestamp, NotNull: true},
		},
	}

	ParameterTable = &Table{
		Name: "wdf_parameter",
		Columns: []Column{
			{Name: "id", Type: TypeUUID, NotNull: true},
			{Name: "sku_id", Type: TypeUUID, NotNull: true},
			{Name: "version_id", Type: TypeUUID, NotNull: true},
			{Name: "parameter_id", Type: TypeUUID, NotNull: true},
			{Name: "value", Type: TypeText, NotNull: true},
			{Name: "created_at", Type: TypeTimestamp, NotNull: true},
		},
	}

	DictMarketplaceTable = &Table{
		Name: "wdf_dict_marketplace",
		Columns: []Column{
			{Name: "id", Type: TypeUUID, NotNull: true},
			{Name: "name", Type: TypeString, MaxLength: 255, NotNull: true},
			{Name: "slug", Type: TypeString, MaxLength: 50, NotNull: true},
			{Name: "url", Type: TypeText, NotNull: true},
			{Name: "created_at", Type: TypeTimestamp, NotNull: true},
		},
		WideText: true,
	}

	DictBrandTable = &Table{
		Name: "wdf_dict_brand",
		Columns: []Column{
			{Name: "id", Type: TypeUUID, NotNull: true},
			{Name: "marketplace_id", Type: TypeUUID, NotNull: true},
			{Name: "name", Type: TypeString, MaxLength: 255},
			{Name: "url", Type: TypeText, NotNull: true},
			{Name: "created_at", Type: TypeTimestamp, NotNull: true},
		},
		WideText: true,
	}

	DictCatalogTable = &Table{
		Name: "wdf_dict_catalog",
		Columns: []Column{
			{Name: "id", Type: TypeUUID, NotNull: true},
			{Name: "marketplace_id", Type: TypeUUID, NotNull: true},
			{Name: "parent_id", Type: TypeUUID},
			{Name: "name", Type: TypeString, MaxLength: 255},
			{Name: "url", Type: TypeText, NotNull: true},
			{Name: "level", Type: TypeInteger},
			{Name: "created_at", Type: TypeTimestamp, NotNull: true},
		},
		WideText: true,
	}

	DictParameterTable = &Table{
		Name: "wdf_dict_parameter",
		Columns: []Column{
			{Name: "id", Type: TypeUUID, NotNull: true},
			{Name: "marketplace_id", Type: TypeUUID, NotNull: true},
			{Name: "name", Type: TypeString, MaxLength: 255, NotNull: true},
			{Name: "created_at", Type: TypeTimestamp, NotNull: true},
		},
		WideText: true,
	}
)

// AllTables lists every table in creation order (referenced tables first).
func AllTables() []*Table {
	return []*Table{
		DictMarketplaceTable,
		DictBrandTable,
		DictCatalogTable,
		DictParameterTable,
		DumpTable,
		SkuTable,
		VersionTable,
		PriceTable,
		RatingTable,
		SalesTable,
		ReviewsTable,
		PositionTable,
		ParameterTable,
	}
}

// FactTables lists the tables holding per-version facts.
func FactTables() []*Table {
	return []*Table{
		PriceTable,
		RatingTable,
		SalesTable,
		ReviewsTable,
		PositionTable,
		ParameterTable,
	}
}

func uuidValue(id *uuid.UUID) interface{} {
	if id == nil {
		return nil
	}
	return id.String()
}

func stringValue(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func intValue(i *int) interface{} {
	if i == nil {
		return nil
	}
	return *i
}

func floatValue(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}

// Version is one point-in-time observation of one SKU within a Dump.
type Version struct {
	ID           uuid.UUID
	DumpID       uuid.UUID
	SkuID        uuid.UUID
	CatalogLevel *int
	CrawledAt    time.Time
	CreatedAt    time.Time
}

func (v *Version) Table() *Table { return VersionTable }

func (v *Version) Values() []interface{} {
	return []interface{}{
		v.ID.String(), v.DumpID.String(), v.SkuID.String(),
		intValue(v.CatalogLevel), v.CrawledAt, v.CreatedAt,
	}
}

// Sku is a marketplace product identity, keyed by article.
type Sku struct {
	ID            uuid.UUID
	MarketplaceID uuid.UUID
	BrandID       *uuid.UUID
	Article       string
	Title         string
	URL           string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (s *Sku) Table() *Table { return SkuTable }

func (s *Sku) Values() []interface{} {
	return []interface{}{
		s.ID.String(), s.MarketplaceID.String(), uuidValue(s.BrandID),
		s.Article, s.Title, s.URL, s.CreatedAt, s.UpdatedAt,
	}
}

// Price records the observed price of a SKU at one Version.
type Price struct {
	ID        uuid.UUID
	SkuID     uuid.UUID
	VersionID uuid.UUID
	Price     float64
	CreatedAt time.Time
}

func (p *Price) Table() *Table { return PriceTable }

func (p *Price) Values() []interface{} {
	return []interface{}{p.ID.String(), p.SkuID.String(), p.VersionID.String(), p.Price, p.CreatedAt}
}

// Rating records the observed customer rating.
type Rating struct {
	ID        uuid.UUID
	SkuID     uuid.UUID
	VersionID uuid.UUID
	Rating    *float64
	CreatedAt time.Time
}

func (r *Rating) Table() *Table { return RatingTable }

func (r *Rating) Values() []interface{} {
	return []interface{}{r.ID.String(), r.SkuID.String(), r.VersionID.String(), floatValue(r.Rating), r.CreatedAt}
}

// Sales records the observed purchase counter.
type Sales struct {
	ID        uuid.UUID
	SkuID     uuid.UUID
	VersionID uuid.UUID
	Sales     int
	CreatedAt time.Time
}

func (s *Sales) Table() *Table { return SalesTable }

func (s *Sales) Values() []interface{} {
	return []interface{}{s.ID.String(), s.SkuID.String(), s.VersionID.String(), s.Sales, s.CreatedAt}
}

// Reviews records the observed review counter.
type Reviews struct {
	ID        uuid.UUID
	SkuID     uuid.UUID
	VersionID uuid.UUID
	Reviews   int
	CreatedAt time.Time
}

func (r *Reviews) Table() *Table { return ReviewsTable }

func (r *Reviews) Values() []interface{} {
	return []interface{}{r.ID.String(), r.SkuID.String(), r.VersionID.String(), r.Reviews, r.CreatedAt}
}

// Position records the absolute position of a SKU within a catalog listing.
type Position struct {
	ID        uuid.UUID
	SkuID     uuid.UUID
	VersionID uuid.UUID
	CatalogID uuid.UUID
	Absolute  int
	CreatedAt time.Time
}

func (p *Position) Table() *Table { return PositionTable }

func (p *Position) Values() []interface{} {
	return []interface{}{p.ID.String(), p.SkuID.String(), p.VersionID.String(), p.CatalogID.String(), p.Absolute, p.CreatedAt}
}

// Parameter records one feature name/value pair of a SKU at one Version.
type Parameter struct {
	ID          uuid.UUID
	SkuID       uuid.UUID
	VersionID   uuid.UUID
	ParameterID uuid.UUID
	Value       string
	CreatedAt   time.Time
}

func (p *Parameter) Table() *Table { return ParameterTable }

func (p *Parameter) Values() []interface{} {
	return []interface{}{p.ID.String(), p.SkuID.String(), p.VersionID.String(), p.ParameterID.String(), p.Value, p.CreatedAt}
}

// DictMarketplace is the marketplace dictionary row; exactly one per crawler tag.
type DictMarketplace struct {
	ID        uuid.UUID
	Name      string
	Slug      string
	URL       string
	CreatedAt time.Time
}

func (m *DictMarketplace) Table() *Table { return DictMarketplaceTable }

func (m *DictMarketplace) Values() []interface{} {
	return []interface{}{m.ID.String(), m.Name, m.Slug, m.URL, m.CreatedAt}
}

// DictBrand is the brand dictionary row, keyed by url.
type DictBrand struct {
	ID            uuid.UUID
	MarketplaceID uuid.UUID
	Name          *string
	URL           string
	CreatedAt     time.Time
}

func (b *DictBrand) Table() *Table { return DictBrandTable }

func (b *DictBrand) Values() []interface{} {
	return []interface{}{b.ID.String(), b.MarketplaceID.String(), stringValue(b.Name), b.URL, b.CreatedAt}
}

// DictCatalog is the catalog dictionary row, keyed by url. The tree is
// self-referential; parent is absent in current exports and normalizes to NULL.
type DictCatalog struct {
	ID            uuid.UUID
	MarketplaceID uuid.UUID
	ParentID      *uuid.UUID
	Name          *string
	URL           string
	Level         *int
	CreatedAt     time.Time
}

func (c *DictCatalog) Table() *Table { return DictCatalogTable }

func (c *DictCatalog) Values() []interface{} {
	return []interface{}{
		c.ID.String(), c.MarketplaceID.String(), uuidValue(c.ParentID),
		stringValue(c.Name), c.URL, intValue(c.Level), c.CreatedAt,
	}
}

// DictParameter is the parameter dictionary row; names are scoped per marketplace.
type DictParameter struct {
	ID            uuid.UUID
	MarketplaceID uuid.UUID
	Name          string
	CreatedAt     time.Time
}

func (p *DictParameter) Table() *Table { return DictParameterTable }

func (p *DictParameter) Values() []interface{} {
	return []interface{}{p.ID.String(), p.MarketplaceID.String(), p.Name, p.CreatedAt}
}
