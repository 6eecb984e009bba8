package schema

import (
	"fmt"
	"strings"
)

// Dialect selects the SQL flavor used for DDL and placeholders.
type Dialect int

const (
	Postgres Dialect = iota
	SQLite
)

func (d Dialect) String() string {
	if d == Postgres {
		return "postgres"
	}
	return "sqlite"
}

func columnType(d Dialect, c Column) string {
	switch c.Type {
	case TypeUUID:
		if d == Postgres {
			return "UUID"
		}
		return "TEXT"
	case TypeString:
		if d == Postgres && c.MaxLength > 0 {
			return fmt.Sprintf("VARCHAR(%d)", c.MaxLength)
		}
		return "TEXT"
	case TypeText:
		return "TEXT"
	case TypeInteger:
		if d == Postgres {
			return "BIGINT"
		}
		return "INTEGER"
	case TypeFloat:
		if d == Postgres {
			return "DOUBLE PRECISION"
		}
		return "REAL"
	case TypeTimestamp:
		if d == Postgres {
			return "TIMESTAMPTZ"
		}
		return "TIMESTAMP"
	}
	panic(fmt.Sprintf("unknown column type %d", c.Type))
}

// CreateTable renders a CREATE TABLE IF NOT EXISTS statement for the table.
func CreateTable(d Dialect, t *Table) string {
	var defs []string
	for _, c := range t.Columns {
		var def = fmt.Sprintf("%s %s", c.Name, columnType(d, c))
		if c.Name == "id" {
			def += " PRIMARY KEY"
		} else if c.NotNull {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n);", t.Name, strings.Join(defs, ",\n\t"))
}

// DDL renders the full schema: tables plus the lookup and uniqueness indexes.
// SKU article deliberately carries a plain index, not a unique constraint:
// uniqueness is restored offline by the duplicate merge so that concurrent
// lookup-then-insert imports never fail on insert.
func DDL(d Dialect) []string {
	var stmts []string
	for _, t := range AllTables() {
		stmts = append(stmts, CreateTable(d, t))
	}
	stmts = append(stmts,
		"CREATE UNIQUE INDEX IF NOT EXISTS wdf_dict_marketplace_slug ON wdf_dict_marketplace (slug);",
		"CREATE UNIQUE INDEX IF NOT EXISTS wdf_dict_marketplace_name_slug ON wdf_dict_marketplace (name, slug);",
		"CREATE INDEX IF NOT EXISTS wdf_dict_brand_url ON wdf_dict_brand (url);",
		"CREATE INDEX IF NOT EXISTS wdf_dict_catalog_url ON wdf_dict_catalog (url);",
		"CREATE INDEX IF NOT EXISTS wdf_dict_parameter_name ON wdf_dict_parameter (name);",
		"CREATE INDEX IF NOT EXISTS wdf_sku_article ON wdf_sku (article);",
		"CREATE INDEX IF NOT EXISTS wdf_version_dump ON wdf_version (dump_id);",
		"CREATE UNIQUE INDEX IF NOT EXISTS wdf_dump_crawler_job ON wdf_dump (crawler, job);",
		"CREATE UNIQUE INDEX IF NOT EXISTS wdf_price_sku_version ON wdf_price (sku_id, version_id);",
		"CREATE UNIQUE INDEX IF NOT EXISTS wdf_rating_sku_version ON wdf_rating (sku_id, version_id);",
		"CREATE UNIQUE INDEX IF NOT EXISTS wdf_sales_sku_version ON wdf_sales (sku_id, version_id);",
		"CREATE UNIQUE INDEX IF NOT EXISTS wdf_reviews_sku_version ON wdf_reviews (sku_id, version_id);",
		"CREATE UNIQUE INDEX IF NOT EXISTS wdf_position_sku_version_catalog ON wdf_position (sku_id, version_id, catalog_id);",
		"CREATE UNIQUE INDEX IF NOT EXISTS wdf_parameter_sku_version_parameter ON wdf_parameter (sku_id, version_id, parameter_id);",
	)
	return stmts
}
