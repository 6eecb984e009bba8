package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/wdatafacility/wdf/schema"
)

func testStore(t *testing.T) *Store {
	var ctx = context.Background()
	var st, err = OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(ctx))
	return st
}

func insertParameter(t *testing.T, st *Store, name string) uuid.UUID {
	var row = &schema.DictParameter{
		ID:            uuid.New(),
		MarketplaceID: uuid.New(),
		Name:          name,
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, st.InsertRow(context.Background(), row))
	return row.ID
}

func TestInsertAndLookup(t *testing.T) {
	var st = testStore(t)
	var ctx = context.Background()

	var wantColor = insertParameter(t, st, "Цвет")
	var wantSize = insertParameter(t, st, "Размер")

	found, err := st.Lookup(ctx, schema.DictParameterTable, "name", []string{"Цвет", "Размер", "Вес"})
	require.NoError(t, err)
	require.Equal(t, map[string]uuid.UUID{"Цвет": wantColor, "Размер": wantSize}, found)
}

func TestLookupEmptyKeysSkipsQuery(t *testing.T) {
	var st = testStore(t)

	found, err := st.Lookup(context.Background(), schema.SkuTable, "article", nil)
	require.NoError(t, err)
	require.Empty(t, found)
}

func TestTransactionBracket(t *testing.T) {
	var st = testStore(t)
	var ctx = context.Background()

	require.NoError(t, st.Begin(ctx))
	require.Error(t, st.Begin(ctx), "a second bracket must be refused")

	insertParameter(t, st, "Цвет")
	require.NoError(t, st.Rollback())

	var n int
	require.NoError(t, st.QueryRow(ctx, "SELECT COUNT(*) FROM wdf_dict_parameter").Scan(&n))
	require.Equal(t, 0, n, "rolled back writes must not persist")

	require.NoError(t, st.Begin(ctx))
	insertParameter(t, st, "Цвет")
	require.NoError(t, st.Commit())

	require.NoError(t, st.QueryRow(ctx, "SELECT COUNT(*) FROM wdf_dict_parameter").Scan(&n))
	require.Equal(t, 1, n)

	// Rollback with no open bracket is a no-op.
	require.NoError(t, st.Rollback())
}

func TestExecReportsAffectedRows(t *testing.T) {
	var st = testStore(t)
	var ctx = context.Background()

	insertParameter(t, st, "Цвет")
	insertParameter(t, st, "Размер")

	n, err := st.Exec(ctx, "DELETE FROM wdf_dict_parameter WHERE name IN (?, ?)", "Цвет", "Размер")
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
}

func TestRebindPostgresPlaceholders(t *testing.T) {
	var pg = &Store{dialect: schema.Postgres}
	require.Equal(t, "SELECT id FROM t WHERE a = $1 AND b = $2", pg.rebind("SELECT id FROM t WHERE a = ? AND b = ?"))

	var lite = &Store{dialect: schema.SQLite}
	require.Equal(t, "SELECT id FROM t WHERE a = ?", lite.rebind("SELECT id FROM t WHERE a = ?"))
}

func TestCopyLinePattern(t *testing.T) {
	var m = copyLineRe.FindStringSubmatch(`COPY wdf_sku, line 42, column title: "broken"`)
	require.NotNil(t, m)
	require.Equal(t, "42", m[1])

	require.Nil(t, copyLineRe.FindStringSubmatch("syntax error at or near COPY"))
}

func TestSQLiteHasNoCopy(t *testing.T) {
	var st = testStore(t)
	require.False(t, st.HasCopy())
	require.Equal(t, schema.SQLite, st.Dialect())

	var err = st.CopyRows(context.Background(), schema.SkuTable, []schema.Row{&schema.Sku{ID: uuid.New()}})
	require.Error(t, err)
}
