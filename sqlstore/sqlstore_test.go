package sqlstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratumdb/stratum/codec"
	"github.com/stratumdb/stratum/query/ir"
	"github.com/stratumdb/stratum/runtime"
)

type user struct {
	ID        codec.RecordID `db:"id"`
	Email     string         `db:"email,unique"`
	Name      string         `db:"name,maxlen=100"`
	Age       int            `db:"age,index"`
	Active    bool           `db:"active"`
	Balance   float64        `db:"balance"`
	Nickname  *string        `db:"nickname"`
	CreatedAt time.Time      `db:"created_at"`
}

func newDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open("sqlite://:memory:")
	require.NoError(t, err)
	// The pool must not fan out: every :memory: connection is its own
	// database.
	db.SQL().SetMaxOpenConns(1)
	require.NoError(t, db.Connect(context.Background()))
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newUserTable(t *testing.T) *Table[user] {
	t.Helper()
	tbl, err := NewTable[user](newDB(t), "users")
	require.NoError(t, err)
	require.NoError(t, tbl.Reconcile(context.Background()))
	return tbl
}

func seedUsers(t *testing.T, tbl *Table[user]) {
	t.Helper()
	ctx := context.Background()
	nick := "ali"
	for _, u := range []user{
		{Email: "alice@example.com", Name: "Alice", Age: 30, Active: true, Balance: 12.5, Nickname: &nick,
			CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{Email: "bob@example.com", Name: "Bob", Age: 25, Active: true,
			CreatedAt: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)},
		{Email: "carol@example.com", Name: "Carol", Age: 41, Active: false,
			CreatedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
	} {
		u := u
		require.NoError(t, tbl.Insert(ctx, &u))
	}
}

func TestOpenRejects(t *testing.T) {
	_, err := Open("")
	require.Error(t, err)
	assert.True(t, runtime.IsMisuse(err))

	_, err = Open("oracle://h/db")
	require.Error(t, err)
	assert.True(t, runtime.IsMisuse(err))
}

func TestInsertAndFindRoundTrip(t *testing.T) {
	tbl := newUserTable(t)
	ctx := context.Background()
	created := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
	nick := "dee"
	in := user{Email: "d@e.f", Name: "Dee", Age: 7, Active: true, Balance: 3.25, Nickname: &nick, CreatedAt: created}
	require.NoError(t, tbl.Insert(ctx, &in))
	assert.NotEmpty(t, in.ID, "identifier assigned before the insert")

	got, err := tbl.FindOne(ctx, ir.Field("email").Eq("d@e.f"))
	require.NoError(t, err)
	assert.Equal(t, in.ID, got.ID)
	assert.Equal(t, "Dee", got.Name)
	assert.Equal(t, 7, got.Age)
	assert.True(t, got.Active)
	assert.Equal(t, 3.25, got.Balance)
	require.NotNil(t, got.Nickname)
	assert.Equal(t, "dee", *got.Nickname)
	assert.True(t, got.CreatedAt.Equal(created))
}

func TestInsertDuplicateKey(t *testing.T) {
	tbl := newUserTable(t)
	ctx := context.Background()

	first := user{Email: "alice@example.com", Name: "Alice", Age: 30}
	require.NoError(t, tbl.Insert(ctx, &first))

	second := user{Email: "alice@example.com", Name: "Other", Age: 9}
	err := tbl.Insert(ctx, &second)
	require.Error(t, err)
	assert.True(t, runtime.IsDuplicateKey(err))

	var dup *runtime.DuplicateKeyError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, "users", dup.Table)
}

func TestFindPredicates(t *testing.T) {
	tbl := newUserTable(t)
	seedUsers(t, tbl)
	ctx := context.Background()

	tests := []struct {
		name      string
		pred      ir.Node
		wantNames []string
	}{
		{"nil matches everything", nil, []string{"Bob", "Alice", "Carol"}},
		{"never", ir.None(), nil},
		{"equals", ir.Field("name").Eq("Bob"), []string{"Bob"}},
		{"range", ir.And(ir.Field("age").Ge(25), ir.Field("age").Lt(41)), []string{"Bob", "Alice"}},
		{"or", ir.Or(ir.Field("age").Lt(26), ir.Field("age").Gt(40)), []string{"Bob", "Carol"}},
		{"not", ir.Not(ir.Field("active").Eq(true)), []string{"Carol"}},
		{"in", ir.Field("email").In("bob@example.com", "carol@example.com"), []string{"Bob", "Carol"}},
		{"empty in", ir.Field("email").In(), nil},
		{"like", ir.Field("name").Like("A%"), []string{"Alice"}},
		{"null test", ir.Field("nickname").Eq(nil), []string{"Bob", "Carol"}},
		{"not null test", ir.Field("nickname").Ne(nil), []string{"Alice"}},
		{
			"timestamp range on text column",
			ir.Field("created_at").Ge(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)),
			[]string{"Bob", "Carol"},
		},
		{"verbatim", ir.Verbatim(`"age" >= 41`), []string{"Carol"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, err := tbl.Find(ctx, tt.pred, OrderBy("age"))
			require.NoError(t, err)
			var names []string
			for _, r := range recs {
				names = append(names, r.Name)
			}
			assert.Equal(t, tt.wantNames, names)
		})
	}
}

func TestFindSubsecondTimestampRange(t *testing.T) {
	// Timestamps live in TEXT columns, so sub-second instants must still
	// fall on the right side of a whole-second range bound.
	tbl := newUserTable(t)
	ctx := context.Background()
	midnight := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	u := user{Email: "sub@example.com", Name: "Sub", Age: 1,
		CreatedAt: midnight.Add(500 * time.Millisecond)}
	require.NoError(t, tbl.Insert(ctx, &u))

	recs, err := tbl.Find(ctx, ir.Field("created_at").Ge(midnight))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Sub", recs[0].Name)

	recs, err = tbl.Find(ctx, ir.Field("created_at").Lt(midnight))
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestFindPagination(t *testing.T) {
	tbl := newUserTable(t)
	seedUsers(t, tbl)
	ctx := context.Background()

	recs, err := tbl.Find(ctx, nil, OrderByDesc("age"), WithSkip(1), WithLimit(1))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Alice", recs[0].Name)
}

func TestFindOneNotFound(t *testing.T) {
	tbl := newUserTable(t)
	_, err := tbl.FindOne(context.Background(), ir.Field("email").Eq("nobody@example.com"))
	require.Error(t, err)
	assert.True(t, runtime.IsNotFound(err))
}

func TestUpdate(t *testing.T) {
	tbl := newUserTable(t)
	seedUsers(t, tbl)
	ctx := context.Background()

	t.Run("set on all matches", func(t *testing.T) {
		n, err := tbl.Update(ctx, ir.Field("active").Eq(true), Update{
			Set: map[string]interface{}{"name": "renamed"},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
	})

	t.Run("increment", func(t *testing.T) {
		n, err := tbl.Update(ctx, ir.Field("email").Eq("carol@example.com"), Update{
			Inc: map[string]interface{}{"age": 2},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		got, err := tbl.FindOne(ctx, ir.Field("email").Eq("carol@example.com"))
		require.NoError(t, err)
		assert.Equal(t, 43, got.Age)
	})

	t.Run("limit one touches a single row", func(t *testing.T) {
		one := 1
		n, err := tbl.Update(ctx, ir.Field("name").Eq("renamed"), Update{
			Set:   map[string]interface{}{"active": false},
			Limit: &one,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		stillActive, err := tbl.Count(ctx, ir.Field("active").Eq(true))
		require.NoError(t, err)
		assert.Equal(t, int64(1), stillActive)
	})

	t.Run("misuse", func(t *testing.T) {
		two := 2
		_, err := tbl.Update(ctx, nil, Update{
			Set:   map[string]interface{}{"name": "x"},
			Limit: &two,
		})
		require.Error(t, err)
		assert.True(t, runtime.IsMisuse(err))

		_, err = tbl.Update(ctx, nil, Update{})
		require.Error(t, err)
		assert.True(t, runtime.IsMisuse(err))
	})
}

func TestDelete(t *testing.T) {
	tbl := newUserTable(t)
	seedUsers(t, tbl)
	ctx := context.Background()

	t.Run("limit one", func(t *testing.T) {
		one := 1
		n, err := tbl.Delete(ctx, ir.Field("active").Eq(true), &one)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		remaining, err := tbl.Count(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(2), remaining)
	})

	t.Run("nothing matched", func(t *testing.T) {
		n, err := tbl.Delete(ctx, ir.Field("name").Eq("ghost"), nil)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("misuse", func(t *testing.T) {
		three := 3
		_, err := tbl.Delete(ctx, nil, &three)
		require.Error(t, err)
		assert.True(t, runtime.IsMisuse(err))
	})
}

func TestCount(t *testing.T) {
	tbl := newUserTable(t)
	seedUsers(t, tbl)
	ctx := context.Background()

	n, err := tbl.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = tbl.Count(ctx, ir.None())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReconcileIdempotent(t *testing.T) {
	db := newDB(t)
	tbl, err := NewTable[user](db, "users")
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, tbl.Reconcile(ctx))
	require.NoError(t, tbl.Reconcile(ctx))

	snap, err := db.snapshot(ctx, "users")
	require.NoError(t, err)
	assert.True(t, snap.Exists)
	assert.Contains(t, snap.Indexes, "users_email_key")
	assert.True(t, snap.Indexes["users_email_key"].Unique)
	assert.Contains(t, snap.Indexes, "users_age_idx")
}

type userWithRating struct {
	ID     codec.RecordID `db:"id"`
	Email  string         `db:"email,unique"`
	Name   string         `db:"name,maxlen=100"`
	Age    int            `db:"age,index"`
	Rating int            `db:"rating"`
}

func TestReconcileAddsColumn(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()

	v1, err := NewTable[user](db, "users")
	require.NoError(t, err)
	require.NoError(t, v1.Reconcile(ctx))
	u := user{Email: "a@b.c", Name: "A", Age: 1}
	require.NoError(t, v1.Insert(ctx, &u))

	v2, err := NewTable[userWithRating](db, "users")
	require.NoError(t, err)
	require.NoError(t, v2.Reconcile(ctx))

	// Rows that predate the column come back with its default.
	got, err := v2.FindOne(ctx, ir.Field("email").Eq("a@b.c"))
	require.NoError(t, err)
	assert.Zero(t, got.Rating)

	snap, err := db.snapshot(ctx, "users")
	require.NoError(t, err)
	assert.Contains(t, snap.Columns, "rating")
}

func TestTransaction(t *testing.T) {
	tbl := newUserTable(t)
	ctx := context.Background()

	t.Run("commit", func(t *testing.T) {
		err := tbl.db.Transaction(ctx, func(tx *Tx) error {
			bound := tbl.WithTx(tx)
			u := user{Email: "tx@example.com", Name: "Tx", Age: 1}
			return bound.Insert(ctx, &u)
		})
		require.NoError(t, err)

		n, err := tbl.Count(ctx, ir.Field("email").Eq("tx@example.com"))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("rollback on error", func(t *testing.T) {
		boom := errors.New("boom")
		err := tbl.db.Transaction(ctx, func(tx *Tx) error {
			bound := tbl.WithTx(tx)
			u := user{Email: "rb@example.com", Name: "Rb", Age: 1}
			if err := bound.Insert(ctx, &u); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		n, err := tbl.Count(ctx, ir.Field("email").Eq("rb@example.com"))
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}
