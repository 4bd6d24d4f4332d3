package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldBuilders(t *testing.T) {
	tests := []struct {
		name string
		node Node
		want Compare
	}{
		{"eq", Field("age").Eq(30), Compare{Field: "age", Op: Eq, Value: 30}},
		{"ne", Field("age").Ne(30), Compare{Field: "age", Op: Ne, Value: 30}},
		{"gt", Field("age").Gt(30), Compare{Field: "age", Op: Gt, Value: 30}},
		{"lt", Field("age").Lt(30), Compare{Field: "age", Op: Lt, Value: 30}},
		{"ge", Field("age").Ge(30), Compare{Field: "age", Op: Ge, Value: 30}},
		{"le", Field("age").Le(30), Compare{Field: "age", Op: Le, Value: 30}},
		{"like", Field("name").Like("a%"), Compare{Field: "name", Op: Like, Value: "a%"}},
		{"eq nil", Field("deleted_at").Eq(nil), Compare{Field: "deleted_at", Op: Eq, Value: nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.node)
			assert.Equal(t, KindCompare, tt.node.Kind())
		})
	}
}

func TestIn(t *testing.T) {
	n := Field("status").In("a", "b", "c")
	require.IsType(t, In{}, n)
	in := n.(In)
	assert.Equal(t, "status", in.Field)
	assert.Equal(t, []interface{}{"a", "b", "c"}, in.Values)
	assert.Equal(t, KindIn, n.Kind())
}

func TestAndOrFolding(t *testing.T) {
	a := Field("x").Eq(1)
	b := Field("y").Eq(2)
	c := Field("z").Eq(3)

	t.Run("empty is always", func(t *testing.T) {
		assert.Equal(t, Always{}, And())
		assert.Equal(t, Always{}, Or())
	})

	t.Run("single passes through", func(t *testing.T) {
		assert.Equal(t, a, And(a))
		assert.Equal(t, a, Or(a))
	})

	t.Run("pair", func(t *testing.T) {
		n := And(a, b)
		require.IsType(t, Binary{}, n)
		bin := n.(Binary)
		assert.Equal(t, AndOp, bin.Op)
		assert.Equal(t, a, bin.Left)
		assert.Equal(t, b, bin.Right)
	})

	t.Run("left fold", func(t *testing.T) {
		n := Or(a, b, c)
		require.IsType(t, Binary{}, n)
		outer := n.(Binary)
		assert.Equal(t, OrOp, outer.Op)
		assert.Equal(t, c, outer.Right)
		inner := outer.Left.(Binary)
		assert.Equal(t, a, inner.Left)
		assert.Equal(t, b, inner.Right)
	})
}

func TestNot(t *testing.T) {
	inner := Field("x").Eq(1)
	n := Not(inner)
	require.IsType(t, Unary{}, n)
	assert.Equal(t, NotOp, n.(Unary).Op)
	assert.Equal(t, inner, n.(Unary).Operand)
}

func TestConstantsAndRaw(t *testing.T) {
	assert.Equal(t, KindAlways, All().Kind())
	assert.Equal(t, KindNever, None().Kind())

	raw := Verbatim("custom_col IS NOT NULL")
	require.IsType(t, Raw{}, raw)
	assert.Equal(t, KindRaw, raw.Kind())
	assert.Equal(t, "custom_col IS NOT NULL", raw.(Raw).Fragment)
}
