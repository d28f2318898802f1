package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSetPath(t *testing.T) {
	root := map[string]any{
		"contacts": []any{
			map[string]any{"street": "Main"},
			map[string]any{"street": "Oak"},
		},
	}

	v, ok := GetPath(root, "contacts.1.street")
	require.True(t, ok)
	assert.Equal(t, "Oak", v)

	_, ok = GetPath(root, "contacts.5.street")
	assert.False(t, ok)

	require.NoError(t, SetPath(root, "contacts.0.apartment", "4B"))
	v, _ = GetPath(root, "contacts.0.apartment")
	assert.Equal(t, "4B", v)

	require.NoError(t, SetPath(root, "address.city", "Berlin"))
	v, _ = GetPath(root, "address.city")
	assert.Equal(t, "Berlin", v)

	err := SetPath(root, "contacts.9.street", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}

func TestPathsOverlap(t *testing.T) {
	assert.True(t, PathsOverlap("a.b", "a.b"))
	assert.True(t, PathsOverlap("a", "a.b"))
	assert.True(t, PathsOverlap("a.b.c", "a.b"))
	assert.False(t, PathsOverlap("a.bc", "a.b"))
	assert.False(t, PathsOverlap("contacts.0.x", "contacts.1.x"))
	assert.True(t, PathsOverlap("contacts.*.x", "contacts.1.x"))
	assert.True(t, PathsOverlap("contacts", "contacts.*.x"))
	assert.False(t, PathsOverlap("contacts.*.x", "contacts.*.y"))
}

func TestResolvePath(t *testing.T) {
	assert.Equal(t, "contacts.1.hasApartment", ResolvePath("contacts.1", "hasApartment"))
	assert.Equal(t, "country", ResolvePath("contacts.1", "/country"))
	assert.Equal(t, "name", ResolvePath("", "name"))
}

func TestTemplateInstantiate(t *testing.T) {
	assert.Equal(t, "orders.*.lines.*.qty", TemplatePath("orders.3.lines.0.qty"))
	assert.Equal(t, "orders.3.lines.*.qty", Instantiate("orders.*.lines.*.qty", "orders.3"))
	assert.Equal(t, "orders.3.lines.0.qty", Instantiate("orders.*.lines.*.qty", "orders.3.lines.0"))
	assert.Equal(t, "orders", ParentPath("orders.x"))
	assert.Equal(t, "x", LastSegment("orders.x"))
}
