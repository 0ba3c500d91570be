package vuser_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	vuser "github.com/surrealdb/vuser.go"
)

type settings struct {
	Lang  string   `json:"lang"`
	Fonts []string `json:"fonts"`
	Scale float64  `json:"scale"`
}

func TestGetAs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.backend.Put("settings", map[string]any{"lang": "en", "fonts": []string{"mono"}, "scale": 1.5}, 1)
	f.backend.Put("count", 3, 1)

	s, err := vuser.GetAs[settings](ctx, f.user, "settings")
	require.NoError(t, err)
	assert.Equal(t, settings{Lang: "en", Fonts: []string{"mono"}, Scale: 1.5}, s)

	n, err := vuser.GetAs[int](ctx, f.user, "count")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	missing, err := vuser.GetAs[*settings](ctx, f.user, "missing")
	require.NoError(t, err)
	assert.Nil(t, missing)

	_, err = vuser.GetAs[int](ctx, f.user, "settings")
	assert.ErrorIs(t, err, vuser.ErrDecode)
}

func TestAs(t *testing.T) {
	v, err := vuser.As[string]("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", v)

	s, err := vuser.As[settings](settings{Lang: "fr"})
	require.NoError(t, err)
	assert.Equal(t, "fr", s.Lang)

	_, err = vuser.As[int](make(chan int))
	assert.ErrorIs(t, err, vuser.ErrDecode)
}
