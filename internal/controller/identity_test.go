package controller

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractIdentity(t *testing.T) {
	tests := []struct {
		commonName string
		want       string
		wantErr    bool
	}{
		{"sensor-42.example", "sensor-42", false},
		{"sensor-42.a.b.c", "sensor-42", false},
		{"sensor-42", "sensor-42", false},
		{" sensor-7.example ", "sensor-7", false},
		{".example", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.commonName, func(t *testing.T) {
			got, err := ExtractIdentity(tt.commonName)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNoIdentity)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolver(t *testing.T) {
	provisioned := map[string]bool{"sensor-42": true}
	var asked []string
	resolver := NewResolver(LookupFunc(func(ctx context.Context, id string) (bool, error) {
		asked = append(asked, id)
		if id == "broken" {
			return false, errors.New("database is locked")
		}
		return provisioned[id], nil
	}))
	ctx := context.Background()

	id, err := resolver.Resolve(ctx, "sensor-42.example")
	require.NoError(t, err)
	assert.Equal(t, "sensor-42", id)

	_, err = resolver.Resolve(ctx, "ghost.example")
	assert.ErrorIs(t, err, ErrUnknownClient)

	_, err = resolver.Resolve(ctx, "broken.example")
	assert.ErrorIs(t, err, ErrUnknownClient)

	_, err = resolver.Resolve(ctx, ".example")
	assert.ErrorIs(t, err, ErrNoIdentity)

	assert.Equal(t, []string{"sensor-42", "ghost", "broken"}, asked)
}
