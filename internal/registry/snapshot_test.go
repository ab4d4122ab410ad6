package registry_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dcerrors "github.com/ahrav/go-contracts/internal/errors"
	"github.com/ahrav/go-contracts/internal/registry"
)

func writeSnapshot(t *testing.T, root, service, operation, body string) {
	t.Helper()
	dir := filepath.Join(root, service)
	require.NoError(t, os.MkdirAll(dir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, operation+".json"), []byte(body), 0o600))
}

func TestRegisterSnapshots(t *testing.T) {
	root := t.TempDir()
	writeSnapshot(t, root, "market", "price", `101.5`)
	writeSnapshot(t, root, "market", "broken", `{not json`)

	r, _ := newRegistry(t)
	names, err := r.RegisterSnapshots(root, []registry.SnapshotOperation{
		{Name: "snapshot.market.price", Service: "market", Operation: "price", Params: []string{"symbol"}},
		{Name: "snapshot.market.price", Service: "market", Operation: "price", Params: []string{"symbol", "window"}},
		{Name: "snapshot.market.volume", Service: "market", Operation: "volume"},
		{Name: "snapshot.market.broken", Service: "market", Operation: "broken"},
		{Name: "market.quote", Service: "market", Operation: "quote"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"snapshot.market.broken", "snapshot.market.price", "snapshot.market.volume"}, names,
		"already registered operations are left alone")

	meta, ok := r.Metadata("snapshot.market.price")
	require.True(t, ok)
	assert.Equal(t, []string{"symbol", "window"}, meta.OptionalParameters)

	ctx := context.Background()
	tests := []struct {
		name     string
		op       string
		params   map[string]any
		wantKind dcerrors.Kind
		want     string
	}{
		{name: "served", op: "snapshot.market.price", params: map[string]any{"symbol": "ACME"}, want: `101.5`},
		{name: "missing file", op: "snapshot.market.volume", wantKind: dcerrors.KindNotFound},
		{name: "invalid json", op: "snapshot.market.broken", wantKind: dcerrors.KindValidation},
		{name: "undeclared param", op: "snapshot.market.price", params: map[string]any{"other": 1}, wantKind: dcerrors.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := r.Execute(ctx, tt.op, tt.params)
			if tt.wantKind != "" {
				require.False(t, res.Success)
				assert.Equal(t, tt.wantKind, res.Error.Kind)
				return
			}
			require.True(t, res.Success)
			assert.JSONEq(t, tt.want, string(res.Content))
			assert.Equal(t, registry.ContentTypeJSON, res.ContentType)
		})
	}
}
