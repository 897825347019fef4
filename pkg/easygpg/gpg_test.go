package easygpg

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEasyGPG_Verify(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Release"), []byte("Codename: trusty\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Release.gpg"), []byte("not a signature"), 0644))

	tests := []struct {
		name      string
		signature string
		fileName  string
	}{
		{name: "garbage signature", signature: "Release.gpg", fileName: "Release"},
		{name: "missing signature", signature: "InRelease.gpg", fileName: "Release"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := EasyGPG{Homedir: t.TempDir()}
			err := e.Verify(context.Background(), dir, tt.signature, tt.fileName)
			assert.Error(t, err)
		})
	}
}

func TestEasyGPG_VerifyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := EasyGPG{}.Verify(ctx, t.TempDir(), "Release.gpg", "Release")
	assert.Error(t, err)
}
