package assets

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bundledFS() fstest.MapFS {
	return fstest.MapFS{
		DefaultModelFile:  {Data: []byte("model-bytes")},
		DefaultLabelsFile: {Data: []byte("person\r\nbicycle\r\n\r\ncar\n")},
	}
}

func TestBundledSource(t *testing.T) {
	src := NewBundled(bundledFS(), Files{})
	assert.Equal(t, "bundled", src.Name())
	assert.True(t, src.Available())

	model, err := src.LoadModel()
	require.NoError(t, err)
	assert.Equal(t, []byte("model-bytes"), model)

	labels, err := src.LoadLabels()
	require.NoError(t, err)
	assert.Equal(t, []string{"person", "bicycle", "", "car"}, labels)
}

func TestBundledSourceMissingFiles(t *testing.T) {
	src := NewBundled(fstest.MapFS{"other.bin": {Data: []byte{1}}}, Files{Model: "other.bin"})
	assert.False(t, src.Available())

	_, err := src.LoadModel()
	require.NoError(t, err)

	_, err = src.LoadLabels()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotAvailable))
	assert.Contains(t, err.Error(), DefaultLabelsFile)
}

func TestBundledSourceDirectoryIsNotAvailable(t *testing.T) {
	fsys := fstest.MapFS{
		"m/x":             {Data: []byte{1}},
		DefaultLabelsFile: {Data: []byte("a")},
	}
	src := NewBundled(fsys, Files{Model: "m"})
	assert.False(t, src.Available())
	_, err := src.LoadModel()
	assert.True(t, errors.Is(err, ErrIO), "got %v", err)
}

func TestPackSource(t *testing.T) {
	root := t.TempDir()
	dir := PackDir(root, "")
	assert.Equal(t, filepath.Join(root, DefaultPackName, "assets"), dir)

	pack := NewPack(root, "", Files{})
	assert.False(t, pack.Available())
	_, err := pack.LoadModel()
	assert.True(t, errors.Is(err, ErrNotAvailable))

	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultModelFile), []byte("pack-model"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultLabelsFile), []byte("cat\ndog"), 0o600))

	assert.True(t, pack.Available())
	assert.True(t, strings.HasPrefix(pack.Name(), "pack:"))
	labels, err := pack.LoadLabels()
	require.NoError(t, err)
	assert.Equal(t, []string{"cat", "dog"}, labels)
}

func TestBundledDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "m.tflite"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "l.txt"), []byte("a\n"), 0o600))

	src := NewBundledDir(dir, Files{Model: "m.tflite", Labels: "./l.txt"})
	assert.True(t, src.Available())
	labels, err := src.LoadLabels()
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, labels)
}

func TestReadLabels(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", []string{}},
		{"a", []string{"a"}},
		{"a\n", []string{"a"}},
		{"a\r\nb", []string{"a", "b"}},
		{"a\n\nb\n", []string{"a", "", "b"}},
		{"\n", []string{""}},
		{"  spaced label \n", []string{"  spaced label "}},
	}
	for _, tt := range tests {
		got, err := ReadLabels(strings.NewReader(tt.in))
		require.NoError(t, err, "%q", tt.in)
		assert.Equal(t, tt.want, got, "%q", tt.in)
	}
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"": ModeAuto, "AUTO": ModeAuto, "bundled": ModeBundled, " pack ": ModePack} {
		got, err := ParseMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseMode("cloud")
	assert.Error(t, err)
}

func TestSelect(t *testing.T) {
	bundled := NewBundled(bundledFS(), Files{})
	missingPack := NewPack(t.TempDir(), "", Files{})
	presentPack := NewBundled(bundledFS(), Files{})

	got, err := Select(ModeAuto, bundled, missingPack)
	require.NoError(t, err)
	assert.Same(t, bundled, got)

	got, err = Select(ModeAuto, bundled, presentPack)
	require.NoError(t, err)
	assert.Same(t, presentPack, got)

	got, err = Select(ModePack, bundled, missingPack)
	require.NoError(t, err)
	assert.Same(t, missingPack, got)

	got, err = Select(ModeBundled, bundled, presentPack)
	require.NoError(t, err)
	assert.Same(t, bundled, got)

	_, err = Select(ModeBundled, nil, presentPack)
	assert.True(t, errors.Is(err, ErrNotAvailable))

	_, err = Select(ModeAuto, nil, nil)
	assert.True(t, errors.Is(err, ErrNotAvailable))

	_, err = Select(Mode("x"), bundled, nil)
	assert.Error(t, err)
}
