/* ---------------------------------------------------------------------------
** This software is in the public domain, furnished "as is", without technical
** support, and with no warranty, express or implied, as to its usefulness for
** any purpose.
** -------------------------------------------------------------------------*/

// Package assets locates the model and label files shipped with the service.
package assets

import (
	"bufio"
	"bytes"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrNotAvailable is returned when a source does not hold the requested file.
	ErrNotAvailable = errors.New("asset not available")
	// ErrIO is returned when an asset exists but cannot be read.
	ErrIO = errors.New("asset read failed")
)

const (
	DefaultModelFile  = "model_int8_qat.tflite"
	DefaultLabelsFile = "labels.txt"
	DefaultPackName   = "ai_pack_model"
)

// Source provides a model and its label table.
type Source interface {
	Name() string
	Available() bool
	LoadModel() ([]byte, error)
	LoadLabels() ([]string, error)
}

// Files names the two assets inside a source.
type Files struct {
	Model  string
	Labels string
}

// DefaultFiles returns the bundled file names.
func DefaultFiles() Files {
	return Files{Model: DefaultModelFile, Labels: DefaultLabelsFile}
}

func (f Files) withDefaults() Files {
	if f.Model == "" {
		f.Model = DefaultModelFile
	}
	if f.Labels == "" {
		f.Labels = DefaultLabelsFile
	}
	return f
}

type fsSource struct {
	name  string
	fsys  fs.FS
	files Files
}

// NewBundled serves assets from any file system, such as an embed.FS.
func NewBundled(fsys fs.FS, files Files) Source {
	return &fsSource{name: "bundled", fsys: fsys, files: files.withDefaults()}
}

// NewBundledDir serves assets from a directory on disk.
func NewBundledDir(dir string, files Files) Source {
	return NewBundled(os.DirFS(dir), files)
}

// PackDir is where an asset pack named name is installed under root.
func PackDir(root, name string) string {
	if name == "" {
		name = DefaultPackName
	}
	return filepath.Join(root, name, "assets")
}

// NewPack serves assets from an installed asset pack.
func NewPack(root, name string, files Files) Source {
	dir := PackDir(root, name)
	return &fsSource{name: "pack:" + dir, fsys: os.DirFS(dir), files: files.withDefaults()}
}

func (s *fsSource) Name() string { return s.name }

func (s *fsSource) Available() bool {
	for _, f := range []string{s.files.Model, s.files.Labels} {
		st, err := fs.Stat(s.fsys, clean(f))
		if err != nil || st.IsDir() {
			return false
		}
	}
	return true
}

func (s *fsSource) LoadModel() ([]byte, error) {
	return s.read(s.files.Model)
}

func (s *fsSource) LoadLabels() ([]string, error) {
	data, err := s.read(s.files.Labels)
	if err != nil {
		return nil, err
	}
	labels, err := ReadLabels(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrapf(ErrIO, "%s: %s: %v", s.name, s.files.Labels, err)
	}
	return labels, nil
}

func (s *fsSource) read(name string) ([]byte, error) {
	data, err := fs.ReadFile(s.fsys, clean(name))
	switch {
	case err == nil:
		return data, nil
	case errors.Is(err, fs.ErrNotExist):
		return nil, errors.Wrapf(ErrNotAvailable, "%s: %s", s.name, name)
	default:
		return nil, errors.Wrapf(ErrIO, "%s: %s: %v", s.name, name, err)
	}
}

// clean turns a relative name into an fs.FS path.
func clean(name string) string {
	return strings.TrimPrefix(path.Clean(filepath.ToSlash(name)), "/")
}

// ReadLabels reads one label per line. A trailing '\r' is removed and blank
// lines keep their index.
func ReadLabels(r io.Reader) ([]string, error) {
	labels := []string{}
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			line = strings.TrimSuffix(line, "\n")
			line = strings.TrimSuffix(line, "\r")
			labels = append(labels, line)
		}
		if err == io.EOF {
			return labels, nil
		}
		if err != nil {
			return nil, err
		}
	}
}
