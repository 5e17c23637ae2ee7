// Package dataset loads labelled image datasets and batches them for
// training.
//
// A dataset root either holds a label.txt file whose lines are
//
//	relative/path.jpg v1 v2 ...
//
// or one subdirectory per class, in which case targets are one-hot vectors
// in lexical class order.
package dataset

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/tphakala/carnet-go/internal/errors"
)

// LabelFile is the name of the regression label index in a dataset root.
const LabelFile = "label.txt"

var imageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".webp"}

// Sample is one example.
type Sample struct {
	Input  []float32
	Target []float32
	Path   string // source image, relative to the filesystem root
}

// Dataset is an indexable collection of samples.
type Dataset interface {
	Len() int
	Sample(i int) (Sample, error)
}

type entry struct {
	path   string
	target []float32
}

// ImageFolder is a dataset of images on disk.
type ImageFolder struct {
	fs      afero.Fs
	root    string
	size    int
	entries []entry
	classes []string

	mu    sync.RWMutex
	cache [][]float32
}

// NewImageFolder indexes the dataset under root. Images are decoded on
// first access or by Preload.
func NewImageFolder(fsys afero.Fs, root string, size int) (*ImageFolder, error) {
	if size <= 0 {
		return nil, errors.Newf("image size must be positive, got %d", size).
			Component("dataset").
			Category(errors.CategoryValidation).
			Build()
	}

	d := &ImageFolder{fs: fsys, root: root, size: size}

	labelPath := filepath.Join(root, LabelFile)
	exists, err := afero.Exists(fsys, labelPath)
	if err != nil {
		return nil, datasetError(err, root, "stat label file")
	}
	if exists {
		err = d.readLabelFile(labelPath)
	} else {
		err = d.readClassFolders()
	}
	if err != nil {
		return nil, err
	}

	if len(d.entries) == 0 {
		return nil, errors.Newf("dataset %s is empty", root).
			Component("dataset").
			Category(errors.CategoryDataset).
			Context("root", root).
			Build()
	}

	d.cache = make([][]float32, len(d.entries))
	return d, nil
}

func (d *ImageFolder) readLabelFile(labelPath string) error {
	f, err := d.fs.Open(labelPath)
	if err != nil {
		return datasetError(err, labelPath, "open label file")
	}
	defer f.Close()

	width := -1
	scanner := bufio.NewScanner(f)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			return labelLineError(labelPath, lineNo, "want a path and at least one target value")
		}

		target := make([]float32, 0, len(fields)-1)
		for _, f := range fields[1:] {
			v, err := strconv.ParseFloat(f, 32)
			if err != nil {
				return labelLineError(labelPath, lineNo, fmt.Sprintf("invalid target value %q", f))
			}
			target = append(target, float32(v))
		}
		if width >= 0 && len(target) != width {
			return labelLineError(labelPath, lineNo, fmt.Sprintf("%d target values, earlier lines have %d", len(target), width))
		}
		width = len(target)

		d.entries = append(d.entries, entry{
			path:   filepath.Join(d.root, filepath.FromSlash(fields[0])),
			target: target,
		})
	}
	if err := scanner.Err(); err != nil {
		return datasetError(err, labelPath, "read label file")
	}
	return nil
}

func (d *ImageFolder) readClassFolders() error {
	dirs, err := afero.ReadDir(d.fs, d.root)
	if err != nil {
		return datasetError(err, d.root, "list classes")
	}

	for _, fi := range dirs {
		if fi.IsDir() && !strings.HasPrefix(fi.Name(), ".") {
			d.classes = append(d.classes, fi.Name())
		}
	}
	slices.Sort(d.classes)

	for idx, class := range d.classes {
		files, err := afero.ReadDir(d.fs, filepath.Join(d.root, class))
		if err != nil {
			return datasetError(err, class, "list class images")
		}
		for _, fi := range files {
			if fi.IsDir() || !isImage(fi.Name()) {
				continue
			}
			target := make([]float32, len(d.classes))
			target[idx] = 1
			d.entries = append(d.entries, entry{
				path:   filepath.Join(d.root, class, fi.Name()),
				target: target,
			})
		}
	}
	return nil
}

func isImage(name string) bool {
	return slices.Contains(imageExtensions, strings.ToLower(path.Ext(name)))
}

// Len returns the number of samples.
func (d *ImageFolder) Len() int { return len(d.entries) }

// Classes returns the class names of a folder-per-class dataset, nil for a
// label.txt dataset.
func (d *ImageFolder) Classes() []string { return d.classes }

// ImageSize returns the square edge images are resized to.
func (d *ImageFolder) ImageSize() int { return d.size }

// TargetWidth returns the number of values in each target.
func (d *ImageFolder) TargetWidth() int { return len(d.entries[0].target) }

// Fs returns the filesystem samples are read from.
func (d *ImageFolder) Fs() afero.Fs { return d.fs }

// Sample returns sample i, decoding it if it has not been loaded yet.
func (d *ImageFolder) Sample(i int) (Sample, error) {
	if i < 0 || i >= len(d.entries) {
		return Sample{}, fmt.Errorf("sample index %d out of range [0, %d)", i, len(d.entries))
	}

	d.mu.RLock()
	input := d.cache[i]
	d.mu.RUnlock()

	if input == nil {
		var err error
		if input, err = d.load(i); err != nil {
			return Sample{}, err
		}
		d.mu.Lock()
		d.cache[i] = input
		d.mu.Unlock()
	}

	e := d.entries[i]
	return Sample{Input: input, Target: e.target, Path: e.path}, nil
}

func (d *ImageFolder) load(i int) ([]float32, error) {
	p := d.entries[i].path
	img, err := LoadImage(d.fs, p)
	if err != nil {
		return nil, datasetError(err, p, "load image")
	}
	return ToTensor(img, d.size), nil
}

// Preload decodes every image on up to workers goroutines.
func (d *ImageFolder) Preload(ctx context.Context, workers int) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))

	for i := range d.entries {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			d.mu.RLock()
			loaded := d.cache[i] != nil
			d.mu.RUnlock()
			if loaded {
				return nil
			}

			input, err := d.load(i)
			if err != nil {
				return err
			}
			d.mu.Lock()
			d.cache[i] = input
			d.mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

// Memory is an in-memory dataset.
type Memory []Sample

func (m Memory) Len() int { return len(m) }

func (m Memory) Sample(i int) (Sample, error) {
	if i < 0 || i >= len(m) {
		return Sample{}, fmt.Errorf("sample index %d out of range [0, %d)", i, len(m))
	}
	return m[i], nil
}

func datasetError(err error, p, op string) error {
	category := errors.CategoryFileIO
	if errors.Is(err, os.ErrNotExist) {
		category = errors.CategoryNotFound
	}
	return errors.New(err).
		Component("dataset").
		Category(category).
		Context("path", p).
		Context("operation", op).
		Build()
}

func labelLineError(labelPath string, line int, msg string) error {
	return errors.Newf("%s:%d: %s", labelPath, line, msg).
		Component("dataset").
		Category(errors.CategoryFileParsing).
		Context("path", labelPath).
		Context("line", line).
		Build()
}
