// Package checkpoint persists model parameters.
//
// File layout:
//
//	magic    "CNCK"
//	version  uint16 little endian
//	hdrLen   uint32 little endian
//	header   JSON, see Header
//	payload  zlib stream of float32 little endian values, params in header order
package checkpoint

import (
	"bufio"
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/spf13/afero"

	"github.com/tphakala/carnet-go/internal/errors"
	"github.com/tphakala/carnet-go/internal/nn"
)

const (
	magic   = "CNCK"
	version = uint16(1)

	// maxHeaderSize bounds the JSON header read from untrusted files.
	maxHeaderSize = 16 << 20
)

// Header describes the parameters stored in a checkpoint.
type Header struct {
	Model   string            `json:"model"`
	Created time.Time         `json:"created"`
	Params  []ParamInfo       `json:"params"`
	Meta    map[string]string `json:"meta,omitempty"`
}

// ParamInfo names one stored parameter.
type ParamInfo struct {
	Name  string `json:"name"`
	Shape []int  `json:"shape"`
}

// Store reads and writes checkpoints on a filesystem.
type Store struct {
	fs  afero.Fs
	now func() time.Time
}

// NewStore returns a store over fsys. A nil fsys uses the OS filesystem.
func NewStore(fsys afero.Fs) *Store {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	return &Store{fs: fsys, now: time.Now}
}

// Exists reports whether a checkpoint file is present at path.
func (s *Store) Exists(path string) (bool, error) {
	return afero.Exists(s.fs, path)
}

// Save writes the parameters of model to path. The file is written to a
// temporary name in the same directory, synced and renamed into place.
func (s *Store) Save(path string, model nn.Model, meta map[string]string) error {
	params := model.Params()
	hdr := Header{Model: model.Name(), Created: s.now().UTC(), Meta: meta}
	for _, p := range params {
		hdr.Params = append(hdr.Params, ParamInfo{Name: p.Name, Shape: p.Shape})
	}

	dir := filepath.Dir(path)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return saveError(err, path, "create directory")
	}

	tmp, err := afero.TempFile(s.fs, dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return saveError(err, path, "create temp file")
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = s.fs.Remove(tmpName)
		}
	}()

	w := bufio.NewWriter(tmp)
	if err := encode(w, hdr, params); err != nil {
		return saveError(err, path, "encode")
	}
	if err := w.Flush(); err != nil {
		return saveError(err, path, "write")
	}
	if err := tmp.Sync(); err != nil {
		return saveError(err, path, "sync")
	}
	if err := tmp.Close(); err != nil {
		return saveError(err, path, "close")
	}
	if err := s.fs.Rename(tmpName, path); err != nil {
		return saveError(err, path, "rename")
	}
	committed = true
	return nil
}

// Load reads the checkpoint at path into the parameters of model. Names
// and shapes must match exactly.
func (s *Store) Load(path string, model nn.Model) (*Header, error) {
	f, err := s.fs.Open(path)
	if err != nil {
		category := errors.CategoryModelLoad
		if errors.Is(err, os.ErrNotExist) {
			category = errors.CategoryNotFound
		}
		return nil, errors.New(err).
			Component("checkpoint").
			Category(category).
			ModelContext(path, model.Name()).
			Context("path", path).
			Build()
	}
	defer f.Close()

	hdr, err := decode(bufio.NewReader(f), model)
	if err != nil {
		return nil, errors.New(fmt.Errorf("load checkpoint %s: %w", path, err)).
			Component("checkpoint").
			Category(errors.CategoryModelLoad).
			ModelContext(path, model.Name()).
			Context("path", path).
			Build()
	}
	return hdr, nil
}

// ReadHeader returns the header of the checkpoint at path without
// touching any model.
func (s *Store) ReadHeader(path string) (*Header, error) {
	f, err := s.fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readHeader(bufio.NewReader(f))
}

func encode(w io.Writer, hdr Header, params []*nn.Param) error {
	hdrJSON, err := json.Marshal(hdr)
	if err != nil {
		return err
	}

	var prefix bytes.Buffer
	prefix.WriteString(magic)
	_ = binary.Write(&prefix, binary.LittleEndian, version)
	_ = binary.Write(&prefix, binary.LittleEndian, uint32(len(hdrJSON)))
	prefix.Write(hdrJSON)
	if _, err := w.Write(prefix.Bytes()); err != nil {
		return err
	}

	zw := zlib.NewWriter(w)
	buf := make([]byte, 4)
	for _, p := range params {
		for _, v := range p.Value {
			binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
			if _, err := zw.Write(buf); err != nil {
				return err
			}
		}
	}
	return zw.Close()
}

func readHeader(r io.Reader) (*Header, error) {
	var fixed [10]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return nil, fmt.Errorf("read preamble: %w", err)
	}
	if string(fixed[:4]) != magic {
		return nil, fmt.Errorf("not a checkpoint file")
	}
	if v := binary.LittleEndian.Uint16(fixed[4:6]); v != version {
		return nil, fmt.Errorf("unsupported checkpoint version %d", v)
	}
	n := binary.LittleEndian.Uint32(fixed[6:10])
	if n > maxHeaderSize {
		return nil, fmt.Errorf("header size %d exceeds limit", n)
	}

	raw := make([]byte, n)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	var hdr Header
	if err := json.Unmarshal(raw, &hdr); err != nil {
		return nil, fmt.Errorf("parse header: %w", err)
	}
	return &hdr, nil
}

func decode(r io.Reader, model nn.Model) (*Header, error) {
	hdr, err := readHeader(r)
	if err != nil {
		return nil, err
	}

	params := model.Params()
	if len(hdr.Params) != len(params) {
		return nil, fmt.Errorf("checkpoint has %d params, model %s has %d", len(hdr.Params), model.Name(), len(params))
	}
	for i, info := range hdr.Params {
		if info.Name != params[i].Name || !slices.Equal(info.Shape, params[i].Shape) {
			return nil, fmt.Errorf("param %d is %s%v in checkpoint, %s%v in model",
				i, info.Name, info.Shape, params[i].Name, params[i].Shape)
		}
	}

	zr, err := zlib.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("open payload: %w", err)
	}
	defer zr.Close()

	// Decode into scratch so a truncated payload leaves the model untouched
	values := make([][]float32, len(params))
	buf := make([]byte, 4)
	for i, p := range params {
		values[i] = make([]float32, p.Size())
		for j := range values[i] {
			if _, err := io.ReadFull(zr, buf); err != nil {
				return nil, fmt.Errorf("read %s: %w", p.Name, err)
			}
			values[i][j] = math.Float32frombits(binary.LittleEndian.Uint32(buf))
		}
	}
	for i, p := range params {
		copy(p.Value, values[i])
	}
	return hdr, nil
}

func saveError(err error, path, op string) error {
	return errors.New(err).
		Component("checkpoint").
		Category(errors.CategoryModelSave).
		Context("path", path).
		Context("operation", op).
		Build()
}
