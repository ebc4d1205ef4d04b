package batchqueue

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/cespare/xxhash/v2"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	uuid "github.com/gofrs/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/go-sif/sifudf/logging"
)

// Spiller moves a batch out of memory
type Spiller interface {
	// Spill persists rec. The caller keeps its reference to rec.
	Spill(rec arrow.Record) (Spilled, error)
}

// Spilled is a batch which has been moved out of memory
type Spilled interface {
	// Load brings the batch back into memory and discards the persisted copy
	Load(mem memory.Allocator) (arrow.Record, error)
	// Discard drops the persisted copy
	Discard() error
}

// DiskSpiller writes batches as compressed Arrow IPC streams to a filesystem
type DiskSpiller struct {
	fs     afero.Fs
	dir    string
	codec  Codec
	logger log.Logger
}

// NewDiskSpiller creates a DiskSpiller writing into dir on fs
func NewDiskSpiller(fs afero.Fs, dir string, codec Codec, logger log.Logger) (*DiskSpiller, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating spill directory %s", dir)
	}
	return &DiskSpiller{fs: fs, dir: dir, codec: codec, logger: logging.OrNop(logger)}, nil
}

type spilledFile struct {
	fs       afero.Fs
	path     string
	checksum uint64
	codec    Codec
}

// Spill writes rec to a new file
func (s *DiskSpiller) Spill(rec arrow.Record) (Spilled, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	path := filepath.Join(s.dir, fmt.Sprintf("sifudf-spill-%s.arrows.%s", id, s.codec.Name()))
	f, err := s.fs.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "creating spill file %s", path)
	}
	h := xxhash.New()
	err = s.write(io.MultiWriter(f, h), rec)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		s.fs.Remove(path)
		return nil, errors.Wrapf(err, "writing spill file %s", path)
	}
	level.Debug(s.logger).Log("msg", "spilled key batch", "path", path, "rows", rec.NumRows())
	return &spilledFile{fs: s.fs, path: path, checksum: h.Sum64(), codec: s.codec}, nil
}

func (s *DiskSpiller) write(w io.Writer, rec arrow.Record) error {
	cw, err := s.codec.NewWriter(w)
	if err != nil {
		return err
	}
	iw := ipc.NewWriter(cw, ipc.WithSchema(rec.Schema()))
	if err := iw.Write(rec); err != nil {
		iw.Close()
		cw.Close()
		return err
	}
	if err := iw.Close(); err != nil {
		cw.Close()
		return err
	}
	return cw.Close()
}

// Load reads the batch back, verifying that the file is unchanged since it was written
func (sf *spilledFile) Load(mem memory.Allocator) (arrow.Record, error) {
	defer sf.Discard()
	buf, err := afero.ReadFile(sf.fs, sf.path)
	if err != nil {
		return nil, err
	}
	if sum := xxhash.Sum64(buf); sum != sf.checksum {
		return nil, fmt.Errorf("Spill file %s is corrupt: checksum %x, expected %x", sf.path, sum, sf.checksum)
	}
	cr, err := sf.codec.NewReader(bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	defer cr.Close()
	ir, err := ipc.NewReader(cr, ipc.WithAllocator(mem))
	if err != nil {
		return nil, err
	}
	defer ir.Release()
	if !ir.Next() {
		if ir.Err() != nil {
			return nil, ir.Err()
		}
		return nil, fmt.Errorf("Spill file %s holds no batch", sf.path)
	}
	rec := ir.Record()
	rec.Retain()
	return rec, nil
}

// Discard removes the file
func (sf *spilledFile) Discard() error {
	if err := sf.fs.Remove(sf.path); err != nil && !errors.Is(err, afero.ErrFileNotFound) {
		return err
	}
	return nil
}
