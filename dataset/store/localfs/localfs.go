package localfs

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/mycok/blockrank/dataset"
)

// compressedSuffix is appended to the file name of zstd compressed parts.
const compressedSuffix = ".zst"

// Static and compile-time check to ensure LocalStore implements
// dataset.Store interface.
var _ dataset.Store = (*LocalStore)(nil)

// LocalStore persists datasets on the local file system. Each dataset maps
// to a directory below the store root and each part to a file inside that
// directory.
type LocalStore struct {
	root     string
	compress bool
}

// NewLocalStore returns a LocalStore rooted at the specified directory,
// creating it if required. When compress is true, new parts are written
// zstd compressed. Compressed and uncompressed parts can always be read.
func NewLocalStore(root string, compress bool) (*LocalStore, error) {
	if root == "" {
		return nil, errors.New("local store: root directory not provided")
	}

	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("local store: %w", err)
	}

	return &LocalStore{root: root, compress: compress}, nil
}

// Create returns a writer for a new part of the specified dataset. Records
// are written to a hidden temporary file which is renamed into place when
// the writer is closed.
func (s *LocalStore) Create(ds, part string) (dataset.Writer, error) {
	dir := s.datasetPath(ds)
	if _, found := s.partPath(dir, part); found {
		return nil, fmt.Errorf("create part %s/%s: %w", ds, part, dataset.ErrExists)
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create part %s/%s: %w", ds, part, err)
	}

	f, err := os.CreateTemp(dir, "."+part+"-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("create part %s/%s: %w", ds, part, err)
	}

	w := &partWriter{
		file:      f,
		finalPath: filepath.Join(dir, part),
	}

	if s.compress {
		enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			_ = f.Close()
			_ = os.Remove(f.Name())

			return nil, fmt.Errorf("create part %s/%s: %w", ds, part, err)
		}

		w.encoder = enc
		w.finalPath += compressedSuffix
		w.buf = bufio.NewWriter(enc)
	} else {
		w.buf = bufio.NewWriter(f)
	}

	return w, nil
}

// Open returns an iterator over the records of a dataset part.
func (s *LocalStore) Open(ds, part string) (dataset.Iterator, error) {
	path, found := s.partPath(s.datasetPath(ds), part)
	if !found {
		return nil, fmt.Errorf("open part %s/%s: %w", ds, part, dataset.ErrNotFound)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open part %s/%s: %w", ds, part, err)
	}

	it := &partIterator{file: f}
	if strings.HasSuffix(path, compressedSuffix) {
		dec, err := zstd.NewReader(f)
		if err != nil {
			_ = f.Close()

			return nil, fmt.Errorf("open part %s/%s: %w", ds, part, err)
		}

		it.decoder = dec
		it.reader = bufio.NewReader(dec)
	} else {
		it.reader = bufio.NewReader(f)
	}

	return it, nil
}

// Parts returns the sorted list of committed parts of a dataset.
func (s *LocalStore) Parts(ds string) ([]string, error) {
	parts, err := listParts(s.datasetPath(ds))
	if err != nil {
		return nil, fmt.Errorf("list parts of %s: %w", ds, err)
	}

	if len(parts) == 0 {
		return nil, fmt.Errorf("list parts of %s: %w", ds, dataset.ErrNotFound)
	}

	return parts, nil
}

// Exists reports whether the dataset has at least one committed part.
func (s *LocalStore) Exists(ds string) (bool, error) {
	parts, err := listParts(s.datasetPath(ds))
	if err != nil {
		return false, fmt.Errorf("check dataset %s: %w", ds, err)
	}

	return len(parts) != 0, nil
}

// Delete removes the dataset directory and everything below it.
func (s *LocalStore) Delete(ds string) error {
	if err := os.RemoveAll(s.datasetPath(ds)); err != nil {
		return fmt.Errorf("delete dataset %s: %w", ds, err)
	}

	return nil
}

// Rename moves the dataset directory from to the dataset directory to.
func (s *LocalStore) Rename(from, to string) error {
	if exists, err := s.Exists(from); err != nil {
		return err
	} else if !exists {
		return fmt.Errorf("rename %s: %w", from, dataset.ErrNotFound)
	}

	if exists, err := s.Exists(to); err != nil {
		return err
	} else if exists {
		return fmt.Errorf("rename %s to %s: %w", from, to, dataset.ErrExists)
	}

	target := s.datasetPath(to)
	// Clear any part-less leftovers so that the directory rename succeeds.
	if err := os.RemoveAll(target); err != nil {
		return fmt.Errorf("rename %s to %s: %w", from, to, err)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return fmt.Errorf("rename %s to %s: %w", from, to, err)
	}

	if err := os.Rename(s.datasetPath(from), target); err != nil {
		return fmt.Errorf("rename %s to %s: %w", from, to, err)
	}

	return nil
}

// Datasets returns the sorted names of the datasets under prefix.
func (s *LocalStore) Datasets(prefix string) ([]string, error) {
	var names []string

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.IsDir() || path == s.root {
			return nil
		}

		parts, err := listParts(path)
		if err != nil {
			return err
		}

		if len(parts) == 0 {
			return nil
		}

		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}

		if name := filepath.ToSlash(rel); dataset.Under(name, prefix) {
			names = append(names, name)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}

	sort.Strings(names)

	return names, nil
}

func (s *LocalStore) datasetPath(ds string) string {
	return filepath.Join(s.root, filepath.FromSlash(ds))
}

// partPath returns the path of a committed part, compressed or not.
func (s *LocalStore) partPath(dir, part string) (string, bool) {
	for _, name := range []string{part, part + compressedSuffix} {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			return path, true
		}
	}

	return "", false
}

// listParts returns the sorted committed part names found in dir. Hidden
// temporary files are skipped. A missing directory has no parts.
func listParts(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}

		return nil, err
	}

	var parts []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() || strings.HasPrefix(name, ".") {
			continue
		}

		parts = append(parts, strings.TrimSuffix(name, compressedSuffix))
	}
	sort.Strings(parts)

	return parts, nil
}

// partWriter streams framed records into a temporary part file.
type partWriter struct {
	file      *os.File
	encoder   *zstd.Encoder
	buf       *bufio.Writer
	finalPath string
	closed    bool
}

// Write appends rec to the part.
func (w *partWriter) Write(rec dataset.Record) error {
	if w.closed {
		return fmt.Errorf("write to closed part %s", w.finalPath)
	}

	return dataset.WriteFrame(w.buf, rec)
}

// Close flushes all buffered data and atomically moves the temporary file to
// its final location.
func (w *partWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	err := w.buf.Flush()
	if w.encoder != nil {
		if closeErr := w.encoder.Close(); err == nil {
			err = closeErr
		}
	}

	if closeErr := w.file.Close(); err == nil {
		err = closeErr
	}

	if err == nil {
		err = os.Rename(w.file.Name(), w.finalPath)
	}

	if err != nil {
		_ = os.Remove(w.file.Name())

		return fmt.Errorf("commit part %s: %w", w.finalPath, err)
	}

	return nil
}

// Static and compile-time check to ensure partIterator implements
// dataset.Iterator interface.
var _ dataset.Iterator = (*partIterator)(nil)

// partIterator is a dataset.Iterator over a single part file.
type partIterator struct {
	file    *os.File
	decoder *zstd.Decoder
	reader  *bufio.Reader
	rec     dataset.Record
	lastErr error
}

// Next loads the next record, returns false when no more records
// are available or when an error occurs.
func (i *partIterator) Next() bool {
	if i.lastErr != nil {
		return false
	}

	rec, err := dataset.ReadFrame(i.reader)
	if err != nil {
		if !errors.Is(err, io.EOF) {
			i.lastErr = fmt.Errorf("read %s: %w", i.file.Name(), err)
		}

		return false
	}

	i.rec = rec

	return true
}

// Record returns the currently fetched record.
func (i *partIterator) Record() dataset.Record {
	return i.rec
}

// Error returns the last error encountered by the iterator.
func (i *partIterator) Error() error {
	return i.lastErr
}

// Close releases the underlying file and decoder.
func (i *partIterator) Close() error {
	if i.decoder != nil {
		i.decoder.Close()
	}

	return i.file.Close()
}
