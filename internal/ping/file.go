package ping

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// Compile-time proof that FileStore satisfies the Store interface.
var _ Store = (*FileStore)(nil)

var errMalformed = errors.New("ping: malformed file")

// FileStore keeps pings as individual files under <root>/storage/<type>/.
// The directory is owned exclusively by the store.
type FileStore struct {
	root string
}

// NewFileStore returns a store rooted at root. Directories are created lazily.
func NewFileStore(root string) *FileStore {
	return &FileStore{root: filepath.Join(root, "storage")}
}

// Dir returns the directory holding pings of pingType.
func (s *FileStore) Dir(pingType string) string {
	return filepath.Join(s.root, pingType)
}

// Put writes p to a temporary file in the type directory, syncs it and
// renames it into place.
func (s *FileStore) Put(p *Ping) error {
	if err := p.Validate(); err != nil {
		return err
	}
	dir := s.Dir(p.Type)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("ping: create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".incoming-*")
	if err != nil {
		return fmt.Errorf("ping: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	w := bufio.NewWriter(tmp)
	_, _ = w.WriteString(p.UploadPath)
	_ = w.WriteByte('\n')
	_, _ = w.Write(p.Body)
	_ = w.WriteByte('\n')
	if err := w.Flush(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("ping: write %s: %w", p.DocumentID, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("ping: sync %s: %w", p.DocumentID, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("ping: close %s: %w", p.DocumentID, err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, p.DocumentID)); err != nil {
		return fmt.Errorf("ping: commit %s: %w", p.DocumentID, err)
	}
	return nil
}

func (s *FileStore) Count(pingType string) int {
	if !ValidType(pingType) {
		return 0
	}
	entries, err := os.ReadDir(s.Dir(pingType))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Warn().Err(err).Str("type", pingType).Msg("ping count failed")
		}
		return 0
	}
	n := 0
	for _, e := range entries {
		if e.Type().IsRegular() && ValidID(e.Name()) {
			n++
		}
	}
	return n
}

func (s *FileStore) Pending(pingType string) iter.Seq2[*Ping, error] {
	return func(yield func(*Ping, error) bool) {
		if !ValidType(pingType) {
			yield(nil, fmt.Errorf("%w: %q", ErrInvalidType, pingType))
			return
		}
		dir := s.Dir(pingType)
		entries, err := os.ReadDir(dir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return
			}
			yield(nil, fmt.Errorf("ping: list %s: %w", dir, err))
			return
		}

		for _, e := range entries {
			if !e.Type().IsRegular() || !ValidID(e.Name()) {
				continue
			}
			p, err := s.read(pingType, e.Name())
			switch {
			case errors.Is(err, fs.ErrNotExist):
				continue
			case errors.Is(err, errMalformed):
				log.Warn().Str("type", pingType).Str("id", e.Name()).Msg("discarding malformed ping")
				_ = os.Remove(filepath.Join(dir, e.Name()))
				continue
			case err != nil:
				yield(nil, err)
				return
			}
			if !yield(p, nil) {
				return
			}
		}
	}
}

func (s *FileStore) Remove(p *Ping) error {
	if !ValidType(p.Type) || !ValidID(p.DocumentID) {
		return fmt.Errorf("ping: remove %s/%s: %w", p.Type, p.DocumentID, ErrInvalidID)
	}
	err := os.Remove(filepath.Join(s.Dir(p.Type), p.DocumentID))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("ping: remove %s: %w", p.DocumentID, err)
	}
	return nil
}

func (s *FileStore) read(pingType, id string) (*Ping, error) {
	data, err := os.ReadFile(filepath.Join(s.Dir(pingType), id))
	if err != nil {
		return nil, fmt.Errorf("ping: read %s: %w", id, err)
	}
	path, body, ok := bytes.Cut(data, []byte{'\n'})
	if !ok || len(path) == 0 {
		return nil, errMalformed
	}
	body = bytes.TrimSuffix(body, []byte{'\n'})
	if len(body) == 0 {
		return nil, errMalformed
	}
	return &Ping{
		Type:       pingType,
		DocumentID: id,
		UploadPath: string(bytes.TrimSuffix(path, []byte{'\r'})),
		Body:       body,
	}, nil
}
