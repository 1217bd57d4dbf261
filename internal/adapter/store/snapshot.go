package store

import (
	"bufio"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"myroom/internal/domain"
)

const (
	manifestName       = "MANIFEST"
	indexMagic         = "MRIX"
	indexFormatVersion = uint32(1)
	indexHeaderSize    = 20
)

var (
	ErrNoSnapshot      = errors.New("no snapshot")
	ErrCorruptSnapshot = errors.New("corrupt snapshot")
	ErrNeedsRebuild    = errors.New("snapshot needs rebuild")

	errSnapshotMoved = errors.New("snapshot files replaced during load")

	bucketEntries = []byte("entries")
	bucketInfo    = []byte("info")
	keySchemaInfo = []byte("schema")
)

// Manifest names the index and metadata files of the current generation.
// It is replaced atomically after both files are durable.
type Manifest struct {
	Generation uint64    `json:"generation"`
	IndexFile  string    `json:"index_file"`
	MetaFile   string    `json:"meta_file"`
	Count      int       `json:"count"`
	Dimension  int       `json:"dimension"`
	SavedAt    time.Time `json:"saved_at"`
}

type indexHeader struct {
	Magic     [4]byte
	Version   uint32
	Dimension uint32
	Count     uint64
}

// files identifies the snapshot. Generation numbers alone can repeat when
// writers race without the advisory lock; file names carry a random suffix.
func (m Manifest) files() string {
	if m.IndexFile == "" && m.MetaFile == "" {
		return ""
	}
	return m.IndexFile + "|" + m.MetaFile
}

// ReadManifest returns the manifest of dir, or ErrNoSnapshot if nothing has
// been saved there yet.
func ReadManifest(dir string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(filepath.Join(dir, manifestName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return m, ErrNoSnapshot
		}
		return m, fmt.Errorf("failed to read manifest: %w", err)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("%w: manifest: %v", ErrCorruptSnapshot, err)
	}
	return m, nil
}

// Save writes the store to dir as a new generation. Either the index and
// metadata files both become current or neither does.
func (s *CatalogStore) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create store dir %s: %w", dir, err)
	}

	gen := s.generation
	if m, err := ReadManifest(dir); err == nil && m.Generation > gen {
		gen = m.Generation
	}
	gen++

	savedAt := s.now().UTC()
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	indexName := fmt.Sprintf("index-%010d-%s.f32", gen, suffix)
	metaName := fmt.Sprintf("meta-%010d-%s.db", gen, suffix)
	indexPath := filepath.Join(dir, indexName)
	metaPath := filepath.Join(dir, metaName)

	checksum, err := writeIndexFile(indexPath, s.index)
	if err != nil {
		_ = os.Remove(indexPath)
		return fmt.Errorf("failed to write index file: %w", err)
	}

	info := SchemaInfo{
		Version:       CurrentSchemaVersion,
		Dimension:     s.index.Dimension(),
		Count:         len(s.entries),
		IndexChecksum: checksum,
		Generation:    gen,
		SavedAt:       savedAt,
	}
	if err := writeMetaFile(metaPath, info, s.entries); err != nil {
		_ = os.Remove(indexPath)
		_ = os.Remove(metaPath)
		return fmt.Errorf("failed to write metadata file: %w", err)
	}

	m := Manifest{
		Generation: gen,
		IndexFile:  indexName,
		MetaFile:   metaName,
		Count:      len(s.entries),
		Dimension:  s.index.Dimension(),
		SavedAt:    savedAt,
	}
	if err := writeManifest(dir, m); err != nil {
		_ = os.Remove(indexPath)
		_ = os.Remove(metaPath)
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	s.generation = gen
	s.savedAt = savedAt
	s.files = m.files()
	prune(dir, gen, s.keep)
	return nil
}

// Load reads the current snapshot of dir into a fresh store. Any mismatch
// between the index file, the metadata file and the manifest is an error.
func Load(dir string, dim int, opts ...Option) (*CatalogStore, error) {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		var s *CatalogStore
		s, err = loadOnce(dir, dim, opts)
		if err == nil {
			return s, nil
		}
		if !errors.Is(err, errSnapshotMoved) {
			return nil, err
		}
	}
	return nil, err
}

func loadOnce(dir string, dim int, opts []Option) (*CatalogStore, error) {
	m, err := ReadManifest(dir)
	if err != nil {
		return nil, err
	}

	idx, checksum, err := readIndexFile(filepath.Join(dir, m.IndexFile), dim)
	if err != nil {
		return nil, missingAsMoved(err)
	}
	info, entries, err := readMetaFile(filepath.Join(dir, m.MetaFile), dim)
	if err != nil {
		return nil, missingAsMoved(err)
	}

	switch {
	case info.Generation != m.Generation:
		return nil, fmt.Errorf("%w: metadata generation %d, manifest %d", ErrCorruptSnapshot, info.Generation, m.Generation)
	case info.IndexChecksum != checksum:
		return nil, fmt.Errorf("%w: index checksum mismatch", ErrCorruptSnapshot)
	case idx.Len() != len(entries) || len(entries) != m.Count:
		return nil, fmt.Errorf("%w: index has %d vectors, metadata %d entries, manifest %d",
			ErrCorruptSnapshot, idx.Len(), len(entries), m.Count)
	}

	s := New(dim, opts...)
	s.index = idx
	s.entries = entries
	s.generation = m.Generation
	s.savedAt = info.SavedAt
	s.files = m.files()
	return s, nil
}

func missingAsMoved(err error) error {
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %v", errSnapshotMoved, err)
	}
	return err
}

func writeIndexFile(path string, idx *FlatIndex) (string, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", err
	}

	h := sha256.New()
	w := bufio.NewWriter(io.MultiWriter(f, h))

	hdr := indexHeader{
		Version:   indexFormatVersion,
		Dimension: uint32(idx.Dimension()),
		Count:     uint64(idx.Len()),
	}
	copy(hdr.Magic[:], indexMagic)

	if err := binary.Write(w, binary.LittleEndian, hdr); err != nil {
		_ = f.Close()
		return "", err
	}
	if idx.Len() > 0 {
		if err := binary.Write(w, binary.LittleEndian, idx.raw()); err != nil {
			_ = f.Close()
			return "", err
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return "", err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func readIndexFile(path string, dim int) (*FlatIndex, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, "", err
	}

	h := sha256.New()
	r := bufio.NewReader(io.TeeReader(f, h))

	var hdr indexHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, "", fmt.Errorf("%w: index header: %v", ErrCorruptSnapshot, err)
	}
	if string(hdr.Magic[:]) != indexMagic || hdr.Version != indexFormatVersion {
		return nil, "", fmt.Errorf("%w: unrecognized index file %s", ErrCorruptSnapshot, filepath.Base(path))
	}
	if int(hdr.Dimension) != dim {
		return nil, "", fmt.Errorf("%w: index dimension %d, configured %d", ErrNeedsRebuild, hdr.Dimension, dim)
	}
	want := int64(indexHeaderSize) + int64(hdr.Count)*int64(dim)*4
	if st.Size() != want {
		return nil, "", fmt.Errorf("%w: index file is %d bytes, header implies %d", ErrCorruptSnapshot, st.Size(), want)
	}

	var data []float32
	if hdr.Count > 0 {
		data = make([]float32, int(hdr.Count)*dim)
		if err := binary.Read(r, binary.LittleEndian, data); err != nil {
			return nil, "", fmt.Errorf("%w: index vectors: %v", ErrCorruptSnapshot, err)
		}
	}
	if _, err := io.Copy(io.Discard, r); err != nil {
		return nil, "", err
	}

	return &FlatIndex{dim: dim, data: data}, hex.EncodeToString(h.Sum(nil)), nil
}

func writeMetaFile(path string, info SchemaInfo, entries []domain.Entry) error {
	db, err := bbolt.Open(path, 0o644, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return err
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		eb, err := tx.CreateBucket(bucketEntries)
		if err != nil {
			return err
		}
		eb.FillPercent = 0.9 // keys are appended in order

		for i, e := range entries {
			data, err := json.Marshal(e)
			if err != nil {
				return err
			}
			if err := eb.Put(positionKey(i), data); err != nil {
				return err
			}
		}

		ib, err := tx.CreateBucket(bucketInfo)
		if err != nil {
			return err
		}
		infoData, err := json.Marshal(info)
		if err != nil {
			return err
		}
		return ib.Put(keySchemaInfo, infoData)
	})
	if closeErr := db.Close(); err == nil {
		err = closeErr
	}
	return err
}

func readMetaFile(path string, dim int) (SchemaInfo, []domain.Entry, error) {
	var info SchemaInfo
	if _, err := os.Stat(path); err != nil {
		return info, nil, err
	}

	db, err := bbolt.Open(path, 0o644, &bbolt.Options{ReadOnly: true, Timeout: time.Second})
	if err != nil {
		return info, nil, fmt.Errorf("%w: metadata file: %v", ErrCorruptSnapshot, err)
	}
	defer db.Close()

	var entries []domain.Entry
	err = db.View(func(tx *bbolt.Tx) error {
		ib := tx.Bucket(bucketInfo)
		eb := tx.Bucket(bucketEntries)
		if ib == nil || eb == nil {
			return fmt.Errorf("%w: metadata buckets missing", ErrCorruptSnapshot)
		}
		if err := json.Unmarshal(ib.Get(keySchemaInfo), &info); err != nil {
			return fmt.Errorf("%w: schema info: %v", ErrCorruptSnapshot, err)
		}
		if mr := CheckMigration(info, dim); mr.NeedsRebuild {
			return fmt.Errorf("%w: %s", ErrNeedsRebuild, mr.Reason)
		}

		entries = make([]domain.Entry, 0, info.Count)
		c := eb.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if len(k) != 8 || binary.BigEndian.Uint64(k) != uint64(len(entries)) {
				return fmt.Errorf("%w: entry positions are not contiguous at %d", ErrCorruptSnapshot, len(entries))
			}
			e, err := decodeEntry(info.Version, v)
			if err != nil {
				return fmt.Errorf("%w: entry %d: %v", ErrCorruptSnapshot, len(entries), err)
			}
			entries = append(entries, e)
		}
		if len(entries) != info.Count {
			return fmt.Errorf("%w: metadata holds %d entries, header says %d", ErrCorruptSnapshot, len(entries), info.Count)
		}
		return nil
	})
	return info, entries, err
}

// ReadSchemaInfo returns the manifest and metadata header of the current
// snapshot without decoding entries or checking compatibility.
func ReadSchemaInfo(dir string) (Manifest, SchemaInfo, error) {
	var info SchemaInfo
	m, err := ReadManifest(dir)
	if err != nil {
		return m, info, err
	}

	db, err := bbolt.Open(filepath.Join(dir, m.MetaFile), 0o644, &bbolt.Options{ReadOnly: true, Timeout: time.Second})
	if err != nil {
		return m, info, fmt.Errorf("%w: metadata file: %v", ErrCorruptSnapshot, err)
	}
	defer db.Close()

	err = db.View(func(tx *bbolt.Tx) error {
		ib := tx.Bucket(bucketInfo)
		if ib == nil {
			return fmt.Errorf("%w: metadata buckets missing", ErrCorruptSnapshot)
		}
		if err := json.Unmarshal(ib.Get(keySchemaInfo), &info); err != nil {
			return fmt.Errorf("%w: schema info: %v", ErrCorruptSnapshot, err)
		}
		return nil
	})
	return m, info, err
}

func writeManifest(dir string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, manifestName+"-*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, manifestName)); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}

	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

// staleTempAge is how old a manifest temp file must be before prune treats
// it as left behind by a crashed writer.
const staleTempAge = time.Minute

// prune removes data files more than keep generations older than current,
// and manifest temp files abandoned by crashed writers.
func prune(dir string, current uint64, keep int) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, de := range entries {
		if isManifestTemp(de.Name()) {
			if info, err := de.Info(); err == nil && time.Since(info.ModTime()) > staleTempAge {
				_ = os.Remove(filepath.Join(dir, de.Name()))
			}
			continue
		}
		gen, ok := fileGeneration(de.Name())
		if !ok {
			continue
		}
		if gen+uint64(keep) < current {
			_ = os.Remove(filepath.Join(dir, de.Name()))
		}
	}
}

func isManifestTemp(name string) bool {
	return strings.HasPrefix(name, manifestName+"-") && strings.HasSuffix(name, ".tmp")
}

func fileGeneration(name string) (uint64, bool) {
	var rest string
	switch {
	case strings.HasPrefix(name, "index-") && strings.HasSuffix(name, ".f32"):
		rest = strings.TrimPrefix(name, "index-")
	case strings.HasPrefix(name, "meta-") && strings.HasSuffix(name, ".db"):
		rest = strings.TrimPrefix(name, "meta-")
	default:
		return 0, false
	}
	num, _, ok := strings.Cut(rest, "-")
	if !ok {
		return 0, false
	}
	gen, err := strconv.ParseUint(num, 10, 64)
	if err != nil {
		return 0, false
	}
	return gen, true
}

func positionKey(i int) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(i))
	return k
}
