// Package archive packs resolved save units into zip archives and extracts
// them back. Every archive carries a manifest.json that maps entries to unit
// indexes; archives without one are read by entry base name.
package archive

import (
	"archive/zip"
	"compress/bzip2"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fgeck/savekeeper/internal/models"
	"github.com/klauspost/compress/flate"
	"golang.org/x/crypto/blake2b"
)

// ManifestName is the archive entry holding the manifest.
const ManifestName = "manifest.json"

// zip method id of bzip2, used by archives from earlier releases.
const methodBzip2 uint16 = 12

// ErrEntryMissing is returned when the archive holds nothing for a unit.
var ErrEntryMissing = errors.New("unit not present in archive")

// Manifest describes the units stored in an archive.
type Manifest struct {
	Game      string         `json:"game"`
	CreatedAt time.Time      `json:"created_at"`
	Units     []ManifestUnit `json:"units"`
}

// ManifestUnit is one declared save unit.
type ManifestUnit struct {
	Index    int                 `json:"index"`
	Entry    string              `json:"entry"`
	UnitType models.SaveUnitType `json:"unit_type"`
	Path     string              `json:"path"`
	Missing  bool                `json:"missing,omitempty"`
}

// Write packs the units of plan into a zip stream. Missing units are recorded
// in the manifest but have no entries.
func Write(ctx context.Context, w io.Writer, plan *models.ResolvePlan, createdAt time.Time) (*Manifest, error) {
	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.DefaultCompression)
	})

	m := &Manifest{Game: plan.Game, CreatedAt: createdAt.UTC()}
	for _, ru := range plan.Missing {
		m.Units = append(m.Units, manifestUnit(ru, true))
	}

	for _, ru := range plan.Units {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var err error
		if ru.Unit.UnitType == models.SaveUnitFolder {
			err = addDir(ctx, zw, ru.AbsPath, ru.EntryName)
		} else {
			err = addFile(zw, ru.AbsPath, ru.EntryName)
		}
		if err != nil {
			return nil, err
		}
		m.Units = append(m.Units, manifestUnit(ru, false))
	}

	sortUnits(m.Units)

	mw, err := zw.Create(ManifestName)
	if err != nil {
		return nil, fmt.Errorf("writing manifest: %w", err)
	}
	enc := json.NewEncoder(mw)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return nil, fmt.Errorf("writing manifest: %w", err)
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finishing archive: %w", err)
	}
	return m, nil
}

func manifestUnit(ru models.ResolvedUnit, missing bool) ManifestUnit {
	return ManifestUnit{
		Index:    ru.Index,
		Entry:    ru.EntryName,
		UnitType: ru.Unit.UnitType,
		Path:     ru.Unit.Path,
		Missing:  missing,
	}
}

func sortUnits(units []ManifestUnit) {
	sort.Slice(units, func(i, j int) bool { return units[i].Index < units[j].Index })
}

func addFile(zw *zip.Writer, src, name string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", src, err)
	}

	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("header for %s: %w", src, err)
	}
	hdr.Name = name
	hdr.Method = zip.Deflate

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("adding %s: %w", src, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("compressing %s: %w", src, err)
	}
	return nil
}

// addDir packs the tree below root. A symlinked root is followed; links
// further down are not.
func addDir(ctx context.Context, zw *zip.Writer, root, prefix string) error {
	resolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", root, err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return fmt.Errorf("stat %s: %w", root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a folder", root)
	}
	root = resolved

	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walking %s: %w", p, err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		name := prefix
		if rel != "." {
			name = path.Join(prefix, filepath.ToSlash(rel))
		}

		switch {
		case d.IsDir():
			info, err := d.Info()
			if err != nil {
				return fmt.Errorf("stat %s: %w", p, err)
			}
			hdr, err := zip.FileInfoHeader(info)
			if err != nil {
				return fmt.Errorf("header for %s: %w", p, err)
			}
			hdr.Name = name + "/"
			_, err = zw.CreateHeader(hdr)
			return err
		case d.Type().IsRegular():
			return addFile(zw, p, name)
		default:
			// Symlinks and special files are not save data.
			return nil
		}
	})
}

// Reader reads an archive written by Write or by an earlier release.
type Reader struct {
	path     string
	zr       *zip.ReadCloser
	manifest *Manifest
}

// Open opens the archive at path.
func Open(p string) (*Reader, error) {
	zr, err := zip.OpenReader(p)
	if err != nil {
		return nil, &models.ArchiveCorruptError{Path: p, Err: err}
	}
	zr.RegisterDecompressor(zip.Deflate, flate.NewReader)
	zr.RegisterDecompressor(methodBzip2, func(r io.Reader) io.ReadCloser {
		return io.NopCloser(bzip2.NewReader(r))
	})

	r := &Reader{path: p, zr: zr}
	for _, f := range zr.File {
		if f.Name != ManifestName {
			continue
		}
		m, err := readManifest(f)
		if err != nil {
			_ = zr.Close()
			return nil, &models.ArchiveCorruptError{Path: p, Err: err}
		}
		r.manifest = m
		break
	}
	return r, nil
}

func readManifest(f *zip.File) (*Manifest, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("opening manifest: %w", err)
	}
	defer func() { _ = rc.Close() }()

	var m Manifest
	if err := json.NewDecoder(rc).Decode(&m); err != nil {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}
	return &m, nil
}

// Close releases the archive.
func (r *Reader) Close() error {
	return r.zr.Close()
}

// Manifest returns the archive manifest, nil for archives of earlier releases.
func (r *Reader) Manifest() *Manifest {
	return r.manifest
}

// entryFor returns the archive root name of ru.
func (r *Reader) entryFor(ru models.ResolvedUnit) (string, bool) {
	if r.manifest == nil {
		return filepath.Base(ru.AbsPath), true
	}
	for _, u := range r.manifest.Units {
		if u.Index == ru.Index {
			return u.Entry, !u.Missing
		}
	}
	return "", false
}

// HasUnit reports whether the archive holds content for ru.
func (r *Reader) HasUnit(ru models.ResolvedUnit) bool {
	root, ok := r.entryFor(ru)
	if !ok {
		return false
	}
	for _, f := range r.zr.File {
		if f.Name == root || strings.HasPrefix(f.Name, root+"/") {
			return true
		}
	}
	return false
}

// Verify reads every entry so that damaged data is detected before anything
// on disk is touched.
func (r *Reader) Verify() error {
	for _, f := range r.zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return &models.ArchiveCorruptError{Path: r.path, Err: err}
		}
		_, err = io.Copy(io.Discard, rc)
		_ = rc.Close()
		if err != nil {
			return &models.ArchiveCorruptError{Path: r.path, Err: fmt.Errorf("%s: %w", f.Name, err)}
		}
	}
	return nil
}

// Extract writes the content stored for ru to ru.AbsPath, overwriting what is
// there. Read failures are *models.ArchiveCorruptError; anything else is a
// filesystem error.
func (r *Reader) Extract(ru models.ResolvedUnit) error {
	root, ok := r.entryFor(ru)
	if !ok {
		return ErrEntryMissing
	}

	if ru.Unit.UnitType == models.SaveUnitFile {
		for _, f := range r.zr.File {
			if f.Name == root {
				return r.extractFile(f, ru.AbsPath)
			}
		}
		return ErrEntryMissing
	}

	found := false
	for _, f := range r.zr.File {
		if f.Name != root+"/" && !strings.HasPrefix(f.Name, root+"/") {
			continue
		}
		found = true

		rel := strings.TrimPrefix(f.Name, root+"/")
		target, err := safeJoin(ru.AbsPath, rel)
		if err != nil {
			return &models.ArchiveCorruptError{Path: r.path, Err: err}
		}

		if f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/") {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("creating %s: %w", target, err)
			}
			continue
		}
		if err := r.extractFile(f, target); err != nil {
			return err
		}
	}
	if !found {
		return ErrEntryMissing
	}
	return nil
}

func (r *Reader) extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(target), err)
	}

	rc, err := f.Open()
	if err != nil {
		return &models.ArchiveCorruptError{Path: r.path, Err: err}
	}
	defer func() { _ = rc.Close() }()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, fileMode(f))
	if err != nil {
		return fmt.Errorf("opening %s: %w", target, err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		_ = out.Close()
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			return fmt.Errorf("writing %s: %w", target, err)
		}
		return &models.ArchiveCorruptError{Path: r.path, Err: fmt.Errorf("%s: %w", f.Name, err)}
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", target, err)
	}
	if !f.Modified.IsZero() {
		_ = os.Chtimes(target, f.Modified, f.Modified)
	}
	return nil
}

func fileMode(f *zip.File) os.FileMode {
	if m := f.Mode().Perm(); m != 0 {
		return m
	}
	return 0o644
}

// safeJoin joins rel below dir and rejects names escaping it.
func safeJoin(dir, rel string) (string, error) {
	if rel == "" {
		return dir, nil
	}
	target := filepath.Join(dir, filepath.FromSlash(rel))
	if target != dir && !strings.HasPrefix(target, dir+string(filepath.Separator)) {
		return "", fmt.Errorf("entry %q escapes its unit", rel)
	}
	return target, nil
}

// Checksum returns the BLAKE2b-256 digest (hex) and size of the file at p.
func Checksum(p string) (string, int64, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", 0, fmt.Errorf("opening %s: %w", p, err)
	}
	defer func() { _ = f.Close() }()

	h := NewHash()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("hashing %s: %w", p, err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// ChecksumBytes returns the BLAKE2b-256 digest (hex) of data.
func ChecksumBytes(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// NewHash returns the archive checksum hash.
func NewHash() hash.Hash {
	h, _ := blake2b.New256(nil) // only fails for keys longer than 64 bytes
	return h
}
