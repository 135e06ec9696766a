package fileutil

import (
	"bytes"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"hash/adler32"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
)

// Checksums holds the digests recorded for an archived file.
type Checksums struct {
	Size    int64
	MD5     string
	SHA256  string
	Adler32 string
}

// Equal reports whether both checksum sets describe identical content.
func (c Checksums) Equal(other Checksums) bool {
	return c.Size == other.Size && c.MD5 == other.MD5 &&
		c.SHA256 == other.SHA256 && c.Adler32 == other.Adler32
}

type hashers struct {
	md5    hash.Hash
	sha256 hash.Hash
	adler  hash.Hash32
}

func newHashers() *hashers {
	return &hashers{md5: md5.New(), sha256: sha256.New(), adler: adler32.New()}
}

func (h *hashers) writer() io.Writer {
	return io.MultiWriter(h.md5, h.sha256, h.adler)
}

func (h *hashers) sums(size int64) Checksums {
	return Checksums{
		Size:    size,
		MD5:     hex.EncodeToString(h.md5.Sum(nil)),
		SHA256:  hex.EncodeToString(h.sha256.Sum(nil)),
		Adler32: strconv.FormatUint(uint64(h.adler.Sum32()), 16),
	}
}

// HashFile computes MD5, SHA-256 and Adler-32 of path in one pass.
func HashFile(path string) (Checksums, error) {
	f, err := os.Open(path)
	if err != nil {
		return Checksums{}, err
	}
	defer f.Close()

	h := newHashers()
	n, err := io.Copy(h.writer(), f)
	if err != nil {
		return Checksums{}, fmt.Errorf("hash %s: %w", path, err)
	}
	return h.sums(n), nil
}

// CopyFileVerified streams src to a temporary sibling of dst while hashing
// the source, re-reads the copy and compares size and digests, then renames
// it over dst. An interrupted or mismatched copy never appears at dst.
// Parent directories of dst are created and the source mode and modification
// time are preserved.
func CopyFileVerified(src, dst string) (Checksums, error) {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return Checksums{}, fmt.Errorf("stat source: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return Checksums{}, fmt.Errorf("create destination directory: %w", err)
	}

	in, err := os.Open(src)
	if err != nil {
		return Checksums{}, err
	}
	defer in.Close()

	tmp := CopyTempPath(dst)
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, srcInfo.Mode().Perm())
	if err != nil {
		return Checksums{}, err
	}
	committed := false
	defer func() {
		_ = out.Close()
		if !committed {
			_ = os.Remove(tmp)
		}
	}()

	h := newHashers()
	written, err := io.Copy(out, io.TeeReader(in, h.writer()))
	if err != nil {
		return Checksums{}, err
	}
	if err := out.Sync(); err != nil {
		return Checksums{}, err
	}
	if err := out.Close(); err != nil {
		return Checksums{}, err
	}
	source := h.sums(written)

	if written != srcInfo.Size() {
		return Checksums{}, fmt.Errorf("copy size mismatch: source %d bytes, copied %d bytes", srcInfo.Size(), written)
	}
	_ = os.Chtimes(tmp, srcInfo.ModTime(), srcInfo.ModTime())

	copied, err := HashFile(tmp)
	if err != nil {
		return Checksums{}, err
	}
	if !source.Equal(copied) {
		return Checksums{}, fmt.Errorf("copy hash mismatch: %s corrupted during copy", dst)
	}
	if err := RenameDurable(tmp, dst); err != nil {
		return Checksums{}, err
	}
	committed = true
	return source, nil
}

// CopyTempPath is the staging name CopyFileVerified writes dst under. The
// name is fixed so a copy interrupted by a crash is overwritten by the next
// attempt instead of accumulating.
func CopyTempPath(dst string) string {
	return filepath.Join(filepath.Dir(dst), "."+filepath.Base(dst)+TempMarker+"copy")
}

// WriteFileAtomic writes data to a temporary sibling, fsyncs it, renames it
// over path and fsyncs the directory. Readers observe the old or the new
// content, never a partial write.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+base+TempMarker+"*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return SyncDir(dir)
}

// TempMarker appears in the name of every temporary file WriteFileAtomic creates.
const TempMarker = ".tmp."

// SyncDir fsyncs a directory so a preceding rename is durable.
func SyncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}

// RenameDurable renames src to dst and fsyncs both parent directories.
func RenameDurable(src, dst string) error {
	if err := os.Rename(src, dst); err != nil {
		return err
	}
	if err := SyncDir(filepath.Dir(dst)); err != nil {
		return err
	}
	if filepath.Dir(src) != filepath.Dir(dst) {
		return SyncDir(filepath.Dir(src))
	}
	return nil
}

// ReplaceWithLink atomically swaps path for a symbolic link to target.
func ReplaceWithLink(path, target string) error {
	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+TempMarker+"link")
	_ = os.Remove(tmp)
	if err := os.Symlink(target, tmp); err != nil {
		return fmt.Errorf("create link: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace %s with link: %w", path, err)
	}
	return SyncDir(filepath.Dir(path))
}

// IsSymlink reports whether path is a symbolic link. A missing path is not an error.
func IsSymlink(path string) (bool, error) {
	info, err := os.Lstat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.Mode()&os.ModeSymlink != 0, nil
}

// LinkTarget returns the target of the symbolic link at path, or "" when path
// is a regular file.
func LinkTarget(path string) (string, error) {
	link, err := IsSymlink(path)
	if err != nil || !link {
		return "", err
	}
	return os.Readlink(path)
}
