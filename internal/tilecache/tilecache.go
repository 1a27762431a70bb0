// Package tilecache is the optional on-disk store of fully encoded terrain
// tiles. Paths derive injectively from the window identity, writes are
// atomic, and the whole tree is safe to delete at any time.
package tilecache

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/geoforge/ctod/internal/logger"
)

// tmpPrefix marks in-progress writes; a startup sweep removes strays left
// by a crash between write and rename.
const tmpPrefix = ".tmp-"

// Artifact is one encoded terrain tile.
type Artifact struct {
	Bytes       []byte
	ContentType string
	ETag        string
	CreatedAt   time.Time
}

// Cache stores artifacts under
// {root}/{fingerprint}/{meshing}/{resampling}/{z}/{x}/{y}.terrain.
type Cache struct {
	root string
}

// New opens (and creates) a disk cache rooted at the given directory.
func New(root string) (*Cache, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create tile cache root: %w", err)
	}
	return &Cache{root: root}, nil
}

// Root returns the cache root directory.
func (c *Cache) Root() string { return c.root }

// Path returns the artifact path for a window identity.
func (c *Cache) Path(fingerprint, meshingMethod, resampling string, z, x, y int) string {
	if resampling == "" {
		resampling = "none"
	}
	return filepath.Join(c.root, fingerprint, meshingMethod, resampling,
		strconv.Itoa(z), strconv.Itoa(x), strconv.Itoa(y)+".terrain")
}

// Get reads an artifact if present.
func (c *Cache) Get(fingerprint, meshingMethod, resampling string, z, x, y int) (*Artifact, bool) {
	path := c.Path(fingerprint, meshingMethod, resampling, z, x, y)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	info, err := os.Stat(path)
	created := time.Now()
	if err == nil {
		created = info.ModTime()
	}
	return &Artifact{
		Bytes:       data,
		ContentType: "application/vnd.quantized-mesh;extensions=octvertexnormals",
		ETag:        ETag(data),
		CreatedAt:   created,
	}, true
}

// Put writes an artifact atomically: tempfile in the target directory, then
// rename. Concurrent writers of the same tile serialize on the rename, last
// writer wins.
func (c *Cache) Put(fingerprint, meshingMethod, resampling string, z, x, y int, data []byte) error {
	path := c.Path(fingerprint, meshingMethod, resampling, z, x, y)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, tmpPrefix+filepath.Base(path)+"-")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Sweep removes tempfiles left behind by interrupted writes.
func (c *Cache) Sweep() {
	removed := 0
	filepath.WalkDir(c.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && strings.HasPrefix(d.Name(), tmpPrefix) {
			if os.Remove(path) == nil {
				removed++
			}
		}
		return nil
	})
	if removed > 0 {
		logger.Info("swept stray tile cache tempfiles", zap.Int("count", removed))
	}
}

// ETag returns the content hash served as the artifact's HTTP ETag.
func ETag(data []byte) string {
	const offset64 = 14695981039346656037
	const prime64 = 1099511628211
	h := uint64(offset64)
	for _, b := range data {
		h ^= uint64(b)
		h *= prime64
	}
	return fmt.Sprintf("%q", strconv.FormatUint(h, 16))
}
