// Package clipstore names, lists and removes saved clips in one directory.
package clipstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/bryanchriswhite/ShadowReplay/internal/clip"
	"github.com/bryanchriswhite/ShadowReplay/internal/frame"
	"github.com/bryanchriswhite/ShadowReplay/internal/logger"
)

const (
	namePrefix = "clip_"
	timeLayout = "20060102_150405"
)

var (
	ErrNotFound         = errors.New("clipstore: clip not found")
	ErrOutsideDirectory = errors.New("clipstore: path escapes clip directory")
)

// Info describes one saved clip.
type Info struct {
	ID         string        `json:"id"`
	Path       string        `json:"path"`
	CreatedAt  time.Time     `json:"created_at"`
	SizeBytes  int64         `json:"size_bytes"`
	FrameCount uint32        `json:"frame_count"`
	Width      uint32        `json:"width"`
	Height     uint32        `json:"height"`
	FPS        uint32        `json:"fps"`
	Duration   time.Duration `json:"duration"`
	SaveID     string        `json:"save_id,omitempty"`
}

// SizeHuman formats the file size with binary units.
func (i Info) SizeHuman() string {
	return humanize.IBytes(uint64(i.SizeBytes))
}

// Store manages the clip directory.
type Store struct {
	dir     string
	catalog *Catalog // nil when the catalog could not be opened
	thumbs  *Thumbnailer
	now     func() time.Time
	mu      sync.Mutex // serializes name allocation
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now for clip naming.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithoutCatalog skips the SQLite catalog; listings read clip headers instead.
func WithoutCatalog() Option {
	return func(s *Store) {
		if s.catalog != nil {
			s.catalog.Close()
			s.catalog = nil
		}
	}
}

// NewStore opens dir, creating it when missing.
func NewStore(dir string, opts ...Option) (*Store, error) {
	log := logger.WithComponent("clipstore")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create clip directory: %w", err)
	}

	s := &Store{dir: dir, now: time.Now}
	catalog, err := OpenCatalog(dir)
	if err != nil {
		log.Warn().Err(err).Msg("Clip catalog unavailable, falling back to file scans")
	} else {
		s.catalog = catalog
	}
	for _, opt := range opts {
		opt(s)
	}
	s.thumbs = NewThumbnailer(s, 64)

	log.Info().
		Str("dir", dir).
		Bool("catalog", s.catalog != nil).
		Msg("Clip store ready")
	return s, nil
}

func (s *Store) Dir() string { return s.dir }

// Thumbnails returns the store's thumbnail cache.
func (s *Store) Thumbnails() *Thumbnailer { return s.thumbs }

func (s *Store) Close() error {
	if s.catalog != nil {
		return s.catalog.Close()
	}
	return nil
}

// maxNameAttempts bounds the suffixes tried for clips created in one second.
const maxNameAttempts = 1000

// reserve claims a file name for a clip created at t by creating it with
// O_EXCL. A numeric suffix is added while the name is taken.
func (s *Store) reserve(t time.Time) (string, error) {
	base := namePrefix + t.Format(timeLayout)
	for n := 0; n < maxNameAttempts; n++ {
		name := base
		if n > 0 {
			name = fmt.Sprintf("%s_%d", base, n)
		}
		path := filepath.Join(s.dir, name+clip.Extension)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			f.Close()
			return path, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("failed to reserve clip name: %w", err)
		}
	}
	return "", fmt.Errorf("failed to reserve clip name: %d clips already exist for %s", maxNameAttempts, base)
}

// Save encodes frames into a new clip file and catalogs it.
func (s *Store) Save(frames []frame.Frame, rate, bitrate uint32, saveID string) (Info, error) {
	if len(frames) == 0 {
		return Info{}, clip.ErrEmptyInput
	}

	s.mu.Lock()
	createdAt := s.now()
	path, err := s.reserve(createdAt)
	s.mu.Unlock()
	if err != nil {
		return Info{}, err
	}

	if err := clip.Encode(frames, path, rate, bitrate); err != nil {
		os.Remove(path)
		return Info{}, err
	}

	st, err := os.Stat(path)
	if err != nil {
		return Info{}, fmt.Errorf("failed to stat saved clip: %w", err)
	}

	info := Info{
		ID:         idFromPath(path),
		Path:       path,
		CreatedAt:  createdAt,
		SizeBytes:  st.Size(),
		FrameCount: uint32(len(frames)),
		Width:      frames[0].Width(),
		Height:     frames[0].Height(),
		FPS:        rate,
		Duration:   durationOf(uint32(len(frames)), rate),
		SaveID:     saveID,
	}
	if s.catalog != nil {
		if err := s.catalog.Record(info); err != nil {
			logger.WithComponent("clipstore").Warn().Err(err).Str("id", info.ID).Msg("Failed to catalog clip")
		}
	}

	logger.WithComponent("clipstore").Info().
		Str("id", info.ID).
		Str("size", info.SizeHuman()).
		Uint32("frames", info.FrameCount).
		Msg("Clip saved")
	return info, nil
}

// List returns every clip in the directory, newest first.
func (s *Store) List() ([]Info, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read clip directory: %w", err)
	}

	var catalogued map[string]Info
	if s.catalog != nil {
		catalogued, err = s.catalog.All()
		if err != nil {
			logger.WithComponent("clipstore").Warn().Err(err).Msg("Catalog read failed")
			catalogued = nil
		}
	}

	clips := make([]Info, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != clip.Extension {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		id := idFromPath(path)
		if info, ok := catalogued[id]; ok {
			info.Path = path
			clips = append(clips, info)
			continue
		}
		info, err := s.describe(path)
		if err != nil {
			logger.WithComponent("clipstore").Debug().Err(err).Str("path", path).Msg("Skipping unreadable clip")
			continue
		}
		clips = append(clips, info)
	}

	sort.Slice(clips, func(i, j int) bool {
		if !clips[i].CreatedAt.Equal(clips[j].CreatedAt) {
			return clips[i].CreatedAt.After(clips[j].CreatedAt)
		}
		return clips[i].ID > clips[j].ID
	})
	return clips, nil
}

// Get returns the clip with the given id.
func (s *Store) Get(id string) (Info, error) {
	path, err := s.pathFor(id)
	if err != nil {
		return Info{}, err
	}
	if !fileExists(path) {
		return Info{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if s.catalog != nil {
		if info, ok, err := s.catalog.Lookup(id); err == nil && ok {
			info.Path = path
			return info, nil
		}
	}
	return s.describe(path)
}

// Open parses the clip with the given id.
func (s *Store) Open(id string) (*clip.Clip, error) {
	path, err := s.pathFor(id)
	if err != nil {
		return nil, err
	}
	c, err := clip.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return c, err
}

// Delete removes the clip file and its catalog entry.
func (s *Store) Delete(id string) error {
	path, err := s.pathFor(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return fmt.Errorf("failed to delete clip: %w", err)
	}
	if s.catalog != nil {
		if err := s.catalog.Remove(id); err != nil {
			logger.WithComponent("clipstore").Warn().Err(err).Str("id", id).Msg("Failed to uncatalog clip")
		}
	}
	s.thumbs.Forget(id)

	logger.WithComponent("clipstore").Info().Str("id", id).Msg("Clip deleted")
	return nil
}

// TotalSize sums the size of every clip file.
func (s *Store) TotalSize() (int64, error) {
	clips, err := s.List()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, c := range clips {
		total += c.SizeBytes
	}
	return total, nil
}

// pathFor resolves id to a file inside the directory.
func (s *Store) pathFor(id string) (string, error) {
	if id == "" || id != filepath.Base(id) || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", fmt.Errorf("%w: %q", ErrOutsideDirectory, id)
	}
	path := filepath.Join(s.dir, strings.TrimSuffix(id, clip.Extension)+clip.Extension)
	rel, err := filepath.Rel(s.dir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%w: %q", ErrOutsideDirectory, id)
	}
	return path, nil
}

func (s *Store) describe(path string) (Info, error) {
	st, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Info{}, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return Info{}, err
	}
	h, err := clip.ReadHeader(path)
	if err != nil {
		return Info{}, err
	}

	id := idFromPath(path)
	created, ok := ParseTimestamp(id)
	if !ok {
		created = st.ModTime()
	}
	return Info{
		ID:         id,
		Path:       path,
		CreatedAt:  created,
		SizeBytes:  st.Size(),
		FrameCount: h.FrameCount,
		Width:      h.Width,
		Height:     h.Height,
		FPS:        h.Rate,
		Duration:   durationOf(h.FrameCount, h.Rate),
	}, nil
}

// ParseTimestamp extracts the creation time encoded in a clip id or file
// name such as clip_20240115_143022 or clip_20240115_143022_2.qsp.
func ParseTimestamp(name string) (time.Time, bool) {
	name = strings.TrimSuffix(filepath.Base(name), clip.Extension)
	rest, ok := strings.CutPrefix(name, namePrefix)
	if !ok || len(rest) < len(timeLayout) {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(timeLayout, rest[:len(timeLayout)], time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func idFromPath(path string) string {
	return strings.TrimSuffix(filepath.Base(path), clip.Extension)
}

func durationOf(frames, rate uint32) time.Duration {
	if rate == 0 {
		return 0
	}
	return time.Duration(float64(frames) / float64(rate) * float64(time.Second))
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
