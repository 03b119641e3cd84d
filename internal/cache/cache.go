// Package cache persists reduction products and alignment parameters inside
// the session folder they describe, so closing and reopening a folder does
// not repeat work or lose corrections.
package cache

import (
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"stackalign/internal/align"
	"stackalign/internal/reduce"
	"stackalign/internal/session"
)

const (
	// ReductionName is the cached mean-frame bundle inside a session folder.
	ReductionName = "mean_frames.gob"
	// ParamsName is the saved alignment parameter set inside a session folder.
	ParamsName = "params_all.json"
)

// CacheError reports a cache file that exists but cannot be used. Callers
// treat it as a miss and fall back to recomputing.
type CacheError struct {
	Path string
	Err  error
}

func (e *CacheError) Error() string { return fmt.Sprintf("cache %s: %v", e.Path, e.Err) }

func (e *CacheError) Unwrap() error { return e.Err }

// Reduction is the cached product of a reduce run plus the fingerprint of
// the session files it was computed from. Loading never checks the
// fingerprint; only the staleness tooling consults it.
type Reduction struct {
	Result      reduce.Result
	Fingerprint Fingerprint
}

// SaveReduction writes the reduction bundle into folder.
func SaveReduction(folder string, red Reduction) error {
	path := filepath.Join(folder, ReductionName)
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := gob.NewEncoder(f).Encode(red); err != nil {
		f.Close()
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	return f.Close()
}

// LoadReduction reads the cached reduction for folder. A missing cache
// surfaces as fs.ErrNotExist; a present but unusable one as a CacheError.
func LoadReduction(folder string) (Reduction, error) {
	path := filepath.Join(folder, ReductionName)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Reduction{}, err
		}
		return Reduction{}, &CacheError{Path: path, Err: err}
	}
	defer f.Close()

	var red Reduction
	if err := gob.NewDecoder(f).Decode(&red); err != nil {
		return Reduction{}, &CacheError{Path: path, Err: err}
	}
	if red.Result.NSessions != len(red.Result.MeanFrames) {
		return Reduction{}, &CacheError{Path: path, Err: fmt.Errorf("bundle declares %d sessions but holds %d mean frames", red.Result.NSessions, len(red.Result.MeanFrames))}
	}
	return red, nil
}

// EvictReduction removes the cached reduction. Evicting a folder that has
// none is not an error.
func EvictReduction(folder string) error {
	err := os.Remove(filepath.Join(folder, ReductionName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// SaveParams writes the parameter set into folder. The file is indented
// JSON; operators diff and hand-edit these.
func SaveParams(folder string, set *align.ParamSet) error {
	raw, err := json.MarshalIndent(set, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(folder, ParamsName), append(raw, '\n'), 0o644)
}

// LoadParams reads the saved parameter set for folder. A missing file
// surfaces as fs.ErrNotExist, so callers can start from defaults.
func LoadParams(folder string) (*align.ParamSet, error) {
	path := filepath.Join(folder, ParamsName)
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, &CacheError{Path: path, Err: err}
	}

	set := align.NewParamSet()
	if err := json.Unmarshal(raw, set); err != nil {
		return nil, &CacheError{Path: path, Err: err}
	}
	if set.Sessions == nil {
		set.Sessions = make(map[int]align.Params)
	}
	return set, nil
}

// Fingerprint pins the identity of the session files a cached product was
// computed from.
type Fingerprint struct {
	Format session.Format
	Files  []FileInfo
}

// FileInfo identifies one session file. Paths are stored relative to the
// folder so relocating a whole folder does not read as a change.
type FileInfo struct {
	Path    string
	Size    int64
	ModTime int64
}

// Snapshot fingerprints the session files currently in folder. Packed
// sessions contribute their sidecars too, since a geometry edit invalidates
// the cached product just as surely as new frame data.
func Snapshot(folder string, format session.Format) (Fingerprint, error) {
	sessions, err := session.Discover(folder, format)
	if err != nil {
		return Fingerprint{}, err
	}
	fp := Fingerprint{Format: format}
	for _, s := range sessions {
		if err := fp.add(folder, s.Path); err != nil {
			return Fingerprint{}, err
		}
		if format == session.FormatSBX {
			side := session.SidecarPath(s.Path)
			if _, err := os.Stat(side); err == nil {
				if err := fp.add(folder, side); err != nil {
					return Fingerprint{}, err
				}
			}
		}
	}
	return fp, nil
}

func (f *Fingerprint) add(folder, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(folder, path)
	if err != nil {
		rel = path
	}
	f.Files = append(f.Files, FileInfo{
		Path:    rel,
		Size:    info.Size(),
		ModTime: info.ModTime().UnixNano(),
	})
	return nil
}

// Equal reports whether two fingerprints describe the same file set.
func (f Fingerprint) Equal(other Fingerprint) bool {
	if f.Format != other.Format || len(f.Files) != len(other.Files) {
		return false
	}
	for i, fi := range f.Files {
		if fi != other.Files[i] {
			return false
		}
	}
	return true
}
