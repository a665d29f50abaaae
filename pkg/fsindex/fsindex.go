// Package fsindex implements the File Index & Walker component (§4.E):
// recursive directory enumeration with a symlink policy, a
// content-hashed index keyed by relative path, and an index diff used
// by the sync engine.
package fsindex

import (
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sanchxt/ldrop/pkg/codec/cborcanon"
	"github.com/sanchxt/ldrop/pkg/crypto"
	"github.com/sanchxt/ldrop/pkg/ldroperr"
)

// SymlinkMode controls how the walker treats symbolic links.
type SymlinkMode int

const (
	SymlinkFollow SymlinkMode = iota
	SymlinkPreserve
	SymlinkSkip
)

// Policy bundles the walker's knobs (§4.E).
type Policy struct {
	Symlinks      SymlinkMode
	IncludeHidden bool
	MaxDepth      int // 0 means unlimited
	Excludes      []string
}

// DefaultPolicy matches the conservative default: preserve symlinks,
// skip hidden entries, no depth limit, no excludes.
func DefaultPolicy() Policy {
	return Policy{Symlinks: SymlinkPreserve, IncludeHidden: false}
}

// EntryKind classifies one FileIndex entry.
type EntryKind int

const (
	KindFile EntryKind = iota
	KindDir
	KindSymlink
)

func (k EntryKind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDir:
		return "dir"
	case KindSymlink:
		return "symlink"
	default:
		return "unknown"
	}
}

// Entry is one FileIndex record (§3).
type Entry struct {
	Kind        EntryKind `cbor:"kind"`
	Size        int64     `cbor:"size"`
	ModTime     int64     `cbor:"mtime"`
	ContentHash uint64    `cbor:"content_hash"`
}

// Index is the FileIndex entity (§3): relative path -> entry, plus a
// root_hash summarising the whole tree.
type Index struct {
	Root    string
	Entries map[string]Entry
}

// RootHash is a pure function of Entries (§3 invariant): a canonical
// CBOR encoding of the sorted entries, hashed with xxHash64. Canonical
// encoding guarantees the same map produces the same bytes regardless
// of Go's randomized map iteration order.
func (idx *Index) RootHash() (uint64, error) {
	paths := make([]string, 0, len(idx.Entries))
	for p := range idx.Entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	type canonicalEntry struct {
		Path string `cbor:"path"`
		Entry
	}
	ordered := make([]canonicalEntry, 0, len(paths))
	for _, p := range paths {
		ordered = append(ordered, canonicalEntry{Path: p, Entry: idx.Entries[p]})
	}

	data, err := cborcanon.Marshal(ordered)
	if err != nil {
		return 0, ldroperr.Internal(fmt.Sprintf("canonical cbor marshal: %v", err))
	}
	return crypto.XXHash64(data), nil
}

// Build recursively enumerates root according to policy, building a
// content-hashed FileIndex. Among siblings, directories are ordered
// before files and each group is visited in name order, so the walk is
// deterministic (§4.E).
func Build(root string, policy Policy) (*Index, error) {
	idx := &Index{Root: root, Entries: make(map[string]Entry)}

	err := walkSorted(root, "", 0, policy, func(relPath string, d fs.DirEntry, fullPath string) error {
		info, err := d.Info()
		if err != nil {
			return ldroperr.IOError(err)
		}

		switch {
		case d.Type()&fs.ModeSymlink != 0:
			switch policy.Symlinks {
			case SymlinkSkip:
				return nil
			case SymlinkFollow:
				target, err := filepath.EvalSymlinks(fullPath)
				if err != nil {
					return ldroperr.IOError(err)
				}
				targetInfo, err := os.Stat(target)
				if err != nil {
					return ldroperr.IOError(err)
				}
				if targetInfo.IsDir() {
					idx.Entries[relPath] = Entry{Kind: KindDir, ModTime: info.ModTime().Unix()}
					return nil
				}
				hash, err := hashFile(target)
				if err != nil {
					return err
				}
				idx.Entries[relPath] = Entry{Kind: KindFile, Size: targetInfo.Size(), ModTime: targetInfo.ModTime().Unix(), ContentHash: hash}
				return nil
			default: // SymlinkPreserve
				idx.Entries[relPath] = Entry{Kind: KindSymlink, ModTime: info.ModTime().Unix()}
				return nil
			}
		case d.IsDir():
			idx.Entries[relPath] = Entry{Kind: KindDir, ModTime: info.ModTime().Unix()}
			return nil
		default:
			hash, err := hashFile(fullPath)
			if err != nil {
				return err
			}
			idx.Entries[relPath] = Entry{Kind: KindFile, Size: info.Size(), ModTime: info.ModTime().Unix(), ContentHash: hash}
			return nil
		}
	})
	if err != nil {
		return nil, err
	}
	return idx, nil
}

func hashFile(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, ldroperr.IOError(err)
	}
	return crypto.XXHash64(data), nil
}

type visitFunc func(relPath string, d fs.DirEntry, fullPath string) error

// walkSorted walks root depth-first, visiting directories before their
// children and sorting siblings directories-first, then by name,
// honoring MaxDepth/hidden/exclude policy.
func walkSorted(root, relPrefix string, depth int, policy Policy, visit visitFunc) error {
	fullDir := filepath.Join(root, relPrefix)
	entries, err := os.ReadDir(fullDir)
	if err != nil {
		return ldroperr.IOError(err)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir() != entries[j].IsDir() {
			return entries[i].IsDir()
		}
		return entries[i].Name() < entries[j].Name()
	})

	for _, e := range entries {
		name := e.Name()
		if !policy.IncludeHidden && strings.HasPrefix(name, ".") {
			continue
		}
		relPath := name
		if relPrefix != "" {
			relPath = filepath.ToSlash(filepath.Join(relPrefix, name))
		}
		if matchesExclude(relPath, policy.Excludes) {
			continue
		}

		fullPath := filepath.Join(fullDir, name)
		if e.IsDir() && e.Type()&fs.ModeSymlink == 0 {
			if err := visit(relPath, e, fullPath); err != nil {
				return err
			}
			if policy.MaxDepth == 0 || depth+1 < policy.MaxDepth {
				if err := walkSorted(root, relPath, depth+1, policy, visit); err != nil {
					return err
				}
			}
			continue
		}

		if err := visit(relPath, e, fullPath); err != nil {
			return err
		}
	}
	return nil
}

func matchesExclude(relPath string, excludes []string) bool {
	for _, pattern := range excludes {
		if ok, _ := filepath.Match(pattern, relPath); ok {
			return true
		}
		if ok, _ := filepath.Match(pattern, filepath.Base(relPath)); ok {
			return true
		}
	}
	return false
}

// ChangeKind classifies a Diff entry.
type ChangeKind int

const (
	ChangeNone ChangeKind = iota
	ChangeCreateLocal
	ChangeCreateRemote
	ChangeConflict
)

// DiffEntry is one path's classification when comparing two indices.
type DiffEntry struct {
	Path  string
	Kind  ChangeKind
	Local *Entry
	Remote *Entry
}

// Diff compares local and remote indices path-by-path (§4.F step 1-2,
// minus rename detection which the sync engine performs across the
// whole diff set).
func Diff(local, remote *Index) []DiffEntry {
	paths := make(map[string]struct{})
	for p := range local.Entries {
		paths[p] = struct{}{}
	}
	for p := range remote.Entries {
		paths[p] = struct{}{}
	}

	sorted := make([]string, 0, len(paths))
	for p := range paths {
		sorted = append(sorted, p)
	}
	sort.Strings(sorted)

	result := make([]DiffEntry, 0, len(sorted))
	for _, p := range sorted {
		l, lok := local.Entries[p]
		r, rok := remote.Entries[p]
		switch {
		case lok && !rok:
			le := l
			result = append(result, DiffEntry{Path: p, Kind: ChangeCreateRemote, Local: &le})
		case !lok && rok:
			re := r
			result = append(result, DiffEntry{Path: p, Kind: ChangeCreateLocal, Remote: &re})
		case l.Kind != r.Kind:
			le, re := l, r
			result = append(result, DiffEntry{Path: p, Kind: ChangeConflict, Local: &le, Remote: &re})
		case l.Kind == KindFile && l.ContentHash != r.ContentHash:
			le, re := l, r
			result = append(result, DiffEntry{Path: p, Kind: ChangeConflict, Local: &le, Remote: &re})
		default:
			le, re := l, r
			result = append(result, DiffEntry{Path: p, Kind: ChangeNone, Local: &le, Remote: &re})
		}
	}
	return result
}

// HashHex is a convenience formatter for logging/debugging content hashes.
func HashHex(h uint64) string {
	b := make([]byte, 8)
	crypto.PutUint64(b, h)
	return hex.EncodeToString(b)
}
