package source

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	gitgitignore "github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// Dir reads every *.jsonl and *.yaml shard under Root, in sorted relative
// path order, as one continuous stream.
type Dir struct {
	Root        string
	NoGitignore bool
}

func (s Dir) Describe() string { return "dir:" + s.Root }

func (s Dir) Open(ctx context.Context) (Iterator, error) {
	absRoot, err := filepath.Abs(s.Root)
	if err != nil {
		return nil, unavailable(s.Root, err)
	}
	st, err := os.Stat(absRoot)
	if err != nil {
		return nil, unavailable(s.Root, err)
	}
	if !st.IsDir() {
		return nil, unavailable(s.Root, errors.New("not a directory"))
	}
	shards, err := Shards(absRoot, s.NoGitignore)
	if err != nil {
		return nil, unavailable(s.Root, err)
	}
	return &dirIterator{ctx: ctx, root: absRoot, shards: shards}, nil
}

// Shards lists the shard files under absRoot as sorted slash-separated
// relative paths, skipping paths matched by .gitignore files unless
// noGitignore is set.
func Shards(absRoot string, noGitignore bool) ([]string, error) {
	ign := newIgnorer(absRoot, noGitignore)
	var shards []string
	err := filepath.WalkDir(absRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == absRoot {
			return nil
		}
		rel, err := filepath.Rel(absRoot, p)
		if err != nil {
			return err
		}
		isDir := d.IsDir()
		if isDir && d.Name() == ".git" {
			return fs.SkipDir
		}
		if ign.match(rel, isDir) {
			if isDir {
				return fs.SkipDir
			}
			return nil
		}
		if isDir || !isShard(d.Name()) {
			return nil
		}
		shards = append(shards, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(shards)
	return shards, nil
}

func isShard(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jsonl", ".ndjson", ".yaml", ".yml":
		return true
	}
	return false
}

// ignorer caches .gitignore patterns per directory.
type ignorer struct {
	absRoot  string
	disabled bool
	byDir    map[string][]gitgitignore.Pattern
}

func newIgnorer(absRoot string, disabled bool) *ignorer {
	return &ignorer{absRoot: absRoot, disabled: disabled, byDir: map[string][]gitgitignore.Pattern{}}
}

func (ig *ignorer) match(rel string, isDir bool) bool {
	if ig.disabled {
		return false
	}
	var patterns []gitgitignore.Pattern
	for _, d := range dirsForRel(rel) {
		patterns = append(patterns, ig.patterns(d)...)
	}
	if len(patterns) == 0 {
		return false
	}
	comps := strings.Split(filepath.ToSlash(rel), "/")
	return gitgitignore.NewMatcher(patterns).Match(comps, isDir)
}

func (ig *ignorer) patterns(dir string) []gitgitignore.Pattern {
	if ps, ok := ig.byDir[dir]; ok {
		return ps
	}
	var ps []gitgitignore.Pattern
	if b, err := os.ReadFile(filepath.Join(ig.absRoot, dir, ".gitignore")); err == nil {
		var base []string
		if dir != "." {
			base = strings.Split(filepath.ToSlash(dir), "/")
		}
		for _, line := range strings.Split(string(b), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			ps = append(ps, gitgitignore.ParsePattern(line, base))
		}
	}
	ig.byDir[dir] = ps
	return ps
}

// dirsForRel returns the directories from "." down to the parent of rel.
func dirsForRel(rel string) []string {
	dirs := []string{"."}
	dir := filepath.Dir(rel)
	if dir == "." {
		return dirs
	}
	cur := ""
	for _, part := range strings.Split(filepath.ToSlash(dir), "/") {
		if cur == "" {
			cur = part
		} else {
			cur = cur + "/" + part
		}
		dirs = append(dirs, filepath.FromSlash(cur))
	}
	return dirs
}

type dirIterator struct {
	ctx    context.Context
	root   string
	shards []string
	cur    Iterator
	next   int
}

func (it *dirIterator) Next() (Entry, error) {
	for {
		if it.cur == nil {
			if it.next >= len(it.shards) {
				return Entry{}, io.EOF
			}
			rel := it.shards[it.next]
			it.next++
			path := filepath.Join(it.root, filepath.FromSlash(rel))
			var src Source = JSONL{Path: path}
			if InferFormat(rel) == FormatYAML {
				src = YAML{Path: path}
			}
			cur, err := src.Open(it.ctx)
			if err != nil {
				return Entry{}, err
			}
			it.cur = relabel{Iterator: cur, from: path, to: rel}
		}
		e, err := it.cur.Next()
		if errors.Is(err, io.EOF) {
			cerr := it.cur.Close()
			it.cur = nil
			if cerr != nil {
				return Entry{}, cerr
			}
			continue
		}
		return e, err
	}
}

func (it *dirIterator) Close() error {
	if it.cur == nil {
		return nil
	}
	err := it.cur.Close()
	it.cur = nil
	return err
}

// relabel shortens shard locators to paths relative to the root.
type relabel struct {
	Iterator
	from, to string
}

func (r relabel) Next() (Entry, error) {
	e, err := r.Iterator.Next()
	if strings.HasPrefix(e.Locator, r.from) {
		e.Locator = r.to + strings.TrimPrefix(e.Locator, r.from)
	}
	return e, err
}
