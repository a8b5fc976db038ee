package ledger

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	logx "vigil/pkg/logx"
)

const activityFile = "activity.jsonl"

// fileStore keeps one directory per component:
//
//	<root>/<component>/activity.jsonl   (append-only JSON Lines)
//
// Once a file holds max+max/4 lines it is compacted to the newest max records
// by writing a temp file and renaming it over the original.
type fileStore struct {
	root string
	max  int
	log  logx.Logger

	mu     sync.Mutex
	comps  map[string]*fileComponent
	closed bool
}

type fileComponent struct {
	mu    sync.Mutex
	path  string
	f     *os.File
	lines int
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	root := strings.TrimSpace(cfg.Path)
	if root == "" {
		return nil, errors.New("ledger.path is required for file driver")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &fileStore{root: root, max: cfg.MaxRecords, log: log, comps: map[string]*fileComponent{}}, nil
}

func (s *fileStore) component(name string, create bool) (*fileComponent, error) {
	if err := validComponent(name); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if c, ok := s.comps[name]; ok {
		return c, nil
	}
	path := filepath.Join(s.root, name, activityFile)
	if !create {
		if _, err := os.Stat(path); err != nil {
			return nil, nil
		}
	}
	c := &fileComponent{path: path, lines: -1}
	s.comps[name] = c
	return c, nil
}

func (s *fileStore) Append(ctx context.Context, component string, r Record) error {
	_ = ctx
	c, err := s.component(component, true)
	if err != nil {
		return err
	}
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	b = append(b, '\n')

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.openLocked(); err != nil {
		return err
	}
	if _, err := c.f.Write(b); err != nil {
		return err
	}
	c.lines++
	if c.lines >= s.max+s.max/4 {
		if err := c.compactLocked(s.max); err != nil {
			s.log.Warn("ledger compact failed", logx.String("component", component), logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) Records(ctx context.Context, component string, limit int) ([]Record, error) {
	_ = ctx
	c, err := s.component(component, false)
	if err != nil || c == nil {
		return nil, err
	}
	if limit <= 0 || limit > s.max {
		limit = s.max
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	recs, err := readRecords(c.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return tail(recs, limit), nil
}

func (s *fileStore) Components(ctx context.Context) ([]string, error) {
	_ = ctx
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() || validComponent(e.Name()) != nil {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.root, e.Name(), activityFile)); err == nil {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	comps := s.comps
	s.comps = map[string]*fileComponent{}
	s.mu.Unlock()

	var errs []error
	for _, c := range comps {
		c.mu.Lock()
		if c.f != nil {
			errs = append(errs, c.f.Close())
			c.f = nil
		}
		c.mu.Unlock()
	}
	return errors.Join(errs...)
}

func (c *fileComponent) openLocked() error {
	if c.f != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return err
	}
	if c.lines < 0 {
		n, err := countLines(c.path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		c.lines = n
	}
	f, err := os.OpenFile(c.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	c.f = f
	return nil
}

// compactLocked rewrites the file with the newest max records.
func (c *fileComponent) compactLocked(max int) error {
	recs, err := readRecords(c.path)
	if err != nil {
		return err
	}
	recs = tail(recs, max)

	tmp := c.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, r := range recs {
		if err := enc.Encode(r); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return err
	}

	// the append handle still points at the replaced inode
	if c.f != nil {
		_ = c.f.Close()
		c.f = nil
	}
	c.lines = len(recs)
	return c.openLocked()
}

func readRecords(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []Record
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var r Record
		// a torn trailing line from a crash is skipped
		if err := json.Unmarshal(line, &r); err != nil {
			continue
		}
		out = append(out, r)
	}
	if err := sc.Err(); err != nil {
		return out, fmt.Errorf("read %s: %w", path, err)
	}
	return out, nil
}

func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	n := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		n++
	}
	return n, sc.Err()
}
