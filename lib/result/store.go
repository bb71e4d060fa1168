package result

import (
	"bytes"
	"context"
	"encoding/csv"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/go-faster/errors"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var jsonIter = jsoniter.ConfigCompatibleWithStandardLibrary

const dateLayout = "2006-01-02"

// Store saves results below a root directory.
type Store struct {
	root    string
	catalog *Catalog
	log     *zap.Logger
}

type StoreOption func(*Store)

// WithCatalog indexes every saved result in c.
func WithCatalog(c *Catalog) StoreOption { return func(s *Store) { s.catalog = c } }

func WithLogger(l *zap.Logger) StoreOption { return func(s *Store) { s.log = l } }

func NewStore(root string, opts ...StoreOption) *Store {
	s := &Store{root: root, log: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Root() string { return s.root }

// Dir is where r is saved.
func (s *Store) Dir(r *Result) string {
	return filepath.Join(s.root, r.Sample, r.Datetime.Format(dateLayout), r.Name)
}

type yamlHeader struct {
	ID       string             `yaml:"id"`
	Name     string             `yaml:"name"`
	Sample   string             `yaml:"sample"`
	Datetime string             `yaml:"datetime"`
	Context  Context            `yaml:"context"`
	Fit      map[string]float64 `yaml:"fit,omitempty"`
}

// Save writes the four files of r and returns their directory. A result
// with the same name saved the same day is replaced.
func (s *Store) Save(ctx context.Context, r *Result) (string, error) {
	if err := r.validate(); err != nil {
		return "", err
	}
	dir := s.Dir(r)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(err, "create result directory")
	}
	// the entry of the result being replaced
	var prev *Result
	if s.catalog != nil {
		if p, err := readJSON(filepath.Join(dir, r.Name+".json")); err == nil {
			prev = p
		}
	}

	payload, err := jsonIter.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "encode json")
	}
	header, err := yaml.Marshal(yamlHeader{
		ID:       r.ID.String(),
		Name:     r.Name,
		Sample:   r.Sample,
		Datetime: r.Datetime.Format("2006-01-02T15:04:05.999999999Z07:00"),
		Context:  r.Context,
		Fit:      r.Fit,
	})
	if err != nil {
		return "", errors.Wrap(err, "encode yaml")
	}
	table, err := r.csv()
	if err != nil {
		return "", errors.Wrap(err, "encode csv")
	}
	var summary bytes.Buffer
	if err := r.WriteSummary(&summary); err != nil {
		return "", err
	}

	for ext, content := range map[string][]byte{
		".json": payload,
		".yaml": header,
		".csv":  table,
		".txt":  summary.Bytes(),
	} {
		if err := os.WriteFile(filepath.Join(dir, r.Name+ext), content, 0o644); err != nil {
			return "", errors.Wrapf(err, "write %s", ext)
		}
	}
	s.log.Info("result saved", zap.String("name", r.Name), zap.String("sample", r.Sample), zap.String("dir", dir))

	if s.catalog != nil {
		if prev != nil && prev.ID != r.ID {
			if err := s.catalog.Remove(ctx, prev.ID); err != nil {
				return dir, errors.Wrap(err, "catalog")
			}
		}
		if err := s.catalog.Record(ctx, r, dir); err != nil {
			return dir, errors.Wrap(err, "catalog")
		}
	}
	return dir, nil
}

func (r *Result) csv() ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(r.Data.header()); err != nil {
		return nil, err
	}
	for _, row := range r.Data.rows() {
		rec := make([]string, len(row))
		for k, v := range row {
			rec[k] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// dirs returns the saved directories of name, oldest first.
func (s *Store) dirs(sample, name string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.root, sample, "*", name))
	if err != nil {
		return nil, err
	}
	var out []string
	for _, m := range matches {
		if _, err := os.Stat(filepath.Join(m, name+".json")); err == nil {
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Load reads the most recent result called name.
func (s *Store) Load(sample, name string) (*Result, error) {
	dirs, err := s.dirs(sample, name)
	if err != nil {
		return nil, err
	}
	if len(dirs) == 0 {
		return nil, errors.Wrapf(ErrNotFound, "%s/%s", sample, name)
	}
	return readJSON(filepath.Join(dirs[len(dirs)-1], name+".json"))
}

func readJSON(path string) (*Result, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	r := new(Result)
	if err := jsonIter.Unmarshal(b, r); err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	return r, nil
}

// Delete removes the most recent result called name, or all of them.
func (s *Store) Delete(ctx context.Context, sample, name string, all bool) error {
	dirs, err := s.dirs(sample, name)
	if err != nil {
		return err
	}
	if len(dirs) == 0 {
		return errors.Wrapf(ErrNotFound, "%s/%s", sample, name)
	}
	if !all {
		dirs = dirs[len(dirs)-1:]
	}
	var errs error
	for _, dir := range dirs {
		if s.catalog != nil {
			r, err := readJSON(filepath.Join(dir, name+".json"))
			if err == nil {
				errs = multierr.Append(errs, s.catalog.Remove(ctx, r.ID))
			} else {
				s.log.Warn("result not removed from catalog", zap.String("dir", dir), zap.Error(err))
			}
		}
		if err := os.RemoveAll(dir); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		s.log.Info("result deleted", zap.String("dir", dir))
	}
	return errs
}

// Find returns every path below root whose base name matches pattern.
func Find(pattern, root string) ([]string, error) {
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, err
	}
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if ok, _ := filepath.Match(pattern, d.Name()); ok && path != root {
			out = append(out, path)
		}
		return nil
	})
	return out, err
}

// Entries lists the saved results of sample by scanning the directory
// tree, oldest first. An empty sample lists every sample.
func (s *Store) Entries(sample string) ([]Entry, error) {
	if sample == "" {
		sample = "*"
	}
	matches, err := filepath.Glob(filepath.Join(s.root, sample, "*", "*", "*.json"))
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, m := range matches {
		dir := filepath.Dir(m)
		if filepath.Base(m) != filepath.Base(dir)+".json" {
			continue
		}
		r, err := readJSON(m)
		if err != nil {
			s.log.Warn("skipping unreadable result", zap.String("path", m), zap.Error(err))
			continue
		}
		out = append(out, Entry{ID: r.ID, Name: r.Name, Sample: r.Sample, Datetime: r.Datetime, Dir: dir})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Datetime.Before(out[j].Datetime) })
	return out, nil
}
