package langs

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-hclog"
	cache "github.com/patrickmn/go-cache"
)

// ErrUnknownLanguage means no build recipe exists for the requested language.
var ErrUnknownLanguage = errors.New("language not supported")

const listKey = "languages"

// Registry resolves submission languages to build recipes. A language is a
// directory under the registry root containing a Dockerfile; dropping a new
// directory in place is all it takes to support another language.
type Registry struct {
	root    string
	cache   *cache.Cache
	watcher *fsnotify.Watcher
	log     hclog.Logger
}

// NewRegistry builds a registry over root. With ttl > 0 the language list is
// memoized and a filesystem watcher flushes the memo whenever the directory
// changes; ttl <= 0 reads the directory on every call. A watcher that cannot
// start degrades to plain TTL expiry.
func NewRegistry(root string, ttl time.Duration, log hclog.Logger) (*Registry, error) {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	if _, err := os.Stat(root); err != nil {
		return nil, err
	}
	r := &Registry{root: root, log: log}
	if ttl <= 0 {
		return r, nil
	}
	r.cache = cache.New(ttl, 2*ttl)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn("recipe watcher unavailable, falling back to ttl expiry", "error", err)
		return r, nil
	}
	if err := w.Add(root); err != nil {
		log.Warn("cannot watch recipe dir, falling back to ttl expiry", "dir", root, "error", err)
		_ = w.Close()
		return r, nil
	}
	r.watcher = w
	go r.watch()
	return r, nil
}

func (r *Registry) watch() {
	for {
		select {
		case _, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			r.cache.Flush()
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.log.Warn("recipe watcher error", "error", err)
		}
	}
}

func (r *Registry) Close() error {
	if r.watcher != nil {
		return r.watcher.Close()
	}
	return nil
}

// List returns the supported language names, sorted.
func (r *Registry) List() ([]string, error) {
	if r.cache != nil {
		if v, ok := r.cache.Get(listKey); ok {
			return v.([]string), nil
		}
	}
	entries, err := os.ReadDir(r.root)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	if r.cache != nil {
		r.cache.Set(listKey, out, cache.DefaultExpiration)
	}
	return out, nil
}

// RecipeDir resolves a language to the directory holding its Dockerfile.
// The language comes straight off a request header, so anything that is not
// a plain directory name is rejected.
func (r *Registry) RecipeDir(lang string) (string, error) {
	if lang == "" || lang != filepath.Base(lang) || lang == "." || lang == ".." {
		return "", ErrUnknownLanguage
	}
	dir := filepath.Join(r.root, lang)
	if _, err := os.Stat(filepath.Join(dir, "Dockerfile")); err != nil {
		return "", ErrUnknownLanguage
	}
	return dir, nil
}
