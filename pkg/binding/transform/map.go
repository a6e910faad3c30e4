package transform

import (
	"bufio"
	"github.com/pkg/errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

var ErrNoMapping = errors.New("No mapping for input")

type mapFile struct {
	modTime time.Time
	entries map[string]string
}

// MapService looks the input up in a key=value file below dir. Files are
// reread when they change on disk.
type MapService struct {
	dir string

	mu    *sync.Mutex
	cache map[string]*mapFile
}

func NewMapService(dir string) *MapService {
	return &MapService{dir: dir, mu: &sync.Mutex{}, cache: make(map[string]*mapFile)}
}

func (s *MapService) Transform(arg, input string) (string, error) {
	entries, err := s.load(arg)
	if err != nil {
		return "", err
	}
	if out, ok := entries[input]; ok {
		return out, nil
	}
	return "", errors.Wrapf(ErrNoMapping, "%q in %s", input, arg)
}

func (s *MapService) load(name string) (map[string]string, error) {
	path := filepath.Join(s.dir, filepath.Clean("/"+name))
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrapf(err, "map file %s", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.cache[path]; ok && f.modTime.Equal(info.ModTime()) {
		return f.entries, nil
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "map file %s", name)
	}
	defer file.Close()

	entries := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		entries[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "read map file %s", name)
	}
	s.cache[path] = &mapFile{modTime: info.ModTime(), entries: entries}
	return entries, nil
}
