package credentials

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"gopkg.in/ini.v1"
)

// ErrIncomplete is returned when a zuliprc lacks an email or key.
var ErrIncomplete = errors.New("credentials: zuliprc missing email or key")

// Zuliprc is the [api] section of a Zulip client configuration file.
type Zuliprc struct {
	Email string
	Key   string
	Site  string
}

// ParseZuliprc reads the [api] section of an INI-style zuliprc. Other
// sections are ignored.
func ParseZuliprc(r io.Reader) (Zuliprc, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return Zuliprc{}, fmt.Errorf("credentials: read zuliprc: %w", err)
	}
	file, err := ini.LoadSources(ini.LoadOptions{Insensitive: true, IgnoreInlineComment: true}, raw)
	if err != nil {
		return Zuliprc{}, fmt.Errorf("credentials: parse zuliprc: %w", err)
	}
	api := file.Section("api")
	rc := Zuliprc{
		Email: rcValue(api, "email"),
		Key:   rcValue(api, "key"),
		Site:  rcValue(api, "site"),
	}
	if rc.Email == "" || rc.Key == "" {
		return rc, ErrIncomplete
	}
	return rc, nil
}

func rcValue(section *ini.Section, name string) string {
	return strings.Trim(strings.TrimSpace(section.Key(name).String()), `"'`)
}

// FileLoader reads a zuliprc from disk and remembers the last value it returned.
type FileLoader struct {
	path   string
	mu     sync.Mutex
	cached Zuliprc
}

func NewFileLoader(path string) *FileLoader {
	return &FileLoader{path: path}
}

func (l *FileLoader) Path() string { return l.path }

// Load parses the file. The boolean reports whether the value differs from the
// previous successful load.
func (l *FileLoader) Load() (Zuliprc, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		return Zuliprc{}, false, err
	}
	defer f.Close()

	rc, err := ParseZuliprc(f)
	if err != nil {
		return Zuliprc{}, false, err
	}
	if rc == l.cached {
		return rc, false, nil
	}
	l.cached = rc
	return rc, true, nil
}
