// Package cursor loads cursor images from Xcursor themes.
package cursor

import (
	"bufio"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"deedles.dev/wlcomp/shm/shmimage"
)

var (
	ErrThemeNotFound  = errors.New("cursor theme not found")
	ErrCursorNotFound = errors.New("cursor not found")
)

var defaultLibraryPaths = []string{
	"~/.icons",
	"/usr/share/icons",
	"/usr/share/pixmaps",
	"~/.cursors",
	"/usr/share/cursors/xorg-x11",
	"/usr/X11R6/lib/X11/icons",
}

// aliases are tried, in order, when a theme has no cursor of the
// requested name.
var aliases = map[string][]string{
	"default": {"left_ptr", "arrow"},
	"pointer": {"hand2", "hand1"},
	"text":    {"xterm", "ibeam"},
	"move":    {"fleur"},
	"wait":    {"watch"},
}

func libraryPaths() []string {
	if v, ok := os.LookupEnv("XCURSOR_PATH"); ok {
		return expandHome(filepath.SplitList(v))
	}

	v, ok := os.LookupEnv("XDG_DATA_HOME")
	if !ok || !filepath.IsAbs(v) {
		v = "~/.local/share"
	}
	return expandHome(append([]string{filepath.Join(v, "icons")}, defaultLibraryPaths...))
}

func expandHome(paths []string) []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return paths
	}
	for i, p := range paths {
		if rest, ok := strings.CutPrefix(p, "~/"); ok {
			paths[i] = filepath.Join(home, rest)
		}
	}
	return paths
}

type Cursor struct {
	Comments []*Comment
	// Frames are the images of the cursor's animation at a single
	// nominal size.
	Frames []*Image
}

type Comment struct {
	Subtype CommentSubtype
	Version uint32
	Comment string
}

type CommentSubtype uint32

const (
	CommentSubtypeCopyright CommentSubtype = 1 + iota
	CommentSubtypeLicense
	CommentSubtypeOther
)

type Image struct {
	Version     int
	NominalSize int
	XHot        int
	YHot        int
	Delay       time.Duration
	Image       *shmimage.ARGB8888
}

// Hotspot returns the point of the image that is placed at the
// pointer's position.
func (img *Image) Hotspot() image.Point {
	return image.Pt(img.XHot, img.YHot)
}

// Theme is an Xcursor theme and the themes that it inherits from.
// Cursors are loaded the first time they are asked for.
type Theme struct {
	Name string
	Size int

	// dirs are the cursor directories of the theme followed by those
	// of the themes it inherits from.
	dirs []string

	m     sync.Mutex
	cache map[string]*Cursor
}

// LoadTheme finds the named theme, or the default theme if name is
// empty. Cursors are loaded at the nominal size closest to size.
func LoadTheme(name string, size int) (*Theme, error) {
	if name == "" {
		name = "default"
	}

	t := Theme{
		Name:  name,
		Size:  size,
		cache: make(map[string]*Cursor),
	}
	t.resolve(name, libraryPaths(), make(map[string]struct{}))
	if len(t.dirs) == 0 {
		return nil, fmt.Errorf("%q: %w", name, ErrThemeNotFound)
	}
	return &t, nil
}

func (t *Theme) resolve(theme string, paths []string, seen map[string]struct{}) {
	if _, ok := seen[theme]; ok {
		return
	}
	seen[theme] = struct{}{}

	var inherits []string
	for _, path := range paths {
		dir := filepath.Join(path, theme)

		cursors := filepath.Join(dir, "cursors")
		if info, err := os.Stat(cursors); (err == nil) && info.IsDir() {
			t.dirs = append(t.dirs, cursors)
		}

		if inherits == nil {
			i, err := loadInherits(filepath.Join(dir, "index.theme"))
			if err == nil {
				inherits = i
			}
		}
	}

	for _, theme := range inherits {
		t.resolve(theme, paths, seen)
	}
}

// Load returns the named cursor, loading it if necessary.
func (t *Theme) Load(name string) (*Cursor, error) {
	t.m.Lock()
	defer t.m.Unlock()

	if c, ok := t.cache[name]; ok {
		return c, nil
	}
	c, err := t.load(name, t.Size)
	if err != nil {
		return nil, err
	}
	t.cache[name] = c
	return c, nil
}

func (t *Theme) load(name string, size int) (*Cursor, error) {
	for _, dir := range t.dirs {
		path := filepath.Join(dir, name)
		c, err := DecodeFile(path, size)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("load %q: %w", path, err)
		}
		return c, nil
	}
	return nil, fmt.Errorf("%q in theme %q: %w", name, t.Name, ErrCursorNotFound)
}

// Cursor returns the first frame of the named cursor, or of one of its
// common aliases, at the nominal size closest to size.
func (t *Theme) Cursor(name string, size int) (image.Image, image.Point, error) {
	var c *Cursor
	var err error
	for _, n := range append([]string{name}, aliases[name]...) {
		if size == t.Size {
			c, err = t.Load(n)
		} else {
			c, err = t.load(n, size)
		}
		if !errors.Is(err, ErrCursorNotFound) {
			break
		}
	}
	if err != nil {
		return nil, image.Point{}, err
	}

	frame := c.Frames[0]
	return frame.Image, frame.Hotspot(), nil
}

func loadInherits(index string) (inherits []string, err error) {
	file, err := os.Open(index)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	s := bufio.NewScanner(file)
	for s.Scan() {
		line := s.Text()
		if !strings.HasPrefix(line, "Inherits") {
			continue
		}

		_, after, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}

		inherits = strings.FieldsFunc(after, func(c rune) bool {
			return (c == ':') || (c == ',') || (c == ';')
		})
		for i, v := range inherits {
			inherits[i] = strings.TrimSpace(v)
		}

		break
	}
	if err := s.Err(); err != nil {
		return inherits, fmt.Errorf("scan: %w", err)
	}

	return inherits, nil
}
