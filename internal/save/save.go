// Package save writes timestamped backups of the world and loads the newest
// one back.
//
// Every save produces two files under <base>/<level>:
//
//	ServerSaves/<level>_<yyyyMMdd-HHmmss>.teamkist   JSON snapshot, loadable
//	ZeepSaves/<level>_<yyyyMMdd-HHmmss>.zeeplevel    CSV export for the game
//
// Only the newest BackupCount files of each kind are kept.
package save

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/teamx/teamx-server/internal/block"
	"github.com/teamx/teamx-server/internal/editor"
)

const (
	ServerExt = ".teamkist"
	ZeepExt   = ".zeeplevel"

	stampLayout = "20060102-150405"
)

type Config struct {
	LevelName        string
	BasePath         string
	AutoSaveInterval time.Duration
	BackupCount      int
}

type Manager struct {
	cfg       Config
	level     string
	serverDir string
	zeepDir   string
	logger    *slog.Logger
	now       func() time.Time
	lastSave  time.Time
}

type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates the save directories.
func NewManager(cfg Config, logger *slog.Logger, opts ...Option) (*Manager, error) {
	m := &Manager{
		cfg:    cfg,
		level:  SanitizeName(cfg.LevelName),
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	project := filepath.Join(cfg.BasePath, m.level)
	m.serverDir = filepath.Join(project, "ServerSaves")
	m.zeepDir = filepath.Join(project, "ZeepSaves")
	for _, dir := range []string{m.serverDir, m.zeepDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, oops.In("save").With("dir", dir).Wrapf(err, "create save directory")
		}
	}
	m.lastSave = m.now()
	return m, nil
}

func (m *Manager) ServerDir() string { return m.serverDir }
func (m *Manager) ZeepDir() string   { return m.zeepDir }

// Due reports whether the autosave interval has elapsed since the last save.
func (m *Manager) Due(now time.Time) bool {
	return m.cfg.AutoSaveInterval > 0 && now.Sub(m.lastSave) >= m.cfg.AutoSaveInterval
}

// Postpone restarts the autosave interval without saving.
func (m *Manager) Postpone(now time.Time) {
	m.lastSave = now
}

// Save writes both files for snap and prunes old backups. It returns the
// path of the .teamkist file.
func (m *Manager) Save(snap editor.Snapshot) (string, error) {
	now := m.now()
	stamp := now.Format(stampLayout)

	data, err := json.Marshal(snap)
	if err != nil {
		return "", oops.In("save").Wrapf(err, "encode snapshot")
	}
	serverPath, err := writeUnique(m.serverDir, m.level, stamp, ServerExt, data)
	if err != nil {
		return "", err
	}
	zeep := []byte(m.zeepLevel(snap, stamp))
	zeepPath, err := writeUnique(m.zeepDir, m.level, stamp, ZeepExt, zeep)
	if err != nil {
		if rmErr := os.Remove(serverPath); rmErr != nil {
			m.logger.Warn("remove incomplete save", "path", serverPath, "error", rmErr)
		}
		return "", err
	}
	m.lastSave = now
	m.logger.Info("world saved", "path", serverPath, "export", zeepPath, "blocks", len(snap.Blocks))

	m.prune(m.serverDir, ServerExt)
	m.prune(m.zeepDir, ZeepExt)
	return serverPath, nil
}

// SaveWithRetry retries Save with exponential backoff until it succeeds,
// three retries are spent or ctx ends.
func (m *Manager) SaveWithRetry(ctx context.Context, snap editor.Snapshot) error {
	b := retry.WithMaxRetries(3, retry.NewExponential(100*time.Millisecond))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		if _, err := m.Save(snap); err != nil {
			m.logger.Warn("save failed, retrying", "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
}

// LoadLatest reads the newest .teamkist backup. ok is false when there is
// none. Blocks that fail to parse are skipped.
func (m *Manager) LoadLatest() (snap editor.Snapshot, path string, ok bool, err error) {
	files, err := m.list(m.serverDir, ServerExt)
	if err != nil {
		return snap, "", false, err
	}
	if len(files) == 0 {
		return snap, "", false, nil
	}
	path = filepath.Join(m.serverDir, files[len(files)-1].name)
	snap, err = m.load(path)
	if err != nil {
		return snap, path, false, err
	}
	return snap, path, true, nil
}

type savedWorld struct {
	Floor  int32
	Skybox int32
	Blocks []json.RawMessage
}

func (m *Manager) load(path string) (editor.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return editor.Snapshot{}, oops.In("save").With("path", path).Wrapf(err, "read save")
	}
	var w savedWorld
	if err := json.Unmarshal(data, &w); err != nil {
		return editor.Snapshot{}, oops.In("save").With("path", path).Wrapf(err, "decode save")
	}
	snap := editor.Snapshot{Floor: w.Floor, Skybox: w.Skybox, Blocks: make([]block.Block, 0, len(w.Blocks))}
	for i, raw := range w.Blocks {
		b, err := block.Parse(string(raw))
		if err != nil {
			m.logger.Warn("skipping unreadable block in save", "path", path, "index", i, "error", err)
			continue
		}
		snap.Blocks = append(snap.Blocks, b)
	}
	return snap, nil
}

func (m *Manager) zeepLevel(snap editor.Snapshot, stamp string) string {
	var sb strings.Builder
	uid := fmt.Sprintf("%s-%s-%d-%d", stamp, alnum.ReplaceAllString(m.cfg.LevelName, ""),
		100000+rand.IntN(900000), len(snap.Blocks))
	fmt.Fprintf(&sb, "LevelEditor2,%s,%s\n", m.cfg.LevelName, uid)
	sb.WriteString("0,0,0,0,0,0,0,0\n")
	fmt.Fprintf(&sb, "invalid track,0,0,0,%d,%d\n", snap.Skybox, snap.Floor)
	for _, b := range snap.Blocks {
		sb.WriteString(b.CSV())
		sb.WriteByte('\n')
	}
	return sb.String()
}

// writeUnique writes data to <dir>/<level>_<stamp><ext>, adding -1, -2, ...
// when a save from the same second already exists.
func writeUnique(dir, level, stamp, ext string, data []byte) (string, error) {
	for n := 0; ; n++ {
		name := level + "_" + stamp
		if n > 0 {
			name += "-" + strconv.Itoa(n)
		}
		path := filepath.Join(dir, name+ext)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if os.IsExist(err) {
			continue
		}
		if err != nil {
			return "", oops.In("save").With("path", path).Wrapf(err, "create save file")
		}
		w := bufio.NewWriter(f)
		_, err = w.Write(data)
		if err == nil {
			err = w.Flush()
		}
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(path)
			return "", oops.In("save").With("path", path).Wrapf(err, "write save file")
		}
		return path, nil
	}
}

type saveFile struct {
	name  string
	stamp string
	seq   int
}

// list returns this level's save files in dir, oldest first. Files that do
// not follow the naming scheme are ignored.
func (m *Manager) list(dir, ext string) ([]saveFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, oops.In("save").With("dir", dir).Wrapf(err, "list saves")
	}
	prefix := m.level + "_"
	var files []saveFile
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ext) {
			continue
		}
		rest := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ext)
		stamp, seq := rest, 0
		if len(rest) > len(stampLayout) && rest[len(stampLayout)] == '-' {
			n, err := strconv.Atoi(rest[len(stampLayout)+1:])
			if err != nil {
				continue
			}
			stamp, seq = rest[:len(stampLayout)], n
		}
		if _, err := time.Parse(stampLayout, stamp); err != nil {
			continue
		}
		files = append(files, saveFile{name: name, stamp: stamp, seq: seq})
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].stamp != files[j].stamp {
			return files[i].stamp < files[j].stamp
		}
		return files[i].seq < files[j].seq
	})
	return files, nil
}

func (m *Manager) prune(dir, ext string) {
	if m.cfg.BackupCount <= 0 {
		return
	}
	files, err := m.list(dir, ext)
	if err != nil {
		m.logger.Warn("list saves for cleanup", "dir", dir, "error", err)
		return
	}
	for len(files) > m.cfg.BackupCount {
		path := filepath.Join(dir, files[0].name)
		if err := os.Remove(path); err != nil {
			m.logger.Warn("delete old save", "path", path, "error", err)
		} else {
			m.logger.Info("deleted old save", "path", path)
		}
		files = files[1:]
	}
}

var (
	alnum      = regexp.MustCompile(`[^a-zA-Z0-9\s]`)
	unsafeName = regexp.MustCompile(`[^a-zA-Z0-9 _.-]`)
)

// SanitizeName makes a level name safe to use as a directory and file name.
func SanitizeName(name string) string {
	s := strings.Trim(unsafeName.ReplaceAllString(name, "_"), " .")
	if s == "" {
		return "TeamXServer"
	}
	return s
}
