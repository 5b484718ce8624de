package prompt

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const (
	// DefaultTimezone is the zone {{.Now}} is rendered in.
	DefaultTimezone = "Europe/Copenhagen"
	// TimeLayout is the format of {{.Now}}.
	TimeLayout = "2006-01-02T15:04:05-07:00"
)

//go:embed default.tmpl
var defaultTemplate string

// Config configures a Loader.
type Config struct {
	// File is an optional template path. Empty selects the built-in prompt.
	File     string
	Timezone string
	Logger   zerolog.Logger
	// Debounce delays reloads after a burst of file events.
	Debounce time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Data is the template input.
type Data struct {
	Now      string
	Date     string
	Timezone string
}

// Loader holds the current prefix template.
type Loader struct {
	file     string
	loc      *time.Location
	logger   zerolog.Logger
	debounce time.Duration
	now      func() time.Time

	mu   sync.RWMutex
	tmpl *template.Template

	watcher  *fsnotify.Watcher
	done     chan struct{}
	stopOnce sync.Once
	timerMu  sync.Mutex
	timer    *time.Timer
}

// New parses the configured template.
func New(cfg Config) (*Loader, error) {
	if cfg.Timezone == "" {
		cfg.Timezone = DefaultTimezone
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 100 * time.Millisecond
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	l := &Loader{
		file:     cfg.File,
		loc:      loc,
		logger:   cfg.Logger.With().Str("component", "prompt").Logger(),
		debounce: cfg.Debounce,
		now:      cfg.Now,
		done:     make(chan struct{}),
	}

	if err := l.Reload(); err != nil {
		return nil, err
	}
	return l, nil
}

// Reload re-reads the template. On error the previous template stays active.
func (l *Loader) Reload() error {
	src := defaultTemplate
	name := "default"
	if l.file != "" {
		data, err := os.ReadFile(l.file)
		if err != nil {
			return fmt.Errorf("failed to read prompt file: %w", err)
		}
		src = string(data)
		name = filepath.Base(l.file)
	}

	tmpl, err := template.New(name).Option("missingkey=zero").Parse(src)
	if err != nil {
		return fmt.Errorf("failed to parse prompt template: %w", err)
	}

	l.mu.Lock()
	l.tmpl = tmpl
	l.mu.Unlock()

	l.logger.Info().Str("source", name).Int("bytes", len(src)).Msg("Prompt template loaded")
	return nil
}

// Render executes the template for the current time. Execution errors are
// logged and whatever was rendered before the failure is returned.
func (l *Loader) Render() string {
	now := l.now().In(l.loc)
	data := Data{
		Now:      now.Format(TimeLayout),
		Date:     now.Format("2006-01-02"),
		Timezone: l.loc.String(),
	}

	l.mu.RLock()
	tmpl := l.tmpl
	l.mu.RUnlock()

	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		l.logger.Error().Err(err).Msg("Failed to render prompt template")
	}
	return strings.TrimSpace(sb.String())
}

// Watch reloads the template file on change until Close is called. It is a
// no-op for the built-in template.
func (l *Loader) Watch() error {
	if l.file == "" {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	// Watch the directory: editors often replace the file instead of
	// writing it in place.
	if err := w.Add(filepath.Dir(l.file)); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to watch prompt directory: %w", err)
	}
	l.watcher = w

	go l.eventLoop()

	l.logger.Info().Str("path", l.file).Msg("Prompt watcher started")
	return nil
}

func (l *Loader) eventLoop() {
	target := filepath.Clean(l.file)
	for {
		select {
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				l.scheduleReload()
			}

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error().Err(err).Msg("Watcher error")

		case <-l.done:
			return
		}
	}
}

func (l *Loader) scheduleReload() {
	l.timerMu.Lock()
	defer l.timerMu.Unlock()

	if l.timer != nil {
		l.timer.Stop()
	}
	l.timer = time.AfterFunc(l.debounce, func() {
		if err := l.Reload(); err != nil {
			l.logger.Warn().Err(err).Msg("Keeping previous prompt template")
		}
	})
}

// Close stops watching.
func (l *Loader) Close() error {
	l.stopOnce.Do(func() {
		close(l.done)
	})

	l.timerMu.Lock()
	if l.timer != nil {
		l.timer.Stop()
	}
	l.timerMu.Unlock()

	if l.watcher == nil {
		return nil
	}
	if err := l.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}
