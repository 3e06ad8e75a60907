package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// ManualMapping resolves locations from a locally managed JSON dictionary
// mapping one SSO attribute (its domain part) to an instance hostname.
// Dictionary keys may optionally be regular expressions.
type ManualMapping struct {
	file      string
	parameter string
	useRegex  bool
	log       *logrus.Logger

	mu   sync.RWMutex
	dict map[string]string
}

// NewManualMapping loads the dictionary once; Watch keeps it fresh.
func NewManualMapping(file, parameter string, useRegex bool, log *logrus.Logger) (*ManualMapping, error) {
	m := &ManualMapping{
		file:      file,
		parameter: parameter,
		useRegex:  useRegex,
		log:       log,
	}
	if err := m.Reload(); err != nil {
		return nil, err
	}
	return m, nil
}

// Reload re-reads the dictionary file. On failure the previously loaded
// dictionary stays in effect.
func (m *ManualMapping) Reload() error {
	raw, err := os.ReadFile(m.file)
	if err != nil {
		return fmt.Errorf("read mapping file %s: %w", m.file, err)
	}

	dict := map[string]string{}
	if err := json.Unmarshal(raw, &dict); err != nil {
		return fmt.Errorf("mapping file %s is not a valid JSON dictionary: %w", m.file, err)
	}

	m.mu.Lock()
	m.dict = dict
	m.mu.Unlock()

	m.log.WithFields(logrus.Fields{"file": m.file, "entries": len(dict)}).Debug("mapping dictionary loaded")
	return nil
}

// Watch reloads the dictionary whenever the file changes, until ctx ends.
func (m *ManualMapping) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(m.file); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := m.Reload(); err != nil {
					m.log.WithError(err).Warn("mapping dictionary reload failed, keeping previous version")
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				m.log.WithError(err).Warn("mapping file watcher error")
			}
		}
	}()
	return nil
}

// Location implements Module.
func (m *ManualMapping) Location(_ context.Context, profile Profile) (string, error) {
	key := m.key(profile)
	if key == "" {
		return "", nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.useRegex {
		return m.dict[key], nil
	}

	for pattern, node := range m.dict {
		re, err := regexp.Compile(pattern)
		if err != nil {
			m.log.WithField("pattern", pattern).Warn("invalid regex in mapping dictionary")
			continue
		}
		if re.MatchString(key) {
			return node, nil
		}
	}
	return "", nil
}

func (m *ManualMapping) key(profile Profile) string {
	if m.parameter == "" {
		return ""
	}

	values, ok := profile.attributes()[m.parameter]
	if !ok || len(values) == 0 {
		m.log.WithField("parameter", m.parameter).Debug("mapping parameter not present in profile")
		return ""
	}
	return normalizeKey(values[0])
}
