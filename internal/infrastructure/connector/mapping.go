package connector

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/supplychain/backend/internal/domain/integration"
)

//go:embed mappings/default.yaml
var defaultMappingsYAML []byte

// reloadDebounce coalesces bursts of write events from editors
const reloadDebounce = 250 * time.Millisecond

type mappingKey struct {
	Type integration.IntegrationType
	Kind integration.RecordKind
}

type mappingFile struct {
	Mappings []integration.MappingSet `yaml:"mappings"`
}

// ParseMappings decodes and validates a mapping document
func ParseMappings(data []byte) ([]integration.MappingSet, error) {
	var file mappingFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", integration.ErrMappingInvalid, err)
	}
	seen := make(map[mappingKey]bool, len(file.Mappings))
	for i := range file.Mappings {
		m := &file.Mappings[i]
		if err := m.Validate(); err != nil {
			return nil, err
		}
		key := mappingKey{m.Type, m.Kind}
		if seen[key] {
			return nil, fmt.Errorf("%w: %s/%s defined twice", integration.ErrMappingInvalid, m.Type, m.Kind)
		}
		seen[key] = true
	}
	return file.Mappings, nil
}

// YAMLMappingProvider serves the embedded default mappings, each optionally
// replaced by an entry for the same (type, kind) in an override file.
type YAMLMappingProvider struct {
	overridePath string
	logger       *zap.Logger
	defaults     map[mappingKey]*integration.MappingSet

	mu   sync.RWMutex
	sets map[mappingKey]*integration.MappingSet
}

// NewYAMLMappingProvider loads the defaults and, when overridePath is set, the override file
func NewYAMLMappingProvider(overridePath string, logger *zap.Logger) (*YAMLMappingProvider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults, err := ParseMappings(defaultMappingsYAML)
	if err != nil {
		return nil, fmt.Errorf("default mappings: %w", err)
	}
	p := &YAMLMappingProvider{
		overridePath: overridePath,
		logger:       logger.With(zap.String("component", "mappings")),
		defaults:     index(defaults),
	}
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

func index(sets []integration.MappingSet) map[mappingKey]*integration.MappingSet {
	out := make(map[mappingKey]*integration.MappingSet, len(sets))
	for i := range sets {
		out[mappingKey{sets[i].Type, sets[i].Kind}] = &sets[i]
	}
	return out
}

// Mapping implements integration.MappingProvider
func (p *YAMLMappingProvider) Mapping(t integration.IntegrationType, kind integration.RecordKind) (*integration.MappingSet, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	m, ok := p.sets[mappingKey{t, kind}]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", integration.ErrMappingNotFound, t, kind)
	}
	return m, nil
}

// Reload re-reads the override file. On error the current mappings stay in place.
func (p *YAMLMappingProvider) Reload() error {
	merged := make(map[mappingKey]*integration.MappingSet, len(p.defaults))
	for k, v := range p.defaults {
		merged[k] = v
	}

	if p.overridePath != "" {
		data, err := os.ReadFile(p.overridePath)
		switch {
		case errors.Is(err, os.ErrNotExist):
			p.logger.Warn("mapping override file not found, using defaults", zap.String("path", p.overridePath))
		case err != nil:
			return fmt.Errorf("read mapping overrides: %w", err)
		default:
			overrides, err := ParseMappings(data)
			if err != nil {
				return fmt.Errorf("mapping overrides %s: %w", p.overridePath, err)
			}
			for k, v := range index(overrides) {
				merged[k] = v
			}
			p.logger.Info("mapping overrides loaded",
				zap.String("path", p.overridePath),
				zap.Int("overrides", len(overrides)),
			)
		}
	}

	p.mu.Lock()
	p.sets = merged
	p.mu.Unlock()
	return nil
}

// WatchOverrides reloads the override file whenever it changes until ctx is
// done. The returned channel closes once the watcher has stopped. The parent
// directory is watched so editors that replace the file by rename are seen.
func (p *YAMLMappingProvider) WatchOverrides(ctx context.Context) (<-chan struct{}, error) {
	done := make(chan struct{})
	if p.overridePath == "" {
		close(done)
		return done, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	abs, err := filepath.Abs(p.overridePath)
	if err != nil {
		_ = watcher.Close()
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	go func() {
		defer close(done)
		defer watcher.Close()

		var timer *time.Timer
		var fire <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != abs || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(reloadDebounce)
				} else {
					timer.Reset(reloadDebounce)
				}
				fire = timer.C
			case <-fire:
				fire = nil
				if err := p.Reload(); err != nil {
					p.logger.Error("mapping reload failed, keeping previous mappings", zap.Error(err))
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				p.logger.Warn("mapping watcher error", zap.Error(err))
			}
		}
	}()
	return done, nil
}

var _ integration.MappingProvider = (*YAMLMappingProvider)(nil)
