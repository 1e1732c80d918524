package homeassistant

import (
	"log/slog"
	"path"
)

// EntityFilter selects entity ids using path.Match globs. An empty
// include list admits everything; exclusions always win.
type EntityFilter struct {
	include []string
	exclude []string
	logger  *slog.Logger
}

// NewEntityFilter creates an entity filter from glob patterns such as
// "person.*" or "binary_sensor.*door*".
func NewEntityFilter(include, exclude []string, logger *slog.Logger) *EntityFilter {
	if logger == nil {
		logger = slog.Default()
	}
	return &EntityFilter{include: include, exclude: exclude, logger: logger}
}

// Allow reports whether entityID passes the filter. A nil filter allows
// every entity.
func (f *EntityFilter) Allow(entityID string) bool {
	if f == nil {
		return true
	}
	if len(f.include) > 0 && !f.matchAny(f.include, entityID) {
		return false
	}
	return !f.matchAny(f.exclude, entityID)
}

func (f *EntityFilter) matchAny(patterns []string, entityID string) bool {
	for _, pat := range patterns {
		matched, err := path.Match(pat, entityID)
		if err != nil {
			f.logger.Debug("glob match error", "pattern", pat, "entity_id", entityID, "error", err)
			continue
		}
		if matched {
			return true
		}
	}
	return false
}
