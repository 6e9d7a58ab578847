// Package handler implements the task kinds: Caiyun weather reports,
// hot-search lists and host status reports.
package handler

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/t77yq/pushbot/internal/config"
	"github.com/t77yq/pushbot/internal/task"
)

// Factory builds task sources from declarations
type Factory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewFactory creates a new factory sharing the source settings of cfg
func NewFactory(cfg *config.Config, logger *zap.Logger) *Factory {
	return &Factory{
		cfg:    cfg,
		logger: logger,
	}
}

// Build creates the source for a task declaration
func (f *Factory) Build(decl config.TaskConfig) (task.Source, error) {
	switch decl.Kind {
	case config.KindWeather:
		return NewWeatherSource(f.cfg.Weather, f.logger), nil
	case config.KindHotSearch:
		source, err := NewHotSearchSource(decl.Source, f.cfg.HotSearch, f.logger)
		if err != nil {
			return nil, err
		}
		return source, nil
	case config.KindSystem:
		return NewSystemSource(f.logger), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, decl.Kind)
	}
}
