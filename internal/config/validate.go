package config

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/multierr"

	"github.com/t77yq/pushbot/internal/cronexpr"
)

// Validate reports every configuration problem at once. An invalid cron
// expression is only an error on an enabled task.
func (c *Config) Validate() error {
	var err error

	if strings.TrimSpace(c.DingTalk.Webhook) == "" {
		err = multierr.Append(err, errors.New("dingtalk.webhook is required"))
	}
	if c.Scheduler.PollInterval <= 0 {
		err = multierr.Append(err, fmt.Errorf("scheduler.poll_interval must be positive, got %s", c.Scheduler.PollInterval))
	}
	if c.Scheduler.MisfireGrace <= 0 {
		err = multierr.Append(err, fmt.Errorf("scheduler.misfire_grace must be positive, got %s", c.Scheduler.MisfireGrace))
	}
	if c.Scheduler.Workers <= 0 {
		err = multierr.Append(err, fmt.Errorf("scheduler.workers must be positive, got %d", c.Scheduler.Workers))
	}
	if _, locErr := c.Location(); locErr != nil {
		err = multierr.Append(err, locErr)
	}
	if len(c.Tasks) == 0 {
		err = multierr.Append(err, errors.New("no tasks configured"))
	}

	seen := make(map[string]bool, len(c.Tasks))
	needsWeatherKey := false
	for i, t := range c.Tasks {
		if t.Name == "" {
			err = multierr.Append(err, fmt.Errorf("tasks[%d]: name is required", i))
		} else if seen[t.Name] {
			err = multierr.Append(err, fmt.Errorf("tasks[%d]: duplicate task name %q", i, t.Name))
		}
		seen[t.Name] = true

		switch t.Kind {
		case KindWeather:
			needsWeatherKey = needsWeatherKey || t.IsEnabled()
		case KindHotSearch:
			if t.Source == "" {
				err = multierr.Append(err, fmt.Errorf("tasks[%d] %q: hotsearch source is required", i, t.Name))
			}
		case KindSystem:
		default:
			err = multierr.Append(err, fmt.Errorf("tasks[%d] %q: unknown kind %q", i, t.Name, t.Kind))
		}

		if t.IsEnabled() {
			if _, parseErr := cronexpr.Parse(t.Cron); parseErr != nil {
				err = multierr.Append(err, fmt.Errorf("tasks[%d] %q: %w", i, t.Name, parseErr))
			}
		}
	}

	if needsWeatherKey && strings.TrimSpace(c.Weather.APIKey) == "" {
		err = multierr.Append(err, errors.New("weather.api_key is required by enabled weather tasks"))
	}

	return err
}
