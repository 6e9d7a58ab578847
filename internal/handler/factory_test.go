package handler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/pushbot/internal/config"
)

func TestFactory_Build(t *testing.T) {
	cfg := &config.Config{
		Weather:   config.WeatherConfig{APIKey: "key", City: "上海"},
		HotSearch: config.HotSearchConfig{Limit: 10},
	}
	factory := NewFactory(cfg, zaptest.NewLogger(t))

	t.Run("weather", func(t *testing.T) {
		source, err := factory.Build(config.TaskConfig{Name: "weather", Kind: config.KindWeather})
		require.NoError(t, err)
		assert.IsType(t, &WeatherSource{}, source)
	})

	t.Run("hotsearch", func(t *testing.T) {
		source, err := factory.Build(config.TaskConfig{Name: "zhihu", Kind: config.KindHotSearch, Source: "zhihu"})
		require.NoError(t, err)
		require.IsType(t, &HotSearchSource{}, source)
		assert.Equal(t, "知乎", source.(*HotSearchSource).Site().Name)
		assert.Equal(t, 10, source.(*HotSearchSource).limit)
	})

	t.Run("system", func(t *testing.T) {
		source, err := factory.Build(config.TaskConfig{Name: "host", Kind: config.KindSystem})
		require.NoError(t, err)
		assert.IsType(t, &SystemSource{}, source)
	})

	t.Run("unsupported source", func(t *testing.T) {
		source, err := factory.Build(config.TaskConfig{Name: "x", Kind: config.KindHotSearch, Source: "myspace"})
		assert.ErrorIs(t, err, ErrUnsupportedSource)
		assert.Nil(t, source)
	})

	t.Run("unknown kind", func(t *testing.T) {
		_, err := factory.Build(config.TaskConfig{Name: "x", Kind: "stocks"})
		assert.ErrorIs(t, err, ErrUnknownKind)
	})
}
