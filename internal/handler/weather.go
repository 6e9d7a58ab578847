package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/pushbot/internal/config"
)

const defaultWeatherTimeout = 10 * time.Second

var skyconDescriptions = map[string]string{
	"CLEAR_DAY":           "晴天",
	"CLEAR_NIGHT":         "晴夜",
	"PARTLY_CLOUDY_DAY":   "多云",
	"PARTLY_CLOUDY_NIGHT": "多云",
	"CLOUDY":              "阴天",
	"LIGHT_HAZE":          "轻雾",
	"MODERATE_HAZE":       "中雾",
	"HEAVY_HAZE":          "重雾",
	"LIGHT_RAIN":          "小雨",
	"MODERATE_RAIN":       "中雨",
	"HEAVY_RAIN":          "大雨",
	"STORM_RAIN":          "暴雨",
	"LIGHT_SNOW":          "小雪",
	"MODERATE_SNOW":       "中雪",
	"HEAVY_SNOW":          "大雪",
	"STORM_SNOW":          "暴雪",
	"DUST":                "浮尘",
	"SAND":                "沙尘",
	"WIND":                "大风",
}

var weatherEmojis = map[string]string{
	"晴天": "☀️",
	"晴夜": "🌙",
	"多云": "⛅",
	"阴天": "☁️",
	"轻雾": "🌫️",
	"中雾": "🌫️",
	"重雾": "🌫️",
	"小雨": "🌦️",
	"中雨": "🌧️",
	"大雨": "⛈️",
	"暴雨": "⛈️",
	"小雪": "🌨️",
	"中雪": "❄️",
	"大雪": "❄️",
	"暴雪": "❄️",
	"浮尘": "🌪️",
	"沙尘": "🌪️",
	"大风": "💨",
}

var windDirections = [8]string{"北风", "东北风", "东风", "东南风", "南风", "西南风", "西风", "西北风"}

// WeatherData holds a realtime weather observation
type WeatherData struct {
	Temperature   float64
	Humidity      float64 // percent
	Pressure      float64
	WindSpeed     float64
	WindDirection float64
	Visibility    float64
	Skycon        string
	Description   string
	AQI           *int
	PM25          *float64
	PM10          *float64
}

type caiyunResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
	Result struct {
		Realtime struct {
			Temperature float64 `json:"temperature"`
			Humidity    float64 `json:"humidity"`
			Pressure    float64 `json:"pressure"`
			Visibility  float64 `json:"visibility"`
			Skycon      string  `json:"skycon"`
			Wind        struct {
				Speed     float64 `json:"speed"`
				Direction float64 `json:"direction"`
			} `json:"wind"`
			AirQuality struct {
				PM25 *float64 `json:"pm25"`
				PM10 *float64 `json:"pm10"`
				AQI  struct {
					CHN *int `json:"chn"`
				} `json:"aqi"`
			} `json:"air_quality"`
		} `json:"realtime"`
	} `json:"result"`
}

// WeatherSource fetches realtime weather from the Caiyun API
type WeatherSource struct {
	cfg    config.WeatherConfig
	getter *httpGetter
	logger *zap.Logger
	now    func() time.Time
}

// NewWeatherSource creates a new weather source
func NewWeatherSource(cfg config.WeatherConfig, logger *zap.Logger) *WeatherSource {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultWeatherTimeout
	}

	logger = logger.Named("weather")
	return &WeatherSource{
		cfg:    cfg,
		getter: newHTTPGetter(timeout, logger),
		logger: logger,
		now:    time.Now,
	}
}

// Fetch retrieves the realtime observation for the configured location
func (s *WeatherSource) Fetch(ctx context.Context) (any, error) {
	url := fmt.Sprintf("%s/%s/%s,%s/realtime",
		strings.TrimRight(s.cfg.BaseURL, "/"),
		s.cfg.APIKey,
		strconv.FormatFloat(s.cfg.Longitude, 'f', -1, 64),
		strconv.FormatFloat(s.cfg.Latitude, 'f', -1, 64))

	body, err := s.getter.get(ctx, url, map[string]string{
		"User-Agent": "WeatherBot/1.0",
		"Accept":     "application/json",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to request weather: %w", err)
	}

	var resp caiyunResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode weather response: %w", err)
	}

	if resp.Status != "ok" {
		if resp.Error != "" {
			return nil, fmt.Errorf("weather API returned status %q: %s", resp.Status, resp.Error)
		}
		return nil, fmt.Errorf("weather API returned status %q", resp.Status)
	}

	rt := resp.Result.Realtime
	data := &WeatherData{
		Temperature:   rt.Temperature,
		Humidity:      rt.Humidity * 100,
		Pressure:      rt.Pressure,
		WindSpeed:     rt.Wind.Speed,
		WindDirection: rt.Wind.Direction,
		Visibility:    rt.Visibility,
		Skycon:        rt.Skycon,
		Description:   describeSkycon(rt.Skycon),
		AQI:           rt.AirQuality.AQI.CHN,
		PM25:          rt.AirQuality.PM25,
		PM10:          rt.AirQuality.PM10,
	}

	s.logger.Info("Weather fetched",
		zap.String("city", s.cfg.City),
		zap.Float64("temperature", data.Temperature),
		zap.String("skycon", data.Skycon))

	return data, nil
}

// Format renders the observation as a markdown message
func (s *WeatherSource) Format(data any) (string, string, error) {
	w, ok := data.(*WeatherData)
	if !ok {
		return "", "", fmt.Errorf("%w: %T", ErrUnexpectedData, data)
	}

	city := s.cfg.City
	emoji := weatherEmoji(w.Description)
	title := fmt.Sprintf("🌤️ %s天气播报", city)

	var b strings.Builder
	fmt.Fprintf(&b, "## %s %s天气实况\n\n", emoji, city)
	fmt.Fprintf(&b, "> 📅 **更新时间：** %s\n\n", s.now().Format("2006-01-02 15:04"))
	b.WriteString("---\n\n")

	b.WriteString("### 🌡️ 基本信息\n")
	fmt.Fprintf(&b, "- **温度：** %.1f°C %s\n", w.Temperature, temperatureBand(w.Temperature))
	fmt.Fprintf(&b, "- **天气：** %s %s\n", emoji, w.Description)
	fmt.Fprintf(&b, "- **湿度：** 💧 %.1f%%\n", w.Humidity)
	fmt.Fprintf(&b, "- **风向风速：** 💨 %s %.1fm/s\n", windDirection(w.WindDirection), w.WindSpeed)
	fmt.Fprintf(&b, "- **能见度：** 👁️ %.1fkm\n", w.Visibility)
	fmt.Fprintf(&b, "- **气压：** 🏔️ %.1fhPa\n\n", w.Pressure)

	if w.AQI != nil {
		level, levelEmoji := aqiLevel(*w.AQI)
		b.WriteString("### 🫁 空气质量\n")
		fmt.Fprintf(&b, "- **AQI：** %s %d (%s)\n", levelEmoji, *w.AQI, level)
		if w.PM25 != nil {
			fmt.Fprintf(&b, "- **PM2.5：** 🔹 %.1fμg/m³\n", *w.PM25)
		}
		if w.PM10 != nil {
			fmt.Fprintf(&b, "- **PM10：** 🔸 %.1fμg/m³\n", *w.PM10)
		}
		b.WriteString("\n")
	}

	b.WriteString("### 💡 温馨提示\n")
	for _, tip := range weatherTips(w) {
		fmt.Fprintf(&b, "- %s\n", tip)
	}

	return title, b.String(), nil
}

func describeSkycon(skycon string) string {
	if desc, ok := skyconDescriptions[skycon]; ok {
		return desc
	}
	return "未知天气"
}

func weatherEmoji(desc string) string {
	if emoji, ok := weatherEmojis[desc]; ok {
		return emoji
	}
	return "🌈"
}

// windDirection maps a bearing in degrees to one of eight compass sectors
func windDirection(degrees float64) string {
	index := int((degrees+22.5)/45) % 8
	if index < 0 {
		index += 8
	}
	return windDirections[index]
}

func temperatureBand(temp float64) string {
	switch {
	case temp <= 0:
		return "❄️ 寒冷"
	case temp <= 10:
		return "🧊 较冷"
	case temp <= 20:
		return "😊 凉爽"
	case temp <= 30:
		return "🌡️ 温暖"
	default:
		return "🔥 炎热"
	}
}

func aqiLevel(aqi int) (string, string) {
	switch {
	case aqi <= 50:
		return "优", "🟢"
	case aqi <= 100:
		return "良", "🟡"
	case aqi <= 150:
		return "轻度污染", "🟠"
	case aqi <= 200:
		return "中度污染", "🔴"
	case aqi <= 300:
		return "重度污染", "🟣"
	default:
		return "严重污染", "🔵"
	}
}

func weatherTips(w *WeatherData) []string {
	var tips []string

	if w.Temperature <= 5 {
		tips = append(tips, "❄️ 天气寒冷，注意保暖！")
	} else if w.Temperature >= 35 {
		tips = append(tips, "🔥 天气炎热，注意防暑！")
	}
	if w.AQI != nil && *w.AQI > 100 {
		tips = append(tips, "😷 空气质量较差，建议减少外出，戴好口罩！")
	}
	if strings.Contains(w.Description, "雨") {
		tips = append(tips, "☂️ 有降雨，记得带伞！")
	}
	if w.WindSpeed > 10 {
		tips = append(tips, "💨 风力较大，注意安全！")
	}
	if len(tips) == 0 {
		tips = append(tips, "🌈 天气不错，适合外出活动！")
	}
	return tips
}
