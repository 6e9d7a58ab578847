package handler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/buger/jsonparser"
	"go.uber.org/zap"

	"github.com/t77yq/pushbot/internal/config"
	"github.com/t77yq/pushbot/internal/task"
)

const (
	defaultHotSearchLimit   = 15
	defaultHotSearchTimeout = 15 * time.Second
)

// HotSearchSite describes where a hot-search list lives and how to read it.
// Paths are dot separated. A "%s" in URLTemplate is replaced with the
// query-escaped title.
type HotSearchSite struct {
	Key         string
	Name        string
	URL         string
	ListPath    string
	TitleKey    string
	HotKey      string
	URLKey      string
	URLTemplate string
}

var hotSearchSites = []HotSearchSite{
	{
		Key:         "weibo",
		Name:        "微博",
		URL:         "https://weibo.com/ajax/statuses/hot_band",
		ListPath:    "data.band_list",
		TitleKey:    "word",
		HotKey:      "num",
		URLKey:      "url",
		URLTemplate: "https://s.weibo.com/weibo?q=%s&rsv_pq=&rsv_t=&oq=&rsv_spt=1",
	},
	{
		Key:         "zhihu",
		Name:        "知乎",
		URL:         "https://www.zhihu.com/api/v3/feed/topstory/hot-lists/total?limit=15&desktop=true",
		ListPath:    "data",
		TitleKey:    "target.title",
		HotKey:      "detail_text",
		URLKey:      "target.url",
		URLTemplate: "https://www.zhihu.com/hot",
	},
	{
		Key:         "douyin",
		Name:        "抖音",
		URL:         "https://aweme.snssdk.com/aweme/v1/hot/search/list/",
		ListPath:    "data.word_list",
		TitleKey:    "word",
		HotKey:      "hot_value",
		URLTemplate: "https://www.douyin.com/search/%s",
	},
	{
		Key:         "toutiao",
		Name:        "今日头条",
		URL:         "https://www.toutiao.com/hot-event/hot-board/?origin=toutiao_pc",
		ListPath:    "data",
		TitleKey:    "Title",
		HotKey:      "HotValue",
		URLKey:      "Url",
		URLTemplate: "https://www.toutiao.com/",
	},
	{
		Key:         "bilibili",
		Name:        "哔哩哔哩",
		URL:         "https://api.bilibili.com/x/web-interface/ranking/v2",
		ListPath:    "data.list",
		TitleKey:    "title",
		HotKey:      "play",
		URLKey:      "short_link_v2",
		URLTemplate: "https://www.bilibili.com/",
	},
	{
		Key:         "baidu",
		Name:        "百度",
		URL:         "https://tenapi.cn/v2/baiduhot",
		ListPath:    "data",
		TitleKey:    "title",
		HotKey:      "index",
		URLKey:      "url",
		URLTemplate: "https://www.baidu.com/s?wd=%s",
	},
	{
		Key:         "tieba",
		Name:        "百度贴吧",
		URL:         "https://tieba.baidu.com/hottopic/browse/topicList",
		ListPath:    "data.bang_topic.topic_list",
		TitleKey:    "topic_name",
		HotKey:      "discuss_num",
		URLKey:      "topic_url",
		URLTemplate: "https://tieba.baidu.com/",
	},
}

// Sources returns the supported hot-search sites in display order
func Sources() []HotSearchSite {
	sites := make([]HotSearchSite, len(hotSearchSites))
	copy(sites, hotSearchSites)
	return sites
}

// LookupSite returns the site definition for a source key
func LookupSite(key string) (HotSearchSite, bool) {
	key = strings.ToLower(strings.TrimSpace(key))
	for _, site := range hotSearchSites {
		if site.Key == key {
			return site, true
		}
	}
	return HotSearchSite{}, false
}

// HotSearchItem is one entry of a hot-search list
type HotSearchItem struct {
	Rank     int
	Title    string
	URL      string
	HotValue string
}

// HotSearchData is a fetched hot-search list
type HotSearchData struct {
	Source    string
	UpdatedAt time.Time
	Items     []HotSearchItem
}

// HotSearchSource fetches the hot-search list of one site
type HotSearchSource struct {
	site   HotSearchSite
	limit  int
	getter *httpGetter
	logger *zap.Logger
	now    func() time.Time
}

// NewHotSearchSource creates a new hot-search source for the given site key
func NewHotSearchSource(source string, cfg config.HotSearchConfig, logger *zap.Logger) (*HotSearchSource, error) {
	site, ok := LookupSite(source)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedSource, source)
	}

	limit := cfg.Limit
	if limit <= 0 {
		limit = defaultHotSearchLimit
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHotSearchTimeout
	}

	logger = logger.Named("hotsearch").With(zap.String("source", site.Key))
	return &HotSearchSource{
		site:   site,
		limit:  limit,
		getter: newHTTPGetter(timeout, logger),
		logger: logger,
		now:    time.Now,
	}, nil
}

// Site returns the site definition the source reads from
func (s *HotSearchSource) Site() HotSearchSite {
	return s.site
}

// Fetch retrieves up to limit items. An empty list yields task.ErrNoData.
func (s *HotSearchSource) Fetch(ctx context.Context) (any, error) {
	body, err := s.getter.get(ctx, s.site.URL, map[string]string{
		"User-Agent":      browserUserAgent,
		"Accept":          "application/json, text/plain, */*",
		"Accept-Language": "zh-CN,zh;q=0.9,en;q=0.8",
		"Referer":         s.site.URL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to request %s hot search: %w", s.site.Name, err)
	}

	items, err := s.parse(body)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: %s returned no items", task.ErrNoData, s.site.Name)
	}

	s.logger.Info("Hot search fetched", zap.Int("items", len(items)))

	return &HotSearchData{
		Source:    s.site.Name,
		UpdatedAt: s.now(),
		Items:     items,
	}, nil
}

func (s *HotSearchSource) parse(body []byte) ([]HotSearchItem, error) {
	var items []HotSearchItem
	position := 0

	_, err := jsonparser.ArrayEach(body, func(value []byte, _ jsonparser.ValueType, _ int, _ error) {
		if position >= s.limit {
			return
		}
		position++

		title := lookupString(value, s.site.TitleKey)
		if title == "" {
			return
		}

		items = append(items, HotSearchItem{
			Rank:     position,
			Title:    title,
			URL:      s.itemURL(value, title),
			HotValue: lookupString(value, s.site.HotKey),
		})
	}, splitPath(s.site.ListPath)...)

	if errors.Is(err, jsonparser.KeyPathNotFoundError) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s hot search list: %w", s.site.Name, err)
	}
	return items, nil
}

func (s *HotSearchSource) itemURL(item []byte, title string) string {
	if u := lookupString(item, s.site.URLKey); u != "" {
		return u
	}
	if strings.Contains(s.site.URLTemplate, "%s") {
		return strings.Replace(s.site.URLTemplate, "%s", url.QueryEscape(title), 1)
	}
	return s.site.URLTemplate
}

// Format renders the list as a markdown message
func (s *HotSearchSource) Format(data any) (string, string, error) {
	hs, ok := data.(*HotSearchData)
	if !ok {
		return "", "", fmt.Errorf("%w: %T", ErrUnexpectedData, data)
	}

	title := fmt.Sprintf("🔥 %s", hs.Source)

	var b strings.Builder
	fmt.Fprintf(&b, "## 🔥 %s\n\n", hs.Source)
	fmt.Fprintf(&b, "> 📅 **更新时间：** %s\n\n", s.now().Format("2006-01-02 15:04"))
	b.WriteString("---\n\n")

	b.WriteString("### 🏆 热门排行\n\n")
	top := hs.Items
	if len(top) > 3 {
		top = top[:3]
	}
	for _, item := range top {
		fmt.Fprintf(&b, "**%s %d. %s**", rankEmoji(item.Rank), item.Rank, linkTitle(item))
		if item.HotValue != "" {
			fmt.Fprintf(&b, " `%s`", item.HotValue)
		}
		b.WriteString("\n\n")
	}

	if len(hs.Items) > 3 {
		b.WriteString("### 📈 其他热门\n\n")
		for _, item := range hs.Items[3:] {
			fmt.Fprintf(&b, "- **%d.** %s", item.Rank, linkTitle(item))
			if item.HotValue != "" {
				fmt.Fprintf(&b, " `%s`", item.HotValue)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("---\n\n")
	b.WriteString("📊 **统计信息**\n")
	fmt.Fprintf(&b, "- 总计：%d 条热搜\n", len(hs.Items))
	fmt.Fprintf(&b, "- 数据源：%s\n", hs.Source)
	fmt.Fprintf(&b, "- 更新时间：%s\n", hs.UpdatedAt.Format("2006-01-02 15:04:05"))

	return title, b.String(), nil
}

func linkTitle(item HotSearchItem) string {
	if item.URL == "" {
		return item.Title
	}
	return fmt.Sprintf("[%s](%s)", item.Title, item.URL)
}

func rankEmoji(rank int) string {
	switch {
	case rank == 1:
		return "🥇"
	case rank == 2:
		return "🥈"
	case rank == 3:
		return "🥉"
	case rank <= 5:
		return "🔥"
	case rank <= 10:
		return "📈"
	default:
		return "📊"
	}
}

func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// lookupString reads a scalar at a dotted path, rendering numbers as text.
// Missing keys, nulls, objects and arrays yield "".
func lookupString(data []byte, path string) string {
	if path == "" {
		return ""
	}

	value, dataType, _, err := jsonparser.Get(data, splitPath(path)...)
	if err != nil {
		return ""
	}

	switch dataType {
	case jsonparser.String:
		s, err := jsonparser.ParseString(value)
		if err != nil {
			return string(value)
		}
		return strings.TrimSpace(s)
	case jsonparser.Number, jsonparser.Boolean:
		return string(value)
	default:
		return ""
	}
}
