package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/pushbot/internal/config"
	"github.com/t77yq/pushbot/internal/task"
)

const weiboHotBand = `{
  "ok": 1,
  "data": {
    "band_list": [
      {"word": "第一条", "num": 1500000},
      {"word": "second \"quoted\"", "num": 900000, "url": "https://example.com/second"},
      {"word": "", "num": 10},
      {"word": "第四 条", "num": 500},
      {"word": "第五条"},
      {"word": "beyond limit", "num": 1}
    ]
  }
}`

func newTestHotSearchSource(t *testing.T, key string, limit int, body string) *HotSearchSource {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, browserUserAgent, r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)

	source, err := NewHotSearchSource(key, config.HotSearchConfig{Limit: limit, Timeout: time.Second}, zaptest.NewLogger(t))
	require.NoError(t, err)
	source.site.URL = server.URL
	source.now = func() time.Time {
		return time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	}
	return source
}

func fetchHotSearch(t *testing.T, source *HotSearchSource) *HotSearchData {
	t.Helper()
	data, err := source.Fetch(context.Background())
	require.NoError(t, err)
	hs, ok := data.(*HotSearchData)
	require.True(t, ok)
	return hs
}

func TestHotSearchSource_Fetch(t *testing.T) {
	source := newTestHotSearchSource(t, "weibo", 5, weiboHotBand)

	hs := fetchHotSearch(t, source)
	assert.Equal(t, "微博", hs.Source)
	require.Len(t, hs.Items, 4)

	// Test case 1: template url with the escaped title
	assert.Equal(t, 1, hs.Items[0].Rank)
	assert.Equal(t, "第一条", hs.Items[0].Title)
	assert.Equal(t, "1500000", hs.Items[0].HotValue)
	assert.Equal(t, "https://s.weibo.com/weibo?q=%E7%AC%AC%E4%B8%80%E6%9D%A1&rsv_pq=&rsv_t=&oq=&rsv_spt=1", hs.Items[0].URL)

	// Test case 2: direct url and unescaped title
	assert.Equal(t, `second "quoted"`, hs.Items[1].Title)
	assert.Equal(t, "https://example.com/second", hs.Items[1].URL)

	// Test case 3: untitled entries are skipped but keep their position
	assert.Equal(t, 4, hs.Items[2].Rank)
	assert.Contains(t, hs.Items[2].URL, "q=%E7%AC%AC%E5%9B%9B+%E6%9D%A1")

	// Test case 4: missing hot value
	assert.Equal(t, 5, hs.Items[3].Rank)
	assert.Empty(t, hs.Items[3].HotValue)
}

func TestHotSearchSource_FetchNestedKeys(t *testing.T) {
	body := `{"data": [
	  {"target": {"title": "问题一", "url": "https://api.zhihu.com/questions/1"}, "detail_text": "1200 万热度"},
	  {"target": {"title": "问题二"}, "detail_text": "800 万热度"}
	]}`
	source := newTestHotSearchSource(t, "zhihu", 15, body)

	hs := fetchHotSearch(t, source)
	require.Len(t, hs.Items, 2)
	assert.Equal(t, "问题一", hs.Items[0].Title)
	assert.Equal(t, "https://api.zhihu.com/questions/1", hs.Items[0].URL)
	assert.Equal(t, "1200 万热度", hs.Items[0].HotValue)
	assert.Equal(t, "https://www.zhihu.com/hot", hs.Items[1].URL)
}

func TestHotSearchSource_NoData(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty list", `{"data": {"band_list": []}}`},
		{"missing list", `{"data": {}}`},
		{"only untitled items", `{"data": {"band_list": [{"word": ""}, {"num": 3}]}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := newTestHotSearchSource(t, "weibo", 15, tt.body)

			data, err := source.Fetch(context.Background())
			assert.Nil(t, data)
			assert.ErrorIs(t, err, task.ErrNoData)
		})
	}
}

func TestHotSearchSource_FetchNonArrayList(t *testing.T) {
	source := newTestHotSearchSource(t, "weibo", 15, `{"data": {"band_list": "oops"}}`)

	_, err := source.Fetch(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, task.ErrNoData)
}

func TestHotSearchSource_Format(t *testing.T) {
	source := newTestHotSearchSource(t, "weibo", 5, weiboHotBand)
	hs := fetchHotSearch(t, source)

	title, body, err := source.Format(hs)
	require.NoError(t, err)

	assert.Equal(t, "🔥 微博", title)
	assert.Contains(t, body, "### 🏆 热门排行")
	assert.Contains(t, body, "**🥇 1. [第一条](")
	assert.Contains(t, body, "`1500000`")
	assert.Contains(t, body, "**🥈 2. [second \"quoted\"](https://example.com/second)**")
	assert.Contains(t, body, "**🔥 4. ")
	assert.Contains(t, body, "### 📈 其他热门")
	assert.Contains(t, body, "- **5.** [第五条](")
	assert.Contains(t, body, "- 总计：4 条热搜")
	assert.Contains(t, body, "- 更新时间：2024-09-01 12:00:00")
}

func TestHotSearchSource_FormatShortList(t *testing.T) {
	source := newTestHotSearchSource(t, "toutiao", 15, `{"data": []}`)

	_, body, err := source.Format(&HotSearchData{
		Source: "今日头条",
		Items:  []HotSearchItem{{Rank: 1, Title: "only"}},
	})
	require.NoError(t, err)

	assert.Contains(t, body, "**🥇 1. only**")
	assert.False(t, strings.Contains(body, "其他热门"))
}

func TestNewHotSearchSource_Unsupported(t *testing.T) {
	_, err := NewHotSearchSource("myspace", config.HotSearchConfig{}, zaptest.NewLogger(t))
	assert.ErrorIs(t, err, ErrUnsupportedSource)
}

func TestLookupSite(t *testing.T) {
	site, ok := LookupSite(" Weibo ")
	require.True(t, ok)
	assert.Equal(t, "微博", site.Name)

	keys := make([]string, 0, len(Sources()))
	for _, s := range Sources() {
		keys = append(keys, s.Key)
	}
	assert.Equal(t, []string{"weibo", "zhihu", "douyin", "toutiao", "bilibili", "baidu", "tieba"}, keys)
}

func TestRankEmoji(t *testing.T) {
	assert.Equal(t, "🥇", rankEmoji(1))
	assert.Equal(t, "🥉", rankEmoji(3))
	assert.Equal(t, "🔥", rankEmoji(5))
	assert.Equal(t, "📈", rankEmoji(10))
	assert.Equal(t, "📊", rankEmoji(11))
}
