package strategy

import (
	"net/http"
	"net/url"
	"path"
	"strings"
)

// RuleSet 是启动时构建、运行期只读的分类规则。
type RuleSet struct {
	NetworkFirst    []string
	CacheFirst      []string
	ImageExtensions []string
}

// NewRuleSet 复制输入切片并把扩展名统一为小写。
func NewRuleSet(networkFirst, cacheFirst, images []string) RuleSet {
	return RuleSet{
		NetworkFirst:    append([]string(nil), networkFirst...),
		CacheFirst:      lower(cacheFirst),
		ImageExtensions: lower(images),
	}
}

// Classify 按固定优先级为请求选择唯一策略。
func (r RuleSet) Classify(method string, u *url.URL, header http.Header) Kind {
	if !Interceptable(method, u) {
		return Passthrough
	}

	p := requestPath(u)
	for _, prefix := range r.NetworkFirst {
		if prefix != "" && strings.HasPrefix(p, prefix) {
			return NetworkFirst
		}
	}

	lowered := strings.ToLower(p)
	for _, ext := range r.CacheFirst {
		if ext != "" && strings.HasSuffix(lowered, ext) {
			return CacheFirst
		}
	}

	if AcceptsHTML(header) {
		return StaleWhileRevalidate
	}
	return NetworkWithCacheFallback
}

// IsImage 判断请求是否指向图片资源，决定 cache-first 失败时是否返回占位图。
func (r RuleSet) IsImage(u *url.URL) bool {
	if u == nil {
		return false
	}
	ext := strings.ToLower(path.Ext(requestPath(u)))
	if ext == "" {
		return false
	}
	for _, candidate := range r.ImageExtensions {
		if ext == candidate {
			return true
		}
	}
	return false
}

// Interceptable 只有 http/https 的 GET 请求可以进入缓存策略。
func Interceptable(method string, u *url.URL) bool {
	if u == nil {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return false
	}
	return strings.EqualFold(method, http.MethodGet)
}

// AcceptsHTML 检查 Accept 头（可能有多个值）是否声明 text/html。
func AcceptsHTML(header http.Header) bool {
	if header == nil {
		return false
	}
	for _, value := range header.Values("Accept") {
		if strings.Contains(strings.ToLower(value), "text/html") {
			return true
		}
	}
	return false
}

func requestPath(u *url.URL) string {
	if u.Path == "" {
		return "/"
	}
	return u.Path
}

func lower(items []string) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = strings.ToLower(item)
	}
	return out
}
