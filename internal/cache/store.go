package cache

import (
	"context"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	"lukechampine.com/blake3"
)

// Store 管理所有命名分区。磁盘布局遵循：
//
//	<StoragePath>/partitions/<name>/<blake3(key)>.entry
//
// 分区之间互相独立，同一分区内同一 Key 至多一个条目，写入即覆盖。
type Store interface {
	// Open 打开（必要时创建）指定名称的分区。
	Open(ctx context.Context, name string) (Partition, error)

	// Lookup 返回只读查找用的分区句柄，不创建目录；分区不存在时 Match 返回 ErrNotFound。
	Lookup(ctx context.Context, name string) (Partition, error)

	// Has 判断分区是否已存在。
	Has(ctx context.Context, name string) (bool, error)

	// Names 返回按名称排序的全部分区名。
	Names(ctx context.Context) ([]string, error)

	// Delete 删除整个分区，返回分区此前是否存在。
	Delete(ctx context.Context, name string) (bool, error)

	// Match 按分区名字典序（而非创建顺序）在全部分区中查找 Key，
	// 因此 <prefix>-dynamic-* 先于 <prefix>-static-*。全部未命中时返回 ErrNotFound。
	Match(ctx context.Context, key Key) (*Entry, string, error)
}

// Partition 是单个命名分区的读写接口。
type Partition interface {
	Name() string

	// Match 返回 Key 对应的条目，不存在时返回 ErrNotFound。
	Match(ctx context.Context, key Key) (*Entry, error)

	// Put 写入（覆盖）单个条目，实现需保证写入原子性。
	Put(ctx context.Context, key Key, snapshot *Snapshot) error

	// PutAll 批量写入：所有条目先落临时文件，全部成功后再逐个发布；
	// 任一步骤失败时已发布的条目会回滚到批量写入之前的状态。
	PutAll(ctx context.Context, items []Item) error

	// Remove 删除单个条目，条目不存在不视为错误。
	Remove(ctx context.Context, key Key) error

	// Keys 返回分区内全部条目的 Key。
	Keys(ctx context.Context) ([]Key, error)
}

// Key 唯一定位一个缓存条目：请求方法 + 绝对 URL。
type Key struct {
	Method string `json:"method"`
	URL    string `json:"url"`
}

// NewKey 规范化方法名（大写，默认 GET）。
func NewKey(method, rawURL string) Key {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodGet
	}
	return Key{Method: method, URL: rawURL}
}

func (k Key) String() string {
	return k.Method + " " + k.URL
}

// digest 作为文件名使用，避免 URL 中的特殊字符落到文件系统。
func (k Key) digest() string {
	sum := blake3.Sum256([]byte(k.String()))
	return hex.EncodeToString(sum[:])
}

// Snapshot 是一次完整响应的快照：状态码、头部与正文。
type Snapshot struct {
	Status int
	Header http.Header
	Body   []byte
}

// Clone 深拷贝快照，调用方可以独立修改返回值。
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	return &Snapshot{
		Status: s.Status,
		Header: s.Header.Clone(),
		Body:   append([]byte(nil), s.Body...),
	}
}

// OK 对应 fetch Response.ok：2xx 状态码。
func (s *Snapshot) OK() bool {
	return s != nil && s.Status >= 200 && s.Status <= 299
}

// Cacheable 在 OK 的基础上排除 206：部分响应不能代表整个资源。
func (s *Snapshot) Cacheable() bool {
	return s.OK() && s.Status != http.StatusPartialContent
}

// privateHeaders 属于单个客户端，不随共享缓存条目落盘。
var privateHeaders = []string{"Set-Cookie", "Set-Cookie2"}

// storableHeader 返回去掉 privateHeaders 的头部副本。
func storableHeader(header http.Header) http.Header {
	clean := header.Clone()
	if clean == nil {
		return http.Header{}
	}
	for _, key := range privateHeaders {
		clean.Del(key)
	}
	return clean
}

// Entry 表示一次命中结果。
type Entry struct {
	Key      Key
	Snapshot *Snapshot
	StoredAt time.Time
}

// Item 是批量写入的单元。
type Item struct {
	Key      Key
	Snapshot *Snapshot
}

// ErrNotFound 表示缓存不存在。
var ErrNotFound = errors.New("cache entry not found")

// ErrInvalidPartition 表示分区名无法映射为安全的目录名。
var ErrInvalidPartition = errors.New("invalid partition name")
