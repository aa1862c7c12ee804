package cache

import (
	"context"
	"errors"
)

// ErrPartitionUnavailable 表示 Writer 未绑定分区。
var ErrPartitionUnavailable = errors.New("cache partition unavailable")

// Writer 只写入可缓存的响应（2xx 且非 206），其余原样交还调用方、不落盘。
type Writer struct {
	partition Partition
}

// NewWriter 绑定目标分区。
func NewWriter(partition Partition) Writer {
	return Writer{partition: partition}
}

// Enabled 返回当前是否具备缓存写入能力。
func (w Writer) Enabled() bool {
	return w.partition != nil
}

// Partition 返回绑定的分区名，未绑定时为空。
func (w Writer) Partition() string {
	if w.partition == nil {
		return ""
	}
	return w.partition.Name()
}

// Store 在响应可缓存时覆盖写入，返回是否实际写入。
func (w Writer) Store(ctx context.Context, key Key, snapshot *Snapshot) (bool, error) {
	if w.partition == nil {
		return false, ErrPartitionUnavailable
	}
	if !snapshot.Cacheable() {
		return false, nil
	}
	if err := w.partition.Put(ctx, key, snapshot); err != nil {
		return false, err
	}
	return true, nil
}
