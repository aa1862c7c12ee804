package strategy

// Kind 是策略的唯一键。
type Kind string

const (
	NetworkFirst             Kind = "network-first"
	CacheFirst               Kind = "cache-first"
	StaleWhileRevalidate     Kind = "stale-while-revalidate"
	NetworkWithCacheFallback Kind = "network-with-cache-fallback"
	Passthrough              Kind = "passthrough"
)

// PartitionRole 标记策略写入的分区类型。
type PartitionRole string

const (
	PartitionNone    PartitionRole = ""
	PartitionStatic  PartitionRole = "static"
	PartitionDynamic PartitionRole = "dynamic"
)

// LookupScope 描述缓存查找范围。
type LookupScope string

const (
	LookupNone      LookupScope = "none"
	LookupPartition LookupScope = "partition"
	LookupAll       LookupScope = "all"
)

// Metadata 记录一个策略的静态信息，供分发与诊断端使用。
type Metadata struct {
	Kind            Kind
	Description     string
	Writes          PartitionRole
	Lookup          LookupScope
	NetworkFirst    bool
	OfflineFallback string
}
