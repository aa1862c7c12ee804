package strategy

// OfflineMessage 是 network-first 离线兜底响应的正文。
const OfflineMessage = "Offline - Please check your connection"

func init() {
	MustRegister(Metadata{
		Kind:            NetworkFirst,
		Description:     "Fresh data from origin; dynamic partition copy when offline",
		Writes:          PartitionDynamic,
		Lookup:          LookupPartition,
		NetworkFirst:    true,
		OfflineFallback: "503 " + OfflineMessage,
	})
	MustRegister(Metadata{
		Kind:            CacheFirst,
		Description:     "Immutable static assets served from any partition before origin",
		Writes:          PartitionStatic,
		Lookup:          LookupAll,
		OfflineFallback: "200 empty image/svg+xml for image extensions",
	})
	MustRegister(Metadata{
		Kind:        StaleWhileRevalidate,
		Description: "HTML navigations answered from dynamic partition, refreshed in background",
		Writes:      PartitionDynamic,
		Lookup:      LookupPartition,
	})
	MustRegister(Metadata{
		Kind:         NetworkWithCacheFallback,
		Description:  "Default: origin first, any partition when origin is unreachable",
		Writes:       PartitionDynamic,
		Lookup:       LookupAll,
		NetworkFirst: true,
	})
	MustRegister(Metadata{
		Kind:         Passthrough,
		Description:  "Non-cacheable requests forwarded to origin untouched",
		Writes:       PartitionNone,
		Lookup:       LookupNone,
		NetworkFirst: true,
	})
}
