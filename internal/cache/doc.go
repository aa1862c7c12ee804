// Package cache defines the durable partition store that backs the request
// router. A partition is a named key→response mapping living under
// StoragePath/partitions/<name>/; each entry is a single file holding a JSON
// metadata line (method, URL, status, headers) followed by the raw body, and is
// published with temp file + rename so readers observe either the previous or
// the new snapshot. Partitions are created on first open and deleted as a whole
// when a newer deployment activates.
package cache
