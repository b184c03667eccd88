// Package cache stores installed dependency trees keyed by cache partition.
//
// A partition is an archive of every node_modules directory produced by an
// install, stored under a key derived from platform, install mode and lockfile
// digest. The package is split into two layers:
//
//   - BlobStore persists opaque archives by key (local directory or S3).
//   - Cache turns a BlobStore into Restore/Save of directory trees using the
//     zstd-compressed tar codec in archive.go.
//
// Entries are written at most once per key: Save is a no-op when the key is
// already present. Concurrent writers of the same key race safely because the
// local backend renames atomically and S3 replaces whole objects.
package cache
