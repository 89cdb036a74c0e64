// Package blobstore provides byte-level storage for immutable segment
// blobs and manifest files.
//
// Store is the interface the segment layer writes flushes through and
// reads back from. Implementations must be safe for concurrent use.
//
// # Built-in Implementations
//
//   - MemoryStore: map-backed, for tests and ephemeral shards
//   - LocalStore: local filesystem, mmap reads, atomic Put via temp+rename
//   - s3.Store: Amazon S3 with range reads and parallel multipart uploads
//   - s3.CommitStore: s3.Store plus a DynamoDB conditional-write CURRENT
//     pointer, for safe concurrent committers
//   - minio.Store: MinIO and other S3-compatible self-hosted storage
package blobstore
