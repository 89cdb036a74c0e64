// Package s3 implements blobstore.Store on Amazon S3.
//
// Reads use ranged GETs so segment readers only pull the blocks they
// need; streaming writes go through the SDK's parallel multipart
// uploader. CommitStore layers a DynamoDB conditional write under the
// manifest CURRENT pointer, supplying the compare-and-swap S3 lacks so
// concurrent committers cannot lose manifests.
package s3
