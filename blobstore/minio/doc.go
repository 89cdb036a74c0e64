// Package minio implements blobstore.Store using the MinIO client.
//
// MinIO speaks the S3 protocol, so this backend also works against
// Ceph, SeaweedFS, Garage, and other S3-compatible systems without
// pulling in the AWS SDK.
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//	    Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
//	    Secure: false,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	store := minioblob.NewStore(client, "my-bucket", "segments/")
package minio
