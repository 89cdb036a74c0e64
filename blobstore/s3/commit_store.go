package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/okrasa/strata/blobstore"
)

// CurrentName is the manifest pointer blob routed through DynamoDB.
const CurrentName = "CURRENT"

// ErrConcurrentCommit is returned when another committer won the
// conditional write for the same version.
var ErrConcurrentCommit = errors.New("s3: concurrent manifest commit")

// DDBClient is the subset of the DynamoDB API the commit store uses.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// CommitStore is an S3-backed blobstore.Store whose CURRENT pointer goes
// through DynamoDB conditional writes, giving manifest commits the
// compare-and-swap semantics S3 lacks. All other blobs pass through to
// the underlying S3 store.
//
// Table schema: partition key base_uri (S), sort key version (N).
type CommitStore struct {
	s3Store   *Store
	ddb       DDBClient
	tableName string
	baseURI   string
}

// NewCommitStore creates a commit store over s3Store. baseURI is the
// partition key for this shard's commit log (e.g. "s3://bucket/prefix").
func NewCommitStore(s3Store *Store, ddb DDBClient, tableName, baseURI string) *CommitStore {
	return &CommitStore{
		s3Store:   s3Store,
		ddb:       ddb,
		tableName: tableName,
		baseURI:   baseURI,
	}
}

// Open opens a blob. CURRENT resolves through DynamoDB.
func (s *CommitStore) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	if name != CurrentName {
		return s.s3Store.Open(ctx, name)
	}
	_, target, err := s.latest(ctx)
	if err != nil {
		return nil, err
	}
	if target == "" {
		return nil, blobstore.ErrNotFound
	}
	return &pointerBlob{content: []byte(target)}, nil
}

// Put writes a blob. CURRENT commits through a conditional write.
func (s *CommitStore) Put(ctx context.Context, name string, data []byte) error {
	if name != CurrentName {
		return s.s3Store.Put(ctx, name, data)
	}
	version, _, err := s.latest(ctx)
	if err != nil {
		return err
	}
	_, err = s.ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]ddbtypes.AttributeValue{
			"base_uri": &ddbtypes.AttributeValueMemberS{Value: s.baseURI},
			"version":  &ddbtypes.AttributeValueMemberN{Value: strconv.FormatUint(version+1, 10)},
			"target":   &ddbtypes.AttributeValueMemberS{Value: string(data)},
		},
		ConditionExpression: aws.String("attribute_not_exists(version)"),
	})
	if err != nil {
		var cond *ddbtypes.ConditionalCheckFailedException
		if errors.As(err, &cond) {
			return fmt.Errorf("%w: version %d already committed", ErrConcurrentCommit, version+1)
		}
		return err
	}
	return nil
}

// Create creates a writable blob on S3.
func (s *CommitStore) Create(ctx context.Context, name string) (blobstore.WritableBlob, error) {
	return s.s3Store.Create(ctx, name)
}

// Delete removes a blob on S3.
func (s *CommitStore) Delete(ctx context.Context, name string) error {
	return s.s3Store.Delete(ctx, name)
}

// List lists blobs on S3.
func (s *CommitStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.s3Store.List(ctx, prefix)
}

// latest returns the newest committed version and its manifest target.
func (s *CommitStore) latest(ctx context.Context) (uint64, string, error) {
	out, err := s.ddb.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("base_uri = :u"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":u": &ddbtypes.AttributeValueMemberS{Value: s.baseURI},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return 0, "", err
	}
	if len(out.Items) == 0 {
		return 0, "", nil
	}
	item := out.Items[0]
	vAttr, ok := item["version"].(*ddbtypes.AttributeValueMemberN)
	if !ok {
		return 0, "", errors.New("s3: malformed commit item: missing version")
	}
	version, err := strconv.ParseUint(vAttr.Value, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("s3: malformed commit version: %w", err)
	}
	tAttr, ok := item["target"].(*ddbtypes.AttributeValueMemberS)
	if !ok {
		return 0, "", errors.New("s3: malformed commit item: missing target")
	}
	return version, tAttr.Value, nil
}

// pointerBlob serves the resolved CURRENT content from memory.
type pointerBlob struct {
	content []byte
}

func (b *pointerBlob) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(b.content)) {
		return 0, io.EOF
	}
	n := copy(p, b.content[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (b *pointerBlob) Close() error { return nil }

func (b *pointerBlob) Size() int64 { return int64(len(b.content)) }
