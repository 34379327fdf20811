package backends

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"slices"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/brettbedarf/blobfs"
	"github.com/brettbedarf/blobfs/config"
	"github.com/brettbedarf/blobfs/internal/util"
)

const (
	s3CodeNotFound           = "NotFound"
	s3CodePreconditionFailed = "PreconditionFailed"
	s3CodeInvalidRange       = "InvalidRange"
)

// s3MinPartSize is the smallest part S3 accepts for any but the last part of a
// multipart upload.
const s3MinPartSize = 5 * config.MB

// S3Store implements [blobfs.ObjectStore] over the S3 API. Containers are buckets.
//
// Staged blocks are coalesced into multipart upload parts of at least
// s3MinPartSize bytes; a blob smaller than that is written with one PutObject
// on commit. Conditions are checked with a HeadObject before the write, so
// unlike the memory store they are not atomic.
type S3Store struct {
	client  s3iface.S3API
	pending *xsync.Map[string, *pendingUpload] // container/key -> in progress upload
}

type pendingUpload struct {
	mu       sync.Mutex
	uploadID string              // empty until the first part is uploaded
	blocks   []string            // staged block IDs in order
	parts    []*s3.CompletedPart // uploaded parts in order
	buf      []byte              // staged data not yet uploaded
}

// NewS3Store wraps an existing client.
func NewS3Store(client s3iface.S3API) *S3Store {
	return &S3Store{
		client:  client,
		pending: xsync.NewMap[string, *pendingUpload](),
	}
}

// NewS3StoreFromOptions creates a client session from opts. Empty credentials
// fall back to the SDK default chain. Retries are left to the SDK retryer.
func NewS3StoreFromOptions(opts config.S3Options) (*S3Store, error) {
	awsCfg := aws.NewConfig().WithS3ForcePathStyle(opts.ForcePathStyle)
	if opts.MaxRetries > 0 {
		awsCfg = awsCfg.WithMaxRetries(opts.MaxRetries)
	}
	if opts.Region != "" {
		awsCfg = awsCfg.WithRegion(opts.Region)
	}
	if opts.Endpoint != "" {
		awsCfg = awsCfg.WithEndpoint(opts.Endpoint)
	}
	if opts.AccessKeyID != "" {
		awsCfg = awsCfg.WithCredentials(credentials.NewStaticCredentials(opts.AccessKeyID, opts.SecretAccessKey, ""))
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("create s3 session: %w", err)
	}
	return NewS3Store(s3.New(sess)), nil
}

// s3Err maps SDK error codes onto the blobfs sentinels, keeping the SDK error as
// the message.
func s3Err(err error) error {
	if err == nil {
		return nil
	}
	var aerr awserr.Error
	if !errors.As(err, &aerr) {
		return err
	}
	switch aerr.Code() {
	case s3CodeNotFound, s3.ErrCodeNoSuchKey, s3.ErrCodeNoSuchBucket, s3.ErrCodeNoSuchUpload:
		return fmt.Errorf("%w: %v", blobfs.ErrNotFound, err)
	case s3CodePreconditionFailed:
		return fmt.Errorf("%w: %v", blobfs.ErrConditionNotMet, err)
	}
	return err
}

func isS3Code(err error, code string) bool {
	var aerr awserr.Error
	return errors.As(err, &aerr) && aerr.Code() == code
}

func (s *S3Store) GetProperties(ctx context.Context, container, key string) (*blobfs.BlobProperties, error) {
	out, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(container),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, s3Err(err)
	}
	md := aws.StringValueMap(out.Metadata)
	return &blobfs.BlobProperties{
		Size:              aws.Int64Value(out.ContentLength),
		LastModified:      aws.TimeValue(out.LastModified),
		ETag:              aws.StringValue(out.ETag),
		ContentType:       aws.StringValue(out.ContentType),
		Metadata:          md,
		IsDirectoryMarker: blobfs.IsMarkerMetadata(md),
	}, nil
}

// checkConditions evaluates cond with a HeadObject.
func (s *S3Store) checkConditions(ctx context.Context, container, key string, cond *blobfs.Conditions) error {
	if cond == nil || (cond.IfMatch == "" && cond.IfNoneMatch == "") {
		return nil
	}
	props, err := s.GetProperties(ctx, container, key)
	exists := err == nil
	if err != nil && !errors.Is(err, blobfs.ErrNotFound) {
		return err
	}
	if cond.IfNoneMatch != "" && exists {
		if cond.IfNoneMatch == blobfs.ETagAny {
			return fmt.Errorf("%s: %w", key, blobfs.ErrAlreadyExists)
		}
		if cond.IfNoneMatch == props.ETag {
			return fmt.Errorf("%s: if-none-match %s: %w", key, cond.IfNoneMatch, blobfs.ErrConditionNotMet)
		}
	}
	if cond.IfMatch != "" {
		if !exists || (cond.IfMatch != blobfs.ETagAny && cond.IfMatch != props.ETag) {
			return fmt.Errorf("%s: if-match %s: %w", key, cond.IfMatch, blobfs.ErrConditionNotMet)
		}
	}
	return nil
}

func (s *S3Store) PutMarker(ctx context.Context, container, key string, cond *blobfs.Conditions) error {
	if err := s.checkConditions(ctx, container, key, cond); err != nil {
		return err
	}
	_, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:   aws.String(container),
		Key:      aws.String(key),
		Body:     bytes.NewReader(nil),
		Metadata: aws.StringMap(blobfs.MarkerMetadata()),
	})
	return s3Err(err)
}

func (s *S3Store) ListFlat(ctx context.Context, container string, opts blobfs.ListOptions) (*blobfs.ListPage, error) {
	in := &s3.ListObjectsV2Input{
		Bucket: aws.String(container),
		Prefix: aws.String(opts.Prefix),
	}
	if opts.Delimiter != "" {
		in.Delimiter = aws.String(opts.Delimiter)
	}
	if opts.ContinuationToken != "" {
		in.ContinuationToken = aws.String(opts.ContinuationToken)
	}
	if opts.MaxResults > 0 {
		in.MaxKeys = aws.Int64(int64(opts.MaxResults))
	}
	out, err := s.client.ListObjectsV2WithContext(ctx, in)
	if err != nil {
		return nil, s3Err(err)
	}

	page := &blobfs.ListPage{
		Blobs:          make([]blobfs.BlobItem, 0, len(out.Contents)),
		CommonPrefixes: make([]string, 0, len(out.CommonPrefixes)),
	}
	for _, obj := range out.Contents {
		page.Blobs = append(page.Blobs, blobfs.BlobItem{
			Name: aws.StringValue(obj.Key),
			Size: aws.Int64Value(obj.Size),
		})
	}
	for _, cp := range out.CommonPrefixes {
		page.CommonPrefixes = append(page.CommonPrefixes, aws.StringValue(cp.Prefix))
	}
	if aws.BoolValue(out.IsTruncated) {
		page.NextToken = aws.StringValue(out.NextContinuationToken)
	}
	return page, nil
}

// Delete removes key. S3 deletes are idempotent so existence is checked first.
func (s *S3Store) Delete(ctx context.Context, container, key string) error {
	if _, err := s.GetProperties(ctx, container, key); err != nil {
		return err
	}
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(container),
		Key:    aws.String(key),
	})
	return s3Err(err)
}

func (s *S3Store) OpenRangeRead(ctx context.Context, container, key string, offset, length int64) (io.ReadCloser, error) {
	if offset < 0 {
		return nil, fmt.Errorf("%w: negative offset %d", blobfs.ErrIllegalArgument, offset)
	}
	if length == 0 {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	in := &s3.GetObjectInput{
		Bucket: aws.String(container),
		Key:    aws.String(key),
	}
	switch {
	case length > 0:
		in.Range = aws.String(fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))
	case offset > 0:
		in.Range = aws.String(fmt.Sprintf("bytes=%d-", offset))
	}
	out, err := s.client.GetObjectWithContext(ctx, in)
	if err != nil {
		// offset at or past the end
		if isS3Code(err, s3CodeInvalidRange) {
			return io.NopCloser(bytes.NewReader(nil)), nil
		}
		return nil, s3Err(err)
	}
	return out.Body, nil
}

func pendingKey(container, key string) string {
	return container + blobfs.Separator + key
}

// StageBlock buffers data until at least s3MinPartSize bytes are pending and
// then uploads them as one part. Block IDs must be unique per key.
func (s *S3Store) StageBlock(ctx context.Context, container, key, blockID string, data []byte) error {
	up, _ := s.pending.LoadOrStore(pendingKey(container, key), &pendingUpload{})
	up.mu.Lock()
	defer up.mu.Unlock()

	if slices.Contains(up.blocks, blockID) {
		return fmt.Errorf("%w: block %q already staged for %q", blobfs.ErrIllegalArgument, blockID, key)
	}
	nBlocks, nBuf := len(up.blocks), len(up.buf)
	up.blocks = append(up.blocks, blockID)
	up.buf = append(up.buf, data...)
	if len(up.buf) < s3MinPartSize {
		return nil
	}
	if err := s.uploadPart(ctx, container, key, up); err != nil {
		up.blocks, up.buf = up.blocks[:nBlocks], up.buf[:nBuf]
		return err
	}
	return nil
}

// uploadPart sends the buffered data as the next part, starting the multipart
// upload on first use. Callers hold up.mu.
func (s *S3Store) uploadPart(ctx context.Context, container, key string, up *pendingUpload) error {
	logger := util.GetLogger("S3.StageBlock")

	if up.uploadID == "" {
		out, err := s.client.CreateMultipartUploadWithContext(ctx, &s3.CreateMultipartUploadInput{
			Bucket: aws.String(container),
			Key:    aws.String(key),
		})
		if err != nil {
			return s3Err(err)
		}
		up.uploadID = aws.StringValue(out.UploadId)
		logger.Debug().Str("container", container).Str("key", key).Str("uploadID", up.uploadID).Msg("Started multipart upload")
	}

	partNum := int64(len(up.parts) + 1)
	out, err := s.client.UploadPartWithContext(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(container),
		Key:        aws.String(key),
		UploadId:   aws.String(up.uploadID),
		PartNumber: aws.Int64(partNum),
		Body:       bytes.NewReader(up.buf),
	})
	if err != nil {
		return s3Err(err)
	}
	logger.Trace().Str("key", key).Int64("part", partNum).Int("bytes", len(up.buf)).Msg("Uploaded part")
	up.parts = append(up.parts, &s3.CompletedPart{ETag: out.ETag, PartNumber: aws.Int64(partNum)})
	up.buf = nil
	return nil
}

// CommitBlocks finalizes key. blockIDs must be exactly the staged sequence.
// Data that never reached s3MinPartSize is written with a single PutObject.
func (s *S3Store) CommitBlocks(ctx context.Context, container, key string, blockIDs []string, opts *blobfs.CommitOptions) error {
	if opts == nil {
		opts = &blobfs.CommitOptions{}
	}
	if err := s.checkConditions(ctx, container, key, opts.Conditions); err != nil {
		return err
	}

	up, staged := s.pending.LoadAndDelete(pendingKey(container, key))
	if len(blockIDs) == 0 {
		if staged {
			_ = s.abort(ctx, container, key, up)
		}
		return s.putObject(ctx, container, key, nil, opts)
	}
	if !staged {
		return fmt.Errorf("%w: no blocks were staged for %q", blobfs.ErrIllegalArgument, key)
	}

	up.mu.Lock()
	defer up.mu.Unlock()
	if !slices.Equal(blockIDs, up.blocks) {
		_ = s.abort(ctx, container, key, up)
		return fmt.Errorf("%w: blocks for %q must be committed in staging order", blobfs.ErrIllegalArgument, key)
	}
	if up.uploadID == "" {
		return s.putObject(ctx, container, key, up.buf, opts)
	}
	if len(up.buf) > 0 {
		if err := s.uploadPart(ctx, container, key, up); err != nil {
			_ = s.abort(ctx, container, key, up)
			return err
		}
	}

	_, err := s.client.CompleteMultipartUploadWithContext(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(container),
		Key:             aws.String(key),
		UploadId:        aws.String(up.uploadID),
		MultipartUpload: &s3.CompletedMultipartUpload{Parts: up.parts},
	})
	if err != nil {
		_ = s.abort(ctx, container, key, up)
		return s3Err(err)
	}

	if len(opts.Metadata) == 0 && opts.ContentType == "" {
		return nil
	}
	// multipart uploads take metadata at creation, before it is known here
	in := &s3.CopyObjectInput{
		Bucket:            aws.String(container),
		Key:               aws.String(key),
		CopySource:        aws.String(copySource(container, key)),
		MetadataDirective: aws.String(s3.MetadataDirectiveReplace),
		Metadata:          aws.StringMap(opts.Metadata),
	}
	if opts.ContentType != "" {
		in.ContentType = aws.String(opts.ContentType)
	}
	_, err = s.client.CopyObjectWithContext(ctx, in)
	return s3Err(err)
}

func (s *S3Store) putObject(ctx context.Context, container, key string, data []byte, opts *blobfs.CommitOptions) error {
	in := &s3.PutObjectInput{
		Bucket: aws.String(container),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}
	if len(opts.Metadata) > 0 {
		in.Metadata = aws.StringMap(opts.Metadata)
	}
	if opts.ContentType != "" {
		in.ContentType = aws.String(opts.ContentType)
	}
	_, err := s.client.PutObjectWithContext(ctx, in)
	return s3Err(err)
}

// DiscardBlocks drops the buffered data for key and aborts its multipart
// upload, if one was started.
func (s *S3Store) DiscardBlocks(ctx context.Context, container, key string) error {
	up, ok := s.pending.LoadAndDelete(pendingKey(container, key))
	if !ok {
		return nil
	}
	up.mu.Lock()
	defer up.mu.Unlock()
	up.blocks, up.buf = nil, nil
	return s.abort(ctx, container, key, up)
}

func (s *S3Store) abort(ctx context.Context, container, key string, up *pendingUpload) error {
	logger := util.GetLogger("S3.Abort")

	if up == nil || up.uploadID == "" {
		return nil
	}
	_, err := s.client.AbortMultipartUploadWithContext(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(container),
		Key:      aws.String(key),
		UploadId: aws.String(up.uploadID),
	})
	if err != nil {
		logger.Warn().Err(err).Str("key", key).Str("uploadID", up.uploadID).Msg("Failed to abort multipart upload")
		return s3Err(err)
	}
	return nil
}

func copySource(container, key string) string {
	return strings.TrimPrefix((&url.URL{Path: container + blobfs.Separator + key}).EscapedPath(), "/")
}

func (s *S3Store) Copy(ctx context.Context, srcContainer, srcKey, dstContainer, dstKey string, cond *blobfs.Conditions) error {
	if err := s.checkConditions(ctx, dstContainer, dstKey, cond); err != nil {
		return err
	}
	_, err := s.client.CopyObjectWithContext(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(dstContainer),
		Key:        aws.String(dstKey),
		CopySource: aws.String(copySource(srcContainer, srcKey)),
	})
	return s3Err(err)
}

func (s *S3Store) ContainerExists(ctx context.Context, container string) (bool, error) {
	_, err := s.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{Bucket: aws.String(container)})
	if err == nil {
		return true, nil
	}
	if err = s3Err(err); errors.Is(err, blobfs.ErrNotFound) {
		return false, nil
	}
	return false, err
}

var _ blobfs.ObjectStore = (*S3Store)(nil)
