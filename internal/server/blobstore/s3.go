package blobstore

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/dmitrijs2005/gophscribe/internal/common"
)

// S3Client is the subset of *s3.Client used by S3Store.
type S3Client interface {
	manager.UploadAPIClient
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Presigner builds read URLs handed to the transcription service.
type Presigner interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Config describes an S3-compatible backend.
type S3Config struct {
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	Bucket       string
	UsePathStyle bool
	MaxBlockSize int64
	URLTTL       time.Duration
}

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// S3Store keeps staged blocks as objects under "{blobPath}.blocks/" and
// assembles them into the final object on commit.
type S3Store struct {
	client   S3Client
	presign  Presigner
	uploader *manager.Uploader
	bucket   string
	maxSize  int64
	urlTTL   time.Duration
}

// NewS3Store builds the AWS client from static credentials.
func NewS3Store(ctx context.Context, c S3Config) (*S3Store, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(c.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(c.AccessKey, c.SecretKey, "")))
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if c.Endpoint != "" {
			o.BaseEndpoint = aws.String(c.Endpoint)
		}
		o.UsePathStyle = c.UsePathStyle
	})

	return NewS3StoreWithClient(client, s3.NewPresignClient(client), c), nil
}

// NewS3StoreWithClient wires an existing client, mostly for tests.
func NewS3StoreWithClient(client S3Client, presign Presigner, c S3Config) *S3Store {
	if c.MaxBlockSize <= 0 {
		c.MaxBlockSize = DefaultMaxBlockSize
	}
	if c.URLTTL <= 0 {
		c.URLTTL = 2 * time.Hour
	}
	return &S3Store{
		client:   client,
		presign:  presign,
		uploader: manager.NewUploader(client, func(u *manager.Uploader) { u.Concurrency = 2 }),
		bucket:   c.Bucket,
		maxSize:  c.MaxBlockSize,
		urlTTL:   c.URLTTL,
	}
}

func stagedPrefix(blobPath string) string {
	return blobPath + ".blocks/"
}

func stagedKey(blobPath, blockID string) string {
	return stagedPrefix(blobPath) + hex.EncodeToString([]byte(blockID))
}

func (s *S3Store) Stage(ctx context.Context, blobPath, blockID string, data []byte) error {
	if err := checkBlock(blobPath, blockID, int64(len(data)), s.maxSize); err != nil {
		return err
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(stagedKey(blobPath, blockID)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return fmt.Errorf("%w: stage %s/%s: %v", common.ErrStorageUnavailable, blobPath, blockID, err)
	}
	return nil
}

func (s *S3Store) Commit(ctx context.Context, blobPath string, blockIDs []string) error {
	if len(blockIDs) == 0 {
		return fmt.Errorf("%w: empty block list for %s", common.ErrBlockListInvalid, blobPath)
	}

	keys := make([]string, len(blockIDs))
	for i, id := range blockIDs {
		keys[i] = stagedKey(blobPath, id)
		_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(keys[i])})
		if isNotFound(err) {
			return fmt.Errorf("%w: block %q was never staged for %s", common.ErrBlockListInvalid, id, blobPath)
		}
		if err != nil {
			return fmt.Errorf("%w: head block %s: %v", common.ErrStorageUnavailable, id, err)
		}
	}

	body := &blockReader{ctx: ctx, store: s, keys: keys}
	defer body.Close()

	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(blobPath),
		Body:   body,
	})
	if err != nil {
		if body.err != nil {
			err = body.err
		}
		return fmt.Errorf("%w: commit %s: %v", common.ErrStorageUnavailable, blobPath, err)
	}

	// Orphaned or committed blocks are no longer needed. Failures leave garbage, not corruption.
	_ = s.dropStaged(ctx, blobPath)
	return nil
}

func (s *S3Store) Download(ctx context.Context, blobPath string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(blobPath)})
	if isNotFound(err) {
		return nil, fmt.Errorf("download %s: %w", blobPath, common.ErrorNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: download %s: %v", common.ErrStorageUnavailable, blobPath, err)
	}
	defer out.Body.Close()

	b, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", common.ErrStorageUnavailable, blobPath, err)
	}
	return b, nil
}

func (s *S3Store) Delete(ctx context.Context, blobPath string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(blobPath)})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("%w: delete %s: %v", common.ErrStorageUnavailable, blobPath, err)
	}
	if err := s.dropStaged(ctx, blobPath); err != nil {
		return fmt.Errorf("%w: delete staged blocks of %s: %v", common.ErrStorageUnavailable, blobPath, err)
	}
	return nil
}

func (s *S3Store) URL(ctx context.Context, blobPath string) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(blobPath),
	}, s3.WithPresignExpires(s.urlTTL))
	if err != nil {
		return "", fmt.Errorf("%w: presign %s: %v", common.ErrStorageUnavailable, blobPath, err)
	}
	return req.URL, nil
}

func (s *S3Store) dropStaged(ctx context.Context, blobPath string) error {
	prefix := stagedPrefix(blobPath)
	var token *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return err
		}
		for _, obj := range out.Contents {
			if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.bucket), Key: obj.Key}); err != nil && !isNotFound(err) {
				return err
			}
		}
		if !aws.ToBool(out.IsTruncated) {
			return nil
		}
		token = out.NextContinuationToken
	}
}

// blockReader streams staged blocks one after another.
type blockReader struct {
	ctx   context.Context
	store *S3Store
	keys  []string
	cur   io.ReadCloser
	err   error
}

func (r *blockReader) Read(p []byte) (int, error) {
	for {
		if r.err != nil {
			return 0, r.err
		}
		if r.cur == nil {
			if len(r.keys) == 0 {
				return 0, io.EOF
			}
			out, err := r.store.client.GetObject(r.ctx, &s3.GetObjectInput{
				Bucket: aws.String(r.store.bucket),
				Key:    aws.String(r.keys[0]),
			})
			if err != nil {
				r.err = fmt.Errorf("open block %s: %w", r.keys[0], err)
				return 0, r.err
			}
			r.cur = out.Body
			r.keys = r.keys[1:]
		}

		n, err := r.cur.Read(p)
		if errors.Is(err, io.EOF) {
			_ = r.cur.Close()
			r.cur = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		if err != nil {
			r.err = err
		}
		return n, err
	}
}

func (r *blockReader) Close() error {
	if r.cur != nil {
		err := r.cur.Close()
		r.cur = nil
		return err
	}
	return nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch strings.ToLower(apiErr.ErrorCode()) {
		case "nosuchkey", "notfound", "404":
			return true
		}
	}
	return false
}
