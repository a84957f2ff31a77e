package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/opencontainers/go-digest"

	"github.com/Norgate-AV/jsbundle/internal/codes"
	"github.com/Norgate-AV/jsbundle/internal/sourcemap"
)

// S3API is the subset of the S3 client used by S3Store
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Options selects the bucket and client settings for a remote cache
type S3Options struct {
	Bucket   string
	Prefix   string
	Region   string
	Profile  string
	Endpoint string
}

// S3Store keeps one compressed record per key in an S3 bucket
type S3Store struct {
	client S3API
	bucket string
	prefix string
}

// record is the object body of an S3 entry
type record struct {
	Entry  Entry           `json:"entry"`
	Bundle []byte          `json:"bundle"`
	Map    json.RawMessage `json:"map,omitempty"`
}

// NewS3Store creates a store over an existing client
func NewS3Store(client S3API, bucket, prefix string) *S3Store {
	return &S3Store{client: client, bucket: bucket, prefix: prefix}
}

// NewS3Client loads AWS config from the environment chain with the given
// overrides. An endpoint switches the client to path-style addressing for
// S3-compatible servers.
func NewS3Client(ctx context.Context, opts S3Options) (*s3.Client, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Profile != "" {
		loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(opts.Profile))
	}
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

func (s *S3Store) objectKey(key digest.Digest) string {
	return path.Join(s.prefix, string(key.Algorithm()), key.Encoded())
}

// Lookup implements Store
func (s *S3Store) Lookup(ctx context.Context, key digest.Digest) (*sourcemap.Artifact, error) {
	if err := key.Validate(); err != nil {
		return nil, codes.Wrap(codes.CacheStoreError, err, "invalid cache key")
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}

		return nil, codes.Wrap(codes.CacheStoreError, err, "failed to fetch cache entry %s", key)
	}
	defer out.Body.Close()

	raw, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, codes.Wrap(codes.CacheStoreError, err, "failed to read cache entry %s", key)
	}

	artifact, err := decodeRecord(raw)
	if err != nil {
		return nil, codes.Wrap(codes.CacheStoreError, err, "failed to decode cache entry %s", key)
	}

	return artifact, nil
}

// Store implements Store. The put is conditional on the object not
// existing, so the first writer wins.
func (s *S3Store) Store(ctx context.Context, key digest.Digest, artifact *sourcemap.Artifact) error {
	if err := key.Validate(); err != nil {
		return codes.Wrap(codes.CacheStoreError, err, "invalid cache key")
	}

	body, err := encodeRecord(key, artifact)
	if err != nil {
		return codes.Wrap(codes.CacheStoreError, err, "failed to encode cache entry %s", key)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.objectKey(key)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/zstd"),
		IfNoneMatch: aws.String("*"),
	})
	if err != nil {
		if isAlreadyWritten(err) {
			return nil
		}

		return codes.Wrap(codes.CacheStoreError, err, "failed to store cache entry %s", key)
	}

	return nil
}

func encodeRecord(key digest.Digest, artifact *sourcemap.Artifact) ([]byte, error) {
	mapJSON, err := artifact.MapJSON()
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(record{
		Entry:  newEntry(key, artifact, mapJSON),
		Bundle: artifact.Bundle,
		Map:    mapJSON,
	})
	if err != nil {
		return nil, err
	}

	return compress(data), nil
}

func decodeRecord(raw []byte) (*sourcemap.Artifact, error) {
	data, err := decompress(raw)
	if err != nil {
		return nil, err
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}

	artifact := &sourcemap.Artifact{
		Bundle:        rec.Bundle,
		BundleName:    rec.Entry.BundleName,
		ReferencesMap: rec.Entry.ReferencesMap,
		Inputs:        rec.Entry.Inputs,
	}

	if len(rec.Map) > 0 {
		var sm sourcemap.SourceMap
		if err := json.Unmarshal(rec.Map, &sm); err != nil {
			return nil, err
		}
		artifact.Map = &sm
	}

	return artifact, nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}

	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NotFound" || apiErr.ErrorCode() == "NoSuchKey")
}

// isAlreadyWritten reports a failed conditional put on an existing object
func isAlreadyWritten(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}

	switch apiErr.ErrorCode() {
	case "PreconditionFailed", "ConditionalRequestConflict":
		return true
	}

	return false
}
