// Package s3 implements store.Store over Amazon S3 or an S3-compatible
// endpoint. Digests are stored as objects keyed by their hex hash under an
// optional key prefix; blobs at or above PartSize use a multipart upload so
// a single large action output doesn't have to round-trip through memory as
// one PutObject body, and GetPart uses an HTTP Range request so callers
// reading a slice of a large blob don't pay for the rest of it.
//
// This generalizes the teacher's S3ContentStore (pkg/store/content/s3),
// which keys objects by filesystem path instead of content digest and
// additionally handles WriteAt/Truncate for mutable NFS file semantics —
// none of which apply to immutable CAS/AC blobs, so this store drops that
// surface and keeps only the parts that do: retrying PutObject/GetObject on
// transient errors with exponential backoff, and splitting large uploads
// into multipart parts.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/marmos91/turbocache/pkg/bytestream"
	"github.com/marmos91/turbocache/pkg/digest"
	"github.com/marmos91/turbocache/pkg/rpcerr"
	"github.com/marmos91/turbocache/pkg/store"
)

// Options configures a Store.
type Options struct {
	// Client is the configured S3 client (real AWS or an S3-compatible
	// endpoint via a custom resolver/BaseEndpoint).
	Client *s3.Client
	// Bucket is the destination bucket name.
	Bucket string
	// KeyPrefix is prepended to every object key, e.g. "turbocache/cas/".
	KeyPrefix string
	// PartSize is the multipart upload part size. Objects at or above this
	// size use multipart upload; below it, a single PutObject. Must be at
	// least 5MiB per S3's own multipart part size floor. Defaults to 8MiB.
	PartSize int64
	// MaxRetries bounds retry attempts for transient errors. Defaults to 3.
	MaxRetries int
	// InitialBackoff is the first retry delay; each subsequent attempt
	// doubles it up to MaxBackoff. Defaults to 100ms / 2s.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Store implements store.Store over S3.
type Store struct {
	client    *s3.Client
	bucket    string
	keyPrefix string
	partSize  int64

	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// New constructs a Store from opts.
func New(opts Options) *Store {
	s := &Store{
		client:         opts.Client,
		bucket:         opts.Bucket,
		keyPrefix:      opts.KeyPrefix,
		partSize:       opts.PartSize,
		maxRetries:     opts.MaxRetries,
		initialBackoff: opts.InitialBackoff,
		maxBackoff:     opts.MaxBackoff,
	}
	if s.partSize <= 0 {
		s.partSize = 8 * 1024 * 1024
	}
	if s.maxRetries <= 0 {
		s.maxRetries = 3
	}
	if s.initialBackoff <= 0 {
		s.initialBackoff = 100 * time.Millisecond
	}
	if s.maxBackoff <= 0 {
		s.maxBackoff = 2 * time.Second
	}
	return s
}

func (s *Store) Kind() store.Kind { return store.KindS3 }

func (s *Store) OptimizedFor(opt store.Optimization) bool {
	return opt == store.OptimizedForNoopUpdates
}

func (s *Store) key(d digest.Digest) string {
	return s.keyPrefix + d.HashString()
}

func (s *Store) HasWithResults(ctx context.Context, digests []digest.Digest) ([]digest.Digest, error) {
	out := make([]digest.Digest, len(digests))
	for i, d := range digests {
		size, err := s.headObject(ctx, d)
		if err != nil {
			return nil, err
		}
		if size >= 0 {
			out[i] = digest.New(d.Hash, size)
		}
	}
	return out, nil
}

func (s *Store) headObject(ctx context.Context, d digest.Digest) (int64, error) {
	var size int64 = -1
	err := s.retry(ctx, "HeadObject", func() error {
		resp, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.key(d)),
		})
		if err != nil {
			if isNotFound(err) {
				size = -1
				return nil
			}
			return err
		}
		if resp.ContentLength != nil {
			size = *resp.ContentLength
		}
		return nil
	})
	return size, err
}

func (s *Store) Update(ctx context.Context, d digest.Digest, reader *bytestream.Pipe, sizeHint store.UploadSizeInfo) error {
	var buf bytes.Buffer
	if _, err := reader.CopyTo(ctx, &buf); err != nil {
		return rpcerr.Wrap(err, "s3: buffering upload for %s", d)
	}

	if int64(buf.Len()) >= s.partSize {
		return s.putMultipart(ctx, d, buf.Bytes())
	}
	return s.putObject(ctx, d, buf.Bytes())
}

func (s *Store) putObject(ctx context.Context, d digest.Digest, data []byte) error {
	err := s.retry(ctx, "PutObject", func() error {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.key(d)),
			Body:   bytes.NewReader(data),
		})
		return err
	})
	if err != nil {
		return rpcerr.Wrap(err, "s3: PutObject for %s", d)
	}
	return nil
}

func (s *Store) putMultipart(ctx context.Context, d digest.Digest, data []byte) error {
	key := s.key(d)

	var uploadID string
	err := s.retry(ctx, "CreateMultipartUpload", func() error {
		resp, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return err
		}
		uploadID = aws.ToString(resp.UploadId)
		return nil
	})
	if err != nil {
		return rpcerr.Wrap(err, "s3: CreateMultipartUpload for %s", d)
	}

	var parts []types.CompletedPart
	partNum := int32(1)
	for offset := int64(0); offset < int64(len(data)); offset += s.partSize {
		end := offset + s.partSize
		if end > int64(len(data)) {
			end = int64(len(data))
		}
		part := data[offset:end]
		n := partNum

		var etag string
		uerr := s.retry(ctx, "UploadPart", func() error {
			resp, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
				Bucket:     aws.String(s.bucket),
				Key:        aws.String(key),
				UploadId:   aws.String(uploadID),
				PartNumber: aws.Int32(n),
				Body:       bytes.NewReader(part),
			})
			if err != nil {
				return err
			}
			etag = aws.ToString(resp.ETag)
			return nil
		})
		if uerr != nil {
			s.abortMultipart(ctx, key, uploadID)
			return rpcerr.Wrap(uerr, "s3: UploadPart %d for %s", n, d)
		}

		parts = append(parts, types.CompletedPart{ETag: aws.String(etag), PartNumber: aws.Int32(n)})
		partNum++
	}

	err = s.retry(ctx, "CompleteMultipartUpload", func() error {
		_, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
			Bucket:   aws.String(s.bucket),
			Key:      aws.String(key),
			UploadId: aws.String(uploadID),
			MultipartUpload: &types.CompletedMultipartUpload{
				Parts: parts,
			},
		})
		return err
	})
	if err != nil {
		s.abortMultipart(ctx, key, uploadID)
		return rpcerr.Wrap(err, "s3: CompleteMultipartUpload for %s", d)
	}
	return nil
}

func (s *Store) abortMultipart(ctx context.Context, key, uploadID string) {
	_, _ = s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
}

func (s *Store) GetPart(ctx context.Context, d digest.Digest, writer *bytestream.Pipe, offset, length int64) error {
	rangeHeader := byteRange(offset, length)

	var body io.ReadCloser
	err := s.retry(ctx, "GetObject", func() error {
		input := &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.key(d)),
		}
		if rangeHeader != "" {
			input.Range = aws.String(rangeHeader)
		}
		resp, err := s.client.GetObject(ctx, input)
		if err != nil {
			return err
		}
		body = resp.Body
		return nil
	})
	if err != nil {
		writer.CloseWrite(err)
		if isNotFound(err) {
			return rpcerr.NotFound("s3: object for %s not found", d)
		}
		return rpcerr.Wrap(err, "s3: GetObject for %s", d)
	}
	defer body.Close()

	buf := make([]byte, 32*1024)
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if _, werr := writer.Write(ctx, buf[:n]); werr != nil {
				writer.CloseWrite(werr)
				return rpcerr.Wrap(werr, "s3: streaming object for %s", d)
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				break
			}
			writer.CloseWrite(rerr)
			return rpcerr.Wrap(rerr, "s3: reading object body for %s", d)
		}
	}
	writer.CloseWrite(nil)
	return nil
}

// byteRange renders offset/length as an HTTP Range header value, or "" for
// a full-object request.
func byteRange(offset, length int64) string {
	if offset == 0 && length < 0 {
		return ""
	}
	if length < 0 {
		return fmt.Sprintf("bytes=%d-", offset)
	}
	return fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)
}

// retry runs op, retrying transient failures with exponential backoff.
func (s *Store) retry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	backoff := s.initialBackoff
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > s.maxBackoff {
				backoff = s.maxBackoff
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if isNotFound(lastErr) || !isRetryable(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("%s: giving up after %d attempts: %w", op, s.maxRetries+1, lastErr)
}

func isNotFound(err error) bool {
	var nf *types.NoSuchKey
	if errors.As(err, &nf) {
		return true
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode() == 404
	}
	return strings.Contains(err.Error(), "NotFound") || strings.Contains(err.Error(), "NoSuchKey")
}

func isRetryable(err error) bool {
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		code := respErr.HTTPStatusCode()
		return code == 429 || code >= 500
	}
	// Network-level errors (timeouts, connection resets) surface without an
	// HTTP response at all; treat anything that isn't an explicit 4xx as
	// worth one more attempt.
	return true
}
