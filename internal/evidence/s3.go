package evidence

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/kenchrcum/forensic-carver/internal/s3"
)

// readRangeTimeout bounds a single chunk fetch from object storage so a
// stalled backend fails the current unit of work instead of wedging a
// scan worker.
const readRangeTimeout = 10 * time.Second

// S3Source is an evidence source backed by a range-readable object in S3
// or an S3-compatible store (the "acquired-evidence container" variant).
// Every ReadAt issues an independent ranged GetObject call; nothing is
// cached locally beyond the object's length, since a forensic image is
// assumed too large to buffer in memory.
type S3Source struct {
	client s3.Client
	bucket string
	key    string

	mu     sync.RWMutex
	size   uint64
	closed bool
}

// OpenS3 stats bucket/key to learn its length and wraps it as a Source.
func OpenS3(ctx context.Context, client s3.Client, bucket, key string) (*S3Source, error) {
	size, err := client.ObjectSize(ctx, bucket, key)
	if err != nil {
		if s3.IsNotFound(err) {
			return nil, fmt.Errorf("evidence: s3://%s/%s does not exist: %w", bucket, key, err)
		}
		return nil, fmt.Errorf("evidence: stat s3://%s/%s: %w", bucket, key, err)
	}
	if size < 0 {
		size = 0
	}
	return &S3Source{client: client, bucket: bucket, key: key, size: uint64(size)}, nil
}

// Len implements Source.
func (s *S3Source) Len() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// ReadAt implements Source.
func (s *S3Source) ReadAt(offset uint64, buf []byte) (int, error) {
	s.mu.RLock()
	closed := s.closed
	size := s.size
	s.mu.RUnlock()
	if closed {
		return 0, ErrClosed
	}
	if offset >= size {
		return 0, nil
	}
	want := uint64(len(buf))
	if offset+want > size {
		want = size - offset
	}
	if want == 0 {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), readRangeTimeout)
	defer cancel()

	body, err := s.client.GetObjectRange(ctx, s.bucket, s.key, int64(offset), int64(want))
	if err != nil && s3.IsThrottled(err) {
		// One backoff-and-retry is enough here: the scan workers already
		// rate-limit us through channel backpressure, so sustained
		// throttling means the worker count is simply too high.
		time.Sleep(500 * time.Millisecond)
		body, err = s.client.GetObjectRange(ctx, s.bucket, s.key, int64(offset), int64(want))
	}
	if err != nil {
		return 0, fmt.Errorf("evidence: read s3://%s/%s at %d: %w", s.bucket, s.key, offset, err)
	}
	defer body.Close()

	n, err := io.ReadFull(body, buf[:want])
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return n, fmt.Errorf("evidence: read s3://%s/%s at %d: %w", s.bucket, s.key, offset, err)
	}
	return n, nil
}

// Close implements Source. The underlying s3.Client is owned by the
// caller and is not closed here.
func (s *S3Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
