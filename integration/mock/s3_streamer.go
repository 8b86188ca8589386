package mock

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gurre/s3streamer"
)

// Stream runs the real s3streamer against the fake bucket, so offsets follow
// the library: offset is a byte position in the object and the callback
// receives each line's position relative to it.
func (m *S3Client) Stream(ctx context.Context, bucket, key string, offset int64, fn func([]byte, int64) error) error {
	return s3streamer.NewS3Streamer(m).Stream(ctx, bucket, key, offset, fn)
}

// upload is an in-progress multipart upload.
type upload struct {
	bucket, key string
	parts       map[int32][]byte
}

type multipart struct {
	mu      sync.Mutex
	next    int
	uploads map[string]*upload
}

// CreateMultipartUpload starts an upload completed by CompleteMultipartUpload.
func (m *S3Client) CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	m.multipart.mu.Lock()
	defer m.multipart.mu.Unlock()
	if m.multipart.uploads == nil {
		m.multipart.uploads = make(map[string]*upload)
	}
	m.multipart.next++
	id := fmt.Sprintf("upload-%d", m.multipart.next)
	m.multipart.uploads[id] = &upload{
		bucket: aws.ToString(params.Bucket),
		key:    aws.ToString(params.Key),
		parts:  make(map[int32][]byte),
	}
	return &s3.CreateMultipartUploadOutput{Bucket: params.Bucket, Key: params.Key, UploadId: aws.String(id)}, nil
}

// UploadPart stores one part of an upload.
func (m *S3Client) UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	var buf bytes.Buffer
	if params.Body != nil {
		if _, err := buf.ReadFrom(params.Body); err != nil {
			return nil, err
		}
	}
	m.multipart.mu.Lock()
	defer m.multipart.mu.Unlock()
	u, ok := m.multipart.uploads[aws.ToString(params.UploadId)]
	if !ok {
		return nil, fmt.Errorf("mock S3: no such upload: %s", aws.ToString(params.UploadId))
	}
	n := aws.ToInt32(params.PartNumber)
	u.parts[n] = buf.Bytes()
	return &s3.UploadPartOutput{ETag: aws.String(fmt.Sprintf("\"part-%d\"", n))}, nil
}

// CompleteMultipartUpload joins the uploaded parts in part number order.
func (m *S3Client) CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	m.multipart.mu.Lock()
	id := aws.ToString(params.UploadId)
	u, ok := m.multipart.uploads[id]
	delete(m.multipart.uploads, id)
	m.multipart.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("mock S3: no such upload: %s", id)
	}

	numbers := make([]int32, 0, len(u.parts))
	for n := range u.parts {
		numbers = append(numbers, n)
	}
	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })
	var body []byte
	for _, n := range numbers {
		body = append(body, u.parts[n]...)
	}
	m.AddFile(u.bucket, u.key, "", body)
	return &s3.CompleteMultipartUploadOutput{Bucket: aws.String(u.bucket), Key: aws.String(u.key)}, nil
}

// AbortMultipartUpload discards an upload.
func (m *S3Client) AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	m.multipart.mu.Lock()
	defer m.multipart.mu.Unlock()
	delete(m.multipart.uploads, aws.ToString(params.UploadId))
	return &s3.AbortMultipartUploadOutput{}, nil
}

var (
	_ s3streamer.S3Client = (*S3Client)(nil)
	_ s3streamer.Streamer = (*S3Client)(nil)
)
