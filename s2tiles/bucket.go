package s2tiles

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	smithyHttp "github.com/aws/smithy-go/transport/http"
	"github.com/cespare/xxhash/v2"
	"gocloud.dev/blob"
	"google.golang.org/api/googleapi"
)

// Bucket abstracts ranged reads over a gocloud bucket, a plain HTTP
// endpoint, or a local directory.
type Bucket interface {
	Close() error
	NewRangeReader(ctx context.Context, key string, offset int64, length int64) (io.ReadCloser, error)
	NewRangeReaderEtag(ctx context.Context, key string, offset int64, length int64, etag string) (io.ReadCloser, string, int, error)
	ObjectSize(ctx context.Context, key string) (int64, error)
}

// RefreshRequiredError indicates the remote archive changed underneath us
// and cached state keyed on the old etag must be discarded.
type RefreshRequiredError struct {
	StatusCode int
}

func (m *RefreshRequiredError) Error() string {
	return fmt.Sprintf("HTTP error indicates file has changed: %d", m.StatusCode)
}

func isRefreshRequiredCode(code int) bool {
	return code == http.StatusPreconditionFailed || code == http.StatusRequestedRangeNotSatisfiable
}

type mockBucket struct {
	items map[string][]byte
}

func (m mockBucket) Close() error {
	return nil
}

func (m mockBucket) NewRangeReader(ctx context.Context, key string, offset int64, length int64) (io.ReadCloser, error) {
	body, _, _, err := m.NewRangeReaderEtag(ctx, key, offset, length, "")
	return body, err
}

func (m mockBucket) NewRangeReaderEtag(_ context.Context, key string, offset int64, length int64, etag string) (io.ReadCloser, string, int, error) {
	bs, ok := m.items[key]
	if !ok {
		return nil, "", 404, fmt.Errorf("not found: %s", key)
	}
	resultEtag := generateEtag(bs)
	if len(etag) > 0 && resultEtag != etag {
		return nil, "", 412, &RefreshRequiredError{412}
	}
	if offset >= int64(len(bs)) {
		return nil, "", 416, &RefreshRequiredError{416}
	}
	end := offset + length
	if end > int64(len(bs)) {
		end = int64(len(bs))
	}
	return io.NopCloser(bytes.NewReader(bs[offset:end])), resultEtag, 206, nil
}

func (m mockBucket) ObjectSize(_ context.Context, key string) (int64, error) {
	bs, ok := m.items[key]
	if !ok {
		return 0, fmt.Errorf("not found: %s", key)
	}
	return int64(len(bs)), nil
}

func uintToBytes(n uint64) []byte {
	bs := make([]byte, 8)
	binary.LittleEndian.PutUint64(bs, n)
	return bs
}

func hasherToEtag(hasher *xxhash.Digest) string {
	sum := uintToBytes(hasher.Sum64())
	return fmt.Sprintf(`"%s"`, hex.EncodeToString(sum))
}

func generateEtag(data []byte) string {
	hasher := xxhash.New()
	hasher.Write(data)
	return hasherToEtag(hasher)
}

func generateEtagFromInts(ns ...int64) string {
	hasher := xxhash.New()
	for _, n := range ns {
		hasher.Write(uintToBytes(uint64(n)))
	}
	return hasherToEtag(hasher)
}

// FileBucket serves archives from a directory on disk.
type FileBucket struct {
	path string
}

// NewFileBucket returns a FileBucket rooted at path.
func NewFileBucket(path string) *FileBucket {
	return &FileBucket{path: path}
}

func (b FileBucket) NewRangeReader(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	body, _, _, err := b.NewRangeReaderEtag(ctx, key, offset, length, "")
	return body, err
}

func (b FileBucket) NewRangeReaderEtag(_ context.Context, key string, offset, length int64, etag string) (io.ReadCloser, string, int, error) {
	name := filepath.Join(b.path, key)
	file, err := os.Open(name)
	if err != nil {
		return nil, "", 404, err
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return nil, "", 404, err
	}
	newEtag := generateEtagFromInts(info.ModTime().UnixNano(), info.Size())
	if len(etag) > 0 && etag != newEtag {
		return nil, "", 412, &RefreshRequiredError{412}
	}
	result := make([]byte, length)
	read, err := file.ReadAt(result, offset)
	if err == io.EOF {
		return io.NopCloser(bytes.NewReader(result[0:read])), newEtag, 206, nil
	}
	if err != nil {
		return nil, "", 500, err
	}
	if read != int(length) {
		return nil, "", 416, fmt.Errorf("expected to read %d bytes but read %d", length, read)
	}
	return io.NopCloser(bytes.NewReader(result)), newEtag, 206, nil
}

func (b FileBucket) ObjectSize(_ context.Context, key string) (int64, error) {
	info, err := os.Stat(filepath.Join(b.path, key))
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (b FileBucket) Close() error {
	return nil
}

// HTTPClient lets tests swap out the default client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPBucket serves archives over plain HTTP with Range requests.
type HTTPBucket struct {
	baseURL string
	client  HTTPClient
}

func (b HTTPBucket) NewRangeReader(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	body, _, _, err := b.NewRangeReaderEtag(ctx, key, offset, length, "")
	return body, err
}

func (b HTTPBucket) NewRangeReaderEtag(ctx context.Context, key string, offset, length int64, etag string) (io.ReadCloser, string, int, error) {
	reqURL := b.baseURL + "/" + key
	req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return nil, "", 500, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))
	if len(etag) > 0 {
		req.Header.Set("If-Match", etag)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, "", 500, err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		resp.Body.Close()
		if isRefreshRequiredCode(resp.StatusCode) {
			err = &RefreshRequiredError{resp.StatusCode}
		} else {
			err = fmt.Errorf("HTTP error: %d", resp.StatusCode)
		}
		return nil, "", resp.StatusCode, err
	}
	return resp.Body, resp.Header.Get("ETag"), resp.StatusCode, nil
}

func (b HTTPBucket) ObjectSize(ctx context.Context, key string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, "HEAD", b.baseURL+"/"+key, nil)
	if err != nil {
		return 0, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("HTTP error: %d", resp.StatusCode)
	}
	if resp.ContentLength < 0 {
		return 0, errors.New("no content length in HEAD response")
	}
	return resp.ContentLength, nil
}

func (b HTTPBucket) Close() error {
	return nil
}

// BucketAdapter wraps a gocloud blob bucket, attaching provider-native
// etag conditions to each ranged read.
type BucketAdapter struct {
	Bucket *blob.Bucket
}

func (ba BucketAdapter) NewRangeReader(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	body, _, _, err := ba.NewRangeReaderEtag(ctx, key, offset, length, "")
	return body, err
}

func etagToGeneration(etag string) int64 {
	i, _ := strconv.ParseInt(etag, 10, 64)
	return i
}

func generationToEtag(generation int64) string {
	return strconv.FormatInt(generation, 10)
}

func setProviderEtag(asFunc func(interface{}) bool, etag string) {
	var awsV2Req *s3.GetObjectInput
	var azblobReq *azblob.DownloadStreamOptions
	var gcsHandle **storage.ObjectHandle
	if asFunc(&awsV2Req) {
		awsV2Req.IfMatch = aws.String(etag)
	} else if asFunc(&azblobReq) {
		azEtag := azcore.ETag(etag)
		azblobReq.AccessConditions = &azblob.AccessConditions{
			ModifiedAccessConditions: &container.ModifiedAccessConditions{
				IfMatch: &azEtag,
			},
		}
	} else if asFunc(&gcsHandle) {
		*gcsHandle = (*gcsHandle).If(storage.Conditions{
			GenerationMatch: etagToGeneration(etag),
		})
	}
}

func getProviderErrorStatusCode(err error) int {
	var awsV2Err *smithyHttp.ResponseError
	var azureErr *azcore.ResponseError
	var gcpErr *googleapi.Error
	if errors.As(err, &awsV2Err); awsV2Err != nil {
		return awsV2Err.HTTPStatusCode()
	} else if errors.As(err, &azureErr); azureErr != nil {
		return azureErr.StatusCode
	} else if errors.As(err, &gcpErr); gcpErr != nil {
		return gcpErr.Code
	}
	return 404
}

func getProviderEtag(reader *blob.Reader) string {
	var awsV2Resp s3.GetObjectOutput
	var azureResp azblob.DownloadStreamResponse
	var gcpResp *storage.Reader
	if reader.As(&awsV2Resp) {
		return *awsV2Resp.ETag
	} else if reader.As(&azureResp) {
		return string(*azureResp.ETag)
	} else if reader.As(&gcpResp) {
		return generationToEtag(gcpResp.Attrs.Generation)
	}
	return ""
}

func (ba BucketAdapter) NewRangeReaderEtag(ctx context.Context, key string, offset, length int64, etag string) (io.ReadCloser, string, int, error) {
	reader, err := ba.Bucket.NewRangeReader(ctx, key, offset, length, &blob.ReaderOptions{
		BeforeRead: func(asFunc func(interface{}) bool) error {
			if len(etag) > 0 {
				setProviderEtag(asFunc, etag)
			}
			return nil
		},
	})
	if err != nil {
		status := getProviderErrorStatusCode(err)
		if isRefreshRequiredCode(status) {
			return nil, "", status, &RefreshRequiredError{status}
		}
		return nil, "", status, err
	}
	return reader, getProviderEtag(reader), 206, nil
}

func (ba BucketAdapter) ObjectSize(ctx context.Context, key string) (int64, error) {
	attrs, err := ba.Bucket.Attributes(ctx, key)
	if err != nil {
		return 0, err
	}
	return attrs.Size, nil
}

func (ba BucketAdapter) Close() error {
	return ba.Bucket.Close()
}

// NormalizeBucketKey splits a bare path or URL into a bucket URL and a key
// within it, defaulting to the local filesystem.
func NormalizeBucketKey(bucket string, prefix string, key string) (string, string, error) {
	if bucket == "" {
		if strings.HasPrefix(key, "http") {
			u, err := url.Parse(key)
			if err != nil {
				return "", "", err
			}
			dir, file := path.Split(u.Path)
			dir = strings.TrimSuffix(dir, "/")
			return u.Scheme + "://" + u.Host + dir, file, nil
		}
		fileprotocol := "file://"
		if string(os.PathSeparator) != "/" {
			fileprotocol += "/"
		}
		if prefix != "" {
			abs, err := filepath.Abs(prefix)
			if err != nil {
				return "", "", err
			}
			return fileprotocol + filepath.ToSlash(abs), key, nil
		}
		abs, err := filepath.Abs(key)
		if err != nil {
			return "", "", err
		}
		return fileprotocol + filepath.ToSlash(filepath.Dir(abs)), filepath.Base(abs), nil
	}
	return bucket, key, nil
}

// OpenBucket opens a bucket by URL scheme: http(s), file, or any scheme
// registered with gocloud blob.
func OpenBucket(ctx context.Context, bucketURL string, bucketPrefix string) (Bucket, error) {
	if strings.HasPrefix(bucketURL, "http") {
		return HTTPBucket{bucketURL, http.DefaultClient}, nil
	}
	if strings.HasPrefix(bucketURL, "file") {
		fileprotocol := "file://"
		if string(os.PathSeparator) != "/" {
			fileprotocol += "/"
		}
		path := strings.Replace(bucketURL, fileprotocol, "", 1)
		return NewFileBucket(filepath.FromSlash(path)), nil
	}
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, err
	}
	if bucketPrefix != "" && bucketPrefix != "/" && bucketPrefix != "." {
		bucket = blob.PrefixedBucket(bucket, path.Clean(bucketPrefix)+string(os.PathSeparator))
	}
	return BucketAdapter{bucket}, nil
}

// OpenBucketArchive opens an archive stored in a bucket as a read-only
// Archive over ranged reads.
func OpenBucketArchive(ctx context.Context, bucket Bucket, key string) (*Archive, error) {
	size, err := bucket.ObjectSize(ctx, key)
	if err != nil {
		size = -1
	}
	return OpenStore(ctx, NewBucketStore(bucket, key, size), 0, UnknownCompression)
}
