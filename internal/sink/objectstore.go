package sink

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"hermes/internal/config"
	"hermes/pkg/types"
)

// ObjectSink stores candle files in an S3-compatible bucket. Cloudflare R2
// and Oracle OCI Object Storage differ only in endpoint shape and upload
// quirks, so both share this implementation.
//
// Per-symbol writes are serialized with a mutex; the merge step reads the
// current object, so two concurrent writers for the same symbol would lose
// rows.
type ObjectSink struct {
	client *minio.Client
	bucket string
	prefix string

	// OCI's S3 compatibility layer requires a single-part upload with an
	// explicit Content-Length; multipart uploads fail signature checks.
	disableMultipart bool

	mu     sync.Mutex
	logger *slog.Logger
}

// NewR2Sink connects to a Cloudflare R2 bucket. R2 endpoints hang off the
// account id and always use the literal region "auto".
func NewR2Sink(cfg config.SinkConfig, logger *slog.Logger) (*ObjectSink, error) {
	if cfg.R2AccountID == "" {
		return nil, fmt.Errorf("sink.r2_account_id is required for cloudflare_r2")
	}
	endpoint := cfg.R2AccountID + ".r2.cloudflarestorage.com"
	return newObjectSink(cfg, endpoint, "auto", false, logger.With("component", "r2_sink"))
}

// NewOracleSink connects to OCI Object Storage through its S3 compatibility
// endpoint, which is namespaced per tenancy.
func NewOracleSink(cfg config.SinkConfig, logger *slog.Logger) (*ObjectSink, error) {
	if cfg.OracleNamespace == "" || cfg.OracleRegion == "" {
		return nil, fmt.Errorf("sink.oracle_namespace and sink.oracle_region are required for oracle_object_storage")
	}
	endpoint := fmt.Sprintf("%s.compat.objectstorage.%s.oraclecloud.com",
		cfg.OracleNamespace, cfg.OracleRegion)
	return newObjectSink(cfg, endpoint, cfg.OracleRegion, true, logger.With("component", "oci_sink"))
}

func newObjectSink(cfg config.SinkConfig, endpoint, region string, disableMultipart bool, logger *slog.Logger) (*ObjectSink, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: true,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object store: %w", err)
	}
	return &ObjectSink{
		client:           client,
		bucket:           cfg.Bucket,
		prefix:           strings.Trim(cfg.Prefix, "/"),
		disableMultipart: disableMultipart,
		logger:           logger,
	}, nil
}

func (s *ObjectSink) key(symbol string) string {
	return path.Join(s.prefix, objectKey(symbol))
}

func isNoSuchKey(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NoSuchBucket"
}

// Write merges candles into the symbol's object and replaces it.
func (s *ObjectSink) Write(ctx context.Context, symbol string, candles []types.Candle) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.read(ctx, symbol)
	if err != nil {
		return 0, err
	}
	merged := mergeCandles(existing, candles)

	data, err := EncodeRows(RowsFromCandles(strings.ToUpper(symbol), merged))
	if err != nil {
		return 0, fmt.Errorf("encode %s: %w", symbol, err)
	}

	_, err = s.client.PutObject(ctx, s.bucket, s.key(symbol),
		bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
			ContentType:      "application/octet-stream",
			DisableMultipart: s.disableMultipart,
		})
	if err != nil {
		return 0, fmt.Errorf("upload %s: %w", symbol, err)
	}
	return len(merged), nil
}

// Read returns all stored candles for the symbol, or (nil, nil) when the
// object does not exist.
func (s *ObjectSink) Read(ctx context.Context, symbol string) ([]types.Candle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(ctx, symbol)
}

func (s *ObjectSink) read(ctx context.Context, symbol string) ([]types.Candle, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.key(symbol), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", symbol, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("download %s: %w", symbol, err)
	}
	rows, err := DecodeRows(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", symbol, err)
	}
	return CandlesFromRows(rows), nil
}

// Exists reports whether the symbol's object is present.
func (s *ObjectSink) Exists(ctx context.Context, symbol string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, s.key(symbol), minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", symbol, err)
	}
	return true, nil
}

// ListSymbols lists candle objects under the prefix, sorted.
func (s *ObjectSink) ListSymbols(ctx context.Context) ([]string, error) {
	listPrefix := s.prefix
	if listPrefix != "" {
		listPrefix += "/"
	}

	var symbols []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    listPrefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list objects: %w", obj.Err)
		}
		if sym, ok := symbolFromKey(strings.TrimPrefix(obj.Key, listPrefix)); ok {
			symbols = append(symbols, sym)
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// LastTimestamp returns the newest stored timestamp for the symbol.
func (s *ObjectSink) LastTimestamp(ctx context.Context, symbol string) (time.Time, bool, error) {
	candles, err := s.Read(ctx, symbol)
	if err != nil || len(candles) == 0 {
		return time.Time{}, false, err
	}
	return candles[len(candles)-1].Timestamp, true, nil
}

// Close is a no-op; the underlying HTTP client needs no teardown.
func (s *ObjectSink) Close() error {
	return nil
}
