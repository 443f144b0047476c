// Package archive keeps off-site copies of the raw sheet rows.
//
// The sheet is the only system of record and is owned by someone else, so
// the service periodically snapshots every row exactly as fetched (payloads
// still encoded) to S3. Snapshots are deterministic CBOR, zstd-compressed and
// named by their BLAKE3 digest; an unchanged sheet produces no new object.
package archive

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"kafer/internal/adapters/sheet"
)

// FormatVersion is written into every snapshot.
const FormatVersion = 1

var (
	ErrNoRows       = errors.New("sheet returned no rows")
	ErrNotAnArchive = errors.New("not a ledger archive")
)

// Snapshot is the archived form of one fetch. Numeric cells fetched as
// json.Number are stored as their decimal text.
type Snapshot struct {
	Version int            `cbor:"1,keyasint"`
	Rows    []sheet.RawRow `cbor:"2,keyasint"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
	encoder *zstd.Encoder
	decoder *zstd.Decoder
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("archive: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{DefaultMapType: reflect.TypeOf(map[string]any(nil))}.DecMode()
	if err != nil {
		panic("archive: CBOR decoder initialization failed: " + err.Error())
	}
	encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		panic("archive: zstd encoder initialization failed: " + err.Error())
	}
	decoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("archive: zstd decoder initialization failed: " + err.Error())
	}
}

// Encode serializes rows. The digest covers the uncompressed CBOR, so the
// same rows always produce the same digest.
// POST: Returns the compressed archive and the hex BLAKE3-256 digest
func Encode(rows []sheet.RawRow) (data []byte, digest string, err error) {
	raw, err := encMode.Marshal(Snapshot{Version: FormatVersion, Rows: rows})
	if err != nil {
		return nil, "", fmt.Errorf("encode snapshot: %w", err)
	}
	sum := blake3.Sum256(raw)
	return encoder.EncodeAll(raw, nil), hex.EncodeToString(sum[:]), nil
}

// Decode reverses Encode and checks the digest when want is non-empty.
func Decode(data []byte, want string) ([]sheet.RawRow, error) {
	raw, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAnArchive, err)
	}
	if want != "" {
		sum := blake3.Sum256(raw)
		if got := hex.EncodeToString(sum[:]); got != want {
			return nil, fmt.Errorf("%w: digest %s, want %s", ErrNotAnArchive, got, want)
		}
	}
	var snap Snapshot
	if err := decMode.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAnArchive, err)
	}
	if snap.Version != FormatVersion {
		return nil, fmt.Errorf("%w: version %d", ErrNotAnArchive, snap.Version)
	}
	return snap.Rows, nil
}

// Uploader is the part of the S3 client used here; *s3.Client satisfies it.
type Uploader interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// RowSource fetches the raw rows; *sheet.Client satisfies it.
type RowSource interface {
	FetchRaw(ctx context.Context) ([]sheet.RawRow, error)
}

// Run is one uploaded snapshot.
type Run struct {
	Key       string
	Digest    string
	Rows      int
	Bytes     int
	CreatedAt time.Time
}

// RunStore remembers uploads so unchanged sheets are not uploaded twice.
type RunStore interface {
	Latest(ctx context.Context) (Run, bool, error)
	Save(ctx context.Context, run Run) error
}

// Backer uploads snapshots of a RowSource.
type Backer struct {
	Source   RowSource
	Uploader Uploader
	Runs     RunStore
	Bucket   string
	Prefix   string
	Now      func() time.Time
}

// Result reports what a backup did.
type Result struct {
	Run     Run
	Skipped bool // digest matched the latest run
}

// NewS3Client builds an S3 client from the default AWS credential chain.
func NewS3Client(ctx context.Context, region string) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return s3.NewFromConfig(cfg), nil
}

// ObjectKey names a snapshot: <prefix>/YYYY/MM/DD/<unix>-<digest prefix>.cbor.zst
func ObjectKey(prefix string, at time.Time, digest string) string {
	at = at.UTC()
	short := digest
	if len(short) > 16 {
		short = short[:16]
	}
	key := fmt.Sprintf("%s/%d-%s.cbor.zst", at.Format("2006/01/02"), at.Unix(), short)
	if prefix != "" {
		key = prefix + "/" + key
	}
	return key
}

// Backup fetches every row and uploads a snapshot unless the latest run
// already holds the same digest.
// PRE: Source, Uploader and Runs are set; Bucket is non-empty
// POST: A new run is saved only after a successful upload
func (b *Backer) Backup(ctx context.Context) (Result, error) {
	rows, err := b.Source.FetchRaw(ctx)
	if err != nil {
		return Result{}, err
	}
	if len(rows) == 0 {
		return Result{}, ErrNoRows
	}
	data, digest, err := Encode(rows)
	if err != nil {
		return Result{}, err
	}

	last, ok, err := b.Runs.Latest(ctx)
	if err != nil {
		return Result{}, err
	}
	if ok && last.Digest == digest {
		slog.Info("backup_event", "event", "unchanged", "digest", digest, "rows", len(rows))
		return Result{Run: last, Skipped: true}, nil
	}

	now := time.Now
	if b.Now != nil {
		now = b.Now
	}
	run := Run{
		Digest:    digest,
		Rows:      len(rows),
		Bytes:     len(data),
		CreatedAt: now().UTC(),
	}
	run.Key = ObjectKey(b.Prefix, run.CreatedAt, digest)

	_, err = b.Uploader.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(b.Bucket),
		Key:             aws.String(run.Key),
		Body:            bytes.NewReader(data),
		ContentType:     aws.String("application/cbor"),
		ContentEncoding: aws.String("zstd"),
		Metadata: map[string]string{
			"blake3":  digest,
			"rows":    fmt.Sprint(len(rows)),
			"version": fmt.Sprint(FormatVersion),
		},
	})
	if err != nil {
		slog.Error("backup_event", "event", "upload_failed", "key", run.Key, "error", err)
		return Result{}, fmt.Errorf("failed to upload to S3: %w", err)
	}
	if err := b.Runs.Save(ctx, run); err != nil {
		return Result{}, err
	}
	slog.Info("backup_event", "event", "uploaded", "key", run.Key, "rows", run.Rows, "bytes", run.Bytes)
	return Result{Run: run}, nil
}

// Start runs Backup every interval until ctx is cancelled. Failures are
// logged and retried on the next tick.
func (b *Backer) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := b.Backup(ctx); err != nil {
					slog.Warn("backup_event", "event", "backup_failed", "error", err)
				}
			}
		}
	}()
}
