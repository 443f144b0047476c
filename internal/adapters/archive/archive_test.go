package archive

import (
	"context"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"kafer/internal/adapters/sheet"
)

type mockSource struct {
	rows []sheet.RawRow
	err  error
}

// FetchRaw returns the configured rows.
// PRE: none
// POST: Returns err when set
func (m *mockSource) FetchRaw(context.Context) ([]sheet.RawRow, error) {
	return m.rows, m.err
}

type putCall struct {
	bucket, key, encoding string
	meta                  map[string]string
	body                  []byte
}

type mockUploader struct {
	calls []putCall
	err   error
}

// PutObject records the upload.
// PRE: in.Body is readable
// POST: The call is recorded even when err is set
func (m *mockUploader) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, _ := io.ReadAll(in.Body)
	m.calls = append(m.calls, putCall{
		bucket:   *in.Bucket,
		key:      *in.Key,
		encoding: *in.ContentEncoding,
		meta:     in.Metadata,
		body:     body,
	})
	if m.err != nil {
		return nil, m.err
	}
	return &s3.PutObjectOutput{}, nil
}

type mockRuns struct {
	runs    []Run
	saveErr error
}

func (m *mockRuns) Latest(context.Context) (Run, bool, error) {
	if len(m.runs) == 0 {
		return Run{}, false, nil
	}
	return m.runs[len(m.runs)-1], true, nil
}

func (m *mockRuns) Save(_ context.Context, run Run) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.runs = append(m.runs, run)
	return nil
}

func sampleRows() []sheet.RawRow {
	return []sheet.RawRow{
		{"DATA": `{"v":"aes-cbc","iv":"AAAA","value":"BBBB"}`, "Timestamp": "2025/03/01 9:00:00"},
		{"DATA": "eyJ0eXBlIjoicmVnaXN0ZXIifQ==", "Timestamp": "2025/03/02 9:00:00"},
	}
}

func TestEncodeDecode(t *testing.T) {
	rows := sampleRows()
	data, digest, err := Encode(rows)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if len(digest) != 64 {
		t.Errorf("digest length = %d, want 64 hex chars", len(digest))
	}

	got, err := Decode(data, digest)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !reflect.DeepEqual(got, rows) {
		t.Errorf("Decode() = %v, want %v", got, rows)
	}
}

func TestEncode_Deterministic(t *testing.T) {
	a := sheet.RawRow{"DATA": "x", "Timestamp": "t", "extra": "1"}
	b := sheet.RawRow{"extra": "1", "Timestamp": "t", "DATA": "x"}
	_, d1, _ := Encode([]sheet.RawRow{a})
	_, d2, _ := Encode([]sheet.RawRow{b})
	if d1 != d2 {
		t.Errorf("same rows produced digests %s and %s", d1, d2)
	}
	_, d3, _ := Encode([]sheet.RawRow{a, a})
	if d3 == d1 {
		t.Error("different rows produced the same digest")
	}
}

func TestDecode_Rejects(t *testing.T) {
	data, digest, _ := Encode(sampleRows())
	tests := []struct {
		name   string
		data   []byte
		digest string
	}{
		{"not zstd", []byte("plain text"), ""},
		{"digest mismatch", data, strings.Repeat("0", 64)},
		{"truncated", data[:len(data)/2], digest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.data, tt.digest); !errors.Is(err, ErrNotAnArchive) {
				t.Errorf("Decode() error = %v, want ErrNotAnArchive", err)
			}
		})
	}
}

func TestObjectKey(t *testing.T) {
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.FixedZone("JST", 9*3600))
	digest := strings.Repeat("ab", 32)
	tests := []struct {
		prefix string
		want   string
	}{
		{"kafer/raw", "kafer/raw/2025/03/01/1740787200-abababababababab.cbor.zst"},
		{"", "2025/03/01/1740787200-abababababababab.cbor.zst"},
	}
	for _, tt := range tests {
		if got := ObjectKey(tt.prefix, at, digest); got != tt.want {
			t.Errorf("ObjectKey(%q) = %q, want %q", tt.prefix, got, tt.want)
		}
	}
}

func newBacker(src *mockSource, up *mockUploader, runs *mockRuns) *Backer {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	return &Backer{
		Source:   src,
		Uploader: up,
		Runs:     runs,
		Bucket:   "kafer-backups",
		Prefix:   "raw",
		Now: func() time.Time {
			now = now.Add(time.Hour)
			return now
		},
	}
}

func TestBacker_UploadsThenSkipsUnchanged(t *testing.T) {
	src := &mockSource{rows: sampleRows()}
	up := &mockUploader{}
	runs := &mockRuns{}
	b := newBacker(src, up, runs)

	res, err := b.Backup(context.Background())
	if err != nil {
		t.Fatalf("Backup() error = %v", err)
	}
	if res.Skipped || len(up.calls) != 1 {
		t.Fatalf("first Backup() skipped=%v uploads=%d, want one upload", res.Skipped, len(up.calls))
	}
	call := up.calls[0]
	if call.bucket != "kafer-backups" || !strings.HasPrefix(call.key, "raw/2025/03/01/") || call.encoding != "zstd" {
		t.Errorf("upload = %s/%s (%s)", call.bucket, call.key, call.encoding)
	}
	if call.meta["blake3"] != res.Run.Digest || call.meta["rows"] != "2" {
		t.Errorf("metadata = %v", call.meta)
	}
	if rows, err := Decode(call.body, res.Run.Digest); err != nil || len(rows) != 2 {
		t.Errorf("uploaded body decodes to %d rows, error %v", len(rows), err)
	}

	res, err = b.Backup(context.Background())
	if err != nil {
		t.Fatalf("second Backup() error = %v", err)
	}
	if !res.Skipped || len(up.calls) != 1 {
		t.Errorf("unchanged sheet: skipped=%v uploads=%d, want skip", res.Skipped, len(up.calls))
	}

	src.rows = append(src.rows, sheet.RawRow{"DATA": "new"})
	res, err = b.Backup(context.Background())
	if err != nil || res.Skipped || len(up.calls) != 2 || len(runs.runs) != 2 {
		t.Errorf("changed sheet: skipped=%v uploads=%d runs=%d err=%v", res.Skipped, len(up.calls), len(runs.runs), err)
	}
}

func TestBacker_Failures(t *testing.T) {
	tests := []struct {
		name    string
		src     *mockSource
		up      *mockUploader
		wantErr error
	}{
		{"transport", &mockSource{err: sheet.ErrTransport}, &mockUploader{}, sheet.ErrTransport},
		{"empty sheet", &mockSource{}, &mockUploader{}, ErrNoRows},
		{"upload fails", &mockSource{rows: sampleRows()}, &mockUploader{err: errors.New("denied")}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runs := &mockRuns{}
			_, err := newBacker(tt.src, tt.up, runs).Backup(context.Background())
			if err == nil {
				t.Fatal("Backup() error = nil, want failure")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Backup() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(runs.runs) != 0 {
				t.Errorf("failed backup saved %d runs", len(runs.runs))
			}
		})
	}
}
