package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"kafer/internal/adapters/archive"
	"kafer/internal/adapters/codec"
	"kafer/internal/adapters/sheet"
	"kafer/internal/adapters/storage"
	backupStore "kafer/internal/adapters/storage/backup"
	"kafer/internal/app"
	"kafer/internal/config"
)

// textArg returns the single positional argument, or all of stdin when it is "-" or absent.
func textArg(args []string, stdin io.Reader) (string, error) {
	switch len(args) {
	case 0:
	case 1:
		if args[0] != "-" {
			return args[0], nil
		}
	default:
		return "", fmt.Errorf("%w: expected one argument, got %d", errUsage, len(args))
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}

func loadCodec(configFile string) (*config.Config, *codec.Versioned, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, err
	}
	cd, err := app.Codec(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("build codec: %w", err)
	}
	return cfg, cd, nil
}

func cmdEncode(_ context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	fs, configFile := newFlagSet("encode")
	if err := parse(fs, args); err != nil {
		return err
	}
	plain, err := textArg(fs.Args(), stdin)
	if err != nil {
		return err
	}
	_, cd, err := loadCodec(*configFile)
	if err != nil {
		return err
	}
	opaque, err := cd.Encode(plain)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, opaque)
	return nil
}

func cmdDecode(_ context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	fs, configFile := newFlagSet("decode")
	quiet := fs.BoolP("quiet", "q", false, "print only the plaintext")
	if err := parse(fs, args); err != nil {
		return err
	}
	opaque, err := textArg(fs.Args(), stdin)
	if err != nil {
		return err
	}
	_, cd, err := loadCodec(*configFile)
	if err != nil {
		return err
	}
	res, err := cd.DecodeWithScheme(opaque)
	if err != nil {
		return err
	}
	if !*quiet {
		legacy := ""
		if res.Legacy {
			legacy = " (legacy, untagged)"
		}
		fmt.Fprintf(stdout, "scheme: %s%s\n", res.Scheme, legacy)
	}
	fmt.Fprintln(stdout, res.Plain)
	return nil
}

// auditReport counts rows by the scheme that decoded their payload cell.
type auditReport struct {
	Rows     int
	Empty    int
	ByScheme map[string]int
	Legacy   []int // row indexes decoded by an untagged legacy scheme
	Failed   []int // row indexes no configured scheme could decode
}

// audit inspects the payload cell of every row.
// POST: Rows == Empty + len(Failed) + sum(ByScheme)
func audit(rows []sheet.RawRow, field string, cd *codec.Versioned) auditReport {
	rep := auditReport{Rows: len(rows), ByScheme: map[string]int{}}
	for i, row := range rows {
		cell, _ := row[field].(string)
		if strings.TrimSpace(cell) == "" {
			rep.Empty++
			continue
		}
		res, err := cd.DecodeWithScheme(cell)
		if err != nil {
			rep.Failed = append(rep.Failed, i)
			continue
		}
		rep.ByScheme[res.Scheme]++
		if res.Legacy {
			rep.Legacy = append(rep.Legacy, i)
		}
	}
	return rep
}

func (r auditReport) write(w io.Writer, writeScheme string) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "rows\t%d\n", r.Rows)
	fmt.Fprintf(tw, "empty payload\t%d\n", r.Empty)
	schemes := make([]string, 0, len(r.ByScheme))
	for s := range r.ByScheme {
		schemes = append(schemes, s)
	}
	sort.Strings(schemes)
	for _, s := range schemes {
		marker := ""
		if s == writeScheme {
			marker = " (write scheme)"
		}
		fmt.Fprintf(tw, "scheme %s%s\t%d\n", s, marker, r.ByScheme[s])
	}
	fmt.Fprintf(tw, "undecodable\t%d\n", len(r.Failed))
	tw.Flush()

	if len(r.Legacy) > 0 {
		fmt.Fprintf(w, "legacy rows: %s\n", joinInts(r.Legacy))
	}
	if len(r.Failed) > 0 {
		fmt.Fprintf(w, "undecodable rows: %s\n", joinInts(r.Failed))
	}
}

func joinInts(ns []int) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = fmt.Sprint(n)
	}
	return strings.Join(parts, ",")
}

func cmdAudit(ctx context.Context, args []string, _ io.Reader, stdout io.Writer) error {
	fs, configFile := newFlagSet("audit")
	if err := parse(fs, args); err != nil {
		return err
	}
	cfg, cd, err := loadCodec(*configFile)
	if err != nil {
		return err
	}
	rows, err := app.Ledger(cfg, cd, nil).FetchRaw(ctx)
	if err != nil {
		return err
	}
	audit(rows, cfg.Sheet.PayloadField, cd).write(stdout, cd.WriteScheme())
	return nil
}

func cmdBackup(ctx context.Context, args []string, _ io.Reader, stdout io.Writer) error {
	fs, configFile := newFlagSet("backup")
	if err := parse(fs, args); err != nil {
		return err
	}
	cfg, cd, err := loadCodec(*configFile)
	if err != nil {
		return err
	}
	if cfg.Backup.Bucket == "" {
		return errors.New("backup.bucket is not configured")
	}

	db, err := storage.Open(cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()
	client, err := archive.NewS3Client(ctx, cfg.Backup.Region)
	if err != nil {
		return err
	}

	backer := &archive.Backer{
		Source:   app.Ledger(cfg, cd, nil),
		Uploader: client,
		Runs:     backupStore.NewSQLiteStore(storage.NewTimedDB(db, nil)),
		Bucket:   cfg.Backup.Bucket,
		Prefix:   cfg.Backup.Prefix,
	}
	res, err := backer.Backup(ctx)
	if err != nil {
		return err
	}
	if res.Skipped {
		fmt.Fprintf(stdout, "unchanged since %s (%s)\n", res.Run.Key, res.Run.Digest)
		return nil
	}
	fmt.Fprintf(stdout, "uploaded s3://%s/%s: %d rows, %d bytes\n", cfg.Backup.Bucket, res.Run.Key, res.Run.Rows, res.Run.Bytes)
	return nil
}

func cmdInspect(_ context.Context, args []string, _ io.Reader, stdout io.Writer) error {
	fs, _ := newFlagSet("inspect")
	digest := fs.String("digest", "", "expected BLAKE3 digest (hex)")
	dumpRows := fs.Bool("rows", false, "print every row as a JSON line")
	if err := parse(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: inspect needs one archive path", errUsage)
	}

	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return err
	}
	rows, err := archive.Decode(data, *digest)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "format v%d: %d rows, %d bytes\n", archive.FormatVersion, len(rows), len(data))
	if !*dumpRows {
		return nil
	}
	enc := json.NewEncoder(stdout)
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return err
		}
	}
	return nil
}
