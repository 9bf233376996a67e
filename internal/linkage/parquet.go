package linkage

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"
)

const (
	writeBatch = 4096
	readBatch  = 8192
)

// WriteEnriched writes lines to a zstd-compressed Parquet file at path, in
// row batches, with page statistics on every column.
func WriteEnriched(path string, lines []EnrichedLine) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create parquet file: %w", err)
	}

	pw := parquet.NewGenericWriter[EnrichedLine](f,
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedDefault}),
		parquet.PageBufferSize(8*1024),
		parquet.WriteBufferSize(16*1024*1024),
		parquet.DataPageStatistics(true),
		parquet.CreatedBy("eralink", "1.0", ""),
	)

	for rest := lines; len(rest) > 0; {
		batch := rest[:min(writeBatch, len(rest))]
		rest = rest[len(batch):]
		if _, err := pw.Write(batch); err != nil {
			pw.Close()
			f.Close()
			return fmt.Errorf("write enriched rows: %w", err)
		}
	}
	if err := pw.Close(); err != nil {
		f.Close()
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return f.Close()
}

// ReadEnriched reads every row of an enriched Parquet file.
func ReadEnriched(path string) ([]EnrichedLine, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open parquet: %w", err)
	}
	defer f.Close()

	reader := parquet.NewGenericReader[EnrichedLine](f)
	defer reader.Close()

	out := make([]EnrichedLine, 0, reader.NumRows())
	for {
		buf := make([]EnrichedLine, readBatch)
		n, err := reader.Read(buf)
		out = append(out, buf[:n]...)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read parquet rows: %w", err)
		}
		if n == 0 {
			break
		}
	}
	return out, nil
}
