package exports

import (
	"bytes"
	"fmt"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"stakevault/services/vaultd/journal"
)

type parquetAttempt struct {
	ID         string `parquet:"name=id, type=BYTE_ARRAY, convertedtype=UTF8"`
	User       string `parquet:"name=user, type=BYTE_ARRAY, convertedtype=UTF8"`
	Bucket     string `parquet:"name=bucket, type=BYTE_ARRAY, convertedtype=UTF8"`
	Asset      string `parquet:"name=asset, type=BYTE_ARRAY, convertedtype=UTF8"`
	Recipient  string `parquet:"name=recipient, type=BYTE_ARRAY, convertedtype=UTF8"`
	Amount     string `parquet:"name=amount, type=BYTE_ARRAY, convertedtype=UTF8"`
	Memo       string `parquet:"name=memo, type=BYTE_ARRAY, convertedtype=UTF8"`
	Nonce      int64  `parquet:"name=nonce, type=INT64"`
	Receipt    int64  `parquet:"name=receipt, type=INT64"`
	Status     string `parquet:"name=status, type=BYTE_ARRAY, convertedtype=UTF8"`
	Error      string `parquet:"name=error, type=BYTE_ARRAY, convertedtype=UTF8"`
	AttemptAt  string `parquet:"name=attempt_at, type=BYTE_ARRAY, convertedtype=UTF8"`
	DurationMS int64  `parquet:"name=duration_ms, type=INT64"`
}

// AttemptsParquet renders settlement attempts as a snappy-compressed Parquet
// file and returns it with its checksum.
func AttemptsParquet(records []journal.Record) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	fw := writerfile.NewWriterFile(buffer)
	pw, err := writer.NewParquetWriter(fw, new(parquetAttempt), 1)
	if err != nil {
		return nil, "", fmt.Errorf("exports: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, rec := range records {
		row := &parquetAttempt{
			ID:         rec.ID.String(),
			User:       rec.User,
			Bucket:     rec.Bucket,
			Asset:      rec.Asset,
			Recipient:  rec.Recipient,
			Amount:     amountOrZero(rec.Amount),
			Memo:       rec.Memo,
			Nonce:      int64(rec.Nonce),
			Receipt:    int64(rec.Receipt),
			Status:     rec.Status,
			Error:      rec.Error,
			AttemptAt:  rec.AttemptAt.UTC().Format(time.RFC3339Nano),
			DurationMS: rec.DurationMS,
		}
		if err := pw.Write(row); err != nil {
			_ = pw.WriteStop()
			return nil, "", fmt.Errorf("exports: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, "", fmt.Errorf("exports: parquet finalise: %w", err)
	}
	return checksummed(buffer.Bytes())
}
