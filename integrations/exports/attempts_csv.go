package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"strconv"
	"time"

	"stakevault/services/vaultd/journal"
)

var attemptColumns = []string{"id", "user", "bucket", "asset", "recipient", "amount", "memo", "nonce", "receipt", "status", "error", "attempt_at", "duration_ms"}

// AttemptsCSV builds a CSV export for the supplied settlement attempts and
// returns the serialised data alongside a SHA-256 checksum of the payload.
func AttemptsCSV(records []journal.Record) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)
	if err := writer.Write(attemptColumns); err != nil {
		return nil, "", err
	}
	for _, rec := range records {
		row := []string{
			rec.ID.String(),
			rec.User,
			rec.Bucket,
			rec.Asset,
			rec.Recipient,
			amountOrZero(rec.Amount),
			rec.Memo,
			strconv.FormatUint(rec.Nonce, 10),
			strconv.FormatUint(rec.Receipt, 10),
			rec.Status,
			rec.Error,
			rec.AttemptAt.UTC().Format(time.RFC3339Nano),
			strconv.FormatInt(rec.DurationMS, 10),
		}
		if err := writer.Write(row); err != nil {
			return nil, "", err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", err
	}
	return checksummed(buffer.Bytes())
}

func amountOrZero(amount string) string {
	if amount == "" {
		return "0"
	}
	return amount
}

func checksummed(data []byte) ([]byte, string, error) {
	sum := sha256.Sum256(data)
	return data, hex.EncodeToString(sum[:]), nil
}
