package exports

import (
	"bytes"
	"encoding/json"
	"time"

	"stakevault/services/vaultd/journal"
)

type attemptLine struct {
	ID         string `json:"id"`
	User       string `json:"user"`
	Bucket     string `json:"bucket"`
	Asset      string `json:"asset"`
	Recipient  string `json:"recipient"`
	Amount     string `json:"amount"`
	Memo       string `json:"memo"`
	Nonce      uint64 `json:"nonce"`
	Receipt    uint64 `json:"receipt,omitempty"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	AttemptAt  string `json:"attempt_at"`
	DurationMS int64  `json:"duration_ms"`
}

// AttemptsJSONL builds a JSON Lines export of settlement attempts and returns
// the payload alongside a checksum.
func AttemptsJSONL(records []journal.Record) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	for _, rec := range records {
		line := attemptLine{
			ID:         rec.ID.String(),
			User:       rec.User,
			Bucket:     rec.Bucket,
			Asset:      rec.Asset,
			Recipient:  rec.Recipient,
			Amount:     amountOrZero(rec.Amount),
			Memo:       rec.Memo,
			Nonce:      rec.Nonce,
			Receipt:    rec.Receipt,
			Status:     rec.Status,
			Error:      rec.Error,
			AttemptAt:  rec.AttemptAt.UTC().Format(time.RFC3339Nano),
			DurationMS: rec.DurationMS,
		}
		if err := encoder.Encode(line); err != nil {
			return nil, "", err
		}
	}
	return checksummed(buffer.Bytes())
}
