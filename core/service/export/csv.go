package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"sort"

	"github.com/loopxjstar/Get-Gmails/core/domain"
)

var csvHeader = []string{"sent_date", "recipient_name", "recipient_email", "thread_id", "message_id"}

// BuildArtifact renders records covering [from, to] as a CSV artifact.
// Rows are ordered by the underlying send instant, message id breaking
// ties, so ordering survives the day/month/year date formatting.
func BuildArtifact(accountEmail string, from, to domain.MonthKey, records []domain.EmailRecord) (domain.Artifact, error) {
	sorted := append([]domain.EmailRecord(nil), records...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].SentAtMillis != sorted[j].SentAtMillis {
			return sorted[i].SentAtMillis < sorted[j].SentAtMillis
		}
		return sorted[i].MessageID < sorted[j].MessageID
	})

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return domain.Artifact{}, fmt.Errorf("write csv header: %w", err)
	}
	for _, rec := range sorted {
		row := []string{rec.SentDate, rec.RecipientName, rec.RecipientEmail, rec.ThreadID, rec.MessageID}
		if err := w.Write(row); err != nil {
			return domain.Artifact{}, fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return domain.Artifact{}, fmt.Errorf("flush csv: %w", err)
	}

	return domain.Artifact{
		Filename:    domain.ArtifactFilename(accountEmail, from, to),
		CSV:         buf.Bytes(),
		RecordCount: len(sorted),
		FromMonth:   from,
		ToMonth:     to,
	}, nil
}
