package export

import (
	"bytes"
	"encoding/csv"
	"testing"

	"github.com/loopxjstar/Get-Gmails/core/domain"
)

func TestBuildArtifactRoundTrip(t *testing.T) {
	month := domain.MonthKey{Month: 3, Year: 2025}
	records := []domain.EmailRecord{
		{SentDate: "16/03/2025 09:00:00", RecipientName: "B", RecipientEmail: "b@x.com", ThreadID: "t2", MessageID: "m2", SentAtMillis: 200},
		{SentDate: "15/03/2025 09:00:00", RecipientName: "A", RecipientEmail: "a@x.com", ThreadID: "t1", MessageID: "m1", SentAtMillis: 100},
		{SentDate: "17/03/2025 09:00:00", RecipientName: "C", RecipientEmail: "c@x.com", ThreadID: "t3", MessageID: "m3", SentAtMillis: 300},
	}

	art, err := BuildArtifact("jane@gmail.com", month, month, records)
	if err != nil {
		t.Fatalf("BuildArtifact() error = %v", err)
	}
	if art.Filename != "jane_march_2025.csv" {
		t.Errorf("Filename = %q", art.Filename)
	}
	if art.RecordCount != 3 {
		t.Errorf("RecordCount = %d, want 3", art.RecordCount)
	}

	rows, err := csv.NewReader(bytes.NewReader(art.CSV)).ReadAll()
	if err != nil {
		t.Fatalf("reading produced CSV: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("rows = %d, want header + 3", len(rows))
	}

	wantHeader := []string{"sent_date", "recipient_name", "recipient_email", "thread_id", "message_id"}
	for i, col := range wantHeader {
		if rows[0][i] != col {
			t.Errorf("header[%d] = %q, want %q", i, rows[0][i], col)
		}
	}

	// Sorted ascending by instant, independent of input order.
	wantIDs := []string{"m1", "m2", "m3"}
	for i, want := range wantIDs {
		if got := rows[i+1][4]; got != want {
			t.Errorf("row %d message_id = %q, want %q", i+1, got, want)
		}
	}
}

func TestBuildArtifactSortSurvivesDateFormatting(t *testing.T) {
	// String order of dd/mm/yyyy would put 02/01 before 31/12; instant
	// order must not.
	month := domain.MonthKey{Month: 12, Year: 2024}
	records := []domain.EmailRecord{
		{SentDate: "02/01/2025 01:00:00", MessageID: "late", SentAtMillis: 2000},
		{SentDate: "31/12/2024 23:00:00", MessageID: "early", SentAtMillis: 1000},
	}

	art, err := BuildArtifact("j@g.com", month, domain.MonthKey{Month: 1, Year: 2025}, records)
	if err != nil {
		t.Fatalf("BuildArtifact() error = %v", err)
	}
	rows, _ := csv.NewReader(bytes.NewReader(art.CSV)).ReadAll()
	if rows[1][4] != "early" || rows[2][4] != "late" {
		t.Errorf("order = [%s, %s], want [early, late]", rows[1][4], rows[2][4])
	}
}

func TestBuildArtifactEmpty(t *testing.T) {
	month := domain.MonthKey{Month: 3, Year: 2025}
	art, err := BuildArtifact("jane@gmail.com", month, month, nil)
	if err != nil {
		t.Fatalf("BuildArtifact() error = %v", err)
	}
	rows, _ := csv.NewReader(bytes.NewReader(art.CSV)).ReadAll()
	if len(rows) != 1 || art.RecordCount != 0 {
		t.Errorf("empty export: rows = %d, count = %d, want header only", len(rows), art.RecordCount)
	}
}
