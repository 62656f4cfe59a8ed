// Package csvparser reads recipient lists uploaded as CSV.
package csvparser

import (
	"encoding/csv"
	"errors"
	"io"
	"strings"
)

var (
	ErrNoEmailColumn = errors.New("csv must contain an Email column")
	ErrNoRows        = errors.New("csv must contain at least one data row")
)

// RecipientRow is one address taken from the "Email" column (matched
// case-insensitively). Line is the 1-based CSV record number.
type RecipientRow struct {
	Line  int
	Email string
}

// ParseRecipientRows reads a CSV with a header row. Rows whose column count
// differs from the header, or whose Email cell is blank, are skipped.
//
// maxRows caps the data rows read; zero or less reads everything.
func ParseRecipientRows(r io.Reader, maxRows int) ([]RecipientRow, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	headers, err := reader.Read()
	if err == io.EOF {
		return nil, ErrNoRows
	}
	if err != nil {
		return nil, err
	}

	emailIdx := -1
	for i, h := range headers {
		h = strings.TrimPrefix(strings.TrimSpace(h), "\ufeff")
		if strings.EqualFold(h, "email") {
			emailIdx = i
			break
		}
	}
	if emailIdx == -1 {
		return nil, ErrNoEmailColumn
	}

	rows := make([]RecipientRow, 0)
	line := 1
	for maxRows <= 0 || len(rows) < maxRows {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		line++

		if len(record) != len(headers) {
			// skip malformed row
			continue
		}

		email := strings.TrimSpace(record[emailIdx])
		if email == "" {
			continue
		}
		rows = append(rows, RecipientRow{Line: line, Email: email})
	}

	if len(rows) == 0 {
		return nil, ErrNoRows
	}

	return rows, nil
}

// Emails returns the addresses of rows in order.
func Emails(rows []RecipientRow) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Email
	}
	return out
}
