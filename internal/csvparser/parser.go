package csvparser

import (
	"fmt"
	"os"
)

// ParseFile reads recipient rows from a CSV stored on the server.
func ParseFile(path string, maxRows int) ([]RecipientRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows, err := ParseRecipientRows(f, maxRows)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rows, nil
}
