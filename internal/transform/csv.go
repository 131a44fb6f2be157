package transform

import (
	"encoding/csv"
	"fmt"
	"io"
)

// RowFunc receives one row keyed by the CSV header, with the header
// provided for column-order-sensitive encodings.
type RowFunc func(header []string, row map[string]string) error

// EachRow streams a header-keyed CSV report, invoking fn per row. Short
// rows are tolerated; surplus columns are dropped.
func EachRow(r io.Reader, fn RowFunc) error {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading report header: %w", err)
	}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading report row: %w", err)
		}

		row := make(map[string]string, len(header))
		for i, field := range header {
			if i < len(record) {
				row[field] = record[i]
			}
		}
		if err := fn(header, row); err != nil {
			return err
		}
	}
}
