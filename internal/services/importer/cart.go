package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"tciasync-desktop/internal/shared"
)

// Columns every NBIA cart must carry
var RequiredColumns = []string{
	"Collection Name",
	"Subject ID",
	"Series ID",
	"Number of images",
	"File Size (Bytes)",
}

// OSFileReader reads carts from the local filesystem
type OSFileReader struct{}

func (OSFileReader) ReadFileAsText(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", &shared.ReadError{Path: path, Err: err}
	}
	if !utf8.Valid(data) {
		return "", &shared.ReadError{Path: path, Err: errors.New("file is not valid UTF-8 text")}
	}
	return string(data), nil
}

// ValidateCart checks the header of an NBIA cart and returns the number of
// series rows it declares. Cell values are left to the server.
func ValidateCart(content string) (int, error) {
	reader := csv.NewReader(strings.NewReader(strings.TrimPrefix(content, "\ufeff")))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err == io.EOF {
		return 0, &shared.InvalidFormatError{Reason: "empty cart"}
	}
	if err != nil {
		return 0, &shared.InvalidFormatError{Reason: "unreadable header", Err: err}
	}

	index := make(map[string]int, len(header))
	for i, column := range header {
		column = strings.TrimSpace(column)
		if _, dup := index[column]; dup && column != "" {
			return 0, &shared.InvalidFormatError{Reason: fmt.Sprintf("duplicate column: %s", column)}
		}
		index[column] = i
	}
	for _, column := range RequiredColumns {
		if _, ok := index[column]; !ok {
			return 0, &shared.InvalidFormatError{Reason: fmt.Sprintf("missing column: %s", column)}
		}
	}

	rows := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, &shared.InvalidFormatError{Reason: fmt.Sprintf("row %d", rows+2), Err: err}
		}
		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			continue
		}
		rows++
	}
	return rows, nil
}
