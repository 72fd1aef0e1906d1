package batch

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"

	"github.com/raaihank/pii-sentinel/internal/logger"
)

// ErrNoTextColumn is returned when a CSV header has no "text" column.
var ErrNoTextColumn = errors.New("no text column in header")

type parquetRow struct {
	Text string `parquet:"text"`
}

type jsonRow struct {
	Text *string `json:"text"`
}

// ReadRecords loads every record of a dataset. The format is chosen by file
// extension. Rows that cannot be decoded are logged and skipped; Row numbers
// stay aligned with the position in the file, starting at 1.
func ReadRecords(path string, log *logger.Logger) ([]Record, error) {
	format := DetectFileFormat(path)
	if format == FormatUnknown {
		return nil, fmt.Errorf("unsupported file format: %s", path)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s file: %w", format, err)
	}
	defer file.Close()

	log = log.WithComponent("batch-reader")

	var records []Record
	switch format {
	case FormatCSV:
		records, err = readCSV(file, log)
	case FormatJSON:
		records, err = readJSON(file, log)
	case FormatParquet:
		records, err = readParquet(file, log)
	}
	if err != nil {
		return nil, fmt.Errorf("%s processing failed: %w", format, err)
	}

	log.Info("Dataset loaded",
		zap.String("format", string(format)),
		zap.Int("records", len(records)),
	)
	return records, nil
}

func readCSV(r io.Reader, log *logger.Logger) ([]Record, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	column := -1
	for i, name := range header {
		if strings.EqualFold(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")), "text") {
			column = i
			break
		}
	}
	if column < 0 {
		return nil, fmt.Errorf("%w: %v", ErrNoTextColumn, header)
	}

	records := []Record{}
	for row := 1; ; row++ {
		fields, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Warn("Failed to read CSV record", zap.Int("row", row), zap.Error(err))
			continue
		}
		if column >= len(fields) {
			log.Warn("Invalid CSV record length", zap.Int("row", row), zap.Int("length", len(fields)))
			continue
		}
		records = append(records, Record{Row: row, Text: fields[column]})
	}
	return records, nil
}

// readJSON accepts either a JSON array of objects or one object per line.
func readJSON(r io.Reader, log *logger.Logger) ([]Record, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if err == io.EOF {
		return []Record{}, nil
	}
	if err != nil {
		return nil, err
	}

	if first == '[' {
		var rows []jsonRow
		if err := json.NewDecoder(br).Decode(&rows); err != nil {
			return nil, fmt.Errorf("failed to decode JSON array: %w", err)
		}
		records := make([]Record, 0, len(rows))
		for i, row := range rows {
			if row.Text == nil {
				log.Warn("JSON record without text field", zap.Int("row", i+1))
				continue
			}
			records = append(records, Record{Row: i + 1, Text: *row.Text})
		}
		return records, nil
	}

	records := []Record{}
	scanner := bufio.NewScanner(br)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	row := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		row++

		var jr jsonRow
		if err := json.Unmarshal([]byte(line), &jr); err != nil {
			log.Warn("Failed to read JSON record", zap.Int("row", row), zap.Error(err))
			continue
		}
		if jr.Text == nil {
			log.Warn("JSON record without text field", zap.Int("row", row))
			continue
		}
		records = append(records, Record{Row: row, Text: *jr.Text})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan JSON lines: %w", err)
	}
	return records, nil
}

func readParquet(file *os.File, log *logger.Logger) ([]Record, error) {
	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat Parquet file: %w", err)
	}
	pf, err := parquet.OpenFile(file, info.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to open Parquet file: %w", err)
	}

	reader := parquet.NewReader(pf)
	defer reader.Close()

	records := []Record{}
	for row := 1; ; row++ {
		var pr parquetRow
		err := reader.Read(&pr)
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Warn("Failed to read Parquet record", zap.Int("row", row), zap.Error(err))
			return records, fmt.Errorf("failed to read Parquet row %d: %w", row, err)
		}
		records = append(records, Record{Row: row, Text: pr.Text})
	}
	return records, nil
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b, br.UnreadByte()
	}
}
