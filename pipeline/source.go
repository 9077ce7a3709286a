package pipeline

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
)

var (
	utf8BOM  = []byte{0xEF, 0xBB, 0xBF}
	zipMagic = []byte("PK\x03\x04")
)

// rowSource yields data rows after the header. Next returns io.EOF when done.
type rowSource interface {
	Header() []string
	Next() ([]string, error)
	Close() error
}

// table opens fresh row sources over one payload so the pipeline can make a
// counting pass before the processing pass.
type table interface {
	Open() (rowSource, error)
}

func newTable(payload []byte) (table, error) {
	if bytes.HasPrefix(payload, zipMagic) {
		return xlsxTable{payload: payload}, nil
	}
	text, err := decodeText(payload)
	if err != nil {
		return nil, err
	}
	return csvTable{text: text}, nil
}

// decodeText reads payload as UTF-8 with an optional BOM, falling back to
// ISO-8859-1 when the bytes are not valid UTF-8.
func decodeText(payload []byte) (string, error) {
	payload = bytes.TrimPrefix(payload, utf8BOM)
	if utf8.Valid(payload) {
		return string(payload), nil
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(payload)
	if err != nil {
		return "", &ValidationError{Message: fmt.Sprintf("Unable to decode file as UTF-8 or ISO-8859-1: %v", err)}
	}
	return string(decoded), nil
}

type csvTable struct {
	text string
}

func (t csvTable) Open() (rowSource, error) {
	reader := csv.NewReader(strings.NewReader(t.text))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return &csvSource{reader: reader}, nil
		}
		return nil, &ValidationError{Message: fmt.Sprintf("Invalid CSV header: %v", err)}
	}
	return &csvSource{reader: reader, header: header}, nil
}

type csvSource struct {
	reader *csv.Reader
	header []string
}

func (s *csvSource) Header() []string {
	return s.header
}

func (s *csvSource) Next() ([]string, error) {
	if s.header == nil {
		return nil, io.EOF
	}
	record, err := s.reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, &ValidationError{Message: fmt.Sprintf("Invalid CSV: %v", err)}
	}
	return record, nil
}

func (s *csvSource) Close() error {
	return nil
}

type xlsxTable struct {
	payload []byte
}

func (t xlsxTable) Open() (rowSource, error) {
	file, err := excelize.OpenReader(bytes.NewReader(t.payload))
	if err != nil {
		return nil, &ValidationError{Message: fmt.Sprintf("Invalid XLSX file: %v", err)}
	}
	sheets := file.GetSheetList()
	if len(sheets) == 0 {
		_ = file.Close()
		return nil, &ValidationError{Message: "Invalid XLSX file: no sheets in workbook"}
	}
	rows, err := file.Rows(sheets[0])
	if err != nil {
		_ = file.Close()
		return nil, &ValidationError{Message: fmt.Sprintf("Invalid XLSX file: %v", err)}
	}
	source := &xlsxSource{file: file, rows: rows}
	header, err := source.Next()
	switch {
	case errors.Is(err, io.EOF):
	case err != nil:
		_ = source.Close()
		return nil, err
	default:
		source.header = header
	}
	return source, nil
}

type xlsxSource struct {
	file   *excelize.File
	rows   *excelize.Rows
	header []string
}

func (s *xlsxSource) Header() []string {
	return s.header
}

// Next skips blank rows, matching how the CSV reader treats empty lines.
func (s *xlsxSource) Next() ([]string, error) {
	for s.rows.Next() {
		columns, err := s.rows.Columns()
		if err != nil {
			return nil, &ValidationError{Message: fmt.Sprintf("Invalid XLSX row: %v", err)}
		}
		if blankRow(columns) {
			continue
		}
		return columns, nil
	}
	if err := s.rows.Error(); err != nil {
		return nil, &ValidationError{Message: fmt.Sprintf("Invalid XLSX file: %v", err)}
	}
	return nil, io.EOF
}

func (s *xlsxSource) Close() error {
	rowsErr := s.rows.Close()
	fileErr := s.file.Close()
	return errors.Join(rowsErr, fileErr)
}

func blankRow(columns []string) bool {
	for _, column := range columns {
		if strings.TrimSpace(column) != "" {
			return false
		}
	}
	return true
}
