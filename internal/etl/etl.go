// Package etl loads entity records from heterogeneous input files — JSON
// lines, CBOR streams, and field-mapped CSV, each optionally gzipped — and
// normalizes identifier values into the shape the graph ingests.
package etl

import (
	"bufio"
	"compress/gzip"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"github.com/apingali/akagraph/internal/akagraph"
)

// Format names accepted by Load.
const (
	FormatJSONLines = "jsonl"
	FormatCBOR      = "cbor"
	FormatCSV       = "csv"
)

// Mapping configures the CSV loader: which input column holds the record
// URL and how the remaining columns map onto identifier fields. Columns
// absent from Fields are dropped.
type Mapping struct {
	URLColumn string
	Fields    map[string]string // input column -> output field
	// HardSelectors drives value normalization: hard-selector values are
	// lowercased.
	HardSelectors []string
}

// Load streams records from path in the given format, calling fn for each.
// An empty format is inferred from the file name; ".gz" suffixes are
// decompressed transparently; "-" reads stdin.
func Load(path, format string, mapping *Mapping, fn func(akagraph.Record) error) error {
	r, closer, err := open(path)
	if err != nil {
		return err
	}
	defer closer()

	if format == "" {
		format = inferFormat(path)
	}
	switch format {
	case FormatJSONLines:
		return LoadJSONLines(r, fn)
	case FormatCBOR:
		return LoadCBOR(r, fn)
	case FormatCSV:
		if mapping == nil {
			return errors.New("csv input needs a field mapping")
		}
		return LoadCSV(r, *mapping, fn)
	default:
		return fmt.Errorf("unknown input format %q", format)
	}
}

func open(path string) (io.Reader, func(), error) {
	if path == "-" {
		return os.Stdin, func() {}, nil
	}
	fh, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(fh)
		if err != nil {
			fh.Close()
			return nil, nil, fmt.Errorf("decompressing %s: %w", path, err)
		}
		return gz, func() { gz.Close(); fh.Close() }, nil
	}
	return fh, func() { fh.Close() }, nil
}

func inferFormat(path string) string {
	trimmed := strings.TrimSuffix(path, ".gz")
	switch {
	case strings.HasSuffix(trimmed, ".json"), strings.HasSuffix(trimmed, ".jsonl"):
		return FormatJSONLines
	case strings.HasSuffix(trimmed, ".csv"):
		return FormatCSV
	default:
		return FormatCBOR
	}
}

// LoadJSONLines reads one flat record object per line. Lines that fail to
// decode are skipped; a record without a URL is an error.
func LoadJSONLines(r io.Reader, fn func(akagraph.Record) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec akagraph.Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			var probe struct {
				URL string `json:"url"`
			}
			if json.Unmarshal([]byte(line), &probe) == nil && probe.URL == "" {
				return fmt.Errorf("record without url: %w", err)
			}
			continue
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// LoadCBOR reads a stream of flat record maps.
func LoadCBOR(r io.Reader, fn func(akagraph.Record) error) error {
	dec := cbor.NewDecoder(r)
	for {
		var flat map[string]interface{}
		if err := dec.Decode(&flat); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("decoding cbor record: %w", err)
		}
		rec, err := akagraph.NewRecordFromFlat(flat)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}

// LoadCSV reads header-keyed rows and maps them through the Mapping. Values
// are normalized per field; ";"-separated multi-values are split; rows
// without a URL are skipped.
func LoadCSV(r io.Reader, mapping Mapping, fn func(akagraph.Record) error) error {
	hard := make(map[string]bool, len(mapping.HardSelectors))
	for _, s := range mapping.HardSelectors {
		hard[s] = true
	}
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("reading csv header: %w", err)
	}
	for {
		row, err := reader.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading csv row: %w", err)
		}
		rec := akagraph.Record{Fields: make(map[string][]string)}
		for i, raw := range row {
			if i >= len(header) {
				break
			}
			column := header[i]
			if column == mapping.URLColumn {
				rec.URL = strings.TrimSpace(raw)
				continue
			}
			field, ok := mapping.Fields[column]
			if !ok {
				continue
			}
			for _, val := range splitValues(raw) {
				val = Normalize(column, field, val, hard)
				if val == "" {
					continue
				}
				if field == "phone" && IsBadPhone(val) {
					continue
				}
				rec.Fields[field] = appendUnique(rec.Fields[field], val)
			}
		}
		if rec.URL == "" {
			continue
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}

// splitValues breaks "a@x.com; b@y.com" style cells into clean values.
func splitValues(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ";") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func appendUnique(values []string, val string) []string {
	for _, v := range values {
		if v == val {
			return values
		}
	}
	return append(values, val)
}
