package etl

import (
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"

	"github.com/apingali/akagraph/internal/akagraph"
)

func collect(t *testing.T, r *strings.Reader, load func(*strings.Reader, func(akagraph.Record) error) error) []akagraph.Record {
	t.Helper()
	var recs []akagraph.Record
	err := load(r, func(rec akagraph.Record) error {
		recs = append(recs, rec)
		return nil
	})
	require.NoError(t, err)
	return recs
}

func TestLoadJSONLines(t *testing.T) {
	input := strings.Join([]string{
		`{"url": "a", "email": ["x@m.com"], "name": ["foo"]}`,
		``,
		`not json at all`,
		`{"url": "b", "name": "scalar"}`,
	}, "\n")
	recs := collect(t, strings.NewReader(input), func(r *strings.Reader, fn func(akagraph.Record) error) error {
		return LoadJSONLines(r, fn)
	})
	require.Len(t, recs, 2, "blank and malformed lines are skipped")
	require.Equal(t, "a", recs[0].URL)
	require.Equal(t, []string{"x@m.com"}, recs[0].Fields["email"])
	require.Equal(t, []string{"scalar"}, recs[1].Fields["name"])
}

func TestLoadCBOR(t *testing.T) {
	var buf bytes.Buffer
	enc := cbor.NewEncoder(&buf)
	for _, flat := range []map[string]interface{}{
		{"url": "a", "email": []string{"x@m.com"}},
		{"url": "b", "phone": []string{"123"}},
	} {
		require.NoError(t, enc.Encode(flat))
	}
	var recs []akagraph.Record
	err := LoadCBOR(&buf, func(rec akagraph.Record) error {
		recs = append(recs, rec)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, []string{"x@m.com"}, recs[0].Fields["email"])
	require.Equal(t, "b", recs[1].URL)
}

func TestLoadCSV(t *testing.T) {
	input := strings.Join([]string{
		"cid,title,mail,web",
		"u1,Acme,a@x.com; b@y.com,www.acme.example",
		"u2,Mr. John Doe,,",
		",headless,skipped,row",
	}, "\n")
	mapping := Mapping{
		URLColumn: "cid",
		Fields: map[string]string{
			"title": "name",
			"mail":  "email",
			"web":   "hostname",
		},
		HardSelectors: []string{"email", "hostname"},
	}
	var recs []akagraph.Record
	err := LoadCSV(strings.NewReader(input), mapping, func(rec akagraph.Record) error {
		recs = append(recs, rec)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, recs, 2, "rows without a URL are skipped")

	require.Equal(t, "u1", recs[0].URL)
	require.ElementsMatch(t, []string{"a@x.com", "b@y.com"}, recs[0].Fields["email"])
	require.Equal(t, []string{"acme.example"}, recs[0].Fields["hostname"], "www. stripped, lowercased")
	require.Equal(t, []string{"Acme"}, recs[0].Fields["name"])

	require.Equal(t, []string{"John Doe"}, recs[1].Fields["name"], "honorific stripped")
}

func TestLoadGzippedJSONFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "records.json.gz")
	fh, err := os.Create(path)
	require.NoError(t, err)
	gz := gzip.NewWriter(fh)
	_, err = gz.Write([]byte(`{"url": "gz", "name": ["zipped"]}` + "\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, fh.Close())

	var recs []akagraph.Record
	err = Load(path, "", nil, func(rec akagraph.Record) error {
		recs = append(recs, rec)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "gz", recs[0].URL)
}

func TestLoadUnknownFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "records.dat")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	err := Load(path, "nonsense", nil, func(akagraph.Record) error { return nil })
	require.Error(t, err)
}

func TestLoadCSVRequiresMapping(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "records.csv")
	require.NoError(t, os.WriteFile(path, []byte("url\na\n"), 0o644))
	err := Load(path, FormatCSV, nil, func(akagraph.Record) error { return nil })
	require.Error(t, err)
}

func TestInferFormat(t *testing.T) {
	tests := map[string]string{
		"x.json":    FormatJSONLines,
		"x.jsonl":   FormatJSONLines,
		"x.json.gz": FormatJSONLines,
		"x.csv":     FormatCSV,
		"x.csv.gz":  FormatCSV,
		"x.cbor":    FormatCBOR,
		"x":         FormatCBOR,
	}
	for path, want := range tests {
		if got := inferFormat(path); got != want {
			t.Errorf("inferFormat(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestStripPersonTitle(t *testing.T) {
	tests := map[string]string{
		"Mr. Smith":  "Smith",
		"Mrs. Jones": "Jones",
		"Ms. Lee":    "Lee",
		"Dr. Who":    "Dr. Who",
		"Smith":      "Smith",
	}
	for in, want := range tests {
		if got := StripPersonTitle(in); got != want {
			t.Errorf("StripPersonTitle(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFixNameOrder(t *testing.T) {
	tests := map[string]string{
		"Doe, John": "John Doe",
		"John Doe":  "John Doe",
		"a, b, c":   "c b a",
	}
	for in, want := range tests {
		if got := FixNameOrder(in); got != want {
			t.Errorf("FixNameOrder(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIsBadPhone(t *testing.T) {
	if !IsBadPhone("+8600000000") {
		t.Error("placeholder number accepted")
	}
	if !IsBadPhone("13812345678") {
		t.Error("sequential number accepted")
	}
	if IsBadPhone("+14155552671") {
		t.Error("plausible number rejected")
	}
}

func TestSplitValues(t *testing.T) {
	got := splitValues(" a@x.com; ;b@y.com ")
	require.Equal(t, []string{"a@x.com", "b@y.com"}, got)
}
