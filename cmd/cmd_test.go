package cmd

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dhcgn/mbox-contacts/address"
	"github.com/dhcgn/mbox-contacts/state"
)

const sampleMbox = "../mbox/testdata/sample.mbox"

func execute(t *testing.T, cmd *cobra.Command, stdin string, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()

	file, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return records
}

func TestTopCommand(t *testing.T) {
	dir := t.TempDir()
	out, err := execute(t, NewTopCommand(), "", "--output", dir, "--top", "2", sampleMbox)
	if err != nil {
		t.Fatalf("top error = %v\n%s", err, out)
	}

	for _, want := range []string{
		"Processed 3 messages (skipped 0 by filters, 0.00%)",
		"Top 2 all:\n1. Alice Example <alice@example.com> (2)\n2. bob@example.com (2)\n",
		"Top 2 from:\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output is missing %q:\n%s", want, out)
		}
	}

	all := readCSV(t, filepath.Join(dir, "report_all.csv"))
	if len(all) != 9 {
		t.Fatalf("report_all.csv has %d rows, want header + 8", len(all))
	}
	if strings.Join(all[1], ",") != "Alice Example,alice@example.com,2" {
		t.Errorf("first row = %v", all[1])
	}

	from := readCSV(t, filepath.Join(dir, "report_from.csv"))
	if len(from) != 4 || from[2][0] != "Jürgen" {
		t.Errorf("report_from.csv = %v, want Jürgen decoded in row 2", from)
	}
}

func TestTopCommand_Filters(t *testing.T) {
	dir := t.TempDir()
	out, err := execute(t, NewTopCommand(), "",
		"--output", dir,
		"--exclude-header", "Subject:.*spam",
		"--exclude-address", "^noreply@",
		sampleMbox,
	)
	if err != nil {
		t.Fatalf("top error = %v\n%s", err, out)
	}

	for _, want := range []string{
		"Processed 2 messages (skipped 1 by filters, 33.33%)",
		"exclude-header filters:\n  ✓ Subject:.*spam: 1 hits",
		"exclude-address filters:\n  ✓ ^noreply@: 1 hits",
		"1. Alice Example <alice@example.com> (2)\n2. Doe, Dan <dan@example.com> (1)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output is missing %q:\n%s", want, out)
		}
	}

	if _, err := execute(t, NewTopCommand(), "", "--output", dir, "--include-body", "a", "--exclude-body", "b", sampleMbox); err == nil {
		t.Error("top accepted include and exclude filters together")
	}
}

func TestDecodeCommand(t *testing.T) {
	tests := []struct {
		name  string
		stdin string
		args  []string
		want  string
	}{
		{
			name: "arguments",
			args: []string{"=?UTF-8?B?SsO8cmdlbg==?=", "Plain Name"},
			want: "Jürgen\nPlain Name\n",
		},
		{
			name:  "stdin",
			stdin: "=?ISO-8859-1?Q?Andr=E9?= Pirard\n=?bogus?Q?x?=\n",
			want:  "André Pirard\n=?bogus?Q?x?=\n",
		},
		{
			name: "address list",
			args: []string{"--list", "Team: =?UTF-8?Q?Jos=C3=A9?= <jose@example.com>, bob@example.com;"},
			want: "José <jose@example.com>\nbob@example.com\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, NewDecodeCommand(), tt.stdin, tt.args...)
			if err != nil {
				t.Fatalf("decode error = %v", err)
			}
			if out != tt.want {
				t.Errorf("decode output = %q, want %q", out, tt.want)
			}
		})
	}
}

func writeBook(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	book, err := state.NewFileBook(dir, true)
	if err != nil {
		t.Fatal(err)
	}
	day := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	sightings := []address.Address{
		address.New("=?UTF-8?B?SsO8cmdlbg==?=", "juergen@example.com"),
		address.New("", "bob@example.com"),
		address.New("", "juergen@example.com"),
	}
	for i, a := range sightings {
		if _, err := book.Record(a, day.AddDate(0, 0, i)); err != nil {
			t.Fatal(err)
		}
	}
	if err := book.Close(); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestExportCommand_JSON(t *testing.T) {
	dir := writeBook(t)
	out, err := execute(t, NewExportCommand(), "", "--state-dir", dir, "--sort", "count")
	if err != nil {
		t.Fatalf("export error = %v", err)
	}

	var records []exportRecord
	if err := json.Unmarshal([]byte(out), &records); err != nil {
		t.Fatalf("export output is not JSON: %v\n%s", err, out)
	}
	if len(records) != 2 {
		t.Fatalf("exported %d records, want 2", len(records))
	}
	if records[0].Address.Name() != "=?UTF-8?B?SsO8cmdlbg==?=" || records[0].Count != 2 {
		t.Errorf("first record = %+v, want the raw name with count 2", records[0])
	}
	if !records[0].LastSeen.Equal(time.Date(2024, 5, 3, 8, 0, 0, 0, time.UTC)) {
		t.Errorf("LastSeen = %v", records[0].LastSeen)
	}
}

func TestExportCommand_YAMLDecoded(t *testing.T) {
	dir := writeBook(t)
	file := filepath.Join(t.TempDir(), "contacts.yaml")
	if _, err := execute(t, NewExportCommand(), "", "--state-dir", dir, "--format", "yaml", "--decoded", "--min-count", "2", "-o", file); err != nil {
		t.Fatalf("export error = %v", err)
	}

	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "name: Jürgen") {
		t.Errorf("yaml does not contain the decoded name:\n%s", data)
	}

	var records []exportRecord
	if err := yaml.Unmarshal(data, &records); err != nil {
		t.Fatalf("yaml.Unmarshal error = %v", err)
	}
	if len(records) != 1 || records[0].Address.Email() != "juergen@example.com" {
		t.Errorf("records = %+v, want only juergen", records)
	}
}

func TestExportCommand_CSV(t *testing.T) {
	dir := writeBook(t)
	out, err := execute(t, NewExportCommand(), "", "--state-dir", dir, "--format", "csv", "--sort", "email", "--decoded")
	if err != nil {
		t.Fatalf("export error = %v", err)
	}

	records, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	want := [][]string{
		{"Name", "Email", "Count", "First Seen", "Last Seen"},
		{"", "bob@example.com", "1", "2024-05-02T08:00:00Z", "2024-05-02T08:00:00Z"},
		{"Jürgen", "juergen@example.com", "2", "2024-05-01T08:00:00Z", "2024-05-03T08:00:00Z"},
	}
	if len(records) != len(want) {
		t.Fatalf("csv = %v, want %v", records, want)
	}
	for i := range want {
		if strings.Join(records[i], "|") != strings.Join(want[i], "|") {
			t.Errorf("row %d = %v, want %v", i, records[i], want[i])
		}
	}
}

func TestExportCommand_Errors(t *testing.T) {
	dir := writeBook(t)
	if _, err := execute(t, NewExportCommand(), "", "--state-dir", dir, "--format", "xml"); err == nil {
		t.Error("export accepted an unknown format")
	}
	if _, err := execute(t, NewExportCommand(), "", "--state-dir", dir, "--sort", "name"); err == nil {
		t.Error("export accepted an unknown sort order")
	}
}
