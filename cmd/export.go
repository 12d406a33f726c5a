package cmd

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dhcgn/mbox-contacts/address"
	"github.com/dhcgn/mbox-contacts/config"
	"github.com/dhcgn/mbox-contacts/state"
)

const (
	formatJSON = "json"
	formatYAML = "yaml"
	formatCSV  = "csv"
)

type exportOptions struct {
	stateDir string
	format   string
	output   string
	sortBy   string
	minCount int
	decoded  bool
}

// exportRecord is one address book entry as written by the export command.
type exportRecord struct {
	Address   address.Address `json:"address" yaml:"address"`
	Count     int             `json:"count" yaml:"count"`
	FirstSeen time.Time       `json:"first_seen,omitzero" yaml:"first_seen,omitempty"`
	LastSeen  time.Time       `json:"last_seen,omitzero" yaml:"last_seen,omitempty"`
}

// NewExportCommand writes the address book kept in the state directory.
func NewExportCommand() *cobra.Command {
	opts := &exportOptions{}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the collected address book as JSON, YAML or CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			if opts.output != "" && opts.output != "-" {
				file, err := os.Create(opts.output)
				if err != nil {
					return fmt.Errorf("create output: %w", err)
				}
				defer file.Close()
				w = file
			}
			return runExport(w, opts)
		},
	}

	defaultStateDir, err := config.DefaultStateDir()
	if err != nil {
		defaultStateDir = ""
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.stateDir, "state-dir", defaultStateDir, "Directory holding addressbook.jsonl")
	flags.StringVarP(&opts.format, "format", "f", formatJSON, "Output format: json, yaml or csv")
	flags.StringVarP(&opts.output, "output", "o", "", "Output file (default stdout)")
	flags.StringVar(&opts.sortBy, "sort", "first-seen", "Order: first-seen, last-seen, count or email")
	flags.IntVar(&opts.minCount, "min-count", 1, "Only export participants seen at least this often")
	flags.BoolVar(&opts.decoded, "decoded", false, "Write decoded display names instead of the raw header text")

	return cmd
}

func runExport(w io.Writer, opts *exportOptions) error {
	if strings.TrimSpace(opts.stateDir) == "" {
		return fmt.Errorf("--state-dir is required")
	}

	entries, err := state.LoadBook(opts.stateDir)
	if err != nil {
		return fmt.Errorf("load address book: %w", err)
	}

	records := make([]exportRecord, 0, len(entries))
	for _, e := range entries {
		if e.Count < opts.minCount {
			continue
		}
		addr := e.Address
		if opts.decoded {
			addr = address.New(addr.DecodedName(), addr.Email())
		}
		records = append(records, exportRecord{Address: addr, Count: e.Count, FirstSeen: e.FirstSeen, LastSeen: e.LastSeen})
	}

	if err := sortRecords(records, opts.sortBy); err != nil {
		return err
	}

	switch strings.ToLower(opts.format) {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(records); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	case formatCSV:
		return writeCSVRecords(w, records)
	default:
		return fmt.Errorf("unknown --format %q", opts.format)
	}
}

func sortRecords(records []exportRecord, by string) error {
	var less func(a, b exportRecord) bool
	switch by {
	case "", "first-seen":
		less = func(a, b exportRecord) bool { return a.FirstSeen.Before(b.FirstSeen) }
	case "last-seen":
		less = func(a, b exportRecord) bool { return a.LastSeen.After(b.LastSeen) }
	case "count":
		less = func(a, b exportRecord) bool { return a.Count > b.Count }
	case "email":
		less = func(a, b exportRecord) bool { return a.Address.Email() < b.Address.Email() }
	default:
		return fmt.Errorf("unknown --sort %q", by)
	}
	sort.SliceStable(records, func(i, j int) bool { return less(records[i], records[j]) })
	return nil
}

func writeCSVRecords(w io.Writer, records []exportRecord) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"Name", "Email", "Count", "First Seen", "Last Seen"}); err != nil {
		return err
	}
	for _, r := range records {
		record := []string{
			r.Address.Name(),
			r.Address.Email(),
			strconv.Itoa(r.Count),
			formatTime(r.FirstSeen),
			formatTime(r.LastSeen),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
