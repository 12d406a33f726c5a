package cmd

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/dhcgn/mbox-contacts/filter"
	"github.com/dhcgn/mbox-contacts/model"
)

func saveCSVReports(counter *participantCounter, roles []model.Role, dir string, limit int) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	for _, role := range roles {
		filename := fmt.Sprintf("report_%s.csv", normalizeHeaderName(string(role)))
		if err := writeCSVReport(filepath.Join(dir, filename), counter.rows(role), limit); err != nil {
			return err
		}
	}

	return nil
}

func writeCSVReport(path string, rows []participantRow, limit int) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"Name", "Email", "Count"}); err != nil {
		return err
	}

	for i := 0; i < limit && i < len(rows); i++ {
		record := []string{
			rows[i].Address.DecodedName(),
			rows[i].Address.Email(),
			strconv.Itoa(rows[i].Count),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}
	return file.Close()
}

func normalizeHeaderName(header string) string {
	name := strings.ToLower(header)
	name = strings.ReplaceAll(name, "-", "_")
	name = strings.ReplaceAll(name, " ", "_")
	return name
}

func formatHeaders(headers map[string][]string) string {
	var sb strings.Builder
	for key, values := range headers {
		for _, value := range values {
			sb.WriteString(key)
			sb.WriteString(": ")
			sb.WriteString(value)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func printFilterHits(w io.Writer, hits []filter.PatternHits) {
	sorted := append([]filter.PatternHits(nil), hits...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Kind != sorted[j].Kind {
			return sorted[i].Kind < sorted[j].Kind
		}
		if sorted[i].Hits != sorted[j].Hits {
			return sorted[i].Hits > sorted[j].Hits
		}
		return sorted[i].Pattern < sorted[j].Pattern
	})

	kind := ""
	for _, h := range sorted {
		if h.Kind != kind {
			if kind != "" {
				fmt.Fprintln(w)
			}
			kind = h.Kind
			fmt.Fprintf(w, "%s filters:\n", kind)
		}
		if h.Hits > 0 {
			fmt.Fprintf(w, "  ✓ %s: %d hits\n", h.Pattern, h.Hits)
		} else {
			fmt.Fprintf(w, "  ✗ %s: 0 hits\n", h.Pattern)
		}
	}
	fmt.Fprintln(w)
}
