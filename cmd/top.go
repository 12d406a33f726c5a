package cmd

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mbox-contacts/address"
	"github.com/dhcgn/mbox-contacts/filter"
	"github.com/dhcgn/mbox-contacts/mbox"
	"github.com/dhcgn/mbox-contacts/model"
	"github.com/dhcgn/mbox-contacts/stats"
)

// roleAll counts a participant regardless of the header it was found in.
const roleAll model.Role = "all"

var trackedRoles = []model.Role{roleAll, model.RoleFrom, model.RoleTo, model.RoleCc}

type topOptions struct {
	reportDir string
	topN      int
	csvLimit  int
	filter    filter.Options
}

// NewTopCommand ranks the participants of an mbox archive without touching
// the address book.
func NewTopCommand() *cobra.Command {
	opts := &topOptions{}

	cmd := &cobra.Command{
		Use:   "top [mbox path]",
		Short: "Rank the participants of an mbox file or directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTop(cmd.OutOrStdout(), args[0], opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.reportDir, "output", "o", ".", "Output directory for CSV reports")
	flags.IntVarP(&opts.topN, "top", "t", 10, "Number of top participants to display per header")
	flags.IntVar(&opts.csvLimit, "csv-limit", 1000, "Maximum rows per CSV report")
	flags.StringArrayVar(&opts.filter.IncludeHeader, "include-header", nil, "Regex allow-list applied to message headers (mutually exclusive with exclude flags)")
	flags.StringArrayVar(&opts.filter.IncludeBody, "include-body", nil, "Regex allow-list applied to message bodies (mutually exclusive with exclude flags)")
	flags.StringArrayVar(&opts.filter.ExcludeHeader, "exclude-header", nil, "Regex block-list applied to message headers (mutually exclusive with include flags)")
	flags.StringArrayVar(&opts.filter.ExcludeBody, "exclude-body", nil, "Regex block-list applied to message bodies (mutually exclusive with include flags)")
	flags.StringArrayVar(&opts.filter.IncludeAddress, "include-address", nil, "Regex allow-list applied to participant emails and decoded names")
	flags.StringArrayVar(&opts.filter.ExcludeAddress, "exclude-address", nil, "Regex block-list applied to participant emails and decoded names")

	return cmd
}

func runTop(w io.Writer, path string, opts *topOptions) error {
	f, err := filter.New(opts.filter)
	if err != nil {
		return fmt.Errorf("create filter: %w", err)
	}

	counter := newParticipantCounter()
	messageCount := 0
	skippedCount := 0

	err = mbox.Read(path, func(m *mbox.MboxMessage) error {
		if !f.Allows([]byte(formatHeaders(m.Headers)), m.Body) {
			skippedCount++
			return nil
		}

		messageCount++
		for _, p := range m.Participants {
			if f.AllowsAddress(p.Address) {
				counter.add(p)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("error reading mbox: %w", err)
	}

	totalMessages := messageCount + skippedCount
	var filterPercent float64
	if totalMessages > 0 {
		filterPercent = float64(skippedCount) / float64(totalMessages) * 100
	}
	fmt.Fprintf(w, "Processed %d messages (skipped %d by filters, %.2f%%)\n\n", messageCount, skippedCount, filterPercent)

	if hits := f.Stats(); len(hits) > 0 {
		printFilterHits(w, hits)
		fmt.Fprintln(w, "---")
		fmt.Fprintln(w)
	}

	for _, role := range trackedRoles {
		fmt.Fprintf(w, "Top %d %s:\n", opts.topN, role)
		stats.PrettyPrintTop(w, counter.labels(role), opts.topN)
		fmt.Fprintln(w)
	}

	if err := saveCSVReports(counter, trackedRoles, opts.reportDir, opts.csvLimit); err != nil {
		return fmt.Errorf("error saving CSV reports: %w", err)
	}
	fmt.Fprintf(w, "Reports saved to directory: %s\n", opts.reportDir)

	return nil
}

type participantRow struct {
	Address address.Address
	Count   int
}

// participantCounter counts participants per role by address.Key. The first
// non-empty display name seen for a key is the one reported.
type participantCounter struct {
	seen   map[model.Role]*address.Set
	counts map[model.Role]map[address.Key]int
}

func newParticipantCounter() *participantCounter {
	return &participantCounter{
		seen:   make(map[model.Role]*address.Set),
		counts: make(map[model.Role]map[address.Key]int),
	}
}

func (c *participantCounter) add(p model.Participant) {
	for _, role := range []model.Role{roleAll, p.Role} {
		if c.seen[role] == nil {
			c.seen[role] = address.NewSet()
			c.counts[role] = make(map[address.Key]int)
		}
		c.seen[role].Add(p.Address)
		c.counts[role][p.Address.Key()]++
	}
}

// rows returns the participants of role ordered by count, then email.
func (c *participantCounter) rows(role model.Role) []participantRow {
	set := c.seen[role]
	if set == nil {
		return nil
	}

	rows := make([]participantRow, 0, set.Len())
	for _, a := range set.Addresses() {
		rows = append(rows, participantRow{Address: a, Count: c.counts[role][a.Key()]})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Count != rows[j].Count {
			return rows[i].Count > rows[j].Count
		}
		return rows[i].Address.Email() < rows[j].Address.Email()
	})
	return rows
}

func (c *participantCounter) labels(role model.Role) map[string]int {
	labels := make(map[string]int)
	for _, row := range c.rows(role) {
		labels[displayAddress(row.Address)] = row.Count
	}
	return labels
}

// displayAddress renders a with its decoded name.
func displayAddress(a address.Address) string {
	return address.New(a.DecodedName(), a.Email()).String()
}
