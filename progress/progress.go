package progress

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pterm/pterm"

	"github.com/dhcgn/mbox-contacts/stats"
)

// Bar manages a progress bar for tracking message processing.
type Bar struct {
	pb             *pterm.ProgressbarPrinter
	total          int
	alreadyDone    int
	currentScanned int
	newContacts    int
	mu             sync.Mutex
	enabled        bool
}

// New creates a new progress bar if logLevel is "info". A total of zero or
// less means the message count is unknown, as for IMAP folders before SELECT.
func New(total int, alreadyDone int, logLevel string) *Bar {
	enabled := logLevel == "info" && total > 0

	bar := &Bar{
		total:       total,
		alreadyDone: alreadyDone,
		enabled:     enabled,
	}

	if enabled {
		pb, _ := pterm.DefaultProgressbar.
			WithTotal(total).
			WithTitle("Collecting participants").
			Start()

		bar.pb = pb

		pterm.Info.Printf("Total messages: %d\n", total)
		pterm.Info.Printf("Already processed: %d\n", alreadyDone)
		pterm.Println()
	}

	return bar
}

// Update advances the bar once per scanned message.
func (b *Bar) Update(evt stats.Event) {
	if !b.enabled || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch evt.Type {
	case stats.EventTypeScanned:
		b.currentScanned++
		b.pb.Increment()
	case stats.EventTypeParticipant:
		b.newContacts++
		b.pb.UpdateTitle(fmt.Sprintf("New: %s (%d)", truncate(evt.Detail, 40), b.newContacts))
	case stats.EventTypeError:
		if evt.Err != nil {
			pterm.Error.Printf("Error: %v\n", evt.Err)
		}
	}
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-3]) + "..."
}

// Stop finalizes the progress bar.
func (b *Bar) Stop() {
	if !b.enabled || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pb.Current < b.total {
		b.pb.Current = b.total
	}

	_, _ = b.pb.Stop()
	pterm.Success.Println("Scan complete!")
}

// Subscriber creates a stats subscriber function that updates the progress bar.
func (b *Bar) Subscriber(ctx context.Context, events <-chan stats.Event) error {
	defer b.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			b.Update(evt)
		}
	}
}

// Reporter prints the pterm summary once the pipeline's events are drained.
type Reporter struct {
	bar       *Bar
	collector *stats.Collector
	logger    *slog.Logger
	started   time.Time
}

// NewReporter subscribes the bar and a summary printer when the bar is
// enabled. Otherwise the plain stats.Reporter log line is the only output.
func NewReporter(stream stats.EventStream, bar *Bar, logger *slog.Logger) *Reporter {
	reporter := &Reporter{
		bar:       bar,
		collector: stats.NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}

	if bar != nil && bar.enabled {
		stream.SubscribeStats("progress-bar", bar.Subscriber)
		stream.SubscribeStats("progress-stats", reporter.collectStats)
	}

	return reporter
}

func (pr *Reporter) collectStats(ctx context.Context, events <-chan stats.Event) error {
	pr.collector.Run(ctx, events)

	pterm.Println()
	pterm.DefaultSection.Println("Summary")
	for _, line := range SummaryLines(pr.collector.Snapshot(), time.Since(pr.started)) {
		pterm.Info.Println(line)
	}
	if last := pr.collector.Snapshot().LastError; last != nil {
		pterm.Error.Printf("Last error: %v\n", last)
	}

	return nil
}

// SummaryLines renders a summary for the terminal.
func SummaryLines(s stats.Summary, duration time.Duration) []string {
	return []string{
		fmt.Sprintf("Duration: %v", duration.Round(time.Millisecond)),
		fmt.Sprintf("Messages scanned: %d", s.Scanned),
		fmt.Sprintf("Duplicates (skipped): %d", s.Duplicates),
		fmt.Sprintf("New participants: %d", s.Participants),
		fmt.Sprintf("Known participants: %d", s.Known),
		fmt.Sprintf("Filtered participants: %d", s.Filtered),
		fmt.Sprintf("Errors: %d", s.Errors),
	}
}
