package mbox

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/emersion/go-imap/utf7"
	mboxlib "github.com/emersion/go-mbox"

	"github.com/dhcgn/mbox-contacts/filter"
	"github.com/dhcgn/mbox-contacts/header"
	"github.com/dhcgn/mbox-contacts/model"
	"github.com/dhcgn/mbox-contacts/runner"
)

var ErrEmptyPath = errors.New("mbox path is empty")

type Options struct {
	Path          string
	IncludeHeader []string
	IncludeBody   []string
	ExcludeHeader []string
	ExcludeBody   []string
}

type Reader interface {
	Stream(ctx context.Context, out chan<- model.Envelope) error
}

func NewReader(opts Options, logger *slog.Logger) (Reader, error) {
	path := strings.TrimSpace(opts.Path)
	if path == "" {
		return nil, ErrEmptyPath
	}

	f, err := filter.New(filter.Options{
		IncludeHeader: opts.IncludeHeader,
		IncludeBody:   opts.IncludeBody,
		ExcludeHeader: opts.ExcludeHeader,
		ExcludeBody:   opts.ExcludeBody,
	})
	if err != nil {
		return nil, err
	}

	return &fileReader{path: path, logger: logger, filter: f}, nil
}

type fileReader struct {
	path   string
	logger *slog.Logger
	filter *filter.Filter
}

func (f *fileReader) Stream(ctx context.Context, out chan<- model.Envelope) error {
	return forEachMailbox(f.path, f.logger, func(mailbox string, r io.Reader) error {
		reader := mboxlib.NewReader(r)
		for idx := 0; ; idx++ {
			if err := ctx.Err(); err != nil {
				return err
			}

			msgReader, err := reader.NextMessage()
			if err != nil {
				if errors.Is(err, io.EOF) {
					return nil
				}
				return f.emitError(ctx, out, fmt.Errorf("%s message %d: %w", mailbox, idx, err))
			}

			raw, err := io.ReadAll(msgReader)
			if err != nil {
				return f.emitError(ctx, out, fmt.Errorf("%s message %d read: %w", mailbox, idx, err))
			}

			head, body := filter.SplitRawMessage(raw)
			if !f.filter.Allows(head, body) {
				continue
			}

			msg, err := parseMail(raw)
			if err != nil {
				if err := f.emitError(ctx, out, fmt.Errorf("%s message %d parse: %w", mailbox, idx, err)); err != nil {
					return err
				}
				continue
			}
			msg.Mailbox = mailbox

			if err := f.emitEnvelope(ctx, out, model.Envelope{Message: msg}); err != nil {
				return err
			}
		}
	})
}

func (f *fileReader) emitError(ctx context.Context, out chan<- model.Envelope, err error) error {
	if f.logger != nil {
		f.logger.Error("mbox stream error", "path", f.path, "err", err)
	}
	if err := f.emitEnvelope(ctx, out, model.Envelope{Err: err}); err != nil {
		return err
	}
	return nil
}

func (f *fileReader) emitEnvelope(ctx context.Context, out chan<- model.Envelope, env model.Envelope) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case out <- env:
		return nil
	}
}

// forEachMailbox calls fn once for path, or once per regular file when path is
// a directory. Directory entries are named in IMAP modified UTF-7, as written
// by IMAP export tools.
func forEachMailbox(path string, logger *slog.Logger, fn func(mailbox string, r io.Reader) error) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("open mbox: %w", err)
	}
	if !info.IsDir() {
		return readMailbox(path, mailboxName(filepath.Base(path), logger), fn)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return fmt.Errorf("read mbox directory: %w", err)
	}
	for _, entry := range entries {
		if !entry.Type().IsRegular() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		name := mailboxName(entry.Name(), logger)
		if err := readMailbox(filepath.Join(path, entry.Name()), name, fn); err != nil {
			return err
		}
	}
	return nil
}

func readMailbox(path, mailbox string, fn func(mailbox string, r io.Reader) error) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()
	return fn(mailbox, file)
}

func mailboxName(fileName string, logger *slog.Logger) string {
	name := strings.TrimSuffix(fileName, ".mbox")
	decoded, err := utf7.Encoding.NewDecoder().String(name)
	if err != nil {
		if logger != nil {
			logger.Warn("mailbox name is not IMAP UTF-7", "file", fileName, "err", err)
		}
		return name
	}
	return decoded
}

func parseMail(raw []byte) (model.Message, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return model.Message{}, err
	}

	sum := sha256.Sum256(raw)
	hash := base64.StdEncoding.EncodeToString(sum[:])

	id := strings.TrimSpace(msg.Header.Get("Message-Id"))
	id = strings.Trim(id, " <>")
	if id == "" {
		id = "sha256:" + hash
	}

	var date time.Time
	if value := msg.Header.Get("Date"); value != "" {
		if t, err := mail.ParseDate(value); err == nil {
			date = t
		}
	}

	return model.Message{
		ID:           id,
		Hash:         hash,
		Date:         date,
		Size:         int64(len(raw)),
		Participants: Participants(msg.Header),
	}, nil
}

// Participants extracts every address from the address headers of h. Display
// names are kept raw.
func Participants(h mail.Header) []model.Participant {
	var out []model.Participant
	for _, field := range header.AddressFields {
		role := model.RoleForHeader(field)
		for _, value := range h[field] {
			for _, addr := range header.ParseList(value) {
				out = append(out, model.Participant{Role: role, Address: addr})
			}
		}
	}
	return out
}

type Producer struct {
	reader Reader
	runner *runner.Runner
}

func NewProducer(opts Options, r *runner.Runner, logger *slog.Logger) (*Producer, error) {
	reader, err := NewReader(opts, logger)
	if err != nil {
		return nil, err
	}
	producer := &Producer{reader: reader, runner: r}
	r.AddStage("mbox", producer.run)
	return producer, nil
}

func (p *Producer) run(ctx context.Context) error {
	defer p.runner.CloseMailbox()
	return p.reader.Stream(ctx, p.runner.MailboxWriter())
}

// MboxMessage represents a single message from an mbox file for stats.
type MboxMessage struct {
	Mailbox      string
	Headers      mail.Header
	Body         []byte
	Participants []model.Participant
}

// Read opens an mbox file or directory and iterates through its messages,
// calling the provided callback for each message.
func Read(path string, callback func(m *MboxMessage) error) error {
	return forEachMailbox(path, nil, func(mailbox string, r io.Reader) error {
		reader := mboxlib.NewReader(r)
		for {
			msgReader, err := reader.NextMessage()
			if err != nil {
				if errors.Is(err, io.EOF) {
					return nil
				}
				return err
			}

			msg, err := mail.ReadMessage(msgReader)
			if err != nil {
				// try to continue
				continue
			}

			body, err := io.ReadAll(msg.Body)
			if err != nil {
				// try to continue
				continue
			}

			mboxMsg := &MboxMessage{
				Mailbox:      mailbox,
				Headers:      msg.Header,
				Body:         body,
				Participants: Participants(msg.Header),
			}

			if err := callback(mboxMsg); err != nil {
				return err
			}
		}
	})
}

// CountMessages counts the total number of messages in an mbox file or directory.
func CountMessages(path string) (int, error) {
	count := 0
	err := forEachMailbox(path, nil, func(_ string, r io.Reader) error {
		reader := mboxlib.NewReader(r)
		for {
			msgReader, err := reader.NextMessage()
			if err != nil {
				if errors.Is(err, io.EOF) {
					return nil
				}
				return err
			}

			// Continue counting even if we can't read this message
			_, _ = io.Copy(io.Discard, msgReader)
			count++
		}
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}
