package imap

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"strconv"
	"strings"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/dhcgn/mbox-contacts/address"
	"github.com/dhcgn/mbox-contacts/model"
	"github.com/dhcgn/mbox-contacts/runner"
)

const DefaultBatchSize = 200

// envelopeWordDecoder is handed to the client, which decodes envelope names
// itself. It accepts the same charsets as address.DecodeWords.
var envelopeWordDecoder = &mime.WordDecoder{CharsetReader: address.CharsetReader}

type Options struct {
	Host               string
	Port               int
	Username           string
	Password           string
	UseTLS             bool
	InsecureSkipVerify bool
	Folder             string
	BatchSize          int
}

// Source reads message envelopes from an IMAP folder. Bodies are never
// downloaded.
type Source struct {
	opts   Options
	runner *runner.Runner
	logger *slog.Logger
}

func NewSource(opts Options, r *runner.Runner, logger *slog.Logger) (*Source, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("imap host is empty")
	}
	if opts.Port <= 0 {
		return nil, fmt.Errorf("imap port must be positive")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	source := &Source{opts: opts, runner: r, logger: logger}
	if r != nil {
		r.AddStage("imap", source.run)
	}
	return source, nil
}

func (s *Source) run(ctx context.Context) error {
	defer s.runner.CloseMailbox()
	return s.Stream(ctx, s.runner.MailboxWriter())
}

// Stream selects the folder read-only and emits one envelope per message.
func (s *Source) Stream(ctx context.Context, out chan<- model.Envelope) error {
	client, cleanup, err := s.dial(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	folder := s.folder()
	selected, err := client.Select(folder, &imapv2.SelectOptions{ReadOnly: true}).Wait()
	if err != nil {
		return fmt.Errorf("select %s: %w", folder, err)
	}
	if s.logger != nil {
		s.logger.Info("imap folder selected", "folder", folder, "messages", selected.NumMessages, "uidValidity", selected.UIDValidity)
	}

	fetchOptions := &imapv2.FetchOptions{
		Envelope:     true,
		UID:          true,
		InternalDate: true,
		RFC822Size:   true,
	}

	batch := uint32(s.opts.BatchSize)
	for start := uint32(1); start <= selected.NumMessages; start += batch {
		stop := min(start+batch-1, selected.NumMessages)

		var seqSet imapv2.SeqSet
		seqSet.AddRange(start, stop)

		buffers, err := client.Fetch(seqSet, fetchOptions).Collect()
		if err != nil {
			return fmt.Errorf("fetch envelopes %d:%d: %w", start, stop, err)
		}

		for _, buf := range buffers {
			msg, err := messageFromBuffer(s.opts.Host, folder, selected.UIDValidity, buf)
			env := model.Envelope{Message: msg}
			if err != nil {
				env = model.Envelope{Err: err}
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case out <- env:
			}
		}
	}

	return nil
}

func (s *Source) dial(ctx context.Context) (*imapclient.Client, func(), error) {
	addr := net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))
	options := &imapclient.Options{WordDecoder: envelopeWordDecoder}

	if s.opts.UseTLS {
		options.TLSConfig = &tls.Config{
			ServerName:         s.opts.Host,
			InsecureSkipVerify: s.opts.InsecureSkipVerify,
		}
	}

	var (
		client *imapclient.Client
		err    error
	)

	if s.opts.UseTLS {
		client, err = imapclient.DialTLS(addr, options)
	} else {
		client, err = imapclient.DialInsecure(addr, options)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("dial imap %s: %w", addr, err)
	}

	if err := client.Login(s.opts.Username, s.opts.Password).Wait(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("imap login failed: %w", err)
	}

	if s.logger != nil {
		s.logger.Debug("imap connection established", "address", addr, "user", s.opts.Username, "tls", s.opts.UseTLS)
	}

	stopClose := context.AfterFunc(ctx, func() {
		_ = client.Close()
	})

	cleanup := func() {
		stopClose()
		if ctx.Err() == nil {
			if err := client.Logout().Wait(); err != nil {
				if s.logger != nil {
					s.logger.Warn("imap logout failed", "err", err)
				}
			}
		}
		if err := client.Close(); err != nil && s.logger != nil {
			s.logger.Debug("imap connection closed", "err", err)
		}
	}

	return client, cleanup, nil
}

func (s *Source) folder() string {
	if s.opts.Folder == "" {
		return "INBOX"
	}
	return s.opts.Folder
}

func messageFromBuffer(host, folder string, uidValidity uint32, buf *imapclient.FetchMessageBuffer) (model.Message, error) {
	if buf.Envelope == nil {
		return model.Message{}, fmt.Errorf("%s message %d: server sent no envelope", folder, buf.SeqNum)
	}
	env := buf.Envelope

	// UIDs are only stable together with the folder's UIDVALIDITY.
	sum := sha256.Sum256([]byte(fmt.Sprintf("imap\x00%s\x00%s\x00%d\x00%d", host, folder, uidValidity, buf.UID)))
	hash := base64.StdEncoding.EncodeToString(sum[:])

	id := strings.Trim(strings.TrimSpace(env.MessageID), "<>")
	if id == "" {
		id = fmt.Sprintf("uid:%d", buf.UID)
	}

	date := env.Date
	if date.IsZero() {
		date = buf.InternalDate
	}

	return model.Message{
		ID:           id,
		Mailbox:      folder,
		Hash:         hash,
		Date:         date,
		Size:         buf.RFC822Size,
		Participants: Participants(env),
	}, nil
}

// Participants lists the envelope addresses in header order.
func Participants(env *imapv2.Envelope) []model.Participant {
	fields := []struct {
		role  model.Role
		addrs []imapv2.Address
	}{
		{model.RoleFrom, env.From},
		{model.RoleSender, env.Sender},
		{model.RoleReplyTo, env.ReplyTo},
		{model.RoleTo, env.To},
		{model.RoleCc, env.Cc},
		{model.RoleBcc, env.Bcc},
	}

	var out []model.Participant
	for _, field := range fields {
		for _, a := range field.addrs {
			addr, ok := FromEnvelope(a)
			if !ok {
				continue
			}
			out = append(out, model.Participant{Role: field.role, Address: addr})
		}
	}
	return out
}

// FromEnvelope converts an envelope address. Group start and end markers have
// no host and are reported as not ok. The client has usually decoded the name
// already; DecodedName leaves decoded text unchanged.
func FromEnvelope(a imapv2.Address) (address.Address, bool) {
	if a.Mailbox == "" || a.Host == "" {
		return address.Empty(), false
	}
	return address.New(a.Name, a.Addr()), true
}
