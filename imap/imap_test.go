package imap

import (
	"strings"
	"testing"
	"time"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/dhcgn/mbox-contacts/address"
	"github.com/dhcgn/mbox-contacts/model"
)

func TestFromEnvelope(t *testing.T) {
	tests := []struct {
		name      string
		in        imapv2.Address
		wantOK    bool
		wantName  string
		wantEmail string
	}{
		{"plain", imapv2.Address{Name: "Alice", Mailbox: "alice", Host: "example.com"}, true, "Alice", "alice@example.com"},
		{"encoded name kept", imapv2.Address{Name: "=?UTF-8?Q?Jos=C3=A9?=", Mailbox: "jose", Host: "example.org"}, true, "=?UTF-8?Q?Jos=C3=A9?=", "jose@example.org"},
		{"decoded name kept", imapv2.Address{Name: "José García", Mailbox: "jose", Host: "example.org"}, true, "José García", "jose@example.org"},
		{"group start", imapv2.Address{Mailbox: "undisclosed-recipients"}, false, "", ""},
		{"group end", imapv2.Address{}, false, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := FromEnvelope(tt.in)
			if ok != tt.wantOK {
				t.Fatalf("FromEnvelope() ok = %v, want %v", ok, tt.wantOK)
			}
			if got.Name() != tt.wantName || got.Email() != tt.wantEmail {
				t.Errorf("FromEnvelope() = %q <%s>, want %q <%s>", got.Name(), got.Email(), tt.wantName, tt.wantEmail)
			}
		})
	}
}

func TestFromEnvelope_DecodedNameUnchanged(t *testing.T) {
	got, ok := FromEnvelope(imapv2.Address{Name: "Jürgen =?x?Q?y?= Müller", Mailbox: "j", Host: "example.de"})
	if !ok {
		t.Fatal("FromEnvelope() ok = false")
	}
	if name := got.DecodedName(); name != got.Name() {
		t.Errorf("DecodedName() = %q, want %q", name, got.Name())
	}
}

func TestEnvelopeWordDecoder(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"=?UTF-8?Q?Jos=C3=A9?=", "José"},
		{"=?KOI8-R?B?8NLJ18XU?=", "Привет"},
		{"=?windows-1252?Q?=80uro?=", "€uro"},
		{"=?gb2312?B?xOO6ww==?=", "你好"},
	}
	for _, tt := range tests {
		got, err := envelopeWordDecoder.DecodeHeader(tt.in)
		if err != nil {
			t.Errorf("DecodeHeader(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("DecodeHeader(%q) = %q, want %q", tt.in, got, tt.want)
		}
		if again := address.DecodeWords(got); again != got {
			t.Errorf("DecodeWords(%q) = %q, want it unchanged", got, again)
		}
	}
}

func TestParticipants(t *testing.T) {
	env := &imapv2.Envelope{
		From:    []imapv2.Address{{Name: "Alice", Mailbox: "alice", Host: "example.com"}},
		ReplyTo: []imapv2.Address{{Mailbox: "noreply", Host: "example.com"}},
		To: []imapv2.Address{
			{Mailbox: "team"},
			{Name: "Bob", Mailbox: "bob", Host: "example.com"},
			{},
		},
		Bcc: []imapv2.Address{{Mailbox: "carol", Host: "example.net"}},
	}

	got := Participants(env)
	want := []struct {
		role  model.Role
		email string
	}{
		{model.RoleFrom, "alice@example.com"},
		{model.RoleReplyTo, "noreply@example.com"},
		{model.RoleTo, "bob@example.com"},
		{model.RoleBcc, "carol@example.net"},
	}
	if len(got) != len(want) {
		t.Fatalf("Participants() = %v, want %d entries", got, len(want))
	}
	for i, w := range want {
		if got[i].Role != w.role || got[i].Address.Email() != w.email {
			t.Errorf("participant %d = %s %s, want %s %s", i, got[i].Role, got[i].Address.Email(), w.role, w.email)
		}
	}
}

func TestMessageFromBuffer(t *testing.T) {
	sent := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	received := sent.Add(time.Minute)

	buf := &imapclient.FetchMessageBuffer{
		SeqNum:       7,
		UID:          42,
		InternalDate: received,
		RFC822Size:   2048,
		Envelope: &imapv2.Envelope{
			Date:      sent,
			MessageID: "<abc@example.com>",
			From:      []imapv2.Address{{Mailbox: "alice", Host: "example.com"}},
		},
	}

	msg, err := messageFromBuffer("imap.example.com", "INBOX", 1, buf)
	if err != nil {
		t.Fatalf("messageFromBuffer error = %v", err)
	}
	if msg.ID != "abc@example.com" {
		t.Errorf("ID = %q, want abc@example.com", msg.ID)
	}
	if msg.Mailbox != "INBOX" || msg.Size != 2048 || !msg.Date.Equal(sent) {
		t.Errorf("message = %+v", msg)
	}
	if len(msg.Participants) != 1 {
		t.Errorf("Participants = %v", msg.Participants)
	}

	again, _ := messageFromBuffer("imap.example.com", "INBOX", 1, buf)
	if again.Hash != msg.Hash || msg.Hash == "" {
		t.Errorf("hash is not stable: %q vs %q", msg.Hash, again.Hash)
	}
	other, _ := messageFromBuffer("imap.example.com", "INBOX", 2, buf)
	if other.Hash == msg.Hash {
		t.Error("hash ignores UIDVALIDITY")
	}

	buf.Envelope.MessageID = ""
	buf.Envelope.Date = time.Time{}
	fallback, _ := messageFromBuffer("imap.example.com", "INBOX", 1, buf)
	if fallback.ID != "uid:42" {
		t.Errorf("ID = %q, want uid:42", fallback.ID)
	}
	if !fallback.Date.Equal(received) {
		t.Errorf("Date = %v, want the internal date %v", fallback.Date, received)
	}

	if _, err := messageFromBuffer("h", "INBOX", 1, &imapclient.FetchMessageBuffer{SeqNum: 3}); err == nil || !strings.Contains(err.Error(), "no envelope") {
		t.Errorf("missing envelope error = %v", err)
	}
}

func TestNewSource_Validation(t *testing.T) {
	if _, err := NewSource(Options{Port: 993}, nil, nil); err == nil {
		t.Error("NewSource without host succeeded")
	}
	if _, err := NewSource(Options{Host: "h"}, nil, nil); err == nil {
		t.Error("NewSource without port succeeded")
	}

	s, err := NewSource(Options{Host: "h", Port: 993}, nil, nil)
	if err != nil {
		t.Fatalf("NewSource error = %v", err)
	}
	if s.opts.BatchSize != DefaultBatchSize {
		t.Errorf("BatchSize = %d, want %d", s.opts.BatchSize, DefaultBatchSize)
	}
	if s.folder() != "INBOX" {
		t.Errorf("folder() = %q, want INBOX", s.folder())
	}
}
