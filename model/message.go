package model

import (
	"time"

	"github.com/dhcgn/mbox-contacts/address"
)

// Role is the header a participant was found in.
type Role string

const (
	RoleFrom    Role = "from"
	RoleSender  Role = "sender"
	RoleReplyTo Role = "reply-to"
	RoleTo      Role = "to"
	RoleCc      Role = "cc"
	RoleBcc     Role = "bcc"
)

// RoleForHeader maps a header field name to its Role.
func RoleForHeader(field string) Role {
	switch field {
	case "From":
		return RoleFrom
	case "Sender":
		return RoleSender
	case "Reply-To":
		return RoleReplyTo
	case "To":
		return RoleTo
	case "Cc":
		return RoleCc
	case "Bcc":
		return RoleBcc
	}
	return Role(field)
}

// Participant is an address seen in a message header.
type Participant struct {
	Role    Role
	Address address.Address
}

// Message represents the participant view of a single email message,
// extracted from an mbox archive or an IMAP envelope.
type Message struct {
	ID           string
	Mailbox      string
	Hash         string
	Date         time.Time
	Size         int64
	Participants []Participant
}

// Addresses returns the participants' addresses without duplicates.
func (m Message) Addresses() []address.Address {
	addrs := make([]address.Address, 0, len(m.Participants))
	for _, p := range m.Participants {
		addrs = append(addrs, p.Address)
	}
	return address.Dedupe(addrs)
}

// Envelope wraps a message alongside an optional error encountered while decoding.
type Envelope struct {
	Message Message
	Err     error
}
