// Package address models a single mail participant: an address-spec paired
// with an optional display name as it appeared in a header.
package address

import (
	"log/slog"
	"strings"
)

// Address is an email participant. The zero value is the empty address.
//
// The name is stored raw and may carry RFC 2047 encoded-words; use
// DecodedName for display. Address is not safe for concurrent mutation.
type Address struct {
	name  string
	email string
}

// Key identifies an address for deduplication. Two addresses that are Equal
// have the same Key.
type Key string

// Empty returns an address with an empty name and email.
func Empty() Address {
	return Address{}
}

// New returns an address holding name and email verbatim.
func New(name, email string) Address {
	return Address{name: name, email: email}
}

// Name returns the raw display name.
func (a Address) Name() string { return a.name }

// SetName replaces the raw display name.
func (a *Address) SetName(name string) { a.name = name }

// Email returns the address-spec.
func (a Address) Email() string { return a.email }

// SetEmail replaces the address-spec.
func (a *Address) SetEmail(email string) { a.email = email }

// DecodedName returns the display name with any encoded-words decoded.
// Tokens that cannot be decoded are kept as they are.
func (a Address) DecodedName() string {
	return DecodeWords(a.name)
}

// IsEmpty reports whether both fields are empty.
func (a Address) IsEmpty() bool {
	return a.name == "" && a.email == ""
}

// Equal reports whether a and other refer to the same mailbox. Display names
// are ignored; the domain is compared case-insensitively and the local part
// exactly.
func (a Address) Equal(other Address) bool {
	return a.Key() == other.Key()
}

// Key returns the deduplication fingerprint of the address.
func (a Address) Key() Key {
	at := strings.LastIndexByte(a.email, '@')
	if at < 0 {
		return Key(a.email)
	}
	return Key(a.email[:at+1] + strings.ToLower(a.email[at+1:]))
}

// String renders the address as "Name <email>", or just the email when the
// name is empty. It is meant for logs, not for building header values.
func (a Address) String() string {
	if a.name == "" {
		return a.email
	}
	return a.name + " <" + a.email + ">"
}

func (a Address) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("name", a.DecodedName()),
		slog.String("email", a.email),
	)
}
