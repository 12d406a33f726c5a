package model

import (
	"testing"

	"github.com/dhcgn/mbox-contacts/address"
)

func TestRoleForHeader(t *testing.T) {
	tests := map[string]Role{
		"From":     RoleFrom,
		"Sender":   RoleSender,
		"Reply-To": RoleReplyTo,
		"To":       RoleTo,
		"Cc":       RoleCc,
		"Bcc":      RoleBcc,
		"X-Custom": Role("X-Custom"),
	}
	for field, want := range tests {
		if got := RoleForHeader(field); got != want {
			t.Errorf("RoleForHeader(%q) = %q, want %q", field, got, want)
		}
	}
}

func TestMessage_Addresses(t *testing.T) {
	msg := Message{Participants: []Participant{
		{Role: RoleFrom, Address: address.New("", "alice@example.com")},
		{Role: RoleTo, Address: address.New("Bob", "bob@example.com")},
		{Role: RoleCc, Address: address.New("Alice", "alice@Example.com")},
	}}

	got := msg.Addresses()
	if len(got) != 2 {
		t.Fatalf("Addresses() = %v, want 2 entries", got)
	}
	if got[0].Email() != "alice@example.com" || got[0].Name() != "Alice" {
		t.Errorf("Addresses()[0] = %#v, want alice with the name filled in", got[0])
	}
}
