package email

import (
	"encoding/json"
	"strings"
)

// Address is one entry of an address header.
type Address struct {
	// Name is the display name, empty when the entry has none.
	Name string `json:"name,omitempty"`
	// Address is the mailbox part, or the raw entry when it could not be parsed.
	Address string `json:"address"`
	// Text is the entry exactly as it appeared in the header.
	Text string `json:"text"`
}

// Addresses is the ordered result of parsing an address header.
//
// It marshals to JSON as a single object when it holds exactly one address,
// and as an array when it holds two or more. An empty list marshals as an
// object with empty text and address.
type Addresses []Address

// Multiple reports whether the header held more than one address.
func (a Addresses) Multiple() bool {
	return len(a) > 1
}

// First returns the first address, or the zero Address.
func (a Addresses) First() Address {
	if len(a) == 0 {
		return Address{}
	}
	return a[0]
}

// Text joins the original text of every address with ", ".
func (a Addresses) Text() string {
	texts := make([]string, 0, len(a))
	for _, addr := range a {
		texts = append(texts, addr.Text)
	}
	return strings.Join(texts, ", ")
}

// Emails returns the mailbox part of every address that has one.
func (a Addresses) Emails() []string {
	emails := make([]string, 0, len(a))
	for _, addr := range a {
		if addr.Address != "" {
			emails = append(emails, addr.Address)
		}
	}
	return emails
}

// MarshalJSON implements json.Marshaler.
func (a Addresses) MarshalJSON() ([]byte, error) {
	switch len(a) {
	case 0:
		return json.Marshal(Address{})
	case 1:
		return json.Marshal(a[0])
	default:
		return json.Marshal([]Address(a))
	}
}

// UnmarshalJSON accepts both the single-object and the array form.
func (a *Addresses) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var list []Address
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*a = list
		return nil
	}

	var single Address
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}
	if single == (Address{}) {
		*a = nil
		return nil
	}
	*a = Addresses{single}
	return nil
}
