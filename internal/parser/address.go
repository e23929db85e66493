package parser

import (
	"strings"

	"github.com/shineum/smtp-intake/internal/email"
)

// ParseAddressList parses an address header value.
//
// The value is split on commas and every non-empty trimmed token becomes one
// Address, matched in order against:
//
//  1. display name followed by <addr>, where the name may be quoted
//  2. <addr> alone
//  3. a bare token containing "@"
//  4. anything else, kept verbatim as both text and address
//
// Text is always the trimmed token itself. ParseAddressList never fails.
func ParseAddressList(value string) email.Addresses {
	var addrs email.Addresses

	for _, token := range strings.Split(value, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		addrs = append(addrs, parseAddress(token))
	}
	return addrs
}

func parseAddress(token string) email.Address {
	if name, addr, ok := angleAddress(token); ok {
		return email.Address{Name: name, Address: addr, Text: token}
	}
	return email.Address{Address: token, Text: token}
}

// angleAddress extracts the mailbox between the first "<" and the following
// ">", together with the display name before it. The name is the last
// quote-free run of the text preceding "<".
func angleAddress(token string) (name, addr string, ok bool) {
	lt := strings.IndexByte(token, '<')
	if lt < 0 {
		return "", "", false
	}
	gt := strings.IndexByte(token[lt+1:], '>')
	if gt < 0 {
		return "", "", false
	}
	addr = strings.TrimSpace(token[lt+1 : lt+1+gt])
	if addr == "" {
		return "", "", false
	}

	segments := strings.Split(token[:lt], `"`)
	for i := len(segments) - 1; i >= 0; i-- {
		if s := strings.TrimSpace(segments[i]); s != "" {
			name = s
			break
		}
	}
	return name, addr, true
}
