package logger

import (
	"regexp"
	"strings"
)

var emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)

// isAddressKey reports whether a field key always holds an address, even
// when the value alone would not match the pattern.
func isAddressKey(key string) bool {
	k := strings.ToLower(key)
	return strings.Contains(k, "email") || strings.Contains(k, "recipient")
}

// maskEmails masks email addresses found in a field value. The domain is
// kept so delivery problems stay attributable to a mailbox provider.
func maskEmails(key, val string) string {
	if isAddressKey(key) {
		return maskOne(val)
	}
	return emailPattern.ReplaceAllStringFunc(val, maskOne)
}

func maskOne(addr string) string {
	local, domain, ok := strings.Cut(addr, "@")
	if !ok {
		return "***@***"
	}
	if len(local) <= 2 {
		return "***@" + domain
	}
	return local[:2] + "***@" + domain
}
