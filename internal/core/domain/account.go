package domain

import "strings"

// Account is a hierarchical account name with colon-delimited parts,
// e.g. "Assets:Bank:Checking".
type Account struct {
	parts []string
}

// ParseAccount builds an Account from its colon-delimited string form.
// The empty string parses to the empty (root) account.
func ParseAccount(s string) Account {
	if s == "" {
		return Account{}
	}
	return Account{parts: strings.Split(s, ":")}
}

func (a Account) String() string {
	return strings.Join(a.parts, ":")
}

// Parts returns a copy of the account's path segments.
func (a Account) Parts() []string {
	return append([]string(nil), a.parts...)
}

// IsZero reports whether the account has no parts.
func (a Account) IsZero() bool {
	return len(a.parts) == 0
}

// Equal reports whether two accounts name the same path.
func (a Account) Equal(other Account) bool {
	if len(a.parts) != len(other.parts) {
		return false
	}
	for i := range a.parts {
		if a.parts[i] != other.parts[i] {
			return false
		}
	}
	return true
}

// StartsWith reports whether the account lies within other's subtree,
// including other itself.
func (a Account) StartsWith(other Account) bool {
	if len(other.parts) > len(a.parts) {
		return false
	}
	for i := range other.parts {
		if a.parts[i] != other.parts[i] {
			return false
		}
	}
	return true
}
