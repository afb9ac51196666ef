package etl

import "strings"

// personTitles are stripped from the beginning of name values.
var personTitles = []string{"Mr. ", "Mrs. ", "Ms. "}

// StripPersonTitle removes a leading honorific from a name.
func StripPersonTitle(name string) string {
	for _, prefix := range personTitles {
		if strings.HasPrefix(name, prefix) {
			return name[len(prefix):]
		}
	}
	return name
}

// FixNameOrder turns "Last, First" into "First Last".
func FixNameOrder(name string) string {
	parts := strings.Split(name, ",")
	if len(parts) == 1 {
		return name
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return strings.Join(parts, " ")
}

// badPhoneEndings mark placeholder numbers that would otherwise act as
// strength-1 identifiers and glue unrelated records together.
var badPhoneEndings = []string{
	"00000000",
	"0000000",
	"11111111",
	"12345678",
	"87654321",
	"8888888",
	"88888888",
}

// IsBadPhone reports whether a phone number ends in a placeholder pattern.
func IsBadPhone(phone string) bool {
	for _, ending := range badPhoneEndings {
		if strings.HasSuffix(phone, ending) {
			return true
		}
	}
	return false
}

// Normalize cleans one identifier value on its way from an input column to
// an output field. Hard-selector values are lowercased so exact matching
// works across sources; hostnames drop a leading "www.".
func Normalize(inColumn, outField, val string, hard map[string]bool) string {
	if outField == "name" {
		val = StripPersonTitle(val)
	}
	if inColumn == "representative" || inColumn == "attn" {
		val = strings.Title(FixNameOrder(val)) //nolint:staticcheck
	}
	if hard[outField] {
		val = strings.ToLower(val)
	}
	if outField == "hostname" {
		val = strings.TrimPrefix(val, "www.")
	}
	return strings.TrimSpace(val)
}
