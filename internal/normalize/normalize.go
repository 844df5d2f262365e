// Package normalize converts raw field values from the visitor-tracking
// feed into the canonical forms the CRM stores. Every function fails
// closed: missing or malformed input yields an empty value, never an
// error, so a sparse remote record degrades into a sparse lead instead
// of aborting an import run.
package normalize

import (
	"regexp"
	"strings"
	"time"
)

const (
	remoteDateLayout    = "2006-01-02"
	localDatetimeLayout = "2006-01-02 15:04:05"
)

var (
	emailPattern  = regexp.MustCompile(`^\S+@\S+\.\S+$`)
	nonDigits     = regexp.MustCompile(`\D`)
	transliterate = strings.NewReplacer("ä", "ae", "ö", "oe", "ü", "ue", "ß", "ss")
)

// Salutations maps the two honorific tokens the feed uses to the
// CRM's configured salutation values.
type Salutations struct {
	Mr  string
	Mrs string
}

// SplitName splits a raw contact name into salutation, first name and
// last name. A leading "Herr"/"Frau" token is translated through the
// salutation mapping and stripped. The last whitespace-delimited token
// becomes the last name, the remainder the first name; a single-token
// name serves as both. Empty input yields three empty strings.
func SplitName(salutations Salutations, raw string) (salutation, firstName, lastName string) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", "", ""
	}

	if strings.HasPrefix(name, "Herr") {
		salutation = salutations.Mr
		name = strings.TrimSpace(strings.TrimPrefix(name, "Herr"))
	}
	if strings.HasPrefix(name, "Frau") {
		salutation = salutations.Mrs
		name = strings.TrimSpace(strings.TrimPrefix(name, "Frau"))
	}

	tokens := strings.Fields(name)
	if len(tokens) == 0 {
		return salutation, "", ""
	}

	lastName = tokens[len(tokens)-1]
	firstName = name
	if len(tokens) > 1 {
		firstName = strings.Join(tokens[:len(tokens)-1], " ")
	}
	return salutation, firstName, lastName
}

// Email lowercases the address, transliterates the German umlauts and
// sharp s, and validates the result against a minimal local@domain.tld
// shape. Invalid addresses collapse to an empty string.
func Email(raw string) string {
	if raw == "" {
		return ""
	}
	email := transliterate.Replace(strings.ToLower(raw))
	if !emailPattern.MatchString(email) {
		return ""
	}
	return email
}

// Phone standardizes a phone number to +<country><subscriber> with a
// single dash after the two-digit country code. The international 00
// prefix becomes +, a domestic leading 0 is replaced by the default
// country code, and bare numbers get a + prefix.
func Phone(defaultCountryCode, raw string) string {
	if raw == "" {
		return ""
	}

	digits := nonDigits.ReplaceAllString(raw, "")
	var number string
	switch {
	case strings.HasPrefix(digits, "00"):
		number = "+" + digits[2:]
	case strings.HasPrefix(digits, "0"):
		number = "+" + defaultCountryCode + digits[1:]
	case digits != "":
		number = "+" + digits
	}

	if len(number) > 3 {
		number = number[:3] + "-" + number[3:]
	}
	return number
}

// Street derives the street portion of a free-text address by removing
// the known postal code and city substrings. All three inputs are
// required; an empty remainder yields an empty string.
func Street(fullAddress, postal, city string) string {
	if fullAddress == "" || postal == "" || city == "" {
		return ""
	}
	street := strings.ReplaceAll(fullAddress, postal, "")
	street = strings.ReplaceAll(street, city, "")
	return strings.TrimSpace(street)
}

// RemoteDate renders a timestamp as the UTC calendar date string the
// remote API expects for its minimum-date filter.
func RemoteDate(t time.Time) string {
	return t.UTC().Format(remoteDateLayout)
}

// LocalTimestamp converts an ISO-8601 UTC timestamp from the feed into
// the CRM's local-timezone datetime string. Unparseable input yields an
// empty string.
func LocalTimestamp(isoUTC string, location *time.Location) string {
	if isoUTC == "" {
		return ""
	}
	parsed, err := time.Parse(time.RFC3339, isoUTC)
	if err != nil {
		return ""
	}
	return parsed.In(location).Format(localDatetimeLayout)
}
