package query

import (
	"fmt"
	"strings"
	"unicode"
)

// ReadOnlyKeyword is the only statement a generated query may start with.
const ReadOnlyKeyword = "SELECT"

// ForbiddenKeywords are mutation, schema, permission and procedure keywords
// that reject a query wherever they appear, comments included.
var ForbiddenKeywords = []string{
	"DROP", "DELETE", "INSERT", "UPDATE", "ALTER", "CREATE", "TRUNCATE",
	"EXEC", "EXECUTE", "MERGE", "GRANT", "REVOKE", "INTO",
}

// forbiddenPrefixes reject system and extended stored procedures (sp_who, xp_cmdshell).
var forbiddenPrefixes = []string{"SP_", "XP_"}

var forbiddenSet = func() map[string]bool {
	m := make(map[string]bool, len(ForbiddenKeywords))
	for _, k := range ForbiddenKeywords {
		m[k] = true
	}
	return m
}()

// Rejection explains why the gate refused a query.
type Rejection struct {
	Keyword string
	Reason  string
}

func (r *Rejection) Error() string {
	return r.Reason
}

// Is makes errors.Is(rejection, ErrRejected) hold.
func (r *Rejection) Is(target error) bool {
	return target == ErrRejected
}

// Validate checks a generated query against the read-only policy.
// It is a pure function of its input and is called before every attempt.
func Validate(query string) error {
	normalized := strings.ToUpper(strings.TrimSpace(query))

	if !startsWithKeyword(normalized, ReadOnlyKeyword) {
		return &Rejection{Reason: "Only SELECT queries are allowed"}
	}

	for _, word := range words(normalized) {
		if forbiddenSet[word] {
			return &Rejection{Keyword: word, Reason: fmt.Sprintf("Query contains forbidden keyword: %s", word)}
		}
		for _, p := range forbiddenPrefixes {
			if strings.HasPrefix(word, p) {
				return &Rejection{Keyword: word, Reason: fmt.Sprintf("Query contains forbidden procedure call: %s", word)}
			}
		}
	}
	return nil
}

func startsWithKeyword(s, kw string) bool {
	if !strings.HasPrefix(s, kw) {
		return false
	}
	if len(s) == len(kw) {
		return true
	}
	return !isWordRune(rune(s[len(kw)]))
}

// words splits s into identifier-like tokens so that column names such as
// CREATED_AT or ISDELETED do not trip the keyword check.
func words(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return !isWordRune(r) })
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
