package generator

import (
	"math"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/brianvoe/gofakeit/v6"

	"apisim/internal/spec"
)

// Rule maps a field-name pattern to a value generator.
type Rule struct {
	Category string
	Pattern  *regexp.Regexp
	// Types lists the schema types the rule may produce. A schema without a
	// declared type accepts any rule.
	Types    []string
	Generate func(f *gofakeit.Faker, s *spec.Schema) any
}

func (r *Rule) accepts(schemaType string) bool {
	if schemaType == "" {
		return true
	}
	for _, t := range r.Types {
		if t == schemaType {
			return true
		}
	}
	return false
}

var (
	text    = []string{"string"}
	numeric = []string{"integer", "number"}
	flag    = []string{"boolean"}
	year    = []string{"integer", "string"}
)

func str(fn func(f *gofakeit.Faker) string) func(*gofakeit.Faker, *spec.Schema) any {
	return func(f *gofakeit.Faker, _ *spec.Schema) any { return fn(f) }
}

func choice(options ...string) func(*gofakeit.Faker, *spec.Schema) any {
	return func(f *gofakeit.Faker, _ *spec.Schema) any { return f.RandomString(options) }
}

// magnitude yields an int for integer schemas and a 2-decimal float otherwise.
func magnitude(lo, hi float64) func(*gofakeit.Faker, *spec.Schema) any {
	return func(f *gofakeit.Faker, s *spec.Schema) any {
		if s != nil && s.Type == "integer" {
			return f.Number(int(lo), int(hi))
		}
		return round2(f.Float64Range(lo, hi))
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

var (
	birthFrom = time.Date(1945, 1, 1, 0, 0, 0, 0, time.UTC)
	birthTo   = time.Date(2006, 12, 31, 0, 0, 0, 0, time.UTC)
)

// Rules is the field-name table consulted after enum and example values.
// Order is significant: the first rule whose pattern matches the normalized
// field name and whose Types accept the schema type wins. Categories are laid
// out as identity, address, contact/internet, business, financial, temporal,
// free text, numeric magnitude, boolean-like and status/category-like.
var Rules = []Rule{
	{"identity", regexp.MustCompile(`^(first_?name|fname|given_?name)$`), text, str((*gofakeit.Faker).FirstName)},
	{"identity", regexp.MustCompile(`^(last_?name|lname|surname|family_?name)$`), text, str((*gofakeit.Faker).LastName)},
	{"identity", regexp.MustCompile(`(^|_)(user_?name|login)$`), text, str((*gofakeit.Faker).Username)},
	{"identity", regexp.MustCompile(`^(full_?|display_?)?name$`), text, str((*gofakeit.Faker).Name)},
	{"identity", regexp.MustCompile(`(^|_)(ssn|social_?security(_number)?)$`), text, str((*gofakeit.Faker).SSN)},
	{"identity", regexp.MustCompile(`(^|_)(id|uuid|guid|identifier)$`), text, str((*gofakeit.Faker).UUID)},
	{"identity", regexp.MustCompile(`(^|_)(age|years_?old)$`), numeric, magnitude(18, 80)},
	{"identity", regexp.MustCompile(`(^|_)(gender|sex)$`), text, str((*gofakeit.Faker).Gender)},

	{"address", regexp.MustCompile(`(^|_)(address|addr|street)(_line_?\d)?$`), text, str((*gofakeit.Faker).Street)},
	{"address", regexp.MustCompile(`(^|_)(city|town)$`), text, str((*gofakeit.Faker).City)},
	{"address", regexp.MustCompile(`(^|_)(state|province|region)$`), text, str((*gofakeit.Faker).State)},
	{"address", regexp.MustCompile(`(^|_)(zip|zip_?code|postal_?code|postcode)$`), text, str((*gofakeit.Faker).Zip)},
	{"address", regexp.MustCompile(`(^|_)(country|nation)$`), text, str((*gofakeit.Faker).Country)},
	{"address", regexp.MustCompile(`(^|_)(lat|latitude)$`), []string{"number"}, func(f *gofakeit.Faker, _ *spec.Schema) any { return f.Latitude() }},
	{"address", regexp.MustCompile(`(^|_)(lng|lon|longitude)$`), []string{"number"}, func(f *gofakeit.Faker, _ *spec.Schema) any { return f.Longitude() }},

	{"contact", regexp.MustCompile(`e_?mail`), text, str((*gofakeit.Faker).Email)},
	{"contact", regexp.MustCompile(`(phone|telephone|mobile|cell)`), text, str((*gofakeit.Faker).Phone)},
	{"internet", regexp.MustCompile(`(^|_)(password|passwd|pwd|pass)$`), text, str(func(f *gofakeit.Faker) string {
		return f.Password(true, true, true, false, false, 12)
	})},
	{"internet", regexp.MustCompile(`(^|_)(url|uri|website|link|homepage)$`), text, str((*gofakeit.Faker).URL)},
	{"internet", regexp.MustCompile(`(^|_)(domain|hostname|host)$`), text, str((*gofakeit.Faker).DomainName)},
	{"internet", regexp.MustCompile(`(^|_)(ip|ip_?address|ipv4)$`), text, str((*gofakeit.Faker).IPv4Address)},
	{"internet", regexp.MustCompile(`(^|_)(mac|mac_?address)$`), text, str((*gofakeit.Faker).MacAddress)},

	{"business", regexp.MustCompile(`(^|_)(company|organization|organisation|org|business|employer)(_name)?$`), text, str((*gofakeit.Faker).Company)},
	{"business", regexp.MustCompile(`(^|_)(job_?title|position|role|occupation)$`), text, str((*gofakeit.Faker).JobTitle)},
	{"business", regexp.MustCompile(`(^|_)(department|dept)$`), text, choice("Engineering", "Sales", "Marketing", "HR", "Finance")},

	{"financial", regexp.MustCompile(`(credit_?card|cc_?number|card_?number)`), text, str(func(f *gofakeit.Faker) string {
		return f.CreditCardNumber(nil)
	})},
	{"financial", regexp.MustCompile(`(bank_?account|account_?number)`), text, str((*gofakeit.Faker).AchAccount)},
	{"financial", regexp.MustCompile(`(^|_)(price|cost|amount|total|balance|salary|fee)$`), numeric, magnitude(10, 1000)},
	{"financial", regexp.MustCompile(`(^|_)(currency|currency_code)$`), text, str((*gofakeit.Faker).CurrencyShort)},

	{"temporal", regexp.MustCompile(`(birth_?date|date_of_birth|dob|birthday)`), text, func(f *gofakeit.Faker, _ *spec.Schema) any {
		return f.DateRange(birthFrom, birthTo).Format("2006-01-02")
	}},
	{"temporal", regexp.MustCompile(`(_at$|timestamp|date_?time|_on$)`), text, str(func(f *gofakeit.Faker) string {
		return f.Date().UTC().Format(time.RFC3339)
	})},
	{"temporal", regexp.MustCompile(`(^|_)date$`), text, str(func(f *gofakeit.Faker) string {
		return f.Date().Format("2006-01-02")
	})},
	{"temporal", regexp.MustCompile(`(^|_)time$`), text, str(func(f *gofakeit.Faker) string {
		return f.Date().Format("15:04:05")
	})},
	{"temporal", regexp.MustCompile(`(^|_)year$`), year, func(f *gofakeit.Faker, s *spec.Schema) any {
		if s != nil && s.Type == "string" {
			return f.Date().Format("2006")
		}
		return f.Year()
	}},

	{"text", regexp.MustCompile(`(^|_)(description|desc|summary|bio|about)$`), text, str(func(f *gofakeit.Faker) string {
		return f.Paragraph(1, 3, 10, " ")
	})},
	{"text", regexp.MustCompile(`(^|_)(comment|note|notes|remarks)$`), text, str(func(f *gofakeit.Faker) string {
		return f.Sentence(10)
	})},
	{"text", regexp.MustCompile(`(^|_)(title|subject|heading|headline)$`), text, str(func(f *gofakeit.Faker) string {
		return f.Sentence(4)
	})},
	{"text", regexp.MustCompile(`(^|_)(content|body|message|text)$`), text, str(func(f *gofakeit.Faker) string {
		return f.Paragraph(2, 3, 12, "\n")
	})},

	{"numeric", regexp.MustCompile(`(^|_)(score|rating|rank)$`), numeric, magnitude(1, 10)},
	{"numeric", regexp.MustCompile(`(^|_)(quantity|qty|count)$`), numeric, magnitude(1, 100)},
	{"numeric", regexp.MustCompile(`(^|_)(weight|mass)$`), numeric, magnitude(1, 500)},
	{"numeric", regexp.MustCompile(`(^|_)(height|length|width)$`), numeric, magnitude(50, 200)},

	{"boolean", regexp.MustCompile(`^(is|has|can)_|(^|_)(active|enabled|visible|public|verified)$`), flag, func(f *gofakeit.Faker, _ *spec.Schema) any { return f.Bool() }},
	{"boolean", regexp.MustCompile(`(^|_)(deleted|disabled|hidden|private|archived)$`), flag, func(f *gofakeit.Faker, _ *spec.Schema) any { return f.Bool() }},

	{"category", regexp.MustCompile(`(^|_)(version|ver)$`), text, choice("1.0.0", "1.1.0", "2.0.0", "2.1.0")},
	{"category", regexp.MustCompile(`(^|_)status$`), text, choice("active", "inactive", "pending", "completed")},
	{"category", regexp.MustCompile(`(^|_)(type|kind|category)$`), text, choice("A", "B", "C", "premium", "standard", "basic")},
	{"category", regexp.MustCompile(`(^|_)(color|colour)$`), text, str((*gofakeit.Faker).Color)},
}

// matchRule returns the first rule for field, or nil.
func matchRule(field, schemaType string) *Rule {
	name := normalizeField(field)
	if name == "" {
		return nil
	}
	for i := range Rules {
		r := &Rules[i]
		if r.accepts(schemaType) && r.Pattern.MatchString(name) {
			return r
		}
	}
	return nil
}

// normalizeField lowercases a field name and turns camelCase, kebab-case and
// dotted names into snake_case, so "firstName" and "first-name" both become
// "first_name".
func normalizeField(name string) string {
	var b strings.Builder
	b.Grow(len(name) + 4)
	var prev rune
	for i, r := range name {
		orig := r
		switch {
		case r == '-' || r == ' ' || r == '.':
			r = '_'
		case unicode.IsUpper(r):
			if i > 0 && (unicode.IsLower(prev) || unicode.IsDigit(prev)) {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
		prev = orig
	}
	return b.String()
}
