// Package synth produces realistic, deterministic stand-in values for
// detected PII. The same request always yields the same value.
package synth

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
)

// Request carries everything a substitute depends on. Original is a shape
// hint (IP class, CIDR suffix, digit grouping) and is never persisted.
type Request struct {
	EntityType string
	Locale     string
	Seed       uint64
	Attempt    int
	Original   string
}

type generatorFunc func(g *gen) string

// gen is the per-call generation context. attempt > 0 means earlier
// candidates collided, so generators draw from a wider space.
type gen struct {
	f        *gofakeit.Faker
	p        *profile
	seed     uint64
	attempt  int
	original string
}

func (g *gen) pick(list []string) string {
	return g.f.RandomString(list)
}

// Synthesizer maps entity types to value generators. It holds no mutable
// state and is safe for concurrent use.
type Synthesizer struct {
	generators map[string]generatorFunc
}

// New returns a Synthesizer with generators for every built-in entity type.
func New() *Synthesizer {
	return &Synthesizer{
		generators: map[string]generatorFunc{
			"PERSON":            genPerson,
			"EMAIL_ADDRESS":     genEmail,
			"PHONE_NUMBER":      genPhone,
			"CREDIT_CARD":       genCreditCard,
			"US_SSN":            genSSN,
			"US_BANK_NUMBER":    genBankNumber,
			"US_DRIVER_LICENSE": genDriverLicense,
			"US_ITIN":           genITIN,
			"US_PASSPORT":       genPassport,
			"IP_ADDRESS":        genIP,
			"LOCATION":          genLocation,
			"STREET_ADDRESS":    genStreetAddress,
			"DATE_TIME":         genDate,
			"NRP":               genNRP,
			"MEDICAL_LICENSE":   genMedicalLicense,
			"URL":               genURL,
			"IBAN_CODE":         genIBAN,
			"CRYPTO":            genCrypto,
			"GUID":              genGUID,
			"COORDINATE":        genCoordinate,
		},
	}
}

// Supports reports whether entityType has a dedicated generator.
func (s *Synthesizer) Supports(entityType string) bool {
	_, ok := s.generators[entityType]
	return ok
}

// Synthesize generates the substitute for req. Unknown entity types yield
// the placeholder <ENTITY_TYPE>; retries of a placeholder carry a numeric
// suffix so distinct values can still get distinct substitutes.
func (s *Synthesizer) Synthesize(req Request) string {
	seed := req.Seed
	if seed == 0 {
		// gofakeit treats 0 as "seed from crypto/rand"
		seed = 1
	}
	f := gofakeit.New(seed)

	fn, ok := s.generators[req.EntityType]
	if !ok {
		if req.Attempt == 0 {
			return "<" + req.EntityType + ">"
		}
		return fmt.Sprintf("<%s_%s>", req.EntityType, f.Numerify("######"))
	}

	locale := req.Locale
	if locale == "" {
		locale = DefaultLocale
	}
	return fn(&gen{f: f, p: profileFor(locale), seed: seed, attempt: req.Attempt, original: req.Original})
}

func genPerson(g *gen) string {
	first, last := g.firstName(), g.lastName()
	low := 0
	if g.attempt > 0 {
		// the plain "first last" space is small for the locale lists
		low = 7
	}
	switch v := g.f.IntRange(low, 9); {
	case v < 7:
		return first + " " + last
	case v < 9:
		return fmt.Sprintf("%s %s. %s", first, strings.ToUpper(g.f.Letter()), last)
	default:
		return first + " " + last + "-" + g.lastName()
	}
}

func (g *gen) firstName() string {
	if len(g.p.firstNames) > 0 {
		return g.pick(g.p.firstNames)
	}
	return g.f.FirstName()
}

func (g *gen) lastName() string {
	if len(g.p.lastNames) > 0 {
		return g.pick(g.p.lastNames)
	}
	return g.f.LastName()
}

var emailDomains = []string{"example.com", "example.org", "example.net", "mail.example", "inbox.example"}

func genEmail(g *gen) string {
	first, last := asciiLower(g.firstName()), asciiLower(g.lastName())
	var local string
	low := 0
	if g.attempt > 0 {
		low = 3
	}
	switch g.f.IntRange(low, 3) {
	case 0:
		local = first + "." + last
	case 1:
		local = first[:1] + last
	case 2:
		local = first + "_" + last
	default:
		local = first + "." + last + g.f.Numerify("##")
	}
	return local + "@" + g.pick(emailDomains)
}

func genPhone(g *gen) string {
	return g.f.Numerify(g.pick(g.p.phoneFormats))
}

func genCreditCard(g *gen) string {
	payload := "4" + g.f.Numerify("##############")
	number := payload + string(rune('0'+luhnCheckDigit(payload)))
	return groupLike(g.original, number, 4)
}

func genSSN(g *gen) string {
	area := g.f.IntRange(1, 899)
	if area == 666 {
		area = 667
	}
	ssn := fmt.Sprintf("%03d-%02d-%04d", area, g.f.IntRange(1, 99), g.f.IntRange(1, 9999))
	if g.original != "" && !strings.Contains(g.original, "-") {
		return strings.ReplaceAll(ssn, "-", "")
	}
	return ssn
}

func genBankNumber(g *gen) string {
	return g.f.Numerify("############")
}

func genDriverLicense(g *gen) string {
	return strings.ToUpper(g.f.Letter()) + g.f.Numerify("############")
}

// ITIN middle digits fall in 70-88, 90-92 or 94-99.
var itinGroups = []int{70, 71, 72, 73, 74, 75, 76, 77, 78, 79, 80, 81, 82, 83, 84, 85, 86, 87, 88, 90, 91, 92, 94, 95, 96, 97, 98, 99}

func genITIN(g *gen) string {
	group := itinGroups[g.f.IntRange(0, len(itinGroups)-1)]
	return fmt.Sprintf("9%s-%d-%s", g.f.Numerify("##"), group, g.f.Numerify("####"))
}

func genPassport(g *gen) string {
	return strings.ToUpper(g.f.Letter()) + g.f.Numerify("########")
}

func genLocation(g *gen) string {
	if g.attempt == 0 {
		if len(g.p.cities) > 0 {
			return g.pick(g.p.cities)
		}
		return g.f.City()
	}
	patterns := g.p.places
	if len(patterns) == 0 {
		patterns = englishPlaces
	}
	return fmt.Sprintf(g.pick(patterns), g.placeStem())
}

// placeStem widens with each retry: locale surnames first, then the
// faker's surname and given-name lists.
func (g *gen) placeStem() string {
	var stem string
	switch {
	case g.attempt == 1 && len(g.p.lastNames) > 0:
		stem = g.pick(g.p.lastNames)
	case g.attempt <= 2:
		stem = g.f.LastName()
	default:
		stem = g.f.FirstName()
	}
	if fields := strings.Fields(stem); len(fields) > 1 {
		stem = fields[len(fields)-1]
	}
	return stem
}

func genStreetAddress(g *gen) string {
	if len(g.p.streets) == 0 {
		return g.f.Street()
	}
	street := g.pick(g.p.streets)
	highest := 250
	if g.attempt > 0 {
		highest = 9999
	}
	number := g.f.IntRange(1, highest)
	if g.p.numberFirst {
		return fmt.Sprintf("%d %s", number, street)
	}
	return fmt.Sprintf("%s %d", street, number)
}

var (
	dateFloor   = time.Date(1950, 1, 1, 0, 0, 0, 0, time.UTC)
	dateCeiling = time.Date(2020, 12, 31, 0, 0, 0, 0, time.UTC)
)

func genDate(g *gen) string {
	return g.f.DateRange(dateFloor, dateCeiling).Format(g.p.dateLayout)
}

var nrpNouns = []string{"Group", "Organization", "Community", "Association"}

func genNRP(g *gen) string {
	return fmt.Sprintf("%s %s-%d", g.pick(nrpNouns), strings.ToUpper(g.f.Letter()), g.f.IntRange(10, 999))
}

func genMedicalLicense(g *gen) string {
	return "ML" + g.f.Numerify("########")
}

func genURL(g *gen) string {
	host := asciiLower(g.f.Noun()) + asciiLower(g.f.Noun())
	return fmt.Sprintf("https://www.%s.example/%s", host, asciiLower(g.f.Noun()))
}

func genIBAN(g *gen) string {
	bban := fillPattern(g.f, g.p.ibanBBAN)
	return g.p.ibanCountry + ibanCheckDigits(g.p.ibanCountry, bban) + bban
}

func genCrypto(g *gen) string {
	return g.f.BitcoinAddress()
}

// guidNamespace scopes generated GUIDs away from any real namespace.
var guidNamespace = uuid.MustParse("8b5f7f6e-6d0a-4c57-9a43-2f4a1c3d9e10")

func genGUID(g *gen) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], g.seed)
	id := uuid.NewSHA1(guidNamespace, buf[:]).String()
	if strings.ToUpper(g.original) == g.original && strings.ContainsAny(g.original, "ABCDEF") {
		return strings.ToUpper(id)
	}
	return id
}

// genCoordinate emits a "lat, lng" pair when the original is a pair and a
// single value otherwise, keeping the original's decimal precision.
func genCoordinate(g *gen) string {
	digits := 6
	if _, frac, ok := strings.Cut(g.original, "."); ok {
		n := 0
		for n < len(frac) && frac[n] >= '0' && frac[n] <= '9' {
			n++
		}
		if n > digits {
			digits = n
		}
	}
	if strings.Contains(g.original, ",") || g.original == "" {
		return fmt.Sprintf("%.*f, %.*f", digits, g.f.Latitude(), digits, g.f.Longitude())
	}
	return fmt.Sprintf("%.*f", digits, g.f.Latitude())
}

// fillPattern replaces '#' with digits and '?' with uppercase letters.
func fillPattern(f *gofakeit.Faker, pattern string) string {
	var b strings.Builder
	for _, r := range pattern {
		switch r {
		case '#':
			b.WriteByte(byte('0' + f.IntRange(0, 9)))
		case '?':
			b.WriteByte(byte('A' + f.IntRange(0, 25)))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ibanCheckDigits computes the ISO 13616 mod-97 check digits.
func ibanCheckDigits(country, bban string) string {
	rem := 0
	for _, r := range bban + country + "00" {
		switch {
		case r >= '0' && r <= '9':
			rem = (rem*10 + int(r-'0')) % 97
		case r >= 'A' && r <= 'Z':
			v := int(r-'A') + 10
			rem = (rem*100 + v) % 97
		}
	}
	return fmt.Sprintf("%02d", 98-rem)
}

// luhnCheckDigit returns the digit that makes payload+digit Luhn-valid.
func luhnCheckDigit(payload string) int {
	sum := 0
	double := true
	for i := len(payload) - 1; i >= 0; i-- {
		d := int(payload[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return (10 - sum%10) % 10
}

// groupLike re-applies the separator style of original to digits.
func groupLike(original, digits string, size int) string {
	sep := ""
	switch {
	case strings.Contains(original, " "):
		sep = " "
	case strings.Contains(original, "-"):
		sep = "-"
	}
	if sep == "" {
		return digits
	}
	var parts []string
	for i := 0; i < len(digits); i += size {
		end := min(i+size, len(digits))
		parts = append(parts, digits[i:end])
	}
	return strings.Join(parts, sep)
}

var foldReplacer = strings.NewReplacer(
	"ä", "a", "á", "a", "à", "a", "â", "a", "ã", "a", "å", "a", "ą", "a",
	"æ", "ae", "ç", "c", "ć", "c",
	"é", "e", "è", "e", "ê", "e", "ë", "e", "ę", "e",
	"í", "i", "ì", "i", "î", "i", "ï", "i",
	"ł", "l", "ñ", "n", "ń", "n",
	"ö", "o", "ó", "o", "ò", "o", "ô", "o", "õ", "o", "ø", "o",
	"ß", "ss", "ś", "s", "ü", "u", "ú", "u", "ù", "u", "û", "u",
	"ź", "z", "ż", "z",
)

// asciiLower folds common diacritics and keeps only [a-z0-9].
func asciiLower(s string) string {
	s = foldReplacer.Replace(strings.ToLower(s))
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "user"
	}
	return b.String()
}
