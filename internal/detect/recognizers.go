package detect

import (
	"net/netip"
	"regexp"
	"strings"
)

// pattern is one regular expression of a recognizer. When group is set the
// span covers that submatch only, so cue words stay outside the span.
type pattern struct {
	name  string
	re    *regexp.Regexp
	score float64
	group int
}

// recognizer detects one entity type.
type recognizer struct {
	entityType  string
	description string
	patterns    []pattern
	context     []string
	// validate rejects false positives; validatedScore, when set, replaces
	// the pattern score of matches that pass.
	validate       func(match string) bool
	validatedScore float64
}

func p(name, expr string, score float64) pattern {
	return pattern{name: name, re: regexp.MustCompile(expr), score: score}
}

func pg(name, expr string, score float64, group int) pattern {
	return pattern{name: name, re: regexp.MustCompile(expr), score: score, group: group}
}

const streetSuffix = `(?:Street|St\.?|Avenue|Ave\.?|Road|Rd\.?|Boulevard|Blvd\.?|Drive|Dr\.?|Lane|Ln\.?|Way|Court|Ct\.?|Place|Pl\.?|Circle|Cir\.?|Trail|Trl\.?|Parkway|Pkwy\.?|Highway|Hwy\.?)`

const properName = `[A-Z][a-z]+(?:[ '-][A-Z][a-z]+)?`

func defaultRecognizers() []recognizer {
	return []recognizer{
		{
			entityType:  "PERSON",
			description: "Names of people",
			patterns: []pattern{
				pg("person_honorific", `\b(?:Mr|Mrs|Ms|Miss|Mx|Dr|Prof)\.?\s+(`+properName+`)`, 0.85, 1),
				pg("person_introduction", `(?i:\bmy name is|\bi am|\bi'm|\bthis is|\bname:|\bdear|\bsigned by|\bcontact)\s+(`+properName+`)`, 0.75, 1),
			},
			context:  []string{"name", "person", "patient", "customer", "employee", "user", "client", "contact"},
			validate: notStopword,
		},
		{
			entityType:  "EMAIL_ADDRESS",
			description: "Email addresses",
			patterns: []pattern{
				p("email", `\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`, 1.0),
			},
			context: []string{"email", "mail", "e-mail", "contact"},
		},
		{
			entityType:  "PHONE_NUMBER",
			description: "Phone numbers",
			patterns: []pattern{
				p("phone_international", `\+\d{1,3}[\s.-]?\(?\d{1,4}\)?(?:[\s.-]?\d{2,4}){2,4}\b`, 0.75),
				p("us_phone_parens", `\(\d{3}\)\s*\d{3}[-.\s]?\d{4}\b`, 0.75),
				p("us_phone_dashes", `\b\d{3}[-.\s]\d{3}[-.\s]\d{4}\b`, 0.65),
				p("us_phone_10digit", `\b\d{10}\b`, 0.4),
			},
			context: []string{
				"call", "phone", "telephone", "tel", "mobile", "cell",
				"contact", "reach", "dial", "ring", "text", "sms",
				"number", "ext", "extension", "fax", "at",
			},
		},
		{
			entityType:  "CREDIT_CARD",
			description: "Credit card numbers",
			patterns: []pattern{
				p("credit_card", `\b(?:\d[ -]?){12,18}\d\b`, 0.3),
			},
			context:        []string{"credit", "card", "visa", "mastercard", "amex", "cc", "payment"},
			validate:       luhnValid,
			validatedScore: 1.0,
		},
		{
			entityType:  "US_SSN",
			description: "US Social Security Numbers",
			patterns: []pattern{
				p("ssn_dashes", `\b\d{3}-\d{2}-\d{4}\b`, 0.5),
				p("ssn_no_dashes", `\b\d{9}\b`, 0.3),
			},
			context:  []string{"ssn", "social", "security", "social security", "ss#", "soc sec"},
			validate: ssnValid,
		},
		{
			entityType:  "US_BANK_NUMBER",
			description: "US Bank account numbers",
			patterns: []pattern{
				p("bank_number", `\b\d{8,17}\b`, 0.35),
			},
			context: []string{"bank", "account", "acct", "checking", "savings", "routing", "deposit"},
		},
		{
			entityType:  "US_DRIVER_LICENSE",
			description: "US Driver's license numbers",
			patterns: []pattern{
				p("driver_license", `\b[A-Z]\d{7,8}\b`, 0.4),
			},
			context: []string{"driver", "license", "licence", "dl", "driving", "permit"},
		},
		{
			entityType:  "US_ITIN",
			description: "US Individual Taxpayer ID Numbers",
			patterns: []pattern{
				p("itin", `\b9\d{2}[- ]?(?:5\d|6[0-5]|7\d|8[0-8]|9[0-2]|9[4-9])[- ]?\d{4}\b`, 0.5),
			},
			context: []string{"itin", "taxpayer", "tax", "individual taxpayer"},
		},
		{
			entityType:  "US_PASSPORT",
			description: "US Passport numbers",
			patterns: []pattern{
				p("passport", `\b[A-Z]?\d{9}\b`, 0.4),
			},
			context: []string{"passport", "travel document", "passport number"},
		},
		{
			entityType:  "IP_ADDRESS",
			description: "IP addresses (v4 and v6) with optional CIDR",
			patterns: []pattern{
				p("ipv4_cidr", `\b(?:(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\.){3}(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)(?:/(?:3[0-2]|[12]?[0-9]))?\b`, 0.8),
				p("ipv6_cidr", `(?i)(?:[0-9a-f]{0,4}:){2,7}[0-9a-f]{0,4}(?:/\d{1,3})?`, 0.7),
			},
			context:  []string{"ip", "address", "host", "server", "client", "subnet", "network"},
			validate: ipValid,
		},
		{
			entityType:  "LOCATION",
			description: "Geographic locations (cities, countries)",
			patterns: []pattern{
				p("compound_location_hyphen", `\b[A-Z][a-z]+(?:-(?:On|Upon|By|In|Under|Over|Le|La|The|Of|At|Near)-[A-Z][a-z]+)+\b`, 0.9),
				p("compound_location_spaced", `\b[A-Z][a-z]+\s+(?:upon|on|by|in|under|over|near)\s+[A-Z][a-z]+\b`, 0.85),
				pg("location_cue", `\b(?:lives? in|living in|located in|moved to|born in|based in|from)\s+(`+properName+`)`, 0.6, 1),
			},
			context:  []string{"city", "town", "country", "village", "county", "state", "region", "location"},
			validate: notStopword,
		},
		{
			entityType:  "STREET_ADDRESS",
			description: "Street addresses (e.g., 123 Main Street)",
			patterns: []pattern{
				p("street_address_with_unit", `\b\d{1,5}\s+(?:[A-Z][a-z]+\s+)+`+streetSuffix+`\s*,?\s*(?:Apt\.?|Suite|Ste\.?|Unit|#)\s*\d+[A-Z]?\b`, 0.7),
				p("street_address_full", `\b\d{1,5}\s+(?:[A-Z][a-z]+\s+)+`+streetSuffix+`\b`, 0.6),
			},
			context: []string{
				"address", "addr", "location", "located",
				"ship", "shipping", "deliver", "delivery",
				"mail", "mailing", "postal",
				"home", "office", "work", "business",
				"residence", "residential", "billing",
				"live", "lives", "living", "reside", "resides",
				"send", "sending", "sent",
			},
		},
		{
			entityType:  "DATE_TIME",
			description: "Dates and times",
			patterns: []pattern{
				p("date_mdy", `\b(?:0?[1-9]|1[0-2])[/-](?:0?[1-9]|[12]\d|3[01])[/-](?:19|20)\d{2}\b`, 0.4),
				p("date_iso", `\b(?:19|20)\d{2}-(?:0?[1-9]|1[0-2])-(?:0?[1-9]|[12]\d|3[01])\b`, 0.4),
				p("date_long", `\b(?:January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{1,2},?\s+\d{4}\b`, 0.5),
			},
			context: []string{
				"dob", "date of birth", "birth", "born", "birthday",
				"issued", "expires", "expiration", "exp", "valid",
				"signed", "effective", "terminated",
			},
		},
		{
			entityType:  "NRP",
			description: "Nationality, Religious, Political groups",
			patterns: []pattern{
				p("nrp", `\b(?:American|British|Canadian|French|German|Italian|Spanish|Mexican|Chinese|Japanese|Indian|Russian|Brazilian|Polish|Dutch|Swedish|Christian|Muslim|Jewish|Hindu|Buddhist|Catholic|Protestant|Sikh|Democrat|Republican)s?\b`, 0.5),
			},
			context: []string{"nationality", "religion", "religious", "political", "party", "citizen", "ethnicity", "faith"},
		},
		{
			entityType:  "MEDICAL_LICENSE",
			description: "Medical license numbers",
			patterns: []pattern{
				p("dea_number", `\b[A-Z][A-Z9]\d{7}\b`, 0.4),
			},
			context: []string{"medical", "license", "dea", "physician", "prescriber", "npi"},
		},
		{
			entityType:  "URL",
			description: "URLs and web addresses",
			patterns: []pattern{
				p("url_scheme", `\bhttps?://[^\s<>"']*[^\s<>"'.,;:!?)\]]`, 0.6),
				p("url_www", `\bwww\.[^\s<>"']*[^\s<>"'.,;:!?)\]]`, 0.5),
			},
			context: []string{"url", "link", "website", "site", "visit", "http", "https"},
		},
		{
			entityType:  "IBAN_CODE",
			description: "International Bank Account Numbers",
			patterns: []pattern{
				p("iban", `\b[A-Z]{2}\d{2}(?: ?[A-Z0-9]{4}){2,7}(?: ?[A-Z0-9]{1,3})?\b`, 0.5),
			},
			context:        []string{"iban", "bank", "account", "transfer", "swift"},
			validate:       ibanValid,
			validatedScore: 1.0,
		},
		{
			entityType:  "CRYPTO",
			description: "Cryptocurrency addresses",
			patterns: []pattern{
				p("btc_legacy", `\b[13][a-km-zA-HJ-NP-Z1-9]{25,34}\b`, 0.5),
				p("btc_bech32", `\bbc1[ac-hj-np-z02-9]{11,71}\b`, 0.8),
				p("eth", `\b0x[a-fA-F0-9]{40}\b`, 0.8),
			},
			context: []string{"wallet", "bitcoin", "btc", "ethereum", "eth", "crypto", "address"},
		},
		{
			entityType:  "GUID",
			description: "Globally Unique Identifiers (GUIDs/UUIDs)",
			patterns: []pattern{
				p("guid_standard", `\b[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}\b`, 0.85),
			},
			context: []string{
				"guid", "uuid", "id", "identifier", "user", "tenant", "resource",
				"object", "session", "correlation", "request", "transaction",
			},
		},
		{
			entityType:  "COORDINATE",
			description: "Geographic coordinates (latitude/longitude)",
			patterns: []pattern{
				p("coordinate_pair", `-?\d{1,3}\.\d{6,},\s*-?\d{1,3}\.\d{6,}`, 0.9),
				p("coordinate_decimal", `-?\d{1,3}\.\d{6,}`, 0.85),
			},
			context: []string{
				"latitude", "lat", "longitude", "lng", "long", "lon",
				"coordinates", "coord", "coords", "geo", "location", "position", "gps",
			},
		},
	}
}

// luhnValid checks the Luhn checksum over the digits of s.
func luhnValid(s string) bool {
	sum, n := 0, 0
	double := false
	for i := len(s) - 1; i >= 0; i-- {
		c := s[i]
		if c < '0' || c > '9' {
			continue
		}
		d := int(c - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
		n++
	}
	return n >= 13 && sum%10 == 0
}

// ssnValid rejects area 000, 666 and 900-999, group 00 and serial 0000.
func ssnValid(s string) bool {
	digits := strings.ReplaceAll(s, "-", "")
	if len(digits) != 9 {
		return false
	}
	area, group, serial := digits[:3], digits[3:5], digits[5:]
	if area == "000" || area == "666" || area[0] == '9' {
		return false
	}
	return group != "00" && serial != "0000"
}

// ipValid parses the match as an address or prefix. IPv6 candidates need two
// non-empty groups so that tokens like "::x" are not reported.
func ipValid(s string) bool {
	addr, _, isPrefix := strings.Cut(s, "/")
	if strings.Contains(addr, ":") {
		groups := 0
		for _, g := range strings.Split(addr, ":") {
			if g != "" {
				groups++
			}
		}
		if groups < 2 {
			return false
		}
	}
	if isPrefix {
		_, err := netip.ParsePrefix(s)
		return err == nil
	}
	_, err := netip.ParseAddr(s)
	return err == nil
}

// ibanValid checks the ISO 13616 mod-97 checksum.
func ibanValid(s string) bool {
	iban := strings.ReplaceAll(s, " ", "")
	if len(iban) < 15 || len(iban) > 34 {
		return false
	}
	rem := 0
	for _, r := range iban[4:] + iban[:4] {
		switch {
		case r >= '0' && r <= '9':
			rem = (rem*10 + int(r-'0')) % 97
		case r >= 'A' && r <= 'Z':
			rem = (rem*100 + int(r-'A') + 10) % 97
		default:
			return false
		}
	}
	return rem == 1
}

var stopwords = map[string]struct{}{
	"The": {}, "This": {}, "That": {}, "These": {}, "Those": {}, "Here": {}, "There": {},
	"Monday": {}, "Tuesday": {}, "Wednesday": {}, "Thursday": {}, "Friday": {}, "Saturday": {}, "Sunday": {},
	"January": {}, "February": {}, "March": {}, "April": {}, "May": {}, "June": {}, "July": {},
	"August": {}, "September": {}, "October": {}, "November": {}, "December": {},
	"Not": {}, "Just": {}, "Going": {}, "Sorry": {}, "Happy": {}, "Glad": {}, "Sure": {}, "Fine": {},
}

// notStopword rejects cue matches whose first word is a common capitalized
// non-name.
func notStopword(s string) bool {
	first, _, _ := strings.Cut(s, " ")
	_, stop := stopwords[first]
	return !stop
}
