package synth

import (
	"net/netip"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSynthesizeDeterministic(t *testing.T) {
	s := New()

	for _, entityType := range []string{"PERSON", "EMAIL_ADDRESS", "PHONE_NUMBER", "CREDIT_CARD", "US_SSN", "IP_ADDRESS", "LOCATION", "STREET_ADDRESS", "DATE_TIME", "IBAN_CODE", "GUID", "COORDINATE", "URL", "CRYPTO"} {
		t.Run(entityType, func(t *testing.T) {
			req := Request{EntityType: entityType, Locale: "en_US", Seed: 42, Original: "10.0.0.1"}
			first := s.Synthesize(req)
			assert.NotEmpty(t, first)
			assert.Equal(t, first, s.Synthesize(req))
		})
	}
}

func TestSynthesizePerturbedSeedsDiffer(t *testing.T) {
	s := New()
	seen := map[string]bool{}
	for seed := uint64(1); seed <= 20; seed++ {
		seen[s.Synthesize(Request{EntityType: "EMAIL_ADDRESS", Seed: seed})] = true
	}
	assert.Greater(t, len(seen), 15)
}

func TestSynthesizeUnknownType(t *testing.T) {
	s := New()

	assert.Equal(t, "<BADGE_ID>", s.Synthesize(Request{EntityType: "BADGE_ID", Seed: 7}))
	retry := s.Synthesize(Request{EntityType: "BADGE_ID", Seed: 8, Attempt: 1})
	assert.Regexp(t, `^<BADGE_ID_\d{6}>$`, retry)
	assert.False(t, s.Supports("BADGE_ID"))
	assert.True(t, s.Supports("PERSON"))
}

func TestCreditCardIsLuhnValid(t *testing.T) {
	s := New()

	for seed := uint64(1); seed < 50; seed++ {
		cc := s.Synthesize(Request{EntityType: "CREDIT_CARD", Seed: seed})
		require.Len(t, cc, 16)
		assert.True(t, luhnValid(cc), cc)
	}

	grouped := s.Synthesize(Request{EntityType: "CREDIT_CARD", Seed: 3, Original: "4111 1111 1111 1111"})
	assert.Regexp(t, `^\d{4} \d{4} \d{4} \d{4}$`, grouped)
}

func TestSSNShape(t *testing.T) {
	s := New()
	assert.Regexp(t, `^\d{3}-\d{2}-\d{4}$`, s.Synthesize(Request{EntityType: "US_SSN", Seed: 5, Original: "123-45-6789"}))
	assert.Regexp(t, `^\d{9}$`, s.Synthesize(Request{EntityType: "US_SSN", Seed: 5, Original: "123456789"}))
}

func TestIPPreservesShape(t *testing.T) {
	s := New()

	tests := []struct {
		name     string
		original string
		check    func(t *testing.T, out string)
	}{
		{"private host", "192.168.1.50", func(t *testing.T, out string) {
			a := netip.MustParseAddr(out)
			assert.True(t, a.Is4() && isInternal(a), out)
		}},
		{"public host", "8.8.8.8", func(t *testing.T, out string) {
			a := netip.MustParseAddr(out)
			assert.True(t, a.Is4(), out)
			assert.False(t, isInternal(a), out)
		}},
		{"host with cidr", "10.1.2.3/24", func(t *testing.T, out string) {
			assert.True(t, strings.HasSuffix(out, "/24"), out)
		}},
		{"network", "192.168.1.0/24", func(t *testing.T, out string) {
			p := netip.MustParsePrefix(out)
			assert.Equal(t, 24, p.Bits())
			assert.Equal(t, p.Masked(), p)
			assert.True(t, isInternal(p.Addr()))
		}},
		{"ipv6", "2606:4700::1111", func(t *testing.T, out string) {
			a := netip.MustParseAddr(out)
			assert.True(t, a.Is6(), out)
			assert.False(t, isInternal(a), out)
		}},
		{"garbage", "not-an-ip", func(t *testing.T, out string) {
			assert.True(t, netip.MustParseAddr(out).Is4())
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, s.Synthesize(Request{EntityType: "IP_ADDRESS", Seed: 99, Original: tt.original}))
		})
	}
}

func TestIBANChecksum(t *testing.T) {
	s := New()
	for _, locale := range []string{"de_DE", "en_GB", "fr_FR", "nl_NL", "it_IT"} {
		iban := s.Synthesize(Request{EntityType: "IBAN_CODE", Locale: locale, Seed: 11})
		assert.True(t, ibanValid(iban), "%s: %s", locale, iban)
	}
}

func TestLocaleAwareNames(t *testing.T) {
	s := New()
	name := s.Synthesize(Request{EntityType: "PERSON", Locale: "de_DE", Seed: 1234})
	p := profiles["de_DE"]

	var found bool
	for _, first := range p.firstNames {
		if strings.HasPrefix(name, first+" ") {
			found = true
		}
	}
	assert.True(t, found, name)

	email := s.Synthesize(Request{EntityType: "EMAIL_ADDRESS", Locale: "de_DE", Seed: 1234})
	assert.Regexp(t, regexp.MustCompile(`^[a-z0-9._]+@[a-z.]+$`), email)
}

func TestRetriesWidenLocaleVocabulary(t *testing.T) {
	s := New()

	for _, tc := range []struct {
		entityType string
		firstTry   int
	}{
		{"LOCATION", len(profiles["en_GB"].cities)},
		{"PERSON", len(profiles["en_GB"].firstNames) * len(profiles["en_GB"].lastNames)},
	} {
		t.Run(tc.entityType, func(t *testing.T) {
			seen := map[string]bool{}
			for seed := uint64(1); seed <= 500; seed++ {
				seen[s.Synthesize(Request{EntityType: tc.entityType, Locale: "en_GB", Seed: seed, Attempt: 2})] = true
			}
			assert.Greater(t, len(seen), tc.firstTry)
			assert.Greater(t, len(seen), 400)
		})
	}

	t.Run("first attempt keeps the locale cities", func(t *testing.T) {
		city := s.Synthesize(Request{EntityType: "LOCATION", Locale: "en_GB", Seed: 3})
		assert.Contains(t, profiles["en_GB"].cities, city)
	})

	t.Run("retried streets stay locale shaped", func(t *testing.T) {
		street := s.Synthesize(Request{EntityType: "STREET_ADDRESS", Locale: "de_DE", Seed: 3, Attempt: 1})
		assert.Regexp(t, `^\D+ \d{1,4}$`, street)
	})
}

func TestSupportedLocales(t *testing.T) {
	locales := SupportedLocales()
	require.Len(t, locales, 30)
	assert.Equal(t, "ar_SA", locales[0].Code)
	assert.True(t, IsSupportedLocale("de_CH"))
	assert.False(t, IsSupportedLocale("xx_XX"))

	for _, l := range locales {
		assert.NotNil(t, profileFor(l.Code), l.Code)
	}
}

func TestGUIDShape(t *testing.T) {
	s := New()
	g := s.Synthesize(Request{EntityType: "GUID", Seed: 77, Original: "6F9619FF-8B86-D011-B42D-00C04FC964FF"})
	assert.Regexp(t, `^[0-9A-F]{8}-[0-9A-F]{4}-[0-9A-F]{4}-[0-9A-F]{4}-[0-9A-F]{12}$`, g)
}

func luhnValid(number string) bool {
	sum := 0
	double := false
	for i := len(number) - 1; i >= 0; i-- {
		d := int(number[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

func ibanValid(iban string) bool {
	rearranged := iban[4:] + iban[:4]
	rem := 0
	for _, r := range rearranged {
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
