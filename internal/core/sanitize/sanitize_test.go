package sanitize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeEmailAndPhone(t *testing.T) {
	s := New()

	out, counts := s.Sanitize("Contact jane.doe@example.com or call 0412 345 678 about lot 7.")

	assert.Contains(t, out, "[EMAIL_REDACTED]")
	assert.Contains(t, out, "[PHONE_REDACTED]")
	assert.NotContains(t, out, "jane.doe@example.com")
	assert.NotContains(t, out, "0412 345 678")
	assert.Contains(t, out, "about lot 7.")
	assert.Equal(t, 1, counts["email"])
	assert.Equal(t, 1, counts["phone"])
}

func TestSanitizeTFN(t *testing.T) {
	s := New()

	out, counts := s.Sanitize("TFN on file: 123 456 789")

	assert.Equal(t, "TFN on file: [TFN_REDACTED]", out)
	assert.Equal(t, 1, counts["tfn"])
}

func TestSanitizeCreditCardAndBSB(t *testing.T) {
	s := New()

	out, _ := s.Sanitize("Card 4111 1111 1111 1111, BSB 062-000.")

	assert.Contains(t, out, "[CREDIT_CARD_REDACTED]")
	assert.Contains(t, out, "[BSB_REDACTED]")
	assert.NotContains(t, out, "4111")
	assert.NotContains(t, out, "062-000")
}

func TestSanitizeLotOwnerName(t *testing.T) {
	s := New()

	out, counts := s.Sanitize("Lot Owner: Jane Citizen requested quotes. Proprietor: John Smith abstained.")

	assert.Equal(t, "Lot Owner: [OWNER_NAME_REDACTED] requested quotes. Proprietor: [OWNER_NAME_REDACTED] abstained.", out)
	assert.Equal(t, 2, counts["lot_owner_name"])
}

func TestSanitizeLotOwnerKeepsLabel(t *testing.T) {
	s := New()

	// The label survives so minutes stay attributable to a role.
	out, _ := s.Sanitize("Owner: Mary Jones seconded the motion.")

	assert.Contains(t, out, "Owner: [OWNER_NAME_REDACTED]")
	assert.NotContains(t, out, "Mary")
	assert.NotContains(t, out, "Jones")
}

func TestSanitizeUnitAddress(t *testing.T) {
	s := New()

	out, counts := s.Sanitize("Water damage reported at Unit 12B/45 George Street by the caretaker.")

	assert.Equal(t, "Water damage reported at [UNIT_ADDRESS_REDACTED] by the caretaker.", out)
	assert.Equal(t, 1, counts["unit_address"])
}

func TestSanitizeIsFixedPoint(t *testing.T) {
	s := New()

	inputs := []string{
		"Contact jane.doe@example.com or call 0412 345 678.",
		"TFN 123 456 789 and card 4111 1111 1111 1111",
		"Lot Owner: Jane Citizen of Unit 3/12 Smith Road",
		"no personal data here at all",
		"",
	}
	for _, in := range inputs {
		once, _ := s.Sanitize(in)
		twice, counts := s.Sanitize(once)
		require.Equal(t, once, twice, "sanitize must be idempotent for %q", in)
		assert.Empty(t, counts, "second pass should redact nothing for %q", in)
	}
}

func TestSanitizePassThrough(t *testing.T) {
	s := New()

	in := "The annual general meeting resolved to repaint the foyer."
	out, counts := s.Sanitize(in)

	assert.Equal(t, in, out)
	assert.Empty(t, counts)
}

func TestSanitizeDeterministicOrder(t *testing.T) {
	s := New()

	// A 9-digit run is claimed by the TFN pattern before ABN/BSB get a look.
	in := "ref 987 654 321 end"
	for i := 0; i < 5; i++ {
		out, _ := s.Sanitize(in)
		assert.Equal(t, "ref [TFN_REDACTED] end", out)
	}
}

func TestSanitizeMalformedInputNeverPanics(t *testing.T) {
	s := New()

	assert.NotPanics(t, func() {
		s.Sanitize(strings.Repeat("@@", 10000))
		s.Sanitize("\x00\xff broken utf8 \xc3")
	})
}
