package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPromoteEmail(t *testing.T) {
	assert.True(t, PromoteEmail(EmailSourceNone, EmailSourceGoogleMaps))
	assert.True(t, PromoteEmail(EmailSourceGoogleMaps, EmailSourceFacebook))
	assert.True(t, PromoteEmail(EmailSourceFacebook, EmailSourceLinkedInPattern))
	assert.True(t, PromoteEmail(EmailSourceLinkedInPattern, EmailSourceLinkedInVerified))
	// a verified LinkedIn email beats a pattern one even though both are
	// "the same provider" colloquially.
	assert.False(t, PromoteEmail(EmailSourceLinkedInVerified, EmailSourceLinkedInPattern))
	assert.False(t, PromoteEmail(EmailSourceFacebook, EmailSourceGoogleMaps))
	assert.False(t, PromoteEmail(EmailSourceGoogleMaps, EmailSourceGoogleMaps))
}

func TestVariantIsDeterministic(t *testing.T) {
	v1 := Variant("biz-1", "camp-1", 7)
	v2 := Variant("biz-1", "camp-1", 7)
	assert.Equal(t, v1, v2)
	assert.GreaterOrEqual(t, v1, 0)
	assert.Less(t, v1, 7)

	// Different campaign for the same business can land in a different
	// bucket; order of concatenation must not let "a"+"bc" collide with
	// "ab"+"c".
	vOther := Variant("a", "bc", 1000)
	vCollide := Variant("ab", "c", 1000)
	assert.NotEqual(t, vOther, vCollide)
}

func TestVerificationResultIsSafe(t *testing.T) {
	safe := VerificationResult{Status: VerificationDeliverable, Score: 85}
	assert.True(t, safe.IsSafe())

	undeliverable := VerificationResult{Status: VerificationUndeliverable, Score: 10}
	assert.False(t, undeliverable.IsSafe())

	lowScore := VerificationResult{Status: VerificationDeliverable, Score: 50}
	assert.False(t, lowScore.IsSafe())
}

func TestDeriveBusinessFlags(t *testing.T) {
	raw := RawBusiness{
		AdditionalInfo: map[string][]string{
			"Service options": {"Identifies as women-owned", "Wheelchair accessible entrance"},
			"Highlights":      {"Identifies as small business"},
		},
	}
	flags := DeriveBusinessFlags(raw)
	assert.True(t, flags.WomenOwned)
	assert.True(t, flags.SmallBusiness)
	assert.True(t, flags.WheelchairAccessible)
	assert.False(t, flags.BlackOwned)
}

func TestDeriveSentimentTagsCapsAtTen(t *testing.T) {
	raw := RawBusiness{ReviewTags: []string{
		"clean", "", "friendly", "fast", "pricey", "cozy", "loud", "quiet", "spacious", "modern", "overflow1", "overflow2",
	}}
	tags := DeriveSentimentTags(raw)
	assert.Len(t, tags, 10)
	assert.NotContains(t, tags, "overflow2")
}

func TestDeriveContactNameFromPersonalProfile(t *testing.T) {
	c := DeriveContactName("https://www.linkedin.com/in/jane-doe-04a1b2c3/")
	assert.NotNil(t, c)
	assert.Equal(t, "Jane", c.First)
	assert.Equal(t, "Doe", c.Last)

	assert.Nil(t, DeriveContactName("https://www.linkedin.com/company/acme-co/"))
}
