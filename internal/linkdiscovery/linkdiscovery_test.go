package linkdiscovery

import "testing"

import "github.com/stretchr/testify/assert"

func TestCategorize(t *testing.T) {
	cases := []struct {
		url, title, want string
	}{
		{"https://example.com/about-us", "", "about"},
		{"https://example.com/team", "Our Team", "team"},
		{"https://example.com/pricing", "", "pricing"},
		{"https://example.com/careers", "", "careers"},
		{"https://example.com/random-page", "", "other"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, categorize(c.url, c.title), c.url)
	}
}
