package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectOutputLanguagesDefaultsToEnglish(t *testing.T) {
	assert.Equal(t, []string{"en"}, DetectOutputLanguages("what is the price?"))
}

func TestDetectOutputLanguagesSingleLanguage(t *testing.T) {
	assert.Equal(t, []string{"fr"}, DetectOutputLanguages("Explain this in French"))
}

func TestDetectOutputLanguagesBothLanguages(t *testing.T) {
	langs := DetectOutputLanguages("Provide the answer in both French and English")
	assert.Contains(t, langs, "fr")
	assert.Contains(t, langs, "en")
}
