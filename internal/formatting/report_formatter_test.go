package formatting

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatReportWithCitationsAppendsSourcesSection(t *testing.T) {
	answer := "The sky is blue [1] due to Rayleigh scattering."
	sources := "[1] t1\n[2] t2"

	out := FormatReportWithCitations(answer, sources)

	assert.Contains(t, out, "## Sources")
	assert.Contains(t, out, "[1] t1 - used inline")
	assert.Contains(t, out, "[2] t2 - additional source")
}

func TestFormatReportWithCitationsReplacesExistingSection(t *testing.T) {
	answer := "Answer body.\n\n## Sources\nstale entry"
	out := FormatReportWithCitations(answer, "[1] t1")

	assert.False(t, strings.Contains(out, "stale entry"))
	assert.Contains(t, out, "Answer body.")
	assert.Contains(t, out, "[1] t1 - additional source")
}

func TestFormatReportWithCitationsNoSourcesIsNoop(t *testing.T) {
	out := FormatReportWithCitations("just an answer", "")
	assert.Equal(t, "just an answer", out)
}

func TestFormatReportWithCitationsEmptyAnswerReturnsUnchanged(t *testing.T) {
	out := FormatReportWithCitations("", "[1] t1")
	assert.Equal(t, "", out)
}
