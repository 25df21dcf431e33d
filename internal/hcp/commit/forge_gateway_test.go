package commit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestBuildPRBody_ContainsRequiredSections(t *testing.T) {
	body, err := BuildPRBody("patch the null check", 80, ConfidenceFactors{
		KBMatch: 10, TestCoverage: 20, CodeComplexity: 20, HistoricalSuccess: 25, VerificationBonus: 5,
	}, true, "all checks passed")
	require.NoError(t, err)

	assert.Equal(t, "patch the null check", gjson.Get(body, "proposedFix").String())
	assert.Equal(t, int64(80), gjson.Get(body, "confidence.score").Int())
	assert.Equal(t, 25.0, gjson.Get(body, "confidence.factors.historicalSuccess").Float())
	assert.True(t, gjson.Get(body, "verification.passed").Bool())
	assert.Contains(t, gjson.Get(body, "disclaimer").String(), "automatically")
}
