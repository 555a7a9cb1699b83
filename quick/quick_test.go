package quick

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/marketflow/llm"
	"github.com/BaSui01/marketflow/marketing"
)

func TestNew_DefaultsToMock(t *testing.T) {
	orch, err := New()
	require.NoError(t, err)

	res, err := orch.Run(context.Background(), marketing.FlowContentCreation, map[string]any{
		"topic": "spring launch",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.RunID)
	assert.Contains(t, res.Store, "optimization_completed")
}

func TestNew_ExplicitMock(t *testing.T) {
	orch, err := New(WithMock())
	require.NoError(t, err)
	assert.Len(t, orch.Flows(), 5)
}

func TestNew_OpenAIRequiresKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	_, err := New(WithOpenAI("gpt-4o-mini"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key is required")
}

func TestNew_OpenAIWithExplicitKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	orch, err := New(WithOpenAI("gpt-4o-mini"), WithAPIKey("sk-test"))
	require.NoError(t, err)
	assert.NotNil(t, orch)
}

func TestNew_CustomProviderAndChannels(t *testing.T) {
	orch, err := New(
		WithProvider(llm.NewMockProvider()),
		WithChannels("email", "blog"),
	)
	require.NoError(t, err)

	res, err := orch.Run(context.Background(), marketing.FlowContentDistribution, map[string]any{
		"generated_content": "launch post",
	})
	require.NoError(t, err)

	results, ok := res.Store["distribution_results"].(map[string]any)
	require.True(t, ok)
	channels, ok := results["channels"].(map[string]any)
	require.True(t, ok)
	assert.Len(t, channels, 2)
	assert.Contains(t, channels, "email")
	assert.Contains(t, channels, "blog")
}
