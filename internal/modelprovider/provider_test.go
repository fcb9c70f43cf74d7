package modelprovider_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ryehost/rye/internal/modelprovider"
)

func TestUsageTotal(t *testing.T) {
	u := modelprovider.Usage{InputTokens: 120, OutputTokens: 30}
	require.Equal(t, 150, u.Total())
}

func TestNewAnthropicClientRequiresAPIKey(t *testing.T) {
	_, err := modelprovider.NewAnthropicClient("", "claude-sonnet", 4096, 200000)
	require.Error(t, err)
}

func TestNewOpenAIClientRequiresModel(t *testing.T) {
	_, err := modelprovider.NewOpenAIClient("sk-test", "", 4096, 128000)
	require.Error(t, err)
}

func TestNewBedrockClientRequiresRuntime(t *testing.T) {
	_, err := modelprovider.NewBedrockClient(nil, "anthropic.claude-3", 4096, 200000)
	require.Error(t, err)
}
