package providers

import (
	"fmt"
	"os"
	"strings"
)

// ExtractProtocol splits a model reference of the form "provider/model-id"
// into its parts. References without a slash default to the openai
// protocol, matching how OpenAI-compatible gateways are addressed.
func ExtractProtocol(modelRef string) (protocol, modelID string) {
	trimmed := strings.TrimSpace(modelRef)
	if idx := strings.Index(trimmed, "/"); idx > 0 {
		return strings.ToLower(trimmed[:idx]), trimmed[idx+1:]
	}
	return "openai", trimmed
}

// CredentialsFromEnv resolves the API key and base URL for a provider from
// ${PROVIDER}_API_KEY and ${PROVIDER}_BASE_URL.
func CredentialsFromEnv(protocol string) (apiKey, baseURL string) {
	prefix := strings.ToUpper(protocol)
	return os.Getenv(prefix + "_API_KEY"), os.Getenv(prefix + "_BASE_URL")
}

// NewFromModelRef constructs the provider for a model reference, pulling
// credentials from the environment unless explicit values are given.
func NewFromModelRef(modelRef, apiKey, baseURL string) (LLMProvider, error) {
	protocol, _ := ExtractProtocol(modelRef)

	if apiKey == "" && baseURL == "" {
		apiKey, baseURL = CredentialsFromEnv(protocol)
	}

	switch protocol {
	case "anthropic":
		if apiKey == "" {
			return nil, fmt.Errorf("no API key for provider %q: set ANTHROPIC_API_KEY", protocol)
		}
		return NewAnthropicProvider(apiKey, baseURL), nil
	case "openai":
		if apiKey == "" && baseURL == "" {
			return nil, fmt.Errorf("no credentials for provider %q: set OPENAI_API_KEY or OPENAI_BASE_URL", protocol)
		}
		return NewOpenAIProvider(apiKey, baseURL), nil
	default:
		// Unknown protocols are treated as OpenAI-compatible gateways.
		if apiKey == "" && baseURL == "" {
			prefix := strings.ToUpper(protocol)
			return nil, fmt.Errorf("no credentials for provider %q: set %s_API_KEY / %s_BASE_URL", protocol, prefix, prefix)
		}
		return NewOpenAIProvider(apiKey, baseURL), nil
	}
}
