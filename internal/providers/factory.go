package providers

import (
	"fmt"
	"os"
	"strings"

	"github.com/parley-app/parley/internal/engine"
)

// compatEndpoint describes one OpenAI-compatible provider: where its key and
// model come from and what to fall back to.
type compatEndpoint struct {
	keyEnv      string
	modelEnv    string
	baseURLEnv  string
	defModel    string
	defBaseURL  string
	keyOptional bool // local servers accept any key
	defKey      string
}

// compatEndpoints maps LLM_PROVIDER values to OpenAI-compatible endpoints.
// Anthropic is the one provider with its own wire protocol and is handled
// separately in newClient.
var compatEndpoints = map[string]compatEndpoint{
	"openai": {
		keyEnv:     "OPENAI_API_KEY",
		modelEnv:   "OPENAI_MODEL",
		baseURLEnv: "OPENAI_BASE_URL",
		defModel:   "gpt-4o-mini",
	},
	"kimi": {
		// BytePlus ModelArk endpoint
		keyEnv:     "KIMI_API_KEY",
		modelEnv:   "KIMI_MODEL",
		baseURLEnv: "KIMI_BASE_URL",
		defModel:   "kimi-k2-250711",
		defBaseURL: "https://ark.ap-southeast.bytepluses.com/api/v3",
	},
	"gemini": {
		keyEnv:     "GEMINI_API_KEY",
		modelEnv:   "GEMINI_MODEL",
		defModel:   "gemini-1.5-flash",
		defBaseURL: "https://generativelanguage.googleapis.com/v1beta/openai",
	},
	"deepseek": {
		keyEnv:     "DEEPSEEK_API_KEY",
		modelEnv:   "DEEPSEEK_MODEL",
		defModel:   "deepseek-chat",
		defBaseURL: "https://api.deepseek.com/v1",
	},
	"groq": {
		keyEnv:     "GROQ_API_KEY",
		modelEnv:   "GROQ_MODEL",
		defModel:   "llama-3.1-70b-versatile",
		defBaseURL: "https://api.groq.com/openai/v1",
	},
	"glm": {
		keyEnv:     "GLM_API_KEY",
		modelEnv:   "GLM_MODEL",
		defModel:   "glm-4-plus",
		defBaseURL: "https://open.bigmodel.cn/api/paas/v4",
	},
	"minimax": {
		keyEnv:     "MINIMAX_API_KEY",
		modelEnv:   "MINIMAX_MODEL",
		defModel:   "abab6.5s-chat",
		defBaseURL: "https://api.minimax.chat/v1",
	},
	"lmstudio": {
		keyEnv:      "LMSTUDIO_API_KEY",
		modelEnv:    "LMSTUDIO_MODEL",
		baseURLEnv:  "LMSTUDIO_BASE_URL",
		defModel:    "local-model",
		defBaseURL:  "http://localhost:1234/v1",
		keyOptional: true,
		defKey:      "lm-studio",
	},
	"ollama": {
		keyEnv:      "OLLAMA_API_KEY",
		modelEnv:    "OLLAMA_MODEL",
		baseURLEnv:  "OLLAMA_BASE_URL",
		defModel:    "llama3.1",
		defBaseURL:  "http://localhost:11434/v1",
		keyOptional: true,
		defKey:      "ollama",
	},
}

// EnvNames reports the environment variables a provider reads its key,
// model, and base URL from. baseURLEnv is empty for providers with a fixed
// endpoint.
func EnvNames(provider string) (keyEnv, modelEnv, baseURLEnv string, ok bool) {
	if provider == "anthropic" {
		return "ANTHROPIC_API_KEY", "ANTHROPIC_MODEL", "", true
	}
	ep, found := compatEndpoints[provider]
	if !found {
		return "", "", "", false
	}
	return ep.keyEnv, ep.modelEnv, ep.baseURLEnv, true
}

// modelPrefixes maps model-name families to the provider that serves them.
// Checked in order; families with no unambiguous prefix (llama models run
// on groq, lmstudio, and ollama alike) are absent and resolve through
// LLM_PROVIDER instead.
var modelPrefixes = []struct {
	prefix   string
	provider string
}{
	{"claude", "anthropic"},
	{"gpt", "openai"},
	{"chatgpt", "openai"},
	{"o1", "openai"},
	{"o3", "openai"},
	{"o4", "openai"},
	{"kimi", "kimi"},
	{"gemini", "gemini"},
	{"deepseek", "deepseek"},
	{"glm", "glm"},
	{"abab", "minimax"},
}

// ProviderForModel infers the provider from a model name's prefix, so
// "claude-sonnet-4" routes to Anthropic without any provider setting.
// Returns "" when the name matches no known family.
func ProviderForModel(model string) string {
	model = strings.ToLower(model)
	for _, p := range modelPrefixes {
		if strings.HasPrefix(model, p.prefix) {
			return p.provider
		}
	}
	return ""
}

// NewModelClient builds an engine.ModelClient for the given model name.
// The provider comes from the name's prefix when recognized, otherwise
// from LLM_PROVIDER, defaulting to openai. An empty model resolves to the
// chosen provider's configured or default model. Returns the client and
// the resolved model name.
func NewModelClient(model string) (engine.ModelClient, string, error) {
	provider := ProviderForModel(model)
	if provider == "" {
		provider = os.Getenv("LLM_PROVIDER")
	}
	if provider == "" {
		provider = "openai"
	}
	return newClient(provider, model)
}

// NewModelClientFromEnv builds a client from LLM_PROVIDER and the
// provider's environment variables alone.
func NewModelClientFromEnv() (engine.ModelClient, string, error) {
	return NewModelClient("")
}

func newClient(provider, modelName string) (engine.ModelClient, string, error) {
	if provider == "anthropic" {
		apiKey := os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, "", fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
		if modelName == "" {
			modelName = os.Getenv("ANTHROPIC_MODEL")
		}
		if modelName == "" {
			modelName = "claude-3-5-sonnet-20241022"
		}
		client, err := NewAnthropicClient(apiKey, modelName)
		if err != nil {
			return nil, "", fmt.Errorf("create anthropic client: %w", err)
		}
		return client, modelName, nil
	}

	ep, ok := compatEndpoints[provider]
	if !ok {
		return nil, "", fmt.Errorf("unknown LLM_PROVIDER: %s (supported: openai, anthropic, kimi, gemini, deepseek, groq, glm, minimax, lmstudio, ollama)", provider)
	}

	apiKey := os.Getenv(ep.keyEnv)
	if apiKey == "" {
		if !ep.keyOptional {
			return nil, "", fmt.Errorf("%s not set", ep.keyEnv)
		}
		apiKey = ep.defKey
	}

	if modelName == "" {
		modelName = os.Getenv(ep.modelEnv)
	}
	if modelName == "" {
		modelName = ep.defModel
	}

	baseURL := ep.defBaseURL
	if ep.baseURLEnv != "" {
		if override := os.Getenv(ep.baseURLEnv); override != "" {
			baseURL = override
		}
	}

	client, err := NewOpenAIClient(apiKey, modelName, baseURL)
	if err != nil {
		return nil, "", fmt.Errorf("create %s client: %w", provider, err)
	}
	return client, modelName, nil
}
