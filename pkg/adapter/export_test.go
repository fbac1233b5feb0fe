package adapter

import "google.golang.org/genai"

// NewGeminiWithoutClient builds a client that can only be used for option handling
func NewGeminiWithoutClient(opts ...GeminiOption) *GeminiClient {
	g := &GeminiClient{}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *GeminiClient) GenerateConfig(config *genai.GenerateContentConfig) *genai.GenerateContentConfig {
	return g.generateConfig(config)
}
