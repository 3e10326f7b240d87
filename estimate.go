package arktrans

// EstimateTokens provides a rough token count estimate for a text.
// Uses the approximation: ~4 bytes per token.
func EstimateTokens(text string) int {
	return len(text) / 4
}
