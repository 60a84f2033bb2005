package port

type TokenCounter interface {
	CountTokens(text string) int
}
