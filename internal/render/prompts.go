package render

import "fmt"

// FullPhrasePrompt returns the prompt for a demonstration of a whole gloss.
func FullPhrasePrompt(gloss string) string {
	return fmt.Sprintf("A professional, high-quality ASL demonstration video for the full phrase gloss: %q. White studio background, centered framing.", gloss)
}

// MovementPrompt returns the prompt for a demonstration of one movement.
func MovementPrompt(movement string) string {
	return fmt.Sprintf("A focused ASL demonstration video for the specific movement: %q. Minimalist studio setting.", movement)
}
