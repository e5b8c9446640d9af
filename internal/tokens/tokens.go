// Package tokens estimates token counts for budget enforcement. The estimate
// is a heuristic over word and punctuation boundaries; exact counts depend on
// the downstream model's tokenizer, which the engine does not know.
package tokens

import "unicode"

// Count estimates the number of tokens in text.
func Count(text string) int {
	if text == "" {
		return 0
	}

	words := 0
	inWord := false
	punct := 0
	inPunct := false

	for _, char := range text {
		isWordChar := unicode.IsLetter(char) || unicode.IsNumber(char) || char == '\''
		if isWordChar && !inWord {
			inWord = true
			words++
		} else if !isWordChar && inWord {
			inWord = false
		}

		isPunct := unicode.IsPunct(char) && char != '\''
		if isPunct && !inPunct {
			inPunct = true
			punct++
		} else if !isPunct && inPunct {
			inPunct = false
		}
	}

	return words + punct
}
