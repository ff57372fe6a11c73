// Package tokenizer turns transcripts into the integer sequences fed to the
// text-to-speech model.
//
// Two implementations share the Tokenizer interface:
//   - Chars: the Tacotron symbol set (pad "_", end-of-sequence "~", space, punctuation
//     and lowercase letters). Text is passed through CleanEnglish first.
//   - TikToken: OpenAI BPE encodings via github.com/pkoukk/tiktoken-go, for
//     experiments with subword inputs.
//
// Both reserve ID 0 for padding, which the data pipeline uses to fill text_len.
//
// Example usage:
//
//	tok, err := tokenizer.New("chars")
//	if err != nil {
//	    return err
//	}
//	ids, err := tok.Encode("Dr. Smith paid $5 on May 3rd.")
//	// ids spell "doctor smith paid five dollars on may third.~"
package tokenizer
