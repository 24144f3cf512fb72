// Package chunker splits review text into overlapping fixed-size windows.
//
// Windows are measured in runes, so offsets stay valid for any UTF-8 input.
//
// # Basic Usage
//
//	c, err := chunker.New(chunker.DefaultOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	for offset, text := range c.Windows(review) {
//	    fmt.Printf("window at %d: %d runes\n", offset, utf8.RuneCountInString(text))
//	}
//
// # Windowing Rules
//
// Text no longer than Size produces exactly one window at offset 0. Longer
// text produces windows starting at 0, step, 2*step and so on, where
// step = Size - Overlap. A window after the first that is shorter than the
// minimum length ends the sequence; it is discarded because its predecessor
// already covers it.
//
// The minimum length is clamped to Overlap. A tail shorter than the overlap
// always lies inside the previous window, so every rune of the input is
// covered by at least one window for any Size > Overlap >= 0.
//
// # Defaults
//
//	Size:      1200 runes
//	Overlap:   200 runes
//	MinLength: 100 runes
//
// # Laziness
//
// Windows returns an iter.Seq2 that computes nothing until ranged over and can
// be ranged over any number of times with identical results.
package chunker
