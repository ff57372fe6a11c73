package tokenizer

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	commaNumberRe = regexp.MustCompile(`([0-9][0-9,]+[0-9])`)
	dollarsRe     = regexp.MustCompile(`\$([0-9.,]*[0-9]+)`)
	poundsRe      = regexp.MustCompile(`£([0-9,]*[0-9]+)`)
	decimalRe     = regexp.MustCompile(`([0-9]+\.[0-9]+)`)
	ordinalRe     = regexp.MustCompile(`([0-9]+)(st|nd|rd|th)\b`)
	numberRe      = regexp.MustCompile(`[0-9]+`)
)

var (
	smallNumbers = []string{
		"zero", "one", "two", "three", "four", "five", "six", "seven", "eight", "nine",
		"ten", "eleven", "twelve", "thirteen", "fourteen", "fifteen", "sixteen",
		"seventeen", "eighteen", "nineteen",
	}
	tensNames = []string{
		"", "", "twenty", "thirty", "forty", "fifty", "sixty", "seventy", "eighty", "ninety",
	}
	scales = []struct {
		value int64
		name  string
	}{
		{1_000_000_000_000, "trillion"},
		{1_000_000_000, "billion"},
		{1_000_000, "million"},
		{1_000, "thousand"},
	}
	irregularOrdinals = map[string]string{
		"one": "first", "two": "second", "three": "third", "five": "fifth",
		"eight": "eighth", "nine": "ninth", "twelve": "twelfth",
	}
)

// expandNumbers spells out currency, decimals, ordinals and integers in text.
func expandNumbers(text string) string {
	text = commaNumberRe.ReplaceAllStringFunc(text, func(m string) string {
		return strings.ReplaceAll(m, ",", "")
	})
	text = poundsRe.ReplaceAllString(text, "${1} pounds")
	text = dollarsRe.ReplaceAllStringFunc(text, func(m string) string {
		return expandDollars(m[1:])
	})
	text = decimalRe.ReplaceAllStringFunc(text, expandDecimal)
	text = ordinalRe.ReplaceAllStringFunc(text, func(m string) string {
		sub := ordinalRe.FindStringSubmatch(m)
		n, err := strconv.ParseInt(sub[1], 10, 64)
		if err != nil {
			return m
		}
		return ordinal(spellNumber(n))
	})
	return numberRe.ReplaceAllStringFunc(text, func(m string) string {
		n, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			// Too long for int64: read it digit by digit.
			return spellDigits(m)
		}
		return spellYearOrNumber(n)
	})
}

func expandDollars(amount string) string {
	parts := strings.Split(amount, ".")
	if len(parts) > 2 {
		return amount + " dollars"
	}
	dollars, _ := strconv.ParseInt(parts[0], 10, 64)
	var cents int64
	if len(parts) == 2 && parts[1] != "" {
		cents, _ = strconv.ParseInt(parts[1], 10, 64)
	}
	unit := func(n int64, one, many string) string {
		if n == 1 {
			return spellNumber(n) + " " + one
		}
		return spellNumber(n) + " " + many
	}
	switch {
	case dollars > 0 && cents > 0:
		return unit(dollars, "dollar", "dollars") + ", " + unit(cents, "cent", "cents")
	case dollars > 0:
		return unit(dollars, "dollar", "dollars")
	case cents > 0:
		return unit(cents, "cent", "cents")
	default:
		return "zero dollars"
	}
}

func expandDecimal(m string) string {
	whole, frac, _ := strings.Cut(m, ".")
	n, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return spellDigits(whole) + " point " + spellDigits(frac)
	}
	return spellNumber(n) + " point " + spellDigits(frac)
}

func spellDigits(digits string) string {
	words := make([]string, 0, len(digits))
	for _, d := range digits {
		if d >= '0' && d <= '9' {
			words = append(words, smallNumbers[d-'0'])
		}
	}
	return strings.Join(words, " ")
}

// spellYearOrNumber reads values between 1000 and 3000 the way years are spoken.
func spellYearOrNumber(n int64) string {
	if n <= 1000 || n >= 3000 {
		return spellNumber(n)
	}
	switch {
	case n == 2000:
		return "two thousand"
	case n > 2000 && n < 2010:
		return "two thousand " + spellNumber(n%100)
	case n%100 == 0:
		return spellNumber(n/100) + " hundred"
	case n%100 < 10:
		return spellNumber(n/100) + " oh " + spellNumber(n%100)
	default:
		return spellNumber(n/100) + " " + spellNumber(n%100)
	}
}

// spellNumber spells a non-negative integer in English words.
func spellNumber(n int64) string {
	if n < 0 {
		return "minus " + spellNumber(-n)
	}
	if n < 20 {
		return smallNumbers[n]
	}
	if n < 100 {
		s := tensNames[n/10]
		if n%10 != 0 {
			s += " " + smallNumbers[n%10]
		}
		return s
	}
	if n < 1000 {
		s := smallNumbers[n/100] + " hundred"
		if n%100 != 0 {
			s += " " + spellNumber(n%100)
		}
		return s
	}
	for _, sc := range scales {
		if n >= sc.value {
			s := spellNumber(n/sc.value) + " " + sc.name
			if r := n % sc.value; r != 0 {
				s += " " + spellNumber(r)
			}
			return s
		}
	}
	return spellDigits(strconv.FormatInt(n, 10))
}

// ordinal turns spelled cardinal words into their ordinal form.
func ordinal(words string) string {
	i := strings.LastIndexByte(words, ' ')
	head, last := words[:i+1], words[i+1:]
	if irr, ok := irregularOrdinals[last]; ok {
		return head + irr
	}
	if strings.HasSuffix(last, "y") {
		return head + strings.TrimSuffix(last, "y") + "ieth"
	}
	return head + last + "th"
}
