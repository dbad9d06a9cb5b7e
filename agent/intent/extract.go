package intent

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// Stop words removed before a message becomes a catalog search term.
// Greeting words, pronouns and politeness particles carry no signal.
var searchStopWords = map[string]struct{}{
	"quero": {}, "busco": {}, "procuro": {}, "tem": {}, "têm": {},
	"vende": {}, "vendem": {}, "gostaria": {}, "poderia": {}, "pode": {},
	"me": {}, "mostrar": {}, "ver": {}, "o": {}, "a": {}, "um": {},
	"uma": {}, "os": {}, "as": {}, "de": {}, "do": {}, "da": {},
	"oi": {}, "ola": {}, "olá": {}, "opa": {}, "hey": {},
	"bom": {}, "boa": {}, "dia": {}, "tarde": {}, "noite": {},
	"por": {}, "favor": {}, "voce": {}, "você": {}, "voces": {},
	"vocês": {}, "vc": {}, "eu": {}, "aqui": {}, "ai": {}, "aí": {},
}

// SearchTerm extracts the product search term from a message: strip
// punctuation and stop words, fold plurals toward a singular
// approximation. Returns "" when nothing useful is left.
func SearchTerm(message string) string {
	lower := strings.ToLower(strings.TrimSpace(message))
	lower = strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) {
			return -1
		}
		return r
	}, lower)

	var kept []string
	for _, w := range strings.Fields(lower) {
		if _, stop := searchStopWords[w]; stop {
			continue
		}
		kept = append(kept, singularize(w))
	}
	return strings.Join(kept, " ")
}

// singularize folds common Portuguese plural suffixes. A heuristic
// approximation, good enough for substring catalog matching.
func singularize(word string) string {
	if len(word) < 4 || !strings.HasSuffix(word, "s") {
		return word
	}
	switch {
	case strings.HasSuffix(word, "ões"):
		return strings.TrimSuffix(word, "ões") + "ão"
	case strings.HasSuffix(word, "ães"):
		return strings.TrimSuffix(word, "ães") + "ão"
	case strings.HasSuffix(word, "ais"):
		return strings.TrimSuffix(word, "ais") + "al"
	case strings.HasSuffix(word, "es"):
		runes := []rune(word)
		if len(runes) >= 3 && isVowel(runes[len(runes)-3]) {
			return string(runes[:len(runes)-1])
		}
		return string(runes[:len(runes)-2])
	case strings.HasSuffix(word, "is"):
		return strings.TrimSuffix(word, "s")
	default:
		return strings.TrimSuffix(word, "s")
	}
}

func isVowel(r rune) bool {
	switch r {
	case 'a', 'e', 'i', 'o', 'u', 'á', 'é', 'í', 'ó', 'ú', 'â', 'ê', 'ô', 'ã', 'õ':
		return true
	}
	return false
}

var writtenNumbers = map[string]int{
	"um": 1, "uma": 1,
	"dois": 2, "duas": 2,
	"três": 3, "tres": 3,
	"quatro": 4,
	"cinco": 5,
}

var (
	explicitQuantity = regexp.MustCompile(`\b(\d+)\s*(unidades?|un\b|kg|kilos?|quilos?|pe[cç]as?)`)
	// Selection syntax whose number is an item pick, never a quantity.
	selectionSyntax      = regexp.MustCompile(`(n[uú]mero|item|#)\s*(\d+|um|uma|dois|duas|tr[eê]s|tres|quatro|cinco)`)
	bareNumber           = regexp.MustCompile(`\b(\d+)\b`)
	writtenNumberPattern = regexp.MustCompile(`\b(um|uma|dois|duas|tr[eê]s|quatro|cinco)\b`)
	ordinalPattern       = regexp.MustCompile(`\b(primeir[oa]|segund[oa]|terceir[oa]|quart[oa]|quint[oa])\b`)
)

// Quantity extracts how many units the customer asked for. Explicit
// unit phrases win; numbers that are item-selection syntax ("numero 2",
// "#2", "item 2") are excluded; written-out small numbers are a last
// resort; default is 1.
func Quantity(message string) int {
	lower := strings.ToLower(message)

	if m := explicitQuantity.FindStringSubmatch(lower); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			return n
		}
	}

	stripped := selectionSyntax.ReplaceAllString(lower, " ")

	if m := bareNumber.FindStringSubmatch(stripped); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			return n
		}
	}

	if m := writtenNumberPattern.FindString(stripped); m != "" {
		return writtenNumbers[m]
	}

	return 1
}

var ordinalNumbers = map[string]int{
	"primeiro": 1, "primeira": 1,
	"segundo": 2, "segunda": 2,
	"terceiro": 3, "terceira": 3,
	"quarto": 4, "quarta": 4,
	"quinto": 5, "quinta": 5,
}

// ItemNumber extracts a 1-based pick from a numbered product list, or
// 0 when the message has none. Digits win over written ordinals and
// cardinals, which only go up to five because the bot never lists more.
func ItemNumber(message string) int {
	lower := strings.ToLower(message)

	if m := bareNumber.FindStringSubmatch(lower); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			return n
		}
	}

	if m := ordinalPattern.FindString(lower); m != "" {
		return ordinalNumbers[m]
	}
	if m := writtenNumberPattern.FindString(lower); m != "" {
		return writtenNumbers[m]
	}

	return 0
}

// ItemNumbers extracts every item pick in a message, for multi-item
// operations like "remove 1 e 2". Sorted ascending, deduplicated.
func ItemNumbers(message string) []int {
	lower := strings.ToLower(message)
	seen := map[int]struct{}{}
	var out []int

	for _, m := range bareNumber.FindAllStringSubmatch(lower, -1) {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			if _, dup := seen[n]; !dup {
				seen[n] = struct{}{}
				out = append(out, n)
			}
		}
	}
	for _, m := range ordinalPattern.FindAllString(lower, -1) {
		n := ordinalNumbers[m]
		if _, dup := seen[n]; !dup {
			seen[n] = struct{}{}
			out = append(out, n)
		}
	}

	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j] < out[j-1]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
