package intent

import (
	"regexp"
	"strings"
)

var greetingPrefixes = []string{
	"oi", "olá", "ola", "bom dia", "boa tarde",
	"boa noite", "hey", "alo", "alô", "opa",
}

// StartsWithGreeting reports whether the message opens with a greeting,
// even if it goes on to say something else.
func StartsWithGreeting(message string) bool {
	lower := strings.ToLower(strings.TrimSpace(message))
	for _, g := range greetingPrefixes {
		if strings.HasPrefix(lower, g) {
			return true
		}
	}
	return false
}

var greetingOnly = map[string]struct{}{
	"oi": {}, "olá": {}, "ola": {}, "bom dia": {}, "boa tarde": {},
	"boa noite": {}, "hey": {}, "alo": {}, "alô": {}, "opa": {},
	"e ai": {}, "e aí": {}, "eai": {},
	"oi tudo bem": {}, "ola tudo bem": {}, "olá tudo bem": {},
}

// IsGreetingOnly reports whether the message is nothing but a greeting.
func IsGreetingOnly(message string) bool {
	cleaned := strings.ToLower(strings.TrimSpace(message))
	cleaned = strings.NewReplacer("!", "", "?", "", ".", "", ",", "").Replace(cleaned)
	cleaned = strings.TrimSpace(cleaned)
	_, ok := greetingOnly[cleaned]
	return ok
}

var genericProductPatterns = compileAll(
	`quais? queijos? (você |voce |vc )?tem`,
	`que queijos? (você |voce |vc )?tem`,
	`o que (você |voce |vc )?tem`,
	`tem quai(s|l)`,
	`(o que|que) .*dispon[ií]ve(l|is)`,
	`teria alguma sugest(ão|ao)`,
	`pode sugerir`,
	`me sugere`,
	`tipos? de queijo`,
	`variedades? de queijo`,
	`op[cç][oõ]es de queijo`,
	`(pode\s+)?(mostrar|mostra|listar)\s+(os\s+)?que`,
	`\btem\s+mais\b`,
	`\boutros?\b`,
	`\boutras?\s+op[cç][oõ]es\b`,
)

// IsGenericProductQuestion reports whether the customer is asking for
// the catalog at large rather than a specific product.
func IsGenericProductQuestion(message string) bool {
	return matchAny(genericProductPatterns, message)
}

var farewellPatterns = compileAll(
	`vou (dar uma )?olha(r|da)`,
	`vou ver`,
	`vou pensar`,
	`depois (eu )?volto`,
	`(até|ate) (logo|mais|breve)`,
	`tchau`,
	`falou`,
	`valeu.*tchau`,
	`vo(u|lto) (mais tarde|depois)`,
)

// IsFarewell reports whether the customer is wrapping the conversation
// up without buying.
func IsFarewell(message string) bool {
	return matchAny(farewellPatterns, message)
}

var previousChoicePatterns = compileAll(
	`\bmais\s+(um|uma|dois|duas|\d+)\s+\w+`,
	`\boutr[oa]\s+\w+`,
	`\baquele\s+\w+`,
	`\bmesm[oa]\s+\w+`,
)

// RefersToPreviousChoice reports whether the message points back at a
// product picked earlier ("mais um daquele", "outro queijo").
func RefersToPreviousChoice(message string) bool {
	return matchAny(previousChoicePatterns, message)
}

func matchAny(patterns []*regexp.Regexp, message string) bool {
	lower := strings.ToLower(message)
	for _, p := range patterns {
		if p.MatchString(lower) {
			return true
		}
	}
	return false
}
