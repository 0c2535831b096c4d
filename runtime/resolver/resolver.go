// Package resolver rewrites referring expressions ("it", "those headphones", "that order")
// in a user message into the concrete product or order they point at.
//
// Resolution is advisory. The resolver never fails: when nothing can be resolved the
// message is returned unchanged with Applied set to false.
package resolver

import (
	"regexp"
	"sort"
	"strings"

	"github.com/khalid1313/ai-customer-care-agent-sub003/runtime/sessionctx"
)

// EntityKind identifies what a reference was resolved against.
type EntityKind string

// Entity kinds.
const (
	KindProduct EntityKind = "product"
	KindOrder   EntityKind = "order"
)

// Substitution records a single rewritten phrase.
type Substitution struct {
	Phrase      string     `json:"phrase"`
	Replacement string     `json:"replacement"`
	EntityID    string     `json:"entity_id"`
	Kind        EntityKind `json:"kind"`
}

// Result is the outcome of resolving one message.
type Result struct {
	Original string `json:"original"`
	Resolved string `json:"resolved"`
	Applied  bool   `json:"applied"`
	// Ambiguous is set when more than one mention could have served a reference;
	// the most recent one was used.
	Ambiguous     bool           `json:"ambiguous,omitempty"`
	Substitutions []Substitution `json:"substitutions,omitempty"`
}

// EntityID returns the ID of the first substituted entity, or "".
func (r Result) EntityID() string {
	if len(r.Substitutions) == 0 {
		return ""
	}
	return r.Substitutions[0].EntityID
}

// DefaultProductNouns maps product nouns a customer may use to the fragments matched
// against a mentioned product's name and category.
var DefaultProductNouns = map[string][]string{
	"headphone": {"headphone", "headset"},
	"headset":   {"headphone", "headset"},
	"earbud":    {"earbud", "airpod", "earphone"},
	"earphone":  {"earbud", "airpod", "earphone"},
	"airpod":    {"airpod", "earbud"},
	"speaker":   {"speaker"},
	"phone":     {"phone"},
	"laptop":    {"laptop", "notebook", "macbook"},
	"tablet":    {"tablet", "ipad"},
	"watch":     {"watch"},
	"camera":    {"camera"},
	"case":      {"case"},
	"charger":   {"charger", "cable"},
	"cable":     {"cable", "charger"},
	"tv":        {"tv", "television"},
}

var (
	genericProductNouns = []string{"one", "item", "product", "thing"}
	orderNouns          = []string{"order", "package", "shipment", "delivery", "parcel"}

	// pronounPattern matches standalone object pronouns.
	pronounPattern = regexp.MustCompile(`(?i)\b(it|them|those|these)\b`)
	// demonstrativePattern matches "that"/"this" closing a clause ("how much is that?").
	demonstrativePattern = regexp.MustCompile(`(?i)\b(that|this)\s*(?:[?.!,;]|$)`)
	// pronounFollowers are words that may follow "those"/"these" used as a pronoun.
	pronounFollowers = map[string]bool{
		"": true, "to": true, "in": true, "into": true, "for": true, "from": true, "with": true,
		"and": true, "or": true, "please": true, "too": true, "now": true, "again": true,
		"on": true, "at": true, "instead": true, "as": true, "back": true, "out": true, "up": true,
		"are": true, "were": true, "is": true, "cost": true, "come": true,
	}
	// orderCuePattern selects orders over products for bare pronouns.
	orderCuePattern = regexp.MustCompile(`(?i)\b(orders?|track(?:ing)?|ship(?:ped|ping|ment)?|deliver(?:y|ed)?|package|parcel|arriv(?:e|ed|ing))\b`)
)

// Resolver substitutes the most recently mentioned matching entity for referring expressions.
// A Resolver is immutable and safe for concurrent use.
type Resolver struct {
	productNouns map[string][]string
	phrase       *regexp.Regexp
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithProductNouns replaces the product noun table.
func WithProductNouns(nouns map[string][]string) Option {
	return func(r *Resolver) {
		r.productNouns = nouns
	}
}

// New creates a Resolver.
func New(opts ...Option) *Resolver {
	r := &Resolver{productNouns: DefaultProductNouns}
	for _, opt := range opts {
		opt(r)
	}

	nouns := make([]string, 0, len(r.productNouns)+len(genericProductNouns)+len(orderNouns))
	for noun := range r.productNouns {
		nouns = append(nouns, regexp.QuoteMeta(strings.ToLower(noun)))
	}
	nouns = append(nouns, genericProductNouns...)
	nouns = append(nouns, orderNouns...)
	// Longest first so "headphone" wins over "phone".
	sort.Slice(nouns, func(i, j int) bool {
		if len(nouns[i]) != len(nouns[j]) {
			return len(nouns[i]) > len(nouns[j])
		}
		return nouns[i] < nouns[j]
	})
	r.phrase = regexp.MustCompile(`(?i)\b(?:those|these|that|this|the|them|same)\s+(` +
		strings.Join(nouns, "|") + `)(?:s|es)?\b`)
	return r
}

// span is a candidate reference inside the message.
type span struct {
	start, end int
	kind       EntityKind
	noun       string
}

// Resolve rewrites references in message using the mentions recorded in c.
// c is only read.
func (r *Resolver) Resolve(message string, c *sessionctx.Context) Result {
	result := Result{Original: message, Resolved: message}
	if c == nil || strings.TrimSpace(message) == "" {
		return result
	}
	if len(c.MentionedProducts) == 0 && len(c.MentionedOrders) == 0 {
		return result
	}

	spans := r.findSpans(message)
	if len(spans) == 0 {
		return result
	}

	var b strings.Builder
	last := 0
	for _, sp := range spans {
		replacement, entityID, ambiguous, ok := r.lookup(sp.kind, sp.noun, c)
		if !ok && sp.noun == "" {
			// A bare pronoun can still point at the other kind of entity.
			sp.kind = otherKind(sp.kind)
			replacement, entityID, ambiguous, ok = r.lookup(sp.kind, "", c)
		}
		if !ok {
			continue
		}
		b.WriteString(message[last:sp.start])
		b.WriteString(replacement)
		last = sp.end

		result.Ambiguous = result.Ambiguous || ambiguous
		result.Substitutions = append(result.Substitutions, Substitution{
			Phrase:      message[sp.start:sp.end],
			Replacement: replacement,
			EntityID:    entityID,
			Kind:        sp.kind,
		})
	}
	if len(result.Substitutions) == 0 {
		return result
	}
	b.WriteString(message[last:])

	result.Resolved = b.String()
	result.Applied = true
	return result
}

// findSpans returns non-overlapping references in message order. Noun phrases take
// precedence over bare pronouns covering the same text.
func (r *Resolver) findSpans(message string) []span {
	orderCue := orderCuePattern.MatchString(message)
	pronounKind := KindProduct
	if orderCue {
		pronounKind = KindOrder
	}

	var spans []span
	for _, m := range r.phrase.FindAllStringSubmatchIndex(message, -1) {
		noun := strings.ToLower(message[m[2]:m[3]])
		kind := KindProduct
		if containsString(orderNouns, noun) {
			kind = KindOrder
		}
		spans = append(spans, span{start: m[0], end: m[1], kind: kind, noun: noun})
	}

	for _, m := range pronounPattern.FindAllStringSubmatchIndex(message, -1) {
		// "it's" is a contraction, not a reference.
		if m[3] < len(message) && message[m[3]] == '\'' {
			continue
		}
		// "those sneakers" uses "those" as a determiner for a noun we do not know.
		word := strings.ToLower(message[m[2]:m[3]])
		if (word == "those" || word == "these") && !pronounFollower(nextWord(message, m[3])) {
			continue
		}
		spans = appendIfFree(spans, span{start: m[2], end: m[3], kind: pronounKind})
	}
	for _, m := range demonstrativePattern.FindAllStringSubmatchIndex(message, -1) {
		spans = appendIfFree(spans, span{start: m[2], end: m[3], kind: pronounKind})
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	return spans
}

// lookup picks the most recent mention of the given kind, filtered by noun.
func (r *Resolver) lookup(kind EntityKind, noun string, c *sessionctx.Context) (replacement, id string, ambiguous, ok bool) {
	if kind == KindOrder {
		order, found := c.LatestOrder()
		if !found {
			return "", "", false, false
		}
		return order.DisplayName(), order.ID, len(c.MentionedOrders) > 1, true
	}

	match := r.productMatcher(noun)
	product, found := c.LatestProduct(match)
	if !found {
		return "", "", false, false
	}

	candidates := 0
	for _, p := range c.MentionedProducts {
		if match == nil || match(p) {
			candidates++
		}
	}

	name := product.Name
	if name == "" {
		name = product.ID
	}
	return name, product.ID, candidates > 1, true
}

// productMatcher returns a filter for a product noun, or nil for generic references.
// A product matches when its name or category contains one of the noun's fragments.
func (r *Resolver) productMatcher(noun string) func(sessionctx.ProductRef) bool {
	fragments, ok := r.productNouns[noun]
	if !ok || len(fragments) == 0 {
		return nil
	}
	return func(p sessionctx.ProductRef) bool {
		name := strings.ToLower(p.Name)
		category := strings.ToLower(p.Category)
		for _, f := range fragments {
			if strings.Contains(name, f) || strings.Contains(category, f) {
				return true
			}
		}
		return false
	}
}

func pronounFollower(word string) bool {
	return pronounFollowers[word]
}

// nextWord returns the lower-cased letters of the word starting after pos, skipping spaces.
// Punctuation or the end of the message yields "".
func nextWord(message string, pos int) string {
	for pos < len(message) && message[pos] == ' ' {
		pos++
	}
	end := pos
	for end < len(message) {
		ch := message[end]
		if (ch < 'a' || ch > 'z') && (ch < 'A' || ch > 'Z') {
			break
		}
		end++
	}
	return strings.ToLower(message[pos:end])
}

func otherKind(k EntityKind) EntityKind {
	if k == KindOrder {
		return KindProduct
	}
	return KindOrder
}

func appendIfFree(spans []span, candidate span) []span {
	for _, sp := range spans {
		if candidate.start < sp.end && sp.start < candidate.end {
			return spans
		}
	}
	return append(spans, candidate)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
