package topic

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// Topic labels.
const (
	Products = "products"
	Orders   = "orders"
	Cart     = "cart"
	Returns  = "returns"
	Billing  = "billing"
	Support  = "support"
	General  = "general"
)

// RuleSetKind is the manifest kind accepted by LoadRuleSet.
const RuleSetKind = "TopicRules"

// Rule maps keywords and tool names to a topic.
type Rule struct {
	Topic    string   `yaml:"topic" json:"topic"`
	Keywords []string `yaml:"keywords,omitempty" json:"keywords,omitempty"`
	Tools    []string `yaml:"tools,omitempty" json:"tools,omitempty"`
}

// RuleSetSpec is the body of a TopicRules manifest.
type RuleSetSpec struct {
	Rules      []Rule   `yaml:"rules"`
	Greetings  []string `yaml:"greetings,omitempty"`
	ToolWeight float64  `yaml:"tool_weight,omitempty"`
}

// RuleSet is a K8s-style manifest holding a topic rule table.
//
//	apiVersion: ctxengine/v1alpha1
//	kind: TopicRules
//	metadata:
//	  name: retail
//	spec:
//	  rules:
//	    - topic: products
//	      keywords: [headphones, price]
//	      tools: [search_products]
type RuleSet struct {
	APIVersion string            `yaml:"apiVersion"`
	Kind       string            `yaml:"kind"`
	Metadata   metav1.ObjectMeta `yaml:"metadata,omitempty"`
	Spec       RuleSetSpec       `yaml:"spec"`
}

var labelPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// Validate checks that every rule names a topic and carries at least one signal.
func (rs *RuleSet) Validate() error {
	if rs.Kind != RuleSetKind {
		return fmt.Errorf("unexpected kind %q, want %q", rs.Kind, RuleSetKind)
	}
	return validateRules(rs.Spec.Rules)
}

func validateRules(rules []Rule) error {
	if len(rules) == 0 {
		return fmt.Errorf("rule set has no rules")
	}
	for i, r := range rules {
		if !labelPattern.MatchString(r.Topic) {
			return fmt.Errorf("rule %d: invalid topic %q", i, r.Topic)
		}
		if r.Topic == General {
			return fmt.Errorf("rule %d: %q is the fallback topic and cannot have rules", i, General)
		}
		if len(r.Keywords) == 0 && len(r.Tools) == 0 {
			return fmt.Errorf("rule %d (%s): no keywords or tools", i, r.Topic)
		}
	}
	return nil
}

// ParseRuleSet decodes and validates a TopicRules manifest.
func ParseRuleSet(data []byte) (*RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("failed to parse topic rules: %w", err)
	}
	if err := rs.Validate(); err != nil {
		return nil, fmt.Errorf("invalid topic rules %q: %w", rs.Metadata.Name, err)
	}
	return &rs, nil
}

// LoadRuleSet reads a TopicRules manifest from disk.
func LoadRuleSet(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read topic rules file: %w", err)
	}
	return ParseRuleSet(data)
}

// DefaultGreetings are words that make up conversational openers and closers.
var DefaultGreetings = []string{
	"hi", "hello", "hey", "hiya", "yo", "howdy", "greetings",
	"good", "morning", "afternoon", "evening", "there",
	"thanks", "thank", "you", "thx", "cheers", "ok", "okay", "great", "cool", "awesome",
	"bye", "goodbye",
}

// DefaultRules returns the built-in retail support rule table.
func DefaultRules() []Rule {
	return []Rule{
		{
			Topic: Products,
			Keywords: []string{
				"product", "products", "headphone", "headphones", "earbuds", "airpods", "speaker", "speakers",
				"laptop", "laptops", "phone", "phones", "tablet", "tablets", "camera", "cameras",
				"price", "prices", "cost", "in stock", "availability", "recommend", "compare",
				"specs", "specifications", "features", "brand", "model", "show me", "looking for",
			},
			Tools: []string{"search_products", "get_product_details", "check_inventory", "compare_products"},
		},
		{
			Topic: Orders,
			Keywords: []string{
				"order", "orders", "track", "tracking", "shipped", "shipping", "shipment",
				"delivery", "delivered", "arrive", "package", "where is my",
			},
			Tools: []string{"track_order", "get_order_status", "list_orders", "cancel_order"},
		},
		{
			Topic:    Cart,
			Keywords: []string{"cart", "basket", "checkout", "add", "remove", "quantity"},
			Tools:    []string{"add_to_cart", "remove_from_cart", "view_cart", "update_cart", "checkout"},
		},
		{
			Topic: Returns,
			Keywords: []string{
				"return", "returns", "returning", "refund", "refunds", "exchange", "send back",
				"damaged", "defective", "broken", "wrong item",
			},
			Tools: []string{"initiate_return", "get_return_status", "request_refund"},
		},
		{
			Topic: Billing,
			Keywords: []string{
				"bill", "billing", "invoice", "charge", "charged", "payment", "pay",
				"credit card", "receipt", "subscription",
			},
			Tools: []string{"get_invoice", "get_payment_status", "update_payment_method"},
		},
		{
			Topic: Support,
			Keywords: []string{
				"support", "agent", "human", "representative", "problem", "issue", "complaint",
				"contact", "warranty", "not working", "password", "login", "account",
			},
			Tools: []string{"create_ticket", "escalate_to_human", "search_faq"},
		},
	}
}

// compiledRule is a Rule with its keyword pattern built.
type compiledRule struct {
	topic    string
	keywords *regexp.Regexp
	tools    map[string]bool
}

func compileRule(r Rule) compiledRule {
	cr := compiledRule{topic: r.Topic, tools: make(map[string]bool, len(r.Tools))}
	for _, tool := range r.Tools {
		cr.tools[tool] = true
	}
	cr.keywords = wordPattern(r.Keywords)
	return cr
}

// wordPattern builds a case-insensitive whole-word alternation, longest phrase first.
// It returns nil when words holds nothing to match.
func wordPattern(words []string) *regexp.Regexp {
	parts := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.TrimSpace(strings.ToLower(w))
		if w == "" {
			continue
		}
		parts = append(parts, strings.Join(strings.Fields(regexp.QuoteMeta(w)), `\s+`))
	}
	if len(parts) == 0 {
		return nil
	}
	sort.Slice(parts, func(i, j int) bool {
		if len(parts[i]) != len(parts[j]) {
			return len(parts[i]) > len(parts[j])
		}
		return parts[i] < parts[j]
	})
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(parts, "|") + `)\b`)
}
