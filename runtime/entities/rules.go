package entities

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// RuleSetKind is the manifest kind accepted by LoadRuleSet.
const RuleSetKind = "ExtractionRules"

// ProductPaths locates products in a tool output. Items is evaluated against the whole
// output and may yield a list or a single object; the other paths are evaluated against
// each item. Empty paths take the defaults "@", "id", "name" and "category".
type ProductPaths struct {
	Items    string `yaml:"items,omitempty" json:"items,omitempty"`
	ID       string `yaml:"id,omitempty" json:"id,omitempty"`
	Name     string `yaml:"name,omitempty" json:"name,omitempty"`
	Category string `yaml:"category,omitempty" json:"category,omitempty"`
}

// OrderPaths locates orders in a tool output. Defaults: "@", "id", "status".
type OrderPaths struct {
	Items  string `yaml:"items,omitempty" json:"items,omitempty"`
	ID     string `yaml:"id,omitempty" json:"id,omitempty"`
	Status string `yaml:"status,omitempty" json:"status,omitempty"`
}

// CartPaths locates cart lines in a tool output.
// Defaults: "@", "product_id || id", "name", "quantity", "unit_price || price".
//
// For additions a missing quantity means one unit. With Remove set, quantities are
// subtracted and a missing quantity removes the whole line.
type CartPaths struct {
	Items     string `yaml:"items,omitempty" json:"items,omitempty"`
	ProductID string `yaml:"product_id,omitempty" json:"product_id,omitempty"`
	Name      string `yaml:"name,omitempty" json:"name,omitempty"`
	Quantity  string `yaml:"quantity,omitempty" json:"quantity,omitempty"`
	UnitPrice string `yaml:"unit_price,omitempty" json:"unit_price,omitempty"`
	Remove    bool   `yaml:"remove,omitempty" json:"remove,omitempty"`
}

// Rule tells the tracker what a tool's output contributes.
type Rule struct {
	Tool string `yaml:"tool" json:"tool"`
	// Schema is an optional JSON schema the output must satisfy.
	Schema   string        `yaml:"schema,omitempty" json:"schema,omitempty"`
	Products *ProductPaths `yaml:"products,omitempty" json:"products,omitempty"`
	Orders   *OrderPaths   `yaml:"orders,omitempty" json:"orders,omitempty"`
	Cart     *CartPaths    `yaml:"cart,omitempty" json:"cart,omitempty"`
}

// RuleSetSpec is the body of an ExtractionRules manifest.
type RuleSetSpec struct {
	Rules []Rule `yaml:"rules"`
}

// RuleSet is a K8s-style manifest of extraction rules.
type RuleSet struct {
	APIVersion string            `yaml:"apiVersion"`
	Kind       string            `yaml:"kind"`
	Metadata   metav1.ObjectMeta `yaml:"metadata,omitempty"`
	Spec       RuleSetSpec       `yaml:"spec"`
}

// ParseRuleSet decodes an ExtractionRules manifest.
func ParseRuleSet(data []byte) (*RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("failed to parse extraction rules: %w", err)
	}
	if rs.Kind != RuleSetKind {
		return nil, fmt.Errorf("unexpected kind %q, want %q", rs.Kind, RuleSetKind)
	}
	if len(rs.Spec.Rules) == 0 {
		return nil, fmt.Errorf("extraction rules %q: no rules", rs.Metadata.Name)
	}
	return &rs, nil
}

// LoadRuleSet reads an ExtractionRules manifest from disk.
func LoadRuleSet(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read extraction rules file: %w", err)
	}
	return ParseRuleSet(data)
}

// DefaultRules returns rules for the retail support tools.
//
// Expected outputs:
//
//	search_products      {"products": [{"id", "name", "category", "price"}]}
//	get_product_details  {"product": {...}} or the product object itself
//	track_order          {"order": {"id", "status"}} or {"order_id", "status"}
//	list_orders          {"orders": [{"id", "status"}]}
//	add_to_cart          {"product_id", "name", "quantity", "unit_price"}
//	remove_from_cart     {"product_id", "quantity"?}
func DefaultRules() []Rule {
	orderByID := &OrderPaths{Items: "order || @", ID: "order_id || id"}
	cartProduct := &ProductPaths{ID: "product_id || id"}
	return []Rule{
		{Tool: "search_products", Products: &ProductPaths{Items: "products || results"}},
		{Tool: "get_product_details", Products: &ProductPaths{Items: "product || @"}},
		{Tool: "compare_products", Products: &ProductPaths{Items: "products"}},
		{Tool: "track_order", Orders: orderByID},
		{Tool: "get_order_status", Orders: orderByID},
		{Tool: "list_orders", Orders: &OrderPaths{Items: "orders", ID: "order_id || id"}},
		{Tool: "add_to_cart", Products: cartProduct, Cart: &CartPaths{}},
		{Tool: "remove_from_cart", Cart: &CartPaths{Remove: true}},
	}
}
