package entities

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/jmespath/go-jmespath"
	"github.com/xeipuuv/gojsonschema"

	"github.com/khalid1313/ai-customer-care-agent-sub003/runtime/sessionctx"
)

// Tracker turns tool results into mentions and cart deltas.
// It is immutable after construction and safe for concurrent use.
type Tracker struct {
	rules map[string]*compiledRule
	now   func() time.Time
}

type compiledRule struct {
	tool     string
	schema   *gojsonschema.Schema
	products *productExtractor
	orders   *orderExtractor
	cart     *cartExtractor
}

type productExtractor struct {
	items, id, name, category *jmespath.JMESPath
}

type orderExtractor struct {
	items, id, status *jmespath.JMESPath
}

type cartExtractor struct {
	items, productID, name, quantity, unitPrice *jmespath.JMESPath
	remove                                      bool
}

// New compiles rules into a Tracker. A later rule for the same tool replaces an earlier one.
func New(rules []Rule) (*Tracker, error) {
	t := &Tracker{rules: make(map[string]*compiledRule, len(rules)), now: time.Now}
	for _, r := range rules {
		cr, err := compile(r)
		if err != nil {
			return nil, err
		}
		t.rules[r.Tool] = cr
	}
	return t, nil
}

// NewFromRuleSet builds a Tracker from a manifest.
func NewFromRuleSet(rs *RuleSet) (*Tracker, error) {
	if rs == nil {
		return nil, fmt.Errorf("nil rule set")
	}
	return New(rs.Spec.Rules)
}

// Default returns a Tracker over DefaultRules.
func Default() *Tracker {
	t, err := New(DefaultRules())
	if err != nil {
		panic(err) // built-in rules always compile
	}
	return t
}

// Tools returns the tool names the tracker has rules for, sorted.
func (t *Tracker) Tools() []string {
	tools := make([]string, 0, len(t.rules))
	for tool := range t.rules {
		tools = append(tools, tool)
	}
	slices.Sort(tools)
	return tools
}

func compile(r Rule) (*compiledRule, error) {
	if r.Tool == "" {
		return nil, fmt.Errorf("extraction rule has no tool name")
	}
	if r.Products == nil && r.Orders == nil && r.Cart == nil {
		return nil, fmt.Errorf("extraction rule for %s extracts nothing", r.Tool)
	}

	cr := &compiledRule{tool: r.Tool}
	c := &pathCompiler{tool: r.Tool}

	if r.Schema != "" {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(r.Schema))
		if err != nil {
			return nil, fmt.Errorf("invalid output schema for tool %s: %w", r.Tool, err)
		}
		cr.schema = schema
	}
	if p := r.Products; p != nil {
		cr.products = &productExtractor{
			items:    c.path(p.Items, "@"),
			id:       c.path(p.ID, "id"),
			name:     c.path(p.Name, "name"),
			category: c.path(p.Category, "category"),
		}
	}
	if o := r.Orders; o != nil {
		cr.orders = &orderExtractor{
			items:  c.path(o.Items, "@"),
			id:     c.path(o.ID, "id"),
			status: c.path(o.Status, "status"),
		}
	}
	if k := r.Cart; k != nil {
		cr.cart = &cartExtractor{
			items:     c.path(k.Items, "@"),
			productID: c.path(k.ProductID, "product_id || id"),
			name:      c.path(k.Name, "name"),
			quantity:  c.path(k.Quantity, "quantity"),
			unitPrice: c.path(k.UnitPrice, "unit_price || price"),
			remove:    k.Remove,
		}
	}
	if c.err != nil {
		return nil, c.err
	}
	return cr, nil
}

// pathCompiler compiles JMESPath expressions and keeps the first error.
type pathCompiler struct {
	tool string
	err  error
}

func (c *pathCompiler) path(expr, fallback string) *jmespath.JMESPath {
	if expr == "" {
		expr = fallback
	}
	compiled, err := jmespath.Compile(expr)
	if err != nil && c.err == nil {
		c.err = fmt.Errorf("tool %s: invalid JMESPath expression %q: %w", c.tool, expr, err)
	}
	return compiled
}

// Extract processes the results of one turn in invocation order. Internal and failed
// results are skipped, as are tools without a rule. Problems with individual results
// are reported in Issues and never abort the extraction.
func (t *Tracker) Extract(results []ToolResult) Extraction {
	var ext Extraction
	now := t.now()
	for _, res := range results {
		if res.Internal || res.Error != "" {
			continue
		}
		rule, ok := t.rules[res.Tool]
		if !ok || len(res.Output) == 0 {
			continue
		}
		if err := rule.apply(res.Output, now, &ext); err != nil {
			ext.Issues = append(ext.Issues, err)
		}
	}
	return ext
}

func (r *compiledRule) apply(output json.RawMessage, now time.Time, ext *Extraction) error {
	if r.schema != nil {
		result, err := r.schema.Validate(gojsonschema.NewBytesLoader(output))
		if err != nil {
			return fmt.Errorf("validation error for tool %s: %w", r.tool, err)
		}
		if !result.Valid() {
			details := make([]string, len(result.Errors()))
			for i, desc := range result.Errors() {
				details[i] = desc.String()
			}
			return &ValidationError{Tool: r.tool, Detail: strings.Join(details, "; ")}
		}
	}

	var data any
	if err := json.Unmarshal(output, &data); err != nil {
		return fmt.Errorf("tool %s returned invalid JSON: %w", r.tool, err)
	}

	if r.products != nil {
		items, err := search(r.products.items, data)
		if err != nil {
			return fmt.Errorf("tool %s: %w", r.tool, err)
		}
		// Lists are ranked best match first; record them so the best match is most recent.
		for i := len(items) - 1; i >= 0; i-- {
			item := items[i]
			id := stringAt(r.products.id, item)
			if id == "" {
				continue
			}
			ext.Products = append(ext.Products, sessionctx.ProductRef{
				ID:          id,
				Name:        stringAt(r.products.name, item),
				Category:    stringAt(r.products.category, item),
				MentionedAt: now,
			})
		}
	}

	if r.orders != nil {
		items, err := search(r.orders.items, data)
		if err != nil {
			return fmt.Errorf("tool %s: %w", r.tool, err)
		}
		for i := len(items) - 1; i >= 0; i-- {
			item := items[i]
			id := stringAt(r.orders.id, item)
			if id == "" {
				continue
			}
			ext.Orders = append(ext.Orders, sessionctx.OrderRef{
				ID:          id,
				Status:      stringAt(r.orders.status, item),
				MentionedAt: now,
			})
		}
	}

	if r.cart != nil {
		items, err := search(r.cart.items, data)
		if err != nil {
			return fmt.Errorf("tool %s: %w", r.tool, err)
		}
		for _, item := range items {
			if delta, ok := r.cart.delta(item); ok {
				ext.CartDeltas = append(ext.CartDeltas, delta)
			}
		}
	}
	return nil
}

func (c *cartExtractor) delta(item any) (sessionctx.CartDelta, bool) {
	id := stringAt(c.productID, item)
	if id == "" {
		return sessionctx.CartDelta{}, false
	}
	d := sessionctx.CartDelta{
		ProductID: id,
		Name:      stringAt(c.name, item),
		UnitPrice: floatAt(c.unitPrice, item),
	}

	qty, hasQty := intAt(c.quantity, item)
	switch {
	case c.remove && !hasQty:
		d.RemoveAll = true
	case c.remove:
		d.QuantityDelta = -int(math.Abs(float64(qty)))
	case !hasQty:
		d.QuantityDelta = 1
	default:
		d.QuantityDelta = qty
	}
	if d.QuantityDelta == 0 && !d.RemoveAll {
		return sessionctx.CartDelta{}, false
	}
	return d, true
}

// search evaluates an items expression and normalizes the result to a list of objects.
func search(expr *jmespath.JMESPath, data any) ([]any, error) {
	v, err := expr.Search(data)
	if err != nil {
		return nil, fmt.Errorf("JMESPath error: %w", err)
	}
	switch items := v.(type) {
	case nil:
		return nil, nil
	case []any:
		return items, nil
	default:
		return []any{items}, nil
	}
}

func valueAt(expr *jmespath.JMESPath, item any) any {
	v, err := expr.Search(item)
	if err != nil {
		return nil
	}
	return v
}

func stringAt(expr *jmespath.JMESPath, item any) string {
	switch v := valueAt(expr, item).(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

func floatAt(expr *jmespath.JMESPath, item any) float64 {
	switch v := valueAt(expr, item).(type) {
	case float64:
		return v
	case string:
		f, err := strconv.ParseFloat(strings.TrimPrefix(strings.TrimSpace(v), "$"), 64)
		if err == nil {
			return f
		}
	}
	return 0
}

func intAt(expr *jmespath.JMESPath, item any) (int, bool) {
	switch v := valueAt(expr, item).(type) {
	case float64:
		return int(math.Round(v)), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err == nil {
			return n, true
		}
	}
	return 0, false
}
