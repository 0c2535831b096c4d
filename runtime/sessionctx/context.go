package sessionctx

import (
	"maps"
	"slices"
	"sort"
	"time"
)

// New returns an empty context for the session: no topic, empty collections and
// zero timestamps. The store stamps them on the first save.
func New(sessionID string) *Context {
	return &Context{
		SessionID:           sessionID,
		SchemaVersion:       SchemaVersion,
		MentionedProducts:   []ProductRef{},
		MentionedOrders:     []OrderRef{},
		CartItems:           map[string]CartItem{},
		ConversationHistory: []TurnRecord{},
	}
}

// Clone returns a deep copy of the context.
func (c *Context) Clone() *Context {
	if c == nil {
		return nil
	}
	cp := *c
	cp.MentionedProducts = slices.Clone(c.MentionedProducts)
	cp.MentionedOrders = slices.Clone(c.MentionedOrders)
	cp.CartItems = maps.Clone(c.CartItems)
	cp.ConversationHistory = make([]TurnRecord, len(c.ConversationHistory))
	for i, rec := range c.ConversationHistory {
		rec.ToolsUsed = slices.Clone(rec.ToolsUsed)
		cp.ConversationHistory[i] = rec
	}
	cp.normalize()
	return &cp
}

// normalize replaces nil collections with empty ones so that records
// decoded from older or hand-written JSON behave like fresh contexts.
func (c *Context) normalize() {
	if c.MentionedProducts == nil {
		c.MentionedProducts = []ProductRef{}
	}
	if c.MentionedOrders == nil {
		c.MentionedOrders = []OrderRef{}
	}
	if c.CartItems == nil {
		c.CartItems = map[string]CartItem{}
	}
	if c.ConversationHistory == nil {
		c.ConversationHistory = []TurnRecord{}
	}
}

// Normalize fills in nil collections. Stores call it after decoding a record.
func (c *Context) Normalize() {
	c.normalize()
	if c.SchemaVersion == "" {
		c.SchemaVersion = SchemaVersion
	}
}

// MentionProduct records a product mention. A product already present is moved
// to the most-recent position; a non-empty name or category replaces the old one.
func (c *Context) MentionProduct(ref ProductRef) {
	if ref.ID == "" {
		return
	}
	if ref.MentionedAt.IsZero() {
		ref.MentionedAt = time.Now()
	}
	if i := slices.IndexFunc(c.MentionedProducts, func(p ProductRef) bool { return p.ID == ref.ID }); i >= 0 {
		prev := c.MentionedProducts[i]
		if ref.Name == "" {
			ref.Name = prev.Name
		}
		if ref.Category == "" {
			ref.Category = prev.Category
		}
		c.MentionedProducts = slices.Delete(c.MentionedProducts, i, i+1)
	}
	c.MentionedProducts = append(c.MentionedProducts, ref)
}

// MentionOrder records an order mention with the same recency rules as products.
func (c *Context) MentionOrder(ref OrderRef) {
	if ref.ID == "" {
		return
	}
	if ref.MentionedAt.IsZero() {
		ref.MentionedAt = time.Now()
	}
	if i := slices.IndexFunc(c.MentionedOrders, func(o OrderRef) bool { return o.ID == ref.ID }); i >= 0 {
		if ref.Status == "" {
			ref.Status = c.MentionedOrders[i].Status
		}
		c.MentionedOrders = slices.Delete(c.MentionedOrders, i, i+1)
	}
	c.MentionedOrders = append(c.MentionedOrders, ref)
}

// ApplyCartDelta adds d to the cart. Quantities never go negative: an item whose
// quantity reaches zero is removed, and a removal for an absent item is a no-op.
func (c *Context) ApplyCartDelta(d CartDelta) error {
	if d.ProductID == "" {
		return ErrInvalidDelta
	}
	if c.CartItems == nil {
		c.CartItems = map[string]CartItem{}
	}

	if d.RemoveAll {
		delete(c.CartItems, d.ProductID)
		return nil
	}

	item, exists := c.CartItems[d.ProductID]
	if !exists {
		if d.QuantityDelta <= 0 {
			return nil
		}
		item = CartItem{ProductID: d.ProductID}
	}

	item.Quantity += d.QuantityDelta
	if item.Quantity <= 0 {
		delete(c.CartItems, d.ProductID)
		return nil
	}
	if d.Name != "" {
		item.Name = d.Name
	}
	if d.UnitPrice > 0 {
		item.UnitPrice = d.UnitPrice
	}
	c.CartItems[d.ProductID] = item
	return nil
}

// SetTopic moves the context to topic. When isSwitch is set the current topic
// becomes the previous one and the switch counter is incremented.
func (c *Context) SetTopic(topic string, isSwitch bool) {
	if isSwitch {
		c.PreviousTopic = c.CurrentTopic
		c.ContextSwitchCount++
	}
	c.CurrentTopic = topic
}

// AppendTurn appends rec to the history and refreshes the last query/response cache.
func (c *Context) AppendTurn(rec TurnRecord) {
	rec.ToolsUsed = slices.Clone(rec.ToolsUsed)
	if rec.ToolsUsed == nil {
		rec.ToolsUsed = []string{}
	}
	c.ConversationHistory = append(c.ConversationHistory, rec)
	c.LastQuery = rec.Input
	c.LastResponse = rec.Output
	c.UpdatedAt = rec.Timestamp
}

// LatestProduct returns the most recently mentioned product accepted by match.
// A nil match accepts every product.
func (c *Context) LatestProduct(match func(ProductRef) bool) (ProductRef, bool) {
	for i := len(c.MentionedProducts) - 1; i >= 0; i-- {
		p := c.MentionedProducts[i]
		if match == nil || match(p) {
			return p, true
		}
	}
	return ProductRef{}, false
}

// LatestOrder returns the most recently mentioned order.
func (c *Context) LatestOrder() (OrderRef, bool) {
	if len(c.MentionedOrders) == 0 {
		return OrderRef{}, false
	}
	return c.MentionedOrders[len(c.MentionedOrders)-1], true
}

// CartTotal returns the sum of all line subtotals.
func (c *Context) CartTotal() float64 {
	var total float64
	for _, item := range c.CartItems {
		total += item.Subtotal()
	}
	return total
}

// sortedCart returns cart items ordered by product id.
func (c *Context) sortedCart() []CartItem {
	items := make([]CartItem, 0, len(c.CartItems))
	for _, item := range c.CartItems {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })
	return items
}
