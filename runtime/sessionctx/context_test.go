package sessionctx

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func productIDs(c *Context) []string {
	ids := make([]string, 0, len(c.MentionedProducts))
	for _, p := range c.MentionedProducts {
		ids = append(ids, p.ID)
	}
	return ids
}

func TestNew_EmptyContext(t *testing.T) {
	c := New("sess-1")

	assert.Equal(t, "sess-1", c.SessionID)
	assert.Equal(t, SchemaVersion, c.SchemaVersion)
	assert.Empty(t, c.CurrentTopic)
	assert.Empty(t, c.PreviousTopic)
	assert.Zero(t, c.ContextSwitchCount)
	assert.NotNil(t, c.MentionedProducts)
	assert.NotNil(t, c.CartItems)
	assert.Empty(t, c.ConversationHistory)
	assert.Zero(t, c.Version)
}

func TestMentionProduct_RecencyOrdering(t *testing.T) {
	for k := 1; k <= 5; k++ {
		t.Run(fmt.Sprintf("%d mentions", k), func(t *testing.T) {
			c := New("s")
			for i := 1; i <= k; i++ {
				c.MentionProduct(ProductRef{ID: fmt.Sprintf("p%d", i), Name: fmt.Sprintf("Product %d", i)})
			}
			require.Len(t, c.MentionedProducts, k)
			assert.Equal(t, fmt.Sprintf("p%d", k), c.MentionedProducts[k-1].ID)

			c.MentionProduct(ProductRef{ID: "p1"})
			require.Len(t, c.MentionedProducts, k)
			last := c.MentionedProducts[len(c.MentionedProducts)-1]
			assert.Equal(t, "p1", last.ID)
			assert.Equal(t, "Product 1", last.Name, "re-mention without a name keeps the old one")
		})
	}
}

func TestMentionProduct_IgnoresEmptyID(t *testing.T) {
	c := New("s")
	c.MentionProduct(ProductRef{Name: "nameless"})
	assert.Empty(t, c.MentionedProducts)
}

func TestMentionOrder_DedupesAndReorders(t *testing.T) {
	c := New("s")
	c.MentionOrder(OrderRef{ID: "ORD001", Status: "shipped"})
	c.MentionOrder(OrderRef{ID: "ORD002"})
	c.MentionOrder(OrderRef{ID: "ORD001"})

	require.Len(t, c.MentionedOrders, 2)
	assert.Equal(t, "ORD002", c.MentionedOrders[0].ID)
	assert.Equal(t, "ORD001", c.MentionedOrders[1].ID)
	assert.Equal(t, "shipped", c.MentionedOrders[1].Status)
	assert.False(t, c.MentionedOrders[1].MentionedAt.IsZero())
}

func TestApplyCartDelta(t *testing.T) {
	tests := []struct {
		name   string
		deltas []CartDelta
		want   map[string]int
	}{
		{
			name: "add then remove one of two products",
			deltas: []CartDelta{
				{ProductID: "sony", Name: "Sony WH-1000XM5", QuantityDelta: 1, UnitPrice: 349},
				{ProductID: "airpods", Name: "Apple AirPods Pro", QuantityDelta: 1, UnitPrice: 249},
				{ProductID: "sony", QuantityDelta: -1},
			},
			want: map[string]int{"airpods": 1},
		},
		{
			name: "removal larger than quantity removes the item",
			deltas: []CartDelta{
				{ProductID: "sony", QuantityDelta: 2, UnitPrice: 349},
				{ProductID: "sony", QuantityDelta: -5},
			},
			want: map[string]int{},
		},
		{
			name:   "removal of absent item is a no-op",
			deltas: []CartDelta{{ProductID: "ghost", QuantityDelta: -1}},
			want:   map[string]int{},
		},
		{
			name: "remove all drops the line",
			deltas: []CartDelta{
				{ProductID: "cable", QuantityDelta: 3, UnitPrice: 9.99},
				{ProductID: "cable", RemoveAll: true},
			},
			want: map[string]int{},
		},
		{
			name: "additive quantities",
			deltas: []CartDelta{
				{ProductID: "cable", QuantityDelta: 2, UnitPrice: 9.99},
				{ProductID: "cable", QuantityDelta: 3},
			},
			want: map[string]int{"cable": 5},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New("s")
			for _, d := range tt.deltas {
				require.NoError(t, c.ApplyCartDelta(d))
			}
			got := map[string]int{}
			for id, item := range c.CartItems {
				assert.GreaterOrEqual(t, item.Quantity, 1)
				got[id] = item.Quantity
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApplyCartDelta_RequiresProductID(t *testing.T) {
	c := New("s")
	assert.ErrorIs(t, c.ApplyCartDelta(CartDelta{QuantityDelta: 1}), ErrInvalidDelta)
}

func TestSetTopic_CountsSwitches(t *testing.T) {
	c := New("s")
	c.SetTopic("products", false)
	c.SetTopic("orders", true)
	c.SetTopic("orders", false)

	assert.Equal(t, "orders", c.CurrentTopic)
	assert.Equal(t, "products", c.PreviousTopic)
	assert.Equal(t, 1, c.ContextSwitchCount)
}

func TestAppendTurn_UpdatesCache(t *testing.T) {
	c := New("s")
	ts := time.Now()
	c.AppendTurn(TurnRecord{TurnID: "t1", Input: "hi", Output: "hello", Timestamp: ts})

	require.Len(t, c.ConversationHistory, 1)
	assert.Equal(t, "hi", c.LastQuery)
	assert.Equal(t, "hello", c.LastResponse)
	assert.NotNil(t, c.ConversationHistory[0].ToolsUsed)
	assert.Equal(t, ts, c.UpdatedAt)
}

func TestClone_IsDeep(t *testing.T) {
	c := New("s")
	c.MentionProduct(ProductRef{ID: "p1", Name: "One"})
	require.NoError(t, c.ApplyCartDelta(CartDelta{ProductID: "p1", QuantityDelta: 1, UnitPrice: 10}))
	c.AppendTurn(TurnRecord{Input: "a", ToolsUsed: []string{"search_products"}})

	cp := c.Clone()
	cp.MentionProduct(ProductRef{ID: "p2"})
	require.NoError(t, cp.ApplyCartDelta(CartDelta{ProductID: "p1", QuantityDelta: 4}))
	cp.ConversationHistory[0].ToolsUsed[0] = "changed"

	assert.Equal(t, []string{"p1"}, productIDs(c))
	assert.Equal(t, 1, c.CartItems["p1"].Quantity)
	assert.Equal(t, "search_products", c.ConversationHistory[0].ToolsUsed[0])
}

func TestLatestProduct(t *testing.T) {
	c := New("s")
	_, ok := c.LatestProduct(nil)
	assert.False(t, ok)

	c.MentionProduct(ProductRef{ID: "sony", Name: "Sony WH-1000XM5", Category: "headphones"})
	c.MentionProduct(ProductRef{ID: "case", Name: "Phone Case", Category: "accessories"})

	p, ok := c.LatestProduct(nil)
	require.True(t, ok)
	assert.Equal(t, "case", p.ID)

	p, ok = c.LatestProduct(func(p ProductRef) bool { return p.Category == "headphones" })
	require.True(t, ok)
	assert.Equal(t, "sony", p.ID)
}

func TestSnapshot(t *testing.T) {
	c := New("s")
	require.NoError(t, c.ApplyCartDelta(CartDelta{ProductID: "b", QuantityDelta: 2, UnitPrice: 10}))
	require.NoError(t, c.ApplyCartDelta(CartDelta{ProductID: "a", QuantityDelta: 1, UnitPrice: 5}))
	c.AppendTurn(TurnRecord{Input: "x", Output: "y"})

	snap := c.Snapshot()
	assert.Equal(t, 1, snap.HistoryLength)
	assert.Equal(t, 3, snap.CartItemCount)
	assert.InDelta(t, 25.0, snap.CartTotal, 0.001)
	require.Len(t, snap.Cart, 2)
	assert.Equal(t, "a", snap.Cart[0].ProductID)
}
