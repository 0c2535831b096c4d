package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khalid1313/ai-customer-care-agent-sub003/runtime/sessionctx"
)

func contextWith(products []sessionctx.ProductRef, orders []sessionctx.OrderRef) *sessionctx.Context {
	c := sessionctx.New("sess")
	for _, p := range products {
		c.MentionProduct(p)
	}
	for _, o := range orders {
		c.MentionOrder(o)
	}
	return c
}

var (
	sony    = sessionctx.ProductRef{ID: "sony-xm5", Name: "Sony WH-1000XM5", Category: "headphones"}
	airpods = sessionctx.ProductRef{ID: "airpods-pro", Name: "Apple AirPods Pro", Category: "earbuds"}
	pixel   = sessionctx.ProductRef{ID: "pixel-9", Name: "Google Pixel 9", Category: "phones"}
	ord001  = sessionctx.OrderRef{ID: "ORD001", Status: "shipped"}
	ord002  = sessionctx.OrderRef{ID: "ORD002"}
)

func TestResolve_NoMentionsLeavesMessageUnchanged(t *testing.T) {
	r := New()
	res := r.Resolve("show me those", sessionctx.New("sess"))

	assert.False(t, res.Applied)
	assert.Equal(t, "show me those", res.Resolved)
	assert.Equal(t, "show me those", res.Original)
	assert.Empty(t, res.Substitutions)
}

func TestResolve_NilContext(t *testing.T) {
	res := New().Resolve("what about it?", nil)
	assert.False(t, res.Applied)
	assert.Equal(t, "what about it?", res.Resolved)
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name      string
		products  []sessionctx.ProductRef
		orders    []sessionctx.OrderRef
		message   string
		want      string
		entityID  string
		ambiguous bool
	}{
		{
			name:     "noun phrase resolves to product",
			products: []sessionctx.ProductRef{sony},
			message:  "What's the price of those headphones?",
			want:     "What's the price of Sony WH-1000XM5?",
			entityID: "sony-xm5",
		},
		{
			name:     "noun filters by category not recency",
			products: []sessionctx.ProductRef{sony, airpods},
			message:  "are those headphones wireless?",
			want:     "are Sony WH-1000XM5 wireless?",
			entityID: "sony-xm5",
		},
		{
			name:      "generic pronoun picks the most recent product",
			products:  []sessionctx.ProductRef{sony, airpods},
			message:   "add it to my cart",
			want:      "add Apple AirPods Pro to my cart",
			entityID:  "airpods-pro",
			ambiguous: true,
		},
		{
			name:     "order noun phrase",
			products: []sessionctx.ProductRef{sony},
			orders:   []sessionctx.OrderRef{ord001},
			message:  "when will that order arrive?",
			want:     "when will order ORD001 arrive?",
			entityID: "ORD001",
		},
		{
			name:      "order cue steers bare pronoun to orders",
			products:  []sessionctx.ProductRef{sony},
			orders:    []sessionctx.OrderRef{ord001, ord002},
			message:   "can you track it",
			want:      "can you track order ORD002",
			entityID:  "ORD002",
			ambiguous: true,
		},
		{
			name:     "order cue without orders falls back to products",
			products: []sessionctx.ProductRef{pixel},
			message:  "when will it be delivered?",
			want:     "when will Google Pixel 9 be delivered?",
			entityID: "pixel-9",
		},
		{
			name:     "clause-final demonstrative",
			products: []sessionctx.ProductRef{pixel},
			message:  "how much is that?",
			want:     "how much is Google Pixel 9?",
			entityID: "pixel-9",
		},
		{
			name:     "contraction is not a reference",
			products: []sessionctx.ProductRef{pixel},
			message:  "it's too expensive for me",
			want:     "it's too expensive for me",
		},
		{
			name:     "relative that is not a reference",
			products: []sessionctx.ProductRef{pixel},
			message:  "I want a phone that is cheap",
			want:     "I want a phone that is cheap",
		},
		{
			name:     "bare those at end of message",
			products: []sessionctx.ProductRef{sony},
			message:  "show me those",
			want:     "show me Sony WH-1000XM5",
			entityID: "sony-xm5",
		},
		{
			name:     "those before an unknown noun is a determiner",
			products: []sessionctx.ProductRef{sony},
			message:  "do you sell those sneakers?",
			want:     "do you sell those sneakers?",
		},
		{
			name:     "product without a name uses its id",
			products: []sessionctx.ProductRef{{ID: "sku-42"}},
			message:  "show me those ones",
			want:     "show me sku-42",
			entityID: "sku-42",
		},
	}

	r := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := r.Resolve(tt.message, contextWith(tt.products, tt.orders))

			assert.Equal(t, tt.want, res.Resolved)
			assert.Equal(t, tt.message, res.Original)
			assert.Equal(t, tt.entityID != "", res.Applied)
			assert.Equal(t, tt.entityID, res.EntityID())
			assert.Equal(t, tt.ambiguous, res.Ambiguous)
		})
	}
}

func TestResolve_NounIgnoresUncategorisedProducts(t *testing.T) {
	// Cart additions carry no category.
	cartAirpods := sessionctx.ProductRef{ID: "airpods-pro", Name: "Apple AirPods Pro"}
	c := contextWith([]sessionctx.ProductRef{sony, cartAirpods}, nil)

	res := New().Resolve("What's the price of those headphones?", c)
	require.True(t, res.Applied)
	assert.Equal(t, "What's the price of Sony WH-1000XM5?", res.Resolved)
	assert.Equal(t, "sony-xm5", res.EntityID())
	assert.False(t, res.Ambiguous)

	res = New().Resolve("is the headset any good?", contextWith([]sessionctx.ProductRef{cartAirpods}, nil))
	assert.False(t, res.Applied)

	named := sessionctx.ProductRef{ID: "bose-qc", Name: "Bose QC Headphones"}
	res = New().Resolve("are those headphones in stock?", contextWith([]sessionctx.ProductRef{sony, named}, nil))
	assert.Equal(t, "bose-qc", res.EntityID(), "an uncategorised product still matches on its name")
}

func TestResolve_MultipleReferences(t *testing.T) {
	c := contextWith([]sessionctx.ProductRef{sony}, []sessionctx.OrderRef{ord001})
	res := New().Resolve("is that order carrying those headphones?", c)

	require.True(t, res.Applied)
	assert.Equal(t, "is order ORD001 carrying Sony WH-1000XM5?", res.Resolved)
	require.Len(t, res.Substitutions, 2)
	assert.Equal(t, KindOrder, res.Substitutions[0].Kind)
	assert.Equal(t, "that order", res.Substitutions[0].Phrase)
	assert.Equal(t, KindProduct, res.Substitutions[1].Kind)
}

func TestResolve_RecencyAfterReMention(t *testing.T) {
	c := contextWith([]sessionctx.ProductRef{sony, airpods}, nil)
	c.MentionProduct(sessionctx.ProductRef{ID: "sony-xm5"})

	res := New().Resolve("tell me more about it", c)
	assert.Equal(t, "tell me more about Sony WH-1000XM5", res.Resolved)
}

func TestResolve_DoesNotMutateContext(t *testing.T) {
	c := contextWith([]sessionctx.ProductRef{sony, airpods}, []sessionctx.OrderRef{ord001})
	before := c.Clone()

	New().Resolve("compare it with those earbuds and that order", c)
	assert.Equal(t, before, c)
}

func TestWithProductNouns(t *testing.T) {
	r := New(WithProductNouns(map[string][]string{"blender": {"blender"}}))
	c := contextWith([]sessionctx.ProductRef{
		{ID: "b1", Name: "Vitamix 5200", Category: "blenders"},
		{ID: "k1", Name: "Chef Knife", Category: "knives"},
	}, nil)

	res := r.Resolve("is the blender dishwasher safe?", c)
	assert.Equal(t, "is Vitamix 5200 dishwasher safe?", res.Resolved)

	res = r.Resolve("are those headphones good?", c)
	assert.False(t, res.Applied, "nouns outside the table are not references")
}
