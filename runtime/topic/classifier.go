// Package topic classifies user messages into conversation topics using a rule table
// of keywords and tool names, and detects topic switches between turns.
package topic

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"
)

const (
	// DefaultToolWeight is the score contributed by each invoked tool that maps to a topic.
	// A tool call is stronger evidence than a keyword, which scores 1.
	DefaultToolWeight = 2.0

	// DefaultLowConfidence is the threshold below which a result is flagged LowConfidence.
	DefaultLowConfidence = 0.5

	// tieConfidence is reported when the strongest topics tie and the result falls back to General.
	tieConfidence = 0.25

	// saturation is the score at which signal strength stops increasing confidence.
	saturation = 3.0
)

// Input is what the classifier sees for one turn.
type Input struct {
	// Message is the resolved user message.
	Message string
	// Tools are the tool names invoked for the turn, if already known.
	Tools []string
	// PreviousTopic is the session's current topic before this turn; "" means none yet.
	PreviousTopic string
}

// Result is the classification of one turn.
type Result struct {
	Topic         string             `json:"topic"`
	PreviousTopic string             `json:"previous_topic,omitempty"`
	IsSwitch      bool               `json:"is_switch"`
	Confidence    float64            `json:"confidence"`
	LowConfidence bool               `json:"low_confidence,omitempty"`
	Greeting      bool               `json:"greeting,omitempty"`
	Tie           bool               `json:"tie,omitempty"`
	Scores        map[string]float64 `json:"scores,omitempty"`
	Signals       []string           `json:"signals,omitempty"`
}

// Classifier assigns topics from a rule table. It is immutable and safe for concurrent use.
type Classifier struct {
	rules         []compiledRule
	greetings     map[string]bool
	toolWeight    float64
	lowConfidence float64
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithToolWeight sets the score contributed by each matching tool.
func WithToolWeight(w float64) Option {
	return func(c *Classifier) {
		if w > 0 {
			c.toolWeight = w
		}
	}
}

// WithGreetings replaces the greeting vocabulary.
func WithGreetings(words []string) Option {
	return func(c *Classifier) {
		c.greetings = toSet(words)
	}
}

// WithLowConfidenceThreshold sets the LowConfidence threshold.
func WithLowConfidenceThreshold(v float64) Option {
	return func(c *Classifier) {
		c.lowConfidence = v
	}
}

// New builds a classifier from rules.
func New(rules []Rule, opts ...Option) (*Classifier, error) {
	if err := validateRules(rules); err != nil {
		return nil, err
	}
	c := &Classifier{
		greetings:     toSet(DefaultGreetings),
		toolWeight:    DefaultToolWeight,
		lowConfidence: DefaultLowConfidence,
	}
	for _, r := range rules {
		c.rules = append(c.rules, compileRule(r))
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewFromRuleSet builds a classifier from a loaded manifest. Options are applied
// after the manifest's own settings.
func NewFromRuleSet(rs *RuleSet, opts ...Option) (*Classifier, error) {
	if rs == nil {
		return nil, fmt.Errorf("nil rule set")
	}
	var base []Option
	if len(rs.Spec.Greetings) > 0 {
		base = append(base, WithGreetings(rs.Spec.Greetings))
	}
	if rs.Spec.ToolWeight > 0 {
		base = append(base, WithToolWeight(rs.Spec.ToolWeight))
	}
	return New(rs.Spec.Rules, append(base, opts...)...)
}

// Default returns a classifier over DefaultRules.
func Default() *Classifier {
	c, err := New(DefaultRules())
	if err != nil {
		panic(err) // built-in table is always valid
	}
	return c
}

// Topics returns the labels the classifier can produce, General last.
func (c *Classifier) Topics() []string {
	seen := map[string]bool{}
	var topics []string
	for _, r := range c.rules {
		if !seen[r.topic] {
			seen[r.topic] = true
			topics = append(topics, r.topic)
		}
	}
	return append(topics, General)
}

// Classify scores the message against every rule.
//
// Each keyword occurrence scores 1 and each matching tool scores the tool weight.
// The highest-scoring topic wins with
//
//	confidence = (top / total) * (0.5 + 0.5*min(1, top/3))
//
// A tie for the top score yields General with low confidence. Empty and greeting-only
// messages, and messages with no signal at all, keep the previous topic (General when
// there is none) and are never a switch.
func (c *Classifier) Classify(in Input) Result {
	res := Result{PreviousTopic: in.PreviousTopic}

	words := tokenize(in.Message)
	if len(in.Tools) == 0 && (len(words) == 0 || c.greetingOnly(words)) {
		res.Topic = carryOver(in.PreviousTopic)
		res.Greeting = len(words) > 0
		if res.Greeting {
			res.Confidence = 1
		}
		res.LowConfidence = res.Confidence < c.lowConfidence
		return res
	}

	scores, signals := c.score(in)
	res.Scores = scores
	res.Signals = signals

	top, total, leaders := 0.0, 0.0, []string(nil)
	for topic, s := range scores {
		total += s
		switch {
		case s > top:
			top, leaders = s, []string{topic}
		case s == top:
			leaders = append(leaders, topic)
		}
	}

	switch {
	case total == 0:
		res.Topic = carryOver(in.PreviousTopic)
	case len(leaders) > 1:
		res.Topic = General
		res.Tie = true
		res.Confidence = tieConfidence
	default:
		res.Topic = leaders[0]
		strength := math.Min(1, top/saturation)
		res.Confidence = round2((top / total) * (0.5 + 0.5*strength))
	}

	res.IsSwitch = in.PreviousTopic != "" && res.Topic != in.PreviousTopic
	res.LowConfidence = res.Confidence < c.lowConfidence
	return res
}

func (c *Classifier) score(in Input) (map[string]float64, []string) {
	scores := map[string]float64{}
	var signals []string
	for _, r := range c.rules {
		if r.keywords != nil {
			for _, m := range r.keywords.FindAllString(in.Message, -1) {
				scores[r.topic]++
				signals = append(signals, r.topic+":"+strings.ToLower(m))
			}
		}
		for _, tool := range in.Tools {
			if r.tools[tool] {
				scores[r.topic] += c.toolWeight
				signals = append(signals, r.topic+":tool:"+tool)
			}
		}
	}
	for topic, s := range scores {
		if s == 0 {
			delete(scores, topic)
		}
	}
	sort.Strings(signals)
	return scores, signals
}

func (c *Classifier) greetingOnly(words []string) bool {
	for _, w := range words {
		if !c.greetings[w] {
			return false
		}
	}
	return true
}

func carryOver(previous string) string {
	if previous == "" {
		return General
	}
	return previous
}

// tokenize lower-cases the message and splits it into letter/digit words.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

func toSet(words []string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[strings.ToLower(strings.TrimSpace(w))] = true
	}
	return set
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
