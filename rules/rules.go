// Package rules assigns categories from ordered keyword and sender predicates.
package rules

import (
	"strings"

	"github.com/dhcgn/inbox-triage/model"
)

// Rule names reported by Explain.
const (
	RuleEvents      = "events"
	RuleAction      = "action"
	RuleInformation = "information"
	RuleRead        = "read"
	RuleDefault     = "default"
)

// Keywords that mark a reply to, or an update of, an existing invite.
var eventResponseMarkers = []string{
	"accepted:", "tentative:", "declined:", "canceled:", "cancelled:", "updated invitation", "reminder:",
}

var (
	eventKeywords = []string{"invitation", "invite", "calendar invite", "please respond", "rsvp", "appointment request"}
	eventSenders  = []string{"calendar-notification@google.com", "@calendly.com", "@savvycal.com"}

	actionKeywords = []string{
		"meeting", "schedule", "urgent", "request", "action required", "task", "confirm", "follow up", "respond", "please",
	}

	infoKeywords = []string{
		"notification", "alert", "confirmation", "receipt", "statement", "security alert", "delivery status", "invoice",
	}
	infoSenders = []string{
		"no-reply", "noreply", "support@", "billing@", "notifications@", "accounts@", "@service.", "@alert.", "@github.com", "@aws.",
	}

	readKeywords = []string{
		"newsletter", "update", "digest", "blog", "weekly", "daily", "report", "summary", "announcement", "issue #",
	}
	readSenders = []string{"@substack.com", "updates@", "@medium.com", "digest@"}
)

// Options controls which optional rules are active.
type Options struct {
	Information bool
}

// Classifier is the deterministic rule-based classifier. The zero value has
// the Information rule disabled.
type Classifier struct {
	opts Options
}

// New creates a classifier.
func New(opts Options) *Classifier {
	return &Classifier{opts: opts}
}

// FromTable enables the Information rule when the table does.
func FromTable(table model.CategoryTable) *Classifier {
	return New(Options{Information: table.Enabled(model.Information)})
}

// Match describes why a message received its category.
type Match struct {
	Category model.Category
	Rule     string
	Keyword  string
}

// Classify returns the first matching category. It never fails.
func (c *Classifier) Classify(msg *model.Message) model.Category {
	return c.Explain(msg).Category
}

// Explain runs the rule chain and reports the rule and keyword that fired.
func (c *Classifier) Explain(msg *model.Message) Match {
	var subject, sender string
	if msg != nil {
		subject = strings.ToLower(msg.Subject)
		sender = strings.ToLower(msg.From)
	}

	_, isResponse := containsAny(subject, eventResponseMarkers)

	if !isResponse {
		if kw, ok := containsAny(subject, eventKeywords); ok {
			return Match{Category: model.Events, Rule: RuleEvents, Keyword: kw}
		}
		if kw, ok := containsAny(sender, eventSenders); ok {
			return Match{Category: model.Events, Rule: RuleEvents, Keyword: kw}
		}

		if kw, ok := containsAny(subject, actionKeywords); ok {
			return Match{Category: model.Action, Rule: RuleAction, Keyword: kw}
		}
	}

	if c != nil && c.opts.Information {
		if kw, ok := containsAny(subject, infoKeywords); ok {
			return Match{Category: model.Information, Rule: RuleInformation, Keyword: kw}
		}
		if kw, ok := containsAny(sender, infoSenders); ok {
			return Match{Category: model.Information, Rule: RuleInformation, Keyword: kw}
		}
	}

	if kw, ok := containsAny(subject, readKeywords); ok {
		return Match{Category: model.Read, Rule: RuleRead, Keyword: kw}
	}
	if kw, ok := containsAny(sender, readSenders); ok {
		return Match{Category: model.Read, Rule: RuleRead, Keyword: kw}
	}

	return Match{Category: model.Uncategorised, Rule: RuleDefault}
}

// ClassifyAll sets the category of every message in place and returns how
// many received something other than Uncategorised.
func (c *Classifier) ClassifyAll(msgs []*model.Message) int {
	matched := 0
	for _, msg := range msgs {
		if msg == nil {
			continue
		}
		msg.Category = c.Classify(msg)
		if msg.Category != model.Uncategorised {
			matched++
		}
	}
	return matched
}

func containsAny(text string, needles []string) (string, bool) {
	if text == "" {
		return "", false
	}
	for _, needle := range needles {
		if strings.Contains(text, needle) {
			return needle, true
		}
	}
	return "", false
}
