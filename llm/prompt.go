package llm

import (
	"strings"

	"github.com/dhcgn/inbox-triage/model"
)

var categoryMeanings = map[model.Category]string{
	model.Action:        "Requires a specific action or response from me.",
	model.Read:          "Informational content like newsletters, articles or updates that I should read when I have time.",
	model.Events:        "An invitation to an event, meeting or calendar item.",
	model.Information:   "Purely informational updates like notifications, confirmations or alerts (often automated).",
	model.Uncategorised: "Does not clearly fit into the other categories or requires manual review.",
}

// Prompt renders the classification prompt for one message. categories
// lists the allowed answers in order; empty means every category.
func Prompt(msg *model.Message, categories []model.Category) string {
	if len(categories) == 0 {
		categories = model.Categories
	}
	subject, sender := "No Subject", "Unknown Sender"
	if msg != nil {
		if s := strings.TrimSpace(msg.Subject); s != "" {
			subject = s
		}
		if s := strings.TrimSpace(msg.From); s != "" {
			sender = s
		}
	}

	names := make([]string, 0, len(categories))
	for _, c := range categories {
		names = append(names, string(c))
	}

	var sb strings.Builder
	sb.WriteString("Analyze the following email metadata and classify it into ONE of the following categories:\n")
	sb.WriteString(strings.Join(names, ", "))
	sb.WriteString("\n\nCategory meanings:\n")
	for _, c := range categories {
		sb.WriteString("- ")
		sb.WriteString(string(c))
		sb.WriteString(": ")
		sb.WriteString(categoryMeanings[c])
		sb.WriteString("\n")
	}
	sb.WriteString("\nEmail metadata:\n")
	sb.WriteString("Subject: ")
	sb.WriteString(subject)
	sb.WriteString("\nFrom: ")
	sb.WriteString(sender)
	sb.WriteString("\n\nOutput ONLY the single category name from the list above that best fits this email.\nCategory:")
	return sb.String()
}

// ParseResponse maps free model output onto a category. Output outside the
// category set yields Uncategorised and false.
func ParseResponse(text string) (model.Category, bool) {
	cleaned := strings.TrimSpace(text)
	cleaned = strings.Trim(cleaned, "\"'`")
	cleaned = strings.TrimSpace(cleaned)
	return model.ParseCategory(cleaned)
}
