package model

import "time"

// Message is the metadata of a single mailbox message as seen by the triage pipeline.
type Message struct {
	UID      uint32
	Subject  string
	From     string
	Date     time.Time
	Category Category
}

// NewMessage returns a message with the default category.
func NewMessage(uid uint32, subject, from string, date time.Time) *Message {
	return &Message{
		UID:      uid,
		Subject:  subject,
		From:     from,
		Date:     date,
		Category: Uncategorised,
	}
}

// CategoryMap maps each message UID to its current category.
func CategoryMap(msgs []*Message) map[uint32]Category {
	out := make(map[uint32]Category, len(msgs))
	for _, msg := range msgs {
		if msg == nil {
			continue
		}
		out[msg.UID] = msg.Category
	}
	return out
}

// RemoveUIDs drops moved messages from the collection, preserving order.
func RemoveUIDs(msgs []*Message, uids []uint32) []*Message {
	if len(uids) == 0 {
		return msgs
	}
	gone := make(map[uint32]struct{}, len(uids))
	for _, uid := range uids {
		gone[uid] = struct{}{}
	}
	kept := msgs[:0]
	for _, msg := range msgs {
		if msg == nil {
			continue
		}
		if _, ok := gone[msg.UID]; ok {
			continue
		}
		kept = append(kept, msg)
	}
	for i := len(kept); i < len(msgs); i++ {
		msgs[i] = nil
	}
	return kept
}

// CountByCategory tallies the collection per category.
func CountByCategory(msgs []*Message) map[Category]int {
	counts := make(map[Category]int)
	for _, msg := range msgs {
		if msg != nil {
			counts[msg.Category]++
		}
	}
	return counts
}
