// Package email provides test helpers for constructing raw RFC 5322 messages.
package email

import (
	"fmt"
)

// Numbered returns n distinct messages "Message 1" … "Message n" with
// increasing dates one minute apart and unique Message-IDs.
func Numbered(n int) []string {
	out := make([]string, n)
	for i := range n {
		out[i] = NewMessage().
			Subject(fmt.Sprintf("Message %d", i+1)).
			Date(fmt.Sprintf("Mon, 01 Jan 2024 %02d:%02d:00 +0000", 8+(i+1)/60, (i+1)%60)).
			MessageID(fmt.Sprintf("<msg-%d@example.com>", i+1)).
			Body(fmt.Sprintf("Body of message %d.", i+1)).
			String()
	}
	return out
}
