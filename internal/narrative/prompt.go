package narrative

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/you/recurse-review/internal/core"
)

const systemPrompt = `You are an expert at creating engaging, shareable "Spotify Year in Review" style content.
I will provide a series of daily check-in messages from a participant at the Recurse Center, a programming retreat.
The messages describe what they worked on each day and who they worked with.

Analyze the messages and create a set of beautiful, shareable story cards, like the Spotify Wrapped page.

Format requirements:
- Use Tailwind CSS classes for all styling (NO custom CSS)
- Create visually appealing cards with a constrained width
- Give each card good information architecture: readable text (no text-sm), good spacing and layout
- Use Tailwind's built-in color palette and keep contrast readable
- NO HEADER CARD, start with the journey directly
- Make AT LEAST 7 cards covering learnings, relationships, projects, growth, interesting moments and quotes
- Make it relatable, fun and shareable
- Do not talk about time spent or time left
- End on a good, positive conclusion
- Quote real messages from the data
- Mention relationships, friendships and collaborations BY FULL NAME on several cards

Use emojis, styling and presentation in the spirit of Spotify Wrapped, focused on the Recurse Center experience.

Return JSON with a single property "cards": an array of HTML fragments with Tailwind classes, one per card.
Do not include page structure, CSS or explanatory text.
The JSON must be formatted and escaped perfectly.
Each fragment starts and ends with a div that uses Tailwind classes.
Return only the JSON.`

// SystemPrompt returns the fixed instruction framing sent with every request.
func SystemPrompt() string { return systemPrompt }

type promptMessage struct {
	Timestamp string `json:"timestamp"`
	Content   string `json:"content"`
}

// isoMillis matches the UTC millisecond layout the journeys were generated with.
const isoMillis = "2006-01-02T15:04:05.000Z"

// UserPrompt serializes messages as timestamp-normalized JSON below a one-line
// introduction naming the person.
func UserPrompt(person string, messages []core.Message) (string, error) {
	processed := make([]promptMessage, 0, len(messages))
	for _, m := range messages {
		processed = append(processed, promptMessage{
			Timestamp: time.Unix(m.Timestamp, 0).UTC().Format(isoMillis),
			Content:   m.Content,
		})
	}
	data, err := json.MarshalIndent(processed, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode messages: %w", err)
	}
	return fmt.Sprintf("Here are the messages to analyze for user %q:\n%s", person, data), nil
}
