package domain

// Question is a single clarifying question asked by the planning service.
// Identity is ID; Text doubles as the equality key for servers that omit
// stable ids.
type Question struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Equal reports whether two questions refer to the same question. Questions
// with ids compare by id; questions without ids compare by text.
func (q Question) Equal(other Question) bool {
	if q.ID != "" || other.ID != "" {
		return q.ID == other.ID
	}
	return q.Text == other.Text
}

// Progress locates a question within the multi-round conversation.
type Progress struct {
	Round     int `json:"round"`
	MaxRounds int `json:"max_rounds"`
}

// MessageKind discriminates the variants of the conversation log.
type MessageKind string

const (
	// MessageUserPrompt is the prompt the user started the session with.
	MessageUserPrompt MessageKind = "user_prompt"
	// MessageUserAnswer is a combined answer the user sent for one round.
	MessageUserAnswer MessageKind = "user_answer"
	// MessageQuestions is a frozen snapshot of one round's question set.
	MessageQuestions MessageKind = "questions"
)

// ChatMessage is one entry of the append-only conversation log. Content is
// set for user_prompt and user_answer entries; Questions and Progress are
// set for questions entries.
type ChatMessage struct {
	Kind      MessageKind `json:"kind"`
	Content   string      `json:"content,omitempty"`
	Questions []Question  `json:"questions,omitempty"`
	Progress  *Progress   `json:"progress,omitempty"`
}

// ThinkingStatus is the most recent non-terminal status event. It is purely
// presentational and never enters the conversation log.
type ThinkingStatus struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}
