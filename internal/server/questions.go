package server

import "github.com/yourusername/quizbattle/internal/protocol"

// bankQuestion is a question plus the answer only the server knows
type bankQuestion struct {
	protocol.Question
	Answer string
}

// questionBank is served in order; ids start at 101
var questionBank = []bankQuestion{
	{
		Question: protocol.Question{
			QuestionID:   101,
			QuestionText: "Which keyword starts a goroutine?",
			Options:      []string{"go", "async", "spawn", "thread"},
			TimeLimit:    30,
			Points:       10,
		},
		Answer: "go",
	},
	{
		Question: protocol.Question{
			QuestionID:   102,
			QuestionText: "What does STOMP frame a message body with at the end?",
			Options:      []string{"a newline", "a NUL byte", "a length prefix", "nothing"},
			TimeLimit:    30,
			Points:       10,
		},
		Answer: "a NUL byte",
	},
	{
		Question: protocol.Question{
			QuestionID:   103,
			QuestionText: "Which HTTP status code does a WebSocket upgrade return?",
			Options:      []string{"200", "101", "204", "426"},
			TimeLimit:    20,
			Points:       15,
		},
		Answer: "101",
	},
	{
		Question: protocol.Question{
			QuestionID:   104,
			QuestionText: "What is the zero value of a map in Go?",
			Options:      []string{"an empty map", "nil", "a panic", "undefined"},
			TimeLimit:    20,
			Points:       15,
		},
		Answer: "nil",
	},
	{
		Question: protocol.Question{
			QuestionID:   105,
			QuestionText: "Which STOMP header routes a MESSAGE back to its subscription?",
			Options:      []string{"destination", "message-id", "subscription", "receipt"},
			TimeLimit:    20,
			Points:       20,
		},
		Answer: "subscription",
	},
}

// questionsFor returns the first n questions of the bank, all of them when n <= 0
func questionsFor(n int) []bankQuestion {
	if n <= 0 || n > len(questionBank) {
		n = len(questionBank)
	}
	return questionBank[:n]
}
