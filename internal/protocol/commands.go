package protocol

// Command is an outbound command; each variant knows its destination
type Command interface {
	Destination() string
	isCommand()
}

// JoinCommand is sent right after the room topics are subscribed
type JoinCommand struct {
	UserID  int64 `json:"userId"`
	RoomID  int64 `json:"roomId"`
	IsReady bool  `json:"isReady"`
}

func (JoinCommand) Destination() string { return DestJoin }
func (JoinCommand) isCommand()          {}

// ReadyCommand toggles the local user's ready flag
type ReadyCommand struct {
	RoomID int64 `json:"roomId"`
	UserID int64 `json:"userId"`
}

func (ReadyCommand) Destination() string { return DestReady }
func (ReadyCommand) isCommand()          {}

// AnswerCommand submits an answer for the current question
type AnswerCommand struct {
	RoomID           int64  `json:"roomId"`
	UserID           int64  `json:"userId"`
	QuestionID       int64  `json:"questionId"`
	Answer           string `json:"answer"`
	TimeSpentSeconds int    `json:"timeSpentSeconds"`
}

func (AnswerCommand) Destination() string { return DestAnswer }
func (AnswerCommand) isCommand()          {}

// LeaveCommand leaves the room
type LeaveCommand struct {
	UserID int64 `json:"userId"`
	RoomID int64 `json:"roomId"`
}

func (LeaveCommand) Destination() string { return DestLeave }
func (LeaveCommand) isCommand()          {}

// ForceAdvanceCommand asks the server to move past the current question
type ForceAdvanceCommand struct {
	RoomID     int64 `json:"roomId"`
	UserID     int64 `json:"userId"`
	QuestionID int64 `json:"questionId,omitempty"`
}

func (ForceAdvanceCommand) Destination() string { return DestForceAdvance }
func (ForceAdvanceCommand) isCommand()          {}
