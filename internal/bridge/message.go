package bridge

import "time"

// Message - сообщение API matterbridge.
type Message struct {
	Text      string    `json:"text"`
	Channel   string    `json:"channel,omitempty"`
	Username  string    `json:"username"`
	UserID    string    `json:"userid,omitempty"`
	Avatar    string    `json:"avatar,omitempty"`
	Account   string    `json:"account,omitempty"`
	Event     string    `json:"event,omitempty"`
	Protocol  string    `json:"protocol,omitempty"`
	Gateway   string    `json:"gateway"`
	ParentID  string    `json:"parent_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	ID        string    `json:"id,omitempty"`
}

// События matterbridge, которые нам интересны.
const (
	EventAPIConnected = "api_connected"
	EventJoinLeave    = "join_leave"
	EventUserAction   = "user_action"
)
