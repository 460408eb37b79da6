package eventsub

import "time"

// Subscription types used by this service.
const (
	TypeChannelChatMessage      = "channel.chat.message"
	TypeChannelPointsRedemption = "channel.channel_points_custom_reward_redemption.add"
	TypeStreamOnline            = "stream.online"
	TypeStreamOffline           = "stream.offline"
)

// Condition is the key/value filter of a subscription, e.g.
// broadcaster_user_id.
type Condition map[string]string

// Transport describes how Twitch delivers events for a subscription. Secret
// is only sent on create and never returned.
type Transport struct {
	Method   string `json:"method"`
	Callback string `json:"callback,omitempty"`
	Secret   string `json:"secret,omitempty"`
}

// Subscription is a remote EventSub registration.
type Subscription struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Version   string    `json:"version"`
	Status    string    `json:"status"`
	Cost      int       `json:"cost"`
	Condition Condition `json:"condition"`
	Transport Transport `json:"transport"`
	CreatedAt time.Time `json:"created_at"`
}

// StreamOnlineEvent is the payload of stream.online.
type StreamOnlineEvent struct {
	ID                   string    `json:"id"`
	BroadcasterUserID    string    `json:"broadcaster_user_id"`
	BroadcasterUserLogin string    `json:"broadcaster_user_login"`
	BroadcasterUserName  string    `json:"broadcaster_user_name"`
	Type                 string    `json:"type"` // live, playlist, watch_party, premiere, rerun
	StartedAt            time.Time `json:"started_at"`
}

// StreamOfflineEvent is the payload of stream.offline.
type StreamOfflineEvent struct {
	BroadcasterUserID    string `json:"broadcaster_user_id"`
	BroadcasterUserLogin string `json:"broadcaster_user_login"`
	BroadcasterUserName  string `json:"broadcaster_user_name"`
}

// ChatMessage is the message body of a chat event.
type ChatMessage struct {
	Text      string         `json:"text"`
	Fragments []ChatFragment `json:"fragments"`
}

type ChatFragment struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type ChatBadge struct {
	SetID string `json:"set_id"`
	ID    string `json:"id"`
	Info  string `json:"info"`
}

// ChannelChatMessageEvent is the payload of channel.chat.message.
type ChannelChatMessageEvent struct {
	BroadcasterUserID           string      `json:"broadcaster_user_id"`
	BroadcasterUserLogin        string      `json:"broadcaster_user_login"`
	BroadcasterUserName         string      `json:"broadcaster_user_name"`
	ChatterUserID               string      `json:"chatter_user_id"`
	ChatterUserLogin            string      `json:"chatter_user_login"`
	ChatterUserName             string      `json:"chatter_user_name"`
	MessageID                   string      `json:"message_id"`
	Message                     ChatMessage `json:"message"`
	MessageType                 string      `json:"message_type"`
	Color                       string      `json:"color"`
	Badges                      []ChatBadge `json:"badges"`
	ChannelPointsCustomRewardID string      `json:"channel_points_custom_reward_id"`
}

// Reward identifies the custom reward a redemption was made against.
type Reward struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Cost   int    `json:"cost"`
	Prompt string `json:"prompt"`
}

// ChannelPointsRedemptionEvent is the payload of
// channel.channel_points_custom_reward_redemption.add.
type ChannelPointsRedemptionEvent struct {
	ID                   string    `json:"id"`
	BroadcasterUserID    string    `json:"broadcaster_user_id"`
	BroadcasterUserLogin string    `json:"broadcaster_user_login"`
	BroadcasterUserName  string    `json:"broadcaster_user_name"`
	UserID               string    `json:"user_id"`
	UserLogin            string    `json:"user_login"`
	UserName             string    `json:"user_name"`
	UserInput            string    `json:"user_input"`
	Status               string    `json:"status"`
	Reward               Reward    `json:"reward"`
	RedeemedAt           time.Time `json:"redeemed_at"`
}
