package domain

// Wire event names. addUser, sendMessage and receiveMessage are the names the browser client uses.
const (
	EventAddUser         = "addUser"
	EventSendMessage     = "sendMessage"
	EventAck             = "ack"
	EventPing            = "ping"
	EventRegistered      = "registered"
	EventSent            = "sent"
	EventReceiveMessage  = "receiveMessage"
	EventEchoMessage     = "echoMessage"
	EventPresenceChanged = "presenceChanged"
	EventDeliveryStatus  = "deliveryStatus"
	EventPong            = "pong"
	EventError           = "error"
)

// Frame is the JSON envelope exchanged with clients. Only the fields relevant to Event are set.
type Frame struct {
	Event        string `json:"event"`
	Token        string `json:"token,omitempty"`
	ConnectionID string `json:"connectionId,omitempty"`
	UserID       string `json:"userId,omitempty"`
	SenderID     string `json:"senderId,omitempty"`
	ReceiverID   string `json:"receiverId,omitempty"`
	Payload      string `json:"payload,omitempty"`
	ClientMsgID  string `json:"clientMsgId,omitempty"`
	MessageID    uint64 `json:"messageId,omitempty"`
	Seq          uint64 `json:"seq,omitempty"`
	Online       *bool  `json:"online,omitempty"`
	State        string `json:"state,omitempty"`
	Reason       string `json:"reason,omitempty"`
	Code         string `json:"code,omitempty"`
	Message      string `json:"message,omitempty"`
}

// SendMessageCommand is the validated content of a sendMessage frame.
type SendMessageCommand struct {
	ReceiverID  UserID `validate:"required,max=256"`
	Payload     []byte
	ClientMsgID string `validate:"max=128"`
}

type AckCommand struct {
	MessageID MessageID `validate:"required"`
}

func (f Frame) SendMessageCommand() SendMessageCommand {
	return SendMessageCommand{ReceiverID: UserID(f.ReceiverID), Payload: []byte(f.Payload), ClientMsgID: f.ClientMsgID}
}

func (f Frame) AckCommand() AckCommand {
	return AckCommand{MessageID: MessageID(f.MessageID)}
}
