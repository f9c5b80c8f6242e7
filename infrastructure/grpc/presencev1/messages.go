package presencev1

import (
	"fmt"
	"strconv"
	"time"

	"github.com/samber/lo"
	"google.golang.org/protobuf/types/known/structpb"
)

// Presence is the IsOnline reply.
type Presence struct {
	UserID      string
	Online      bool
	Connections int
}

func (p Presence) Proto() *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"user_id":     structpb.NewStringValue(p.UserID),
		"online":      structpb.NewBoolValue(p.Online),
		"connections": structpb.NewNumberValue(float64(p.Connections)),
	}}
}

func PresenceFromProto(s *structpb.Struct) Presence {
	f := s.GetFields()
	return Presence{
		UserID:      f["user_id"].GetStringValue(),
		Online:      f["online"].GetBoolValue(),
		Connections: int(f["connections"].GetNumberValue()),
	}
}

type Connection struct {
	ID           string
	UserID       string
	CreatedAt    time.Time
	LastActivity time.Time
}

func (c Connection) Proto() *structpb.Value {
	return structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
		"id":            structpb.NewStringValue(c.ID),
		"user_id":       structpb.NewStringValue(c.UserID),
		"created_at":    structpb.NewStringValue(c.CreatedAt.UTC().Format(time.RFC3339Nano)),
		"last_activity": structpb.NewStringValue(c.LastActivity.UTC().Format(time.RFC3339Nano)),
	}})
}

func ConnectionsProto(conns []Connection) *structpb.ListValue {
	return &structpb.ListValue{Values: lo.Map(conns, func(c Connection, _ int) *structpb.Value { return c.Proto() })}
}

func ConnectionsFromProto(l *structpb.ListValue) ([]Connection, error) {
	conns := make([]Connection, 0, len(l.GetValues()))
	for _, v := range l.GetValues() {
		f := v.GetStructValue().GetFields()
		createdAt, err := parseTime(f["created_at"])
		if err != nil {
			return nil, err
		}
		lastActivity, err := parseTime(f["last_activity"])
		if err != nil {
			return nil, err
		}
		conns = append(conns, Connection{
			ID:           f["id"].GetStringValue(),
			UserID:       f["user_id"].GetStringValue(),
			CreatedAt:    createdAt,
			LastActivity: lastActivity,
		})
	}
	return conns, nil
}

func UsersProto(users []string) *structpb.ListValue {
	return &structpb.ListValue{Values: lo.Map(users, func(u string, _ int) *structpb.Value { return structpb.NewStringValue(u) })}
}

func UsersFromProto(l *structpb.ListValue) []string {
	return lo.Map(l.GetValues(), func(v *structpb.Value, _ int) string { return v.GetStringValue() })
}

// DeliveryStatus is the DeliveryStatus reply.
// Ids travel as decimal strings, a protobuf number is a double and would round above 2^53.
type DeliveryStatus struct {
	MessageID   uint64
	Seq         uint64
	SenderID    string
	ReceiverID  string
	State       string
	Reason      string
	DeliveredTo string
	CreatedAt   time.Time
}

func (d DeliveryStatus) Proto() *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"message_id":   structpb.NewStringValue(strconv.FormatUint(d.MessageID, 10)),
		"seq":          structpb.NewStringValue(strconv.FormatUint(d.Seq, 10)),
		"sender_id":    structpb.NewStringValue(d.SenderID),
		"receiver_id":  structpb.NewStringValue(d.ReceiverID),
		"state":        structpb.NewStringValue(d.State),
		"reason":       structpb.NewStringValue(d.Reason),
		"delivered_to": structpb.NewStringValue(d.DeliveredTo),
		"created_at":   structpb.NewStringValue(d.CreatedAt.UTC().Format(time.RFC3339Nano)),
	}}
}

func DeliveryStatusFromProto(s *structpb.Struct) (DeliveryStatus, error) {
	f := s.GetFields()
	messageID, err := strconv.ParseUint(f["message_id"].GetStringValue(), 10, 64)
	if err != nil {
		return DeliveryStatus{}, fmt.Errorf("message_id: %w", err)
	}
	seq, err := strconv.ParseUint(f["seq"].GetStringValue(), 10, 64)
	if err != nil {
		return DeliveryStatus{}, fmt.Errorf("seq: %w", err)
	}
	createdAt, err := parseTime(f["created_at"])
	if err != nil {
		return DeliveryStatus{}, err
	}
	return DeliveryStatus{
		MessageID:   messageID,
		Seq:         seq,
		SenderID:    f["sender_id"].GetStringValue(),
		ReceiverID:  f["receiver_id"].GetStringValue(),
		State:       f["state"].GetStringValue(),
		Reason:      f["reason"].GetStringValue(),
		DeliveredTo: f["delivered_to"].GetStringValue(),
		CreatedAt:   createdAt,
	}, nil
}

func parseTime(v *structpb.Value) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, v.GetStringValue())
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp: %w", err)
	}
	return t, nil
}
