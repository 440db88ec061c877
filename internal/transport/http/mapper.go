package http

import (
	"time"

	"github.com/vovakirdan/chatline-server/internal/core"
	"github.com/vovakirdan/chatline-server/internal/proto"
	"github.com/vovakirdan/chatline-server/internal/store"
)

const timeLayout = time.RFC3339Nano

// attachmentFrom builds an attachment from wire fields, or nil when both are empty.
func attachmentFrom(url, mediaType string) *core.Attachment {
	if url == "" && mediaType == "" {
		return nil
	}
	return &core.Attachment{URL: url, Kind: store.AttachmentKind(mediaType)}
}

func messageData(m *store.Message) proto.MessageData {
	return proto.MessageData{
		ID:        m.ID,
		ChatID:    m.ChatID,
		Sender:    m.SenderID,
		Recipient: m.RecipientID,
		Content:   m.Content,
		MediaURL:  m.MediaURL,
		MediaType: string(m.MediaType),
		Seq:       m.Seq,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func outboundFromEvent(ev *core.Event) proto.Outbound {
	switch ev.Kind {
	case core.EventReceiveMessage, core.EventMessageUpdated:
		name := proto.EventReceiveMessage
		if ev.Kind == core.EventMessageUpdated {
			name = proto.EventMessageUpdated
		}
		var data any
		if ev.Message != nil {
			data = messageData(ev.Message)
		}
		return proto.Outbound{Type: proto.OutboundTypeEvent, Event: name, Data: data}
	case core.EventMessageDeleted:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventMessageDeleted,
			Data:  proto.MessageDeletedData{ChatID: ev.ChatID, MessageID: ev.MessageID},
		}
	case core.EventChatCreated:
		data := proto.ChatData{ID: ev.ChatID}
		if ev.Chat != nil {
			data.Participants = ev.Chat.Participants
			data.CreatedAt = ev.Chat.CreatedAt
		}
		return proto.Outbound{Type: proto.OutboundTypeEvent, Event: proto.EventChatCreated, Data: data}
	case core.EventChatDeleted:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventChatDeleted,
			Data:  proto.ChatDeletedData{ChatID: ev.ChatID},
		}
	case core.EventError:
		return outboundError(ev.Error)
	default:
		return outboundError(core.NewError(core.ErrCodeInvalidState, "unknown event"))
	}
}

func outboundError(ce *core.CoreError) proto.Outbound {
	if ce == nil {
		ce = core.NewError(core.ErrCodePersistenceFailure, "internal error")
	}
	return proto.Outbound{
		Type:  proto.OutboundTypeError,
		Event: "error",
		Error: &proto.Error{Code: ce.Code, Message: ce.Message},
	}
}
