package signal

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"signalhub/internal/chat"
)

// SendMessage 私聊：落历史、发给对方所有 tab、同步到自己其他 tab，
// 发送 tab 收到 message_sent 回执，离线对端走推送。
func (h *Handler) SendMessage(connID string, p SendMessagePayload) {
	content := strings.TrimSpace(p.Content)
	if content == "" {
		h.fail(connID, "Message cannot be empty")
		return
	}
	if p.From == p.To {
		h.fail(connID, "Cannot message yourself")
		return
	}
	if !h.verifyIdentity(connID, p.From) {
		return
	}
	if !h.users.Known(p.To) {
		h.fail(connID, fmt.Sprintf("User '%s' is not registered", p.To))
		return
	}

	msg := h.msgs.Append(chat.DMKey(p.From, p.To), p.From, p.To, content)
	out := DirectMessagePayload{
		MessageID: msg.MessageID,
		From:      msg.From,
		To:        msg.Target,
		Content:   msg.Content,
		Timestamp: msg.Timestamp,
	}

	h.sendToUser(p.To, EvDirectMessage, out)
	h.sendToUserExcept(p.From, connID, EvDirectMessage, out)
	h.send(connID, EvMessageSent, out)
	h.dispatchPush(p.To, h.users.Tokens(p.To), dmPushData(p.From, p.To, content))

	log.Info().Str("from", p.From).Str("to", p.To).Msg("direct message")
}

// SendGroupMessage 群聊：发给每个成员的所有 tab（发送 tab 除外），
// 发送 tab 收到 message_sent 回执，其余成员异步推送。
func (h *Handler) SendGroupMessage(connID string, p SendGroupMessagePayload) {
	content := strings.TrimSpace(p.Content)
	if content == "" {
		h.fail(connID, "Message cannot be empty")
		return
	}
	if !h.verifyIdentity(connID, p.From) {
		return
	}
	g, ok := h.groups.Get(p.GroupID)
	if !ok {
		h.fail(connID, fmt.Sprintf("Group '%s' not found", p.GroupID))
		return
	}
	if !g.HasMember(p.From) {
		h.fail(connID, "You are not a member of this group")
		return
	}

	msg := h.msgs.Append(chat.GroupKey(g.GroupID), p.From, g.GroupID, content)
	out := GroupMessagePayload{
		MessageID: msg.MessageID,
		From:      msg.From,
		GroupID:   msg.Target,
		Content:   msg.Content,
		Timestamp: msg.Timestamp,
	}

	for _, m := range g.Members {
		h.sendToUserExcept(m, connID, EvGroupMessage, out)
		if m != p.From {
			h.dispatchPush(m, h.users.Tokens(m), groupMessagePushData(p.From, g.GroupID, g.Name, content))
		}
	}
	h.send(connID, EvMessageSent, out)

	log.Info().Str("from", p.From).Str("group_id", g.GroupID).Msg("group message")
}
