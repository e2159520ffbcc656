package signal

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"signalhub/internal/call"
)

// GroupCall 发起群呼：除主叫外的全部成员进入受邀集合，
// 每人收到 group_incoming_call 并异步推送。
func (h *Handler) GroupCall(connID string, p GroupActionPayload) {
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

	invited := make([]string, 0, len(g.Members)-1)
	for _, m := range g.Members {
		if m != p.From {
			invited = append(invited, m)
		}
	}
	if len(invited) == 0 {
		h.fail(connID, "No one else to call in this group")
		return
	}

	switch err := h.calls.PlaceGroup(p.GroupID, p.From, connID, invited); err {
	case nil:
	case call.ErrGroupCallExists:
		h.fail(connID, "This group already has an active call")
		return
	case call.ErrCallerBusy:
		h.fail(connID, "You are already on a call")
		return
	default:
		h.fail(connID, err.Error())
		return
	}

	incoming := GroupIncomingCallPayload{From: p.From, GroupID: g.GroupID, GroupName: g.Name}
	for _, m := range invited {
		h.sendToUser(m, EvGroupIncomingCall, incoming)
		h.dispatchPush(m, h.users.Tokens(m), groupCallPushData(p.From, g.GroupID, g.Name))
	}
	h.armGroupTimeout(p.From, p.GroupID)

	log.Info().Str("group_id", g.GroupID).Str("from", p.From).
		Int("invited", len(invited)).Msg("group call ringing")
}

// 群呼响铃超时：无人接听时通知主叫与全部受邀者。
// Expire 内部重新校验，第一个接听者总是赢过定时器。
func (h *Handler) armGroupTimeout(from, groupID string) {
	t := time.AfterFunc(h.ring, func() {
		res, ok := h.calls.Expire(groupID, from)
		if !ok {
			return
		}
		payload := GroupEndPayload{GroupID: groupID, Reason: "No answer"}
		h.send(res.OriginConn, EvGroupCallEnded, payload)
		for _, m := range res.Invited {
			h.sendToUser(m, EvGroupCallEnded, payload)
		}
		log.Info().Str("group_id", groupID).Str("from", from).Msg("group ring timeout")
	})
	if !h.calls.AttachTimer(groupID, from, t) {
		t.Stop()
	}
}

// GroupAccept 加入群呼。首个接受者把会话推进到 Active；
// 重复接受、主叫自己、未受邀者都是空操作。
func (h *Handler) GroupAccept(connID string, p GroupActionPayload) {
	if !h.verifyIdentity(connID, p.From) {
		return
	}
	res, err := h.calls.GroupAccept(p.GroupID, p.From)
	if err != nil {
		h.fail(connID, "No active group call to accept")
		return
	}
	if res.Already {
		return
	}

	joined := GroupMemberPayload{GroupID: p.GroupID, UserID: p.From}
	for _, u := range res.Participants {
		if u == p.From {
			continue
		}
		h.sendToUser(u, EvGroupMemberJoined, joined)
	}
	h.send(connID, EvGroupMemberJoined, joined)
	h.sendToUserExcept(p.From, connID, EvGroupCallEnded,
		GroupEndPayload{GroupID: p.GroupID, Reason: "Answered on another tab"})

	log.Info().Str("group_id", p.GroupID).Str("user_id", p.From).Msg("joined group call")
}

// GroupReject 拒绝群呼邀请。所有受邀者都表态且无人接受时，
// 会话终结并通知剩余参与者（含主叫）。
func (h *Handler) GroupReject(connID string, p GroupActionPayload) {
	if !h.verifyIdentity(connID, p.From) {
		return
	}
	if !h.calls.Has(p.GroupID) {
		// 呼叫已经结束，迟到的拒绝静默。
		return
	}

	h.send(connID, EvGroupCallEnded, GroupEndPayload{GroupID: p.GroupID, Reason: "You declined"})
	h.sendToUserExcept(p.From, connID, EvGroupCallEnded,
		GroupEndPayload{GroupID: p.GroupID, Reason: "Rejected on another tab"})

	res, err := h.calls.GroupReject(p.GroupID, p.From)
	if err != nil {
		return
	}
	if res.AllDeclined {
		ended := GroupEndPayload{GroupID: p.GroupID, Reason: "All members declined"}
		for _, u := range res.Participants {
			h.sendToUser(u, EvGroupCallEnded, ended)
		}
		log.Info().Str("group_id", p.GroupID).Msg("group call declined by all")
	}
}

// GroupCut 离开或终结群呼：主叫挂断、或最后一个参与者离开时
// 整场结束；否则只是摘人并向留下的人广播 group_member_left。
func (h *Handler) GroupCut(connID string, p GroupActionPayload) {
	if !h.verifyIdentity(connID, p.From) {
		return
	}
	res, err := h.calls.GroupCut(p.GroupID, p.From)
	switch err {
	case nil:
	case call.ErrNotParticipant:
		h.fail(connID, "You are not in this call")
		return
	default:
		h.fail(connID, "No active group call")
		return
	}

	if res.Ended {
		if g, ok := h.groups.Get(p.GroupID); ok {
			ended := GroupEndPayload{
				GroupID: p.GroupID,
				Reason:  fmt.Sprintf("'%s' ended the call", p.From),
			}
			for _, m := range g.Members {
				if m == p.From {
					continue
				}
				h.sendToUser(m, EvGroupCallEnded, ended)
			}
		}
		h.send(connID, EvGroupCallEnded, GroupEndPayload{GroupID: p.GroupID, Reason: "Call ended"})
		log.Info().Str("group_id", p.GroupID).Str("by", p.From).Msg("group call ended")
		return
	}

	left := GroupMemberPayload{GroupID: p.GroupID, UserID: p.From}
	for _, u := range res.Remaining {
		h.sendToUser(u, EvGroupMemberLeft, left)
	}
	h.send(connID, EvGroupCallEnded, GroupEndPayload{GroupID: p.GroupID, Reason: "You left the call"})

	log.Info().Str("group_id", p.GroupID).Str("user_id", p.From).Msg("left group call")
}
