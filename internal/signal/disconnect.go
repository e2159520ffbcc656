package signal

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"signalhub/internal/metrics"
)

// Disconnected 处理连接关闭后的级联清理。只有用户最后一个 tab
// 断开才触发通话清理与下线广播；清理按角色互斥执行：
// 被叫 → 1:1 主叫 → 群呼主叫 → 群呼参与者。
func (h *Handler) Disconnected(connID string) {
	userID, ok := h.users.OwnerOf(connID)
	if !ok {
		log.Debug().Str("conn_id", connID).Msg("unregistered connection closed")
		return
	}

	offline := h.users.RemoveConn(userID, connID, h.sender.Alive)
	if !offline {
		log.Info().Str("user_id", userID).Str("conn_id", connID).Msg("tab closed, still online")
		return
	}
	metrics.OnlineUsers.Dec()

	if res, found := h.calls.RemoveCallee(userID); found {
		h.sendToUser(res.Caller, EvCallEnded,
			ReasonPayload{Reason: fmt.Sprintf("'%s' disconnected", userID)})
	} else if res, found := h.calls.RemoveDirectCaller(userID); found {
		h.sendToUser(res.Callee, EvCallCancelled, ByPayload{By: userID})
	} else if res, found := h.calls.RemoveGroupCaller(userID); found {
		ended := GroupEndPayload{
			GroupID: res.GroupID,
			Reason:  fmt.Sprintf("'%s' disconnected", userID),
		}
		if g, known := h.groups.Get(res.GroupID); known {
			for _, m := range g.Members {
				if m == userID {
					continue
				}
				h.sendToUser(m, EvGroupCallEnded, ended)
			}
		} else {
			for _, m := range res.Invited {
				h.sendToUser(m, EvGroupCallEnded, ended)
			}
		}
	} else if res, found := h.calls.GroupLeave(userID); found {
		if res.Ended {
			ended := GroupEndPayload{
				GroupID: res.GroupID,
				Reason:  fmt.Sprintf("'%s' left the call", userID),
			}
			for _, u := range res.Remaining {
				h.sendToUser(u, EvGroupCallEnded, ended)
			}
		} else {
			left := GroupMemberPayload{GroupID: res.GroupID, UserID: userID}
			for _, u := range res.Remaining {
				h.sendToUser(u, EvGroupMemberLeft, left)
			}
		}
	}

	h.sendTo(h.users.ConnsExcept(userID), EvUserOffline, UserPayload{UserID: userID})
	log.Info().Str("user_id", userID).Msg("user offline")
}
