package signal

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"signalhub/internal/call"
)

// Call 发起 1:1 呼叫。被叫既无连接又无 token 时直接拒绝，
// 否则先通知在线 tab，再异步推送，最后武装响铃定时器。
func (h *Handler) Call(connID string, p PeerPayload) {
	if p.From == p.To {
		h.fail(connID, "Cannot call yourself")
		return
	}
	if !h.verifyIdentity(connID, p.From) {
		return
	}
	if !h.users.Known(p.To) {
		h.fail(connID, fmt.Sprintf("User '%s' is not registered", p.To))
		return
	}

	conns := h.users.ConnIDs(p.To)
	tokens := h.users.Tokens(p.To)
	if len(conns) == 0 && len(tokens) == 0 {
		h.fail(connID, fmt.Sprintf("'%s' is offline and has no push token registered", p.To))
		return
	}

	switch err := h.calls.PlaceDirect(p.To, p.From, connID); err {
	case nil:
	case call.ErrAlreadyRinging:
		// 同一主叫重复点呼叫，按幂等重试静默处理。
		return
	case call.ErrCalleeBusy:
		h.fail(connID, fmt.Sprintf("'%s' is busy on another call", p.To))
		return
	case call.ErrCallerBusy:
		h.fail(connID, "You are already on a call")
		return
	default:
		h.fail(connID, err.Error())
		return
	}

	h.sendTo(conns, EvIncomingCall, FromPayload{From: p.From})
	h.dispatchPush(p.To, tokens, callPushData(p.From, p.To))
	h.armDirectTimeout(p.From, p.To)

	log.Info().Str("from", p.From).Str("to", p.To).Msg("call ringing")
}

// 定时器触发时先在表里重新校验再通知；AttachTimer 失败说明会话
// 已经变迁（被接/被拒/被撤），定时器作废。
func (h *Handler) armDirectTimeout(from, to string) {
	t := time.AfterFunc(h.ring, func() {
		res, ok := h.calls.Expire(to, from)
		if !ok {
			return
		}
		h.send(res.OriginConn, EvCallEnded, ReasonPayload{Reason: "No answer"})
		h.sendToUser(to, EvCallEnded, ReasonPayload{Reason: "No answer"})
		log.Info().Str("from", from).Str("to", to).Msg("ring timeout")
	})
	if !h.calls.AttachTimer(to, from, t) {
		t.Stop()
	}
}

// Accept 被叫接听：from 是被叫，to 是主叫。另一个 tab 已经接过时，
// 本 tab 收到关闭提示而不是二次建立。
func (h *Handler) Accept(connID string, p PeerPayload) {
	if !h.verifyIdentity(connID, p.From) {
		return
	}
	res, err := h.calls.Accept(p.From, p.To)
	switch err {
	case nil:
	case call.ErrCallerMismatch:
		h.fail(connID, "Caller mismatch")
		return
	default:
		h.fail(connID, "No active call to accept")
		return
	}
	if res.AlreadyActive {
		h.send(connID, EvCallEnded, ReasonPayload{Reason: "Call accepted on another tab"})
		return
	}

	h.sendToUser(p.To, EvCallAccepted, ByPayload{By: p.From})
	h.sendToUserExcept(p.From, connID, EvCallEnded, ReasonPayload{Reason: "Answered on another tab"})

	log.Info().Str("callee", p.From).Str("caller", p.To).Msg("call accepted")
}

// Reject 被叫拒接，仅对仍在响铃的会话有效。
func (h *Handler) Reject(connID string, p PeerPayload) {
	if !h.verifyIdentity(connID, p.From) {
		return
	}
	origin, err := h.calls.Reject(p.From, p.To)
	if err != nil {
		h.fail(connID, "No ringing call to reject")
		return
	}

	h.send(origin, EvCallRejected, ByPayload{By: p.From})
	h.sendToUserExcept(p.From, connID, EvCallEnded, ReasonPayload{Reason: "Rejected on another tab"})

	log.Info().Str("callee", p.From).Str("caller", p.To).Msg("call rejected")
}

// Cancel 主叫撤回响铃中的呼叫。会话已不在响铃时静默：
// 撤回与接听竞争输掉不算错误。
func (h *Handler) Cancel(connID string, p PeerPayload) {
	if !h.verifyIdentity(connID, p.From) {
		return
	}
	if !h.calls.Cancel(p.From, p.To) {
		return
	}
	h.sendToUser(p.To, EvCallCancelled, ByPayload{By: p.From})

	log.Info().Str("caller", p.From).Str("callee", p.To).Msg("call cancelled")
}

// Cut 挂断已建立的通话，任一方都可发起。对端所有 tab 收到带挂断人
// 的结束事件，发起方其他 tab 与发起 tab 分别收到各自的提示。
func (h *Handler) Cut(connID string, p PeerPayload) {
	if !h.verifyIdentity(connID, p.From) {
		return
	}
	res, err := h.calls.Cut(p.From, p.To)
	if err != nil {
		h.fail(connID, "No active call to cut")
		return
	}

	other := res.Caller
	if other == p.From {
		other = res.Callee
	}
	h.sendToUser(other, EvCallEnded, ReasonPayload{Reason: fmt.Sprintf("Call ended by %s", p.From)})
	h.sendToUserExcept(p.From, connID, EvCallEnded, ReasonPayload{Reason: "You ended the call"})
	h.send(connID, EvCallEnded, ReasonPayload{Reason: "Call ended"})

	log.Info().Str("by", p.From).Str("peer", other).Msg("call cut")
}
