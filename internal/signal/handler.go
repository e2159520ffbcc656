package signal

import (
	"context"
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"signalhub/internal/call"
	"signalhub/internal/chat"
	"signalhub/internal/group"
	"signalhub/internal/metrics"
	"signalhub/internal/presence"
	"signalhub/internal/push"
)

// 推送预览截断长度（按 rune 计）。
const pushPreviewRunes = 200

const pushTimeout = 15 * time.Second

// Sender 是信令层到连接层的出口。Send 对未知连接返回 false；
// Alive 用于断线清理时剔除僵尸连接 id。
type Sender interface {
	Send(connID, event string, payload any) bool
	Alive(connID string) bool
}

// Envelope 是双向统一的线缆格式：{"type": "...", "data": {...}}。
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Handler 持有全部可变状态并实现所有信令动作。
// 状态变更在各 registry 的锁内完成，通知一律在锁外发出。
type Handler struct {
	users  *presence.Registry
	groups *group.Registry
	calls  *call.Table
	msgs   *chat.Log
	sender Sender
	push   push.Dispatcher
	ring   time.Duration
}

func NewHandler(users *presence.Registry, groups *group.Registry, calls *call.Table,
	msgs *chat.Log, sender Sender, dispatcher push.Dispatcher, ringTimeout time.Duration) *Handler {
	return &Handler{
		users:  users,
		groups: groups,
		calls:  calls,
		msgs:   msgs,
		sender: sender,
		push:   dispatcher,
		ring:   ringTimeout,
	}
}

// HandleFrame 解析一帧入站消息并分发到对应动作。
// 未知动作与坏载荷都回一个 error 事件，连接保持。
func (h *Handler) HandleFrame(connID string, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		h.fail(connID, "Invalid message format")
		return
	}

	switch env.Type {
	case ActRegister:
		var p RegisterPayload
		if h.decode(connID, env.Data, &p) {
			h.Register(connID, p)
		}
	case ActStoreToken:
		var p StoreTokenPayload
		if h.decode(connID, env.Data, &p) {
			h.StoreToken(connID, p)
		}
	case ActCall:
		var p PeerPayload
		if h.decode(connID, env.Data, &p) {
			h.Call(connID, p)
		}
	case ActCancel:
		var p PeerPayload
		if h.decode(connID, env.Data, &p) {
			h.Cancel(connID, p)
		}
	case ActAccept:
		var p PeerPayload
		if h.decode(connID, env.Data, &p) {
			h.Accept(connID, p)
		}
	case ActReject:
		var p PeerPayload
		if h.decode(connID, env.Data, &p) {
			h.Reject(connID, p)
		}
	case ActCutCall:
		var p PeerPayload
		if h.decode(connID, env.Data, &p) {
			h.Cut(connID, p)
		}
	case ActCreateGroup:
		var p CreateGroupPayload
		if h.decode(connID, env.Data, &p) {
			h.CreateGroup(connID, p)
		}
	case ActAddGroupMember:
		var p AddMemberPayload
		if h.decode(connID, env.Data, &p) {
			h.AddGroupMember(connID, p)
		}
	case ActRemoveGroupMember:
		var p RemoveMemberPayload
		if h.decode(connID, env.Data, &p) {
			h.RemoveGroupMember(connID, p)
		}
	case ActGroupCall:
		var p GroupActionPayload
		if h.decode(connID, env.Data, &p) {
			h.GroupCall(connID, p)
		}
	case ActGroupAccept:
		var p GroupActionPayload
		if h.decode(connID, env.Data, &p) {
			h.GroupAccept(connID, p)
		}
	case ActGroupReject:
		var p GroupActionPayload
		if h.decode(connID, env.Data, &p) {
			h.GroupReject(connID, p)
		}
	case ActGroupCut:
		var p GroupActionPayload
		if h.decode(connID, env.Data, &p) {
			h.GroupCut(connID, p)
		}
	case ActSendMessage:
		var p SendMessagePayload
		if h.decode(connID, env.Data, &p) {
			h.SendMessage(connID, p)
		}
	case ActSendGroupMessage:
		var p SendGroupMessagePayload
		if h.decode(connID, env.Data, &p) {
			h.SendGroupMessage(connID, p)
		}
	default:
		log.Warn().Str("conn_id", connID).Str("type", env.Type).Msg("unknown action")
		h.fail(connID, "Unknown action: "+env.Type)
	}
}

func (h *Handler) decode(connID string, data json.RawMessage, dst any) bool {
	if err := json.Unmarshal(data, dst); err != nil {
		h.fail(connID, "Invalid message format")
		return false
	}
	return true
}

// ── 发送辅助 ──

func (h *Handler) send(connID, event string, payload any) {
	h.sender.Send(connID, event, payload)
}

func (h *Handler) sendTo(connIDs []string, event string, payload any) {
	for _, id := range connIDs {
		h.sender.Send(id, event, payload)
	}
}

// sendToUser 发给该用户的所有 tab。
func (h *Handler) sendToUser(userID, event string, payload any) {
	h.sendTo(h.users.ConnIDs(userID), event, payload)
}

// sendToUserExcept 发给该用户除指定连接外的所有 tab（多开同步）。
func (h *Handler) sendToUserExcept(userID, exceptConn, event string, payload any) {
	for _, id := range h.users.ConnIDs(userID) {
		if id == exceptConn {
			continue
		}
		h.sender.Send(id, event, payload)
	}
}

func (h *Handler) fail(connID, msg string) {
	h.send(connID, EvError, ErrorPayload{Message: msg})
}

// verifyIdentity 校验连接确实注册在声称的 user_id 名下。
// 失败时直接回错并记 warn，调用方只需 return。
func (h *Handler) verifyIdentity(connID, userID string) bool {
	if h.users.Owns(userID, connID) {
		return true
	}
	log.Warn().Str("conn_id", connID).Str("claimed", userID).Msg("identity mismatch")
	h.fail(connID, "Identity mismatch")
	return false
}

// ── 推送辅助 ──

// dispatchPush 在独立 goroutine 里逐 token 投递；永久失败的 token
// 当场驱逐。不阻塞信令路径。
func (h *Handler) dispatchPush(userID string, tokens []string, data map[string]string) {
	if len(tokens) == 0 {
		return
	}
	go func() {
		for _, tok := range tokens {
			ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
			status := h.push.Send(ctx, tok, data)
			cancel()
			metrics.PushSentTotal.Inc()
			if status == push.Invalid && h.users.RemoveToken(userID, tok) {
				metrics.PushEvictionsTotal.Inc()
				log.Warn().Str("user_id", userID).Msg("evicted dead push token")
			}
		}
	}()
}

func truncatePreview(content string) string {
	if utf8.RuneCountInString(content) <= pushPreviewRunes {
		return content
	}
	runes := []rune(content)
	return string(runes[:pushPreviewRunes])
}

func callPushData(from, target string) map[string]string {
	return map[string]string{
		"type":   "incoming_call",
		"from":   from,
		"target": target,
	}
}

func groupCallPushData(from, groupID, groupName string) map[string]string {
	return map[string]string{
		"type":       "group_incoming_call",
		"from":       from,
		"group_id":   groupID,
		"group_name": groupName,
	}
}

func dmPushData(from, to, content string) map[string]string {
	return map[string]string{
		"type":    "direct_message",
		"from":    from,
		"to":      to,
		"preview": truncatePreview(content),
	}
}

func groupMessagePushData(from, groupID, groupName, content string) map[string]string {
	return map[string]string{
		"type":       "group_message",
		"from":       from,
		"group_id":   groupID,
		"group_name": groupName,
		"preview":    truncatePreview(content),
	}
}

// ── 注册与 token ──

// Register 处理注册：先向新连接回放全量状态（用户快照、所属群、
// 历史消息），再把连接挂进名册、回 ack、最后向其他人广播上线。
// 顺序保证新 tab 不会看到关于自己的广播，也不会漏任何历史。
func (h *Handler) Register(connID string, p RegisterPayload) {
	userID := strings.TrimSpace(p.UserID)
	if userID == "" {
		h.send(connID, EvRegisterError, ErrorPayload{Message: "Name cannot be empty"})
		return
	}
	// "::" 是会话键的保留分隔符，放进用户名会污染私聊历史的键空间。
	if strings.Contains(userID, "::") {
		h.send(connID, EvRegisterError, ErrorPayload{Message: "Name cannot contain '::'"})
		return
	}
	// 一个连接终身只属于一个用户，换名必须换连接。
	if owner, ok := h.users.OwnerOf(connID); ok && owner != userID {
		log.Warn().Str("conn_id", connID).Str("registered_as", owner).
			Str("claimed", userID).Msg("connection already bound")
		h.send(connID, EvRegisterError, ErrorPayload{Message: "Connection already registered as another user"})
		return
	}

	h.send(connID, EvUserList, UserListPayload{Users: h.users.Snapshot(userID)})

	groups := h.groups.GroupsOf(userID)
	for _, g := range groups {
		h.send(connID, EvGroupCreated, g)
	}
	for _, hist := range h.msgs.DMHistories(userID) {
		h.send(connID, EvMessageHistory, hist)
	}
	for _, g := range groups {
		if hist, ok := h.msgs.GroupHistory(g.GroupID); ok {
			h.send(connID, EvMessageHistory, hist)
		}
	}

	already := h.users.Register(userID, connID)
	if !already {
		metrics.OnlineUsers.Inc()
	}
	h.send(connID, EvRegistered, RegisteredPayload{UserID: userID, ConnID: connID})
	h.sendTo(h.users.ConnsExcept(userID), EvUserOnline, UserPayload{UserID: userID})

	log.Info().Str("user_id", userID).Str("conn_id", connID).
		Bool("extra_tab", already).Msg("registered")
}

// StoreToken 存储推送 token。不要求用户在线：token 先于注册到达
// 也要收下，否则离线推送无从谈起。
func (h *Handler) StoreToken(connID string, p StoreTokenPayload) {
	if strings.TrimSpace(p.Token) == "" {
		h.fail(connID, "Token cannot be empty")
		return
	}
	if strings.TrimSpace(p.UserID) == "" {
		h.fail(connID, "Name cannot be empty")
		return
	}
	if strings.Contains(p.UserID, "::") {
		h.fail(connID, "Name cannot contain '::'")
		return
	}
	total := h.users.AddToken(p.UserID, p.Token)
	log.Info().Str("user_id", p.UserID).Int("tokens", total).Msg("push token stored")
}
