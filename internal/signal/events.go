package signal

import "signalhub/internal/presence"

// 入站动作名（客户端 → 服务端）。
const (
	ActRegister          = "register"
	ActStoreToken        = "store_token"
	ActCall              = "call"
	ActCancel            = "cancel"
	ActAccept            = "accept"
	ActReject            = "reject"
	ActCutCall           = "cut_call"
	ActCreateGroup       = "create_group"
	ActAddGroupMember    = "add_group_member"
	ActRemoveGroupMember = "remove_group_member"
	ActGroupCall         = "group_call"
	ActGroupAccept       = "group_accept"
	ActGroupReject       = "group_reject"
	ActGroupCut          = "group_cut"
	ActSendMessage       = "send_message"
	ActSendGroupMessage  = "send_group_message"
)

// 出站事件名（服务端 → 客户端）。
const (
	EvRegistered    = "registered"
	EvUserList      = "user_list"
	EvUserOnline    = "user_online"
	EvUserOffline   = "user_offline"
	EvRegisterError = "register_error"
	EvError         = "error"

	EvIncomingCall  = "incoming_call"
	EvCallAccepted  = "call_accepted"
	EvCallRejected  = "call_rejected"
	EvCallCancelled = "call_cancelled"
	EvCallEnded     = "call_ended"

	EvGroupCreated = "group_created"
	EvGroupUpdated = "group_updated"
	EvGroupDeleted = "group_deleted"

	EvGroupIncomingCall = "group_incoming_call"
	EvGroupMemberJoined = "group_member_joined"
	EvGroupMemberLeft   = "group_member_left"
	EvGroupCallEnded    = "group_call_ended"

	EvDirectMessage  = "direct_message"
	EvGroupMessage   = "group_message"
	EvMessageSent    = "message_sent"
	EvMessageHistory = "message_history"
)

// ── 入站载荷 ──

type RegisterPayload struct {
	UserID string `json:"user_id"`
}

type StoreTokenPayload struct {
	UserID string `json:"user_id"`
	Token  string `json:"token"`
}

// PeerPayload 供 call/cancel/accept/reject/cut_call 共用；
// accept/reject 里 from 是被叫、to 是主叫。
type PeerPayload struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type CreateGroupPayload struct {
	CreatedBy string   `json:"created_by"`
	Name      string   `json:"name"`
	Members   []string `json:"members"`
}

type AddMemberPayload struct {
	GroupID string `json:"group_id"`
	AddedBy string `json:"added_by"`
	UserID  string `json:"user_id"`
}

type RemoveMemberPayload struct {
	GroupID   string `json:"group_id"`
	RemovedBy string `json:"removed_by"`
	UserID    string `json:"user_id"`
}

// GroupActionPayload 供 group_call/group_accept/group_reject/group_cut 共用。
type GroupActionPayload struct {
	From    string `json:"from"`
	GroupID string `json:"group_id"`
}

type SendMessagePayload struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Content string `json:"content"`
}

type SendGroupMessagePayload struct {
	From    string `json:"from"`
	GroupID string `json:"group_id"`
	Content string `json:"content"`
}

// ── 出站载荷 ──

type RegisteredPayload struct {
	UserID string `json:"user_id"`
	ConnID string `json:"conn_id"`
}

type UserListPayload struct {
	Users []presence.Entry `json:"users"`
}

type UserPayload struct {
	UserID string `json:"user_id"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

type FromPayload struct {
	From string `json:"from"`
}

type ByPayload struct {
	By string `json:"by"`
}

type ReasonPayload struct {
	Reason string `json:"reason"`
}

type GroupDeletedPayload struct {
	GroupID string `json:"group_id"`
}

type GroupIncomingCallPayload struct {
	From      string `json:"from"`
	GroupID   string `json:"group_id"`
	GroupName string `json:"group_name"`
}

type GroupMemberPayload struct {
	GroupID string `json:"group_id"`
	UserID  string `json:"user_id"`
}

type GroupEndPayload struct {
	GroupID string `json:"group_id"`
	Reason  string `json:"reason"`
}

type DirectMessagePayload struct {
	MessageID string `json:"message_id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

type GroupMessagePayload struct {
	MessageID string `json:"message_id"`
	From      string `json:"from"`
	GroupID   string `json:"group_id"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}
