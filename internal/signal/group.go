package signal

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"signalhub/internal/group"
)

// CreateGroup 建群并向全部成员（含创建者所有 tab）广播 group_created。
func (h *Handler) CreateGroup(connID string, p CreateGroupPayload) {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		h.fail(connID, "Group name cannot be empty")
		return
	}
	if !h.verifyIdentity(connID, p.CreatedBy) {
		return
	}
	for _, m := range p.Members {
		if !h.users.Known(m) {
			h.fail(connID, fmt.Sprintf("User '%s' is not registered", m))
			return
		}
	}

	g := h.groups.Create(name, p.CreatedBy, p.Members)
	for _, m := range g.Members {
		h.sendToUser(m, EvGroupCreated, g)
	}

	log.Info().Str("group_id", g.GroupID).Str("name", g.Name).
		Int("members", len(g.Members)).Msg("group created")
}

// AddGroupMember 现有成员拉人入群，全员收到 group_updated。
func (h *Handler) AddGroupMember(connID string, p AddMemberPayload) {
	if !h.verifyIdentity(connID, p.AddedBy) {
		return
	}
	if !h.users.Known(p.UserID) {
		h.fail(connID, fmt.Sprintf("User '%s' is not registered", p.UserID))
		return
	}

	g, err := h.groups.AddMember(p.GroupID, p.AddedBy, p.UserID)
	switch err {
	case nil:
	case group.ErrNotFound:
		h.fail(connID, fmt.Sprintf("Group '%s' not found", p.GroupID))
		return
	case group.ErrNotMember:
		h.fail(connID, "You are not a member of this group")
		return
	case group.ErrAlreadyMember:
		h.fail(connID, fmt.Sprintf("'%s' is already in the group", p.UserID))
		return
	default:
		h.fail(connID, err.Error())
		return
	}

	for _, m := range g.Members {
		h.sendToUser(m, EvGroupUpdated, g)
	}

	log.Info().Str("group_id", g.GroupID).Str("added", p.UserID).
		Str("by", p.AddedBy).Msg("group member added")
}

// RemoveGroupMember 移除成员（创建者可移除任何人，成员可退群）。
// 最后一人离开时群销毁，旧成员全部收到 group_deleted。
func (h *Handler) RemoveGroupMember(connID string, p RemoveMemberPayload) {
	if !h.verifyIdentity(connID, p.RemovedBy) {
		return
	}

	res, err := h.groups.RemoveMember(p.GroupID, p.RemovedBy, p.UserID)
	switch err {
	case nil:
	case group.ErrNotFound:
		h.fail(connID, fmt.Sprintf("Group '%s' not found", p.GroupID))
		return
	case group.ErrNotMember:
		h.fail(connID, "You are not a member of this group")
		return
	case group.ErrNotCreator:
		h.fail(connID, "Only the group creator can remove others")
		return
	case group.ErrTargetMissing:
		h.fail(connID, fmt.Sprintf("'%s' is not in the group", p.UserID))
		return
	default:
		h.fail(connID, err.Error())
		return
	}

	if res.Deleted {
		payload := GroupDeletedPayload{GroupID: p.GroupID}
		for _, m := range res.OldMembers {
			h.sendToUser(m, EvGroupDeleted, payload)
		}
		log.Info().Str("group_id", p.GroupID).Msg("group deleted")
		return
	}

	// 被移除者也要收到更新，才能在界面上把群摘掉。
	for _, m := range res.OldMembers {
		h.sendToUser(m, EvGroupUpdated, res.Group)
	}

	log.Info().Str("group_id", p.GroupID).Str("removed", p.UserID).
		Str("by", p.RemovedBy).Msg("group member removed")
}
