package group

import (
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// 业务层通用错误，handler 据此映射为发给客户端的 error 事件。
var (
	ErrNotFound      = errors.New("group not found")
	ErrNotMember     = errors.New("not a member of this group")
	ErrAlreadyMember = errors.New("already in the group")
	ErrTargetMissing = errors.New("target user is not in the group")
	ErrNotCreator    = errors.New("only the group creator can remove others")
)

// Group 的成员集在 Group 存续期间永不为空：清空即删除。
type Group struct {
	GroupID   string   `json:"group_id"`
	Name      string   `json:"name"`
	Members   []string `json:"members"`
	CreatedBy string   `json:"created_by"`
}

func (g Group) HasMember(userID string) bool {
	for _, m := range g.Members {
		if m == userID {
			return true
		}
	}
	return false
}

func (g Group) clone() Group {
	members := make([]string, len(g.Members))
	copy(members, g.Members)
	g.Members = members
	return g
}

// Registry 是群组表；成员资格校验独立于在线状态。
type Registry struct {
	mu     sync.RWMutex
	groups map[string]*Group
}

func NewRegistry() *Registry {
	return &Registry{groups: make(map[string]*Group)}
}

// Create 建群：创建者必进成员表，成员去重，群 id 服务端生成。
func (r *Registry) Create(name, createdBy string, members []string) Group {
	seen := map[string]struct{}{createdBy: {}}
	list := []string{createdBy}
	for _, m := range members {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		list = append(list, m)
	}
	g := &Group{
		GroupID:   uuid.NewString(),
		Name:      name,
		Members:   list,
		CreatedBy: createdBy,
	}
	r.mu.Lock()
	r.groups[g.GroupID] = g
	r.mu.Unlock()
	return g.clone()
}

func (r *Registry) Get(groupID string) (Group, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[groupID]
	if !ok {
		return Group{}, false
	}
	return g.clone(), true
}

// AddMember 由现有成员拉人入群，返回更新后的群。
func (r *Registry) AddMember(groupID, addedBy, userID string) (Group, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[groupID]
	if !ok {
		return Group{}, ErrNotFound
	}
	if !g.HasMember(addedBy) {
		return Group{}, ErrNotMember
	}
	if g.HasMember(userID) {
		return Group{}, ErrAlreadyMember
	}
	g.Members = append(g.Members, userID)
	return g.clone(), nil
}

// RemoveResult 汇报移除成员的结果；Deleted 为真表示最后一人离开、群已销毁。
// OldMembers 是移除前的成员表，通知要发给他们（包括被移除者）。
type RemoveResult struct {
	Group      Group
	Deleted    bool
	OldMembers []string
}

// RemoveMember 移除成员：创建者可移除任何人，普通成员只能移除自己。
func (r *Registry) RemoveMember(groupID, removedBy, userID string) (RemoveResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[groupID]
	if !ok {
		return RemoveResult{}, ErrNotFound
	}
	if !g.HasMember(removedBy) {
		return RemoveResult{}, ErrNotMember
	}
	if removedBy != userID && removedBy != g.CreatedBy {
		return RemoveResult{}, ErrNotCreator
	}
	if !g.HasMember(userID) {
		return RemoveResult{}, ErrTargetMissing
	}

	old := make([]string, len(g.Members))
	copy(old, g.Members)

	kept := g.Members[:0]
	for _, m := range g.Members {
		if m != userID {
			kept = append(kept, m)
		}
	}
	g.Members = kept

	if len(g.Members) == 0 {
		delete(r.groups, groupID)
		return RemoveResult{Group: Group{GroupID: groupID}, Deleted: true, OldMembers: old}, nil
	}
	return RemoveResult{Group: g.clone(), OldMembers: old}, nil
}

// GroupsOf 返回用户所属的全部群，按群名排序，注册回放时使用。
func (r *Registry) GroupsOf(userID string) []Group {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Group
	for _, g := range r.groups {
		if g.HasMember(userID) {
			out = append(out, g.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
