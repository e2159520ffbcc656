package chat

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"signalhub/internal/metrics"
)

const groupPrefix = "group::"

// DMKey 生成私聊会话键：按字典序排好的用户对，双方落在同一份历史上。
// 分隔符 "::" 不会出现在用户名里（注册与 store_token 时校验）。
func DMKey(a, b string) string {
	if a <= b {
		return a + "::" + b
	}
	return b + "::" + a
}

// GroupKey 生成群聊会话键。
func GroupKey(groupID string) string {
	return groupPrefix + groupID
}

type Message struct {
	MessageID string `json:"message_id"`
	From      string `json:"from"`
	Target    string `json:"target"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// History 是注册回放时按会话下发的一段历史。
type History struct {
	ConversationKey string    `json:"conversation_key"`
	Messages        []Message `json:"messages"`
}

// Log 是进程生命周期内只追加的会话历史，不修剪不压缩。
type Log struct {
	mu    sync.RWMutex
	convs map[string][]Message
}

func NewLog() *Log {
	return &Log{convs: make(map[string][]Message)}
}

// Append 落一条消息，服务端分配 id 与时间戳。
func (l *Log) Append(key, from, target, content string) Message {
	msg := Message{
		MessageID: uuid.NewString(),
		From:      from,
		Target:    target,
		Content:   content,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	l.mu.Lock()
	l.convs[key] = append(l.convs[key], msg)
	l.mu.Unlock()
	metrics.MessagesTotal.Inc()
	return msg
}

// DMHistories 收集该用户参与的全部私聊历史，按会话键排序。
func (l *Log) DMHistories(userID string) []History {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []History
	for key, msgs := range l.convs {
		if len(msgs) == 0 || strings.HasPrefix(key, groupPrefix) {
			continue
		}
		a, b, ok := strings.Cut(key, "::")
		if !ok || (a != userID && b != userID) {
			continue
		}
		out = append(out, History{ConversationKey: key, Messages: cloneMessages(msgs)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConversationKey < out[j].ConversationKey })
	return out
}

// GroupHistory 返回某群的历史；空历史不回放。
func (l *Log) GroupHistory(groupID string) (History, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	key := GroupKey(groupID)
	msgs, ok := l.convs[key]
	if !ok || len(msgs) == 0 {
		return History{}, false
	}
	return History{ConversationKey: key, Messages: cloneMessages(msgs)}, true
}

// Messages 返回某会话的消息副本。
func (l *Log) Messages(key string) []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneMessages(l.convs[key])
}

func cloneMessages(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}
