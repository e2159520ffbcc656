package push

import "context"

// Status 告诉调用方一次投递后该如何处置 token。
type Status int

const (
	// Delivered 投递成功。
	Delivered Status = iota
	// Invalid token 永久失效，调用方必须将其从用户名下驱逐，不再重试。
	Invalid
	// Transient 临时失败，只记日志，token 保留。
	Transient
)

// Dispatcher 是推送侧信道的边界；投递是尽力而为的 fire-and-forget。
type Dispatcher interface {
	Send(ctx context.Context, token string, data map[string]string) Status
}

// Disabled 在未配置推送凭证时使用，一切调用都按成功处理。
type Disabled struct{}

func (Disabled) Send(context.Context, string, map[string]string) Status { return Delivered }
