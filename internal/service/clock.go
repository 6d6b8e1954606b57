package service

import (
	"sync/atomic"
	"time"
)

// Clock 对 now() 的唯一入口。引擎内所有时间判断都走绝对时间戳，
// 不累积计数器，这样页面刷新或会话挂起后重算仍然正确。
type Clock interface {
	Now() time.Time
}

// OffsetClock 在本机时钟上叠加服务器下发的偏移量（毫秒），
// 用于抹平客户端/服务端时钟漂移。偏移量可在运行时更新。
type OffsetClock struct {
	offsetMs int64
}

func NewOffsetClock(offsetMs int64) *OffsetClock {
	c := &OffsetClock{}
	atomic.StoreInt64(&c.offsetMs, offsetMs)
	return c
}

func (c *OffsetClock) Now() time.Time {
	off := atomic.LoadInt64(&c.offsetMs)
	return time.Now().Add(time.Duration(off) * time.Millisecond)
}

func (c *OffsetClock) SetOffset(offsetMs int64) {
	atomic.StoreInt64(&c.offsetMs, offsetMs)
}
