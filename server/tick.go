package server

import "time"

// Start 启动房间的事件循环（只启动一次）
func (r *Room) Start() {
	r.startOnce.Do(func() { go r.Run() })
}

// Run 事件循环：逐条执行命令，并周期性驱逐超时未 join 的会话。
// Stop 之后关闭所有连接并返回。
func (r *Room) Run() {
	defer close(r.done)
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.quit:
			r.closeAll()
			return
		case c := <-r.inbox:
			start := time.Now()
			c.apply(r)
			r.metrics.AddCommand(time.Since(start).Nanoseconds())
		case <-ticker.C:
			r.evictStale()
		}
	}
}

// evictStale 对超过 join_timeout 仍未 join 的会话走普通断开流程
func (r *Room) evictStale() int {
	if r.settings.JoinTimeout <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.settings.JoinTimeout)
	n := 0
	for _, id := range r.players.staleUnjoined(cutoff) {
		if r.onLeave(id, "join timeout") {
			r.metrics.IncEvictions()
			n++
		}
	}
	return n
}

// closeAll 房间停止时关闭所有连接；注册表随房间一起丢弃
func (r *Room) closeAll() {
	for id := range r.router.conns {
		if c, ok := r.router.detach(id); ok {
			_ = c.Close()
		}
	}
	Log.Infof("room stopped: room=%s", r.ID)
}
