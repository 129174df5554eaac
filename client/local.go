package client

import (
	"time"
)

// Input 本帧的方向键状态
type Input struct {
	Left, Right, Up, Down bool
}

func (in Input) Any() bool { return in.Left || in.Right || in.Up || in.Down }

// LocalPlayer 本地角色的运动学：手动输入或自动走向目标
type LocalPlayer struct {
	pos    Vec
	speed  float64
	world  Rect
	anim   Anim
	facing Facing

	auto   bool
	target Vec
}

var _ Body = (*LocalPlayer)(nil)

const DefaultSpeed = 200 // 地图单位/秒

func NewLocalPlayer(spawn Vec) *LocalPlayer {
	return &LocalPlayer{
		pos:    spawn,
		speed:  DefaultSpeed,
		world:  Rect{W: WorldWidth, H: WorldHeight},
		anim:   AnimIdle,
		facing: FacingRight,
	}
}

func (lp *LocalPlayer) Position() Vec     { return lp.pos }
func (lp *LocalPlayer) Anim() Anim        { return lp.anim }
func (lp *LocalPlayer) Facing() Facing    { return lp.facing }
func (lp *LocalPlayer) AutoWalking() bool { return lp.auto }

// Bounds 以位置为中心的碰撞盒
func (lp *LocalPlayer) Bounds() Rect {
	return RectCentered(lp.pos, PlayerWidth, PlayerHeight)
}

func (lp *LocalPlayer) WalkTo(target Vec) {
	lp.auto = true
	lp.target = target
}

// Snap 瞬移到 p 并进入背影待机
func (lp *LocalPlayer) Snap(p Vec) {
	lp.auto = false
	lp.pos = p
	lp.anim = AnimIdleBack
}

func (lp *LocalPlayer) Stop() {
	lp.auto = false
	if lp.anim == AnimWalk {
		lp.anim = AnimIdle
	}
}

// Step 推进 dt；自动行走时忽略手动输入
func (lp *LocalPlayer) Step(dt time.Duration, in Input) {
	step := lp.speed * dt.Seconds()
	if lp.auto {
		d := lp.target.Sub(lp.pos)
		dist := d.Len()
		if dist <= step {
			lp.pos = lp.target
		} else {
			lp.pos = lp.pos.Add(d.Scale(step / dist))
		}
		if d.X < 0 {
			lp.facing = FacingLeft
		} else if d.X > 0 {
			lp.facing = FacingRight
		}
		lp.anim = AnimWalk
		return
	}

	var v Vec
	if in.Left {
		v.X = -1
	} else if in.Right {
		v.X = 1
	}
	if in.Up {
		v.Y = -1
	} else if in.Down {
		v.Y = 1
	}
	if v.Len() == 0 {
		// 就座后无输入时保持背影
		if lp.anim != AnimIdleBack {
			lp.anim = AnimIdle
		}
		return
	}
	// 对角线不更快
	v = v.Scale(step / v.Len())
	lp.pos = lp.world.Clamp(lp.pos.Add(v))
	lp.anim = AnimWalk
	if in.Left {
		lp.facing = FacingLeft
	} else if in.Right {
		lp.facing = FacingRight
	}
}
