// Package client 是在线状态同步的客户端一侧：移动发布（节流）、远端状态收敛（插值）、
// 区域/自动就座状态机，以及驱动它们的单线程会话循环。
package client

import "math"

// 世界尺寸：3 张 1024×1024 的底图横向拼接
const (
	WorldWidth  = 3 * 1024
	WorldHeight = 1024
)

// 玩家碰撞盒（300×471 的精灵缩放 0.1）
const (
	PlayerWidth  = 30
	PlayerHeight = 47
)

type Vec struct {
	X, Y float64
}

func (v Vec) Add(o Vec) Vec             { return Vec{v.X + o.X, v.Y + o.Y} }
func (v Vec) Sub(o Vec) Vec             { return Vec{v.X - o.X, v.Y - o.Y} }
func (v Vec) Scale(k float64) Vec       { return Vec{v.X * k, v.Y * k} }
func (v Vec) Len() float64              { return math.Hypot(v.X, v.Y) }
func (v Vec) Dist(o Vec) float64        { return v.Sub(o).Len() }
func (v Vec) Lerp(o Vec, t float64) Vec { return v.Add(o.Sub(v).Scale(t)) }

// Rect 轴对齐矩形，(X, Y) 为左上角
type Rect struct {
	X, Y, W, H float64
}

// RectCentered 以中心点构造矩形
func RectCentered(c Vec, w, h float64) Rect {
	return Rect{X: c.X - w/2, Y: c.Y - h/2, W: w, H: h}
}

// Intersects AABB 相交（边界接触也算相交）
func (r Rect) Intersects(o Rect) bool {
	return r.X <= o.X+o.W && o.X <= r.X+r.W &&
		r.Y <= o.Y+o.H && o.Y <= r.Y+r.H
}

// Clamp 将点限制在矩形内
func (r Rect) Clamp(p Vec) Vec {
	return Vec{
		X: math.Min(math.Max(p.X, r.X), r.X+r.W),
		Y: math.Min(math.Max(p.Y, r.Y), r.Y+r.H),
	}
}
