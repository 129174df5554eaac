package client

import (
	"errors"
	"math/rand"

	"go.uber.org/zap"
)

var (
	ErrNotPending = errors.New("seating: not awaiting confirmation")
	ErrNoSpots    = errors.New("seating: no standing spots")
)

type SeatState int

const (
	SeatIdle SeatState = iota
	SeatPendingConfirm
	SeatAutoWalking
	SeatSeated
)

func (s SeatState) String() string {
	switch s {
	case SeatIdle:
		return "idle"
	case SeatPendingConfirm:
		return "pending_confirm"
	case SeatAutoWalking:
		return "auto_walking"
	case SeatSeated:
		return "seated"
	}
	return "unknown"
}

type SignalKind string

const (
	SignalEnterZone SignalKind = "enter_zone"
	SignalExitZone  SignalKind = "exit_zone"
	SignalSeated    SignalKind = "seated"
)

// Signal 状态机对外的通知（例如弹出/关闭视频通话）
type Signal struct {
	Kind SignalKind
	At   Vec
}

// Body 状态机驱动的本地角色
type Body interface {
	Position() Vec
	Bounds() Rect
	WalkTo(target Vec)
	Snap(p Vec)
	Stop()
}

// Forcer 就座瞬移后要求发布器立即发送
type Forcer interface {
	Force()
}

type SeatingConfig struct {
	Zone          Rect
	Spots         []Vec
	ArriveEpsilon float64
}

// 舞台区域：世界水平中心，y=500，600×400
var (
	StageCenter = Vec{X: WorldWidth / 2, Y: 500}
	StageZone   = RectCentered(StageCenter, 600, 400)
)

// GenerateSpots 在矩形范围内均匀取 n 个整数坐标的站位
func GenerateSpots(rng *rand.Rand, n int, minX, maxX, minY, maxY int) []Vec {
	spots := make([]Vec, 0, n)
	for i := 0; i < n; i++ {
		spots = append(spots, Vec{
			X: float64(minX + rng.Intn(maxX-minX+1)),
			Y: float64(minY + rng.Intn(maxY-minY+1)),
		})
	}
	return spots
}

// DefaultSeatingConfig 30 个舞台前站位：x∈[cx-200,cx+200]，y∈[380,550]
func DefaultSeatingConfig(rng *rand.Rand) SeatingConfig {
	cx := int(StageCenter.X)
	return SeatingConfig{
		Zone:          StageZone,
		Spots:         GenerateSpots(rng, 30, cx-200, cx+200, 380, 550),
		ArriveEpsilon: 10,
	}
}

// Seating 区域/自动就座状态机，纯本地逻辑
type Seating struct {
	cfg     SeatingConfig
	body    Body
	force   Forcer
	rng     *rand.Rand
	log     *zap.SugaredLogger
	signals chan Signal

	state     SeatState
	inZone    bool
	target    Vec
	hasTarget bool
}

func NewSeating(cfg SeatingConfig, body Body, force Forcer, rng *rand.Rand, log *zap.SugaredLogger) *Seating {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Seating{
		cfg:     cfg,
		body:    body,
		force:   force,
		rng:     rng,
		log:     log,
		signals: make(chan Signal, 16),
	}
}

func (s *Seating) State() SeatState { return s.state }

func (s *Seating) InZone() bool { return s.inZone }

// Target 自动行走的目标站位
func (s *Seating) Target() (Vec, bool) { return s.target, s.hasTarget }

// Signals 进入/离开区域、就座完成的通知
func (s *Seating) Signals() <-chan Signal { return s.signals }

// Confirm 用户确认：随机挑选站位并开始自动行走
func (s *Seating) Confirm() error {
	if s.state != SeatPendingConfirm {
		return ErrNotPending
	}
	if len(s.cfg.Spots) == 0 {
		s.reset()
		return ErrNoSpots
	}
	s.target = s.cfg.Spots[s.rng.Intn(len(s.cfg.Spots))]
	s.hasTarget = true
	s.state = SeatAutoWalking
	s.body.WalkTo(s.target)
	return nil
}

// Decline 用户拒绝，回到 Idle（离开区域再进入才会再次询问）
func (s *Seating) Decline() error {
	if s.state != SeatPendingConfirm {
		return ErrNotPending
	}
	s.state = SeatIdle
	return nil
}

// ManualLocked 自动行走期间忽略手动输入
func (s *Seating) ManualLocked() bool { return s.state == SeatAutoWalking }

// Tick 每帧重新计算区域包含关系并推进状态；manual 表示本帧有手动输入
func (s *Seating) Tick(manual bool) {
	inZone := s.body.Bounds().Intersects(s.cfg.Zone)
	entered := inZone && !s.inZone
	exited := !inZone && s.inZone
	s.inZone = inZone

	if exited {
		s.emit(SignalExitZone)
		s.reset()
		return
	}

	switch s.state {
	case SeatIdle:
		if entered {
			s.state = SeatPendingConfirm
			s.emit(SignalEnterZone)
		}
	case SeatAutoWalking:
		if s.body.Position().Dist(s.target) < s.cfg.ArriveEpsilon {
			s.body.Snap(s.target)
			s.state = SeatSeated
			s.hasTarget = false
			if s.force != nil {
				s.force.Force()
			}
			s.emit(SignalSeated)
		}
	case SeatSeated:
		if manual {
			s.state = SeatIdle
		}
	}
}

// reset 回到 Idle 并取消进行中的自动行走
func (s *Seating) reset() {
	if s.state == SeatAutoWalking {
		s.body.Stop()
	}
	s.state = SeatIdle
	s.hasTarget = false
	s.target = Vec{}
}

func (s *Seating) emit(kind SignalKind) {
	sig := Signal{Kind: kind, At: s.body.Position()}
	select {
	case s.signals <- sig:
	default:
		s.log.Warnf("seating signal %s dropped: listener not keeping up", kind)
	}
}
