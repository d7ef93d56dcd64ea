package contracts

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// Position (trade.positions, holdings feed)
// Execution이 소유, Exit Engine은 읽기만 함
// =============================================================================

// ExitMode 포지션별 청산 모드
type ExitMode string

const (
	ExitModeAuto           ExitMode = "AUTO"            // intent 즉시 NEW
	ExitModeManualApproval ExitMode = "MANUAL_APPROVAL" // intent는 PENDING_APPROVAL
	ExitModeDisabled       ExitMode = "DISABLED"        // 평가 제외 (EMERGENCY_FLATTEN만 예외)
)

// Position is a holdings snapshot row
type Position struct {
	PositionID    uuid.UUID       `json:"position_id"`
	AccountID     string          `json:"account_id"`
	Symbol        string          `json:"symbol"`
	Qty           int64           `json:"qty"`                       // 현재 잔량
	OriginalQty   int64           `json:"original_qty"`              // 최초 진입 수량 (TP 수량 기준)
	AvgPrice      decimal.Decimal `json:"avg_price"`
	OpenedTS      time.Time       `json:"opened_ts"`
	ExitMode      ExitMode        `json:"exit_mode"`
	ExitProfileID *string         `json:"exit_profile_id,omitempty"` // position-level assignment, NULL = resolver chain
}

// Quote is the latest price for a symbol
type Quote struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	AsOf   time.Time       `json:"as_of"`
}

// =============================================================================
// Exit Profile (trade.exit_profiles)
// 내부 스케일은 항상 fraction (-0.05 = -5%)
// ⭐ SSOT: 청산 프로파일 구조는 여기서만
// =============================================================================

// ExitProfile is a named, versionless set of exit triggers
type ExitProfile struct {
	ProfileID   string            `json:"profile_id" yaml:"profile_id"`
	Name        string            `json:"name" yaml:"name"`
	Description string            `json:"description" yaml:"description"`
	IsActive    bool              `json:"is_active" yaml:"is_active"`
	Config      ExitProfileConfig `json:"config" yaml:"config"`
	CreatedBy   string            `json:"created_by,omitempty" yaml:"created_by,omitempty"`
	UpdatedTS   time.Time         `json:"updated_ts" yaml:"updated_ts"`
}

// ExitProfileConfig holds the trigger set. A nil trigger is disabled;
// a zero BasePct is a real threshold.
type ExitProfileConfig struct {
	Volatility   *VolatilityConfig `json:"volatility,omitempty" yaml:"volatility,omitempty"`
	ConfirmTicks int               `json:"confirm_ticks,omitempty" yaml:"confirm_ticks,omitempty"` // stop floor / trailing debounce, 0 = DefaultConfirmTicks

	SL1 *TriggerConfig `json:"sl1,omitempty" yaml:"sl1,omitempty"`
	SL2 *TriggerConfig `json:"sl2,omitempty" yaml:"sl2,omitempty"`
	TP1 *TriggerConfig `json:"tp1,omitempty" yaml:"tp1,omitempty"`
	TP2 *TriggerConfig `json:"tp2,omitempty" yaml:"tp2,omitempty"`
	TP3 *TriggerConfig `json:"tp3,omitempty" yaml:"tp3,omitempty"`

	Trailing *TrailingConfig `json:"trailing,omitempty" yaml:"trailing,omitempty"`
	TimeStop *TimeStopConfig `json:"time_stop,omitempty" yaml:"time_stop,omitempty"`
	HardStop *HardStopConfig `json:"hardstop,omitempty" yaml:"hardstop,omitempty"`

	CustomRules []CustomExitRule `json:"custom_rules,omitempty" yaml:"custom_rules,omitempty"`
}

// VolatilityConfig scales trigger thresholds by ATR%
type VolatilityConfig struct {
	Period    int     `json:"period" yaml:"period"`         // ATR 기간 (14)
	Ref       float64 `json:"ref" yaml:"ref"`               // 기준 ATR% (0.02 = 2%)
	FactorMin float64 `json:"factor_min" yaml:"factor_min"` // 0.7
	FactorMax float64 `json:"factor_max" yaml:"factor_max"` // 1.6
}

// TriggerConfig is one SL/TP tier
type TriggerConfig struct {
	BasePct         float64  `json:"base_pct" yaml:"base_pct"`
	MinPct          *float64 `json:"min_pct,omitempty" yaml:"min_pct,omitempty"`
	MaxPct          *float64 `json:"max_pct,omitempty" yaml:"max_pct,omitempty"`
	QtyPct          float64  `json:"qty_pct" yaml:"qty_pct"`
	StopFloorProfit *float64 `json:"stop_floor_profit,omitempty" yaml:"stop_floor_profit,omitempty"` // TP1 only
	StartTrailing   bool     `json:"start_trailing,omitempty" yaml:"start_trailing,omitempty"`       // TP3 only
}

// TrailingConfig HWM 기반 트레일링
type TrailingConfig struct {
	PctTrail      float64 `json:"pct_trail" yaml:"pct_trail"`             // HWM 대비 하락폭 (0.03 = 3%)
	PartialQtyPct float64 `json:"partial_qty_pct" yaml:"partial_qty_pct"` // TP2로만 활성화된 경우 잔량 중 청산 비율
}

// TimeStopConfig 보유기간 기반 청산
type TimeStopConfig struct {
	MaxHoldDays      int     `json:"max_hold_days" yaml:"max_hold_days"`
	NoMomentumDays   int     `json:"no_momentum_days" yaml:"no_momentum_days"`
	NoMomentumProfit float64 `json:"no_momentum_profit" yaml:"no_momentum_profit"` // 이 수익률 미만이면 모멘텀 없음
}

// HardStopConfig 비상 손절 (PAUSE_ALL에서도 동작)
type HardStopConfig struct {
	Enabled bool    `json:"enabled" yaml:"enabled"`
	Pct     float64 `json:"pct" yaml:"pct"`
}

// CustomCondition 사용자 규칙 조건
type CustomCondition string

const (
	ConditionProfitAbove CustomCondition = "profit_above"
	ConditionProfitBelow CustomCondition = "profit_below"
)

// CustomExitRule is a user-authored profit threshold rule
type CustomExitRule struct {
	ID           string          `json:"id" yaml:"id"`
	Enabled      bool            `json:"enabled" yaml:"enabled"`
	Condition    CustomCondition `json:"condition" yaml:"condition"`
	ThresholdPct float64         `json:"threshold_pct" yaml:"threshold_pct"` // signed fraction
	ExitPercent  float64         `json:"exit_percent" yaml:"exit_percent"`   // fraction of remaining qty
	Priority     int             `json:"priority" yaml:"priority"`           // 낮을수록 먼저
	Description  string          `json:"description,omitempty" yaml:"description,omitempty"`
}

const (
	DefaultConfirmTicks    = 2
	DefaultStopFloorProfit = 0.006 // 본전 + 0.6%
)

// EffectiveConfirmTicks returns the debounce count N
func (c ExitProfileConfig) EffectiveConfirmTicks() int {
	if c.ConfirmTicks <= 0 {
		return DefaultConfirmTicks
	}
	return c.ConfirmTicks
}

// DefaultExitProfile is the built-in last-resort profile
func DefaultExitProfile() *ExitProfile {
	stopFloorProfit := DefaultStopFloorProfit
	return &ExitProfile{
		ProfileID:   "builtin-default",
		Name:        "Built-in default",
		Description: "SL -3%/-5%, TP +7%/+10%/+15%, trail 3%, hardstop -10%",
		IsActive:    true,
		Config: ExitProfileConfig{
			ConfirmTicks: DefaultConfirmTicks,
			SL1:          &TriggerConfig{BasePct: -0.03, QtyPct: 0.5},
			SL2:          &TriggerConfig{BasePct: -0.05, QtyPct: 1.0},
			TP1:          &TriggerConfig{BasePct: 0.07, QtyPct: 0.1, StopFloorProfit: &stopFloorProfit},
			TP2:          &TriggerConfig{BasePct: 0.10, QtyPct: 0.2},
			TP3:          &TriggerConfig{BasePct: 0.15, QtyPct: 0.3, StartTrailing: true},
			Trailing:     &TrailingConfig{PctTrail: 0.03, PartialQtyPct: 0.2},
			HardStop:     &HardStopConfig{Enabled: true, Pct: -0.10},
		},
	}
}

// =============================================================================
// Trigger ids & priority
// =============================================================================

// TriggerID identifies a fired trigger; also the intent reason_code
type TriggerID string

const (
	TriggerHardStop         TriggerID = "HARDSTOP"
	TriggerSL2              TriggerID = "SL2"
	TriggerStopFloor        TriggerID = "STOP_FLOOR"
	TriggerSL1              TriggerID = "SL1"
	TriggerTP3              TriggerID = "TP3"
	TriggerTP2              TriggerID = "TP2"
	TriggerTP1              TriggerID = "TP1"
	TriggerTrail            TriggerID = "TRAIL"         // TP3 이후 잔량 전량
	TriggerTrailPartial     TriggerID = "TRAIL_PARTIAL" // TP2 이후 부분 청산
	TriggerTime             TriggerID = "TIME"
	TriggerEmergencyFlatten TriggerID = "EMERGENCY_FLATTEN"

	customTriggerPrefix = "CUSTOM:"
)

// TriggerPriority is the fixed evaluation order, highest first.
// The TRAIL slot covers both TRAIL and TRAIL_PARTIAL. Custom rules follow, ordered by their own priority.
// ⭐ SSOT: 평가 순서는 여기서만 정의
var TriggerPriority = [...]TriggerID{
	TriggerHardStop,
	TriggerSL2,
	TriggerStopFloor,
	TriggerSL1,
	TriggerTP3,
	TriggerTP2,
	TriggerTP1,
	TriggerTrail,
	TriggerTime,
}

// CustomTriggerID returns the fired-set id for a custom rule
func CustomTriggerID(ruleID string) TriggerID {
	return TriggerID(customTriggerPrefix + ruleID)
}

// IsCustom reports whether the id belongs to a custom rule
func (t TriggerID) IsCustom() bool {
	return len(t) > len(customTriggerPrefix) && string(t[:len(customTriggerPrefix)]) == customTriggerPrefix
}

// =============================================================================
// Position State (trade.position_state)
// =============================================================================

// Phase 평가 phase
type Phase string

const (
	PhaseOpen   Phase = "OPEN"
	PhaseClosed Phase = "CLOSED"
)

// PositionState is the authoritative per-position evaluation state
type PositionState struct {
	PositionID           uuid.UUID          `json:"position_id"`
	Phase                Phase              `json:"phase"`
	HWMPrice             decimal.Decimal    `json:"hwm_price"`
	StopFloorPrice       *decimal.Decimal   `json:"stop_floor_price,omitempty"`
	StopFloorBreachTicks int                `json:"stop_floor_breach_ticks"`
	TrailingBreachTicks  int                `json:"trailing_breach_ticks"`
	FiredTriggers        map[TriggerID]bool `json:"fired_triggers"`
	LastEvalTS           *time.Time         `json:"last_eval_ts,omitempty"`
	LastAvgPrice         decimal.Decimal    `json:"last_avg_price"` // 추가매수 감지용
	Generation           int                `json:"generation"`     // phase reset마다 +1, action_key에 포함
	Version              int                `json:"version"`        // optimistic lock
}

// NewPositionState creates the state on first observation of qty > 0
func NewPositionState(pos *Position, price decimal.Decimal) *PositionState {
	return &PositionState{
		PositionID:    pos.PositionID,
		Phase:         PhaseOpen,
		HWMPrice:      price,
		FiredTriggers: make(map[TriggerID]bool),
		LastAvgPrice:  pos.AvgPrice,
	}
}

// HasFired reports whether id fired in the current phase
func (s *PositionState) HasFired(id TriggerID) bool {
	return s.FiredTriggers[id]
}

// Clone returns a deep copy
func (s *PositionState) Clone() *PositionState {
	c := *s
	c.FiredTriggers = make(map[TriggerID]bool, len(s.FiredTriggers))
	for k, v := range s.FiredTriggers {
		c.FiredTriggers[k] = v
	}
	if s.StopFloorPrice != nil {
		f := *s.StopFloorPrice
		c.StopFloorPrice = &f
	}
	if s.LastEvalTS != nil {
		ts := *s.LastEvalTS
		c.LastEvalTS = &ts
	}
	return &c
}

// FiredList returns fired ids in TriggerPriority order, custom ids last
func (s *PositionState) FiredList() []TriggerID {
	out := make([]TriggerID, 0, len(s.FiredTriggers))
	for _, id := range TriggerPriority {
		if s.FiredTriggers[id] {
			out = append(out, id)
		}
		if id == TriggerTrail && s.FiredTriggers[TriggerTrailPartial] {
			out = append(out, TriggerTrailPartial)
		}
	}
	for id, fired := range s.FiredTriggers {
		if fired && id.IsCustom() {
			out = append(out, id)
		}
	}
	return out
}

// =============================================================================
// Order Intent (trade.order_intents)
// =============================================================================

type IntentType string

const (
	IntentTypeExitPartial IntentType = "EXIT_PARTIAL"
	IntentTypeExitFull    IntentType = "EXIT_FULL"
)

type OrderType string

const (
	OrderTypeMKT OrderType = "MKT"
	OrderTypeLMT OrderType = "LMT"
)

// IntentStatus intent 상태
type IntentStatus string

const (
	IntentStatusPendingApproval IntentStatus = "PENDING_APPROVAL" // 사용자 승인 대기
	IntentStatusNew             IntentStatus = "NEW"              // 라우터 대기
	IntentStatusAck             IntentStatus = "ACK"              // 라우터 수신
	IntentStatusSubmitted       IntentStatus = "SUBMITTED"        // 브로커 제출
	IntentStatusFilled          IntentStatus = "FILLED"
	IntentStatusRejected        IntentStatus = "REJECTED"
	IntentStatusCancelled       IntentStatus = "CANCELLED"
)

// ActiveIntentStatuses is the "active intent" set: at most one per position.
// ⭐ SSOT: emitter, reconciliation, SQL 모두 이 값만 사용
var ActiveIntentStatuses = [...]IntentStatus{
	IntentStatusPendingApproval,
	IntentStatusNew,
	IntentStatusAck,
}

// IsActive reports membership in ActiveIntentStatuses
func (s IntentStatus) IsActive() bool {
	for _, a := range ActiveIntentStatuses {
		if s == a {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is allowed
func (s IntentStatus) IsTerminal() bool {
	return s == IntentStatusFilled || s == IntentStatusRejected || s == IntentStatusCancelled
}

// ActiveIntentStatusStrings is ActiveIntentStatuses as a text[] query argument
func ActiveIntentStatusStrings() []string {
	out := make([]string, len(ActiveIntentStatuses))
	for i, s := range ActiveIntentStatuses {
		out[i] = string(s)
	}
	return out
}

// OrderIntent is a proposed exit order awaiting routing or approval
type OrderIntent struct {
	IntentID     uuid.UUID        `json:"intent_id"`
	PositionID   uuid.UUID        `json:"position_id"`
	Symbol       string           `json:"symbol"`
	IntentType   IntentType       `json:"intent_type"`
	Qty          int64            `json:"qty"`
	OrderType    OrderType        `json:"order_type"`
	LimitPrice   *decimal.Decimal `json:"limit_price,omitempty"`
	ReasonCode   TriggerID        `json:"reason_code"`
	ReasonDetail string           `json:"reason_detail,omitempty"`
	ActionKey    string           `json:"action_key"` // {position_id}:{generation}:{reason} (unique)
	Status       IntentStatus     `json:"status"`
	CreatedTS    time.Time        `json:"created_ts"`
	UpdatedTS    time.Time        `json:"updated_ts"`
}

// =============================================================================
// Symbol override & global control
// =============================================================================

// SymbolOverride (trade.symbol_exit_overrides)
type SymbolOverride struct {
	Symbol        string     `json:"symbol"`
	ProfileID     string     `json:"profile_id"`
	Reason        string     `json:"reason"`
	EffectiveFrom *time.Time `json:"effective_from,omitempty"`
	Enabled       bool       `json:"enabled"`
	CreatedBy     string     `json:"created_by,omitempty"`
}

// IsEffective reports whether the override applies at now
func (o *SymbolOverride) IsEffective(now time.Time) bool {
	if !o.Enabled {
		return false
	}
	return o.EffectiveFrom == nil || !now.Before(*o.EffectiveFrom)
}

// ControlMode 전역 kill switch
type ControlMode string

const (
	ControlModeRunning          ControlMode = "RUNNING"
	ControlModePauseAll         ControlMode = "PAUSE_ALL"    // HARDSTOP만 허용
	ControlModePauseProfit      ControlMode = "PAUSE_PROFIT" // 익절 계열 차단, 손절 허용
	ControlModeEmergencyFlatten ControlMode = "EMERGENCY_FLATTEN"
)

// Valid reports whether m is a known mode
func (m ControlMode) Valid() bool {
	switch m {
	case ControlModeRunning, ControlModePauseAll, ControlModePauseProfit, ControlModeEmergencyFlatten:
		return true
	}
	return false
}

// ExitControl (trade.exit_control, singleton row)
type ExitControl struct {
	Mode      ControlMode `json:"mode"`
	Reason    string      `json:"reason,omitempty"`
	UpdatedBy string      `json:"updated_by"`
	UpdatedTS time.Time   `json:"updated_ts"`
}
