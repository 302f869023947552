package service

import "github.com/wakestake/internal/db"

const (
	ReasonNoFix          = "no fix in window"
	ReasonLowAccuracy    = "low accuracy"
	ReasonWithinRadius   = "still within radius"
	defaultDistanceM     = 70.0
	defaultAccuracyMaxM  = 30.0
	defaultStakeUSD      = 5
	fallbackChargeAmount = 1
)

// Thresholds 为判定使用的距离与精度阈值（米）。
type Thresholds struct {
	DistanceM   float64 `json:"distance_threshold_m"`
	AccuracyMax float64 `json:"accuracy_max_m"`
}

// DefaultThresholds 返回 70m / 30m 的默认阈值。
func DefaultThresholds() Thresholds {
	return Thresholds{DistanceM: defaultDistanceM, AccuracyMax: defaultAccuracyMaxM}
}

// Fix 是一次定位采样。
type Fix struct {
	Lat       float64
	Lng       float64
	AccuracyM float64
}

// Verdict 为判定结果，Reason 仅在 violation 时非空。
type Verdict struct {
	Status    string
	Reason    string
	DistanceM float64
}

// Success 判断是否为成功。
func (v Verdict) Success() bool {
	return v.Status == db.EvaluationSuccess
}

// Judge 判定一次定位是否足以证明已离开家：
// 无定位 -> 违约；精度差于阈值 -> 违约；距离大于阈值 -> 成功；否则仍在范围内。
// 实时打卡与补偿任务共用此函数。
func Judge(home Point, fix *Fix, t Thresholds) Verdict {
	if fix == nil {
		return Verdict{Status: db.EvaluationViolation, Reason: ReasonNoFix}
	}
	if fix.AccuracyM > t.AccuracyMax {
		return Verdict{Status: db.EvaluationViolation, Reason: ReasonLowAccuracy}
	}

	distance := HaversineMeters(home, Point{Lat: fix.Lat, Lng: fix.Lng})
	if distance > t.DistanceM {
		return Verdict{Status: db.EvaluationSuccess, DistanceM: distance}
	}
	return Verdict{Status: db.EvaluationViolation, Reason: ReasonWithinRadius, DistanceM: distance}
}
