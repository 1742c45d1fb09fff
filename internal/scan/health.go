package scan

// HealthState 是分数的档位归类，供列表视图展示。
type HealthState string

const (
	HealthHealthy   HealthState = "Healthy"
	HealthWarning   HealthState = "Warning"
	HealthCorrupted HealthState = "Corrupted"
	HealthUnknown   HealthState = "Unknown"
)

// StateForScore 把健康分映射到档位：<60 损坏，<90 告警，其余健康。
func StateForScore(score int) HealthState {
	switch {
	case score < 60:
		return HealthCorrupted
	case score < 90:
		return HealthWarning
	default:
		return HealthHealthy
	}
}
