package progress

// LevelThresholds - минимальное количество очков для уровней 1..10.
var LevelThresholds = [...]int{0, 100, 300, 600, 1000, 1500, 2100, 2800, 3600, 4500}

// MaxLevel - последний уровень.
const MaxLevel = len(LevelThresholds)

// LevelInfo - уровень и прогресс до следующего.
type LevelInfo struct {
	Level            int     `json:"level"`
	CurrentThreshold int     `json:"current_threshold"`
	NextThreshold    int     `json:"next_threshold"`
	Progress         float64 `json:"progress"`
	PointsToNext     int     `json:"points_to_next"`
}

// IsMax сообщает, что уровень последний.
func (l LevelInfo) IsMax() bool { return l.Level == MaxLevel }

// LevelFor вычисляет уровень по очкам. Отрицательные очки считаются нулём.
func LevelFor(points int) LevelInfo {
	if points < 0 {
		points = 0
	}

	level := 1
	for i, t := range LevelThresholds {
		if points >= t {
			level = i + 1
		}
	}

	current := LevelThresholds[level-1]
	if level == MaxLevel {
		return LevelInfo{
			Level:            level,
			CurrentThreshold: current,
			NextThreshold:    current,
			Progress:         100,
			PointsToNext:     0,
		}
	}

	next := LevelThresholds[level]
	progress := float64(points-current) / float64(next-current) * 100
	switch {
	case progress < 0:
		progress = 0
	case progress > 100:
		progress = 100
	}

	return LevelInfo{
		Level:            level,
		CurrentThreshold: current,
		NextThreshold:    next,
		Progress:         progress,
		PointsToNext:     next - points,
	}
}
