package session

// LengthBucketWidth is the width, in bytes, of one message-length histogram bucket.
const LengthBucketWidth = 100

// RoleStats aggregates messages of one role.
type RoleStats struct {
	Count         int     `json:"count"`
	AverageLength float64 `json:"average_length"`
}

// Analytics summarizes a session's history.
type Analytics struct {
	Total          int                  `json:"total"`
	ByRole         map[Role]RoleStats   `json:"by_role"`
	LengthBuckets  map[int]map[Role]int `json:"length_buckets"`
	ActivityByHour map[int]map[Role]int `json:"activity_by_hour"`
	Ratings        int                  `json:"ratings"`
	AverageRating  float64              `json:"average_rating"`
}

// Analytics computes message counts, length distribution keyed by bucket
// lower bound, activity per hour of day, and the rating average.
func (s *State) Analytics() Analytics {
	a := Analytics{
		Total:          len(s.history),
		ByRole:         make(map[Role]RoleStats, 2),
		LengthBuckets:  make(map[int]map[Role]int),
		ActivityByHour: make(map[int]map[Role]int),
		Ratings:        len(s.ratings),
	}

	lengths := make(map[Role]int, 2)
	for _, m := range s.history {
		rs := a.ByRole[m.Role]
		rs.Count++
		a.ByRole[m.Role] = rs
		lengths[m.Role] += len(m.Content)

		bucket := (len(m.Content) / LengthBucketWidth) * LengthBucketWidth
		if a.LengthBuckets[bucket] == nil {
			a.LengthBuckets[bucket] = make(map[Role]int, 2)
		}
		a.LengthBuckets[bucket][m.Role]++

		hour := m.Timestamp.Hour()
		if a.ActivityByHour[hour] == nil {
			a.ActivityByHour[hour] = make(map[Role]int, 2)
		}
		a.ActivityByHour[hour][m.Role]++
	}
	for role, rs := range a.ByRole {
		rs.AverageLength = float64(lengths[role]) / float64(rs.Count)
		a.ByRole[role] = rs
	}

	if len(s.ratings) > 0 {
		sum := 0
		for _, r := range s.ratings {
			sum += r.Score
		}
		a.AverageRating = float64(sum) / float64(len(s.ratings))
	}
	return a
}
