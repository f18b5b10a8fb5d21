package enrollment

type Progress struct {
	CompletedCount int     `json:"completed_count"`
	TotalCount     int     `json:"total_count"`
	Percent        float64 `json:"percent"`
	IsComplete     bool    `json:"is_complete"`
}
