package attribution

import "time"

// Batch is one website's report for one day. Every batch is attributed
// independently of every other.
type Batch struct {
	Website string    `json:"website"`
	ViewID  string    `json:"view_id"`
	Date    time.Time `json:"date"`
}

// Day returns the batch date as YYYY-MM-DD.
func (b Batch) Day() string {
	return b.Date.Format(DateLayout)
}

func (b Batch) String() string {
	return b.Website + "@" + b.Day()
}
