// Package level maps accumulated experience points to a named level.
package level

import "math"

// Names of the levels in ascending order.
const (
	Beginner     = "Beginner"
	Elementary   = "Elementary"
	Intermediate = "Intermediate"
	Advanced     = "Advanced"
	Expert       = "Expert"
	Master       = "Master"
)

// Tier is one row of the threshold table.
type Tier struct {
	Name      string
	Threshold int
}

// Table is the fixed, strictly increasing threshold table.
var Table = []Tier{
	{Beginner, 0},
	{Elementary, 100},
	{Intermediate, 500},
	{Advanced, 1000},
	{Expert, 2500},
	{Master, 5000},
}

// Progress is derived from experience points on every read and never stored.
type Progress struct {
	CurrentLevel       string `json:"current_level"`
	ExperiencePoints   int    `json:"experience_points"`
	NextLevelThreshold int    `json:"next_level_threshold"`
	ProgressPercentage int    `json:"progress_percentage"`
	XPToNextLevel      int    `json:"xp_to_next_level"`
}

// Of computes the level for xp. Negative input is treated as zero.
// At the last tier the progress is 100% and the next threshold is capped at
// the tier's own threshold.
func Of(xp int) Progress {
	if xp < 0 {
		xp = 0
	}

	i := Index(xp)
	cur := Table[i]
	if i == len(Table)-1 {
		return Progress{
			CurrentLevel:       cur.Name,
			ExperiencePoints:   xp,
			NextLevelThreshold: cur.Threshold,
			ProgressPercentage: 100,
		}
	}

	next := Table[i+1]
	pct := float64(xp-cur.Threshold) / float64(next.Threshold-cur.Threshold) * 100
	return Progress{
		CurrentLevel:       cur.Name,
		ExperiencePoints:   xp,
		NextLevelThreshold: next.Threshold,
		ProgressPercentage: int(math.Round(pct)),
		XPToNextLevel:      next.Threshold - xp,
	}
}

// Index returns the position in Table of the greatest threshold <= xp.
func Index(xp int) int {
	idx := 0
	for i, tier := range Table {
		if tier.Threshold <= xp {
			idx = i
		}
	}
	return idx
}

// Rank returns the position of a level name in Table, or -1.
func Rank(name string) int {
	for i, tier := range Table {
		if tier.Name == name {
			return i
		}
	}
	return -1
}
