package models

// Stage is a position in the fixed, linear tournament progression.
type Stage string

const (
	StageEnrolled      Stage = "enrolled"
	StageQuarterFinals Stage = "quarterFinals"
	StageSemiFinals    Stage = "semiFinals"
	StageFinals        Stage = "finals"
	StageChampion      Stage = "champion"
)

// Stages lists every stage in progression order.
var Stages = []Stage{
	StageEnrolled,
	StageQuarterFinals,
	StageSemiFinals,
	StageFinals,
	StageChampion,
}

// Index returns the position of s in Stages, or -1 for an unknown stage.
func (s Stage) Index() int {
	for i, st := range Stages {
		if st == s {
			return i
		}
	}
	return -1
}

func (s Stage) Valid() bool { return s.Index() >= 0 }

// Next returns the following stage; ok is false at champion.
func (s Stage) Next() (Stage, bool) {
	i := s.Index()
	if i < 0 || i == len(Stages)-1 {
		return s, false
	}
	return Stages[i+1], true
}

// Prev returns the preceding stage; ok is false at enrolled.
func (s Stage) Prev() (Stage, bool) {
	i := s.Index()
	if i <= 0 {
		return s, false
	}
	return Stages[i-1], true
}
