package pipeline

// Stage is the processing step a subject is in.
type Stage int

const (
	StageLoading Stage = iota
	StageSlicing
	StageSegment
	StageMeasure
	StageAveraging
	StageEmitted
)

var stageNames = [...]string{
	StageLoading:   "LOADING",
	StageSlicing:   "SLICING",
	StageSegment:   "SEGMENT",
	StageMeasure:   "MEASURE",
	StageAveraging: "AVERAGING",
	StageEmitted:   "EMITTED",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return "UNKNOWN"
	}
	return stageNames[s]
}
