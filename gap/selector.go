package gap

import "untestables/model"

// SelectNext picks the unit of work for the next orchestration cycle.
//
// The policy is lowest-first: the calculator emits gaps ordered ascending by
// start, so the first element wins. Kept separate from Calculate so the
// policy can be replaced without touching gap computation.
func SelectNext(gaps []model.Gap) (model.Gap, bool) {
	if len(gaps) == 0 {
		return model.Gap{}, false
	}
	return gaps[0], true
}
