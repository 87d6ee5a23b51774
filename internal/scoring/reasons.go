package scoring

import "onetime/matching-service/internal/model"

// User-facing recommendation reasons.
const (
	ReasonCategory    = "선호하는 업종의 일자리입니다"
	ReasonLocation    = "선호 지역과 가까운 일자리입니다"
	ReasonWage        = "희망 급여 수준과 잘 맞습니다"
	ReasonHighWage    = "평소보다 높은 급여를 제공합니다"
	ReasonRating      = "평점이 높은 사업장입니다"
	ReasonUrgent      = "급구 공고입니다"
	ReasonCompetition = "지원자가 적어 매칭 가능성이 높습니다"
	ReasonGeneric     = "새로운 일자리를 추천합니다"
)

const (
	categoryThreshold    = 0.7
	locationThreshold    = 0.7
	ratingThreshold      = 0.8
	lowCompetitionCutoff = 3
)

// Reasons derives human-readable reasons from sub-scores. It always returns
// at least one reason.
func Reasons(d model.MatchDetails) []string {
	var out []string
	if d.CategoryScore > categoryThreshold {
		out = append(out, ReasonCategory)
	}
	if d.LocationScore > locationThreshold {
		out = append(out, ReasonLocation)
	}
	switch d.WageScore {
	case wageInBand:
		out = append(out, ReasonWage)
	case wageAboveRange:
		out = append(out, ReasonHighWage)
	}
	if d.RatingScore >= ratingThreshold {
		out = append(out, ReasonRating)
	}
	if d.IsUrgent {
		out = append(out, ReasonUrgent)
	}
	if d.CompetitionLevel < lowCompetitionCutoff {
		out = append(out, ReasonCompetition)
	}
	if len(out) == 0 {
		out = append(out, ReasonGeneric)
	}
	return out
}
