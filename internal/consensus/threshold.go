package consensus

import "github.com/angelmondragon/pricecircle-backend/pkg/enums"

// ThresholdMet reports whether approveCount out of memberCount satisfies the
// threshold. Comparisons are integer cross-multiplications so the exact
// boundary (e.g. 2 of 3 for two thirds) is never lost to rounding. Members
// who have not voted count as non-approvals. An empty group never approves.
func ThresholdMet(threshold enums.VotingThreshold, approveCount, memberCount int64) bool {
	if memberCount <= 0 || approveCount < 0 {
		return false
	}
	switch threshold {
	case enums.VotingThresholdHalf:
		return approveCount*2 >= memberCount
	case enums.VotingThresholdTwoThirds:
		return approveCount*3 >= memberCount*2
	case enums.VotingThresholdUnanimous:
		return approveCount >= memberCount
	default:
		return false
	}
}

// RequiredApprovals returns the smallest approve count that meets the threshold.
func RequiredApprovals(threshold enums.VotingThreshold, memberCount int64) int64 {
	if memberCount <= 0 {
		return 0
	}
	switch threshold {
	case enums.VotingThresholdHalf:
		return (memberCount + 1) / 2
	case enums.VotingThresholdTwoThirds:
		return (memberCount*2 + 2) / 3
	case enums.VotingThresholdUnanimous:
		return memberCount
	default:
		return memberCount + 1
	}
}
