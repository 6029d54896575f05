// Package enums holds the string types mirrored by Postgres enum columns.
package enums

import (
	"fmt"
	"slices"
)

func parse[T ~string](kind, raw string, known []T) (T, error) {
	if v := T(raw); slices.Contains(known, v) {
		return v, nil
	}
	return "", fmt.Errorf("invalid %s %q", kind, raw)
}

type ProposalStatus string

const (
	ProposalStatusVoting   ProposalStatus = "voting"
	ProposalStatusApproved ProposalStatus = "approved"
	ProposalStatusRejected ProposalStatus = "rejected"
)

var proposalStatuses = []ProposalStatus{ProposalStatusVoting, ProposalStatusApproved, ProposalStatusRejected}

func (s ProposalStatus) String() string { return string(s) }
func (s ProposalStatus) IsValid() bool  { return slices.Contains(proposalStatuses, s) }

// IsTerminal reports whether voting has ended. A terminal status never changes.
func (s ProposalStatus) IsTerminal() bool {
	return s == ProposalStatusApproved || s == ProposalStatusRejected
}

func ParseProposalStatus(raw string) (ProposalStatus, error) {
	return parse("proposal status", raw, proposalStatuses)
}

// VotingThreshold is a group's approval rule.
type VotingThreshold string

const (
	VotingThresholdHalf      VotingThreshold = "half"
	VotingThresholdTwoThirds VotingThreshold = "two_thirds"
	VotingThresholdUnanimous VotingThreshold = "unanimous"
)

var votingThresholds = []VotingThreshold{VotingThresholdHalf, VotingThresholdTwoThirds, VotingThresholdUnanimous}

func (v VotingThreshold) String() string { return string(v) }
func (v VotingThreshold) IsValid() bool  { return slices.Contains(votingThresholds, v) }

func ParseVotingThreshold(raw string) (VotingThreshold, error) {
	return parse("voting threshold", raw, votingThresholds)
}

type MemberRole string

const (
	MemberRoleOwner  MemberRole = "owner"
	MemberRoleAdmin  MemberRole = "admin"
	MemberRoleMember MemberRole = "member"
)

var memberRoles = []MemberRole{MemberRoleOwner, MemberRoleAdmin, MemberRoleMember}

func (m MemberRole) String() string { return string(m) }
func (m MemberRole) IsValid() bool  { return slices.Contains(memberRoles, m) }

// CanModerate reports whether the role may reject or delete content it did not author.
func (m MemberRole) CanModerate() bool {
	return m == MemberRoleOwner || m == MemberRoleAdmin
}

func ParseMemberRole(raw string) (MemberRole, error) {
	return parse("member role", raw, memberRoles)
}
