package domain

type Action string

const (
	ActionViewMembers        Action = "VIEW_MEMBERS"
	ActionIssueInvitation    Action = "ISSUE_INVITATION"
	ActionRemoveMember       Action = "REMOVE_MEMBER"
	ActionCreateTeam         Action = "CREATE_TEAM"
	ActionDeleteTeam         Action = "DELETE_TEAM"
	ActionManageSubscription Action = "MANAGE_SUBSCRIPTION"
	ActionViewSubscription   Action = "VIEW_SUBSCRIPTION"
)

var permissions = map[Action]map[Role]bool{
	ActionViewMembers:        {RoleOwner: true, RoleCoach: true, RoleAssistantCoach: true, RolePlayer: true},
	ActionIssueInvitation:    {RoleOwner: true, RoleCoach: true},
	ActionRemoveMember:       {RoleOwner: true, RoleCoach: true},
	ActionCreateTeam:         {RoleOwner: true, RoleCoach: true},
	ActionDeleteTeam:         {RoleOwner: true, RoleCoach: true},
	ActionManageSubscription: {RoleOwner: true},
	ActionViewSubscription:   {RoleOwner: true, RoleCoach: true, RoleAssistantCoach: true},
}

// Can reports whether role may perform action. Unknown pairs are denied.
func Can(role Role, action Action) bool {
	return permissions[action][role]
}

// CanRemove adds target rules on top of ActionRemoveMember: the owner is never
// removable and coaches only remove staff below them and players.
func CanRemove(actor, target Role) bool {
	if !Can(actor, ActionRemoveMember) || target == RoleOwner {
		return false
	}
	if actor == RoleCoach && target == RoleCoach {
		return false
	}
	return true
}
