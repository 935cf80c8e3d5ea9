// Package rbac decides what a user may do with a group and the content
// inside it.
package rbac

type Role string
type Action string
type Kind string

// Group membership roles, weakest first.
const (
	RoleNone   Role = ""
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
	RoleOwner  Role = "owner"
)

const (
	ActionRead       Action = "read"
	ActionJoin       Action = "join"
	ActionLeave      Action = "leave"
	ActionContribute Action = "contribute"
	ActionEdit       Action = "edit"
	ActionDelete     Action = "delete"
	ActionModerate   Action = "moderate"
	ActionAdmin      Action = "admin"
)

const (
	KindGroup      Kind = "group"
	KindPaper      Kind = "paper"
	KindComment    Kind = "comment"
	KindDiscussion Kind = "discussion"
	KindReply      Kind = "reply"
	KindInvitation Kind = "invitation"
)

// Subject is the caller: its membership role in the resource's group and
// whether it is a site administrator.
type Subject struct {
	UserID    string
	Role      Role
	SiteAdmin bool
}

// Resource is the thing being acted on. OwnerID is the author, uploader or
// inviter; it is unused for groups. Private is the visibility of the group
// the resource belongs to.
type Resource struct {
	Kind    Kind
	OwnerID string
	Private bool
}

type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision { return Decision{Allowed: true} }

func deny(reason string) Decision { return Decision{Reason: reason} }

func rank(role Role) int {
	switch role {
	case RoleMember:
		return 1
	case RoleAdmin:
		return 2
	case RoleOwner:
		return 3
	default:
		return 0
	}
}

// AtLeast reports whether role is min or stronger.
func AtLeast(role, min Role) bool {
	return rank(role) >= rank(min)
}

// Check is the single authorization rule set.
func Check(sub Subject, res Resource, action Action) Decision {
	isAuthor := sub.UserID != "" && res.OwnerID == sub.UserID

	switch action {
	case ActionJoin:
		if rank(sub.Role) > 0 {
			return deny("You are already a member of this group")
		}
		if res.Private {
			return deny("This group is private; an invitation is required")
		}
		return allow()
	case ActionLeave:
		if rank(sub.Role) == 0 {
			return deny("You are not a member of this group")
		}
		if sub.Role == RoleOwner {
			return deny("The group owner cannot leave the group")
		}
		return allow()
	}

	if sub.SiteAdmin {
		return allow()
	}

	switch action {
	case ActionRead:
		if !res.Private || rank(sub.Role) > 0 {
			return allow()
		}
		return deny("This group is private")
	case ActionContribute:
		if rank(sub.Role) > 0 {
			return allow()
		}
		return deny("You must be a member of this group")
	case ActionEdit:
		switch res.Kind {
		case KindGroup:
			if AtLeast(sub.Role, RoleAdmin) {
				return allow()
			}
			return deny("Only group admins can update the group")
		case KindPaper:
			if isAuthor || AtLeast(sub.Role, RoleAdmin) {
				return allow()
			}
			return deny("Only the uploader or a group admin can update this paper")
		default:
			if isAuthor {
				return allow()
			}
			return deny("Only the author can edit this " + string(res.Kind))
		}
	case ActionDelete:
		if res.Kind == KindGroup {
			if sub.Role == RoleOwner {
				return allow()
			}
			return deny("Only the group owner can delete the group")
		}
		if isAuthor || AtLeast(sub.Role, RoleAdmin) {
			return allow()
		}
		return deny("Only the author or a group admin can delete this " + string(res.Kind))
	case ActionModerate:
		if AtLeast(sub.Role, RoleAdmin) {
			return allow()
		}
		return deny("Group admin role required")
	case ActionAdmin:
		if sub.Role == RoleOwner {
			return allow()
		}
		return deny("Only the group owner can do this")
	}
	return deny("Unknown action")
}

// Normalize maps a stored role to a known one; unknown values mean no role.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleMember, RoleAdmin, RoleOwner:
		return Role(role)
	default:
		return RoleNone
	}
}
