package app

import (
	"net/http"
	"strconv"

	"github.com/blessing-molokwu/chatademy-sub000/internal/rbac"
	"github.com/go-chi/chi/v5"
)

func (s *HTTPServer) listGroups(w http.ResponseWriter, r *http.Request, memberOnly bool) {
	page, err := pageParams(r, 12)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	query := r.URL.Query()
	groups, total, err := s.service.ListGroups(r.Context(), sessionFrom(r), GroupListRequest{
		Search:     query.Get("search"),
		Category:   query.Get("category"),
		MemberOnly: memberOnly,
		Page:       page,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	views := make([]groupView, 0, len(groups))
	for _, g := range groups {
		views = append(views, toGroupView(g, ""))
	}
	writePage(w, views, page.Meta(total))
}

func (s *HTTPServer) handleListGroups(w http.ResponseWriter, r *http.Request) {
	mine, _ := strconv.ParseBool(r.URL.Query().Get("mine"))
	s.listGroups(w, r, mine)
}

func (s *HTTPServer) handleMyGroups(w http.ResponseWriter, r *http.Request) {
	s.listGroups(w, r, true)
}

func (s *HTTPServer) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req CreateGroupRequest
	if err := decodeRequest(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	group, err := s.service.CreateGroup(r.Context(), sessionFrom(r), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, toGroupView(group, rbac.RoleOwner))
}

func (s *HTTPServer) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	group, role, err := s.service.GetGroup(r.Context(), sessionFrom(r), chi.URLParam(r, "groupID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toGroupView(group, role))
}

func (s *HTTPServer) handleUpdateGroup(w http.ResponseWriter, r *http.Request) {
	var req UpdateGroupRequest
	if err := decodeRequest(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	sess := sessionFrom(r)
	group, err := s.service.UpdateGroup(r.Context(), sess, chi.URLParam(r, "groupID"), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toGroupView(group, ""))
}

func (s *HTTPServer) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteGroup(r.Context(), sessionFrom(r), chi.URLParam(r, "groupID")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Group deleted")
}

func (s *HTTPServer) handleJoinGroup(w http.ResponseWriter, r *http.Request) {
	group, err := s.service.JoinGroup(r.Context(), sessionFrom(r), chi.URLParam(r, "groupID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toGroupView(group, rbac.RoleMember))
}

func (s *HTTPServer) handleLeaveGroup(w http.ResponseWriter, r *http.Request) {
	if err := s.service.LeaveGroup(r.Context(), sessionFrom(r), chi.URLParam(r, "groupID")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Left group")
}

func (s *HTTPServer) handleListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := s.service.ListMembers(r.Context(), sessionFrom(r), chi.URLParam(r, "groupID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toMemberViews(members))
}

func (s *HTTPServer) handleUpdateMemberRole(w http.ResponseWriter, r *http.Request) {
	var req MemberRoleRequest
	if err := decodeRequest(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	err := s.service.UpdateMemberRole(r.Context(), sessionFrom(r), chi.URLParam(r, "groupID"), chi.URLParam(r, "userID"), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Member role updated")
}

func (s *HTTPServer) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	if err := s.service.RemoveMember(r.Context(), sessionFrom(r), chi.URLParam(r, "groupID"), chi.URLParam(r, "userID")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Member removed")
}

func (s *HTTPServer) handleCreateInvitation(w http.ResponseWriter, r *http.Request) {
	var req InvitationRequest
	if err := decodeRequest(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	inv, err := s.service.CreateInvitation(r.Context(), sessionFrom(r), chi.URLParam(r, "groupID"), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, toInvitationView(inv))
}

func (s *HTTPServer) handleGroupInvitations(w http.ResponseWriter, r *http.Request) {
	invs, err := s.service.GroupInvitations(r.Context(), sessionFrom(r), chi.URLParam(r, "groupID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toInvitationViews(invs))
}

func (s *HTTPServer) handleMyInvitations(w http.ResponseWriter, r *http.Request) {
	invs, err := s.service.MyInvitations(r.Context(), sessionFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toInvitationViews(invs))
}

func (s *HTTPServer) handleAcceptInvitation(w http.ResponseWriter, r *http.Request) {
	group, err := s.service.AcceptInvitation(r.Context(), sessionFrom(r), chi.URLParam(r, "invitationID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toGroupView(group, rbac.RoleMember))
}

func (s *HTTPServer) handleDeclineInvitation(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeclineInvitation(r.Context(), sessionFrom(r), chi.URLParam(r, "invitationID")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Invitation declined")
}

func (s *HTTPServer) handleCancelInvitation(w http.ResponseWriter, r *http.Request) {
	if err := s.service.CancelInvitation(r.Context(), sessionFrom(r), chi.URLParam(r, "invitationID")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Invitation cancelled")
}
