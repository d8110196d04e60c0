// ABOUTME: HTTP API handlers for accounts, history and groups
// ABOUTME: Messages are rendered with the same wire shape the WebSocket uses

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/2389/mulchat-gateway/internal/auth"
	"github.com/2389/mulchat-gateway/internal/store"
	"github.com/2389/mulchat-gateway/internal/ws"
)

// defaultTokenTTL matches the original 7 day session length
const defaultTokenTTL = 7 * 24 * time.Hour

// RegisterRequest is the JSON request body for POST /api/auth/register.
type RegisterRequest struct {
	Name     string `json:"name"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest is the JSON request body for POST /api/auth/login.
// Login accepts an email or a username; Email is kept for older clients.
type LoginRequest struct {
	Login    string `json:"login,omitempty"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password"`
}

// AuthResponse is returned by register and login. Token is empty in anonymous mode.
type AuthResponse struct {
	Token string       `json:"token,omitempty"`
	User  UserResponse `json:"user"`
}

// UserResponse is the public view of a user.
type UserResponse struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Username string    `json:"username"`
	Email    string    `json:"email"`
	Avatar   string    `json:"avatar,omitempty"`
	Bio      string    `json:"bio,omitempty"`
	IsOnline bool      `json:"isOnline"`
	LastSeen time.Time `json:"lastSeen"`
	IsBot    bool      `json:"isBot,omitempty"`
}

// GroupMemberResponse is one member of a group.
type GroupMemberResponse struct {
	UserID   string    `json:"userId"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
}

// GroupResponse is the JSON view of a group.
type GroupResponse struct {
	ID          string                `json:"id"`
	Name        string                `json:"name"`
	Description string                `json:"description"`
	Avatar      string                `json:"avatar,omitempty"`
	CreatorID   string                `json:"creatorId"`
	IsPrivate   bool                  `json:"isPrivate"`
	IsOfficial  bool                  `json:"isOfficial"`
	Members     []GroupMemberResponse `json:"members"`
	CreatedAt   time.Time             `json:"createdAt"`
	UpdatedAt   time.Time             `json:"updatedAt"`
}

// CreateGroupRequest is the JSON request body for POST /api/groups.
type CreateGroupRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Avatar      string   `json:"avatar,omitempty"`
	IsPrivate   bool     `json:"isPrivate,omitempty"`
	MemberIDs   []string `json:"memberIds,omitempty"`
}

// AddMemberRequest is the JSON request body for POST /api/groups/{groupId}/members.
type AddMemberRequest struct {
	UserID string `json:"userId"`
	Role   string `json:"role,omitempty"`
}

func (g *Gateway) registerAPIRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/auth/register", g.handleRegister)
	mux.HandleFunc("POST /api/auth/login", g.handleLogin)

	authed := g.requireUser
	mux.Handle("GET /api/auth/me", authed(g.handleMe))
	mux.Handle("GET /api/users", authed(g.handleListUsers))
	mux.Handle("GET /api/messages/conversation/{userId}", authed(g.handleConversation))
	mux.Handle("GET /api/messages/group/{groupId}", authed(g.handleGroupMessages))
	mux.Handle("POST /api/messages/{messageId}/read", authed(g.handleMarkRead))
	mux.Handle("POST /api/groups", authed(g.handleCreateGroup))
	mux.Handle("GET /api/groups/mine", authed(g.handleMyGroups))
	mux.Handle("POST /api/groups/{groupId}/members", authed(g.handleAddMember))
	mux.Handle("DELETE /api/groups/{groupId}", authed(g.handleDeleteGroup))
}

// requireUser wraps h with token auth, or with the trusted X-User-ID header
// in anonymous mode.
func (g *Gateway) requireUser(h http.HandlerFunc) http.Handler {
	if g.verifier != nil {
		return auth.HTTPAuthMiddleware(g.store, g.verifier)(h)
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
		if userID == "" {
			g.sendJSONError(w, http.StatusUnauthorized, "missing X-User-ID header")
			return
		}
		user, err := g.store.GetUser(r.Context(), userID)
		if err != nil {
			g.sendJSONError(w, http.StatusUnauthorized, "user not found")
			return
		}
		id := &auth.Identity{UserID: user.ID, Username: user.Username}
		h(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
	})
}

func callerID(r *http.Request) string {
	if id := auth.FromContext(r.Context()); id != nil {
		return id.UserID
	}
	return ""
}

func (g *Gateway) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Name == "" || req.Email == "" || req.Password == "" {
		g.sendJSONError(w, http.StatusBadRequest, "name, email and password are required")
		return
	}
	if len(req.Password) < auth.MinPasswordLength {
		g.sendJSONError(w, http.StatusBadRequest, "password must be at least 6 characters long")
		return
	}
	username := strings.ToLower(strings.TrimSpace(req.Username))
	if username == "" {
		username, _, _ = strings.Cut(req.Email, "@")
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		g.logger.Error("failed to hash password", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	user := &store.User{
		Name:         req.Name,
		Username:     username,
		Email:        req.Email,
		PasswordHash: hash,
	}
	if err := g.store.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			g.sendJSONError(w, http.StatusConflict, "email or username is already registered")
			return
		}
		g.logger.Error("failed to create user", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	g.logger.Info("=== USER REGISTERED ===", "user_id", user.ID, "username", user.Username)
	g.respondWithToken(w, http.StatusCreated, user)
}

func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	login := req.Login
	if login == "" {
		login = req.Email
	}
	if login == "" || req.Password == "" {
		g.sendJSONError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	user, err := g.store.GetUserByLogin(r.Context(), login)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		g.logger.Error("failed to look up user", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "login failed")
		return
	}
	hash := ""
	if user != nil {
		hash = user.PasswordHash
	}
	// CheckPassword burns a bcrypt comparison even for unknown users
	if err := auth.CheckPassword(hash, req.Password); err != nil || user == nil {
		g.sendJSONError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}

	g.respondWithToken(w, http.StatusOK, user)
}

func (g *Gateway) respondWithToken(w http.ResponseWriter, status int, user *store.User) {
	resp := AuthResponse{User: g.userResponse(user)}
	if g.verifier != nil {
		ttl := g.config.Auth.TokenTTL
		if ttl <= 0 {
			ttl = defaultTokenTTL
		}
		token, err := g.verifier.Generate(user.ID, ttl)
		if err != nil {
			g.logger.Error("failed to generate token", "error", err)
			g.sendJSONError(w, http.StatusInternalServerError, "failed to issue token")
			return
		}
		resp.Token = token
	}
	writeJSON(w, status, resp)
}

func (g *Gateway) userResponse(u *store.User) UserResponse {
	isBot := u.ID == g.config.Bot.ID
	return UserResponse{
		ID:       u.ID,
		Name:     u.Name,
		Username: u.Username,
		Email:    u.Email,
		Avatar:   u.Avatar,
		Bio:      u.Bio,
		IsOnline: isBot || g.registry.IsOnline(u.ID),
		LastSeen: u.LastSeen,
		IsBot:    isBot,
	}
}

func (g *Gateway) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := g.store.GetUser(r.Context(), callerID(r))
	if err != nil {
		g.sendJSONError(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": g.userResponse(user)})
}

func (g *Gateway) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := g.store.ListUsers(r.Context())
	if err != nil {
		g.logger.Error("failed to list users", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to fetch users")
		return
	}

	caller := callerID(r)
	resp := make([]UserResponse, 0, len(users))
	for _, u := range users {
		if u.ID == caller {
			continue
		}
		resp = append(resp, g.userResponse(u))
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": resp})
}

// parseLimit reads the optional limit query parameter. Zero lets the store
// apply its default.
func parseLimit(r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func wireMessages(msgs []*store.Message) []ws.Message {
	out := make([]ws.Message, len(msgs))
	for i, m := range msgs {
		out[i] = ws.WireMessage(m)
	}
	return out
}

func (g *Gateway) handleConversation(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(r)
	if !ok {
		g.sendJSONError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	msgs, err := g.store.ListConversation(r.Context(), callerID(r), r.PathValue("userId"), limit)
	if err != nil {
		g.logger.Error("failed to fetch conversation", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to fetch messages")
		return
	}
	writeJSON(w, http.StatusOK, wireMessages(msgs))
}

// loadGroupForMember fetches a group and checks the caller belongs to it,
// writing the error response when it does not.
func (g *Gateway) loadGroupForMember(w http.ResponseWriter, r *http.Request, groupID string) (*store.Group, bool) {
	group, err := g.store.GetGroup(r.Context(), groupID)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "group not found")
		return nil, false
	}
	if err != nil {
		g.logger.Error("failed to fetch group", "group_id", groupID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to fetch group")
		return nil, false
	}
	if !group.HasMember(callerID(r)) {
		g.sendJSONError(w, http.StatusForbidden, "you are not a member of this group")
		return nil, false
	}
	return group, true
}

func (g *Gateway) handleGroupMessages(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(r)
	if !ok {
		g.sendJSONError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	group, ok := g.loadGroupForMember(w, r, r.PathValue("groupId"))
	if !ok {
		return
	}
	msgs, err := g.store.ListGroupMessages(r.Context(), group.ID, limit)
	if err != nil {
		g.logger.Error("failed to fetch group messages", "group_id", group.ID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to fetch group messages")
		return
	}
	writeJSON(w, http.StatusOK, wireMessages(msgs))
}

func (g *Gateway) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	caller := callerID(r)
	msg, err := g.store.GetMessage(r.Context(), r.PathValue("messageId"))
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "message not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to fetch message", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to mark message as read")
		return
	}

	if msg.IsGroup() {
		if _, ok := g.loadGroupForMember(w, r, msg.GroupID); !ok {
			return
		}
	} else if msg.RecipientID != caller {
		g.sendJSONError(w, http.StatusForbidden, "only the recipient can mark this message read")
		return
	}

	if err := g.store.MarkRead(r.Context(), msg.ID, caller, time.Now()); err != nil {
		g.logger.Error("failed to mark message read", "message_id", msg.ID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to mark message as read")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Marked as read"})
}

func groupResponse(grp *store.Group) GroupResponse {
	members := make([]GroupMemberResponse, len(grp.Members))
	for i, m := range grp.Members {
		members[i] = GroupMemberResponse{UserID: m.UserID, Role: string(m.Role), JoinedAt: m.JoinedAt}
	}
	return GroupResponse{
		ID:          grp.ID,
		Name:        grp.Name,
		Description: grp.Description,
		Avatar:      grp.Avatar,
		CreatorID:   grp.CreatorID,
		IsPrivate:   grp.IsPrivate,
		IsOfficial:  grp.IsOfficial,
		Members:     members,
		CreatedAt:   grp.CreatedAt,
		UpdatedAt:   grp.UpdatedAt,
	}
}

// usersExist reports the first id in ids with no user row.
func (g *Gateway) usersExist(r *http.Request, ids ...string) (string, error) {
	for _, id := range ids {
		if _, err := g.store.GetUser(r.Context(), id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return id, nil
			}
			return "", err
		}
	}
	return "", nil
}

func (g *Gateway) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req CreateGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		g.sendJSONError(w, http.StatusBadRequest, "group name is required")
		return
	}
	if req.Description == "" {
		req.Description = "No description provided"
	}

	caller := callerID(r)
	group := &store.Group{
		Name:        req.Name,
		Description: req.Description,
		Avatar:      req.Avatar,
		CreatorID:   caller,
		IsPrivate:   req.IsPrivate,
		Members:     []store.GroupMember{{UserID: caller, Role: store.GroupRoleAdmin}},
	}
	seen := map[string]bool{caller: true}
	var others []string
	for _, id := range req.MemberIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		others = append(others, id)
		group.Members = append(group.Members, store.GroupMember{UserID: id, Role: store.GroupRoleMember})
	}

	missing, err := g.usersExist(r, others...)
	if err != nil {
		g.logger.Error("failed to check members", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to create group")
		return
	}
	if missing != "" {
		g.sendJSONError(w, http.StatusBadRequest, "unknown user: "+missing)
		return
	}

	if err := g.store.CreateGroup(r.Context(), group); err != nil {
		g.logger.Error("failed to create group", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to create group")
		return
	}

	g.logger.Info("=== GROUP CREATED ===", "group_id", group.ID, "name", group.Name, "members", len(group.Members))
	writeJSON(w, http.StatusCreated, groupResponse(group))
}

func (g *Gateway) handleMyGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := g.store.ListGroupsForUser(r.Context(), callerID(r))
	if err != nil {
		g.logger.Error("failed to list groups", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to fetch groups")
		return
	}
	resp := make([]GroupResponse, len(groups))
	for i, grp := range groups {
		resp[i] = groupResponse(grp)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (g *Gateway) handleAddMember(w http.ResponseWriter, r *http.Request) {
	var req AddMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "userId is required")
		return
	}
	role := store.GroupRole(req.Role)
	switch role {
	case "":
		role = store.GroupRoleMember
	case store.GroupRoleAdmin, store.GroupRoleModerator, store.GroupRoleMember:
	default:
		g.sendJSONError(w, http.StatusBadRequest, "invalid role")
		return
	}

	group, ok := g.loadGroupForMember(w, r, r.PathValue("groupId"))
	if !ok {
		return
	}
	missing, err := g.usersExist(r, req.UserID)
	if err != nil {
		g.logger.Error("failed to check member", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to add member")
		return
	}
	if missing != "" {
		g.sendJSONError(w, http.StatusBadRequest, "unknown user: "+missing)
		return
	}

	err = g.store.AddGroupMember(r.Context(), group.ID, store.GroupMember{UserID: req.UserID, Role: role})
	if errors.Is(err, store.ErrAlreadyMember) {
		g.sendJSONError(w, http.StatusBadRequest, "user already in group")
		return
	}
	if err != nil {
		g.logger.Error("failed to add member", "group_id", group.ID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to add member")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Member added"})
}

func (g *Gateway) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	group, err := g.store.GetGroup(r.Context(), r.PathValue("groupId"))
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "group not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to fetch group", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	if group.CreatorID != callerID(r) {
		g.sendJSONError(w, http.StatusForbidden, "only the creator can delete this group")
		return
	}
	if err := g.store.DeleteGroup(r.Context(), group.ID); err != nil {
		g.logger.Error("failed to delete group", "group_id", group.ID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	g.logger.Info("=== GROUP DELETED ===", "group_id", group.ID)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Group deleted successfully"})
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
