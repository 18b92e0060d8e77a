package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/studyhub/study-hub/internal/application/command"
	"github.com/studyhub/study-hub/internal/application/query"
	"github.com/studyhub/study-hub/internal/domain/assistant"
	"github.com/studyhub/study-hub/internal/domain/identity"
	"github.com/studyhub/study-hub/internal/domain/progress"
	"github.com/studyhub/study-hub/internal/domain/shared"
	"github.com/studyhub/study-hub/internal/domain/task"
	"github.com/studyhub/study-hub/internal/domain/timer"
	"github.com/studyhub/study-hub/pkg/logger"
)

// currentUser returns the authenticated user id. Routes using it are always
// wrapped by authenticate.
func currentUser(r *http.Request) string {
	id, ok := identity.FromContext(r.Context())
	if !ok {
		return ""
	}
	return id.UserID
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.deps.Health.Check(r.Context())
	code := http.StatusOK
	if !status.Ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func (s *Server) handleLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	status := s.deps.Health.Check(r.Context())
	if !status.Ready {
		writeError(w, http.StatusServiceUnavailable, "not_ready", status.Message, true)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// ══════════════════════════════════════════════════════════════════════════════
// AUTHENTICATION
// ══════════════════════════════════════════════════════════════════════════════

type signUpRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type resetRequest struct {
	Email string `json:"email"`
}

type confirmResetRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if err := decodeJSON(r, &req, false); err != nil {
		s.writeErr(w, r, err)
		return
	}
	session, err := s.deps.Auth.SignUp(r.Context(), req.Email, req.Password, req.DisplayName)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	logger.FromContext(r.Context()).Info("user signed up", logger.UserID(session.User.UserID))
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := decodeJSON(r, &req, false); err != nil {
		s.writeErr(w, r, err)
		return
	}
	session, err := s.deps.Auth.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// handleSignOut revokes the presented token. A missing or invalid token is
// not an error: the client is signed out either way.
func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if token := bearerToken(r); token != "" {
		if err := s.deps.Auth.SignOut(r.Context(), token); err != nil {
			s.writeErr(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"signed_out": true})
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := decodeJSON(r, &req, false); err != nil {
		s.writeErr(w, r, err)
		return
	}
	if err := s.deps.Auth.ResetPassword(r.Context(), req.Email); err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"message": "If the address is registered, a reset link is on its way.",
	})
}

func (s *Server) handleConfirmReset(w http.ResponseWriter, r *http.Request) {
	var req confirmResetRequest
	if err := decodeJSON(r, &req, false); err != nil {
		s.writeErr(w, r, err)
		return
	}
	if err := s.deps.Auth.ConfirmReset(r.Context(), req.Token, req.Password); err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"password_changed": true})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	id, _ := identity.FromContext(r.Context())
	writeJSON(w, http.StatusOK, id)
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "days", 0)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	dto, err := s.deps.Dashboard.Handle(r.Context(), query.GetDashboardQuery{
		UserID:      currentUser(r),
		HistoryDays: days,
	})
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

// progressEvent is one server-sent event on the progress stream.
type progressEvent struct {
	Version int64                  `json:"version"`
	Points  int                    `json:"points"`
	Level   progress.LevelInfo     `json:"level"`
	Streak  int                    `json:"streak"`
	At      time.Time              `json:"changed_at"`
	Record  *progress.UserProgress `json:"progress"`
}

// handleProgressStream streams committed progress changes as server-sent
// events until the client disconnects.
func (s *Server) handleProgressStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	changes, err := s.deps.Progress.Subscribe(ctx, currentUser(r))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	rc := http.NewResponseController(w)
	// The stream outlives the server write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-store")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		logger.FromContext(ctx).Warn("progress stream: flush unsupported", logger.Err(err))
		return
	}

	heartbeat := time.NewTicker(s.config.StreamHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
		case c, ok := <-changes:
			if !ok {
				return
			}
			if err := writeProgressEvent(w, c); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func writeProgressEvent(w io.Writer, c progress.ProgressChanged) error {
	ev := progressEvent{Version: c.Version, At: c.ChangedAt, Record: c.Progress}
	if c.Progress != nil {
		ev.Points = c.Progress.Points
		ev.Level = c.Progress.Level()
		ev.Streak = c.Progress.Streak.Effective(c.ChangedAt)
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", c.Version, data)
	return err
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	items, err := s.deps.Feed.Handle(r.Context(), query.GetFeedQuery{UserID: currentUser(r), Limit: limit})
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	meta := newMeta(w)
	n := len(items)
	meta.Count = &n
	writeJSONWithMeta(w, http.StatusOK, items, meta)
}

type addSubjectRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleAddSubject(w http.ResponseWriter, r *http.Request) {
	var req addSubjectRequest
	if err := decodeJSON(r, &req, false); err != nil {
		s.writeErr(w, r, err)
		return
	}
	subjects, err := s.deps.AddSubject.Handle(r.Context(), command.AddSubjectCommand{
		UserID: currentUser(r),
		Name:   req.Name,
	})
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string][]string{"subjects": subjects})
}

type weeklyGoalRequest struct {
	Hours float64 `json:"hours"`
}

func (s *Server) handleSetWeeklyGoal(w http.ResponseWriter, r *http.Request) {
	var req weeklyGoalRequest
	if err := decodeJSON(r, &req, false); err != nil {
		s.writeErr(w, r, err)
		return
	}
	p, err := s.deps.SetWeeklyGoal.Handle(r.Context(), command.SetWeeklyGoalCommand{
		UserID: currentUser(r),
		Hours:  req.Hours,
	})
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{
		"goal_hours":     p.WeeklyGoalHours,
		"progress_hours": p.WeeklyProgressHours,
		"percent":        p.WeeklyGoalPercent(),
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// TASKS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.ListTasks.Handle(r.Context(), query.ListTasksQuery{
		UserID: currentUser(r),
		Status: task.Status(r.URL.Query().Get("status")),
	})
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	meta := newMeta(w)
	n := len(res.Tasks)
	meta.Count = &n
	meta.Degraded = res.Degraded
	writeJSONWithMeta(w, http.StatusOK, res.Tasks, meta)
}

type createTaskRequest struct {
	Title       string     `json:"title"`
	Subject     string     `json:"subject"`
	Priority    string     `json:"priority"`
	Description string     `json:"description"`
	DueDate     *time.Time `json:"due_date"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := decodeJSON(r, &req, false); err != nil {
		s.writeErr(w, r, err)
		return
	}
	res, err := s.deps.CreateTask.Handle(r.Context(), command.CreateTaskCommand{
		UserID:      currentUser(r),
		Title:       req.Title,
		Subject:     req.Subject,
		Priority:    req.Priority,
		Description: req.Description,
		DueDate:     req.DueDate,
	})
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res.Task)
}

type changeStatusRequest struct {
	Status string `json:"status"`
}

type changeStatusResponse struct {
	Task         *task.Task         `json:"task"`
	From         task.Status        `json:"from"`
	PointsEarned int                `json:"points_earned"`
	Points       int                `json:"points"`
	Level        progress.LevelInfo `json:"level"`
	Unlocked     []progress.Unlock  `json:"unlocked"`
}

func (s *Server) handleChangeTaskStatus(w http.ResponseWriter, r *http.Request) {
	var req changeStatusRequest
	if err := decodeJSON(r, &req, false); err != nil {
		s.writeErr(w, r, err)
		return
	}
	res, err := s.deps.ChangeTaskStatus.Handle(r.Context(), command.ChangeTaskStatusCommand{
		UserID: currentUser(r),
		TaskID: r.PathValue("id"),
		Status: req.Status,
	})
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	resp := changeStatusResponse{
		Task:         res.Task,
		From:         res.From,
		PointsEarned: res.PointsEarned,
		Unlocked:     res.Unlocked,
	}
	if resp.Unlocked == nil {
		resp.Unlocked = []progress.Unlock{}
	}
	if res.Progress != nil {
		resp.Points = res.Progress.Points
		resp.Level = res.Progress.Level()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	err := s.deps.DeleteTask.Handle(r.Context(), command.DeleteTaskCommand{
		UserID: currentUser(r),
		TaskID: r.PathValue("id"),
	})
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": r.PathValue("id")})
}

// ══════════════════════════════════════════════════════════════════════════════
// TIMER
// ══════════════════════════════════════════════════════════════════════════════

type timerResponse struct {
	timer.State
	Display string `json:"display"`
}

func timerView(st timer.State) timerResponse {
	return timerResponse{State: st, Display: st.Display()}
}

type timerActionRequest struct {
	Subject string `json:"subject"`
	Mode    string `json:"mode"`
}

func (s *Server) handleGetTimer(w http.ResponseWriter, r *http.Request) {
	runner, err := s.deps.Timers.Get(r.Context(), currentUser(r))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, timerView(runner.State()))
}

func (s *Server) handleTimerAction(w http.ResponseWriter, r *http.Request) {
	var req timerActionRequest
	if err := decodeJSON(r, &req, true); err != nil {
		s.writeErr(w, r, err)
		return
	}

	ctx := r.Context()
	runner, err := s.deps.Timers.Get(ctx, currentUser(r))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	var st timer.State
	switch action := r.PathValue("action"); action {
	case "select-subject":
		st, err = runner.SelectSubject(strings.TrimSpace(req.Subject))
	case "start":
		st, err = runner.Start()
	case "pause":
		st, err = runner.Pause(ctx)
	case "reset":
		st, err = runner.Reset(ctx)
	case "switch":
		st, err = runner.SwitchMode(ctx, timer.Mode(req.Mode))
	default:
		writeError(w, http.StatusNotFound, "unknown_action",
			fmt.Sprintf("unknown timer action %q", action), false)
		return
	}
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, timerView(st))
}

// ══════════════════════════════════════════════════════════════════════════════
// FLASHCARDS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleListDecks(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.ListDecks.Handle(r.Context(), query.ListDecksQuery{UserID: currentUser(r)})
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	meta := newMeta(w)
	n := len(res.Decks)
	meta.Count = &n
	meta.Degraded = res.Degraded
	writeJSONWithMeta(w, http.StatusOK, res.Decks, meta)
}

type documentPayload struct {
	Name     string `json:"name"`
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"data"` // base64 in JSON
}

type generateDeckRequest struct {
	Topic    string           `json:"topic"`
	TaskID   string           `json:"task_id"`
	Count    int              `json:"count"`
	Document *documentPayload `json:"document"`
}

func (s *Server) handleGenerateDeck(w http.ResponseWriter, r *http.Request) {
	req, err := s.readGenerateRequest(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	cmd := command.GenerateDeckCommand{
		UserID: currentUser(r),
		Topic:  req.Topic,
		TaskID: req.TaskID,
		Count:  req.Count,
	}
	if req.Document != nil {
		cmd.Document = &assistant.Document{
			Name:     req.Document.Name,
			MIMEType: req.Document.MIMEType,
			Data:     req.Document.Data,
		}
	}

	deck, err := s.deps.GenerateDeck.Handle(r.Context(), cmd)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, deck)
}

// readGenerateRequest accepts either JSON or a multipart form with a "file"
// part plus topic/task_id/count fields.
func (s *Server) readGenerateRequest(r *http.Request) (*generateDeckRequest, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		var req generateDeckRequest
		if err := decodeJSON(r, &req, false); err != nil {
			return nil, err
		}
		return &req, nil
	}

	if err := r.ParseMultipartForm(s.config.MaxBodyBytes); err != nil {
		return nil, shared.WrapError("http", "upload", shared.ErrInvalidInput, "Could not read the uploaded form.", err)
	}
	req := &generateDeckRequest{
		Topic:  r.FormValue("topic"),
		TaskID: r.FormValue("task_id"),
	}
	if raw := r.FormValue("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, shared.NewDomainError("http", "upload", shared.ErrInvalidInput, "count must be a number")
		}
		req.Count = n
	}

	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return req, nil
	}
	if err != nil {
		return nil, shared.WrapError("http", "upload", shared.ErrInvalidInput, "Could not read the uploaded file.", err)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, assistant.MaxDocumentBytes+1))
	if err != nil {
		return nil, shared.WrapError("http", "upload", shared.ErrInvalidInput, "Could not read the uploaded file.", err)
	}
	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}
	req.Document = &documentPayload{Name: header.Filename, MIMEType: mimeType, Data: data}
	return req, nil
}

func (s *Server) handleDeleteDeck(w http.ResponseWriter, r *http.Request) {
	err := s.deps.DeleteDeck.Handle(r.Context(), command.DeleteDeckCommand{
		UserID: currentUser(r),
		DeckID: r.PathValue("id"),
	})
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": r.PathValue("id")})
}

// ══════════════════════════════════════════════════════════════════════════════
// CHAT
// ══════════════════════════════════════════════════════════════════════════════

type chatRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req, false); err != nil {
		s.writeErr(w, r, err)
		return
	}
	reply, err := s.deps.Chat.Handle(r.Context(), command.ChatCommand{
		UserID:  currentUser(r),
		Message: req.Message,
	})
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}
