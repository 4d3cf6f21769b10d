package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lalith-99/dmstream/internal/chat"
	"github.com/lalith-99/dmstream/internal/middleware"
	"github.com/lalith-99/dmstream/internal/models"
)

type ChatHandler struct {
	svc    *chat.Service
	logger *zap.Logger
}

func NewChatHandler(svc *chat.Service, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{svc: svc, logger: logger}
}

type lastMessageView struct {
	ID        int64  `json:"id"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

type conversationView struct {
	User        models.UserRef   `json:"user"`
	LastMessage *lastMessageView `json:"lastMessage"`
}

type indexResponse struct {
	UsersWithLastMessage []conversationView `json:"usersWithLastMessage"`
	CurrentUser          models.UserRef     `json:"current_user"`
}

// Index handles GET /v1/chat
//
// Lists every other user with the last message exchanged, most recent
// conversation first.
func (h *ChatHandler) Index(c *gin.Context) {
	userID := middleware.GetUserID(c)

	summaries, err := h.svc.ListConversations(c.Request.Context(), userID)
	if err != nil {
		writeError(c, h.logger, "list conversations", err)
		return
	}

	views := make([]conversationView, 0, len(summaries))
	for _, s := range summaries {
		v := conversationView{User: s.User}
		if s.LastMessage != nil {
			v.LastMessage = &lastMessageView{
				ID:        s.LastMessage.ID,
				Content:   s.LastMessage.Content,
				CreatedAt: chat.FormatTime(s.LastMessage.CreatedAt),
			}
		}
		views = append(views, v)
	}

	c.JSON(http.StatusOK, indexResponse{
		UsersWithLastMessage: views,
		CurrentUser:          models.UserRef{ID: userID, Username: middleware.GetUsername(c)},
	})
}

type sendRequest struct {
	ReceiverID int64  `json:"receiver_id" binding:"required"`
	Content    string `json:"content" binding:"required"`
}

type sendResponse struct {
	Status  string              `json:"status"`
	Message chat.MessagePayload `json:"message"`
}

// Send handles POST /v1/chat/send
//
// The response mirrors the conversation-topic event, so a client can add
// the message optimistically and dedupe the live echo by id.
func (h *ChatHandler) Send(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "receiver_id and content are required"})
		return
	}

	userID := middleware.GetUserID(c)
	msg, err := h.svc.SendMessage(c.Request.Context(), userID, req.ReceiverID, req.Content)
	if err != nil {
		writeError(c, h.logger, "send message", err)
		return
	}

	c.JSON(http.StatusOK, sendResponse{
		Status:  "success",
		Message: chat.NewMessagePayload(msg, middleware.GetUsername(c)),
	})
}

// Messages handles GET /v1/chat/messages/:id?page=1
//
// Page 1 is the newest slice of the conversation; each page is returned
// oldest first. "hasMore" tells an infinite-scroll client whether to ask
// for page+1.
func (h *ChatHandler) Messages(c *gin.Context) {
	otherID, ok := parseUserID(c)
	if !ok {
		return
	}

	page := 1
	if p := c.Query("page"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'page' parameter"})
			return
		}
		page = n
	}

	history, err := h.svc.GetHistory(c.Request.Context(), middleware.GetUserID(c), otherID, page, 0)
	if err != nil {
		writeError(c, h.logger, "load messages", err)
		return
	}

	c.JSON(http.StatusOK, history)
}

// Conversation handles GET /v1/chat/conversation/:id
//
// The chronological initial view of a conversation.
func (h *ChatHandler) Conversation(c *gin.Context) {
	otherID, ok := parseUserID(c)
	if !ok {
		return
	}

	messages, err := h.svc.InitialConversation(c.Request.Context(), middleware.GetUserID(c), otherID)
	if err != nil {
		writeError(c, h.logger, "load conversation", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func parseUserID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return 0, false
	}
	return id, true
}
