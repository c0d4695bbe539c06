// Conversation HTTP handlers.
//
// This file exposes the dashboard inbox endpoints:
//   - GET  /conversations                   (list, paginated, ETag support)
//   - GET  /conversations/{id}/messages     (history, paginated)
//   - POST /conversations/{id}/messages     (send, idempotent via header key)
//   - POST /conversations/{id}/read         (reset unread counter)
package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/shoptalk/go-gateway-backend/internal/domain"
	"github.com/shoptalk/go-gateway-backend/internal/http/middleware"
	"github.com/shoptalk/go-gateway-backend/internal/repo"
	"github.com/shoptalk/go-gateway-backend/internal/services"
	"github.com/shoptalk/go-gateway-backend/internal/utils"
)

// timeNow is stubbed in tests.
var timeNow = func() time.Time { return time.Now().UTC() }

//
// DTOs
//

// ConversationView is the list representation of a conversation joined with
// its customer.
type ConversationView struct {
	domain.Conversation
	CustomerName   string `json:"customer_name"`
	CustomerHandle string `json:"customer_handle"`
	AvatarURL      string `json:"avatar_url,omitempty"`
}

// ListConversationsResponse wraps a page of conversations.
type ListConversationsResponse struct {
	Conversations []ConversationView `json:"conversations"`
	Pagination    Pagination         `json:"pagination"`
}

// ListMessagesResponse wraps a page of messages.
type ListMessagesResponse struct {
	Messages   []domain.Message `json:"messages"`
	Pagination Pagination       `json:"pagination"`
}

// SendMessageRequest is the JSON payload for sending a message.
type SendMessageRequest struct {
	Content string `json:"content" binding:"required,min=1,max=4096"`
}

// SendMessageResponse wraps the stored outbound message. Replayed is true
// when an idempotency key matched an earlier send and no new message left
// the gateway.
type SendMessageResponse struct {
	Message  *domain.Message `json:"message"`
	Replayed bool            `json:"replayed,omitempty"`
}

//
// Handlers
//

// ListConversations returns a page of the shop's conversations ordered by
// recency. Supports weak ETag via If-None-Match and may return 304.
func (h *Handlers) ListConversations(c *gin.Context) {
	ctx := c.Request.Context()
	sid := shopID(c)
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort).
	if count, maxTS, err := repo.ConversationsStats(ctx, h.db, sid); err == nil {
		var ts int64
		if maxTS != nil {
			ts = maxTS.Unix()
		}
		etag := fmt.Sprintf(`W/"convs:%s:%d:%d"`, sid, count, ts)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	total, err := repo.CountConversations(ctx, h.db, sid)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	items, err := repo.ListConversationsPage(ctx, h.db, sid, utils.PageOffset(page, pageSize), pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	views := make([]ConversationView, 0, len(items))
	for _, conv := range items {
		v := ConversationView{Conversation: conv}
		if cust, err := repo.GetCustomer(ctx, h.db, conv.CustomerID); err == nil {
			v.CustomerName = cust.DisplayName
			v.CustomerHandle = cust.ExternalHandle
			v.AvatarURL = cust.AvatarURL
		}
		views = append(views, v)
	}

	totalPages := utils.TotalPages(total, pageSize)
	ok(c, http.StatusOK, ListConversationsResponse{
		Conversations: views,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// conversationForShop loads the path conversation and enforces tenant
// ownership. Writes the error response itself on failure.
func (h *Handlers) conversationForShop(c *gin.Context) (*domain.Conversation, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "conversation id must be a UUID")
		return nil, false
	}
	conv, err := repo.GetConversation(c.Request.Context(), h.db, id, shopID(c))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
		} else {
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return nil, false
	}
	return conv, true
}

// ListMessages returns a page of a conversation's messages in chronological
// order.
func (h *Handlers) ListMessages(c *gin.Context) {
	conv, okConv := h.conversationForShop(c)
	if !okConv {
		return
	}
	ctx := c.Request.Context()
	page, pageSize := clampPagination(c)

	total, err := repo.CountMessages(ctx, h.db, conv.ID)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	items, err := repo.ListMessagesPage(ctx, h.db, conv.ID, utils.PageOffset(page, pageSize), pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	totalPages := utils.TotalPages(total, pageSize)
	ok(c, http.StatusOK, ListMessagesResponse{
		Messages: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// SendMessage delivers a text into the conversation over the shop's live
// session. An Idempotency-Key header makes retries safe: a replayed key
// returns the originally stored message without sending again.
func (h *Handlers) SendMessage(c *gin.Context) {
	conv, okConv := h.conversationForShop(c)
	if !okConv {
		return
	}
	ctx := c.Request.Context()
	sid := shopID(c)

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Content) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required (1-4096 chars)")
		return
	}
	content := strings.TrimSpace(req.Content)

	key := strings.TrimSpace(c.GetHeader(middleware.HeaderIdempotencyKey))
	if key != "" {
		if rec, err := repo.GetSendReceipt(ctx, h.db, sid, conv.ID, key, timeNow()); err == nil {
			msg, merr := repo.GetMessage(ctx, h.db, rec.MessageID)
			if merr == nil {
				ok(c, http.StatusOK, SendMessageResponse{Message: msg, Replayed: true})
				return
			}
		}
	}

	cust, err := repo.GetCustomer(ctx, h.db, conv.CustomerID)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}

	res, err := h.sessions.SendText(ctx, sid, cust.ExternalHandle, content)
	switch {
	case errors.Is(err, services.ErrChannelNotConnected):
		fail(c, http.StatusConflict, ErrCodeNotConnected, "channel is not connected")
		return
	case errors.Is(err, services.ErrEmptyContent):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return
	case err != nil:
		fail(c, http.StatusBadGateway, ErrCodeSendFailed, err.Error())
		return
	}

	if key != "" && res.Message != nil {
		if _, err := repo.CreateSendReceipt(ctx, h.db, sid, conv.ID, key, res.Message.ID, http.StatusCreated, h.sendTTL); err != nil && !errors.Is(err, repo.ErrDuplicate) {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("send receipt not recorded")
		}
	}
	ok(c, http.StatusCreated, SendMessageResponse{Message: res.Message})
}

// MarkRead zeroes the conversation's unread counter.
func (h *Handlers) MarkRead(c *gin.Context) {
	conv, okConv := h.conversationForShop(c)
	if !okConv {
		return
	}
	if err := h.convs.MarkRead(c.Request.Context(), shopID(c), conv.ID); err != nil {
		if errors.Is(err, services.ErrConversationNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	noContent(c)
}
