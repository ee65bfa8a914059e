package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gudagent/pkg/logging"
	"gudagent/pkg/middleware"

	"github.com/gin-gonic/gin"
)

const (
	SignatureHeader  = "X-GudDesk-Signature"
	signaturePrefix  = "sha256="
	eventMessageNew  = "message.created"
	senderVisitor    = "VISITOR"
	maxWebhookBody   = 1 << 20
	defaultProcessTO = 2 * time.Minute
)

// MessageProcessor is satisfied by *chat.Agent.
type MessageProcessor interface {
	ProcessMessage(ctx context.Context, conversationID, body string) error
}

type WebhookEvent struct {
	Event string      `json:"event"`
	Data  MessageData `json:"data"`
}

type MessageData struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
	Body           string `json:"body"`
	AssigneeID     string `json:"assigneeId,omitempty"`
}

type WebhookConfig struct {
	Processor      MessageProcessor
	Secret         string
	Logger         logging.Logger
	ProcessTimeout time.Duration
}

// WebhookHandler accepts GudDesk deliveries and answers visitor messages in
// the background. The signing secret can be swapped at runtime once the
// webhook registration returns one.
type WebhookHandler struct {
	processor MessageProcessor
	logger    logging.Logger
	timeout   time.Duration
	secret    atomic.Pointer[string]
	wg        sync.WaitGroup
}

func NewWebhookHandler(cfg WebhookConfig) *WebhookHandler {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	timeout := cfg.ProcessTimeout
	if timeout <= 0 {
		timeout = defaultProcessTO
	}
	h := &WebhookHandler{processor: cfg.Processor, logger: logger, timeout: timeout}
	h.SetSecret(cfg.Secret)
	return h
}

func (h *WebhookHandler) SetSecret(secret string) {
	h.secret.Store(&secret)
}

func (h *WebhookHandler) Secret() string {
	if s := h.secret.Load(); s != nil {
		return *s
	}
	return ""
}

// Sign returns the signature header value GudDesk sends for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks header against body. An empty secret disables
// verification.
func VerifySignature(secret string, body []byte, header string) bool {
	if secret == "" {
		return true
	}
	header = strings.TrimSpace(header)
	if !strings.HasPrefix(header, signaturePrefix) {
		return false
	}
	return hmac.Equal([]byte(header), []byte(Sign(secret, body)))
}

func (h *WebhookHandler) Register(r gin.IRoutes) {
	r.POST("/webhook", h.Handle)
}

func (h *WebhookHandler) Handle(c *gin.Context) {
	log := middleware.ContextLogger(c, h.logger)

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody+1))
	if err != nil || len(body) > maxWebhookBody {
		webhookEventsTotal.WithLabelValues("invalid").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if !VerifySignature(h.Secret(), body, c.GetHeader(SignatureHeader)) {
		webhookEventsTotal.WithLabelValues("unauthorized").Inc()
		log.Warn("Webhook received with invalid signature; rejected")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature"})
		return
	}

	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		webhookEventsTotal.WithLabelValues("invalid").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON body"})
		return
	}

	if event.Event != eventMessageNew || event.Data.Type != senderVisitor {
		webhookEventsTotal.WithLabelValues("ignored").Inc()
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	conversationID := strings.TrimSpace(event.Data.ConversationID)
	if conversationID == "" || strings.TrimSpace(event.Data.Body) == "" {
		webhookEventsTotal.WithLabelValues("invalid").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing conversationId or body"})
		return
	}

	webhookEventsTotal.WithLabelValues("accepted").Inc()
	ctx := context.WithoutCancel(c.Request.Context())
	h.wg.Add(1)
	c.JSON(http.StatusOK, gin.H{"status": "processing"})
	go h.process(ctx, log.WithField("conversation_id", conversationID), conversationID, event.Data.Body)
}

func (h *WebhookHandler) process(ctx context.Context, log logging.Entry, conversationID, body string) {
	defer h.wg.Done()
	messagesInFlight.Inc()
	defer messagesInFlight.Dec()

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	start := time.Now()
	err := h.processor.ProcessMessage(ctx, conversationID, body)
	status := "ok"
	if err != nil {
		status = "error"
		log.WithError(err).Error("Failed to process message")
	}
	messageProcessingDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
}

// Wait blocks until background processing drains or ctx ends.
func (h *WebhookHandler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
