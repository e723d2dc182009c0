package ledger

import (
	"net/http"

	"coinledger/pkg/errutil"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

type Handler struct {
	svc *Service
}

type HandlerParams struct {
	fx.In
	Service *Service
}

func NewHandler(p HandlerParams) *Handler {
	return &Handler{svc: p.Service}
}

func registerRoutes(engine *gin.Engine, h *Handler) {
	v1 := engine.Group("/v1")

	v1.POST("/transfers", h.Transfer)
	v1.POST("/rewards", h.Reward)
	v1.POST("/purchases", h.Purchase)
	v1.POST("/refunds", h.Refund)
	v1.POST("/adjustments", h.Adjust)
	v1.POST("/holds", h.Reserve)
	v1.DELETE("/holds/:id", h.ReleaseHold)
	v1.GET("/transactions/:id", h.GetTransaction)
	v1.GET("/transactions/:id/entries", h.GetEntries)
	v1.GET("/accounts/:id/balance", h.GetBalance)
	v1.GET("/accounts/:id/transactions", h.ListTransactions)
}

func (h *Handler) Transfer(c *gin.Context) {
	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest(err.Error()))
		return
	}

	txRow, err := h.svc.Transfer(c.Request.Context(), req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, txRow)
}

func (h *Handler) Reward(c *gin.Context) {
	var req RewardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest(err.Error()))
		return
	}

	txRow, err := h.svc.Reward(c.Request.Context(), req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, txRow)
}

func (h *Handler) Purchase(c *gin.Context) {
	var req PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest(err.Error()))
		return
	}

	txRow, err := h.svc.Purchase(c.Request.Context(), req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, txRow)
}

func (h *Handler) Refund(c *gin.Context) {
	var req RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest(err.Error()))
		return
	}

	txRow, err := h.svc.Refund(c.Request.Context(), req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, txRow)
}

func (h *Handler) Adjust(c *gin.Context) {
	var req AdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest(err.Error()))
		return
	}

	txRow, err := h.svc.AdjustBalance(c.Request.Context(), req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, txRow)
}

func (h *Handler) Reserve(c *gin.Context) {
	var req HoldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest(err.Error()))
		return
	}

	hold, err := h.svc.Reserve(c.Request.Context(), req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, hold)
}

func (h *Handler) ReleaseHold(c *gin.Context) {
	if err := h.svc.ReleaseHold(c.Request.Context(), c.Param("id")); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"released": true})
}

func (h *Handler) GetTransaction(c *gin.Context) {
	txRow, err := h.svc.GetTransaction(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, txRow)
}

func (h *Handler) GetEntries(c *gin.Context) {
	entries, err := h.svc.Entries(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (h *Handler) GetBalance(c *gin.Context) {
	balance, err := h.svc.GetBalance(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, balance)
}

func (h *Handler) ListTransactions(c *gin.Context) {
	var query HistoryQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.Error(errutil.BadRequest(err.Error()))
		return
	}

	result, err := h.svc.ListTransactions(c.Request.Context(), c.Param("id"), query)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, result)
}
