package account

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

	v1.POST("/accounts", h.Create)
	v1.GET("/accounts/:id", h.Get)
	v1.DELETE("/accounts/:id", h.Deactivate)
}

func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest(err.Error()))
		return
	}

	acct, err := h.svc.Create(c.Request.Context(), req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, acct)
}

func (h *Handler) Get(c *gin.Context) {
	acct, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, acct)
}

func (h *Handler) Deactivate(c *gin.Context) {
	if err := h.svc.Deactivate(c.Request.Context(), c.Param("id")); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"deactivated": true})
}
