package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ineyio/creditgate"
)

type planView struct {
	Name      creditgate.Plan `json:"name"`
	Monthly   int64           `json:"monthly"`
	Daily     int64           `json:"daily"`
	Price     int64           `json:"price"`
	Unlimited bool            `json:"unlimited"`
}

type entitlementView struct {
	Record creditgate.Record `json:"record"`
	Usage  creditgate.Usage  `json:"usage"`
}

type paymentRequest struct {
	Plan string `json:"plan" binding:"required"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) plans(c *gin.Context) {
	catalog := s.ents.Catalog()
	out := make([]planView, 0, len(creditgate.Plans))
	for _, p := range creditgate.Plans {
		a := catalog.AllowancesFor(p)
		out = append(out, planView{
			Name:      p,
			Monthly:   a.Monthly,
			Daily:     a.Daily,
			Price:     a.Price,
			Unlimited: a.Unlimited(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"plans": out})
}

func (s *Server) ensureProfile(c *gin.Context) {
	rec, err := s.ents.EnsureProfile(c.Request.Context(), identityFrom(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.view(rec))
}

func (s *Server) entitlement(c *gin.Context) {
	rec, err := s.ents.Read(c.Request.Context(), identityFrom(c).UserID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.view(rec))
}

func (s *Server) generate(c *gin.Context) {
	var req creditgate.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	res, err := s.gate.Generate(c.Request.Context(), identityFrom(c).UserID, req)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) paymentSuccess(c *gin.Context) {
	var req paymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "plan is required"})
		return
	}

	rec, err := s.ents.OnPaymentSuccess(c.Request.Context(), identityFrom(c).UserID, req.Plan)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.view(rec))
}

func (s *Server) view(rec creditgate.Record) entitlementView {
	return entitlementView{Record: rec, Usage: rec.Usage(s.ents.Catalog())}
}
