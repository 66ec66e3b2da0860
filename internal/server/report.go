package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/payrail/internal/report"
)

func (s *Server) RevenueReport(c *gin.Context) {
	var query struct {
		From     string `form:"from"`
		To       string `form:"to"`
		Currency string `form:"currency"`
		Gateway  string `form:"gateway"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	from, err := parseOptionalTime(query.From)
	if err != nil {
		AbortWithError(c, newValidationError("from", "invalid_from", "invalid from"))
		return
	}
	to, err := parseOptionalTime(query.To)
	if err != nil {
		AbortWithError(c, newValidationError("to", "invalid_to", "invalid to"))
		return
	}

	rows, err := s.reportSvc.Revenue(c.Request.Context(), report.Filter{
		From:     from,
		To:       to,
		Currency: strings.ToUpper(strings.TrimSpace(query.Currency)),
		Gateway:  strings.ToLower(strings.TrimSpace(query.Gateway)),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": rows})
}

func parseOptionalTime(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	utc := parsed.UTC()
	return &utc, nil
}
