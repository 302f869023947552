package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wakestake/internal/service"
)

// ReverseGeocode 把坐标转成地址，供配置页展示家的位置。
func (a *API) ReverseGeocode(c *gin.Context) {
	lat, okLat := parseFloatQuery(c, "lat")
	lng, okLng := parseFloatQuery(c, "lng")
	if !okLat || !okLng {
		respondError(c, http.StatusBadRequest, "invalid_coordinates")
		return
	}

	body, err := a.geocode.Reverse(c.Request.Context(), lat, lng)
	switch {
	case err == nil:
		c.Data(http.StatusOK, "application/json; charset=utf-8", body)
	case errors.Is(err, service.ErrInvalidCoordinates):
		respondError(c, http.StatusBadRequest, "invalid_coordinates")
	case errors.Is(err, service.ErrGeocodeUpstream):
		a.log.Warn("geocode upstream failed", "error", err)
		respondError(c, http.StatusBadGateway, "upstream_error")
	default:
		a.log.Error("geocode failed", "error", err)
		respondError(c, http.StatusInternalServerError, "fetch_failed")
	}
}
