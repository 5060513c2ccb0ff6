package control

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/yulincoder/Controller-Device/internal/kvs"
)

// response is the wire shape shared by every control endpoint. The
// namespace echoes the route; status carries the application-level code
// as a string, independent of the HTTP status.
type response struct {
	Namespace string `json:"namespace"`
	Status    string `json:"status,omitempty"`
	SN        string `json:"sn,omitempty"`
	Value     string `json:"value,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (s *Server) queryServiceVersion(c echo.Context) error {
	return c.JSON(http.StatusOK, response{
		Namespace: "/query/http_service_version",
		Value:     ServiceVersion,
	})
}

func (s *Server) queryDevicesNum(c echo.Context) error {
	n, err := s.store.ZCard(c.Request().Context(), kvs.NamespaceDevicesBorn)
	if err != nil {
		s.logger.Warn().Err(err).Msg("born set read failed")
		return c.JSON(http.StatusOK, response{
			Namespace: "/query/devices_num",
			Status:    "404",
			Error:     "no value",
		})
	}
	return c.JSON(http.StatusOK, response{
		Namespace: "/query/devices_num",
		Status:    "200",
		Value:     strconv.FormatInt(n, 10),
	})
}

func (s *Server) queryDevicesAliveNum(c echo.Context) error {
	n, err := s.store.ZCard(c.Request().Context(), kvs.NamespaceDevicesAlive)
	if err != nil {
		s.logger.Warn().Err(err).Msg("alive set read failed")
		return c.JSON(http.StatusOK, response{
			Namespace: "/query/devices_alive_num",
			Status:    "404",
			Error:     "no value",
		})
	}
	return c.JSON(http.StatusOK, response{
		Namespace: "/query/devices_alive_num",
		Status:    "200",
		Value:     strconv.FormatInt(n, 10),
	})
}

func (s *Server) queryDeviceIsAlive(c echo.Context) error {
	sn := c.Param("sn")

	value := "offline"
	if s.snIsAlive(c, sn) {
		value = "online"
	}
	return c.JSON(http.StatusOK, response{
		Namespace: "/query/device_is_alive",
		Status:    "200",
		SN:        sn,
		Value:     value,
	})
}

// snIsAlive treats a store error the same as an absent member: the caller
// only learns "offline", matching the read-only nature of the probe.
func (s *Server) snIsAlive(c echo.Context, sn string) bool {
	_, ok, err := s.store.ZRank(c.Request().Context(), kvs.NamespaceDevicesAlive, sn)
	if err != nil {
		s.logger.Warn().Err(err).Str("sn", sn).Msg("alive probe failed")
		return false
	}
	return ok
}
