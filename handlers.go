package main

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"parkingbolid/pkg/city"
	"parkingbolid/pkg/detect"
	"parkingbolid/pkg/imagery"
	"parkingbolid/pkg/payment"
	"parkingbolid/pkg/refdata"
	"parkingbolid/pkg/scan"
	"parkingbolid/pkg/selection"
	"parkingbolid/pkg/store"
	"parkingbolid/pkg/vehicles"
	"parkingbolid/process/scanner"
)

const noticeVehiclesNotSaved = "Your vehicles could not be saved."

var errBadRequest = errors.New("bad request")

func (s *Server) setupRoutes(r *gin.Engine) {
	r.GET("/health", s.healthHandler)

	r.GET("/cities", s.listCitiesHandler)
	r.GET("/cities/nearest", s.nearestCityHandler)
	r.GET("/cities/:name/zones", s.cityZonesHandler)
	r.GET("/cities/:name/payzones", s.cityPayZonesHandler)

	r.GET("/selection", s.getSelectionHandler)
	r.PUT("/selection", s.putSelectionHandler)

	r.POST("/scans", s.createScanHandler)
	r.GET("/scans/:id", s.getScanHandler)
	r.PATCH("/scans/:id", s.reviewScanHandler)
	r.POST("/scans/:id/crop", s.cropScanHandler)
	r.POST("/scans/:id/recognize", s.recognizeScanHandler)
	r.POST("/scans/:id/confirm", s.confirmScanHandler)
	r.DELETE("/scans/:id", s.deleteScanHandler)

	r.GET("/vehicles", s.listVehiclesHandler)
	r.POST("/vehicles", s.addVehicleHandler)
	r.PUT("/vehicles/:index", s.updateVehicleHandler)
	r.DELETE("/vehicles/:index", s.deleteVehicleHandler)
	r.POST("/vehicles/:index/select", s.selectVehicleHandler)

	r.POST("/payments/sms", s.smsPaymentHandler)
}

func (s *Server) healthHandler(c *gin.Context) {
	catalog, _ := s.reference()
	c.JSON(http.StatusOK, gin.H{"status": "ok", "cities": len(catalog.Cities())})
}

func (s *Server) listCitiesHandler(c *gin.Context) {
	c.JSON(http.StatusOK, successResponse(s.selection.SearchCities(c.Query("q"))))
}

// nearestCityHandler finds the city closest to lat/lon and pre-selects it
// when the user has not picked one yet.
func (s *Server) nearestCityHandler(c *gin.Context) {
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lon, errLon := strconv.ParseFloat(c.Query("lon"), 64)
	if errLat != nil || errLon != nil {
		c.JSON(http.StatusBadRequest, errorResponse("lat and lon must be numbers"))
		return
	}
	at := city.Coordinates{Latitude: lat, Longitude: lon}
	catalog, _ := s.reference()
	detector := city.NewNearestCityDetector(catalog, city.FixedLocator(at), s.cfg.Scan.LocateTimeout, s.log)

	var found *refdata.City
	if s.selection.AutoDetect(c.Request.Context(), detector) {
		s.selection.Wait()
		found = s.selection.Detected()
	} else {
		found = detector.Detect(c.Request.Context())
	}
	if found == nil {
		c.JSON(http.StatusNotFound, errorResponse("no city with known coordinates"))
		return
	}
	out := gin.H{"city": found, "selected": s.selection.City()}
	if found.HasCoordinates() {
		out["distance_km"] = city.Distance(at, city.Coordinates{Latitude: *found.Latitude, Longitude: *found.Longitude})
	}
	c.JSON(http.StatusOK, successResponse(out))
}

func (s *Server) cityZonesHandler(c *gin.Context) {
	catalog, resolver := s.reference()
	name := c.Param("name")
	if _, ok := catalog.City(name); !ok {
		s.handleError(c, refdata.ErrUnknownCity)
		return
	}
	c.JSON(http.StatusOK, successResponse(resolver.GetZonesForCity(name)))
}

func (s *Server) cityPayZonesHandler(c *gin.Context) {
	catalog, _ := s.reference()
	name := c.Param("name")
	if _, ok := catalog.City(name); !ok {
		s.handleError(c, refdata.ErrUnknownCity)
		return
	}
	c.JSON(http.StatusOK, successResponse(catalog.PayZones(name)))
}

func (s *Server) selectionView() gin.H {
	return gin.H{
		"city":      s.selection.City(),
		"zone":      s.selection.Zone(),
		"zones":     s.selection.CityZones(),
		"detecting": s.selection.Detecting(),
	}
}

func (s *Server) getSelectionHandler(c *gin.Context) {
	c.JSON(http.StatusOK, successResponse(s.selectionView()))
}

func (s *Server) putSelectionHandler(c *gin.Context) {
	// an empty city clears the selection, so only presence is required
	var req struct {
		City   *string `json:"city" binding:"required_without=ZoneID"`
		ZoneID *string `json:"zone_id" binding:"required_without=City"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	if req.City != nil {
		if _, err := s.selection.SelectCity(*req.City); err != nil {
			s.handleError(c, err)
			return
		}
	}
	if req.ZoneID != nil {
		if _, err := s.selection.SelectZone(*req.ZoneID); err != nil {
			s.handleError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, successResponse(s.selectionView()))
}

// createScanHandler stores the uploaded photo and runs recognition on it.
// A failed recognition keeps the scan so the image can be cropped and
// recognized again.
func (s *Server) createScanHandler(c *gin.Context) {
	file, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("image missing"))
		return
	}
	if limit := s.cfg.Upload.MaxSize; limit > 0 && file.Size > limit {
		c.JSON(http.StatusBadRequest, errorResponse("image too large"))
		return
	}
	if !scanner.IsSupportedExt(file.Filename) {
		c.JSON(http.StatusBadRequest, errorResponse("unsupported image type"))
		return
	}
	var regions detect.Static
	if raw := c.PostForm("regions"); raw != "" {
		if regions, err = detect.ParseRegions([]byte(raw)); err != nil {
			c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
			return
		}
	}

	dir := filepath.Join(s.cfg.Upload.Dir, "scans")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.handleError(c, err)
		return
	}
	path := filepath.Join(dir, uuid.NewString()+strings.ToLower(filepath.Ext(file.Filename)))
	if err := c.SaveUploadedFile(file, path); err != nil {
		s.handleError(c, err)
		return
	}

	e, err := s.newScan(c.Request.Context(), path, regions)
	if err != nil {
		_ = os.Remove(path)
		s.handleError(c, err)
		return
	}
	if _, err := e.pipeline.Load(imagery.ImageRef(path)); err != nil {
		s.handleError(c, err)
		return
	}
	s.runRecognition(c, e, http.StatusCreated)
}

func (s *Server) runRecognition(c *gin.Context, e *scanEntry, okStatus int) {
	_, err := e.pipeline.Recognize(c.Request.Context())
	snap := e.pipeline.Snapshot()
	switch {
	case err == nil:
		c.JSON(okStatus, scanResponse(snap, e.notices.drain()))
	case snap.State == scan.RecognitionFailed && !errors.Is(err, scan.ErrStale):
		resp := scanResponse(snap, e.notices.drain())
		resp["error"] = err.Error()
		c.JSON(http.StatusUnprocessableEntity, resp)
	default:
		s.handleError(c, err)
	}
}

func scanResponse(snap scan.Snapshot, notices []string) gin.H {
	return gin.H{"data": snap, "notices": notices}
}

func (s *Server) getScanHandler(c *gin.Context) {
	e, err := s.lookupScan(c.Param("id"))
	if err != nil {
		s.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, scanResponse(e.pipeline.Snapshot(), e.notices.drain()))
}

// reviewScanHandler applies the user's picks. City goes first so the zone
// is validated against the chosen city.
func (s *Server) reviewScanHandler(c *gin.Context) {
	e, err := s.lookupScan(c.Param("id"))
	if err != nil {
		s.handleError(c, err)
		return
	}
	var req struct {
		Plate *string `json:"plate"`
		Zone  *string `json:"zone"`
		City  *string `json:"city"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	ctx := c.Request.Context()
	if req.City != nil {
		if _, err := e.pipeline.SelectCity(ctx, *req.City); err != nil {
			s.handleError(c, err)
			return
		}
	}
	if req.Plate != nil {
		if _, err := e.pipeline.SelectPlate(ctx, *req.Plate); err != nil {
			s.handleError(c, err)
			return
		}
	}
	if req.Zone != nil {
		if _, err := e.pipeline.SelectZone(ctx, *req.Zone); err != nil {
			s.handleError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, scanResponse(e.pipeline.Snapshot(), e.notices.drain()))
}

func (s *Server) cropScanHandler(c *gin.Context) {
	e, err := s.lookupScan(c.Param("id"))
	if err != nil {
		s.handleError(c, err)
		return
	}
	var req struct {
		X      *int `json:"x" binding:"required"`
		Y      *int `json:"y" binding:"required"`
		Width  int  `json:"width" binding:"required,gt=0"`
		Height int  `json:"height" binding:"required,gt=0"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	rect := imagery.Rect{X: *req.X, Y: *req.Y, Width: req.Width, Height: req.Height}
	snap, err := e.pipeline.EditImage(c.Request.Context(), rect)
	if err != nil {
		if errors.Is(err, scan.ErrInvalidState) || errors.Is(err, scan.ErrClosed) || errors.Is(err, scan.ErrStale) {
			s.handleError(c, err)
			return
		}
		resp := scanResponse(e.pipeline.Snapshot(), e.notices.drain())
		resp["error"] = err.Error()
		c.JSON(http.StatusUnprocessableEntity, resp)
		return
	}
	c.JSON(http.StatusOK, scanResponse(snap, e.notices.drain()))
}

func (s *Server) recognizeScanHandler(c *gin.Context) {
	e, err := s.lookupScan(c.Param("id"))
	if err != nil {
		s.handleError(c, err)
		return
	}
	s.runRecognition(c, e, http.StatusOK)
}

// confirmScanHandler returns the user's final pick and ends the scan; its
// stored image is removed.
func (s *Server) confirmScanHandler(c *gin.Context) {
	e, err := s.lookupScan(c.Param("id"))
	if err != nil {
		s.handleError(c, err)
		return
	}
	conf, err := e.pipeline.Confirm(c.Request.Context())
	if err != nil {
		s.handleError(c, err)
		return
	}
	notices := e.notices.drain()
	if err := s.dropScan(c.Param("id")); err != nil && !errors.Is(err, errUnknownScan) {
		s.log.Warn().Err(err).Msg("drop confirmed scan")
	}
	c.JSON(http.StatusOK, gin.H{"data": conf, "notices": notices})
}

func (s *Server) deleteScanHandler(c *gin.Context) {
	if err := s.dropScan(c.Param("id")); err != nil {
		s.handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) vehiclesView() gin.H {
	out := gin.H{"vehicles": s.vehicles.List(), "selected": nil}
	if v, ok := s.vehicles.Selected(); ok {
		out["selected"] = v
	}
	return out
}

func (s *Server) listVehiclesHandler(c *gin.Context) {
	c.JSON(http.StatusOK, successResponse(s.vehiclesView()))
}

func (s *Server) addVehicleHandler(c *gin.Context) {
	var req vehicles.Vehicle
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	v, err := s.vehicles.Add(c.Request.Context(), req)
	s.vehicleResult(c, http.StatusCreated, &v, err)
}

func (s *Server) updateVehicleHandler(c *gin.Context) {
	index, err := parseIndex(c.Param("index"))
	if err != nil {
		s.handleError(c, err)
		return
	}
	var req vehicles.Vehicle
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	v, err := s.vehicles.Update(c.Request.Context(), index, req)
	s.vehicleResult(c, http.StatusOK, &v, err)
}

func (s *Server) deleteVehicleHandler(c *gin.Context) {
	index, err := parseIndex(c.Param("index"))
	if err != nil {
		s.handleError(c, err)
		return
	}
	err = s.vehicles.Delete(c.Request.Context(), index)
	s.vehicleResult(c, http.StatusOK, nil, err)
}

func (s *Server) selectVehicleHandler(c *gin.Context) {
	index, err := parseIndex(c.Param("index"))
	if err != nil {
		s.handleError(c, err)
		return
	}
	if _, err := s.vehicles.Select(index); err != nil {
		s.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(s.vehiclesView()))
}

// vehicleResult answers a registry change. A change that could not be
// saved still took effect for this session and is reported as a notice.
func (s *Server) vehicleResult(c *gin.Context, status int, v *vehicles.Vehicle, err error) {
	notices := []string{}
	if err != nil {
		if !errors.Is(err, store.ErrPersistence) {
			s.handleError(c, err)
			return
		}
		notices = append(notices, noticeVehiclesNotSaved)
	}
	view := s.vehiclesView()
	if v != nil {
		view["vehicle"] = *v
	}
	c.JSON(status, gin.H{"data": view, "notices": notices})
}

// smsPaymentHandler composes the SMS for paying a zone with a plate.
// Missing fields fall back to the current selection and the selected
// vehicle; an empty body uses both.
func (s *Server) smsPaymentHandler(c *gin.Context) {
	var req struct {
		City   string `json:"city"`
		ZoneID string `json:"zone_id"`
		Plate  string `json:"plate"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
			return
		}
	}

	zone := s.selection.Zone()
	if id := strings.TrimSpace(req.ZoneID); id != "" {
		cityName := strings.TrimSpace(req.City)
		if cityName == "" {
			if sel := s.selection.City(); sel != nil {
				cityName = sel.Name
			}
		}
		if cityName == "" {
			s.handleError(c, selection.ErrNoCity)
			return
		}
		catalog, _ := s.reference()
		z, err := catalog.PayZone(cityName, id)
		if err != nil {
			s.handleError(c, err)
			return
		}
		zone = &z
	}

	var vehicle *vehicles.Vehicle
	if strings.TrimSpace(req.Plate) != "" {
		v, err := vehicles.Validate(vehicles.Vehicle{Plate: req.Plate})
		if err != nil {
			s.handleError(c, err)
			return
		}
		vehicle = &v
	} else if v, ok := s.vehicles.Selected(); ok {
		vehicle = &v
	}

	intent, err := payment.Compose(zone, vehicle)
	if err != nil {
		s.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(intent))
}

func parseIndex(s string) (int, error) {
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, errBadRequest
	}
	return i, nil
}

func (s *Server) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, vehicles.ErrValidation),
		errors.Is(err, payment.ErrMissingSelection),
		errors.Is(err, selection.ErrNoCity),
		errors.Is(err, scan.ErrNoImage):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
	case errors.Is(err, errUnknownScan),
		errors.Is(err, refdata.ErrUnknownCity),
		errors.Is(err, refdata.ErrUnknownZone),
		errors.Is(err, vehicles.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse(err.Error()))
	case errors.Is(err, scan.ErrInvalidState),
		errors.Is(err, scan.ErrStale),
		errors.Is(err, scan.ErrClosed):
		c.JSON(http.StatusConflict, errorResponse(err.Error()))
	case errors.Is(err, scan.ErrEmptyRecognition):
		c.JSON(http.StatusUnprocessableEntity, errorResponse(err.Error()))
	default:
		s.log.Error().Err(err).Str("path", c.FullPath()).Msg("handler error")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
	}
}

func successResponse(data any) gin.H {
	return gin.H{"data": data}
}

func errorResponse(message string) gin.H {
	return gin.H{"error": message}
}
