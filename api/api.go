// Copyright 2018 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package api implements the HTTP interface of the coverage viewer: the
// overview query endpoint returning plot coordinates and the coverage view
// page.
package api

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/googlegenomics/coviz/internal/analytics"
	"github.com/googlegenomics/coviz/internal/genomics"
	"github.com/googlegenomics/coviz/internal/metrics"
	"github.com/googlegenomics/coviz/overview"
	"github.com/googlegenomics/coviz/sample"
)

const (
	overviewPath = "/_getoverviewcov"
	samplePath   = "/_sample"

	requestIDHeader = "X-Request-Id"
)

//go:embed templates/cov.html
var coverageTemplate string

// DefaultCallRegion is the call highlighted on the coverage view when none is
// configured.
var DefaultCallRegion = genomics.Region{Chromosome: "1", Start: 1011000, End: 1015000}

// SampleFunc returns the metadata of the displayed sample.
type SampleFunc func(context.Context) (sample.Info, error)

// Server provides the coverage viewer endpoints.  Must be created with
// NewServer.
type Server struct {
	overview   *overview.Service
	sample     SampleFunc
	callRegion genomics.Region
	metrics    *metrics.Metrics
}

// NewServer returns a new Server answering overview queries with service and
// reading sample metadata with loadSample.  m may be nil.
func NewServer(service *overview.Service, loadSample SampleFunc, m *metrics.Metrics) *Server {
	return &Server{
		overview:   service,
		sample:     loadSample,
		callRegion: DefaultCallRegion,
		metrics:    m,
	}
}

// SetCallRegion sets the call highlighted on the coverage view.
func (server *Server) SetCallRegion(region genomics.Region) {
	server.callRegion = region
}

// Export registers the endpoints with router.
func (server *Server) Export(router *gin.Engine) {
	router.Use(requestID, forwardOrigin)
	router.SetHTMLTemplate(template.Must(template.New("cov.html").Parse(coverageTemplate)))

	router.GET(overviewPath, server.serveOverview)
	router.GET("/", server.serveCoverageView)
	router.POST("/", server.serveCoverageView)
	router.GET(samplePath, server.serveSample)
	router.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	if server.metrics != nil {
		router.GET("/metrics", gin.WrapH(server.metrics.Handler()))
	}
}

func (server *Server) serveOverview(c *gin.Context) {
	track := analytics.TrackerFromContext(c.Request.Context())
	track(analytics.RequestReceived())

	req, err := parseOverviewRequest(c)
	if err != nil {
		server.fail(c, track, newInvalidInputError("parsing parameters", err))
		return
	}

	response, err := server.overview.Overview(c.Request.Context(), req)
	if err != nil {
		server.fail(c, track, newOverviewError(err))
		return
	}

	writeJSON(c, http.StatusOK, response)
	server.metrics.ObserveRequest("ok")
	track(analytics.ResponseSent(response.Chrom, (len(response.Data)+len(response.BAF))/3))
}

func (server *Server) fail(c *gin.Context, track func(analytics.Hit), err error) {
	outcome := "Internal"
	if err, ok := err.(*apiError); ok {
		outcome = err.name
	}
	server.metrics.ObserveRequest(outcome)
	track(analytics.RequestFailed(outcome))
	writeError(c, err)
}

// parseOverviewRequest reads the query parameters, using the defaults of
// overview.DefaultRequest for absent ones.
func parseOverviewRequest(c *gin.Context) (overview.Request, error) {
	req := overview.DefaultRequest()
	req.Region = c.DefaultQuery("region", req.Region)

	params := []struct {
		name  string
		value *float64
	}{
		{"median", &req.Median},
		{"xpos", &req.XPos},
		{"ypos", &req.YPos},
		{"boxHeight", &req.BoxHeight},
		{"y_margin", &req.YMargin},
		{"x_ampl", &req.XAmplitude},
		{"extra_box_width", &req.ExtraBoxWidth},
	}
	for _, param := range params {
		raw, ok := c.GetQuery(param.name)
		if !ok {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return overview.Request{}, fmt.Errorf("%s: invalid number %q", param.name, raw)
		}
		*param.value = v
	}
	return req, nil
}

type coverageView struct {
	Title              string
	Median             float64
	Chrom              string
	Start, End         string
	CallChrom          string
	CallStart, CallEnd int64
}

func (server *Server) serveCoverageView(c *gin.Context) {
	input := c.PostForm("region")
	if input == "" {
		input = c.DefaultQuery("region", overview.DefaultRequest().Region)
	}
	region, err := genomics.ParseRegion(input)
	if err != nil {
		writeError(c, newInvalidRangeError(err))
		return
	}

	info, err := server.sample(c.Request.Context())
	if err != nil {
		writeError(c, fmt.Errorf("loading sample metadata: %v", err))
		return
	}

	view := coverageView{
		Title:     info.Name,
		Median:    info.MedianDepth,
		Chrom:     region.Chromosome,
		Start:     strconv.FormatInt(region.Start, 10),
		End:       strconv.FormatInt(region.End, 10),
		CallChrom: server.callRegion.Chromosome,
		CallStart: server.callRegion.Start,
		CallEnd:   server.callRegion.End,
	}
	if region.Unbounded {
		view.End = genomics.Unbounded
	}
	c.HTML(http.StatusOK, "cov.html", view)
}

func (server *Server) serveSample(c *gin.Context) {
	info, err := server.sample(c.Request.Context())
	if err != nil {
		writeError(c, fmt.Errorf("loading sample metadata: %v", err))
		return
	}
	writeJSON(c, http.StatusOK, info)
}

// requestID makes sure every request and response carries an ID.
func requestID(c *gin.Context) {
	id := c.GetHeader(requestIDHeader)
	if id == "" {
		id = uuid.New().String()
		c.Request.Header.Set(requestIDHeader, id)
	}
	c.Header(requestIDHeader, id)
	c.Next()
}

func forwardOrigin(c *gin.Context) {
	if origin := c.GetHeader("Origin"); origin != "" {
		c.Header("Access-Control-Allow-Origin", origin)
	}
	c.Next()
}

// apiError is used to capture errors that have been defined in the API.
type apiError struct {
	name  string
	code  int
	cause error
}

func (err *apiError) Error() string {
	return fmt.Sprintf("%s (%d): %v", err.name, err.code, err.cause)
}

func newApiError(name string, code int, context string, err error) error {
	return &apiError{name, code, fmt.Errorf("%s: %v", context, err)}
}

func newInvalidInputError(context string, err error) error {
	return newApiError("InvalidInput", http.StatusBadRequest, context, err)
}

func newInvalidRangeError(err error) error {
	return &apiError{"InvalidRange", http.StatusRequestedRangeNotSatisfiable, err}
}

func newDataUnavailableError(err error) error {
	return &apiError{"DataUnavailable", http.StatusNotFound, err}
}

func newNotFoundError(context string, err error) error {
	return newApiError("NotFound", http.StatusNotFound, context, err)
}

// newOverviewError maps the errors returned by overview.Service.Overview to
// API errors.
func newOverviewError(err error) error {
	var unavailable *overview.DataUnavailableError
	switch {
	case errors.Is(err, genomics.ErrInvalidRegion):
		return newInvalidRangeError(err)
	case errors.Is(err, overview.ErrInvalidInput):
		return newInvalidInputError("checking parameters", err)
	case errors.As(err, &unavailable):
		return newDataUnavailableError(err)
	case errors.Is(err, overview.ErrNotFound):
		return newNotFoundError("mapping records", err)
	}
	return err
}

// writeError writes either a JSON object or bare HTTP error describing err to
// c.  A JSON object is written only when the error has a name and code defined
// by the API.
func writeError(c *gin.Context, err error) {
	if err, ok := err.(*apiError); ok {
		writeJSON(c, err.code, map[string]interface{}{
			"error":   err.name,
			"message": fmt.Sprintf("%s: %v", http.StatusText(err.code), err.cause),
		})
		return
	}

	log.Printf("Request %s failed: %v", c.Writer.Header().Get(requestIDHeader), err)
	c.String(http.StatusInternalServerError, "%s: %v", http.StatusText(http.StatusInternalServerError), err)
}

func writeJSON(c *gin.Context, code int, v interface{}) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	enc := json.NewEncoder(c.Writer)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}
