package routers

import (
	"errors"
	"net/http"

	"skin-api/internal/ctx"
	"skin-api/internal/database"
	"skin-api/internal/handlers/analysis"
	"skin-api/internal/pipeline"
	"skin-api/internal/reasoning"
	"skin-api/internal/records"
	"skin-api/internal/shared"
	"skin-api/internal/vision"

	"github.com/labstack/echo/v4"
)

const auditURLPrefix = "/user_TempImage/"

type AnalysisRouter struct {
	ah *analysis.AnalysisHandler
}

// RegisterAnalysisRoutes mounts the analysis api on e. limiter guards every
// route that reaches the object store or the vision service. Routes only
// carry client cancellation; deadlines come from the vision and reasoning
// timeouts configured on each gateway.
func RegisterAnalysisRoutes(e *echo.Echo, ah *analysis.AnalysisHandler, limiter echo.MiddlewareFunc) {
	ar := AnalysisRouter{ah: ah}

	e.GET("/", ar.Index)
	api := e.Group("/api")
	api.POST("/save-image", ar.SaveImage)
	api.GET("/analyses/:id", ar.GetAnalysis)

	limited := api.Group("", limiter)
	limited.POST("/upload", ar.Upload)
	limited.POST("/analyze", ar.Analyze)
	limited.POST("/analyze/stream", ar.AnalyzeStream)
}

func (ar *AnalysisRouter) Index(cc echo.Context) error {
	return cc.JSON(http.StatusOK, map[string]string{"message": "Skin Analysis API is running"})
}

type SaveImageResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	ImagePath string `json:"image_path"`
	ImageURL  string `json:"image_url"`
}

func (ar *AnalysisRouter) SaveImage(cc echo.Context) error {
	c := cc.(*ctx.Context)
	img, err := readImage(c)
	if err != nil {
		return writeError(c, err)
	}
	saved, err := ar.ah.SaveImage(img)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, SaveImageResponse{
		Status:    "success",
		Message:   "image saved",
		ImagePath: saved.Path,
		ImageURL:  auditURLPrefix + saved.Name,
	})
}

type UploadResponse struct {
	Status   string          `json:"status"`
	ImageURL string          `json:"image_url"`
	Analysis vision.Findings `json:"analysis"`
}

func (ar *AnalysisRouter) Upload(cc echo.Context) error {
	c := cc.(*ctx.Context)
	img, err := readImage(c)
	if err != nil {
		return writeError(c, err)
	}
	out := ar.ah.Analyze(analysis.AnalyzeInput{
		Ctx:           c.Request().Context(),
		RequestID:     c.Reqid,
		Endpoint:      "upload",
		Image:         img,
		Log:           c.Log,
		SkipReasoning: true,
	})
	c.LogValues.ObjectName = out.Result.ObjectName
	if out.Error != nil {
		return writeError(c, out.Error)
	}
	return c.JSON(http.StatusOK, UploadResponse{
		Status:   "success",
		ImageURL: out.Result.ImageURL,
		Analysis: out.Result.Findings,
	})
}

type AnalyzeResponse struct {
	Status      string           `json:"status"`
	RequestID   string           `json:"request_id"`
	ImagePath   string           `json:"image_path,omitempty"`
	ImageURL    string           `json:"image_url"`
	Analysis    vision.Findings  `json:"analysis"`
	AIReasoning reasoning.Result `json:"ai_reasoning"`
}

func analyzeResponse(out *analysis.AnalyzeOutput) AnalyzeResponse {
	return AnalyzeResponse{
		Status:      "success",
		RequestID:   out.RequestID,
		ImagePath:   out.AuditPath,
		ImageURL:    out.Result.ImageURL,
		Analysis:    out.Result.Findings,
		AIReasoning: out.Result.Reasoning,
	}
}

func (ar *AnalysisRouter) Analyze(cc echo.Context) error {
	c := cc.(*ctx.Context)
	img, err := readImage(c)
	if err != nil {
		return writeError(c, err)
	}
	out := ar.ah.Analyze(analysis.AnalyzeInput{
		Ctx:       c.Request().Context(),
		RequestID: c.Reqid,
		Endpoint:  "analyze",
		Image:     img,
		Question:  c.FormValue("question"),
		Log:       c.Log,
	})
	c.LogValues.ObjectName = out.Result.ObjectName
	c.LogValues.ReasoningStatus = string(out.Result.Reasoning.Status)
	if out.Error != nil {
		return writeError(c, out.Error)
	}
	return c.JSON(http.StatusOK, analyzeResponse(out))
}

type fragmentEvent struct {
	Content string `json:"content"`
}

// AnalyzeStream forwards reasoning and answer fragments as SSE events, then
// ends with either a done event carrying the full result or an error event
func (ar *AnalysisRouter) AnalyzeStream(cc echo.Context) error {
	c := cc.(*ctx.Context)
	c.LogValues.Stream = true
	img, err := readImage(c)
	if err != nil {
		return writeError(c, err)
	}
	// Validation failures are still answered with a status code
	if err := pipeline.Validate(img); err != nil {
		return writeError(c, &pipeline.StageError{Stage: pipeline.StageValidate, Kind: pipeline.KindValidation, Err: err})
	}
	setupSSEHeaders(c)
	send := createStreamCallback(c)

	out := ar.ah.Analyze(analysis.AnalyzeInput{
		Ctx:       c.Request().Context(),
		RequestID: c.Reqid,
		Endpoint:  "analyze_stream",
		Image:     img,
		Question:  c.FormValue("question"),
		Log:       c.Log,
		StreamWriter: func(channel reasoning.Channel, fragment string) error {
			return sendEvent(send, string(channel), fragmentEvent{Content: fragment})
		},
	})
	c.LogValues.ObjectName = out.Result.ObjectName
	c.LogValues.ReasoningStatus = string(out.Result.Reasoning.Status)

	// Headers are already sent, errors only reach the client as events
	if out.Error != nil {
		c.LogValues.AddError(out.Error)
		c.LogValues.LogLevel = "ERROR"
		var serr *pipeline.StageError
		if errors.As(out.Error, &serr) {
			c.LogValues.Stage = string(serr.Stage)
			c.LogValues.Kind = string(serr.Kind)
		}
		if err := sendEvent(send, "error", errorBody(out.Error)); err != nil {
			c.LogValues.AddError(errors.Join(errors.New("failed writing error event"), err))
		}
		return nil
	}
	if err := sendEvent(send, "done", analyzeResponse(out)); err != nil {
		c.LogValues.AddError(errors.Join(errors.New("failed writing done event"), err))
		c.LogValues.LogLevel = "ERROR"
	}
	return nil
}

func (ar *AnalysisRouter) GetAnalysis(cc echo.Context) error {
	c := cc.(*ctx.Context)
	id := c.Param("id")
	rec, err := ar.ah.GetAnalysis(c.Request().Context(), id)
	switch {
	case errors.Is(err, database.ErrNotFound), errors.Is(err, records.ErrDisabled):
		c.LogValues.AddError(err)
		return c.JSON(http.StatusNotFound, shared.ErrorBody{Status: "error", Message: database.ErrNotFound.Error()})
	case err != nil:
		return writeError(c, errors.Join(shared.ErrInternalServerError, err))
	}
	return c.JSON(http.StatusOK, rec)
}
