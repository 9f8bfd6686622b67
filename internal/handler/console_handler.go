package handler

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/stemsi/kontrol-backend/internal/console"
	"github.com/stemsi/kontrol-backend/internal/console/export"
	"github.com/stemsi/kontrol-backend/internal/i18n"
	"github.com/stemsi/kontrol-backend/internal/model"
	"github.com/stemsi/kontrol-backend/internal/response"
	"github.com/stemsi/kontrol-backend/internal/validator"
)

const (
	maxKeyUpload = 2 << 20

	contentTypeCSV  = "text/csv; charset=utf-8"
	contentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	contentTypePDF  = "application/pdf"
)

// ConsoleOptions carries the presentation settings of the console.
type ConsoleOptions struct {
	PrintFontPath string
	Lang          string
}

// ConsoleHandler serves the instructor console.
type ConsoleHandler struct {
	agg  *console.Aggregator
	opts ConsoleOptions
	log  zerolog.Logger
}

// NewConsoleHandler creates a new ConsoleHandler.
func NewConsoleHandler(agg *console.Aggregator, opts ConsoleOptions, log zerolog.Logger) *ConsoleHandler {
	if opts.Lang == "" {
		opts.Lang = "ru"
	}
	return &ConsoleHandler{
		agg:  agg,
		opts: opts,
		log:  log.With().Str("component", "console_handler").Logger(),
	}
}

// List godoc
// POST /api/v1/console/list?page=&per_page=
// Fetches submitted records from the result service and applies the text query.
func (h *ConsoleHandler) List(c *gin.Context) {
	var req model.ConsoleListRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	visible, err := h.agg.Refresh(c.Request.Context(), model.ListFilter{
		Subject: req.Subject,
		Variant: req.Variant,
		Class:   req.Class,
		Limit:   req.Limit,
		Query:   req.Query,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	h.page(c, visible, i18n.Tp(c, "ListLoaded", len(h.agg.Items())))
}

// Filter godoc
// POST /api/v1/console/filter
// Re-applies the text query to the last fetched list without a round trip.
func (h *ConsoleHandler) Filter(c *gin.Context) {
	var req model.ConsoleFilterRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	visible := h.agg.Filter(req.Query)
	h.page(c, visible, i18n.Td(c, "ListFiltered", map[string]any{
		"Shown": len(visible),
		"Total": len(h.agg.Items()),
	}))
}

func (h *ConsoleHandler) page(c *gin.Context, items []model.ListItem, message string) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "0"))
	p, lo, hi := response.Paginate(len(items), page, perPage)
	response.SuccessWithPagination(c, http.StatusOK, gin.H{
		"items":   items[lo:hi],
		"message": message,
	}, &p)
}

// Get godoc
// GET /api/v1/console/results/:key
// Returns the stored payload of one record as the result service has it.
func (h *ConsoleHandler) Get(c *gin.Context) {
	raw, err := h.agg.Get(c.Request.Context(), c.Param("key"))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, raw)
}

// Autocheck godoc
// POST /api/v1/console/autocheck
// Regrades records against an uploaded key, the payload snapshot or the variant.
func (h *ConsoleHandler) Autocheck(c *gin.Context) {
	var req model.AutocheckRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	h.autocheck(c, req.Keys, []byte(req.AnswerKey))
}

// AutocheckUpload godoc
// POST /api/v1/console/autocheck/upload (multipart: keys, answer_key file)
// Same as Autocheck with the key given as a JSON file.
func (h *ConsoleHandler) AutocheckUpload(c *gin.Context) {
	fh, err := c.FormFile("answer_key")
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrFileRequired)
		return
	}
	if fh.Size > maxKeyUpload {
		response.Fail(c, http.StatusRequestEntityTooLarge, response.ErrFileTooLarge)
		return
	}
	f, err := fh.Open()
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrFileRequired)
		return
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxKeyUpload+1))
	if err != nil {
		respondError(c, err)
		return
	}

	var keys []string
	for _, k := range c.PostFormArray("keys") {
		for _, part := range strings.Split(k, ",") {
			if part = strings.TrimSpace(part); part != "" {
				keys = append(keys, part)
			}
		}
	}
	if len(keys) == 0 {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, map[string]string{"keys": "required"})
		return
	}
	h.autocheck(c, keys, data)
}

func (h *ConsoleHandler) autocheck(c *gin.Context, keys []string, uploadedKey []byte) {
	var results []console.CheckResult
	if len(keys) == 1 {
		// A single record that cannot be checked is an error, not a report.
		v, err := h.agg.Autocheck(c.Request.Context(), keys[0], uploadedKey)
		if err != nil {
			respondError(c, err)
			return
		}
		results = []console.CheckResult{{Key: keys[0], Verdict: &v}}
	} else {
		results = h.agg.AutocheckMany(c.Request.Context(), keys, uploadedKey)
	}

	checked := 0
	for _, r := range results {
		if r.Verdict != nil {
			checked++
		}
	}
	response.Success(c, http.StatusOK, gin.H{
		"results": results,
		"message": i18n.Tp(c, "AutocheckDone", checked),
	})
}

// Void godoc
// POST /api/v1/console/void
// Annuls records and returns the refreshed list.
func (h *ConsoleHandler) Void(c *gin.Context) {
	var req model.VoidRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	visible, err := h.agg.Void(c.Request.Context(), req.Keys)
	if err != nil {
		respondError(c, err)
		return
	}
	h.page(c, visible, i18n.Tp(c, "VoidDone", len(req.Keys)))
}

// ResetCode godoc
// POST /api/v1/console/reset-codes
// Mints a one-time reset code for one student's attempt.
func (h *ConsoleHandler) ResetCode(c *gin.Context) {
	var req model.ResetCodeRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	code, err := h.agg.RequestReset(c.Request.Context(), model.ResetScope{
		Subject: req.Subject,
		Variant: req.Variant,
		Class:   req.Class,
		FIO:     req.FIO,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{
		"code":       code.Code,
		"expires_at": code.ExpiresAt,
		"message":    i18n.Td(c, "ResetCodeIssued", map[string]any{"Code": code.Code}),
	})
}

// GetTimer godoc
// GET /api/v1/console/timer?subject=&variant=
func (h *ConsoleHandler) GetTimer(c *gin.Context) {
	subject := strings.TrimSpace(c.Query("subject"))
	if subject == "" {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, map[string]string{"subject": "required"})
		return
	}
	cfg, err := h.agg.TimerGet(c.Request.Context(), subject, c.Query("variant"))
	if err != nil {
		respondError(c, err)
		return
	}
	msg := i18n.T(c, "NoTimeLimit")
	if cfg.TimeLimitMinutes > 0 {
		msg = i18n.Td(c, "TimerLoaded", map[string]any{"Minutes": formatMinutes(cfg.TimeLimitMinutes)})
	}
	response.Success(c, http.StatusOK, gin.H{"timer": cfg, "message": msg})
}

// SetTimer godoc
// PUT /api/v1/console/timer
// Stores the instructor time limit. Zero clears it.
func (h *ConsoleHandler) SetTimer(c *gin.Context) {
	var req model.TimerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	cfg := model.TimerConfig{
		Subject:          strings.TrimSpace(req.Subject),
		Variant:          strings.TrimSpace(req.Variant),
		TimeLimitMinutes: req.TimeLimitMinutes,
	}
	if err := h.agg.TimerSet(c.Request.Context(), cfg); err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"timer": cfg, "message": i18n.T(c, "TimerSaved")})
}

// ExportCSV godoc
// GET /api/v1/console/export.csv[?report=1]
// The visible list, or the autocheck report with ?report=1.
func (h *ConsoleHandler) ExportCSV(c *gin.Context) {
	var buf bytes.Buffer
	var err error
	name := "results"
	if c.Query("report") != "" {
		name = "autocheck"
		err = export.WriteReportCSV(&buf, h.agg.Verdicts())
	} else {
		err = export.WriteCSV(&buf, h.agg.Visible())
	}
	if err != nil {
		respondError(c, err)
		return
	}
	h.attachment(c, name+".csv", contentTypeCSV, buf.Bytes())
}

// ExportXLSX godoc
// GET /api/v1/console/export.xlsx
// The visible list plus the autocheck sheet when records were checked.
func (h *ConsoleHandler) ExportXLSX(c *gin.Context) {
	var buf bytes.Buffer
	if err := export.WriteXLSX(c.Request.Context(), &buf, h.agg.Visible(), h.agg.Verdicts()); err != nil {
		respondError(c, err)
		return
	}
	h.attachment(c, "results.xlsx", contentTypeXLSX, buf.Bytes())
}

// ReportPDF godoc
// GET /api/v1/console/report.pdf
// Printable report of every checked record.
func (h *ConsoleHandler) ReportPDF(c *gin.Context) {
	h.writePDF(c, "report.pdf", h.agg.Verdicts())
}

// ReportHTML godoc
// GET /api/v1/console/report.html
func (h *ConsoleHandler) ReportHTML(c *gin.Context) {
	h.writeHTML(c, h.agg.Verdicts())
}

// PrintPDF godoc
// GET /api/v1/console/results/:key/print.pdf
// Autochecks one record and renders it as PDF.
func (h *ConsoleHandler) PrintPDF(c *gin.Context) {
	v, ok := h.check(c)
	if !ok {
		return
	}
	h.writePDF(c, "result-"+safeFileName(v.Key)+".pdf", []console.Verdict{v})
}

// PrintHTML godoc
// GET /api/v1/console/results/:key/print.html
func (h *ConsoleHandler) PrintHTML(c *gin.Context) {
	v, ok := h.check(c)
	if !ok {
		return
	}
	h.writeHTML(c, []console.Verdict{v})
}

func (h *ConsoleHandler) check(c *gin.Context) (console.Verdict, bool) {
	v, err := h.agg.Autocheck(c.Request.Context(), c.Param("key"), nil)
	if err != nil {
		respondError(c, err)
		return console.Verdict{}, false
	}
	return v, true
}

func (h *ConsoleHandler) writePDF(c *gin.Context, name string, verdicts []console.Verdict) {
	var buf bytes.Buffer
	err := export.WritePDF(c.Request.Context(), &buf, verdicts, export.PDFOptions{FontPath: h.opts.PrintFontPath})
	if err != nil {
		respondError(c, err)
		return
	}
	h.attachment(c, name, contentTypePDF, buf.Bytes())
}

func (h *ConsoleHandler) writeHTML(c *gin.Context, verdicts []console.Verdict) {
	lang := c.DefaultQuery("lang", h.opts.Lang)
	var buf bytes.Buffer
	if err := export.WriteHTML(c.Request.Context(), &buf, verdicts, "", lang); err != nil {
		respondError(c, err)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

func (h *ConsoleHandler) attachment(c *gin.Context, name, contentType string, data []byte) {
	h.log.Info().Str("file", name).Int("bytes", len(data)).Msg("Export generated")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s-%s"`, time.Now().Format("20060102-1504"), name))
	c.Data(http.StatusOK, contentType, data)
}

func formatMinutes(m float64) string {
	return strconv.FormatFloat(m, 'f', -1, 64)
}

// safeFileName keeps letters, digits, dashes and underscores.
func safeFileName(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "record"
	}
	return b.String()
}
