package handlers

import (
    "encoding/json"
    "fmt"
    "net/http"
    "path/filepath"
    "strconv"
    "strings"
    "time"

    "github.com/gin-gonic/gin"

    "github.com/feichai0017/document-extractor/internal/service/document"
    "github.com/feichai0017/document-extractor/pkg/converters"
    "github.com/feichai0017/document-extractor/pkg/logger"
)

type DocumentHandler struct {
    service document.DocumentProcessor
    logger  logger.ContextLogger
}

type ProcessResponse struct {
    TaskID    string `json:"taskId"`
    Status    string `json:"status"`
    Filename  string `json:"filename"`
    FileSize  int64  `json:"fileSize"`
    FileType  string `json:"fileType"`
    CreatedAt string `json:"createdAt"`
}

func NewDocumentHandler(service document.DocumentProcessor, log logger.Logger) *DocumentHandler {
    return &DocumentHandler{
        service: service,
        logger:  logger.NewContextLogger(log.Named("documents")),
    }
}

// ProcessDocument queues one uploaded file for extraction.
func (h *DocumentHandler) ProcessDocument(c *gin.Context) {
    log := h.logger.FromContext(c.Request.Context())
    overrides, err := parseOverrides(c)
    if err != nil {
        handleError(c, log, http.StatusBadRequest, "Invalid options", err)
        return
    }

    file, header, err := c.Request.FormFile("file")
    if err != nil {
        handleError(c, log, http.StatusBadRequest, "Invalid file upload", err)
        return
    }
    defer file.Close()

    task, err := h.service.ProcessFile(c.Request.Context(), file, header, overrides)
    if err != nil {
        handleError(c, log, statusFor(err), "Failed to process file", err)
        return
    }

    c.JSON(http.StatusAccepted, ProcessResponse{
        TaskID:    task.ID,
        Status:    string(task.Status),
        Filename:  header.Filename,
        FileSize:  header.Size,
        FileType:  filepath.Ext(header.Filename),
        CreatedAt: task.CreatedAt.Format(time.RFC3339),
    })
}

func (h *DocumentHandler) ProcessBatch(c *gin.Context) {
    log := h.logger.FromContext(c.Request.Context())
    overrides, err := parseOverrides(c)
    if err != nil {
        handleError(c, log, http.StatusBadRequest, "Invalid options", err)
        return
    }

    form, err := c.MultipartForm()
    if err != nil {
        handleError(c, log, http.StatusBadRequest, "Invalid form data", err)
        return
    }
    files := form.File["files"]
    if len(files) == 0 {
        handleError(c, log, http.StatusBadRequest, "No files provided", nil)
        return
    }

    tasks, err := h.service.ProcessBatch(c.Request.Context(), files, overrides)
    if err != nil {
        handleError(c, log, statusFor(err), "Failed to process files", err)
        return
    }

    responses := make([]ProcessResponse, len(tasks))
    for i, task := range tasks {
        size, _ := strconv.ParseInt(task.Metadata["size"], 10, 64)
        responses[i] = ProcessResponse{
            TaskID:    task.ID,
            Status:    string(task.Status),
            Filename:  task.Metadata["filename"],
            FileSize:  size,
            FileType:  task.Metadata["type"],
            CreatedAt: task.CreatedAt.Format(time.RFC3339),
        }
    }

    c.JSON(http.StatusAccepted, gin.H{
        "message": fmt.Sprintf("Processing %d documents", len(files)),
        "tasks":   responses,
    })
}

func (h *DocumentHandler) GetStatus(c *gin.Context) {
    log := h.logger.FromContext(c.Request.Context())
    taskID := c.Param("taskId")

    task, err := h.service.GetProcessingStatus(c.Request.Context(), taskID)
    if err != nil {
        handleError(c, log, statusFor(err), "Failed to get status", err)
        return
    }

    resp := gin.H{
        "taskId":    task.ID,
        "status":    string(task.Status),
        "progress":  task.Progress,
        "error":     task.Error,
        "createdAt": task.CreatedAt.Format(time.RFC3339),
    }
    if !task.UpdatedAt.IsZero() {
        resp["updatedAt"] = task.UpdatedAt.Format(time.RFC3339)
    }
    c.JSON(http.StatusOK, resp)
}

// DownloadResult serves the stored result as json (default), text or csv.
func (h *DocumentHandler) DownloadResult(c *gin.Context) {
    log := h.logger.FromContext(c.Request.Context())
    taskID := c.Param("taskId")
    format := strings.ToLower(c.DefaultQuery("format", converters.FormatJSON))
    if err := checkFormat(format); err != nil {
        handleError(c, log, http.StatusBadRequest, "Invalid format", err)
        return
    }

    doc, err := h.service.GetProcessedDocument(c.Request.Context(), taskID)
    if err != nil {
        handleError(c, log, statusFor(err), "Failed to get result", err)
        return
    }

    var (
        body        []byte
        contentType string
    )
    if format == converters.FormatJSON {
        body, err = json.MarshalIndent(doc, "", "  ")
        contentType = "application/json; charset=utf-8"
    } else {
        body, contentType, err = converters.Export(format, doc.Result(), doc.Metadata)
    }
    if err != nil {
        handleError(c, log, http.StatusInternalServerError, "Failed to export result", err)
        return
    }

    setResultHeaders(c, doc.Result())
    c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=result_%s.%s", taskID, extensionFor(format)))
    c.Data(http.StatusOK, contentType, body)
}

func (h *DocumentHandler) CancelTask(c *gin.Context) {
    log := h.logger.FromContext(c.Request.Context())
    taskID := c.Param("taskId")

    if err := h.service.CancelTask(c.Request.Context(), taskID); err != nil {
        handleError(c, log, statusFor(err), "Failed to cancel task", err)
        return
    }

    c.JSON(http.StatusOK, gin.H{
        "message": "Task cancelled successfully",
        "taskId":  taskID,
    })
}

// parseOverrides reads the optional "ocr" and "language" form or query
// values.
func parseOverrides(c *gin.Context) (document.Overrides, error) {
    var o document.Overrides
    if v := c.Request.FormValue("ocr"); v != "" {
        enabled, err := strconv.ParseBool(v)
        if err != nil {
            return o, fmt.Errorf("invalid ocr value %q", v)
        }
        o.OCREnabled = &enabled
    }
    o.Language = c.Request.FormValue("language")
    return o, nil
}

func checkFormat(format string) error {
    switch format {
    case converters.FormatJSON, converters.FormatText, "txt", converters.FormatCSV:
        return nil
    }
    return fmt.Errorf("unsupported format %q, expected json, text or csv", format)
}

func extensionFor(format string) string {
    switch format {
    case converters.FormatText, "txt":
        return "txt"
    case converters.FormatCSV:
        return "csv"
    default:
        return "json"
    }
}
