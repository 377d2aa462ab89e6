package endpoints

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/semaphore"

	"github.com/jackzampolin/tally/internal/api"
	"github.com/jackzampolin/tally/internal/ingest"
	"github.com/jackzampolin/tally/internal/pipeline"
	"github.com/jackzampolin/tally/internal/svcctx"
	"github.com/jackzampolin/tally/internal/types"
)

// TaskResponse is the result envelope for pipeline endpoints.
// Data is set on SUCCESS, Error on FAILED.
type TaskResponse struct {
	TaskID string `json:"task_id,omitempty"`
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

// limiter bounds concurrent pipeline work. A nil semaphore means no limit.
type limiter struct {
	sem *semaphore.Weighted
}

// acquire blocks for a slot until the request is cancelled. The returned
// release func is always safe to call.
func (l limiter) acquire(w http.ResponseWriter, r *http.Request) (func(), bool) {
	if l.sem == nil {
		return func() {}, true
	}
	if err := l.sem.Acquire(r.Context(), 1); err != nil {
		writeError(w, http.StatusServiceUnavailable, "server busy: "+err.Error())
		return nil, false
	}
	return func() { l.sem.Release(1) }, true
}

func writeTaskError(w http.ResponseWriter, taskID string, err error) {
	writeJSON(w, statusFor(err), TaskResponse{TaskID: taskID, Status: StatusFailed, Error: err.Error()})
}

func servicesOrFail(w http.ResponseWriter, r *http.Request) *svcctx.Services {
	s := svcctx.ServicesFrom(r.Context())
	if s == nil {
		writeError(w, http.StatusServiceUnavailable, "services not initialized")
	}
	return s
}

// ExtractRequest is the body for POST /extract.
type ExtractRequest struct {
	TaskID   string `json:"task_id,omitempty"`
	ImageB64 string `json:"image_b64"`
	Model    string `json:"model,omitempty"`
}

// ExtractEndpoint handles POST /extract.
type ExtractEndpoint struct {
	limiter limiter
}

func (e *ExtractEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/extract", e.handler
}

func (e *ExtractEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Extract receipt items
//	@Description	Transcribe a base64 receipt image into line items
//	@Tags			pipeline
//	@Accept			json
//	@Produce		json
//	@Param			request	body		ExtractRequest	true	"Image to extract"
//	@Success		200		{object}	TaskResponse
//	@Failure		400		{object}	TaskResponse
//	@Failure		422		{object}	TaskResponse
//	@Failure		503		{object}	ErrorResponse
//	@Router			/extract [post]
func (e *ExtractEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req ExtractRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	img, err := ingest.DecodeBase64(req.ImageB64)
	if err != nil {
		writeTaskError(w, req.TaskID, err)
		return
	}

	s := servicesOrFail(w, r)
	if s == nil {
		return
	}
	extractor, err := s.Extractor()
	if err != nil {
		writeTaskError(w, req.TaskID, err)
		return
	}

	release, ok := e.limiter.acquire(w, r)
	if !ok {
		return
	}
	defer release()

	defaults := s.ProcessDefaults(pipeline.ProcessRequest{ExtractModel: req.Model})
	result, err := extractor.Extract(r.Context(), pipeline.ExtractRequest{
		Image:     img.Data,
		Model:     defaults.ExtractModel,
		SchemaRef: defaults.ExtractSchemaRef,
		PromptRef: defaults.ExtractPromptRef,
		TaskID:    req.TaskID,
	})
	if err != nil {
		writeTaskError(w, req.TaskID, err)
		return
	}

	writeJSON(w, http.StatusOK, TaskResponse{TaskID: req.TaskID, Status: StatusSuccess, Data: result})
}

func (e *ExtractEndpoint) Command(getServerURL func() string) *cobra.Command {
	var model, taskID string
	cmd := &cobra.Command{
		Use:   "extract <image>",
		Short: "Extract line items from a receipt image on the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			encoded, err := encodeImage(args[0])
			if err != nil {
				return err
			}
			if taskID == "" {
				taskID = ingest.TaskID(args[0])
			}
			client := api.NewClient(getServerURL())
			var resp TaskResponse
			if err := client.Post(cmd.Context(), "/extract", ExtractRequest{
				TaskID:   taskID,
				ImageB64: encoded,
				Model:    model,
			}, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&model, "model", "", "OCR model (server default when empty)")
	cmd.Flags().StringVar(&taskID, "task-id", "", "Task ID (default: file name)")
	return cmd
}

// CategorizeRequest is the body for POST /categorize.
type CategorizeRequest struct {
	TaskID     string       `json:"task_id,omitempty"`
	Items      []types.Item `json:"items"`
	Categories []string     `json:"categories,omitempty"`
	Model      string       `json:"model,omitempty"`
}

// CategorizeEndpoint handles POST /categorize.
type CategorizeEndpoint struct {
	limiter limiter
}

func (e *CategorizeEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/categorize", e.handler
}

func (e *CategorizeEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Categorize items
//	@Description	Assign each item one category from a closed set
//	@Tags			pipeline
//	@Accept			json
//	@Produce		json
//	@Param			request	body		CategorizeRequest	true	"Items and categories"
//	@Success		200		{object}	TaskResponse
//	@Failure		400		{object}	TaskResponse
//	@Failure		503		{object}	ErrorResponse
//	@Router			/categorize [post]
func (e *CategorizeEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req CategorizeRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	s := servicesOrFail(w, r)
	if s == nil {
		return
	}
	categorizer, err := s.Categorizer()
	if err != nil {
		writeTaskError(w, req.TaskID, err)
		return
	}

	release, ok := e.limiter.acquire(w, r)
	if !ok {
		return
	}
	defer release()

	defaults := s.ProcessDefaults(pipeline.ProcessRequest{
		Categories:      req.Categories,
		CategorizeModel: req.Model,
	})
	result, err := categorizer.Categorize(r.Context(), pipeline.CategorizeRequest{
		Items:      req.Items,
		Categories: defaults.Categories,
		Model:      defaults.CategorizeModel,
		SchemaRef:  defaults.CategorizeSchemaRef,
		PromptRef:  defaults.CategorizePromptRef,
		TaskID:     req.TaskID,
	})
	if err != nil {
		writeTaskError(w, req.TaskID, err)
		return
	}

	writeJSON(w, http.StatusOK, TaskResponse{TaskID: req.TaskID, Status: StatusSuccess, Data: result})
}

func (e *CategorizeEndpoint) Command(getServerURL func() string) *cobra.Command {
	var (
		model, taskID string
		categories    []string
	)
	cmd := &cobra.Command{
		Use:   "categorize <items.json>",
		Short: "Categorize extracted items on the server",
		Long: `Categorize items from a JSON file. The file may hold a bare array of
items or an object with an "items" field, such as the output of extract.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := ReadItemsFile(args[0])
			if err != nil {
				return err
			}
			client := api.NewClient(getServerURL())
			var resp TaskResponse
			if err := client.Post(cmd.Context(), "/categorize", CategorizeRequest{
				TaskID:     taskID,
				Items:      items,
				Categories: categories,
				Model:      model,
			}, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringSliceVarP(&categories, "category", "c", nil, "Allowed category (repeatable; server default when empty)")
	cmd.Flags().StringVar(&model, "model", "", "Categorization model (server default when empty)")
	cmd.Flags().StringVar(&taskID, "task-id", "", "Task ID")
	return cmd
}

// ProcessRequest is the body for POST /process.
type ProcessRequest struct {
	TaskID          string   `json:"task_id,omitempty"`
	ImageB64        string   `json:"image_b64"`
	Categories      []string `json:"categories,omitempty"`
	OCRModel        string   `json:"ocr_model,omitempty"`
	CategorizeModel string   `json:"categorize_model,omitempty"`
}

// ProcessEndpoint handles POST /process.
type ProcessEndpoint struct {
	limiter limiter
}

func (e *ProcessEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/process", e.handler
}

func (e *ProcessEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Process a receipt
//	@Description	Extract line items from an image and categorize them
//	@Tags			pipeline
//	@Accept			json
//	@Produce		json
//	@Param			request	body		ProcessRequest	true	"Image and categories"
//	@Success		200		{object}	TaskResponse
//	@Failure		400		{object}	TaskResponse
//	@Failure		422		{object}	TaskResponse
//	@Failure		503		{object}	ErrorResponse
//	@Router			/process [post]
func (e *ProcessEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req ProcessRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	img, err := ingest.DecodeBase64(req.ImageB64)
	if err != nil {
		writeTaskError(w, req.TaskID, err)
		return
	}

	s := servicesOrFail(w, r)
	if s == nil {
		return
	}
	p, err := s.Pipeline()
	if err != nil {
		writeTaskError(w, req.TaskID, err)
		return
	}

	release, ok := e.limiter.acquire(w, r)
	if !ok {
		return
	}
	defer release()

	result, err := p.Process(r.Context(), s.ProcessDefaults(pipeline.ProcessRequest{
		TaskID:          req.TaskID,
		Image:           img.Data,
		Categories:      req.Categories,
		ExtractModel:    req.OCRModel,
		CategorizeModel: req.CategorizeModel,
	}))
	if err != nil {
		writeTaskError(w, req.TaskID, err)
		return
	}

	writeJSON(w, http.StatusOK, TaskResponse{TaskID: req.TaskID, Status: StatusSuccess, Data: result})
}

func (e *ProcessEndpoint) Command(getServerURL func() string) *cobra.Command {
	var (
		ocrModel, catModel, taskID string
		categories                 []string
	)
	cmd := &cobra.Command{
		Use:   "process <image>",
		Short: "Extract and categorize a receipt on the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			encoded, err := encodeImage(args[0])
			if err != nil {
				return err
			}
			if taskID == "" {
				taskID = ingest.TaskID(args[0])
			}
			client := api.NewClient(getServerURL())
			var resp TaskResponse
			if err := client.Post(cmd.Context(), "/process", ProcessRequest{
				TaskID:          taskID,
				ImageB64:        encoded,
				Categories:      categories,
				OCRModel:        ocrModel,
				CategorizeModel: catModel,
			}, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringSliceVarP(&categories, "category", "c", nil, "Allowed category (repeatable; server default when empty)")
	cmd.Flags().StringVar(&ocrModel, "ocr-model", "", "OCR model (server default when empty)")
	cmd.Flags().StringVar(&catModel, "categorize-model", "", "Categorization model (server default when empty)")
	cmd.Flags().StringVar(&taskID, "task-id", "", "Task ID (default: file name)")
	return cmd
}

// encodeImage validates a local image and returns it base64 encoded.
func encodeImage(path string) (string, error) {
	img, err := ingest.LoadFile(path)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(img.Data), nil
}

// ReadItemsFile reads items from a JSON file holding either an array of
// items or an object with an "items" field.
func ReadItemsFile(path string) ([]types.Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read items: %w", err)
	}
	var items []types.Item
	if err := json.Unmarshal(data, &items); err == nil {
		return items, nil
	}
	var wrapped struct {
		Items []types.Item `json:"items"`
		Data  *struct {
			Items []types.Item `json:"items"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("failed to parse items in %s: %w", path, err)
	}
	if wrapped.Data != nil && wrapped.Items == nil {
		return wrapped.Data.Items, nil
	}
	return wrapped.Items, nil
}
