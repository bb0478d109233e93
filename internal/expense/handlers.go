package expense

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/zombor/expense-intake/internal/scanning"
)

// maxUploadSize caps receipt uploads (high-resolution phone photos included)
const maxUploadSize = int64(50 << 20)

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

// writeError maps service errors onto status codes with a JSON body
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	message := "Internal server error"

	var verr *ValidationError
	switch {
	case errors.Is(err, ErrUnsupportedContentType):
		status, message = http.StatusUnsupportedMediaType, err.Error()
	case errors.As(err, &verr):
		status, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, ErrMissingReason):
		status, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, ErrNotFound):
		status, message = http.StatusNotFound, err.Error()
	case errors.Is(err, ErrDuplicateReceipt), errors.Is(err, ErrInvalidTransition):
		status, message = http.StatusConflict, err.Error()
	default:
		s.logger.Error("Request failed", zap.Error(err))
	}

	if encErr := writeJSON(w, status, map[string]string{"error": message}); encErr != nil {
		s.logger.Error("Error encoding response", zap.Error(encErr))
	}
}

func (s *Server) respond(w http.ResponseWriter, status int, v any) {
	if err := writeJSON(w, status, v); err != nil {
		s.logger.Error("Error encoding response", zap.Error(err))
	}
}

// intakeRequest is the JSON intake body
type intakeRequest struct {
	EmployeeID   string       `json:"employeeId"`
	DepartmentID string       `json:"departmentId"`
	ExpenseType  string       `json:"expenseType"`
	Description  string       `json:"description"`
	Vendor       string       `json:"vendor"`
	Categories   CategoryList `json:"categories"`
	ReceiptImage string       `json:"receiptImage"`
	ContentType  string       `json:"contentType"`
}

// receiptFromReference builds a receipt from a URL or a base64 data URI
func receiptFromReference(ref, declared string) (scanning.Receipt, error) {
	ref = strings.TrimSpace(ref)
	if !strings.HasPrefix(ref, "data:") {
		// a supported declared kind only describes what the URL serves; the
		// download is sniffed, so the reference stays an image/url receipt
		kind := scanning.KindImageURL
		if _, err := scanning.ParseContentKind(declared); declared != "" && err != nil {
			kind = scanning.ContentKind(declared)
		}
		return scanning.Receipt{Kind: kind, URL: ref}, nil
	}

	header, payload, ok := strings.Cut(strings.TrimPrefix(ref, "data:"), ",")
	if !ok || !strings.HasSuffix(header, ";base64") {
		return scanning.Receipt{}, invalid("receiptImage", "data URI must be base64 encoded")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return scanning.Receipt{}, invalid("receiptImage", "data URI is not valid base64")
	}
	if declared == "" {
		declared = strings.TrimSuffix(header, ";base64")
	}
	return receiptFromBytes(data, declared, false), nil
}

// receiptFromBytes picks the content kind for raw receipt bytes. An explicit
// declaration is trusted as given; a transport hint (part header or data URI
// media type) falls back to sniffing when it is not a supported kind.
func receiptFromBytes(data []byte, declared string, explicit bool) scanning.Receipt {
	if kind, err := scanning.ParseContentKind(declared); err == nil && kind != scanning.KindImageURL {
		return scanning.Receipt{Kind: kind, Data: data}
	}
	if explicit && declared != "" {
		return scanning.Receipt{Kind: scanning.ContentKind(declared), Data: data}
	}
	kind, err := scanning.DetectKind(data)
	if err != nil {
		if declared == "" {
			declared = "application/octet-stream"
		}
		return scanning.Receipt{Kind: scanning.ContentKind(declared), Data: data}
	}
	return scanning.Receipt{Kind: kind, Data: data}
}

func formCategories(values []string) []string {
	var out []string
	for _, v := range values {
		out = append(out, SplitCategories(v)...)
	}
	return out
}

// parseSubmission reads a submission from multipart, url-encoded or JSON bodies
func parseSubmission(r *http.Request) (Submission, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	switch mediaType {
	case "multipart/form-data", "application/x-www-form-urlencoded":
		if mediaType == "multipart/form-data" {
			if err := r.ParseMultipartForm(maxUploadSize); err != nil {
				if strings.Contains(err.Error(), "request body too large") {
					return Submission{}, invalid("file", "file is too large, maximum size is 50MB")
				}
				return Submission{}, invalid("body", "could not parse form")
			}
		} else if err := r.ParseForm(); err != nil {
			return Submission{}, invalid("body", "could not parse form")
		}

		sub := Submission{
			EmployeeID:   strings.TrimSpace(r.FormValue("employeeId")),
			DepartmentID: strings.TrimSpace(r.FormValue("departmentId")),
			ExpenseType:  strings.TrimSpace(r.FormValue("expenseType")),
			Description:  strings.TrimSpace(r.FormValue("description")),
			Vendor:       strings.TrimSpace(r.FormValue("vendor")),
			Categories:   formCategories(r.Form["categories"]),
		}
		declared := strings.TrimSpace(r.FormValue("contentType"))

		if r.MultipartForm != nil {
			if files := r.MultipartForm.File["file"]; len(files) > 0 {
				f, err := files[0].Open()
				if err != nil {
					return Submission{}, fmt.Errorf("opening upload: %w", err)
				}
				defer f.Close()
				data, err := io.ReadAll(f)
				if err != nil {
					return Submission{}, fmt.Errorf("reading upload: %w", err)
				}
				if declared != "" {
					sub.Receipt = receiptFromBytes(data, declared, true)
				} else {
					sub.Receipt = receiptFromBytes(data, files[0].Header.Get("Content-Type"), false)
				}
				return sub, nil
			}
		}

		ref := r.FormValue("receiptImage")
		if strings.TrimSpace(ref) == "" {
			return Submission{}, invalid("receipt", "a file or receiptImage is required")
		}
		receipt, err := receiptFromReference(ref, declared)
		if err != nil {
			return Submission{}, err
		}
		sub.Receipt = receipt
		return sub, nil

	default:
		var req intakeRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, maxUploadSize)).Decode(&req); err != nil {
			return Submission{}, invalid("body", fmt.Sprintf("invalid JSON: %v", err))
		}
		if strings.TrimSpace(req.ReceiptImage) == "" {
			return Submission{}, invalid("receiptImage", "is required")
		}
		receipt, err := receiptFromReference(req.ReceiptImage, strings.TrimSpace(req.ContentType))
		if err != nil {
			return Submission{}, err
		}
		return Submission{
			EmployeeID:   strings.TrimSpace(req.EmployeeID),
			DepartmentID: strings.TrimSpace(req.DepartmentID),
			ExpenseType:  strings.TrimSpace(req.ExpenseType),
			Description:  strings.TrimSpace(req.Description),
			Vendor:       strings.TrimSpace(req.Vendor),
			Categories:   req.Categories,
			Receipt:      receipt,
		}, nil
	}
}

// handleSubmitExpense runs the intake pipeline for one receipt
func (s *Server) handleSubmitExpense(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize+(1<<20))

	sub, err := parseSubmission(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	result, err := s.service.Submit(r.Context(), sub)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.respond(w, http.StatusCreated, map[string]any{
		"status":       "success",
		"expense_id":   result.Entry.ID,
		"aggregate_id": result.AggregateID,
		"expense":      result.Entry,
	})
}

// handleListExpenses returns every employee aggregate
func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	aggregates, err := s.service.ListExpenses(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.respond(w, http.StatusOK, aggregates)
}

// handleGetExpense returns a single entry by entry id or aggregate id
func (s *Server) handleGetExpense(w http.ResponseWriter, r *http.Request) {
	agg, entry, err := s.service.GetExpense(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{
		"aggregate_id":  agg.ID,
		"employee_id":   agg.EmployeeID,
		"department_id": agg.DepartmentID,
		"expense":       entry,
	})
}

// reviewRequest is the approve/reject body
type reviewRequest struct {
	Reason     string `json:"reason"`
	ReviewedBy string `json:"reviewedBy"`
}

func decodeReview(r *http.Request) (reviewRequest, error) {
	var req reviewRequest
	if r.ContentLength == 0 {
		return req, nil
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return req, invalid("body", fmt.Sprintf("invalid JSON: %v", err))
	}
	return req, nil
}

// handleApprove approves a pending entry
func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	req, err := decodeReview(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	result, err := s.service.Approve(r.Context(), r.PathValue("id"), req.Reason, req.ReviewedBy)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.respond(w, http.StatusOK, result)
}

// handleReject rejects a pending entry
func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	req, err := decodeReview(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	result, err := s.service.Reject(r.Context(), r.PathValue("id"), req.Reason, req.ReviewedBy)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.respond(w, http.StatusOK, result)
}

// handleGetEmployeeExpenses returns one employee's aggregate
func (s *Server) handleGetEmployeeExpenses(w http.ResponseWriter, r *http.Request) {
	agg, err := s.service.GetEmployeeExpenses(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.respond(w, http.StatusOK, agg)
}

// handlePurgeEmployeeExpenses deletes one employee's aggregate
func (s *Server) handlePurgeEmployeeExpenses(w http.ResponseWriter, r *http.Request) {
	if err := s.service.PurgeEmployeeExpenses(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetPolicy returns the policy currently in effect
func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, s.policies.Policy())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, map[string]string{"status": "ok"})
}
