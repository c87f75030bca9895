package pipeline

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	pferrors "github.com/ryuki-imachi/prezentation-feedback-agent/errors"
	"github.com/ryuki-imachi/prezentation-feedback-agent/ledger"
)

const maxUpload = 200 << 20

// Runner is the part of Pipeline the HTTP handler needs.
type Runner interface {
	Run(ctx context.Context, audioPath string) (*Result, error)
}

// FeedbackResponse is the body of POST /v1/feedback.
type FeedbackResponse struct {
	RunID       string         `json:"run_id"`
	State       State          `json:"state"`
	FailedStage string         `json:"failed_stage,omitempty"`
	Error       string         `json:"error,omitempty"`
	ErrorKind   string         `json:"error_kind,omitempty"`
	Report      any            `json:"report,omitempty"`
	Costs       ledger.Summary `json:"costs"`
}

// NewHandler serves POST /v1/feedback (multipart field "file"), GET /healthz
// and GET /metrics from gatherer.
func NewHandler(p Runner, log logrus.FieldLogger, gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/feedback", feedbackHandler(p, log))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"status":"ok"}`)
	})
	if gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

func feedbackHandler(p Runner, log logrus.FieldLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
		file, hdr, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "multipart field \"file\" is required")
			return
		}
		defer file.Close()

		tmp, err := os.CreateTemp("", "pfeedback-*"+filepath.Ext(hdr.Filename))
		if err != nil {
			log.WithError(err).Error("create upload file")
			writeError(w, http.StatusInternalServerError, "cannot store upload")
			return
		}
		defer os.Remove(tmp.Name())
		if _, err := io.Copy(tmp, file); err != nil {
			tmp.Close()
			writeError(w, http.StatusBadRequest, "cannot read upload")
			return
		}
		if err := tmp.Close(); err != nil {
			writeError(w, http.StatusInternalServerError, "cannot store upload")
			return
		}

		res, err := p.Run(r.Context(), tmp.Name())
		body := FeedbackResponse{}
		if res != nil {
			body.RunID, body.State, body.FailedStage, body.Costs = res.RunID, res.State, res.FailedStage, res.Costs
			if res.Report != nil {
				body.Report = res.Report
			}
		}
		status := http.StatusOK
		if err != nil {
			body.Error = err.Error()
			body.ErrorKind = string(pferrors.KindOf(err))
			status = statusFor(err)
		}
		writeJSONResponse(w, status, body)
	}
}

func statusFor(err error) int {
	switch pferrors.KindOf(err) {
	case pferrors.KindUnimplemented:
		return http.StatusNotImplemented
	case pferrors.KindCollaborator:
		return http.StatusBadGateway
	case pferrors.KindCancelled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSONResponse(w, status, map[string]string{"error": msg})
}

func writeJSONResponse(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
