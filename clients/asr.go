package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	pferrors "github.com/ryuki-imachi/prezentation-feedback-agent/errors"
	"github.com/ryuki-imachi/prezentation-feedback-agent/transcript"
)

type TransSeg struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}
type ASRResp struct {
	Text     string     `json:"text"`
	Segments []TransSeg `json:"segments"`
	Language string     `json:"language"`
	Duration float64    `json:"duration"`
}

// HTTPTranscriber talks to a speech-to-text service exposing
// POST <url>/transcribe (multipart "file" + "language").
type HTTPTranscriber struct {
	http *HTTP
	url  string
}

func NewHTTPTranscriber(h *HTTP, url string) *HTTPTranscriber {
	return &HTTPTranscriber{http: h, url: strings.TrimRight(url, "/")}
}

func (t *HTTPTranscriber) Transcribe(ctx context.Context, audioPath, language string) (*transcript.Transcript, error) {
	asr, err := t.http.ASR(ctx, t.url, audioPath, language)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", pferrors.ErrTranscription, err)
	}

	segs := make([]transcript.Segment, 0, len(asr.Segments))
	for _, s := range asr.Segments {
		segs = append(segs, transcript.Segment{Text: s.Text, StartTime: s.Start, EndTime: s.End, Confidence: s.Confidence})
	}
	if language == "" {
		language = asr.Language
	}
	tr := transcript.New(segs, language)
	if asr.Text != "" {
		tr.Text = strings.TrimSpace(asr.Text)
	}
	if err := tr.Validate(); err != nil {
		return nil, err
	}
	return tr, nil
}

func (h *HTTP) ASR(ctx context.Context, url, audioPath, language string) (*ASRResp, error) {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)

	fw, err := w.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, err
	}
	fd, err := os.Open(audioPath)
	if err != nil {
		return nil, err
	}
	defer fd.Close()

	if _, err = io.Copy(fw, fd); err != nil {
		return nil, err
	}
	if language != "" {
		if err = w.WriteField("language", language); err != nil {
			return nil, err
		}
	}
	if err = w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url+"/transcribe", &b)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := h.c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, fmt.Errorf("asr %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var out ASRResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("asr decode: %w", err)
	}
	return &out, nil
}
