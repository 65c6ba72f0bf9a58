package handle

import (
	"fmt"
	"net/http"

	"safety-proxy/api/internal/ai"
	"safety-proxy/api/internal/safety"
)

type PhotoAnalyzeRequest struct {
	LLMName string `json:"llm_name"`
	Image   string `json:"image"`
	MIME    string `json:"mime,omitempty"`
	Context string `json:"context,omitempty"`
}

func (h *Handle) AnalyzePhoto(w http.ResponseWriter, r *http.Request) {
	var req PhotoAnalyzeRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	img, err := decodeImage(req.Image, req.MIME)
	if err == nil && img == nil {
		err = fmt.Errorf("%w: image is required", errBadRequest)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	ctx, cancel := h.withDeadline(r)
	defer cancel()

	out, err := h.svc.AnalyzePhoto(ctx, safety.PhotoRequest{Engine: req.LLMName, Media: *img, Context: req.Context})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type RiskAssessRequest struct {
	LLMName     string `json:"llm_name"`
	Image       string `json:"image,omitempty"`
	MIME        string `json:"mime,omitempty"`
	ProcessName string `json:"process_name"`
	Context     string `json:"context,omitempty"`
	Title       string `json:"title,omitempty"`
}

func (h *Handle) AssessRisk(w http.ResponseWriter, r *http.Request) {
	var req RiskAssessRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	img, err := decodeImage(req.Image, req.MIME)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	ctx, cancel := h.withDeadline(r)
	defer cancel()

	out, err := h.svc.AssessRisk(ctx, safety.AssessRequest{
		Engine: req.LLMName, Media: img, ProcessName: req.ProcessName, Context: req.Context, Title: req.Title,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type AdditionalHazardsRequest struct {
	LLMName      string   `json:"llm_name"`
	AssessmentID string   `json:"assessment_id,omitempty"`
	ProcessName  string   `json:"process_name,omitempty"`
	Existing     []string `json:"existing,omitempty"`
}

func (h *Handle) AdditionalHazards(w http.ResponseWriter, r *http.Request) {
	var req AdditionalHazardsRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	ctx, cancel := h.withDeadline(r)
	defer cancel()

	out, err := h.svc.AdditionalHazards(ctx, safety.AdditionalRequest{
		Engine: req.LLMName, AssessmentID: req.AssessmentID, ProcessName: req.ProcessName, Existing: req.Existing,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type QARequest struct {
	LLMName  string    `json:"llm_name"`
	Question string    `json:"question"`
	History  []ai.Turn `json:"history,omitempty"`
	Image    string    `json:"image,omitempty"`
	MIME     string    `json:"mime,omitempty"`
}

type QAResponse struct {
	Answer string `json:"answer"`
}

func (h *Handle) Ask(w http.ResponseWriter, r *http.Request) {
	var req QARequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	img, err := decodeImage(req.Image, req.MIME)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ctx, cancel := h.withDeadline(r)
	defer cancel()

	answer, err := h.svc.Ask(ctx, safety.AskRequest{
		Engine: req.LLMName, Question: req.Question, History: req.History, Media: img,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, QAResponse{Answer: answer})
}
