package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mondzorgtools/dictaat/internal/asr"
	"github.com/mondzorgtools/dictaat/internal/auth"
	"github.com/mondzorgtools/dictaat/internal/lexicon"
	"github.com/mondzorgtools/dictaat/internal/pairing"
	"github.com/mondzorgtools/dictaat/internal/transcribe"
)

// userHeader selects the lexicon used for normalization. Absent, the shared
// global lexicon applies.
const userHeader = "X-User-ID"

// audioFormats lists the upload formats accepted by /transcribe.
var audioFormats = map[string]bool{
	"": true, "wav": true, "mp3": true, "ogg": true,
	"webm": true, "m4a": true, "flac": true,
}

// errorBody is the uniform REST error envelope.
type errorBody struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"detail":"encoding failure"}`, http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorBody{Detail: detail})
}

// ─── Transcription ───────────────────────────────────────────────────────────

type transcribeRequest struct {
	AudioData string `json:"audio_data"`
	Language  string `json:"language"`
	Prompt    string `json:"prompt"`
	Format    string `json:"format"`
}

type transcribeResponse struct {
	Text       string  `json:"text"`
	Raw        string  `json:"raw"`
	Normalized string  `json:"normalized"`
	Language   string  `json:"language"`
	Duration   float64 `json:"duration"`
	Provider   string  `json:"provider"`
	Model      string  `json:"model"`
}

// handleTranscribe accepts audio as a JSON base64 body or a multipart file
// upload and answers with the raw and normalized transcript.
func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	audio, language, prompt, format, ok := s.readTranscribeRequest(w, r)
	if !ok {
		return
	}
	if !audioFormats[strings.ToLower(format)] {
		writeError(w, http.StatusUnsupportedMediaType, "unsupported audio format: "+format)
		return
	}
	if len(audio) == 0 {
		writeError(w, http.StatusBadRequest, "audio payload is empty")
		return
	}

	userID := r.Header.Get(userHeader)
	if userID == "" {
		userID = lexicon.GlobalUserID
	}

	res, err := s.trans.Transcribe(r.Context(), userID, audio, language, prompt)
	if err != nil {
		status, detail := transcribeStatus(err)
		s.logger.WarnContext(r.Context(), "transcription failed",
			slog.Int("status", status), slog.Any("err", err))
		writeError(w, status, detail)
		return
	}

	writeJSON(w, http.StatusOK, transcribeResponse{
		Text:       res.Normalized,
		Raw:        res.Raw,
		Normalized: res.Normalized,
		Language:   res.Language,
		Duration:   res.Duration,
		Provider:   res.Provider,
		Model:      res.Model,
	})
}

// readTranscribeRequest extracts the audio bytes and hints from either body
// shape. A false return means the response has already been written.
func (s *Server) readTranscribeRequest(w http.ResponseWriter, r *http.Request) (audio []byte, language, prompt, format string, ok bool) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(transcribe.MaxAudioBytes); err != nil {
			writeError(w, http.StatusBadRequest, "malformed multipart body")
			return nil, "", "", "", false
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "missing file part")
			return nil, "", "", "", false
		}
		defer file.Close()
		audio, err = io.ReadAll(io.LimitReader(file, transcribe.MaxAudioBytes+1))
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreadable file part")
			return nil, "", "", "", false
		}
		return audio, r.FormValue("language"), r.FormValue("prompt"), r.FormValue("format"), true
	}

	var req transcribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return nil, "", "", "", false
	}
	audio, err := base64.StdEncoding.DecodeString(req.AudioData)
	if err != nil {
		writeError(w, http.StatusBadRequest, "audio_data is not valid base64")
		return nil, "", "", "", false
	}
	return audio, req.Language, req.Prompt, req.Format, true
}

// transcribeStatus maps an orchestrator failure onto the REST taxonomy.
func transcribeStatus(err error) (int, string) {
	switch {
	case errors.Is(err, transcribe.ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge, "audio exceeds the 25 MB limit"
	case errors.Is(err, transcribe.ErrAudioTooShort):
		return http.StatusBadRequest, "audio shorter than the minimum duration"
	}
	var cfgErr *lexicon.ConfigMissingError
	if errors.As(err, &cfgErr) {
		return http.StatusInternalServerError, cfgErr.Error()
	}
	switch asr.KindOf(err) {
	case asr.KindTimeout:
		return http.StatusGatewayTimeout, "speech recognition timed out"
	case asr.KindRejected:
		return http.StatusBadGateway, "speech recognition rejected the audio"
	case asr.KindUnavailable:
		return http.StatusServiceUnavailable, "speech recognition unavailable"
	}
	return http.StatusInternalServerError, "transcription failed"
}

// ─── Pairing ─────────────────────────────────────────────────────────────────

type generatePairCodeRequest struct {
	DesktopSessionID string `json:"desktop_session_id"`
}

type generatePairCodeResponse struct {
	Code      string `json:"code"`
	ExpiresAt string `json:"expires_at"`
	ChannelID string `json:"channel_id"`
}

func (s *Server) handleGeneratePairCode(w http.ResponseWriter, r *http.Request) {
	var req generatePairCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DesktopSessionID == "" {
		writeError(w, http.StatusBadRequest, "desktop_session_id required")
		return
	}

	rec, err := s.pairs.Create(req.DesktopSessionID)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "pair code allocation failed", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "could not allocate a pairing code")
		return
	}
	s.metrics.PendingPairings.Add(r.Context(), 1)

	writeJSON(w, http.StatusOK, generatePairCodeResponse{
		Code:      rec.Code,
		ExpiresAt: rec.ExpiresAt.UTC().Format(time.RFC3339),
		ChannelID: rec.ChannelID,
	})
}

type pairDeviceRequest struct {
	Code            string `json:"code"`
	MobileSessionID string `json:"mobile_session_id"`
}

type pairDeviceResponse struct {
	Success   bool   `json:"success"`
	ChannelID string `json:"channel_id,omitempty"`
	Error     string `json:"error,omitempty"`
	Message   string `json:"message"`
}

func (s *Server) handlePairDevice(w http.ResponseWriter, r *http.Request) {
	var req pairDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" || req.MobileSessionID == "" {
		writeError(w, http.StatusBadRequest, "code and mobile_session_id required")
		return
	}

	rec, err := s.pairs.Claim(req.Code, req.MobileSessionID)
	if err != nil {
		code, message := pairFailure(err)
		writeJSON(w, http.StatusBadRequest, pairDeviceResponse{
			Success: false,
			Error:   code,
			Message: message,
		})
		return
	}
	s.metrics.PendingPairings.Add(r.Context(), -1)

	writeJSON(w, http.StatusOK, pairDeviceResponse{
		Success:   true,
		ChannelID: rec.ChannelID,
		Message:   "paired",
	})
}

func pairFailure(err error) (code, message string) {
	switch {
	case errors.Is(err, pairing.ErrInvalidCode):
		return "INVALID_CODE", "unknown pairing code"
	case errors.Is(err, pairing.ErrCodeExpired):
		return "CODE_EXPIRED", "pairing code expired"
	case errors.Is(err, pairing.ErrAlreadyPaired):
		return "ALREADY_PAIRED", "pairing code already claimed"
	default:
		return "INTERNAL", "pairing failed"
	}
}

// ─── Admission tokens ────────────────────────────────────────────────────────

type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
	Channel   string `json:"channel,omitempty"`
}

func (s *Server) handleWSToken(w http.ResponseWriter, r *http.Request) {
	token, err := s.issuer.Issue(uuid.NewString(), auth.ScopeDesktop, "")
	if err != nil {
		s.logger.ErrorContext(r.Context(), "token issuance failed", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "could not issue token")
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		ExpiresIn: int(s.issuer.TTL().Seconds()),
	})
}

type mobileTokenRequest struct {
	PairCode string `json:"pair_code"`
}

func (s *Server) handleWSTokenMobile(w http.ResponseWriter, r *http.Request) {
	var req mobileTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PairCode == "" {
		writeError(w, http.StatusBadRequest, "pair_code required")
		return
	}

	channelID := pairing.ChannelPrefix + req.PairCode
	if _, ok := s.pairs.Lookup(channelID); !ok {
		writeError(w, http.StatusBadRequest, "unknown pairing code")
		return
	}

	token, err := s.issuer.Issue(uuid.NewString(), auth.ScopeMobile, channelID)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "token issuance failed", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "could not issue token")
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		ExpiresIn: int(s.issuer.TTL().Seconds()),
		Channel:   channelID,
	})
}
