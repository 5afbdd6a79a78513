package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/edvin/certverify/internal/api/request"
	"github.com/edvin/certverify/internal/api/response"
	"github.com/edvin/certverify/internal/core"
	"github.com/edvin/certverify/internal/model"
)

// UploadedCertificate is the body returned for each registered file.
type UploadedCertificate struct {
	CertificateID string  `json:"certificateId"`
	OwnerID       *string `json:"ownerId,omitempty"`
	ArtifactURL   string  `json:"artifactUrl"`
	FileType      string  `json:"fileType"`
	MimeType      string  `json:"mimeType"`
	FileSize      int64   `json:"fileSize"`
	RawHash       string  `json:"rawHash"`
	ContentHash   string  `json:"contentHash"`
	ExtractedText string  `json:"extractedText"`
}

func uploaded(c *model.Certificate) UploadedCertificate {
	return UploadedCertificate{
		CertificateID: c.ID,
		OwnerID:       c.OwnerID,
		ArtifactURL:   c.ArtifactURL,
		FileType:      c.ArtifactKind,
		MimeType:      c.MimeType,
		FileSize:      c.SizeBytes,
		RawHash:       c.RawHash,
		ContentHash:   c.ContentHash,
		ExtractedText: c.ExtractedText,
	}
}

type Certificate struct {
	ingest  *core.IngestService
	verify  *core.VerifyService
	certs   *core.CertificateService
	maxBody int64
}

// NewCertificate builds the certificate handlers. maxBody bounds a single
// file request body; batch requests may carry maxBatchFiles of them.
func NewCertificate(svcs *core.Services, maxUploadBytes int64) *Certificate {
	return &Certificate{
		ingest:  svcs.Ingest,
		verify:  svcs.Verify,
		certs:   svcs.Certificate,
		maxBody: encodedLimit(maxUploadBytes),
	}
}

// encodedLimit is the largest JSON body that can carry a base64 data URI of
// maxBytes decoded bytes, with room for the envelope.
func encodedLimit(maxBytes int64) int64 {
	return (maxBytes+2)/3*4 + 64<<10
}

func (h *Certificate) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	var req request.UploadCertificate
	if err := request.Decode(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	cert, err := h.ingest.Ingest(r.Context(), core.IngestInput{FileData: req.FileData, OwnerID: req.OwnerID})
	if err != nil {
		response.WriteDomainError(w, r, err)
		return
	}

	response.WriteJSON(w, http.StatusCreated, uploaded(cert))
}

func (h *Certificate) UploadBatch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody*int64(h.ingest.MaxBatchFiles()))
	var req request.UploadBatch
	if err := request.Decode(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	certs, err := h.ingest.IngestBatch(r.Context(), core.BatchInput{Files: req.Files, OwnerID: req.OwnerID})
	if err != nil {
		response.WriteDomainError(w, r, err)
		return
	}

	items := make([]UploadedCertificate, len(certs))
	for i, c := range certs {
		items[i] = uploaded(c)
	}
	response.WriteJSON(w, http.StatusCreated, map[string]any{"items": items})
}

func (h *Certificate) Verify(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	var req request.VerifyCertificate
	if err := request.Decode(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	result, err := h.verify.Verify(r.Context(), req.FileData)
	if err != nil {
		response.WriteDomainError(w, r, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, result)
}

func (h *Certificate) Get(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	cert, err := h.certs.GetByID(r.Context(), id)
	if err != nil {
		response.WriteDomainError(w, r, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, cert)
}

func (h *Certificate) GetByRawHash(w http.ResponseWriter, r *http.Request) {
	cert, err := h.certs.FindAnyByRawHash(r.Context(), chi.URLParam(r, "rawHash"))
	if err != nil {
		response.WriteDomainError(w, r, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, cert)
}

func (h *Certificate) LookupIndex(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entry, err := h.certs.LookupIndex(r.Context(), q.Get("rawHash"), q.Get("contentHash"))
	if err != nil {
		response.WriteDomainError(w, r, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, entry)
}

func (h *Certificate) Revoke(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	cert, err := h.certs.Revoke(r.Context(), id)
	if err != nil {
		response.WriteDomainError(w, r, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, cert)
}

func (h *Certificate) Unrevoke(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	cert, err := h.certs.Unrevoke(r.Context(), id)
	if err != nil {
		response.WriteDomainError(w, r, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, cert)
}

func (h *Certificate) List(w http.ResponseWriter, r *http.Request) {
	params, err := request.ParseListParams(r)
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	certs, total, err := h.certs.List(r.Context(), params)
	if err != nil {
		response.WriteDomainError(w, r, err)
		return
	}

	response.WriteList(w, certs, total, params.Limit, params.Offset)
}

func (h *Certificate) ListByOwner(w http.ResponseWriter, r *http.Request) {
	ownerID, err := request.RequireID(chi.URLParam(r, "ownerID"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	params, err := request.ParseListParams(r)
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	certs, total, err := h.certs.ListByOwner(r.Context(), ownerID, params)
	if err != nil {
		response.WriteDomainError(w, r, err)
		return
	}

	response.WriteList(w, certs, total, params.Limit, params.Offset)
}

func (h *Certificate) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.certs.Stats(r.Context())
	if err != nil {
		response.WriteDomainError(w, r, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, stats)
}

func writeDecodeError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		response.WriteError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	response.WriteError(w, http.StatusBadRequest, err.Error())
}
