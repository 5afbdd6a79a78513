package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/certverify/internal/core"
	"github.com/edvin/certverify/internal/model"
	"github.com/edvin/certverify/internal/registry"
)

func upload(t *testing.T, h *Certificate, body any) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.Upload(rec, newRequest(http.MethodPost, "/certificates/upload", body))
	return rec
}

func uploadOK(t *testing.T, h *Certificate, fileData string) UploadedCertificate {
	t.Helper()
	rec := upload(t, h, map[string]any{"fileData": fileData})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var out UploadedCertificate
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

// --- Upload ---

func TestCertificateUpload_Created(t *testing.T) {
	h, _ := newCertificateHandler()
	owner := "owner-1"

	rec := upload(t, h, map[string]any{"fileData": pngURI(t, 1), "ownerId": owner})

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body["certificateId"])
	assert.Equal(t, "owner-1", body["ownerId"])
	assert.Equal(t, "image", body["fileType"])
	assert.Equal(t, "image/png", body["mimeType"])
	assert.Len(t, body["rawHash"], 64)
	assert.Len(t, body["contentHash"], 64)
	assert.True(t, strings.HasPrefix(body["artifactUrl"].(string), "https://cdn.test/"))
	assert.Contains(t, body["extractedText"], "CERTIFICATE")
}

func TestCertificateUpload_InvalidJSON(t *testing.T) {
	h, _ := newCertificateHandler()
	rec := httptest.NewRecorder()

	h.Upload(rec, newRequestRaw(http.MethodPost, "/certificates/upload", "{bad json"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeErrorResponse(rec)["error"], "invalid JSON")
}

func TestCertificateUpload_MissingFileData(t *testing.T) {
	h, _ := newCertificateHandler()

	rec := upload(t, h, map[string]any{})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeErrorResponse(rec)["error"], "validation error")
}

func TestCertificateUpload_EmptyOwnerID(t *testing.T) {
	h, _ := newCertificateHandler()

	rec := upload(t, h, map[string]any{"fileData": pngURI(t, 1), "ownerId": ""})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCertificateUpload_UnsupportedType(t *testing.T) {
	h, _ := newCertificateHandler()

	rec := upload(t, h, map[string]any{"fileData": "data:text/plain;base64,aGVsbG8gd29ybGQ="})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEmpty(t, decodeErrorResponse(rec)["error"])
}

func TestCertificateUpload_Duplicate(t *testing.T) {
	h, _ := newCertificateHandler()
	data := pngURI(t, 2)
	uploadOK(t, h, data)

	rec := upload(t, h, map[string]any{"fileData": data})

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, decodeErrorResponse(rec)["error"], "already")
}

func TestCertificateUpload_BodyTooLarge(t *testing.T) {
	h, _ := newCertificateHandler()
	huge := "data:image/png;base64," + strings.Repeat("A", int(h.maxBody))

	rec := upload(t, h, map[string]any{"fileData": huge})

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestCertificateUpload_UpstreamFailureIsGeneric(t *testing.T) {
	svcs, reg := newTestServices(stubOCR{err: errors.New("ocr provider returned 502: secret detail")})
	h := NewCertificate(svcs, testMaxUpload)

	rec := upload(t, h, map[string]any{"fileData": pngURI(t, 3)})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	msg := decodeErrorResponse(rec)["error"]
	assert.NotContains(t, msg, "secret detail")
	assert.Contains(t, msg, "try again")
	_, total, err := reg.List(t.Context(), registry.ListParams{}.Normalize())
	require.NoError(t, err)
	assert.Zero(t, total)
}

// --- UploadBatch ---

func TestCertificateUploadBatch_Created(t *testing.T) {
	h, _ := newCertificateHandler()
	rec := httptest.NewRecorder()

	h.UploadBatch(rec, newRequest(http.MethodPost, "/certificates/upload/batch", map[string]any{
		"files": []string{pngURI(t, 10), pngURI(t, 11)},
	}))

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var body struct {
		Items []UploadedCertificate `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Items, 2)
	assert.NotEqual(t, body.Items[0].CertificateID, body.Items[1].CertificateID)
}

func TestCertificateUploadBatch_Empty(t *testing.T) {
	h, _ := newCertificateHandler()
	rec := httptest.NewRecorder()

	h.UploadBatch(rec, newRequest(http.MethodPost, "/certificates/upload/batch", map[string]any{"files": []string{}}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCertificateUploadBatch_TooManyFiles(t *testing.T) {
	h, reg := newCertificateHandler()
	rec := httptest.NewRecorder()

	h.UploadBatch(rec, newRequest(http.MethodPost, "/certificates/upload/batch", map[string]any{
		"files": []string{pngURI(t, 20), pngURI(t, 21), pngURI(t, 22), pngURI(t, 23)},
	}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	stats, err := reg.Stats(t.Context())
	require.NoError(t, err)
	assert.Zero(t, stats.Total)
}

// --- Verify ---

func TestCertificateVerify_Match(t *testing.T) {
	h, _ := newCertificateHandler()
	data := pngURI(t, 30)
	created := uploadOK(t, h, data)
	rec := httptest.NewRecorder()

	h.Verify(rec, newRequest(http.MethodPost, "/certificates/verify", map[string]any{"fileData": data}))

	require.Equal(t, http.StatusOK, rec.Code)
	var result core.VerifyResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Verified)
	require.NotNil(t, result.Record)
	assert.Equal(t, created.CertificateID, result.Record.ID)
	assert.Equal(t, created.RawHash, result.ComputedHash)
	assert.Equal(t, "image/png", result.UploadedFile.Type)
	assert.NotContains(t, rec.Body.String(), "extractedText")
}

func TestCertificateVerify_Unknown(t *testing.T) {
	h, _ := newCertificateHandler()
	rec := httptest.NewRecorder()

	h.Verify(rec, newRequest(http.MethodPost, "/certificates/verify", map[string]any{"fileData": pngURI(t, 31)}))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["verified"])
	assert.NotContains(t, body, "record")
}

func TestCertificateVerify_MissingFileData(t *testing.T) {
	h, _ := newCertificateHandler()
	rec := httptest.NewRecorder()

	h.Verify(rec, newRequest(http.MethodPost, "/certificates/verify", map[string]any{}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeErrorResponse(rec)["error"], "validation error")
}

// --- Get / ByHash / Index ---

func TestCertificateGet(t *testing.T) {
	h, _ := newCertificateHandler()
	created := uploadOK(t, h, pngURI(t, 40))
	rec := httptest.NewRecorder()

	h.Get(rec, withChiURLParam(newRequest(http.MethodGet, "/certificates/"+created.CertificateID, nil), "id", created.CertificateID))

	require.Equal(t, http.StatusOK, rec.Code)
	var cert model.Certificate
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cert))
	assert.Equal(t, created.CertificateID, cert.ID)
	assert.Equal(t, model.StatusActive, cert.Status)
}

func TestCertificateGet_EmptyID(t *testing.T) {
	h, _ := newCertificateHandler()
	rec := httptest.NewRecorder()

	h.Get(rec, withChiURLParam(newRequest(http.MethodGet, "/certificates/", nil), "id", ""))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeErrorResponse(rec)["error"], "missing required ID")
}

func TestCertificateGet_NotFound(t *testing.T) {
	h, _ := newCertificateHandler()
	rec := httptest.NewRecorder()

	h.Get(rec, withChiURLParam(newRequest(http.MethodGet, "/certificates/nope", nil), "id", "nope"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCertificateGetByRawHash_ShowsRevoked(t *testing.T) {
	h, _ := newCertificateHandler()
	created := uploadOK(t, h, pngURI(t, 41))
	rec := httptest.NewRecorder()
	h.Revoke(rec, withChiURLParam(newRequest(http.MethodPost, "/", nil), "id", created.CertificateID))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.GetByRawHash(rec, withChiURLParam(newRequest(http.MethodGet, "/", nil), "rawHash", created.RawHash))

	require.Equal(t, http.StatusOK, rec.Code)
	var cert model.Certificate
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cert))
	assert.Equal(t, model.StatusRevoked, cert.Status)
	assert.NotNil(t, cert.RevokedAt)
}

func TestCertificateGetByRawHash_Malformed(t *testing.T) {
	h, _ := newCertificateHandler()
	rec := httptest.NewRecorder()

	h.GetByRawHash(rec, withChiURLParam(newRequest(http.MethodGet, "/", nil), "rawHash", "XYZ"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeErrorResponse(rec)["error"], "rawHash")
}

func TestCertificateLookupIndex(t *testing.T) {
	h, _ := newCertificateHandler()
	created := uploadOK(t, h, pngURI(t, 42))
	rec := httptest.NewRecorder()

	target := "/certificates/index?rawHash=" + created.RawHash + "&contentHash=" + created.ContentHash
	h.LookupIndex(rec, newRequest(http.MethodGet, target, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var entry model.HashIndexEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	assert.Equal(t, created.CertificateID, entry.CertificateID)
}

func TestCertificateLookupIndex_MissingContentHash(t *testing.T) {
	h, _ := newCertificateHandler()
	rec := httptest.NewRecorder()

	h.LookupIndex(rec, newRequest(http.MethodGet, "/certificates/index?rawHash="+strings.Repeat("a", 64), nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeErrorResponse(rec)["error"], "contentHash")
}

// --- Revoke / Unrevoke ---

func TestCertificateRevokeTwice(t *testing.T) {
	h, _ := newCertificateHandler()
	created := uploadOK(t, h, pngURI(t, 50))
	req := func() *http.Request {
		return withChiURLParam(newRequest(http.MethodPost, "/", nil), "id", created.CertificateID)
	}

	rec := httptest.NewRecorder()
	h.Revoke(rec, req())
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.Revoke(rec, req())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeErrorResponse(rec)["error"], "already revoked")
}

func TestCertificateUnrevoke_NotRevoked(t *testing.T) {
	h, _ := newCertificateHandler()
	created := uploadOK(t, h, pngURI(t, 51))
	rec := httptest.NewRecorder()

	h.Unrevoke(rec, withChiURLParam(newRequest(http.MethodPost, "/", nil), "id", created.CertificateID))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeErrorResponse(rec)["error"], "not revoked")
}

func TestCertificateUnrevoke_ConflictsWithReissue(t *testing.T) {
	h, _ := newCertificateHandler()
	data := pngURI(t, 52)
	first := uploadOK(t, h, data)
	rec := httptest.NewRecorder()
	h.Revoke(rec, withChiURLParam(newRequest(http.MethodPost, "/", nil), "id", first.CertificateID))
	require.Equal(t, http.StatusOK, rec.Code)
	uploadOK(t, h, data)

	rec = httptest.NewRecorder()
	h.Unrevoke(rec, withChiURLParam(newRequest(http.MethodPost, "/", nil), "id", first.CertificateID))

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCertificateRevoke_NotFound(t *testing.T) {
	h, _ := newCertificateHandler()
	rec := httptest.NewRecorder()

	h.Revoke(rec, withChiURLParam(newRequest(http.MethodPost, "/", nil), "id", "missing"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// --- List / Stats ---

func TestCertificateList(t *testing.T) {
	h, _ := newCertificateHandler()
	for i := range 3 {
		uploadOK(t, h, pngURI(t, 60+i))
	}
	rec := httptest.NewRecorder()

	h.List(rec, newRequest(http.MethodGet, "/certificates?limit=2&sortOrder=asc", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Items  []model.Certificate `json:"items"`
		Total  int                 `json:"total"`
		Limit  int                 `json:"limit"`
		Offset int                 `json:"offset"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Items, 2)
	assert.Equal(t, 3, body.Total)
	assert.Equal(t, 2, body.Limit)
	assert.Equal(t, 0, body.Offset)
}

func TestCertificateList_BadSortOrder(t *testing.T) {
	h, _ := newCertificateHandler()
	rec := httptest.NewRecorder()

	h.List(rec, newRequest(http.MethodGet, "/certificates?sortOrder=sideways", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCertificateListByOwner(t *testing.T) {
	h, _ := newCertificateHandler()
	upload(t, h, map[string]any{"fileData": pngURI(t, 70), "ownerId": "alice"})
	upload(t, h, map[string]any{"fileData": pngURI(t, 71), "ownerId": "bob"})
	rec := httptest.NewRecorder()

	h.ListByOwner(rec, withChiURLParam(newRequest(http.MethodGet, "/owners/alice/certificates", nil), "ownerID", "alice"))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Items []model.Certificate `json:"items"`
		Total int                 `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Items, 1)
	assert.Equal(t, "alice", *body.Items[0].OwnerID)
	assert.Equal(t, 1, body.Total)
}

func TestCertificateStats(t *testing.T) {
	h, _ := newCertificateHandler()
	uploadOK(t, h, pngURI(t, 80))
	rec := httptest.NewRecorder()

	h.Stats(rec, newRequest(http.MethodGet, "/certificates/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var stats registry.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.EqualValues(t, 1, stats.Total)
	assert.EqualValues(t, 1, stats.Images)
}
