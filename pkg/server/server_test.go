package server

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liradata/concilia/pkg/config"
	"github.com/liradata/concilia/pkg/pipeline"
	"github.com/liradata/concilia/pkg/store"
)

const financialUpload = `Relacao de Titulos a Pagar
Codigo-Nome do Fornecedor;Prf-Numero Parcela;Tp;Data de Emissao;Data de Vencto;Valor Original;Tit Vencidos Valor nominal;Titulos a vencer Valor nominal;Natureza;Porta- dor
1234 ACME LTDA;NF-000042/001;NF;05/03/2026;05/04/2026;1.000,00;0,00;1.000,00;FORNECEDORES;001
`

func newTestServer(t *testing.T) (*Server, *config.Config) {
	t.Helper()
	cfg := &config.Config{
		InputDir:             filepath.Join(t.TempDir(), "entrada"),
		ResultsDir:           t.TempDir(),
		Tolerance:            0.03,
		PayableAccountPrefix: "2.01.02.01.0001",
		AdvanceAccountPrefix: "1.01.06.02.0001",
		InvoiceTypes:         []string{"NF", "FT"},
		AdvanceTypes:         []string{"NDF", "PA"},
	}

	logger := log.New(io.Discard)
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), nil, logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	runner, err := pipeline.New(cfg, s, logger)
	require.NoError(t, err)
	return New(cfg, logger, runner, s), cfg
}

func uploadRequest(t *testing.T, url, filename, content string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("ledger", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, url, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHandleImport(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	req := uploadRequest(t, "/api/import", "finr150_titulos.txt", financialUpload)
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode(t, rec)
	assert.Equal(t, "success", out["status"])
	assert.Equal(t, "financeiro", out["kind"])
	assert.Equal(t, float64(1), out["rows"])
}

func TestHandleImportUnrecognizedName(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	req := uploadRequest(t, "/api/import", "notas.txt", financialUpload)
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "error", decode(t, rec)["status"])
}

func TestHandleReconcileAndStatus(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	req := uploadRequest(t, "/api/import", "finr150_titulos.txt", financialUpload)
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/reconcile", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	out := decode(t, rec)
	tables := out["tables"].(map[string]any)
	assert.Equal(t, float64(1), tables[store.TableFinancial])
	assert.Equal(t, float64(1), tables[store.TableResult])
}

func TestHandleExportAndDownload(t *testing.T) {
	srv, cfg := newTestServer(t)

	rec := httptest.NewRecorder()
	req := uploadRequest(t, "/api/import", "finr150_titulos.txt", financialUpload)
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/reconcile", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec,
		httptest.NewRequest(http.MethodPost, "/api/export?view=fornecedores", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	name := decode(t, rec)["file"].(string)
	require.NotEmpty(t, name)
	_, err := os.Stat(filepath.Join(cfg.ResultsDir, name))
	require.NoError(t, err)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/reports/"+name, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), name)
}

func TestHandleReportsUnknownFile(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec,
		httptest.NewRequest(http.MethodGet, "/api/reports/nao-existe.xlsx", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/reports/", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/run", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
