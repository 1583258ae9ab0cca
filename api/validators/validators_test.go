package validators

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/resale-ledger/pkg/errors"
)

type sampleBody struct {
	Quantity  int    `json:"quantity" validate:"required,gt=0"`
	Condition string `json:"condition" validate:"required,max=8"`
}

func TestDecodeJSONBodyReportsFieldsByJSONName(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"quantity":0,"condition":"refurbished"}`))

	var body sampleBody
	err := DecodeJSONBody(req, &body)
	require.Error(t, err)

	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
	assert.Equal(t, pkgerrors.ReasonInvalidInput, typed.Reason())
	details, ok := typed.Details().(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "is required", details["quantity"])
	assert.Equal(t, "must be at most 8", details["condition"])
}

func TestDecodeJSONBodyRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"quantity":1,"condition":"new","price":3}`))

	var body sampleBody
	err := DecodeJSONBody(req, &body)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
}

func TestDecodeJSONBodyAcceptsValidPayload(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"quantity":3,"condition":"used"}`))

	var body sampleBody
	require.NoError(t, DecodeJSONBody(req, &body))
	assert.Equal(t, sampleBody{Quantity: 3, Condition: "used"}, body)
}

func TestParseQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=20&offset=abc&big=900", nil)

	limit, err := ParseQueryInt(req, "limit", 50, 1, 500)
	require.NoError(t, err)
	assert.Equal(t, 20, limit)

	missing, err := ParseQueryInt(req, "page", 7, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 7, missing)

	_, err = ParseQueryInt(req, "offset", 0, 0, 100)
	assert.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonInvalidInput))

	_, err = ParseQueryInt(req, "big", 0, 0, 500)
	assert.Error(t, err)
}

func TestParseUUIDParam(t *testing.T) {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("inventoryId", "not-a-uuid")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	_, err := ParseUUIDParam(req, "inventoryId")
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
}

func TestParseOptionalTime(t *testing.T) {
	blank := "  "
	got, err := ParseOptionalTime(&blank, "date")
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	raw := "2026-02-01T10:00:00+02:00"
	got, err = ParseOptionalTime(&raw, "date")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC), got)

	bad := "yesterday"
	_, err = ParseOptionalTime(&bad, "date")
	assert.Error(t, err)
}

func TestSanitizeOptional(t *testing.T) {
	assert.Nil(t, SanitizeOptional(nil, 10))

	blank := "   "
	assert.Nil(t, SanitizeOptional(&blank, 10))

	long := "  box with manual  "
	got := SanitizeOptional(&long, 8)
	require.NotNil(t, got)
	assert.Equal(t, "box with", *got)
}

type conditionBody struct {
	Condition string `json:"condition" validate:"required,condition"`
	Quantity  int    `json:"quantity"`
}

func decodeDetails(t *testing.T, body string, dest any) (string, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	err := DecodeJSONBody(req, dest)
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
	details, _ := typed.Details().(map[string]any)
	return typed.Message(), details
}

func TestDecodeJSONBodyDecodeFailures(t *testing.T) {
	msg, _ := decodeDetails(t, ``, &conditionBody{})
	assert.Equal(t, "request body is empty", msg)

	msg, _ = decodeDetails(t, `{"condition":"new"} {"condition":"used"}`, &conditionBody{})
	assert.Equal(t, "request body must contain a single JSON object", msg)

	msg, _ = decodeDetails(t, `{"condition":`, &conditionBody{})
	assert.Equal(t, "malformed JSON body", msg)

	_, details := decodeDetails(t, `{"condition":"new","quantity":"three"}`, &conditionBody{})
	assert.Equal(t, "must be an integer", details["quantity"])

	_, details = decodeDetails(t, `{"condition":"new","colour":"red"}`, &conditionBody{})
	assert.Equal(t, "is not allowed", details["colour"])
}

func TestDecodeJSONBodyConditionTag(t *testing.T) {
	_, details := decodeDetails(t, `{"condition":"   "}`, &conditionBody{})
	assert.Contains(t, details["condition"], "non-blank")

	_, details = decodeDetails(t, `{"condition":"`+strings.Repeat("x", maxConditionLen+1)+`"}`, &conditionBody{})
	assert.Contains(t, details["condition"], "non-blank")

	var ok conditionBody
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"condition":"like new"}`))
	require.NoError(t, DecodeJSONBody(req, &ok))
	assert.Equal(t, "like new", ok.Condition)
}

func TestDecodeJSONBodyRejectsOversizedBody(t *testing.T) {
	payload := `{"condition":"` + strings.Repeat("a", MaxBodyBytes) + `"}`
	msg, details := decodeDetails(t, payload, &conditionBody{})
	assert.Equal(t, "request body too large", msg)
	assert.EqualValues(t, MaxBodyBytes, details["limit_bytes"])
}
