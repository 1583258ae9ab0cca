package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/resale-ledger/api/responses"
	pkgerrors "github.com/angelmondragon/resale-ledger/pkg/errors"
	"github.com/angelmondragon/resale-ledger/pkg/logger"
	pkgredis "github.com/angelmondragon/resale-ledger/pkg/redis"
)

const (
	idempotencyHeader = "Idempotency-Key"

	defaultIdempotencyTTL  = 24 * time.Hour
	criticalIdempotencyTTL = 7 * 24 * time.Hour
	// inFlightTTL bounds how long a crashed request keeps its key claimed.
	inFlightTTL = 2 * time.Minute
)

type idempotentRoute struct {
	method   string
	segments []string
	ttl      time.Duration
}

func route(method, template string, ttl time.Duration) idempotentRoute {
	return idempotentRoute{method: method, segments: splitPath(template), ttl: ttl}
}

// idempotentRoutes lists every mutation that must not run twice for one key.
// Stock movements and money keep their keys for a week.
var idempotentRoutes = []idempotentRoute{
	route(http.MethodPost, "/api/v1/inventory/purchases", criticalIdempotencyTTL),
	route(http.MethodPost, "/api/v1/inventory/{inventoryId}/sales", criticalIdempotencyTTL),
	route(http.MethodPost, "/api/v1/checkout/folders/{folderId}/items", criticalIdempotencyTTL),
	route(http.MethodPost, "/api/v1/checkout/items/{itemId}/return", criticalIdempotencyTTL),
	route(http.MethodPost, "/api/v1/checkout/items/{itemId}/sell", criticalIdempotencyTTL),
	route(http.MethodPost, "/api/v1/checkout/items/{itemId}/convert", criticalIdempotencyTTL),
	route(http.MethodPost, "/api/v1/checkout/items/{itemId}/undo", criticalIdempotencyTTL),

	route(http.MethodPost, "/api/v1/checkout/folders", defaultIdempotencyTTL),
	route(http.MethodPost, "/api/v1/checkout/folders/{folderId}/close", defaultIdempotencyTTL),
	route(http.MethodPost, "/api/v1/checkout/folders/{folderId}/reopen", defaultIdempotencyTTL),
	route(http.MethodPost, "/api/v1/inventory/{inventoryId}/reconcile", defaultIdempotencyTTL),
	route(http.MethodPut, "/api/v1/inventory/{inventoryId}/market-price", defaultIdempotencyTTL),
	route(http.MethodPatch, "/api/v1/ledger/{entryId}", defaultIdempotencyTTL),
}

// idempotencyRecord is stored under the key. A record with Pending set is a
// claim by a request that has not finished yet.
type idempotencyRecord struct {
	Pending     bool              `json:"pending,omitempty"`
	Status      int               `json:"status,omitempty"`
	Body        string            `json:"body,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	RequestHash string            `json:"request_hash"`
}

// Idempotency replays the first response recorded for an Idempotency-Key.
// The key is claimed before the handler runs, so a concurrent duplicate is
// rejected instead of executing twice. Server errors release the claim.
func Idempotency(store pkgredis.IdempotencyStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ttl, ok := routeTTL(r.Method, r.URL.Path)
			if !ok || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()

			idempotencyKey := strings.TrimSpace(r.Header.Get(idempotencyHeader))
			if idempotencyKey == "" {
				responses.WriteError(ctx, logg, w, pkgerrors.Invalid("Idempotency-Key header required", nil))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body").WithReason(pkgerrors.ReasonInvalidInput))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			requestHash := hashBody(body)
			key := store.IdempotencyKey(r.Method+"|"+r.URL.Path, idempotencyKey)

			claim, err := encodeRecord(idempotencyRecord{Pending: true, RequestHash: requestHash})
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode idempotency claim"))
				return
			}
			claimed, err := store.SetNX(ctx, key, claim, inFlightTTL)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim idempotency key"))
				return
			}
			if !claimed {
				replayExisting(ctx, logg, w, store, key, requestHash)
				return
			}

			rec := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			// The response is already on the wire; a cancelled request must not
			// leave the claim behind.
			persistCtx := context.WithoutCancel(ctx)
			status := defaultStatus(rec.status)
			if status >= http.StatusInternalServerError {
				if err := store.Del(persistCtx, key); err != nil {
					logError(persistCtx, logg, "release idempotency key", err)
				}
				return
			}

			final := idempotencyRecord{
				Status:      status,
				Body:        base64.StdEncoding.EncodeToString(rec.body.Bytes()),
				RequestHash: requestHash,
			}
			if ct := rec.Header().Get("Content-Type"); ct != "" {
				final.Headers = map[string]string{"Content-Type": ct}
			}
			payload, err := encodeRecord(final)
			if err != nil {
				logError(persistCtx, logg, "encode idempotency record", err)
				return
			}
			if err := store.Set(persistCtx, key, payload, ttl); err != nil {
				logError(persistCtx, logg, "persist idempotency record", err)
			}
		})
	}
}

func replayExisting(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, store pkgredis.IdempotencyStore, key, requestHash string) {
	stored, err := store.Get(ctx, key)
	if errors.Is(err, redis.Nil) {
		// The claim expired between SetNX and Get.
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key is being released, retry the request"))
		return
	}
	if err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
		return
	}
	var record idempotencyRecord
	if err := json.Unmarshal([]byte(stored), &record); err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record"))
		return
	}
	if record.RequestHash != requestHash {
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
		return
	}
	if record.Pending {
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "a request with this idempotency key is still in progress"))
		return
	}
	if ct := record.Headers["Content-Type"]; ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set(replayedHeader, "true")
	w.WriteHeader(record.Status)
	if decoded, err := base64.StdEncoding.DecodeString(record.Body); err == nil {
		_, _ = w.Write(decoded)
	}
}

func encodeRecord(record idempotencyRecord) (string, error) {
	payload, err := json.Marshal(record)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

func hashBody(payload []byte) string {
	sum := sha256.Sum256(payload)
	return base64.StdEncoding.EncodeToString(sum[:])
}

func defaultStatus(value int) int {
	if value == 0 {
		return http.StatusOK
	}
	return value
}

// routeTTL matches the request path against the route templates. A {param}
// segment matches any single non-empty segment.
func routeTTL(method, path string) (time.Duration, bool) {
	segments := splitPath(path)
	for _, candidate := range idempotentRoutes {
		if candidate.method == method && matchSegments(candidate.segments, segments) {
			return candidate.ttl, true
		}
	}
	return 0, false
}

func matchSegments(template, path []string) bool {
	if len(template) != len(path) {
		return false
	}
	for i, part := range template {
		if strings.HasPrefix(part, "{") && strings.HasSuffix(part, "}") {
			if path[i] == "" {
				return false
			}
			continue
		}
		if part != path[i] {
			return false
		}
	}
	return true
}

func splitPath(path string) []string {
	return strings.Split(strings.Trim(path, "/"), "/")
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (r *responseCapture) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseCapture) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func logError(ctx context.Context, logg *logger.Logger, msg string, err error) {
	if logg == nil || err == nil {
		return
	}
	logg.Error(ctx, msg, err)
}
