package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/roach88/strand/internal/def"
)

// KV is the shared key/value collaborator. *store.Store satisfies it.
type KV interface {
	KVGet(ctx context.Context, storeName, key string) (any, bool, error)
	KVSet(ctx context.Context, storeName, key string, value any) error
}

// Env carries the collaborators executors reach out to. All fields are
// required; NewWorker fills defaults.
type Env struct {
	HTTP   *http.Client
	KV     KV
	Mailer Mailer
}

// Execute runs the executor for one leaf node. References in props are
// resolved against the scoped blackboard before the type-specific
// handler sees them. attempt is the step's current attempt count, now is
// the scheduler's clock reading.
//
// Executors never write instance or step rows: the worker persists the
// blackboard and the step outcome from the returned StepResult. Their
// only outside effects go through env (HTTP, the KV store, the mailer).
func Execute(ctx context.Context, env Env, node *def.Node, bb map[string]any, attempt int, now time.Time) StepResult {
	props := def.ResolveProps(node.Props, bb)
	switch node.Type {
	case def.TypeHitEndpoint:
		return execHitEndpoint(ctx, env, props)
	case def.TypeSleep:
		return execSleep(props, now)
	case def.TypeSendEmail:
		return execSendEmail(ctx, env, props)
	case def.TypeKVGet:
		return execKVGet(ctx, env, props)
	case def.TypeKVSet:
		return execKVSet(ctx, env, props)
	case def.TypeFailFor:
		return execFailFor(props, attempt)
	default:
		// The tree was validated at ingest; reaching this means the
		// ingester and runtime disagree about the definition.
		return Failf("unknown node type %q", node.Type)
	}
}

// execHitEndpoint issues an HTTP request and writes the response shape
// { status, statusText, headers, body } at assignTo. Any HTTP response,
// 2xx or not, is a success; only transport failure or timeout fails the
// step. The body is JSON-parsed when possible, raw text otherwise.
func execHitEndpoint(ctx context.Context, env Env, props map[string]any) StepResult {
	url, ok := props["url"].(string)
	if !ok || url == "" {
		return Failf("hitendpoint: url did not resolve to a string")
	}
	method, _ := props["method"].(string)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	contentType := ""
	if raw, ok := props["body"]; ok && !def.IsUndefined(raw) && raw != nil {
		switch v := raw.(type) {
		case string:
			body = strings.NewReader(v)
		default:
			data, err := json.Marshal(v)
			if err != nil {
				return Failf("hitendpoint: encode body: %v", err)
			}
			body = bytes.NewReader(data)
			contentType = "application/json"
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return Failf("hitendpoint: build request: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if headers, ok := props["headers"].(map[string]any); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
	}

	resp, err := env.HTTP.Do(req)
	if err != nil {
		return Failf("hitendpoint: %s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Failf("hitendpoint: read response: %v", err)
	}

	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		parsed = string(raw)
	}

	respHeaders := make(map[string]any, len(resp.Header))
	for k := range resp.Header {
		respHeaders[k] = resp.Header.Get(k)
	}

	response := map[string]any{
		"status":     resp.StatusCode,
		"statusText": http.StatusText(resp.StatusCode),
		"headers":    respHeaders,
		"body":       parsed,
	}

	assignTo, ok := props["assignTo"].(string)
	if !ok || assignTo == "" {
		return Failf("hitendpoint: assignTo did not resolve to a string")
	}
	return SuccessOutput(response, def.SetPatch(assignTo, response))
}

// execSleep returns a wait with deadline now + seconds. The wait is the
// durable commitment; the elapsed time is the store's concern.
func execSleep(props map[string]any, now time.Time) StepResult {
	secs, ok := asNumber(props["seconds"])
	if !ok || secs < 0 {
		return Failf("sleep: seconds did not resolve to a non-negative number")
	}
	return Wait(now.Add(time.Duration(secs * float64(time.Second))))
}

// execSendEmail resolves the recipient fields to strings and hands the
// record to the mailer. Unresolvable references become empty strings.
func execSendEmail(ctx context.Context, env Env, props map[string]any) StepResult {
	email := Email{
		To:      stringify(props["to"]),
		Subject: stringify(props["subject"]),
		Body:    stringify(props["body"]),
	}
	if err := env.Mailer.Send(ctx, email); err != nil {
		return Failf("sendemail: %v", err)
	}
	return Success()
}

func execKVGet(ctx context.Context, env Env, props map[string]any) StepResult {
	storeName, ok := props["store"].(string)
	if !ok || storeName == "" {
		return Failf("kvget: store did not resolve to a string")
	}
	key := stringify(props["key"])
	if key == "" {
		return Failf("kvget: key did not resolve to a string")
	}
	assignTo, ok := props["assignTo"].(string)
	if !ok || assignTo == "" {
		return Failf("kvget: assignTo did not resolve to a string")
	}

	value, found, err := env.KV.KVGet(ctx, storeName, key)
	if err != nil {
		return Failf("kvget: %s/%s: %v", storeName, key, err)
	}
	if !found {
		// Absent key assigns the undefined sentinel, which the patch
		// algebra stores as absence.
		return Success(def.SetPatch(assignTo, def.Undefined))
	}
	return SuccessOutput(value, def.SetPatch(assignTo, value))
}

func execKVSet(ctx context.Context, env Env, props map[string]any) StepResult {
	storeName, ok := props["store"].(string)
	if !ok || storeName == "" {
		return Failf("kvset: store did not resolve to a string")
	}
	key := stringify(props["key"])
	if key == "" {
		return Failf("kvset: key did not resolve to a string")
	}
	value := props["value"]
	if def.IsUndefined(value) {
		value = nil
	}
	if err := env.KV.KVSet(ctx, storeName, key, value); err != nil {
		return Failf("kvset: %s/%s: %v", storeName, key, err)
	}
	return Success()
}

// execFailFor fails while attempt <= times, then succeeds. The attempt
// count comes from the scheduler, so the node itself stays stateless.
func execFailFor(props map[string]any, attempt int) StepResult {
	times, ok := asNumber(props["times"])
	if !ok || times < 0 {
		return Failf("failfor: times did not resolve to a non-negative integer")
	}
	if attempt <= int(times) {
		return Failf("synthetic failure %d of %d", attempt, int(times))
	}
	return Success()
}

// asNumber coerces the numeric shapes JSON decoding produces.
func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// stringify renders a resolved prop as a string. Undefined and nil
// become empty; non-strings render through fmt.
func stringify(v any) string {
	if v == nil || def.IsUndefined(v) {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
