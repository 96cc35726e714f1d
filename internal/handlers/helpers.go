package handlers

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	xhttp "github.com/nimasrn/courier-dispatch/pkg/http"
)

func readJSON(ctx *xhttp.RequestCtx, dst any) error {
	body := ctx.PostBody()
	return json.Unmarshal(body, dst)
}

// readOptionalJSON accepts an empty body and leaves dst untouched.
func readOptionalJSON(ctx *xhttp.RequestCtx, dst any) error {
	if len(ctx.PostBody()) == 0 {
		return nil
	}
	return readJSON(ctx, dst)
}

func writeJSON(ctx *xhttp.RequestCtx, status int, v any) {
	b, _ := json.Marshal(v)
	ctx.Response.Header.Set("Content-Type", "application/json; charset=utf-8")
	ctx.Response.SetStatusCode(status)
	ctx.Response.SetBodyRaw(b)
}

func writeError(ctx *xhttp.RequestCtx, status int, msg string) {
	writeJSON(ctx, status, map[string]string{"error": msg})
}

// pathInt64 reads a positive id from the route parameters.
func pathInt64(ctx *xhttp.RequestCtx, name string) (int64, error) {
	v, _ := ctx.UserValue(name).(string)
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return id, nil
}

func query(ctx *xhttp.RequestCtx, key string) string {
	return string(ctx.QueryArgs().Peek(key))
}

func queryInt(ctx *xhttp.RequestCtx, key string) int {
	if v := query(ctx, key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 0
}

// zone-less layouts accepted next to RFC3339
var localLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// parseTime reads s in loc unless it carries its own offset.
func parseTime(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}

// requestTime is a timestamp in a request body. The raw text is kept so a
// zone-less value can be resolved in the handler's location.
type requestTime struct {
	raw string
}

func (t *requestTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("invalid date: %s", b)
	}
	if s == "" {
		return nil
	}
	if _, err := parseTime(s, time.UTC); err != nil {
		return err
	}
	t.raw = s
	return nil
}

// In resolves the timestamp. A missing or empty value gives nil.
func (t *requestTime) In(loc *time.Location) *time.Time {
	if t == nil || t.raw == "" {
		return nil
	}
	v, _ := parseTime(t.raw, loc)
	return &v
}
