package httputil

import (
	"encoding/json"

	"github.com/valyala/fasthttp"
)

// ErrorBody is the JSON shape of every error returned by the data endpoints.
type ErrorBody struct {
	Error string `json:"error"`
}

// WriteJSON serializes v as the response body.
func WriteJSON(ctx *fasthttp.RequestCtx, statusCode int, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		statusCode = fasthttp.StatusInternalServerError
		body = []byte(`{"error":"failed to encode response"}`)
	}
	ctx.SetStatusCode(statusCode)
	ctx.SetContentType("application/json; charset=utf-8")
	ctx.SetBody(body)
}

// JSONError writes {"error": message}.
func JSONError(ctx *fasthttp.RequestCtx, message string, statusCode int) {
	WriteJSON(ctx, statusCode, ErrorBody{Error: message})
}

// WritePNG writes image bytes. An empty payload is still a 200 image/png
// response, display clients cannot show anything else.
func WritePNG(ctx *fasthttp.RequestCtx, image []byte) {
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetContentType("image/png")
	ctx.Response.Header.Set("Cache-Control", "no-store")
	ctx.SetBody(image)
}
