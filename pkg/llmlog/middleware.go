package llmlog

import (
	"bytes"
	"io"
	"net/http"

	"github.com/openai/openai-go/v3/option"
)

// Middleware records every exchange made through an openai-go client under
// the tag carried by the request context, or fallback.
func Middleware(rec Recorder, fallback string) option.Middleware {
	return func(req *http.Request, next option.MiddlewareNext) (*http.Response, error) {
		tag := Tag(req.Context(), fallback)

		var reqBody []byte
		if req.Body != nil {
			reqBody, _ = io.ReadAll(req.Body)
			_ = req.Body.Close()
			req.Body = io.NopCloser(bytes.NewReader(reqBody))
		}

		resp, err := next(req)
		if err != nil {
			rec.Record(tag, string(reqBody), "ERROR: "+err.Error())
			return resp, err
		}

		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		resp.Body = io.NopCloser(bytes.NewReader(respBody))
		if readErr != nil {
			rec.Record(tag, string(reqBody), "ERROR: "+readErr.Error())
			return resp, nil
		}
		rec.Record(tag, string(reqBody), string(respBody))
		return resp, nil
	}
}
