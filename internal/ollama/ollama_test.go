package ollama

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lehigh-university-libraries/herbarium/internal/providers"
)

const generateURL = "http://ollama.test/api/generate"

func newMocked(t *testing.T) *Ollama {
	t.Helper()
	t.Setenv("OLLAMA_URL", "http://ollama.test")
	o := New("llava")
	httpmock.ActivateNonDefault(o.HTTPClient)
	t.Cleanup(httpmock.DeactivateAndReset)
	return o
}

func leaf() providers.Image {
	return providers.Image{Name: "leaf.jpg", Data: []byte("\xff\xd8\xff fake jpeg")}
}

func TestNew(t *testing.T) {
	t.Setenv("OLLAMA_URL", "")
	t.Setenv("OLLAMA_MODEL", "")
	o := New("")
	assert.Equal(t, DefaultURL, o.URL)
	assert.Equal(t, DefaultModel, o.Model)

	t.Setenv("OLLAMA_MODEL", "llama3.2-vision")
	assert.Equal(t, "llama3.2-vision", New("").Model)
	assert.Equal(t, "explicit", New("explicit").Model)
}

func TestIdentify_Success(t *testing.T) {
	o := newMocked(t)

	httpmock.RegisterResponder("POST", generateURL,
		func(req *http.Request) (*http.Response, error) {
			var body generateRequest
			require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
			assert.Equal(t, "llava", body.Model)
			assert.Equal(t, "json", body.Format)
			assert.False(t, body.Stream)
			require.Len(t, body.Images, 1)
			assert.Equal(t, base64.StdEncoding.EncodeToString(leaf().Data), body.Images[0])

			answer := `{"results":[{"species":{"commonNames":["Basil"],"scientificNameWithoutAuthor":"Ocimum basilicum","family":{"scientificNameWithoutAuthor":"Lamiaceae"}},"score":0.8}]}`
			return httpmock.NewJsonResponse(200, map[string]any{"response": answer, "done": true})
		})

	result, err := o.Identify(context.Background(), leaf())
	require.NoError(t, err)
	assert.Equal(t, "Basil", result.CommonName)
	assert.Equal(t, "Ocimum basilicum", result.ScientificName)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestIdentify_Failures(t *testing.T) {
	tests := []struct {
		name      string
		responder httpmock.Responder
		sentinel  error
	}{
		{
			name:      "model not found",
			responder: httpmock.NewStringResponder(404, `{"error":"model 'llava' not found"}`),
			sentinel:  providers.ErrServiceReported,
		},
		{
			name:      "not json",
			responder: httpmock.NewStringResponder(200, `<html>`),
			sentinel:  providers.ErrMalformedResponse,
		},
		{
			name:      "prose answer",
			responder: httpmock.NewStringResponder(200, `{"response":"That looks like basil."}`),
			sentinel:  providers.ErrMalformedResponse,
		},
		{
			name:      "no plant",
			responder: httpmock.NewStringResponder(200, `{"response":"{\"results\":[]}"}`),
			sentinel:  providers.ErrNoMatch,
		},
		{
			name:      "connection refused",
			responder: httpmock.NewErrorResponder(errors.New("connection refused")),
			sentinel:  providers.ErrNetwork,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newMocked(t)
			httpmock.RegisterResponder("POST", generateURL, tt.responder)

			_, err := o.Identify(context.Background(), leaf())
			assert.ErrorIs(t, err, tt.sentinel)
		})
	}
}

func TestIdentify_ServiceMessage(t *testing.T) {
	o := newMocked(t)
	httpmock.RegisterResponder("POST", generateURL,
		httpmock.NewStringResponder(500, `{"error":"out of memory"}`))

	_, err := o.Identify(context.Background(), leaf())
	var failure *providers.Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, "out of memory", failure.UserMessage())
}
